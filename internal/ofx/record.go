// Package ofx defines the normalized record shape produced by an external
// OFX statement parser. The parser itself is not part of this module; the
// ingest pipeline consumes these records and nothing else.
package ofx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account types carried on a statement.
const (
	TypeChecking = "checking"
	TypeCredit   = "credit"
)

// RawRecord is one transaction as it comes off the wire. Fields are kept
// as strings so that a record with a missing or malformed field can still
// be represented and reported instead of dropped upstream.
type RawRecord struct {
	Account  string
	Type     string
	Posted   string
	Amount   string
	Name     string
	Memo     string
	Checknum string
}

// postedLayouts are the timestamp shapes banks actually emit, most
// specific first.
var postedLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ValidationError reports a missing or malformed field on a single record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: field %q %s", e.Field, e.Reason)
}

// Normalize validates rec and returns its canonical form. Whitespace and
// casing differences across repeated exports from the same institution
// must not change the result.
func Normalize(rec RawRecord) (Record, error) {
	account := strings.ToUpper(strings.TrimSpace(rec.Account))
	if account == "" {
		return Record{}, &ValidationError{Field: "account", Reason: "is required"}
	}

	txnType := strings.ToLower(strings.TrimSpace(rec.Type))
	switch txnType {
	case TypeChecking, TypeCredit:
	case "":
		return Record{}, &ValidationError{Field: "type", Reason: "is required"}
	default:
		return Record{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("must be %q or %q", TypeChecking, TypeCredit)}
	}

	posted, err := parsePosted(rec.Posted)
	if err != nil {
		return Record{}, err
	}

	if strings.TrimSpace(rec.Amount) == "" {
		return Record{}, &ValidationError{Field: "amount", Reason: "is required"}
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(rec.Amount), ",", ""))
	if err != nil {
		return Record{}, &ValidationError{Field: "amount", Reason: "is not a decimal number"}
	}

	name := strings.TrimSpace(rec.Name)
	if name == "" {
		return Record{}, &ValidationError{Field: "name", Reason: "is required"}
	}

	return Record{
		Account:  account,
		Type:     txnType,
		Posted:   posted,
		Amount:   amount,
		Name:     name,
		Memo:     strings.TrimSpace(rec.Memo),
		Checknum: strings.TrimSpace(rec.Checknum),
	}, nil
}

func parsePosted(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &ValidationError{Field: "posted", Reason: "is required"}
	}
	for _, layout := range postedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ValidationError{Field: "posted", Reason: "is not a recognized timestamp"}
}

// Record is a validated, canonical transaction record.
type Record struct {
	Account  string
	Type     string
	Posted   time.Time
	Amount   decimal.Decimal
	Name     string
	Memo     string
	Checknum string
}

// FITID derives the stable identity used for deduplication: a hash of
// account, posted time, canonical amount and a content fingerprint of
// name and memo. Two records that differ only in superficial formatting
// hash to the same value.
func (r Record) FITID() string {
	parts := []string{
		r.Account,
		r.Posted.UTC().Format(time.RFC3339),
		CanonicalAmount(r.Amount),
		Fingerprint(r.Name),
		Fingerprint(r.Memo),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// CanonicalAmount renders an amount as a fixed-point string with two
// decimal places, the precision statements carry.
func CanonicalAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Fingerprint folds case and collapses internal whitespace so identity
// comparisons ignore cosmetic differences between exports. Two strings
// with equal fingerprints are the same content for dedup purposes.
func Fingerprint(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
