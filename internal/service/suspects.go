package service

import (
	"context"
	"math"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/PapaMarky/retirement-planning-v2/internal/database/repository"
)

const (
	suspectNameSimilarity = 0.8
	suspectMaxDayGap      = 3
)

// SuspectService reports near-duplicate pairs that content-identity
// dedup cannot catch, e.g. the same purchase appearing on two accounts
// or re-exported with a reworded description. Read-only: flagged pairs
// are for the user to review, never auto-merged.
type SuspectService struct {
	Transactions *repository.TransactionRepo
}

// SuspectPair is one candidate duplicate with its name similarity score.
type SuspectPair struct {
	A          repository.Transaction
	B          repository.Transaction
	Similarity float64
}

// Report scans transactions in the filter scope and pairs rows with the
// same amount, posted within a few days, whose names are nearly equal.
func (s *SuspectService) Report(ctx context.Context, f repository.TransactionFilters) ([]SuspectPair, error) {
	txns, err := s.Transactions.List(ctx, f)
	if err != nil {
		return nil, err
	}

	// bucket by canonical amount so the pairwise pass stays small
	byAmount := map[string][]repository.Transaction{}
	for _, t := range txns {
		key := t.Amount.StringFixed(2)
		byAmount[key] = append(byAmount[key], t)
	}

	var out []SuspectPair
	for _, group := range byAmount {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				gap := math.Abs(a.Posted.Sub(b.Posted).Hours()) / 24
				if gap > suspectMaxDayGap {
					continue
				}
				sim := nameSimilarity(a.Name, b.Name)
				if sim < suspectNameSimilarity {
					continue
				}
				out = append(out, SuspectPair{A: a, B: b, Similarity: sim})
			}
		}
	}
	return out, nil
}

func nameSimilarity(a, b string) float64 {
	a = strings.ToUpper(strings.Join(strings.Fields(a), " "))
	b = strings.ToUpper(strings.Join(strings.Fields(b), " "))
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
