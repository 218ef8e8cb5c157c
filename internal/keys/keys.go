// Package keys turns the master password into the session's encryption
// keys. One Argon2id stretch produces a base key; the database and
// archive keys are expanded from it with domain-separated labels so that
// compromise of one never reveals the other or the password.
package keys

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// ErrAuthentication is returned when the derived key does not match the
// stored verifier, i.e. the master password is wrong.
var ErrAuthentication = errors.New("wrong master password")

const (
	saltLen = 32
	keyLen  = 32

	labelDatabase = "budgy/db"
	labelArchive  = "budgy/archive"
)

// verifierInput is the known constant whose keyed hash is stored next to
// the salt. The constant is public; the MAC key is not.
var verifierInput = []byte("budgy key verification v1")

// Params are Argon2id cost parameters. The defaults match the original
// installation profile: ~1-2s on commodity hardware, 64MiB memory.
type Params struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory_kib"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultParams is the minimum recommended cost.
var DefaultParams = Params{Time: 3, MemoryKiB: 64 * 1024, Parallelism: 1}

// EncryptionContext holds the session keys. It lives only in memory and
// must be zeroed via Zero when the session ends. Never logged.
type EncryptionContext struct {
	DatabaseKey []byte
	ArchiveKey  []byte
	Salt        []byte
}

// Zero wipes the key material. The context is unusable afterwards.
func (c *EncryptionContext) Zero() {
	for i := range c.DatabaseKey {
		c.DatabaseKey[i] = 0
	}
	for i := range c.ArchiveKey {
		c.ArchiveKey[i] = 0
	}
	c.DatabaseKey = nil
	c.ArchiveKey = nil
}

// DatabaseKeyHex renders the database key the way SQLCipher wants it in a
// raw-key pragma.
func (c *EncryptionContext) DatabaseKeyHex() string {
	return fmt.Sprintf("%x", c.DatabaseKey)
}

// Derive stretches password with Argon2id over salt and expands the two
// sub-keys. It is deliberately slow and runs once per session.
func Derive(password string, salt []byte, p Params) (*EncryptionContext, error) {
	if len(salt) < 16 {
		return nil, fmt.Errorf("salt too short: %d bytes", len(salt))
	}
	if p.Time == 0 || p.MemoryKiB == 0 || p.Parallelism == 0 {
		return nil, errors.New("argon2 cost parameters must be non-zero")
	}
	base := argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKiB, p.Parallelism, keyLen)
	defer func() {
		for i := range base {
			base[i] = 0
		}
	}()

	dbKey, err := expand(base, salt, labelDatabase)
	if err != nil {
		return nil, err
	}
	arKey, err := expand(base, salt, labelArchive)
	if err != nil {
		return nil, err
	}
	return &EncryptionContext{DatabaseKey: dbKey, ArchiveKey: arKey, Salt: salt}, nil
}

func expand(base, salt []byte, label string) ([]byte, error) {
	out := make([]byte, keyLen)
	r := hkdf.New(sha256.New, base, salt, []byte(label))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("expand %s key: %w", label, err)
	}
	return out, nil
}

// saltFile is the non-secret sidecar persisted next to the database.
// Salts are not secret; the verifier lets us reject a wrong password
// before touching the database at all.
type saltFile struct {
	Salt     string `json:"salt"`
	Verifier string `json:"verifier"`
	Params   Params `json:"params"`
}

// Setup generates a fresh salt, derives the session keys and writes the
// sidecar file. It refuses to overwrite an existing sidecar.
func Setup(path, password string, p Params) (*EncryptionContext, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("salt file already exists: %s", path)
	}
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	ec, err := Derive(password, salt, p)
	if err != nil {
		return nil, err
	}
	sf := saltFile{
		Salt:     base64.StdEncoding.EncodeToString(salt),
		Verifier: base64.StdEncoding.EncodeToString(verifier(ec.DatabaseKey)),
		Params:   p,
	}
	if err := save(path, sf); err != nil {
		ec.Zero()
		return nil, err
	}
	return ec, nil
}

// Load reads the sidecar, re-derives the keys with the stored parameters
// and checks the verifier. A mismatch means a wrong password and fails
// with ErrAuthentication before any database access.
func Load(path, password string) (*EncryptionContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read salt file: %w", err)
	}
	var sf saltFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse salt file: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(sf.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.StdEncoding.DecodeString(sf.Verifier)
	if err != nil {
		return nil, fmt.Errorf("decode verifier: %w", err)
	}
	ec, err := Derive(password, salt, sf.Params)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(verifier(ec.DatabaseKey), want) != 1 {
		ec.Zero()
		return nil, ErrAuthentication
	}
	return ec, nil
}

// Exists reports whether a sidecar file is already present, i.e. the
// installation has been initialized.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func verifier(dbKey []byte) []byte {
	mac := hmac.New(sha256.New, dbKey)
	mac.Write(verifierInput)
	return mac.Sum(nil)
}

func save(path string, sf saltFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
