// Package archive encrypts imported statement files with the session's
// archive key and removes the plaintext originals. Archives carry the
// original filename and a content hash in authenticated plaintext
// metadata so they can be listed and integrity-checked without the key.
package archive

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrIntegrity means an archive failed authentication on decrypt: the
// file was tampered with or corrupted. The database is unaffected.
var ErrIntegrity = errors.New("archive integrity check failed")

var magic = []byte("BGA1")

const maxNameLen = 4096

// Encryptor writes and reads encrypted statement archives.
type Encryptor struct {
	key []byte
	dir string
}

// NewEncryptor returns an Encryptor writing under dir with the 32-byte
// archive key.
func NewEncryptor(key []byte, dir string) *Encryptor {
	return &Encryptor{key: key, dir: dir}
}

// Archive encrypts the file at srcPath into the archive directory,
// verifies the result by reading it back, then securely deletes the
// plaintext original. On any encryption failure the original is left
// untouched and the error surfaced.
func (e *Encryptor) Archive(srcPath string) (string, error) {
	plaintext, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	sum := sha256.Sum256(plaintext)

	if err := os.MkdirAll(e.dir, 0o700); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}
	name := filepath.Base(srcPath)
	outPath := filepath.Join(e.dir, name+".enc")
	if _, err := os.Stat(outPath); err == nil {
		// keep distinct imports of same-named files apart
		outPath = filepath.Join(e.dir, fmt.Sprintf("%s.%s.enc", name, hex.EncodeToString(sum[:4])))
	}

	blob, err := seal(e.key, name, sum[:], plaintext)
	if err != nil {
		return "", err
	}
	tmp := outPath + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}

	// verifying read-back before the plaintext goes away
	_, verify, err := e.Decrypt(outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("read-back verification: %w", err)
	}
	if !bytes.Equal(verify, plaintext) {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("read-back verification: %w", ErrIntegrity)
	}

	if err := SecureDelete(srcPath); err != nil {
		return "", fmt.Errorf("remove plaintext original: %w", err)
	}
	return outPath, nil
}

// Decrypt opens an archive, authenticates it and returns the original
// filename and content. Tamper or corruption yields ErrIntegrity.
func (e *Encryptor) Decrypt(path string) (string, []byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read archive: %w", err)
	}
	return open(e.key, blob)
}

// Archive layout: magic | uint16 name length | name | sha256(content) |
// nonce | ciphertext. Everything before the nonce is bound as AAD.
func seal(key []byte, name string, contentHash, plaintext []byte) ([]byte, error) {
	if len(name) > maxNameLen {
		return nil, fmt.Errorf("source filename too long: %d bytes", len(name))
	}
	header := make([]byte, 0, len(magic)+2+len(name)+sha256.Size)
	header = append(header, magic...)
	header = binary.BigEndian.AppendUint16(header, uint16(len(name)))
	header = append(header, name...)
	header = append(header, contentHash...)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := append(header, nonce...)
	return gcm.Seal(out, nonce, plaintext, header), nil
}

func open(key, blob []byte) (string, []byte, error) {
	if len(blob) < len(magic)+2 || !bytes.Equal(blob[:len(magic)], magic) {
		return "", nil, fmt.Errorf("%w: bad header", ErrIntegrity)
	}
	nameLen := int(binary.BigEndian.Uint16(blob[len(magic) : len(magic)+2]))
	headerLen := len(magic) + 2 + nameLen + sha256.Size
	if nameLen > maxNameLen || len(blob) < headerLen {
		return "", nil, fmt.Errorf("%w: truncated header", ErrIntegrity)
	}
	name := string(blob[len(magic)+2 : len(magic)+2+nameLen])
	contentHash := blob[len(magic)+2+nameLen : headerLen]
	header := blob[:headerLen]

	gcm, err := newGCM(key)
	if err != nil {
		return "", nil, err
	}
	if len(blob) < headerLen+gcm.NonceSize() {
		return "", nil, fmt.Errorf("%w: truncated nonce", ErrIntegrity)
	}
	nonce := blob[headerLen : headerLen+gcm.NonceSize()]
	body := blob[headerLen+gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, body, header)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	sum := sha256.Sum256(plaintext)
	if !bytes.Equal(sum[:], contentHash) {
		return "", nil, fmt.Errorf("%w: content hash mismatch", ErrIntegrity)
	}
	return name, plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("archive key: %w", err)
	}
	return cipher.NewGCM(block)
}

// ContentHash returns the hex sha256 of a file, used by the pending
// queue for cross-checking.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SecureDelete overwrites a file with random bytes, syncs and unlinks
// it. When the overwrite fails it falls back to a plain unlink: the
// guarantee is removal from the filesystem namespace, not erasure of
// device-level remnants.
func SecureDelete(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := overwrite(path, info.Size()); err == nil {
		return os.Remove(path)
	}
	return os.Remove(path)
}

func overwrite(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.CopyN(f, rand.Reader, size); err != nil {
		return err
	}
	return f.Sync()
}
