package keys

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testParams keeps derivation fast in tests; production uses DefaultParams.
var testParams = Params{Time: 1, MemoryKiB: 8 * 1024, Parallelism: 1}

func TestDerive_DeterministicAndSeparated(t *testing.T) {
	t.Parallel()

	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(i)
	}

	a, err := Derive("correct horse", salt, testParams)
	require.NoError(t, err)
	b, err := Derive("correct horse", salt, testParams)
	require.NoError(t, err)

	require.Equal(t, a.DatabaseKey, b.DatabaseKey)
	require.Equal(t, a.ArchiveKey, b.ArchiveKey)
	require.NotEqual(t, a.DatabaseKey, a.ArchiveKey, "db and archive keys must be independent")
	require.Len(t, a.DatabaseKey, 32)
	require.Len(t, a.ArchiveKey, 32)

	c, err := Derive("wrong horse", salt, testParams)
	require.NoError(t, err)
	require.NotEqual(t, a.DatabaseKey, c.DatabaseKey)
}

func TestDerive_RejectsBadInputs(t *testing.T) {
	t.Parallel()

	_, err := Derive("pw", []byte("short"), testParams)
	require.Error(t, err)

	_, err = Derive("pw", make([]byte, 32), Params{})
	require.Error(t, err)
}

func TestSetupAndLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "budgy.salt.json")
	require.False(t, Exists(path))

	ec, err := Setup(path, "master password", testParams)
	require.NoError(t, err)
	require.True(t, Exists(path))

	loaded, err := Load(path, "master password")
	require.NoError(t, err)
	require.Equal(t, ec.DatabaseKey, loaded.DatabaseKey)
	require.Equal(t, ec.ArchiveKey, loaded.ArchiveKey)

	// second Setup on the same path must refuse to clobber the salt
	_, err = Setup(path, "master password", testParams)
	require.Error(t, err)
}

func TestLoad_WrongPassword(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "budgy.salt.json")
	_, err := Setup(path, "master password", testParams)
	require.NoError(t, err)

	_, err = Load(path, "not the password")
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestZero(t *testing.T) {
	t.Parallel()

	salt := make([]byte, 32)
	ec, err := Derive("pw", salt, testParams)
	require.NoError(t, err)
	ec.Zero()
	require.Nil(t, ec.DatabaseKey)
	require.Nil(t, ec.ArchiveKey)
}
