package token

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	fs := NewFileStore(path)

	pair := &Pair{
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Millisecond),
		IssuedAt:     time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, fs.Save(pair))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := fs.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "A1", loaded.AccessToken)
	assert.Equal(t, "R1", loaded.RefreshToken)
	assert.True(t, loaded.ExpiresAt.Equal(pair.ExpiresAt))
}

func TestFileStoreLoadMissingFileIsEmptySession(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "absent.json"))
	pair, err := fs.Load()
	require.NoError(t, err)
	assert.Nil(t, pair)
}

func TestFileStoreLoadRejectsPartialRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"A1"}`), 0600))

	_, err := NewFileStore(path).Load()
	assert.Error(t, err, "a pair without a refresh token must be rejected")
}

func TestFileStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	fs := NewFileStore(path)
	require.NoError(t, fs.Save(&Pair{AccessToken: "A1", RefreshToken: "R1"}))

	require.NoError(t, fs.Clear())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Clearing again is not an error.
	assert.NoError(t, fs.Clear())
}

func TestEnvStoreReadsBootstrapPair(t *testing.T) {
	t.Setenv("AUTHLINK_ACCESS_TOKEN", "A1")
	t.Setenv("AUTHLINK_REFRESH_TOKEN", "R1")

	pair, err := NewEnvStore().Load()
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "A1", pair.AccessToken)
	assert.Equal(t, "R1", pair.RefreshToken)
}

func TestEnvStoreEmptyEnvironmentMeansNoSession(t *testing.T) {
	t.Setenv("AUTHLINK_ACCESS_TOKEN", "")
	t.Setenv("AUTHLINK_REFRESH_TOKEN", "")

	pair, err := NewEnvStore().Load()
	require.NoError(t, err)
	assert.Nil(t, pair)
}
