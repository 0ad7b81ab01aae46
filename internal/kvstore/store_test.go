package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "abc", "one"))
	require.NoError(t, store.Set(ctx, "abc", "two"))

	got, ok, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "two", got)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "authz.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "key", `{"signature":"0x01"}`))

	_, err = os.Stat(path)
	require.NoError(t, err, "expected file on disk")

	store2, err := NewFileStore(path)
	require.NoError(t, err)

	got, ok, err := store2.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"signature":"0x01"}`, got)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authz.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path)
	require.Error(t, err)
}

func TestFileStoreSetFailureKeepsPreviousValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authz.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "key", "old"))

	// a directory in the temp file's place makes every write fail
	require.NoError(t, os.Mkdir(path+".tmp", 0o700))

	require.Error(t, store.Set(ctx, "key", "new"))
	got, ok, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "old", got)

	require.Error(t, store.Set(ctx, "other", "value"))
	_, ok, err = store.Get(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, _, err = reopened.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "old", got)
}
