package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotLifecycle(t *testing.T) {
	store, err := NewArtifactStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)

	slot, err := store.Allocate(context.Background(), "a8net")
	require.NoError(t, err)

	path := filepath.Join(slot.Dir(), "5f1c-guid")
	require.NoError(t, os.WriteFile(path, []byte("id\n1\n"), 0o600))

	data, err := slot.ReadOnce(path)
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(data))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "artifact is deleted after reading")

	_, err = slot.ReadOnce(path)
	assert.Error(t, err)

	require.NoError(t, slot.Discard())
	require.NoError(t, slot.Discard())
	_, err = os.Stat(slot.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestSlotsAreDistinct(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	a, err := store.Allocate(context.Background(), "x")
	require.NoError(t, err)
	b, err := store.Allocate(context.Background(), "x")
	require.NoError(t, err)
	assert.NotEqual(t, a.Dir(), b.Dir())
}

func TestReadOnceRejectsForeignPath(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)
	slot, err := store.Allocate(context.Background(), "x")
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "other.csv")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))
	_, err = slot.ReadOnce(outside)
	assert.Error(t, err)
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}
