package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotInsertAndExists(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "snapshot.db")
	snap, err := OpenSnapshot(dsn, 2)
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, snap.Insert("textures/a.dds", "pkg"))
	require.NoError(t, snap.Insert("textures/b.dds", "pkg"))
	require.NoError(t, snap.Insert("textures/c.dds", "pkg"))
	require.NoError(t, snap.Close())

	reopened, err := OpenSnapshot(dsn, 2)
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.Exists("textures/a.dds")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reopened.Exists("textures/missing.dds")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFromIndexPopulatesSnapshot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "x")

	idx, err := Build([]Source{{Name: "pkg", Root: root}})
	require.NoError(t, err)

	dsn := filepath.Join(t.TempDir(), "snapshot.db")
	snap, err := OpenSnapshot(dsn, 100)
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, FromIndex(idx, snap))
	require.NoError(t, snap.Close())

	reopened, err := OpenSnapshot(dsn, 100)
	require.NoError(t, err)
	defer reopened.Close()

	ok, err := reopened.Exists("a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}
