package vfs

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xearthlayer/xearthlayer/internal/cache"
	"github.com/xearthlayer/xearthlayer/internal/coord"
	"github.com/xearthlayer/xearthlayer/internal/dds"
	"github.com/xearthlayer/xearthlayer/internal/executor"
	"github.com/xearthlayer/xearthlayer/internal/index"
	"github.com/xearthlayer/xearthlayer/internal/orchestrator"
	"github.com/xearthlayer/xearthlayer/internal/pipeline"
	"github.com/xearthlayer/xearthlayer/internal/provider"
)

type fakeProvider struct{}

func (fakeProvider) IDTag() string                     { return "BI" }
func (fakeProvider) URLFor(r, c uint32, z uint8) string { return "fake-url" }
func (fakeProvider) MaxZoom() uint8                     { return 22 }
func (fakeProvider) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return []byte("not-a-real-image"), nil
}

func testConfig() pipeline.Config {
	return pipeline.Config{
		JobTimeout: time.Second,
		Retry:      orchestrator.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		FanOut:     64,
		Format:     dds.FormatBC1,
	}
}

func setupRealFile(t *testing.T) (root string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Earth nav data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Earth nav data", "apt.dat"), []byte("hello"), 0o644))
	return root
}

func buildTestFS(t *testing.T, root string) *FS {
	t.Helper()
	idx, err := index.Build([]index.Source{{Name: "base", Root: root}})
	require.NoError(t, err)

	c, err := cache.New(10, 1<<30, t.TempDir())
	require.NoError(t, err)
	exec := executor.New(executor.DefaultConfig())
	pipe := pipeline.New(c, exec, map[string]provider.Provider{"BI": fakeProvider{}}, testConfig())

	return New(idx, pipe, "bc1", zerolog.Nop())
}

func TestIsTexturesDir(t *testing.T) {
	assert.True(t, isTexturesDir("textures"))
	assert.True(t, isTexturesDir("TEXTURES"))
	assert.False(t, isTexturesDir("terrain"))
	assert.False(t, isTexturesDir(""))
}

func TestJoinRel(t *testing.T) {
	assert.Equal(t, "foo", joinRel("", "foo"))
	assert.Equal(t, "textures/foo", joinRel("textures", "foo"))
}

func TestDdsFormatSelectsByName(t *testing.T) {
	f := &FS{format: "bc3"}
	assert.Equal(t, dds.FormatBC3, f.ddsFormat())

	f = &FS{format: "bc1"}
	assert.Equal(t, dds.FormatBC1, f.ddsFormat())

	f = &FS{format: ""}
	assert.Equal(t, dds.FormatBC1, f.ddsFormat())
}

func TestLookupResolvesRealBackingFileToDirNode(t *testing.T) {
	root := setupRealFile(t)
	fsys := buildTestFS(t, root)

	top := &dirNode{fsys: fsys, relPath: ""}
	inode, errno := top.Lookup(context.Background(), "Earth nav data", &fuse.EntryOut{})
	require.Equal(t, syscall0, errno)
	require.NotNil(t, inode)

	sub, ok := inode.Operations().(*dirNode)
	require.True(t, ok)
	assert.Equal(t, "Earth nav data", sub.relPath)
}

func TestLookupOnUnknownNameReturnsENOENT(t *testing.T) {
	root := setupRealFile(t)
	fsys := buildTestFS(t, root)

	top := &dirNode{fsys: fsys, relPath: ""}
	_, errno := top.Lookup(context.Background(), "does-not-exist", &fuse.EntryOut{})
	assert.NotEqual(t, syscall0, errno)
}

func TestLookupUnderTexturesSynthesizesDDSNode(t *testing.T) {
	root := setupRealFile(t)
	fsys := buildTestFS(t, root)

	texDir := &dirNode{fsys: fsys, relPath: texturesDirName}
	inode, errno := texDir.Lookup(context.Background(), "100_200_BI16.dds", &fuse.EntryOut{})
	require.Equal(t, syscall0, errno)
	require.NotNil(t, inode)

	node, ok := inode.Operations().(*ddsNode)
	require.True(t, ok)
	assert.Equal(t, uint32(100), node.parsed.Row)
	assert.Equal(t, uint32(200), node.parsed.Col)
	assert.Equal(t, "BI", node.parsed.MapType)
}

func TestReaddirListsBackingFileAndLazyDirs(t *testing.T) {
	root := setupRealFile(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "textures"), 0o755))
	fsys := buildTestFS(t, root)

	top := &dirNode{fsys: fsys, relPath: ""}
	stream, errno := top.Readdir(context.Background())
	require.Equal(t, syscall0, errno)

	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Equal(t, syscall0, errno)
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "Earth nav data")
	assert.Contains(t, names, "textures")
}

func TestDDSNodeOpenSynthesizesAndServesBytes(t *testing.T) {
	root := setupRealFile(t)
	fsys := buildTestFS(t, root)

	parsed, err := coord.ParseDDSFilename("100_200_BI16.dds")
	require.NoError(t, err)
	node := &ddsNode{fsys: fsys, filename: parsed.CanonicalName(), parsed: parsed}

	handle, flags, errno := node.Open(context.Background(), 0)
	require.Equal(t, syscall0, errno)
	assert.Equal(t, uint32(fuse.FOPEN_KEEP_CACHE), flags)

	h, ok := handle.(*ddsHandle)
	require.True(t, ok)
	assert.NotEmpty(t, h.data)

	buf := make([]byte, len(h.data))
	res, errno := h.Read(context.Background(), buf, 0)
	require.Equal(t, syscall0, errno)
	data, status := res.Bytes(buf)
	assert.True(t, status.Ok())
	assert.Equal(t, h.data, data)
}

func TestDDSNodeGetattrReportsEncodedSizeWithoutSynthesizing(t *testing.T) {
	root := setupRealFile(t)
	fsys := buildTestFS(t, root)

	parsed, err := coord.ParseDDSFilename("100_200_BI16.dds")
	require.NoError(t, err)
	node := &ddsNode{fsys: fsys, filename: parsed.CanonicalName(), parsed: parsed}

	var attrOut fuse.AttrOut
	errno := node.Getattr(context.Background(), nil, &attrOut)
	require.Equal(t, syscall0, errno)
	assert.Equal(t, uint64(dds.EncodedSize(dds.FormatBC1)), attrOut.Size)
}

// syscall0 is the zero syscall.Errno value FUSE callbacks return on success.
const syscall0 syscall.Errno = 0
