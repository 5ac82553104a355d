// Package vfs bridges FUSE read/readdir/getattr/open/release callbacks to
// the tile pipeline: non-DDS paths pass through to their real backing
// file, DDS texture paths under textures/ trigger on-demand synthesis, and
// directory listings union every backing source with patches (earlier,
// alphabetically-lower source names) winning conflicts. Built on
// github.com/hanwen/go-fuse/v2/fs, the idiomatic Go FUSE binding.
package vfs

import (
	"context"
	"os"
	"path"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"

	"github.com/xearthlayer/xearthlayer/internal/cache"
	"github.com/xearthlayer/xearthlayer/internal/coord"
	"github.com/xearthlayer/xearthlayer/internal/dds"
	"github.com/xearthlayer/xearthlayer/internal/executor"
	"github.com/xearthlayer/xearthlayer/internal/index"
	"github.com/xearthlayer/xearthlayer/internal/pipeline"
)

// texturesDirName is the lazy directory DDS synthesis lives under, per
// the Ortho4XP package layout convention.
const texturesDirName = "textures"

// FS owns the backing resources every node in the tree consults: the
// union index for path resolution and listing, and the pipeline for
// on-demand DDS synthesis.
type FS struct {
	idx      *index.Index
	pipeline *pipeline.Pipeline
	format   string
	log      zerolog.Logger
}

// New constructs an FS. ddsFormat ("bc1"/"bc3") is stamped onto every
// synthesized cache key's DDSFormat tag; ddsFormat should match
// whatever the pipeline was configured with.
func New(idx *index.Index, pipe *pipeline.Pipeline, ddsFormat string, log zerolog.Logger) *FS {
	return &FS{idx: idx, pipeline: pipe, format: ddsFormat, log: log.With().Str("component", "vfs").Logger()}
}

// Root returns the InodeEmbedder to hand to fs.Mount as the filesystem
// root.
func (f *FS) Root() fs.InodeEmbedder {
	return &dirNode{fsys: f, relPath: ""}
}

// dirNode represents one directory in the union tree, addressed by its
// path relative to the backing sources' roots.
type dirNode struct {
	fs.Inode
	fsys    *FS
	relPath string
}

var _ = (fs.NodeLookuper)((*dirNode)(nil))
var _ = (fs.NodeReaddirer)((*dirNode)(nil))
var _ = (fs.NodeGetattrer)((*dirNode)(nil))

func (n *dirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o755
	return 0
}

// Lookup resolves one path component under this directory: a DDS texture
// name under textures/ synthesizes lazily, a name the union index reports
// as a subdirectory yields a dirNode, a name backed by a real file yields
// a passthroughNode, and anything else is ENOENT.
func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := joinRel(n.relPath, name)

	if isTexturesDir(n.relPath) {
		if parsed, err := coord.ParseDDSFilename(name); err == nil {
			out.Mode = syscall.S_IFREG | 0o444
			return n.NewInode(ctx, &ddsNode{fsys: n.fsys, filename: parsed.CanonicalName(), parsed: parsed}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
		}
	}

	isDir, found := n.childIsDir(name)
	if !found {
		return nil, syscall.ENOENT
	}

	if isDir {
		out.Mode = syscall.S_IFDIR | 0o755
		return n.NewInode(ctx, &dirNode{fsys: n.fsys, relPath: child}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
	}

	real, ok := n.fsys.idx.Resolve(child)
	if !ok {
		return nil, syscall.ENOENT
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, syscall.ENOENT
	}

	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(info.Size())
	return n.NewInode(ctx, &passthroughNode{real: real}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

// childIsDir reports whether name, as an immediate child of n, is a
// directory, consulting the same union-index listing Readdir uses. found
// is false when name is not a child of n at all.
func (n *dirNode) childIsDir(name string) (isDir bool, found bool) {
	for _, e := range n.fsys.idx.ListDir(n.relPath) {
		if e.Name == name {
			return e.IsDir, true
		}
	}
	return false, false
}

// Readdir lists this directory's immediate children, via the union
// index's priority-ordered dedup.
func (n *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	listed := n.fsys.idx.ListDir(n.relPath)
	entries := make([]fuse.DirEntry, 0, len(listed))
	for _, e := range listed {
		mode := uint32(syscall.S_IFREG)
		if e.IsDir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func isTexturesDir(relPath string) bool {
	return strings.EqualFold(relPath, texturesDirName)
}

func joinRel(relPath, name string) string {
	if relPath == "" {
		return name
	}
	return path.Join(relPath, name)
}

// passthroughNode proxies a real backing file unchanged: open, read, and
// release forward directly to the real path, never touching the pipeline.
type passthroughNode struct {
	fs.Inode
	real string
}

var _ = (fs.NodeOpener)((*passthroughNode)(nil))
var _ = (fs.NodeGetattrer)((*passthroughNode)(nil))

func (n *passthroughNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := os.Stat(n.real)
	if err != nil {
		return syscall.ENOENT
	}
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(info.Size())
	return 0
}

func (n *passthroughNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	f, err := os.Open(n.real)
	if err != nil {
		return nil, 0, syscall.EIO
	}
	return &passthroughHandle{f: f}, 0, 0
}

type passthroughHandle struct {
	f *os.File
}

var _ = (fs.FileReader)((*passthroughHandle)(nil))
var _ = (fs.FileReleaser)((*passthroughHandle)(nil))

func (h *passthroughHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.f.ReadAt(dest, off)
	if err != nil && n == 0 {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *passthroughHandle) Release(ctx context.Context) syscall.Errno {
	_ = h.f.Close()
	return 0
}

// ddsNode represents one lazily-synthesized DDS texture. Getattr answers
// its size without synthesizing (the block-compressed size is a pure
// function of format, independent of pixel content); Open triggers the
// actual pipeline run and the returned handle serves the resulting bytes.
type ddsNode struct {
	fs.Inode
	fsys     *FS
	filename string
	parsed   coord.DDSFilename
}

var _ = (fs.NodeGetattrer)((*ddsNode)(nil))
var _ = (fs.NodeOpener)((*ddsNode)(nil))

func (n *ddsNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(dds.EncodedSize(n.fsys.ddsFormat()))
	return 0
}

// Open synthesizes (or fetches from cache) the DDS bytes for this texture
// and hands back a handle over the resulting buffer. FUSE's render-thread
// read path blocks on this call, so the pipeline's own job timeout and
// magenta-placeholder fallback are what keep it bounded, not this node.
func (n *ddsNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	key := cache.Key{
		ProviderTag: n.parsed.MapType,
		TileRow:     n.parsed.Row,
		TileCol:     n.parsed.Col,
		TileZoom:    n.parsed.Zoom,
		DDSFormat:   n.fsys.format,
	}

	result := n.fsys.pipeline.Synthesize(ctx, key, executor.PriorityOnDemand)
	if result.Placeholder {
		n.fsys.log.Warn().Str("filename", n.filename).Str("job_id", result.JobID).Msg("serving placeholder tile")
	}
	return &ddsHandle{data: result.Bytes}, fuse.FOPEN_KEEP_CACHE, 0
}

type ddsHandle struct {
	data []byte
}

var _ = (fs.FileReader)((*ddsHandle)(nil))

func (h *ddsHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return fuse.ReadResultData(h.data[off:end]), 0
}

func (f *FS) ddsFormat() dds.Format {
	if strings.EqualFold(f.format, "bc3") {
		return dds.FormatBC3
	}
	return dds.FormatBC1
}
