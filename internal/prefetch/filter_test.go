package prefetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

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

const testProviderTag = "BI"
const testDDSFormat = "bc1"

func candidateAt(row, col uint32, zoom uint8) Candidate {
	return Candidate{Tile: coord.Tile{Row: row, Col: col, Zoom: zoom}}
}

func TestFilterPassesThroughUnavailableCandidates(t *testing.T) {
	c, err := cache.New(10, 1<<30, t.TempDir())
	require.NoError(t, err)
	exec := executor.New(executor.DefaultConfig())
	pipe := pipeline.New(c, exec, nil, pipeline.DefaultConfig())
	idx, err := index.Build([]index.Source{{Name: "base", Root: t.TempDir()}})
	require.NoError(t, err)

	f := NewFilter(c, pipe, idx)
	in := []Candidate{candidateAt(1, 1, 14)}
	out := f.Remove(in, testProviderTag, testDDSFormat)
	assert.Equal(t, in, out)
}

func TestFilterDropsMemoryResidentCandidate(t *testing.T) {
	c, err := cache.New(10, 1<<30, t.TempDir())
	require.NoError(t, err)
	exec := executor.New(executor.DefaultConfig())
	pipe := pipeline.New(c, exec, nil, pipeline.DefaultConfig())
	idx, err := index.Build([]index.Source{{Name: "base", Root: t.TempDir()}})
	require.NoError(t, err)

	cand := candidateAt(1, 1, 14)
	key := cache.Key{ProviderTag: testProviderTag, TileRow: 1, TileCol: 1, TileZoom: 14, DDSFormat: testDDSFormat}
	c.Put(key, []byte("data"))

	f := NewFilter(c, pipe, idx)
	out := f.Remove([]Candidate{cand}, testProviderTag, testDDSFormat)
	assert.Empty(t, out)
}

func TestFilterDropsInFlightCandidate(t *testing.T) {
	c, err := cache.New(10, 1<<30, t.TempDir())
	require.NoError(t, err)
	exec := executor.New(executor.DefaultConfig())

	blocking := blockingProvider{release: make(chan struct{})}
	cfg := pipeline.Config{
		JobTimeout: time.Second,
		Retry:      orchestrator.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		FanOut:     4,
		Format:     dds.FormatBC1,
	}
	pipe := pipeline.New(c, exec, map[string]provider.Provider{testProviderTag: blocking}, cfg)
	idx, err := index.Build([]index.Source{{Name: "base", Root: t.TempDir()}})
	require.NoError(t, err)

	key := cache.Key{ProviderTag: testProviderTag, TileRow: 2, TileCol: 2, TileZoom: 14, DDSFormat: testDDSFormat}
	done := make(chan struct{})
	go func() {
		pipe.Synthesize(context.Background(), key, executor.PriorityPrefetch)
		close(done)
	}()
	defer func() {
		close(blocking.release)
		<-done
	}()

	assert.Eventually(t, func() bool { return pipe.InFlight(key) }, time.Second, time.Millisecond)

	f := NewFilter(c, pipe, idx)
	out := f.Remove([]Candidate{candidateAt(2, 2, 14)}, testProviderTag, testDDSFormat)
	assert.Empty(t, out)
}

func TestFilterDropsCandidatePresentOnDiskViaIndex(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "textures"), 0o755))
	filename := coord.DDSFilename{Row: 3, Col: 3, MapType: testProviderTag, Zoom: 14}.CanonicalName()
	require.NoError(t, os.WriteFile(filepath.Join(root, "textures", filename), []byte("dds"), 0o644))

	idx, err := index.Build([]index.Source{{Name: "base", Root: root}})
	require.NoError(t, err)

	c, err := cache.New(10, 1<<30, t.TempDir())
	require.NoError(t, err)
	exec := executor.New(executor.DefaultConfig())
	pipe := pipeline.New(c, exec, nil, pipeline.DefaultConfig())

	f := NewFilter(c, pipe, idx)
	out := f.Remove([]Candidate{candidateAt(3, 3, 14)}, testProviderTag, testDDSFormat)
	assert.Empty(t, out)
}

type blockingProvider struct {
	release chan struct{}
}

func (blockingProvider) IDTag() string                     { return testProviderTag }
func (blockingProvider) URLFor(r, c uint32, z uint8) string { return "fake-url" }
func (blockingProvider) MaxZoom() uint8                     { return 22 }
func (p blockingProvider) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return []byte("not-a-real-image"), nil
}
