package prefetch

import (
	"github.com/xearthlayer/xearthlayer/internal/cache"
	"github.com/xearthlayer/xearthlayer/internal/coord"
	"github.com/xearthlayer/xearthlayer/internal/index"
	"github.com/xearthlayer/xearthlayer/internal/pipeline"
)

// Filter removes prefetch candidates that are already available through
// any of the four places a tile can already live: the memory cache, an
// in-flight (or coalescing) synthesis job, a previously-synthesized file
// already present in a backing source's textures/ directory, or the disk
// cache tier. Submitting a job for any of these would be wasted work at
// best and a redundant download at worst.
type Filter struct {
	cache    *cache.Cache
	pipeline *pipeline.Pipeline
	idx      *index.Index
}

// NewFilter constructs a Filter over the engine's shared cache, pipeline,
// and union index.
func NewFilter(c *cache.Cache, p *pipeline.Pipeline, idx *index.Index) *Filter {
	return &Filter{cache: c, pipeline: p, idx: idx}
}

// Remove returns the subset of candidates not already available,
// preserving order. providerTag and ddsFormat stamp the cache key each
// candidate is checked under.
func (f *Filter) Remove(candidates []Candidate, providerTag, ddsFormat string) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := cache.Key{
			ProviderTag: providerTag,
			TileRow:     c.Tile.Row,
			TileCol:     c.Tile.Col,
			TileZoom:    c.Tile.Zoom,
			DDSFormat:   ddsFormat,
		}

		if f.cache.ContainsMemory(key) {
			continue
		}
		if f.pipeline.InFlight(key) {
			continue
		}

		filename := coord.DDSFilename{Row: c.Tile.Row, Col: c.Tile.Col, MapType: providerTag, Zoom: c.Tile.Zoom}.CanonicalName()
		if f.idx.DDSExistsOnDisk(filename) {
			continue
		}
		if f.cache.ExistsOnDisk(key) {
			continue
		}

		out = append(out, c)
	}
	return out
}
