package prefetch

import "github.com/xearthlayer/xearthlayer/internal/coord"

// Candidate is one tile a strategy proposes for prefetch, before the
// availability filter and boundary prioritizer have had a chance to
// narrow and order the list.
type Candidate struct {
	Tile coord.Tile
}
