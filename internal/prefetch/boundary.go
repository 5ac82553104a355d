package prefetch

import (
	"math"
	"sort"

	"github.com/xearthlayer/xearthlayer/internal/coord"
)

// dsfCellEpsilon is the heading-component magnitude below which an axis
// is considered "not part of the direction of travel" and excluded from
// the ahead/behind test on that axis.
const dsfCellEpsilon = 1e-6

// dsfBehindPenalty is the rank assigned to a candidate that is in the
// aircraft's current DSF cell or behind it on a given axis: it is never
// preferred over any candidate that is genuinely ahead, but still sorts
// relative to other penalized candidates by distance.
const dsfBehindPenalty = 1 << 30

// RankCandidates orders candidates by DSF-cell (1-degree-by-1-degree)
// urgency: a candidate whose tile center lies in a cell strictly ahead of
// the aircraft's current cell, counted in whole cells along the
// direction of travel, outranks one that doesn't — X-Plane streams scenery
// one DSF tile at a time, so the next cell boundary the aircraft will
// cross is what actually needs to be ready first, not merely "nearest in
// a straight line". Within equal rank, the tie is broken by straight-line
// distance from the aircraft's current position. The input slice is not
// mutated; a new, sorted slice is returned.
func RankCandidates(candidates []Candidate, lat, lon, trackDeg float64) []Candidate {
	trackRad := trackDeg * math.Pi / 180.0
	dLon := math.Sin(trackRad)
	dLat := math.Cos(trackRad)

	type ranked struct {
		c        Candidate
		rank     int
		distance float64
	}

	out := make([]ranked, len(candidates))
	for i, c := range candidates {
		clat, clon := coord.TileToLatLonCenter(c.Tile)

		latAhead, latActive := axisCellsAhead(lat, clat, dLat)
		lonAhead, lonActive := axisCellsAhead(lon, clon, dLon)

		rank := dsfBehindPenalty
		switch {
		case latActive && lonActive:
			rank = min(latAhead, lonAhead)
		case latActive:
			rank = latAhead
		case lonActive:
			rank = lonAhead
		}

		out[i] = ranked{c: c, rank: rank, distance: math.Hypot(clat-lat, clon-lon)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		return out[i].distance < out[j].distance
	})

	result := make([]Candidate, len(out))
	for i, r := range out {
		result[i] = r.c
	}
	return result
}

// axisCellsAhead reports how many whole degree-cells ahead of current
// the target coordinate lies along one axis, given that axis's component
// of the direction of travel. A target in the same cell as current, or
// behind it, is never "ahead" even when the straight-line numeric
// difference happens to be small and positive within that cell: the
// comparison is done on cell indices (floor of the coordinate), not on
// the raw coordinate difference, since a candidate 0.4 degrees east of
// an aircraft flying due east is in the very next cell only once the
// aircraft's own position crosses that cell's boundary.
func axisCellsAhead(current, target, component float64) (cellsAhead int, active bool) {
	if math.Abs(component) < dsfCellEpsilon {
		return 0, false
	}

	currentCell := math.Floor(current)
	targetCell := math.Floor(target)

	var diff float64
	if component > 0 {
		diff = targetCell - currentCell
	} else {
		diff = currentCell - targetCell
	}

	if diff < 1 {
		return dsfBehindPenalty, true
	}
	return int(diff) - 1, true
}
