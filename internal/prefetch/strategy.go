package prefetch

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/xearthlayer/xearthlayer/internal/coord"
)

// maxCandidatesSafety bounds how many tiles a single strategy call will
// ever enumerate, independent of the coordinator's own MaxCandidates
// trim, so a degenerate bound (e.g. from a bad lead-distance config)
// can't turn one cycle into a multi-second nested loop.
const maxCandidatesSafety = 10000

// maxWebMercatorLat mirrors the Web Mercator clamp internal/coord
// enforces; a cruise band's forward projection can walk past it near the
// poles and needs clamping before reaching coord.ToTile.
const maxWebMercatorLat = 85.05112878

// GroundStrategy proposes every tile in a square radius around the
// aircraft's current position at a single, relatively coarse zoom —
// taxiing and short-final aircraft move slowly enough that "nearby in
// every direction" is the right shape, unlike cruise's forward-biased
// band.
type GroundStrategy struct {
	radiusTiles int
	zoom        uint8
}

// NewGroundStrategy constructs a GroundStrategy covering a
// (2*radiusTiles+1)-square of tiles at zoom around the aircraft.
func NewGroundStrategy(radiusTiles int, zoom uint8) GroundStrategy {
	return GroundStrategy{radiusTiles: radiusTiles, zoom: zoom}
}

// Plan returns every candidate tile within the configured radius of the
// tile containing (lat, lon), clipped to the valid row/col range at this
// zoom.
func (g GroundStrategy) Plan(lat, lon float64) ([]Candidate, error) {
	center, err := coord.ToTile(lat, lon, g.zoom)
	if err != nil {
		return nil, fmt.Errorf("prefetch: ground strategy: %w", err)
	}

	maxIdx := int64(1)<<g.zoom - 1
	var candidates []Candidate
	for dr := -g.radiusTiles; dr <= g.radiusTiles; dr++ {
		row := int64(center.Row) + int64(dr)
		if row < 0 || row > maxIdx {
			continue
		}
		for dc := -g.radiusTiles; dc <= g.radiusTiles; dc++ {
			col := int64(center.Col) + int64(dc)
			if col < 0 || col > maxIdx {
				continue
			}
			candidates = append(candidates, Candidate{Tile: coord.Tile{Row: uint32(row), Col: uint32(col), Zoom: g.zoom}})
		}
	}
	return candidates, nil
}

// CruiseStrategy proposes tiles in a band projected ahead of the
// aircraft along its current track, across a configured set of zoom
// levels — cruise altitude covers ground fast enough that "nearby in
// every direction" would waste most of its budget on tiles behind the
// aircraft it will never revisit.
type CruiseStrategy struct {
	zooms           []uint8
	leadDistanceDeg float64
	bandWidthDeg    float64
	maxCandidates   int
}

// NewCruiseStrategy constructs a CruiseStrategy. leadDistanceDeg is how
// far ahead (in degrees of great-circle-ish arc, approximated via an
// equirectangular projection since the distances involved are small)
// the band's leading edge is projected; bandWidthDeg is the total padding
// added around the box spanning the current and projected positions,
// half of it on each side.
func NewCruiseStrategy(zooms []uint8, leadDistanceDeg, bandWidthDeg float64, maxCandidates int) CruiseStrategy {
	return CruiseStrategy{zooms: zooms, leadDistanceDeg: leadDistanceDeg, bandWidthDeg: bandWidthDeg, maxCandidates: maxCandidates}
}

// Plan returns candidate tiles across every configured zoom covering the
// band from the aircraft's current position to its projected position
// leadDistanceDeg ahead along trackDeg, widened by bandWidthDeg.
func (c CruiseStrategy) Plan(lat, lon, trackDeg float64) ([]Candidate, error) {
	trackRad := trackDeg * math.Pi / 180.0
	latCompression := math.Cos(lat * math.Pi / 180.0)
	if math.Abs(latCompression) < 1e-6 {
		latCompression = 1e-6
	}

	forwardLat := clampLat(lat + c.leadDistanceDeg*math.Cos(trackRad))
	forwardLon := clampLon(lon + c.leadDistanceDeg*math.Sin(trackRad)/latCompression)

	bound := orb.Bound{Min: orb.Point{lon, lat}, Max: orb.Point{lon, lat}}.Extend(orb.Point{forwardLon, forwardLat})

	pad := c.bandWidthDeg / 2
	bound.Min[0] = clampLon(bound.Min[0] - pad)
	bound.Min[1] = clampLat(bound.Min[1] - pad)
	bound.Max[0] = clampLon(bound.Max[0] + pad)
	bound.Max[1] = clampLat(bound.Max[1] + pad)

	var candidates []Candidate
	for _, zoom := range c.zooms {
		tiles, err := tilesInBound(bound, zoom)
		if err != nil {
			continue
		}
		candidates = append(candidates, tiles...)
		if len(candidates) >= c.maxCandidates {
			break
		}
	}
	if len(candidates) > c.maxCandidates {
		candidates = candidates[:c.maxCandidates]
	}
	return candidates, nil
}

// tilesInBound enumerates every tile at zoom whose row/col falls within
// the tile-space rectangle spanned by bound's four corners.
func tilesInBound(bound orb.Bound, zoom uint8) ([]Candidate, error) {
	corners := [4][2]float64{
		{bound.Min[1], bound.Min[0]},
		{bound.Min[1], bound.Max[0]},
		{bound.Max[1], bound.Min[0]},
		{bound.Max[1], bound.Max[0]},
	}

	var minRow, maxRow, minCol, maxCol uint32
	haveOne := false
	for _, corner := range corners {
		tile, err := coord.ToTile(clampLat(corner[0]), clampLon(corner[1]), zoom)
		if err != nil {
			continue
		}
		if !haveOne {
			minRow, maxRow, minCol, maxCol = tile.Row, tile.Row, tile.Col, tile.Col
			haveOne = true
			continue
		}
		minRow, maxRow = minU32(minRow, tile.Row), maxU32(maxRow, tile.Row)
		minCol, maxCol = minU32(minCol, tile.Col), maxU32(maxCol, tile.Col)
	}
	if !haveOne {
		return nil, fmt.Errorf("prefetch: no valid corner for bound at zoom %d", zoom)
	}

	var candidates []Candidate
	for r := minRow; r <= maxRow; r++ {
		for c := minCol; c <= maxCol; c++ {
			candidates = append(candidates, Candidate{Tile: coord.Tile{Row: r, Col: c, Zoom: zoom}})
			if len(candidates) >= maxCandidatesSafety {
				return candidates, nil
			}
		}
	}
	return candidates, nil
}

func clampLat(lat float64) float64 {
	if lat > maxWebMercatorLat {
		return maxWebMercatorLat
	}
	if lat < -maxWebMercatorLat {
		return -maxWebMercatorLat
	}
	return lat
}

func clampLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
