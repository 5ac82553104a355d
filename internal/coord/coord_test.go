package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToTileNYC(t *testing.T) {
	tile, err := ToTile(40.7128, -74.0060, 16)
	require.NoError(t, err)
	assert.Equal(t, uint32(24640), tile.Row)
	assert.Equal(t, uint32(19295), tile.Col)
	assert.Equal(t, uint8(16), tile.Zoom)
}

func TestToTileRejectsOutOfRangeLatLon(t *testing.T) {
	_, err := ToTile(85.05112879, 0, 10)
	require.Error(t, err)

	_, err = ToTile(maxWebMercatorLat, 0, 10)
	require.NoError(t, err)

	_, err = ToTile(0, 180.0001, 10)
	require.Error(t, err)

	_, err = ToTile(0, 0, 19)
	require.Error(t, err)
}

func TestTileToLatLonCenterRoundTrip(t *testing.T) {
	for zoom := uint8(1); zoom <= 14; zoom++ {
		tile, err := ToTile(37.6213, -122.3790, zoom)
		require.NoError(t, err)

		centerLat, centerLon := TileToLatLonCenter(tile)
		roundTrip, err := ToTile(centerLat, centerLon, zoom)
		require.NoError(t, err)
		assert.Equal(t, tile, roundTrip)
	}
}

func TestQuadkeyRoundTrip(t *testing.T) {
	tiles := []Tile{
		{Row: 0, Col: 0, Zoom: 0},
		{Row: 0, Col: 0, Zoom: 1},
		{Row: 1, Col: 0, Zoom: 1},
		{Row: 0, Col: 1, Zoom: 1},
		{Row: 1, Col: 1, Zoom: 1},
		{Row: 24640, Col: 19295, Zoom: 16},
	}

	for _, tile := range tiles {
		qk := TileToQuadkey(tile)
		back, err := QuadkeyToTile(qk)
		require.NoError(t, err)
		assert.Equal(t, tile, back)
	}
}

func TestZoomZeroQuadkeyIsEmpty(t *testing.T) {
	qk := TileToQuadkey(Tile{Row: 0, Col: 0, Zoom: 0})
	assert.Equal(t, "", qk)

	tile, err := QuadkeyToTile("")
	require.NoError(t, err)
	assert.Equal(t, Tile{}, tile)
}

func TestQuadkeyTooLongRejected(t *testing.T) {
	long := ""
	for i := 0; i < 19; i++ {
		long += "0"
	}
	_, err := QuadkeyToTile(long)
	require.Error(t, err)
}

func TestQuadkeyInvalidDigitRejected(t *testing.T) {
	_, err := QuadkeyToTile("012349")
	require.Error(t, err)
}

func TestChunksYields256Unique(t *testing.T) {
	tile := Tile{Row: 100, Col: 200, Zoom: 14}
	chunks := tile.Chunks()
	require.Len(t, chunks, 256)

	seen := make(map[[2]uint32]struct{}, 256)
	for _, c := range chunks {
		key := [2]uint32{c.GlobalRow(), c.GlobalCol()}
		_, dup := seen[key]
		assert.False(t, dup, "duplicate chunk %+v", c)
		seen[key] = struct{}{}
	}
	assert.Len(t, seen, 256)
}

func TestParseDDSFilenameRoundTrip(t *testing.T) {
	parsed, err := ParseDDSFilename("24640_19295_BI16.dds")
	require.NoError(t, err)
	assert.Equal(t, uint32(24640), parsed.Row)
	assert.Equal(t, uint32(19295), parsed.Col)
	assert.Equal(t, "BI", parsed.MapType)
	assert.Equal(t, uint8(16), parsed.Zoom)
	assert.Equal(t, "24640_19295_BI16.dds", parsed.CanonicalName())
}

func TestParseDDSFilenameCaseInsensitive(t *testing.T) {
	parsed, err := ParseDDSFilename("100_200_go12.DDS")
	require.NoError(t, err)
	assert.Equal(t, "GO", parsed.MapType)
	assert.Equal(t, "100_200_GO12.dds", parsed.CanonicalName())
}

func TestParseDDSFilenameRejectsMalformed(t *testing.T) {
	cases := []string{
		"not_a_tile.png",
		"100_200_B16.dds",
		"100_200_BI99.dds",
		"abc_200_BI16.dds",
	}
	for _, s := range cases {
		_, err := ParseDDSFilename(s)
		assert.Error(t, err, s)
	}
}

func TestParseDDSFilenameRejectsOverflow(t *testing.T) {
	_, err := ParseDDSFilename("4194304_0_BI16.dds")
	require.Error(t, err)
}

func TestToChunk(t *testing.T) {
	chunk, err := ToChunk(40.7128, -74.0060, 20)
	require.NoError(t, err)
	assert.Equal(t, uint32(24640), chunk.TileRow)
	assert.Equal(t, uint32(19295), chunk.TileCol)
	assert.Less(t, chunk.ChunkRow, uint8(16))
	assert.Less(t, chunk.ChunkCol, uint8(16))
}

func TestToChunkRejectsInvalidZoom(t *testing.T) {
	_, err := ToChunk(0, 0, 11)
	require.Error(t, err)

	_, err = ToChunk(0, 0, 23)
	require.Error(t, err)
}
