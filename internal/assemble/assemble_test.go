package assemble

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeSolidJPEG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, ChunkEdge, ChunkEdge))
	for y := 0; y < ChunkEdge; y++ {
		for x := 0; x < ChunkEdge; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	return buf.Bytes()
}

func TestAssembleProducesCorrectDimensions(t *testing.T) {
	raster := Assemble(nil)
	assert.Equal(t, TileEdge, raster.Bounds().Dx())
	assert.Equal(t, TileEdge, raster.Bounds().Dy())
}

func TestAssembleBlitsChunkAtCorrectOffset(t *testing.T) {
	red := encodeSolidJPEG(t, color.NRGBA{R: 255, A: 255})

	raster := Assemble([]ChunkResult{
		{Row: 1, Col: 2, Data: red},
	})

	// JPEG is lossy (solid red decodes to R=254), so compare against the
	// chunk's own decoded pixel rather than the pre-encode colour.
	decoded, err := jpeg.Decode(bytes.NewReader(red))
	require.NoError(t, err)
	want := color.NRGBAModel.Convert(decoded.At(10, 10)).(color.NRGBA)

	px := raster.NRGBAAt(2*ChunkEdge+10, 1*ChunkEdge+10)
	assert.Equal(t, want, px)

	// Outside the blitted region should remain untouched (zero value = transparent black).
	outside := raster.NRGBAAt(0, 0)
	assert.Equal(t, uint8(0), outside.A)
}

func TestAssembleFillsGrayForMissingChunk(t *testing.T) {
	raster := Assemble([]ChunkResult{
		{Row: 0, Col: 0, Data: nil},
	})

	px := raster.NRGBAAt(5, 5)
	assert.Equal(t, grayFill, px)
}

func TestAssembleFillsGrayForCorruptChunk(t *testing.T) {
	raster := Assemble([]ChunkResult{
		{Row: 0, Col: 0, Data: []byte("not an image")},
	})

	px := raster.NRGBAAt(5, 5)
	assert.Equal(t, grayFill, px)
}
