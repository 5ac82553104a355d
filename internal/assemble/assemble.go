// Package assemble decodes the 256 fetched chunk images and blits them
// into the single 4096x4096 raster that internal/dds encodes. Decode
// failures are treated identically to missing chunks: a flat gray tile,
// so the assembled image stays geometrically coherent even under partial
// upstream failure.
package assemble

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

const (
	// ChunkEdge is the pixel edge of one source chunk.
	ChunkEdge = 256
	// TileEdge is the pixel edge of the assembled tile raster.
	TileEdge = 4096
	// ChunksPerAxis is the number of chunks along one tile edge.
	ChunksPerAxis = TileEdge / ChunkEdge
)

var grayFill = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

// grayChunk is the shared placeholder blitted in place of a missing or
// corrupt chunk. It's read-only after init, so every caller can share it.
var grayChunk = newGrayChunk()

func newGrayChunk() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, ChunkEdge, ChunkEdge))
	for y := 0; y < ChunkEdge; y++ {
		for x := 0; x < ChunkEdge; x++ {
			img.SetNRGBA(x, y, grayFill)
		}
	}
	return img
}

// ChunkResult is one fetched (or missing) chunk, keyed by its tile-local
// row/col.
type ChunkResult struct {
	Row, Col int
	Data     []byte // nil means missing — rendered as gray
}

// Assemble decodes each chunk in results and blits it into a new
// TileEdge x TileEdge raster at (row*ChunkEdge, col*ChunkEdge). Dimension
// mismatches are not validated beyond the destination grid — this
// component trusts the orchestrator to supply ChunkEdge x ChunkEdge
// (or absent) chunks.
func Assemble(results []ChunkResult) *image.NRGBA {
	raster := image.NewNRGBA(image.Rect(0, 0, TileEdge, TileEdge))

	for _, result := range results {
		chunkImg := decodeOrGray(result.Data)
		dstRect := image.Rect(
			result.Col*ChunkEdge,
			result.Row*ChunkEdge,
			result.Col*ChunkEdge+ChunkEdge,
			result.Row*ChunkEdge+ChunkEdge,
		)
		draw.Draw(raster, dstRect, chunkImg, image.Point{}, draw.Src)
	}

	return raster
}

func decodeOrGray(data []byte) image.Image {
	if data == nil {
		return grayChunk
	}

	img, err := decodeImage(data)
	if err != nil {
		return grayChunk
	}

	bounds := img.Bounds()
	if bounds.Dx() != ChunkEdge || bounds.Dy() != ChunkEdge {
		return grayChunk
	}

	return img
}

func decodeImage(data []byte) (image.Image, error) {
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return png.Decode(bytes.NewReader(data))
}
