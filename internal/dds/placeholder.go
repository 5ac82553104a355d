package dds

import (
	"image"
	"image/color"
	"sync"
)

// placeholder caches the deterministic magenta DDS per format so repeated
// failures don't pay the encode cost again. The pipeline never writes
// this to cache, so there is no risk of it being mistaken for a real
// tile on disk.
var (
	placeholderMu    sync.Mutex
	placeholderBytes = map[Format][]byte{}
)

// Placeholder returns the cached magenta placeholder DDS for format,
// building it on first use.
func Placeholder(format Format) ([]byte, error) {
	placeholderMu.Lock()
	defer placeholderMu.Unlock()

	if cached, ok := placeholderBytes[format]; ok {
		return cached, nil
	}

	raster := image.NewNRGBA(image.Rect(0, 0, primaryEdge, primaryEdge))
	magenta := color.NRGBA{R: 255, G: 0, B: 255, A: 255}
	for y := 0; y < primaryEdge; y++ {
		for x := 0; x < primaryEdge; x++ {
			raster.SetNRGBA(x, y, magenta)
		}
	}

	encoded, err := Encode(raster, format)
	if err != nil {
		return nil, err
	}

	placeholderBytes[format] = encoded
	return encoded, nil
}
