package dds

import (
	"encoding/binary"
	"image"
	"image/color"
)

// compress block-compresses img (whose dimensions must be a multiple of
// 4) into the given format, 4x4 blocks in row-major order.
func compress(img *image.NRGBA, format Format) []byte {
	bounds := img.Bounds()
	blocksWide := bounds.Dx() / blockEdge
	blocksHigh := bounds.Dy() / blockEdge

	out := make([]byte, 0, blocksWide*blocksHigh*format.bytesPerBlock())

	for by := 0; by < blocksHigh; by++ {
		for bx := 0; bx < blocksWide; bx++ {
			px := readBlock(img, bounds.Min.X+bx*blockEdge, bounds.Min.Y+by*blockEdge)
			if format == FormatBC3 {
				out = append(out, encodeBC4Alpha(px)...)
			}
			out = append(out, encodeBC1Color(px, format == FormatBC1)...)
		}
	}

	return out
}

// readBlock extracts the 16 texels of a 4x4 block starting at (x0,y0).
func readBlock(img *image.NRGBA, x0, y0 int) [16]color.NRGBA {
	var block [16]color.NRGBA
	i := 0
	for dy := 0; dy < blockEdge; dy++ {
		for dx := 0; dx < blockEdge; dx++ {
			block[i] = img.NRGBAAt(x0+dx, y0+dy)
			i++
		}
	}
	return block
}

// luminance is the weighted-sum approximation used to rank block texels
// when choosing BC1 endpoint extremes.
func luminance(c color.NRGBA) int {
	return 299*int(c.R) + 587*int(c.G) + 114*int(c.B)
}

func rgb565(c color.NRGBA) uint16 {
	r := uint16(c.R) >> 3
	g := uint16(c.G) >> 2
	b := uint16(c.B) >> 3
	return (r << 11) | (g << 5) | b
}

func unpack565(v uint16) (r, g, b uint8) {
	r = uint8((v >> 11 & 0x1F) * 255 / 31)
	g = uint8((v >> 5 & 0x3F) * 255 / 63)
	b = uint8((v & 0x1F) * 255 / 31)
	return
}

// encodeBC1Color produces the 8-byte BC1 color block: two RGB565
// endpoints chosen as the min/max luminance texels in the block, then
// each texel is quantized to whichever of the resulting 4-color palette
// entries is nearest by squared distance. noAlpha selects the BC1
// (opaque, 4-color) interpolation mode unconditionally since this
// encoder never emits the punch-through-alpha 3-color mode.
func encodeBC1Color(block [16]color.NRGBA, noAlpha bool) []byte {
	_ = noAlpha

	minIdx, maxIdx := 0, 0
	minLum, maxLum := luminance(block[0]), luminance(block[0])
	for i := 1; i < 16; i++ {
		l := luminance(block[i])
		if l < minLum {
			minLum = l
			minIdx = i
		}
		if l > maxLum {
			maxLum = l
			maxIdx = i
		}
	}

	c0 := rgb565(block[maxIdx])
	c1 := rgb565(block[minIdx])

	// BC1 requires c0 > c1 to select the 4-color (non-alpha) palette.
	if c0 < c1 {
		c0, c1 = c1, c0
	} else if c0 == c1 {
		// Degenerate (flat) block: still must pick the 4-color
		// interpolation mode, so force an order rather than a tie.
		if c0 > 0 {
			c1 = c0 - 1
		} else {
			c0 = 1
		}
	}

	palette := buildPalette(c0, c1)

	var indices uint32
	for i := 15; i >= 0; i-- {
		best, bestDist := 0, -1
		texel := block[i]
		for p, pc := range palette {
			dist := colorDistSq(texel, pc)
			if bestDist == -1 || dist < bestDist {
				bestDist = dist
				best = p
			}
		}
		indices = (indices << 2) | uint32(best)
	}

	out := make([]byte, 8)
	binary.LittleEndian.PutUint16(out[0:2], c0)
	binary.LittleEndian.PutUint16(out[2:4], c1)
	binary.LittleEndian.PutUint32(out[4:8], indices)
	return out
}

func buildPalette(c0, c1 uint16) [4]color.NRGBA {
	r0, g0, b0 := unpack565(c0)
	r1, g1, b1 := unpack565(c1)

	var palette [4]color.NRGBA
	palette[0] = color.NRGBA{R: r0, G: g0, B: b0, A: 255}
	palette[1] = color.NRGBA{R: r1, G: g1, B: b1, A: 255}
	palette[2] = color.NRGBA{
		R: uint8((2*int(r0) + int(r1)) / 3),
		G: uint8((2*int(g0) + int(g1)) / 3),
		B: uint8((2*int(b0) + int(b1)) / 3),
		A: 255,
	}
	palette[3] = color.NRGBA{
		R: uint8((int(r0) + 2*int(r1)) / 3),
		G: uint8((int(g0) + 2*int(g1)) / 3),
		B: uint8((int(b0) + 2*int(b1)) / 3),
		A: 255,
	}
	return palette
}

func colorDistSq(a, b color.NRGBA) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return dr*dr + dg*dg + db*db
}

// encodeBC4Alpha produces the 8-byte BC4 alpha block used by BC3: two
// 8-bit endpoints (min/max alpha in the block) followed by 16 packed
// 3-bit indices into the resulting 8-value interpolation ramp.
func encodeBC4Alpha(block [16]color.NRGBA) []byte {
	minA, maxA := block[0].A, block[0].A
	for _, c := range block {
		if c.A < minA {
			minA = c.A
		}
		if c.A > maxA {
			maxA = c.A
		}
	}

	ramp := buildAlphaRamp(maxA, minA)

	var indices uint64
	for i := 15; i >= 0; i-- {
		best, bestDist := 0, -1
		a := int(block[i].A)
		for p, v := range ramp {
			dist := a - int(v)
			if dist < 0 {
				dist = -dist
			}
			if bestDist == -1 || dist < bestDist {
				bestDist = dist
				best = p
			}
		}
		indices = (indices << 3) | uint64(best)
	}

	out := make([]byte, 8)
	out[0] = maxA
	out[1] = minA
	// 48 bits of indices, little-endian packed starting at byte 2.
	packed := indices << 16
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], packed)
	copy(out[2:8], buf[2:8])
	return out
}

func buildAlphaRamp(a0, a1 uint8) [8]uint8 {
	var ramp [8]uint8
	ramp[0] = a0
	ramp[1] = a1
	for i := 1; i <= 6; i++ {
		ramp[1+i] = uint8((int(a0)*(7-i) + int(a1)*i) / 7)
	}
	return ramp
}
