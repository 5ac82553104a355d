// Package dds encodes an RGBA raster into a block-compressed DDS texture
// with a fixed 5-level mip chain, matching the layout X-Plane's Ortho4XP
// loader expects: a primary 4096x4096 mip followed by 2048, 1024, 512,
// and 256 pixel levels, each compressed as BC1 (DXT1, no alpha) or BC3
// (DXT5, with alpha).
package dds

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
)

// Format selects the block-compression scheme used for every mip level.
type Format int

const (
	// FormatBC1 is opaque RGB, 8 bytes per 4x4 block, FourCC "DXT1".
	FormatBC1 Format = iota
	// FormatBC3 is RGBA, 16 bytes per 4x4 block (BC1 color + BC4 alpha),
	// FourCC "DXT5".
	FormatBC3
)

func (f Format) fourCC() [4]byte {
	switch f {
	case FormatBC3:
		return [4]byte{'D', 'X', 'T', '5'}
	default:
		return [4]byte{'D', 'X', 'T', '1'}
	}
}

func (f Format) bytesPerBlock() int {
	if f == FormatBC3 {
		return 16
	}
	return 8
}

// String renders the format's canonical FourCC, e.g. for logging.
func (f Format) String() string {
	fourCC := f.fourCC()
	return string(fourCC[:])
}

const (
	blockEdge   = 4
	mipLevels   = 5
	primaryEdge = 4096

	ddsMagic         = "DDS "
	ddsHeaderSize    = 124
	ddsPixelFmtSize  = 32
	ddCAPS           = 0x1
	ddCAPSComplex    = 0x8
	ddCAPSMipmap     = 0x400000
	ddsdCaps         = 0x1
	ddsdHeight       = 0x2
	ddsdWidth        = 0x4
	ddsdPixelFormat  = 0x1000
	ddsdMipmapCount  = 0x20000
	ddsdLinearSize   = 0x80000
	dDPFFourCC       = 0x4
)

// MipSizes returns the pixel edge length of each of the 5 mip levels, from
// primary to smallest.
func MipSizes() [mipLevels]int {
	return [mipLevels]int{primaryEdge, primaryEdge / 2, primaryEdge / 4, primaryEdge / 8, primaryEdge / 16}
}

// EncodedSize returns the exact byte length Encode produces for format,
// independent of pixel content: the DDS header plus each mip level's fixed
// block-compressed size. The virtual filesystem uses this to answer
// getattr's size field without synthesizing the file.
func EncodedSize(format Format) int64 {
	total := int64(len(ddsMagic) + ddsHeaderSize)
	for _, edge := range MipSizes() {
		blocksPerEdge := int64(edge / blockEdge)
		total += blocksPerEdge * blocksPerEdge * int64(format.bytesPerBlock())
	}
	return total
}

// Encode compresses raster (which must be primaryEdge x primaryEdge) into
// a complete DDS byte stream: header, 5 mip levels, each BC1 or BC3
// compressed. Encoding is a pure function of its input — identical
// rasters byte-for-byte produce identical output.
func Encode(raster *image.NRGBA, format Format) ([]byte, error) {
	bounds := raster.Bounds()
	if bounds.Dx() != primaryEdge || bounds.Dy() != primaryEdge {
		return nil, fmt.Errorf("dds: raster must be %dx%d, got %dx%d", primaryEdge, primaryEdge, bounds.Dx(), bounds.Dy())
	}

	var buf bytes.Buffer
	buf.WriteString(ddsMagic)

	mipSizes := MipSizes()
	mipByteSizes := make([]uint32, mipLevels)
	mipPixels := make([]*image.NRGBA, mipLevels)
	mipPixels[0] = raster

	for i := 1; i < mipLevels; i++ {
		mipPixels[i] = downsampleBox2x2(mipPixels[i-1])
	}

	encodedMips := make([][]byte, mipLevels)
	for i := range mipSizes {
		encoded := compress(mipPixels[i], format)
		encodedMips[i] = encoded
		mipByteSizes[i] = uint32(len(encoded))
	}

	writeHeader(&buf, format, uint32(primaryEdge), mipByteSizes[0])

	for _, encoded := range encodedMips {
		buf.Write(encoded)
	}

	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, format Format, edge uint32, primaryLinearSize uint32) {
	header := make([]byte, ddsHeaderSize)
	le := binary.LittleEndian

	le.PutUint32(header[0:4], ddsHeaderSize)
	le.PutUint32(header[4:8], ddsdCaps|ddsdHeight|ddsdWidth|ddsdPixelFormat|ddsdMipmapCount|ddsdLinearSize)
	le.PutUint32(header[8:12], edge)  // height
	le.PutUint32(header[12:16], edge) // width
	le.PutUint32(header[16:20], primaryLinearSize)
	le.PutUint32(header[20:24], 0) // depth
	le.PutUint32(header[24:28], mipLevels)

	// pixel format sub-struct at offset 72, length 32
	pf := header[72 : 72+ddsPixelFmtSize]
	le.PutUint32(pf[0:4], ddsPixelFmtSize)
	le.PutUint32(pf[4:8], dDPFFourCC)
	fourCC := format.fourCC()
	copy(pf[8:12], fourCC[:])

	le.PutUint32(header[104:108], ddCAPS|ddCAPSComplex|ddCAPSMipmap)

	buf.Write(header)
}

func downsampleBox2x2(src *image.NRGBA) *image.NRGBA {
	srcBounds := src.Bounds()
	dstEdge := srcBounds.Dx() / 2
	dst := image.NewNRGBA(image.Rect(0, 0, dstEdge, dstEdge))

	for y := 0; y < dstEdge; y++ {
		for x := 0; x < dstEdge; x++ {
			sx, sy := x*2, y*2
			var r, g, b, a int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					px := src.NRGBAAt(srcBounds.Min.X+sx+dx, srcBounds.Min.Y+sy+dy)
					r += int(px.R)
					g += int(px.G)
					b += int(px.B)
					a += int(px.A)
				}
			}
			dst.SetNRGBA(x, y, color.NRGBA{R: uint8(r / 4), G: uint8(g / 4), B: uint8(b / 4), A: uint8(a / 4)})
		}
	}

	return dst
}
