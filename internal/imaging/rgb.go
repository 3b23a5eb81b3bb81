package imaging

import (
	"image"
	"image/color"
)

// RGB is a packed 3-channel image with one byte per channel, ordered
// (R, G, B). It is the preview/overlay buffer format used throughout the
// pipeline: an image.RGBA without the alpha byte, so a full-canvas copy
// moves 25% fewer bytes per frame.
type RGB struct {
	// Pix holds the pixel data in R, G, B order.
	Pix []uint8
	// Stride is the distance in bytes between vertically adjacent pixels.
	Stride int
	// Rect is the image bounds.
	Rect image.Rectangle
}

// NewRGB returns a new RGB image with the given bounds, zero-filled.
func NewRGB(r image.Rectangle) *RGB {
	w, h := r.Dx(), r.Dy()
	return &RGB{
		Pix:    make([]uint8, 3*w*h),
		Stride: 3 * w,
		Rect:   r,
	}
}

// ColorModel implements image.Image.
func (p *RGB) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (p *RGB) Bounds() image.Rectangle { return p.Rect }

// PixOffset returns the index into Pix of the first byte of the pixel at (x, y).
func (p *RGB) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}

// At implements image.Image. Bulk access should go through Pix directly.
func (p *RGB) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{p.Pix[i], p.Pix[i+1], p.Pix[i+2], 0xFF}
}

// SetRGBA assigns the pixel at (x, y). Out-of-bounds writes are ignored,
// which lets contour rasterization run unclipped at the canvas edges.
func (p *RGB) SetRGBA(x, y int, c color.RGBA) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	p.Pix[i] = c.R
	p.Pix[i+1] = c.G
	p.Pix[i+2] = c.B
}

// Clone returns a deep copy of the image.
func (p *RGB) Clone() *RGB {
	out := &RGB{
		Pix:    make([]uint8, len(p.Pix)),
		Stride: p.Stride,
		Rect:   p.Rect,
	}
	copy(out.Pix, p.Pix)
	return out
}

// GrayToRGB expands a single-channel image to a 3-channel copy with
// R = G = B = intensity. Used to prepare preview buffers for overlay drawing.
func GrayToRGB(src *image.Gray) *RGB {
	b := src.Bounds()
	dst := NewRGB(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+b.Dx()]
		drow := dst.Pix[y*dst.Stride : (y+1)*dst.Stride]
		for x, v := range srow {
			drow[x*3] = v
			drow[x*3+1] = v
			drow[x*3+2] = v
		}
	}
	return dst
}

// CloneGray returns a deep copy of a single-channel image normalized to a
// zero-origin rectangle.
func CloneGray(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()], src.Pix[y*src.Stride:y*src.Stride+b.Dx()])
	}
	return dst
}

// SubGray copies the region r (in src coordinates) into a new zero-origin
// single-channel image. Unlike image.Gray.SubImage the result does not alias
// the source, so the caller may publish it as an immutable record.
func SubGray(src *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(src.Bounds())
	dst := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		srcOff := (r.Min.Y+y-src.Rect.Min.Y)*src.Stride + (r.Min.X - src.Rect.Min.X)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+r.Dx()], src.Pix[srcOff:srcOff+r.Dx()])
	}
	return dst
}
