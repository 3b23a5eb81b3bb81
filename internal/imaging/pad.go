package imaging

import "image"

// NeutralGray is the fill value for canvas regions lost to overlap trimming.
const NeutralGray uint8 = 128

// PadGray pads a single-channel image symmetrically on both horizontal
// sides by pad columns of fill, restoring the pre-trim canvas width. The
// central slice equals the input exactly.
func PadGray(src *image.Gray, pad int, fill uint8) *image.Gray {
	if pad <= 0 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w+2*pad, h))
	for i := range dst.Pix {
		dst.Pix[i] = fill
	}
	for y := 0; y < h; y++ {
		copy(dst.Pix[y*dst.Stride+pad:y*dst.Stride+pad+w], src.Pix[y*src.Stride:y*src.Stride+w])
	}
	return dst
}

// PadRGB is PadGray for 3-channel buffers; fill applies to every channel.
func PadRGB(src *RGB, pad int, fill uint8) *RGB {
	if pad <= 0 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := NewRGB(image.Rect(0, 0, w+2*pad, h))
	for i := range dst.Pix {
		dst.Pix[i] = fill
	}
	for y := 0; y < h; y++ {
		copy(dst.Pix[y*dst.Stride+3*pad:y*dst.Stride+3*(pad+w)], src.Pix[y*src.Stride:y*src.Stride+3*w])
	}
	return dst
}
