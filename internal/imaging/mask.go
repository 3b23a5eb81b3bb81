package imaging

import "image"

// ComputeMask thresholds a single-channel image into a binary saturation
// mask: 255 where intensity >= threshold (boundary inclusive), 0 elsewhere.
// The mask has the same dimensions as the input.
func ComputeMask(src *image.Gray, threshold uint8) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+b.Dx()]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x, v := range srow {
			if v >= threshold {
				drow[x] = 255
			}
		}
	}
	return dst
}

// CountNonzero returns the number of set pixels in a mask.
func CountNonzero(mask *image.Gray) int {
	b := mask.Bounds()
	n := 0
	for y := 0; y < b.Dy(); y++ {
		row := mask.Pix[y*mask.Stride : y*mask.Stride+b.Dx()]
		for _, v := range row {
			if v != 0 {
				n++
			}
		}
	}
	return n
}

// SaturationPct returns the percentage of set pixels in a mask.
// Used by the auto-exposure sweep to score an exposure setting.
func SaturationPct(mask *image.Gray) float64 {
	b := mask.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}
	return 100.0 * float64(CountNonzero(mask)) / float64(total)
}

// MaskBounds returns the bounding box of the nonzero region of a mask in
// the mask's own coordinates, and false if the mask is empty.
func MaskBounds(mask *image.Gray) (image.Rectangle, bool) {
	b := mask.Bounds()
	minX, minY := b.Dx(), b.Dy()
	maxX, maxY := -1, -1
	for y := 0; y < b.Dy(); y++ {
		row := mask.Pix[y*mask.Stride : y*mask.Stride+b.Dx()]
		for x, v := range row {
			if v == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			maxY = y
		}
	}
	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}
