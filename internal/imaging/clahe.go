package imaging

import (
	"errors"
	"image"
	"math"
)

// ErrUnsupportedFormat reports a contrast-enhancement call on a buffer that
// is neither single-channel nor 3-channel. Distinct from the empty-mask
// case, which is a silent no-op.
var ErrUnsupportedFormat = errors.New("imaging: unsupported buffer format (want *image.Gray or *imaging.RGB)")

// maxClipLimit caps the CLAHE clip factor; above this the equalization
// amplifies sensor noise instead of scene contrast.
const maxClipLimit = 4.0

// Region selects which side of the saturation mask an enhancement pass
// touches.
type Region int

const (
	// RegionSaturated selects pixels where the mask is set (the substituted
	// cam2 content in a fused frame).
	RegionSaturated Region = iota
	// RegionUnsaturated selects pixels where the mask is clear (the
	// surviving cam1 content).
	RegionUnsaturated
)

// CLAHEOptions configures contrast-limited adaptive histogram equalization.
type CLAHEOptions struct {
	// ClipLimit is the relative histogram clip factor (OpenCV semantics).
	// Values below 1 are raised to 1, values above 4 lowered to 4.
	ClipLimit float64
	// TileW and TileH are the tile grid dimensions (tiles per axis, not
	// pixels). Zero defaults to 8.
	TileW, TileH int
}

func (o CLAHEOptions) normalized() CLAHEOptions {
	if o.ClipLimit < 1 {
		o.ClipLimit = 1
	}
	if o.ClipLimit > maxClipLimit {
		o.ClipLimit = maxClipLimit
	}
	if o.TileW <= 0 {
		o.TileW = 8
	}
	if o.TileH <= 0 {
		o.TileH = 8
	}
	return o
}

// EnhanceRegion applies CLAHE to img restricted to the bounding box of the
// mask's nonzero pixels, writing back only pixels on the selected side of
// the mask. Everything outside the bounding box is untouched. An empty mask
// returns img unchanged. img and mask must share dimensions.
func EnhanceRegion(img image.Image, mask *image.Gray, sel Region, opts CLAHEOptions) (image.Image, error) {
	bbox, ok := MaskBounds(mask)
	if !ok {
		return img, nil
	}
	opts = opts.normalized()

	switch src := img.(type) {
	case *image.Gray:
		out := CloneGray(src)
		enhanceGrayRect(out, mask, bbox, sel, opts)
		return out, nil
	case *RGB:
		out := src.Clone()
		enhanceRGBRect(out, mask, bbox, sel, opts)
		return out, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

// enhanceGrayRect equalizes the bbox sub-rectangle of img in place,
// replacing only pixels matched by sel.
func enhanceGrayRect(img *image.Gray, mask *image.Gray, bbox image.Rectangle, sel Region, opts CLAHEOptions) {
	w, h := bbox.Dx(), bbox.Dy()
	region := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		srcOff := (bbox.Min.Y+y)*img.Stride + bbox.Min.X
		copy(region[y*w:(y+1)*w], img.Pix[srcOff:srcOff+w])
	}

	mapped := claheApply(region, w, h, opts)

	for y := 0; y < h; y++ {
		maskOff := (bbox.Min.Y + y) * mask.Stride
		imgOff := (bbox.Min.Y+y)*img.Stride + bbox.Min.X
		for x := 0; x < w; x++ {
			set := mask.Pix[maskOff+bbox.Min.X+x] != 0
			if (sel == RegionSaturated) == set {
				img.Pix[imgOff+x] = mapped[y*w+x]
			}
		}
	}
}

// enhanceRGBRect runs the gray pass per channel.
func enhanceRGBRect(img *RGB, mask *image.Gray, bbox image.Rectangle, sel Region, opts CLAHEOptions) {
	w, h := bbox.Dx(), bbox.Dy()
	region := make([]uint8, w*h)
	for ch := 0; ch < 3; ch++ {
		for y := 0; y < h; y++ {
			off := img.PixOffset(bbox.Min.X, bbox.Min.Y+y)
			for x := 0; x < w; x++ {
				region[y*w+x] = img.Pix[off+x*3+ch]
			}
		}
		mapped := claheApply(region, w, h, opts)
		for y := 0; y < h; y++ {
			maskOff := (bbox.Min.Y + y) * mask.Stride
			off := img.PixOffset(bbox.Min.X, bbox.Min.Y+y)
			for x := 0; x < w; x++ {
				set := mask.Pix[maskOff+bbox.Min.X+x] != 0
				if (sel == RegionSaturated) == set {
					img.Pix[off+x*3+ch] = mapped[y*w+x]
				}
			}
		}
	}
}

// claheApply equalizes a w×h buffer with per-tile clipped histograms and
// bilinear interpolation between tile mappings.
func claheApply(src []uint8, w, h int, opts CLAHEOptions) []uint8 {
	tilesX, tilesY := opts.TileW, opts.TileH
	if tilesX > w {
		tilesX = max(1, w)
	}
	if tilesY > h {
		tilesY = max(1, h)
	}
	tw := (w + tilesX - 1) / tilesX
	th := (h + tilesY - 1) / tilesY

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tw, ty*th
			x1, y1 := min(x0+tw, w), min(y0+th, h)
			luts[ty*tilesX+tx] = tileLUT(src, w, x0, y0, x1, y1, opts.ClipLimit)
		}
	}

	dst := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/float64(th) - 0.5
		ty0 := int(math.Floor(fy))
		wy := fy - float64(ty0)
		ty1 := clampInt(ty0+1, 0, tilesY-1)
		ty0 = clampInt(ty0, 0, tilesY-1)

		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/float64(tw) - 0.5
			tx0 := int(math.Floor(fx))
			wx := fx - float64(tx0)
			tx1 := clampInt(tx0+1, 0, tilesX-1)
			tx0 = clampInt(tx0, 0, tilesX-1)

			v := src[y*w+x]
			top := (1-wx)*float64(luts[ty0*tilesX+tx0][v]) + wx*float64(luts[ty0*tilesX+tx1][v])
			bot := (1-wx)*float64(luts[ty1*tilesX+tx0][v]) + wx*float64(luts[ty1*tilesX+tx1][v])
			dst[y*w+x] = uint8(clampInt(int(math.Round((1-wy)*top+wy*bot)), 0, 255))
		}
	}
	return dst
}

// tileLUT builds the clipped-histogram equalization mapping for one tile.
func tileLUT(src []uint8, stride, x0, y0, x1, y1 int, clip float64) [256]uint8 {
	var hist [256]int
	area := (x1 - x0) * (y1 - y0)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[src[y*stride+x]]++
		}
	}

	// Clip and redistribute the excess uniformly.
	limit := int(clip * float64(area) / 256)
	if limit < 1 {
		limit = 1
	}
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	share := excess / 256
	rem := excess % 256
	for i := range hist {
		hist[i] += share
		if i < rem {
			hist[i]++
		}
	}

	var lut [256]uint8
	scale := 255.0 / float64(area)
	cdf := 0
	for i := range hist {
		cdf += hist[i]
		lut[i] = uint8(clampInt(int(math.Round(float64(cdf)*scale)), 0, 255))
	}
	return lut
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
