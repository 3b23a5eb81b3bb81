// Package fusion composites two co-mounted cameras' grayscale views into a
// single frame: wherever cam1 is saturated, the registered cam2 pixel is
// substituted. The engine half of the package is pure functions over frame
// records; the worker half drives them from two synchronized capture
// streams.
package fusion

import (
	"fmt"
	"image"
	"image/color"

	"github.com/aesatchien/darkview/internal/imaging"
	"github.com/aesatchien/darkview/internal/types"
)

// CLAHEConfig gates the optional local contrast enhancement step.
type CLAHEConfig struct {
	Enabled   bool
	ClipLimit float64
	TileW     int
	TileH     int
}

// Params is the static alignment configuration for the engine.
//
// TrimX is the symmetric horizontal overlap trim: TrimX columns come off
// cam1's left edge and cam2's right edge (mirrored for negative values).
// TrimY is the signed vertical trim correcting the sensors' mounting
// offset: positive trims cam1's top and cam2's bottom, negative trims
// cam1's bottom and cam2's top.
type Params struct {
	TrimX int
	TrimY int

	Cam1Color color.RGBA
	Cam2Color color.RGBA

	// Cam1Shift and Cam2Shift re-project each camera's contours into the
	// cropped canvas before drawing. Both axes are independent per camera;
	// config derives the side-by-side mounting defaults (-TrimX, 0) and
	// (0, +TrimY) when no override is given.
	Cam1Shift image.Point
	Cam2Shift image.Point

	CLAHE CLAHEConfig
}

// DefaultContourShifts returns the contour re-projection shifts implied by
// the trim offsets for a horizontal side-by-side mounting.
func DefaultContourShifts(trimX, trimY int) (cam1, cam2 image.Point) {
	return image.Pt(-trimX, 0), image.Pt(0, trimY)
}

// CropShift trims two equal-sized buffers into spatial registration.
// Horizontal: x columns off a's left and b's right (x < 0 mirrors the
// edges). Vertical: y > 0 rows off a's top and b's bottom, y < 0 off a's
// bottom and b's top, y = 0 untouched. The same call must be applied to a
// camera pair's image buffers and mask buffers so geometry and mask stay
// co-registered.
func CropShift(a, b *image.Gray, x, y int) (*image.Gray, *image.Gray, error) {
	ab, bb := a.Bounds(), b.Bounds()
	w, h := ab.Dx(), ab.Dy()
	if bb.Dx() != w || bb.Dy() != h {
		return nil, nil, fmt.Errorf("fusion: mismatched buffer sizes %dx%d vs %dx%d", w, h, bb.Dx(), bb.Dy())
	}
	ax := abs(x)
	ay := abs(y)
	if ax >= w || ay >= h {
		return nil, nil, fmt.Errorf("fusion: trim (%d, %d) exceeds buffer %dx%d", x, y, w, h)
	}

	aRect := image.Rect(0, 0, w, h)
	bRect := image.Rect(0, 0, w, h)
	if x >= 0 {
		aRect.Min.X += x
		bRect.Max.X -= x
	} else {
		aRect.Max.X -= ax
		bRect.Min.X += ax
	}
	if y > 0 {
		aRect.Min.Y += y
		bRect.Max.Y -= y
	} else if y < 0 {
		aRect.Max.Y -= ay
		bRect.Min.Y += ay
	}

	return imaging.SubGray(a, aRect.Add(ab.Min)), imaging.SubGray(b, bRect.Add(bb.Min)), nil
}

// FuseImages starts from img1 and overwrites every pixel where mask1 is set
// with img2's value at the same coordinate. All three buffers must already
// be cropped to identical dimensions.
func FuseImages(img1, img2, mask1 *image.Gray) *image.Gray {
	b := img1.Bounds()
	w, h := b.Dx(), b.Dy()
	out := imaging.CloneGray(img1)
	for y := 0; y < h; y++ {
		mrow := mask1.Pix[y*mask1.Stride : y*mask1.Stride+w]
		srow := img2.Pix[y*img2.Stride : y*img2.Stride+w]
		drow := out.Pix[y*out.Stride : y*out.Stride+w]
		for x, m := range mrow {
			if m != 0 {
				drow[x] = srow[x]
			}
		}
	}
	return out
}

// Fuse produces a fused record from two time-aligned frame records.
//
// Pipeline: crop-and-shift both cameras' image and mask buffers, substitute
// cam2 pixels under cam1's saturation mask, optionally contrast-enhance the
// surviving and substituted regions independently, draw both cameras'
// re-projected contours, and pad both outputs back to the full canvas
// width with neutral gray. Fused and FusedWithOutline always share
// dimensions.
func Fuse(rec1, rec2 *types.FrameRecord, p Params) (*types.FusedRecord, error) {
	img1, img2, err := CropShift(rec1.Image, rec2.Image, p.TrimX, p.TrimY)
	if err != nil {
		return nil, err
	}
	mask1, _, err := CropShift(rec1.Mask, rec2.Mask, p.TrimX, p.TrimY)
	if err != nil {
		return nil, err
	}

	fused := FuseImages(img1, img2, mask1)

	if p.CLAHE.Enabled {
		opts := imaging.CLAHEOptions{
			ClipLimit: p.CLAHE.ClipLimit,
			TileW:     p.CLAHE.TileW,
			TileH:     p.CLAHE.TileH,
		}
		// The surviving cam1 content and the substituted cam2 content get
		// independent passes, each confined to the mask's bounding box.
		enhanced, err := imaging.EnhanceRegion(fused, mask1, imaging.RegionUnsaturated, opts)
		if err != nil {
			return nil, fmt.Errorf("fusion: contrast enhancement: %w", err)
		}
		enhanced, err = imaging.EnhanceRegion(enhanced, mask1, imaging.RegionSaturated, opts)
		if err != nil {
			return nil, fmt.Errorf("fusion: contrast enhancement: %w", err)
		}
		fused = enhanced.(*image.Gray)
	}

	outlined := imaging.GrayToRGB(fused)
	imaging.DrawContours(outlined, imaging.ShiftContours(rec1.Contours, p.Cam1Shift.X, p.Cam1Shift.Y), p.Cam1Color, 1)
	imaging.DrawContours(outlined, imaging.ShiftContours(rec2.Contours, p.Cam2Shift.X, p.Cam2Shift.Y), p.Cam2Color, 1)

	pad := abs(p.TrimX)
	return &types.FusedRecord{
		Timestamp:        types.MonotonicSeconds(),
		Fused:            imaging.PadGray(fused, pad, imaging.NeutralGray),
		FusedWithOutline: imaging.PadRGB(outlined, pad, imaging.NeutralGray),
		TraceID:          rec1.TraceID,
	}, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
