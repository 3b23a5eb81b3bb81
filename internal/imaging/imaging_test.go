package imaging_test

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/aesatchien/darkview/internal/imaging"
)

func grayOf(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func setRect(img *image.Gray, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

// TestComputeMaskInclusiveThreshold validates the boundary pixel: a value
// exactly at the threshold counts as saturated.
func TestComputeMaskInclusiveThreshold(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 3, 1))
	src.Pix[0], src.Pix[1], src.Pix[2] = 249, 250, 251

	mask := imaging.ComputeMask(src, 250)

	want := []uint8{0, 255, 255}
	for i, v := range want {
		if mask.Pix[i] != v {
			t.Errorf("mask[%d] = %d, want %d", i, mask.Pix[i], v)
		}
	}
	if got := imaging.CountNonzero(mask); got != 2 {
		t.Errorf("CountNonzero = %d, want 2", got)
	}
	if pct := imaging.SaturationPct(mask); pct < 66.0 || pct > 67.0 {
		t.Errorf("SaturationPct = %.2f, want ~66.67", pct)
	}
}

func TestMaskBounds(t *testing.T) {
	mask := grayOf(10, 8, 0)
	if _, ok := imaging.MaskBounds(mask); ok {
		t.Fatal("MaskBounds of empty mask reported ok")
	}

	setRect(mask, image.Rect(3, 2, 7, 5), 255)
	bbox, ok := imaging.MaskBounds(mask)
	if !ok {
		t.Fatal("MaskBounds reported empty for nonzero mask")
	}
	if bbox != image.Rect(3, 2, 7, 5) {
		t.Errorf("bbox = %v, want (3,2)-(7,5)", bbox)
	}
}

// TestFindContoursEmpty: an all-zero mask yields no contours.
func TestFindContoursEmpty(t *testing.T) {
	if got := imaging.FindContours(grayOf(16, 16, 0)); len(got) != 0 {
		t.Errorf("FindContours(empty) = %d contours, want 0", len(got))
	}
}

// TestFindContoursSinglePixel: an isolated pixel is its own contour.
func TestFindContoursSinglePixel(t *testing.T) {
	mask := grayOf(5, 5, 0)
	mask.SetGray(2, 2, color.Gray{Y: 255})

	contours := imaging.FindContours(mask)
	if len(contours) != 1 {
		t.Fatalf("got %d contours, want 1", len(contours))
	}
	if len(contours[0]) != 1 || contours[0][0] != image.Pt(2, 2) {
		t.Errorf("contour = %v, want [(2,2)]", contours[0])
	}
}

// TestFindContoursRectangle: a filled block produces one external contour
// whose simplified chain retains the corners and stays on the boundary.
func TestFindContoursRectangle(t *testing.T) {
	mask := grayOf(8, 6, 0)
	region := image.Rect(1, 1, 5, 4)
	setRect(mask, region, 255)

	contours := imaging.FindContours(mask)
	if len(contours) != 1 {
		t.Fatalf("got %d contours, want 1", len(contours))
	}

	corners := []image.Point{{1, 1}, {4, 1}, {4, 3}, {1, 3}}
	for _, corner := range corners {
		if !containsPoint(contours[0], corner) {
			t.Errorf("contour %v missing corner %v", contours[0], corner)
		}
	}
	for _, p := range contours[0] {
		if !p.In(region) {
			t.Errorf("contour point %v outside region %v", p, region)
		}
		onEdge := p.X == 1 || p.X == 4 || p.Y == 1 || p.Y == 3
		if !onEdge {
			t.Errorf("contour point %v is interior, external trace must stay on the boundary", p)
		}
	}
}

// TestFindContoursTwoRegions: disjoint blobs trace independently, in
// raster order of their topmost-left pixels.
func TestFindContoursTwoRegions(t *testing.T) {
	mask := grayOf(12, 6, 0)
	setRect(mask, image.Rect(1, 1, 3, 3), 255)
	setRect(mask, image.Rect(8, 2, 11, 5), 255)

	contours := imaging.FindContours(mask)
	if len(contours) != 2 {
		t.Fatalf("got %d contours, want 2", len(contours))
	}
	if contours[0][0] != image.Pt(1, 1) {
		t.Errorf("first contour starts at %v, want (1,1)", contours[0][0])
	}
	if contours[1][0] != image.Pt(8, 2) {
		t.Errorf("second contour starts at %v, want (8,2)", contours[1][0])
	}
}

// TestFindContoursSimplifiesRuns: a straight 1-pixel line collapses to its
// endpoints instead of every boundary pixel.
func TestFindContoursSimplifiesRuns(t *testing.T) {
	mask := grayOf(9, 3, 0)
	setRect(mask, image.Rect(1, 1, 7, 2), 255)

	contours := imaging.FindContours(mask)
	if len(contours) != 1 {
		t.Fatalf("got %d contours, want 1", len(contours))
	}
	c := contours[0]
	if len(c) >= 12 {
		t.Errorf("contour has %d points, straight runs should simplify", len(c))
	}
	if !containsPoint(c, image.Pt(1, 1)) || !containsPoint(c, image.Pt(6, 1)) {
		t.Errorf("contour %v missing line endpoints", c)
	}
}

func TestShiftContours(t *testing.T) {
	in := []imaging.Contour{{{1, 2}, {3, 4}}}
	out := imaging.ShiftContours(in, -1, 5)
	if out[0][0] != image.Pt(0, 7) || out[0][1] != image.Pt(2, 9) {
		t.Errorf("shifted contour = %v", out)
	}
	if in[0][0] != image.Pt(1, 2) {
		t.Error("ShiftContours mutated its input")
	}
	if imaging.ShiftContours(nil, 1, 1) != nil {
		t.Error("ShiftContours(nil) should be nil")
	}
}

// TestDrawContours validates pixel placement and the off-canvas clip.
func TestDrawContours(t *testing.T) {
	dst := imaging.NewRGB(image.Rect(0, 0, 10, 10))
	red := color.RGBA{R: 255, A: 255}

	contour := imaging.Contour{{2, 2}, {6, 2}, {6, 5}, {2, 5}}
	imaging.DrawContours(dst, []imaging.Contour{contour}, red, 1)

	for _, p := range contour {
		r, _, _, _ := dst.At(p.X, p.Y).RGBA()
		if r == 0 {
			t.Errorf("corner %v not drawn", p)
		}
	}
	// Closing segment back to the first point.
	if r, _, _, _ := dst.At(2, 3).RGBA(); r == 0 {
		t.Error("closing edge pixel (2,3) not drawn")
	}

	// Points beyond the canvas must clip, not panic.
	imaging.DrawContours(dst, []imaging.Contour{{{-5, -5}, {20, 20}}}, red, 3)
}

// TestEnhanceRegionEmptyMask: no saturated pixels means the image passes
// through untouched, same pointer.
func TestEnhanceRegionEmptyMask(t *testing.T) {
	img := grayOf(16, 16, 100)
	out, err := imaging.EnhanceRegion(img, grayOf(16, 16, 0), imaging.RegionSaturated, imaging.CLAHEOptions{})
	if err != nil {
		t.Fatalf("EnhanceRegion: %v", err)
	}
	if out != image.Image(img) {
		t.Error("empty mask should return the input unchanged")
	}
}

func TestEnhanceRegionUnsupportedFormat(t *testing.T) {
	mask := grayOf(4, 4, 255)
	_, err := imaging.EnhanceRegion(image.NewRGBA(image.Rect(0, 0, 4, 4)), mask, imaging.RegionSaturated, imaging.CLAHEOptions{})
	if !errors.Is(err, imaging.ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

// TestEnhanceRegionConfinement: enhancement only writes pixels on the
// selected side of the mask inside its bounding box; everything else,
// including the input buffer, stays untouched.
func TestEnhanceRegionConfinement(t *testing.T) {
	img := grayOf(20, 20, 100)
	setRect(img, image.Rect(6, 6, 10, 10), 200)
	mask := grayOf(20, 20, 0)
	setRect(mask, image.Rect(6, 6, 10, 10), 255)

	out, err := imaging.EnhanceRegion(img, mask, imaging.RegionSaturated, imaging.CLAHEOptions{ClipLimit: 2})
	if err != nil {
		t.Fatalf("EnhanceRegion: %v", err)
	}
	enhanced, ok := out.(*image.Gray)
	if !ok {
		t.Fatalf("output type %T, want *image.Gray", out)
	}

	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			inRegion := x >= 6 && x < 10 && y >= 6 && y < 10
			if !inRegion && enhanced.GrayAt(x, y).Y != 100 {
				t.Fatalf("pixel (%d,%d) outside mask changed to %d", x, y, enhanced.GrayAt(x, y).Y)
			}
		}
	}
	if img.GrayAt(7, 7).Y != 200 {
		t.Error("EnhanceRegion mutated its input buffer")
	}
}

func TestPadGray(t *testing.T) {
	src := grayOf(4, 3, 42)
	out := imaging.PadGray(src, 2, imaging.NeutralGray)

	b := out.Bounds()
	if b.Dx() != 8 || b.Dy() != 3 {
		t.Fatalf("padded dims %dx%d, want 8x3", b.Dx(), b.Dy())
	}
	if out.GrayAt(0, 1).Y != imaging.NeutralGray || out.GrayAt(7, 1).Y != imaging.NeutralGray {
		t.Error("pad columns not filled with neutral gray")
	}
	if out.GrayAt(3, 1).Y != 42 {
		t.Error("original content displaced")
	}
	if imaging.PadGray(src, 0, 0) != src {
		t.Error("zero pad should return the source unchanged")
	}
}

func TestGrayToRGB(t *testing.T) {
	src := grayOf(3, 2, 0)
	src.SetGray(1, 1, color.Gray{Y: 77})

	rgb := imaging.GrayToRGB(src)
	r, g, b, _ := rgb.At(1, 1).RGBA()
	if r>>8 != 77 || g>>8 != 77 || b>>8 != 77 {
		t.Errorf("RGB(1,1) = (%d,%d,%d), want gray 77 replicated", r>>8, g>>8, b>>8)
	}
}

func containsPoint(c imaging.Contour, p image.Point) bool {
	for _, q := range c {
		if q == p {
			return true
		}
	}
	return false
}
