package imaging

import "image"

// Contour is an ordered chain of boundary pixels describing the external
// outline of one connected mask region.
type Contour []image.Point

// moore is the clockwise 8-neighborhood walk order used by the boundary
// tracer, starting east.
var moore = [8]image.Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// dirIndex maps a unit offset back to its position in the moore ring.
var dirIndex = map[image.Point]int{
	{1, 0}: 0, {1, 1}: 1, {0, 1}: 2, {-1, 1}: 3,
	{-1, 0}: 4, {-1, -1}: 5, {0, -1}: 6, {1, -1}: 7,
}

// FindContours extracts the external boundary of every 8-connected foreground
// region in a binary mask, in raster-scan order of the regions' topmost-left
// pixels. Each contour is simplified by dropping interior points of straight
// runs, so a rectangle reduces to its corners. An all-zero mask yields an
// empty slice.
func FindContours(mask *image.Gray) []Contour {
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	at := func(x, y int) bool {
		if x < 0 || y < 0 || x >= w || y >= h {
			return false
		}
		return mask.Pix[y*mask.Stride+x] != 0
	}

	labels := make([]int32, w*h)
	var contours []Contour
	next := int32(0)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !at(x, y) || labels[y*w+x] != 0 {
				continue
			}
			next++
			floodLabel(mask, labels, w, h, x, y, next)
			c := traceBoundary(at, image.Pt(x, y))
			contours = append(contours, simplify(c))
		}
	}
	return contours
}

// floodLabel marks the 8-connected component containing (x0, y0) so the
// raster scan starts exactly one trace per region.
func floodLabel(mask *image.Gray, labels []int32, w, h, x0, y0 int, id int32) {
	stack := []image.Point{{x0, y0}}
	labels[y0*w+x0] = id
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range moore {
			nx, ny := p.X+d.X, p.Y+d.Y
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			idx := ny*w + nx
			if labels[idx] != 0 || mask.Pix[ny*mask.Stride+nx] == 0 {
				continue
			}
			labels[idx] = id
			stack = append(stack, image.Point{nx, ny})
		}
	}
}

// traceBoundary walks the external boundary clockwise using Moore-neighbor
// tracing. start must be the topmost-left pixel of its region, so the west
// neighbor is guaranteed background and serves as the initial backtrack.
//
// Invariant per step: backtrack indexes a background neighbor of cur; the
// clockwise scan from just past backtrack finds the next boundary pixel, and
// the background neighbor examined immediately before it becomes the new
// backtrack. Terminates on re-entering the start pixel toward the same
// second pixel as the first step.
func traceBoundary(at func(x, y int) bool, start image.Point) Contour {
	contour := Contour{start}
	cur := start
	backtrack := 4 // west
	var second image.Point
	haveSecond := false

	// Hard bound: a boundary cannot exceed the perimeter of the mask's
	// pixel set; 1<<22 covers any practical frame.
	for steps := 0; steps < 1<<22; steps++ {
		found := -1
		for k := 1; k <= 8; k++ {
			d := (backtrack + k) % 8
			if n := cur.Add(moore[d]); at(n.X, n.Y) {
				found = d
				break
			}
		}
		if found < 0 {
			// Isolated single pixel.
			return contour
		}

		nxt := cur.Add(moore[found])
		if haveSecond && cur == start && nxt == second {
			break
		}
		if !haveSecond {
			second = nxt
			haveSecond = true
		}

		// Background neighbor examined just before the hit; by
		// construction it is 8-adjacent to nxt as well.
		bg := cur.Add(moore[(found+7)%8])
		backtrack = dirIndex[bg.Sub(nxt)]

		contour = append(contour, nxt)
		cur = nxt
	}

	if len(contour) > 1 && contour[len(contour)-1] == contour[0] {
		contour = contour[:len(contour)-1]
	}
	return contour
}

// simplify removes interior points of straight 8-connected runs, keeping
// only direction changes (the chain approximation drawn by the preview
// overlay; full boundaries are never needed downstream).
func simplify(c Contour) Contour {
	if len(c) <= 2 {
		return c
	}
	out := Contour{c[0]}
	prevDir := c[1].Sub(c[0])
	for i := 2; i < len(c); i++ {
		dir := c[i].Sub(c[i-1])
		if dir != prevDir {
			out = append(out, c[i-1])
			prevDir = dir
		}
	}
	out = append(out, c[len(c)-1])
	return out
}

// ShiftContours translates every point of every contour by (dx, dy),
// returning new chains. Used to re-project contours detected in camera
// coordinates into the padded fused canvas.
func ShiftContours(contours []Contour, dx, dy int) []Contour {
	if len(contours) == 0 {
		return nil
	}
	out := make([]Contour, len(contours))
	for i, c := range contours {
		sc := make(Contour, len(c))
		for j, p := range c {
			sc[j] = image.Pt(p.X+dx, p.Y+dy)
		}
		out[i] = sc
	}
	return out
}
