package imaging

import (
	"image"
	"image/color"
)

// DrawContours rasterizes contour chains onto a 3-channel image as closed
// polylines in the given color. thickness 1 draws single pixels, larger
// values stamp a square brush of that side length. Points outside the
// canvas clip silently, so shifted contours may be drawn unguarded.
func DrawContours(dst *RGB, contours []Contour, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	for _, contour := range contours {
		switch len(contour) {
		case 0:
			continue
		case 1:
			stamp(dst, contour[0].X, contour[0].Y, c, thickness)
		default:
			for i := 0; i < len(contour); i++ {
				p0 := contour[i]
				p1 := contour[(i+1)%len(contour)] // close the loop
				drawLine(dst, p0, p1, c, thickness)
			}
		}
	}
}

// drawLine rasterizes a segment with Bresenham's algorithm.
func drawLine(dst *RGB, p0, p1 image.Point, c color.RGBA, thickness int) {
	dx := abs(p1.X - p0.X)
	dy := -abs(p1.Y - p0.Y)
	sx := 1
	if p0.X > p1.X {
		sx = -1
	}
	sy := 1
	if p0.Y > p1.Y {
		sy = -1
	}
	err := dx + dy

	x, y := p0.X, p0.Y
	for {
		stamp(dst, x, y, c, thickness)
		if x == p1.X && y == p1.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func stamp(dst *RGB, x, y int, c color.RGBA, thickness int) {
	if thickness == 1 {
		dst.SetRGBA(x, y, c)
		return
	}
	r := thickness / 2
	for oy := -r; oy <= thickness-1-r; oy++ {
		for ox := -r; ox <= thickness-1-r; ox++ {
			dst.SetRGBA(x+ox, y+oy, c)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
