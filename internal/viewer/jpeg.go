package viewer

import (
	"image"
	"io"

	"github.com/pixiv/go-libjpeg/jpeg"
	xdraw "golang.org/x/image/draw"
)

const jpegQuality = 90

// encodeJPEG writes img as JPEG, downscaling to maxWidth first when the
// frame is wider (0 disables scaling). Grayscale frames encode directly;
// everything else goes through an RGBA copy since the encoder only knows
// the standard image types.
func encodeJPEG(w io.Writer, img image.Image, maxWidth int) error {
	b := img.Bounds()
	if maxWidth > 0 && b.Dx() > maxWidth {
		h := b.Dy() * maxWidth / b.Dx()
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		img = dst
	}

	switch v := img.(type) {
	case *image.Gray, *image.RGBA:
		return jpeg.Encode(w, v, &jpeg.EncoderOptions{Quality: jpegQuality})
	default:
		b := img.Bounds()
		rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
		return jpeg.Encode(w, rgba, &jpeg.EncoderOptions{Quality: jpegQuality})
	}
}
