package inference

import (
	"image"

	"github.com/nfnt/resize"
)

// Preprocess resizes img to w x h and returns it as a normalized CHW RGB
// float32 tensor, the input layout YOLO exports expect.
func Preprocess(img image.Image, w, h int) []float32 {
	resized := resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	b := resized.Bounds()

	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			out[i] = float32(r>>8) / 255
			out[plane+i] = float32(g>>8) / 255
			out[2*plane+i] = float32(bl>>8) / 255
		}
	}
	return out
}
