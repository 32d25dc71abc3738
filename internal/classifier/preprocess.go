package classifier

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/nfnt/resize"
)

// Interpolation is the resize kernel the weights were produced with. Changing
// it silently degrades accuracy.
const Interpolation = resize.Bicubic

// Resize scales img to size x size. An image already at that size is only
// copied, never resampled.
func Resize(img image.Image, size int) *image.NRGBA {
	b := img.Bounds()
	var src image.Image = img
	if b.Dx() != size || b.Dy() != size {
		src = resize.Resize(uint(size), uint(size), img, Interpolation)
	}
	return toNRGBA(src)
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Preprocess turns img into the batched NHWC float32 tensor the network
// takes: RGB channel order, values left in 0..255. Scaling to the backbone's
// range happens inside the network graph.
func Preprocess(img image.Image, size int) ([]float32, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrDecode)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: target size %d", ErrShape, size)
	}

	resized := Resize(img, size)
	b := resized.Bounds()
	if b.Dx() != size || b.Dy() != size {
		return nil, fmt.Errorf("%w: resized to %dx%d, expected %dx%d", ErrShape, b.Dx(), b.Dy(), size, size)
	}

	const channels = 3
	out := make([]float32, size*size*channels)
	for y := 0; y < size; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+size*4]
		for x := 0; x < size; x++ {
			px := row[x*4 : x*4+4]
			i := (y*size + x) * channels
			out[i] = float32(px[0])
			out[i+1] = float32(px[1])
			out[i+2] = float32(px[2])
		}
	}
	return out, nil
}
