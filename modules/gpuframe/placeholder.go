package gpuframe

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
)

var (
	checkerDark  = color.RGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}
	checkerLight = color.RGBA{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff}
)

// placeholder is the 2x2 checkerboard shown before any frame has content.
var placeholder = sync.OnceValue(func() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, checkerDark)
	img.SetRGBA(1, 1, checkerDark)
	img.SetRGBA(1, 0, checkerLight)
	img.SetRGBA(0, 1, checkerLight)
	return img
})

// Placeholder returns the shared checkerboard image. Callers must not
// modify it.
func Placeholder() *image.RGBA {
	return placeholder()
}

// PlaceholderSized returns the checkerboard scaled to size, with hard
// pixel edges.
func PlaceholderSized(size image.Point) *image.RGBA {
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), Placeholder(), Placeholder().Bounds(), draw.Src, nil)
	return dst
}
