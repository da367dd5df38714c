package recognizer

import (
	"image"
	"image/color"
)

// HueRange is an inclusive hue interval on the 0-180 scale.
type HueRange struct{ Lo, Hi uint8 }

// RedFinder finds the centroid of saturated red pixels.
//
// Pixels are converted to HSV on the 8-bit 0-180 hue scale. A pixel counts
// when its hue falls in one of Hues and both saturation and value are at
// least MinSat and MinVal.
type RedFinder struct {
	Hues   []HueRange
	MinSat uint8
	MinVal uint8

	// Step samples every Step-th pixel in both directions (default 1).
	Step int
}

// NewRedFinder returns a finder with the default red thresholds.
func NewRedFinder() *RedFinder {
	return &RedFinder{
		Hues:   []HueRange{{0, 20}, {160, 180}},
		MinSat: 150,
		MinVal: 150,
		Step:   1,
	}
}

// FindBlob implements BlobFinder.
func (r *RedFinder) FindBlob(img image.Image) Point {
	b := img.Bounds()
	if b.Empty() {
		return Point{}
	}
	step := r.Step
	if step < 1 {
		step = 1
	}

	var sumX, sumY, n float64
	rgba, fast := img.(*image.RGBA)

	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			var c color.RGBA
			if fast {
				c = rgba.RGBAAt(x, y)
			} else {
				c = color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			}
			if r.match(c) {
				sumX += float64(x - b.Min.X)
				sumY += float64(y - b.Min.Y)
				n++
			}
		}
	}

	if n == 0 {
		return Point{}
	}
	return Point{
		X: float32(sumX / n / float64(b.Dx())),
		Y: float32(sumY / n / float64(b.Dy())),
	}
}

func (r *RedFinder) match(c color.RGBA) bool {
	h, s, v := hsv(c)
	if s < r.MinSat || v < r.MinVal {
		return false
	}
	for _, hr := range r.Hues {
		if h >= hr.Lo && h <= hr.Hi {
			return true
		}
	}
	return false
}

// hsv converts to 8-bit HSV with hue in [0,180).
func hsv(c color.RGBA) (h, s, v uint8) {
	r, g, b := int(c.R), int(c.G), int(c.B)
	max := r
	if g > max {
		max = g
	}
	if b > max {
		max = b
	}
	min := r
	if g < min {
		min = g
	}
	if b < min {
		min = b
	}

	v = uint8(max)
	if max == 0 {
		return 0, 0, v
	}
	delta := max - min
	s = uint8(255 * delta / max)
	if delta == 0 {
		return 0, s, v
	}

	var deg float64
	switch max {
	case r:
		deg = 60 * float64(g-b) / float64(delta)
	case g:
		deg = 120 + 60*float64(b-r)/float64(delta)
	default:
		deg = 240 + 60*float64(r-g)/float64(delta)
	}
	if deg < 0 {
		deg += 360
	}
	return uint8(deg / 2), s, v
}
