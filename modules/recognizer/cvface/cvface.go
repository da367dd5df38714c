// Package cvface finds faces with an OpenCV Haar cascade.
package cvface

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/e7canasta/orion-tracker/modules/recognizer"
)

// DefaultCascade is the stock OpenCV frontal face model file name.
const DefaultCascade = "haarcascade_frontalface_default.xml"

// Finder implements recognizer.FaceFinder. Not safe for concurrent use;
// the tracker goroutine owns it.
type Finder struct {
	classifier gocv.CascadeClassifier
	gray       gocv.Mat
}

// New loads the cascade at path.
func New(path string) (*Finder, error) {
	if path == "" {
		path = DefaultCascade
	}
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("cvface: cannot load cascade %q", path)
	}
	return &Finder{classifier: c, gray: gocv.NewMat()}, nil
}

// FindFaces implements recognizer.FaceFinder.
func (f *Finder) FindFaces(img image.Image) ([]recognizer.Point, error) {
	src, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return nil, fmt.Errorf("cvface: converting frame: %w", err)
	}
	defer src.Close()
	if src.Empty() {
		return nil, errors.New("cvface: empty frame")
	}

	gocv.CvtColor(src, &f.gray, grayCode(src))
	rects := f.classifier.DetectMultiScale(f.gray)

	cols, rows := float32(f.gray.Cols()), float32(f.gray.Rows())
	faces := make([]recognizer.Point, 0, len(rects))
	for _, r := range rects {
		c := r.Min.Add(r.Size().Div(2))
		faces = append(faces, recognizer.Point{X: float32(c.X) / cols, Y: float32(c.Y) / rows})
	}
	return faces, nil
}

// grayCode picks the conversion for what ImageToMatRGBA produced: it swaps
// RGBA/NRGBA images into BGRA order and falls back to 3-channel BGR for
// any other image type.
func grayCode(m gocv.Mat) gocv.ColorConversionCode {
	if m.Channels() == 3 {
		return gocv.ColorBGRToGray
	}
	return gocv.ColorBGRAToGray
}

// Close frees the classifier and scratch buffers.
func (f *Finder) Close() error {
	f.gray.Close()
	return f.classifier.Close()
}
