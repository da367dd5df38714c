// Package recognizer defines the recognition functions the tracker calls
// on each camera frame.
//
// Recognizers are pure functions over an image: they keep no state shared
// with the pipeline and are only ever called from the tracker goroutine.
// Results are normalized to [0,1]x[0,1], origin top-left.
package recognizer

import "image"

// Point is a normalized image coordinate.
type Point struct {
	X float32 `json:"x" msgpack:"x"`
	Y float32 `json:"y" msgpack:"y"`
}

// IsZero reports whether p is the "nothing found" point.
func (p Point) IsZero() bool { return p.X == 0 && p.Y == 0 }

// Pixel maps p onto an image of the given bounds.
func (p Point) Pixel(r image.Rectangle) image.Point {
	return image.Pt(
		r.Min.X+int(p.X*float32(r.Dx())),
		r.Min.Y+int(p.Y*float32(r.Dy())),
	)
}

// FaceFinder locates faces. Each returned point is a face center.
type FaceFinder interface {
	FindFaces(img image.Image) ([]Point, error)
}

// BlobFinder locates a single color blob; the zero Point means none.
type BlobFinder interface {
	FindBlob(img image.Image) Point
}

// FaceFinderFunc adapts a function to FaceFinder.
type FaceFinderFunc func(img image.Image) ([]Point, error)

func (f FaceFinderFunc) FindFaces(img image.Image) ([]Point, error) { return f(img) }

// BlobFinderFunc adapts a function to BlobFinder.
type BlobFinderFunc func(img image.Image) Point

func (f BlobFinderFunc) FindBlob(img image.Image) Point { return f(img) }

// NoFaces never finds a face.
var NoFaces FaceFinder = FaceFinderFunc(func(image.Image) ([]Point, error) { return nil, nil })

// NoBlob never finds a blob.
var NoBlob BlobFinder = BlobFinderFunc(func(image.Image) Point { return Point{} })
