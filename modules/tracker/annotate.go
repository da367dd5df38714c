package tracker

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/e7canasta/orion-tracker/modules/recognizer"
)

// Mode selects what the worker draws.
type Mode string

const (
	// ModeOverlay draws a cross on every face and on the red blob.
	ModeOverlay Mode = "overlay"

	// ModeGate shows the camera only while exactly one face is visible:
	// no face shows the lock image, several faces show the warning image.
	ModeGate Mode = "gate"
)

// ParseMode validates a mode name ("" means overlay).
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeOverlay:
		return ModeOverlay, nil
	case ModeGate:
		return ModeGate, nil
	default:
		return "", fmt.Errorf("tracker: unknown mode %q (want %q or %q)", s, ModeOverlay, ModeGate)
	}
}

const (
	crossSize      = 30
	crossThickness = 3
)

var (
	faceColor = color.RGBA{G: 0xff, A: 0xff}
	blobColor = color.RGBA{R: 0xff, A: 0xff}
)

// Annotator draws recognition results onto camera frames.
type Annotator struct {
	mode    Mode
	blob    recognizer.BlobFinder
	lock    image.Image
	warning image.Image
}

// AnnotatorConfig configures NewAnnotator. Empty image paths select the
// built-in lock and warning cards.
type AnnotatorConfig struct {
	Mode         Mode
	LockImage    string
	WarningImage string
	Width        int
	Height       int
}

// NewAnnotator builds an annotator; blob may be nil for no blob tracking.
func NewAnnotator(cfg AnnotatorConfig, blob recognizer.BlobFinder) (*Annotator, error) {
	if blob == nil {
		blob = recognizer.NoBlob
	}
	a := &Annotator{mode: cfg.Mode, blob: blob}
	if a.mode == "" {
		a.mode = ModeOverlay
	}
	if a.mode != ModeGate {
		return a, nil
	}

	size := image.Pt(cfg.Width, cfg.Height)
	var err error
	if a.lock, err = loadCard(cfg.LockImage, size, color.RGBA{R: 0x1c, G: 0x2b, B: 0x4a, A: 0xff}, "LOCKED - NO FACE"); err != nil {
		return nil, err
	}
	if a.warning, err = loadCard(cfg.WarningImage, size, color.RGBA{R: 0xd9, G: 0x8c, B: 0x10, A: 0xff}, "WARNING - MULTIPLE FACES"); err != nil {
		return nil, err
	}
	return a, nil
}

// Mode returns the active mode.
func (a *Annotator) Mode() Mode { return a.mode }

// Annotate returns the image to upload and the blob position. img may be
// drawn on in place.
func (a *Annotator) Annotate(img *image.RGBA, faces []recognizer.Point) (image.Image, recognizer.Point) {
	if a.mode == ModeGate {
		switch len(faces) {
		case 0:
			return a.lock, recognizer.Point{}
		case 1:
		default:
			return a.warning, recognizer.Point{}
		}
	}

	blob := a.blob.FindBlob(img)
	for _, f := range faces {
		DrawCross(img, f, crossSize, faceColor)
	}
	if !blob.IsZero() {
		DrawCross(img, blob, crossSize, blobColor)
	}
	return img, blob
}

// DrawCross draws a plus sign of the given size centered at the normalized
// point p. p is clamped to the image and size to its smaller side.
func DrawCross(img draw.Image, p recognizer.Point, size int, c color.Color) {
	b := img.Bounds()
	if b.Empty() {
		return
	}
	size = clamp(size, 1, min(b.Dx(), b.Dy()))
	p.X = float32(clampF(float64(p.X), 0, 1))
	p.Y = float32(clampF(float64(p.Y), 0, 1))

	center := p.Pixel(b)
	half, t := size/2, crossThickness/2
	src := image.NewUniform(c)

	horizontal := image.Rect(center.X-half, center.Y-t, center.X+half+1, center.Y+t+1)
	vertical := image.Rect(center.X-t, center.Y-half, center.X+t+1, center.Y+half+1)
	draw.Draw(img, horizontal.Intersect(b), src, image.Point{}, draw.Src)
	draw.Draw(img, vertical.Intersect(b), src, image.Point{}, draw.Src)
}

// loadCard reads path, or renders a solid card with a caption when path
// is empty.
func loadCard(path string, size image.Point, bg color.RGBA, caption string) (image.Image, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("tracker: invalid card size %v", size)
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("tracker: opening card image: %w", err)
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return nil, fmt.Errorf("tracker: decoding %s: %w", path, err)
		}
		return img, nil
	}

	card := image.NewRGBA(image.Rectangle{Max: size})
	draw.Draw(card, card.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  card,
		Src:  image.White,
		Face: basicfont.Face7x13,
	}
	width := d.MeasureString(caption).Ceil()
	d.Dot = fixed.P((size.X-width)/2, size.Y/2)
	d.DrawString(caption)
	return card, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func clampF(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
