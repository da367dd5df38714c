package framesource

import (
	"context"
	"image"
	"sync"
)

// Sequence replays a fixed list of frames. A nil entry reads as an empty
// frame (ErrEndOfStream); so does reading past the end.
type Sequence struct {
	mu     sync.Mutex
	frames []*image.RGBA
	pos    int
}

// NewSequence returns a source over frames.
func NewSequence(frames ...*image.RGBA) *Sequence {
	return &Sequence{frames: frames}
}

func (s *Sequence) Read(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.frames) {
		return nil, ErrEndOfStream
	}
	img := s.frames[s.pos]
	s.pos++
	if img == nil {
		return nil, ErrEndOfStream
	}
	return img, nil
}

// Reads returns how many Read calls consumed an entry.
func (s *Sequence) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Sequence) Close() error { return nil }
