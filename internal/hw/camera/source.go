package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync/atomic"
)

// FrameSource yields the raw sensor output for one frame, encoded as JPEG.
// Implementations must be safe for concurrent use: the shutter worker and
// the recording loop read from the same source.
type FrameSource interface {
	Frame() ([]byte, error)
}

// FileSource re-reads a JPEG from disk on every frame. Useful when another
// process (gphoto2, a tethering tool) drops the latest shot at a fixed path.
type FileSource struct {
	Path string
}

func (s FileSource) Frame() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", s.Path, err)
	}
	return data, nil
}

// PatternSource synthesizes a gradient frame that shifts on every call.
type PatternSource struct {
	Width, Height int
	n             atomic.Uint64
}

// NewPatternSource creates a synthetic source of the given size.
func NewPatternSource(width, height int) *PatternSource {
	return &PatternSource{Width: width, Height: height}
}

func (s *PatternSource) Frame() ([]byte, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("invalid pattern size %dx%d", s.Width, s.Height)
	}
	shift := uint8(s.n.Add(1))

	img := image.NewNRGBA(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*255/s.Width) + shift,
				G: uint8(y * 255 / s.Height),
				B: shift,
				A: 0xff,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode pattern frame: %w", err)
	}
	return buf.Bytes(), nil
}
