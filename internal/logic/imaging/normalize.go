// Package imaging turns raw sensor JPEGs into display-ready images:
// bounded size, upright orientation, optional front-camera mirror.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // decode PNG sources too
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/draw"

	"github.com/cjeanneret/CamGo/internal/debug"
)

const (
	// DefaultMaxEdge bounds the longer edge of a normalized image.
	DefaultMaxEdge = 640
	// DefaultQuality is the JPEG quality used on re-encode.
	DefaultQuality = 100
)

// Stage names the normalizer step that failed.
type Stage string

const (
	StageRead   Stage = "read"
	StageBounds Stage = "bounds"
	StageDecode Stage = "decode"
	StageEncode Stage = "encode"
	StageWrite  Stage = "write"
)

// StageError reports a failure tagged with the stage it happened in.
type StageError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("normalize %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("normalize %s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Normalizer is stateless apart from its settings and safe for concurrent use.
//
// The longest edge is only guaranteed to be <= the max edge (640 by default)
// when WithExactBound is on. Otherwise the integer sample factor leaves it
// below twice the max edge.
type Normalizer struct {
	maxEdge    int
	quality    int
	exactBound bool
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithMaxEdge sets the longer-edge bound (default 640).
func WithMaxEdge(px int) Option {
	return func(n *Normalizer) {
		if px > 0 {
			n.maxEdge = px
		}
	}
}

// WithQuality sets the JPEG quality, 1-100 (default 100).
func WithQuality(q int) Option {
	return func(n *Normalizer) {
		if q >= 1 && q <= 100 {
			n.quality = q
		}
	}
}

// WithExactBound adds a ratio-based pass after the integer sample step so
// the longer edge never exceeds the bound. Off by default: the integer
// sample factor alone can leave images up to twice the bound.
func WithExactBound(on bool) Option {
	return func(n *Normalizer) { n.exactBound = on }
}

// New returns a Normalizer with the given options.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{maxEdge: DefaultMaxEdge, quality: DefaultQuality}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// MaxEdge returns the configured longer-edge bound.
func (n *Normalizer) MaxEdge() int { return n.maxEdge }

// SampleFactor returns floor(longerEdge / maxEdge), never below 1.
func SampleFactor(width, height, maxEdge int) int {
	longer := width
	if height > longer {
		longer = height
	}
	if maxEdge <= 0 {
		return 1
	}
	f := longer / maxEdge
	if f < 1 {
		f = 1
	}
	return f
}

// Normalize decodes data and returns the bounded, upright, optionally
// mirrored image. data is not modified.
func (n *Normalizer) Normalize(data []byte, mirror bool) (*image.NRGBA, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &StageError{Stage: StageBounds, Err: err}
	}
	factor := SampleFactor(cfg.Width, cfg.Height, n.maxEdge)
	debug.Verbose("Normalizer: %dx%d, sample factor %d", cfg.Width, cfg.Height, factor)

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &StageError{Stage: StageDecode, Err: err}
	}

	img := downscale(src, cfg.Width/factor, cfg.Height/factor)
	if n.exactBound {
		img = n.fit(img)
	}

	orientation, err := ReadOrientation(data)
	if err != nil {
		debug.Verbose("Normalizer: no orientation (%v), keeping as is", err)
	}
	debug.Verbose("Normalizer: orientation %s, rotations %v, mirror %v", orientation, orientation.Rotations(), mirror)
	return Orient(img, orientation, mirror), nil
}

// Encode compresses img as JPEG at the configured quality.
func (n *Normalizer) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.quality}); err != nil {
		return nil, &StageError{Stage: StageEncode, Err: err}
	}
	return buf.Bytes(), nil
}

// NormalizeFile normalizes the JPEG at path in place. The file is replaced
// atomically, so it is left untouched unless the write stage succeeds.
func (n *Normalizer) NormalizeFile(path string, mirror bool) error {
	start := time.Now()
	defer debug.Elapsed("normalize "+filepath.Base(path), start)

	data, err := os.ReadFile(path)
	if err != nil {
		return &StageError{Stage: StageRead, Path: path, Err: err}
	}

	img, err := n.Normalize(data, mirror)
	if err != nil {
		return withPath(err, path)
	}

	out, err := n.Encode(img)
	if err != nil {
		return withPath(err, path)
	}

	if err := replaceFile(path, out); err != nil {
		return &StageError{Stage: StageWrite, Path: path, Err: err}
	}
	return nil
}

func withPath(err error, path string) error {
	if se, ok := err.(*StageError); ok {
		se.Path = path
		return se
	}
	return err
}

// replaceFile writes data next to path and renames it over path.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".normalize-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// downscale resamples src into a w x h NRGBA with its origin at 0,0.
func downscale(src image.Image, w, h int) *image.NRGBA {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	sb := src.Bounds()
	if sb.Dx() == w && sb.Dy() == h {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	return dst
}

func (n *Normalizer) fit(img *image.NRGBA) *image.NRGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	longer := w
	if h > longer {
		longer = h
	}
	if longer <= n.maxEdge {
		return img
	}
	return downscale(img, w*n.maxEdge/longer, h*n.maxEdge/longer)
}
