package imaging

import (
	"bytes"
	"fmt"
	"image"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Orientation is the EXIF orientation tag (0x0112) value.
type Orientation int

// Orientation values the correction table knows about. Mirrored EXIF
// variants (2, 4, 5, 7) fall back to no rotation.
const (
	OrientationNormal    Orientation = 1
	OrientationRotate180 Orientation = 3
	OrientationRotate90  Orientation = 6
	OrientationRotate270 Orientation = 8
)

// Rotation is a clockwise rotation in degrees: 0, 90, 180 or 270.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Rotations returns the rotations applied, in order, to correct o.
//
// The 180° tag is corrected by 180° followed by 270° (net 90° clockwise).
// That is how captures have always been corrected and it is kept on
// purpose until someone confirms the intended result.
func (o Orientation) Rotations() []Rotation {
	switch o {
	case OrientationRotate90:
		return []Rotation{Rotate90}
	case OrientationRotate180:
		return []Rotation{Rotate180, Rotate270}
	case OrientationRotate270:
		return []Rotation{Rotate270}
	default:
		return []Rotation{Rotate0}
	}
}

// NetRotation is the sum of Rotations modulo 360.
func (o Orientation) NetRotation() Rotation {
	sum := 0
	for _, r := range o.Rotations() {
		sum += int(r)
	}
	return Rotation(sum % 360)
}

func (o Orientation) String() string {
	switch o {
	case OrientationNormal:
		return "normal"
	case OrientationRotate90:
		return "rotate_90"
	case OrientationRotate180:
		return "rotate_180"
	case OrientationRotate270:
		return "rotate_270"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// ReadOrientation reads the EXIF orientation of a JPEG. Images without
// EXIF data, or without the tag, come back as OrientationNormal together
// with the lookup error.
func ReadOrientation(data []byte) (Orientation, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return OrientationNormal, fmt.Errorf("decode exif: %w", err)
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal, fmt.Errorf("orientation tag: %w", err)
	}
	v, err := tag.Int(0)
	if err != nil {
		return OrientationNormal, fmt.Errorf("orientation value: %w", err)
	}
	return Orientation(v), nil
}

// Orient applies the rotations for o, then the optional horizontal mirror.
// Mirroring happens last, around the rotated image's own center. All steps
// are composed into a single affine transform, so the pixels are resampled
// once.
func Orient(img *image.NRGBA, o Orientation, mirror bool) *image.NRGBA {
	p := newPlan(img.Bounds())
	for _, r := range o.Rotations() {
		p.rotate(r)
	}
	if mirror {
		p.flip()
	}
	return p.apply(img)
}

// Rotate returns img rotated clockwise by r. Unknown angles return img.
func Rotate(img *image.NRGBA, r Rotation) *image.NRGBA {
	p := newPlan(img.Bounds())
	p.rotate(r)
	return p.apply(img)
}

// FlipHorizontal mirrors img around its vertical center line.
func FlipHorizontal(img *image.NRGBA) *image.NRGBA {
	p := newPlan(img.Bounds())
	p.flip()
	return p.apply(img)
}

// plan accumulates source-to-destination affine steps and the size of the
// image after each of them.
type plan struct {
	m     f64.Aff3
	w, h  int
	steps int
}

func newPlan(b image.Rectangle) *plan {
	// Start from the bounds origin so sub-images map to (0, 0).
	return &plan{
		m: f64.Aff3{1, 0, float64(-b.Min.X), 0, 1, float64(-b.Min.Y)},
		w: b.Dx(),
		h: b.Dy(),
	}
}

// rotate appends a clockwise turn. The matrices map pixel edges onto pixel
// edges, so pixel centers land exactly on destination centers.
func (p *plan) rotate(r Rotation) {
	w, h := float64(p.w), float64(p.h)
	switch r {
	case Rotate90:
		p.then(f64.Aff3{0, -1, h, 1, 0, 0})
		p.w, p.h = p.h, p.w
	case Rotate180:
		p.then(f64.Aff3{-1, 0, w, 0, -1, h})
	case Rotate270:
		p.then(f64.Aff3{0, 1, 0, -1, 0, w})
		p.w, p.h = p.h, p.w
	}
}

// flip appends a horizontal mirror around the current center line.
func (p *plan) flip() {
	p.then(f64.Aff3{-1, 0, float64(p.w), 0, 1, 0})
}

// then composes next after the current transform.
func (p *plan) then(next f64.Aff3) {
	p.m = mul(next, p.m)
	p.steps++
}

func (p *plan) apply(img *image.NRGBA) *image.NRGBA {
	if p.steps == 0 {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, p.w, p.h))
	draw.NearestNeighbor.Transform(dst, p.m, img, img.Bounds(), draw.Src, nil)
	return dst
}

// mul returns a∘b: the transform applying b first, then a.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}
