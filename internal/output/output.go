// Package output allocates artifact paths under a base directory.
//
// Artifacts are plain files named <epoch-millis>.<ext>; there is no index
// or manifest, so discovery is filesystem-based only (see List).
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/CamGo/internal/debug"
)

// Kind is the type of a capture artifact.
type Kind int

const (
	Photo Kind = iota
	Video
)

// Ext returns the file extension (without dot) used for the kind.
// The video extension is a naming convention only: the container is up to
// the engine, and GPIOEngine writes raw MJPEG (JPEG frames back to back),
// not a playable MP4.
func (k Kind) Ext() string {
	if k == Video {
		return "mp4"
	}
	return "jpg"
}

func (k Kind) String() string {
	if k == Video {
		return "video"
	}
	return "photo"
}

// Artifact is a photo or video file. It exists from the moment its path is
// allocated, before any byte is written, so callers can always clean up.
type Artifact struct {
	Kind            Kind   `json:"kind"`
	Path            string `json:"path"`
	TimestampMillis int64  `json:"timestamp_millis"`
}

// ErrPathInUse is returned when the synthesized path was already handed out
// in this session or already exists on disk.
var ErrPathInUse = errors.New("artifact path already in use")

// Namer allocates artifact paths. It is safe for concurrent use.
type Namer struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	issued map[string]struct{}
}

// Option customizes a Namer.
type Option func(*Namer)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Namer) { n.now = now }
}

// NewNamer returns a Namer rooted at dir, resolved to an absolute path.
// The directory is created lazily on each allocation.
func NewNamer(dir string, opts ...Option) (*Namer, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir %q: %w", dir, err)
	}
	n := &Namer{
		dir:    abs,
		now:    time.Now,
		issued: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Dir returns the absolute base directory.
func (n *Namer) Dir() string { return n.dir }

// Allocate synthesizes <epoch-millis>.<ext> for the current time and
// returns the artifact. Two allocations within the same millisecond
// collide and the second fails with ErrPathInUse; the timestamp is never
// bumped to dodge the collision.
func (n *Namer) Allocate(kind Kind) (Artifact, error) {
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create base dir: %w", err)
	}

	ts := n.now().UnixMilli()
	path := filepath.Join(n.dir, strconv.FormatInt(ts, 10)+"."+kind.Ext())

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.issued[path]; ok {
		return Artifact{}, fmt.Errorf("%s: %w", path, ErrPathInUse)
	}
	if _, err := os.Stat(path); err == nil {
		return Artifact{}, fmt.Errorf("%s: %w", path, ErrPathInUse)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Artifact{}, fmt.Errorf("stat %s: %w", path, err)
	}
	n.issued[path] = struct{}{}

	debug.Verbose("Namer: allocated %s", path)
	return Artifact{Kind: kind, Path: path, TimestampMillis: ts}, nil
}

// List discovers artifacts in dir by their naming rule, oldest first.
// Files that do not follow <epoch-millis>.jpg|mp4 are ignored.
func List(dir string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var out []Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		var kind Kind
		switch strings.ToLower(ext) {
		case ".jpg":
			kind = Photo
		case ".mp4":
			kind = Video
		default:
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(name, ext), 10, 64)
		if err != nil || ts < 0 {
			continue
		}
		out = append(out, Artifact{Kind: kind, Path: filepath.Join(dir, name), TimestampMillis: ts})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TimestampMillis != out[j].TimestampMillis {
			return out[i].TimestampMillis < out[j].TimestampMillis
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}
