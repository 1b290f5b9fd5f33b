package capture

import (
	"sync"
	"time"

	"github.com/cjeanneret/CamGo/internal/output"
)

// EventKind names what happened in the session.
type EventKind string

const (
	EventPhotoSaved     EventKind = "photo_saved"
	EventVideoStarted   EventKind = "video_started"
	EventVideoSaved     EventKind = "video_saved"
	EventCaptureFailed  EventKind = "capture_failed"
	EventModeChanged    EventKind = "mode_changed"
	EventFlashChanged   EventKind = "flash_changed"
	EventZoomChanged    EventKind = "zoom_changed"
	EventCameraSwitched EventKind = "camera_switched"
)

// Event is published to every subscriber. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind     EventKind        `json:"kind"`
	Time     time.Time        `json:"time"`
	Artifact *output.Artifact `json:"artifact,omitempty"`
	Mode     Mode             `json:"mode"`
	Flash    string           `json:"flash,omitempty"`
	Zoom     int              `json:"zoom"`
	Slider   int              `json:"slider"`
	Front    bool             `json:"front_facing,omitempty"`
	Stage    string           `json:"stage,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// hub fans events out to any number of subscribers. Slow subscribers miss
// events rather than stall the session.
type hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *hub) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
