package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/CamGo/internal/logic/capture"
)

// StatusEvent represents a single status message for SSE. Session events
// carry the event itself in Event.
type StatusEvent struct {
	Time  string         `json:"t"`
	Level string         `json:"l,omitempty"`
	Msg   string         `json:"msg"`
	Event *capture.Event `json:"event,omitempty"`
}

// backlogSize is how many session events a new client is replayed.
const backlogSize = 8

// StatusBroadcaster distributes status messages to multiple SSE clients.
// Session events are also kept in a short backlog so a page opened in the
// middle of a session sees the latest saves.
type StatusBroadcaster struct {
	mu      sync.Mutex
	clients map[chan string]struct{}
	backlog []string
	closed  bool
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
// After Close the channel is returned already closed.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	for _, payload := range b.backlog {
		ch <- payload
	}
	b.clients[ch] = struct{}{}

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[ch]; ok {
			delete(b.clients, ch)
			close(ch)
		}
	}
	return ch, unsub
}

// Close ends every stream. Later broadcasts are dropped.
func (b *StatusBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	}, false)
}

func (b *StatusBroadcaster) send(evt StatusEvent, keep bool) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if keep {
		b.backlog = append(b.backlog, payload)
		if len(b.backlog) > backlogSize {
			b.backlog = b.backlog[len(b.backlog)-backlogSize:]
		}
	}
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastEvent relays a session event; failures go out with level "error".
func (b *StatusBroadcaster) BroadcastEvent(e capture.Event) {
	level := "info"
	msg := string(e.Kind)
	if e.Artifact != nil {
		msg += " " + e.Artifact.Path
	}
	if e.Kind == capture.EventCaptureFailed {
		level = "error"
		msg += ": " + e.Error
	}
	b.send(StatusEvent{
		Time:  e.Time.Format(time.RFC3339),
		Level: level,
		Msg:   msg,
		Event: &e,
	}, true)
}

// Forward relays every event from events until the channel closes.
func (b *StatusBroadcaster) Forward(events <-chan capture.Event) {
	for e := range events {
		b.BroadcastEvent(e)
	}
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with log.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
