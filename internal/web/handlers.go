package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/logic/capture"
	"github.com/cjeanneret/CamGo/internal/output"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Session is the capture session driven by the HTTP commands.
// *capture.Controller implements it.
type Session interface {
	TakePhoto() (output.Artifact, error)
	TakePhotoWhileRecording() (output.Artifact, error)
	StartRecording() (output.Artifact, error)
	StopRecording() (output.Artifact, error)
	CycleFlash() (camera.FlashMode, error)
	SetFlashMode(mode camera.FlashMode) (camera.FlashMode, error)
	SetZoomFromSlider(progress int) (int, error)
	CurrentSliderValue() int
	SwitchCamera() error
	State() capture.State
	Artifacts() ([]output.Artifact, error)
	Subscribe() (<-chan capture.Event, func())
}

// ZoomRequest is the body of POST /zoom.
type ZoomRequest struct {
	Progress *int `json:"progress"`
}

// ValidateZoomRequest checks that a slider position was sent. Positions
// outside the zoom range are clamped by the session, not rejected.
func ValidateZoomRequest(z ZoomRequest) error {
	if z.Progress == nil {
		return errors.New("progress is required")
	}
	return nil
}

// FlashRequest is the body of POST /flash.
type FlashRequest struct {
	Mode string `json:"mode"`
}

// ArtifactResponse is returned by the photo and video commands.
type ArtifactResponse struct {
	Status   string           `json:"status"`
	Artifact *output.Artifact `json:"artifact,omitempty"`
	Error    string           `json:"error,omitempty"`
	Stage    string           `json:"stage,omitempty"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Session     Session
	staticFS    fs.FS
	upgrader    websocket.Upgrader
}

// NewHandlers creates handlers with the given dependencies.
// If session is nil, every command returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, session Session, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Session:     session,
		staticFS:    staticFS,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (h *Handlers) ready(w http.ResponseWriter) bool {
	if h.Session == nil {
		http.Error(w, "camera session not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps the session error taxonomy onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrConflictingOperation):
		return http.StatusConflict
	case errors.Is(err, capture.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrHardwareRejected):
		return http.StatusBadGateway
	case errors.Is(err, capture.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeArtifact answers a photo/video command. The artifact path is sent
// back on failure too so the client can clean up.
func (h *Handlers) writeArtifact(w http.ResponseWriter, okStatus int, okText string, art output.Artifact, err error) {
	resp := ArtifactResponse{Status: okText}
	if art.Path != "" {
		resp.Artifact = &art
	}
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		var ioErr *capture.IOError
		if errors.As(err, &ioErr) {
			resp.Stage = ioErr.Stage
		}
		h.Broadcaster.Broadcast("error", err.Error())
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, okStatus, resp)
}

// HandlePhoto handles POST /photo. The picture is saved asynchronously;
// completion shows up on the event feeds.
func (h *Handlers) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	art, err := h.Session.TakePhoto()
	h.writeArtifact(w, http.StatusAccepted, "capturing", art, err)
}

// HandlePhotoWhileRecording handles POST /photo/recording.
func (h *Handlers) HandlePhotoWhileRecording(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	art, err := h.Session.TakePhotoWhileRecording()
	h.writeArtifact(w, http.StatusAccepted, "capturing", art, err)
}

// HandleVideoStart handles POST /video/start.
func (h *Handlers) HandleVideoStart(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	art, err := h.Session.StartRecording()
	h.writeArtifact(w, http.StatusOK, "recording", art, err)
}

// HandleVideoStop handles POST /video/stop. Stopping while idle is not an error.
func (h *Handlers) HandleVideoStop(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	art, err := h.Session.StopRecording()
	h.writeArtifact(w, http.StatusOK, "stopped", art, err)
}

// HandleFlashCycle handles POST /flash/cycle.
func (h *Handlers) HandleFlashCycle(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	mode, err := h.Session.CycleFlash()
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"flash": mode.String(), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"flash": mode.String()})
}

// HandleFlashSet handles POST /flash with {"mode": "flash_on"}.
func (h *Handlers) HandleFlashSet(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req FlashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	requested, err := camera.ParseFlashMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mode, err := h.Session.SetFlashMode(requested)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"flash": mode.String(), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"flash": mode.String()})
}

// HandleZoom handles POST /zoom with {"progress": n}.
func (h *Handlers) HandleZoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.ready(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ZoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateZoomRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	zoom, err := h.Session.SetZoomFromSlider(*req.Progress)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]interface{}{"zoom": zoom, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"zoom": zoom, "slider": h.Session.CurrentSliderValue()})
}

// HandleCameraSwitch handles POST /camera/switch.
func (h *Handlers) HandleCameraSwitch(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.Session.SwitchCamera(); err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.Session.State())
}

// HandleState handles GET /state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Session.State())
}

// HandleArtifacts handles GET /artifacts: what is on disk, oldest first.
func (h *Handlers) HandleArtifacts(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	arts, err := h.Session.Artifacts()
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	if arts == nil {
		arts = []output.Artifact{}
	}
	writeJSON(w, http.StatusOK, arts)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// HandleEventsWS handles GET /events/ws: session events as JSON text frames.
func (h *Handlers) HandleEventsWS(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	events, unsub := h.Session.Subscribe()
	defer unsub()

	// The client never talks; reading only notices when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(h.Session.State()); err != nil {
		return
	}
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				log.Printf("websocket write to %s: %v", r.RemoteAddr, err)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
