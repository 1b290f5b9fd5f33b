package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/logic/capture"
	"github.com/cjeanneret/CamGo/internal/output"
)

// fakeSession returns canned results and records the slider requests.
type fakeSession struct {
	mu       sync.Mutex
	art      output.Artifact
	err      error
	flash    camera.FlashMode
	zoom     int
	maxZoom  int
	sliders  []int
	switched int
	listed   []output.Artifact
	events   chan capture.Event
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		art:     output.Artifact{Kind: output.Photo, Path: "/data/1700000000000.jpg", TimestampMillis: 1700000000000},
		maxZoom: 10,
		events:  make(chan capture.Event, 4),
	}
}

func (s *fakeSession) TakePhoto() (output.Artifact, error)               { return s.art, s.err }
func (s *fakeSession) TakePhotoWhileRecording() (output.Artifact, error) { return s.art, s.err }
func (s *fakeSession) StartRecording() (output.Artifact, error)          { return s.art, s.err }
func (s *fakeSession) StopRecording() (output.Artifact, error)           { return s.art, s.err }

func (s *fakeSession) CycleFlash() (camera.FlashMode, error) {
	if s.err != nil {
		return s.flash, s.err
	}
	s.flash = (s.flash + 1) % 3
	return s.flash, nil
}

func (s *fakeSession) SetFlashMode(m camera.FlashMode) (camera.FlashMode, error) {
	if s.err != nil {
		return s.flash, s.err
	}
	s.flash = m
	return s.flash, nil
}

func (s *fakeSession) SetZoomFromSlider(p int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sliders = append(s.sliders, p)
	p = max(0, min(p, s.maxZoom))
	s.zoom = s.maxZoom - p
	return s.zoom, s.err
}

func (s *fakeSession) CurrentSliderValue() int { return s.maxZoom - s.zoom }

func (s *fakeSession) SwitchCamera() error {
	if s.err != nil {
		return s.err
	}
	s.switched++
	return nil
}

func (s *fakeSession) State() capture.State {
	return capture.State{Mode: capture.Idle, Flash: s.flash.String(), Zoom: s.zoom, MaxZoom: s.maxZoom, Slider: s.maxZoom - s.zoom}
}

func (s *fakeSession) Artifacts() ([]output.Artifact, error) { return s.listed, s.err }

func (s *fakeSession) Subscribe() (<-chan capture.Event, func()) {
	return s.events, func() {}
}

func newTestHandlers(session Session) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(NewStatusBroadcaster(), session, staticFS)
}

func decodeArtifactResponse(t *testing.T, w *httptest.ResponseRecorder) ArtifactResponse {
	t.Helper()
	var resp ArtifactResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// ---------- ValidateZoomRequest ----------

func TestValidateZoomRequest(t *testing.T) {
	p := func(v int) *int { return &v }
	cases := []struct {
		name    string
		req     ZoomRequest
		wantErr bool
	}{
		{"min", ZoomRequest{p(0)}, false},
		{"max", ZoomRequest{p(10)}, false},
		{"missing", ZoomRequest{}, true},
		{"negative_is_clamped_later", ZoomRequest{p(-1)}, false},
		{"above_max_is_clamped_later", ZoomRequest{p(11)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateZoomRequest(tc.req)
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
		})
	}
}

// ---------- Commands ----------

func TestHandlePhoto_Accepted(t *testing.T) {
	h := newTestHandlers(newFakeSession())
	w := httptest.NewRecorder()
	h.HandlePhoto(w, httptest.NewRequest(http.MethodPost, "/photo", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	resp := decodeArtifactResponse(t, w)
	if resp.Status != "capturing" {
		t.Errorf("status field = %q, want \"capturing\"", resp.Status)
	}
	if resp.Artifact == nil || resp.Artifact.Path != "/data/1700000000000.jpg" {
		t.Errorf("artifact = %+v", resp.Artifact)
	}
}

func TestHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"conflict", fmt.Errorf("take photo: %w", capture.ErrConflictingOperation), http.StatusConflict},
		{"invalid_state", fmt.Errorf("switch: %w", capture.ErrInvalidState), http.StatusUnprocessableEntity},
		{"hardware", fmt.Errorf("trigger: %w", capture.ErrHardwareRejected), http.StatusBadGateway},
		{"io", &capture.IOError{Stage: "decode", Path: "/data/x.jpg", Err: errors.New("bad jpeg")}, http.StatusInternalServerError},
		{"closed", capture.ErrClosed, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newFakeSession()
			s.err = tc.err
			h := newTestHandlers(s)
			w := httptest.NewRecorder()
			h.HandleVideoStart(w, httptest.NewRequest(http.MethodPost, "/video/start", nil))

			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
			resp := decodeArtifactResponse(t, w)
			if resp.Status != "error" || resp.Error == "" {
				t.Errorf("response = %+v, want error status", resp)
			}
			if resp.Artifact == nil {
				t.Error("artifact path should be returned on failure")
			}
		})
	}
}

func TestHandlers_IOErrorCarriesStage(t *testing.T) {
	s := newFakeSession()
	s.err = &capture.IOError{Stage: "write", Path: s.art.Path, Err: errors.New("disk full")}
	h := newTestHandlers(s)
	w := httptest.NewRecorder()
	h.HandlePhotoWhileRecording(w, httptest.NewRequest(http.MethodPost, "/photo/recording", nil))

	if resp := decodeArtifactResponse(t, w); resp.Stage != "write" {
		t.Errorf("stage = %q, want \"write\"", resp.Stage)
	}
}

func TestHandleVideoStop_IdleHasNoArtifact(t *testing.T) {
	s := newFakeSession()
	s.art = output.Artifact{}
	h := newTestHandlers(s)
	w := httptest.NewRecorder()
	h.HandleVideoStop(w, httptest.NewRequest(http.MethodPost, "/video/stop", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decodeArtifactResponse(t, w); resp.Artifact != nil {
		t.Errorf("artifact = %+v, want none", resp.Artifact)
	}
}

func TestHandleZoom_OutOfRangeIsClamped(t *testing.T) {
	s := newFakeSession()
	h := newTestHandlers(s)
	w := httptest.NewRecorder()
	h.HandleZoom(w, httptest.NewRequest(http.MethodPost, "/zoom", strings.NewReader(`{"progress":11}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	if len(s.sliders) != 1 || s.sliders[0] != 11 {
		t.Errorf("session sliders = %v, want [11] passed through", s.sliders)
	}
	var resp map[string]int
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["zoom"] != 0 || resp["slider"] != 10 {
		t.Errorf("response = %v, want zoom 0 slider 10", resp)
	}
}

func TestHandleFlashSet(t *testing.T) {
	s := newFakeSession()
	h := newTestHandlers(s)
	w := httptest.NewRecorder()
	h.HandleFlashSet(w, httptest.NewRequest(http.MethodPost, "/flash", strings.NewReader(`{"mode":"flash_auto"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["flash"] != "flash_auto" || s.flash != camera.FlashAuto {
		t.Errorf("flash = %q (session %v), want flash_auto", resp["flash"], s.flash)
	}
}

func TestHandleFlashSet_BadRequests(t *testing.T) {
	for name, body := range map[string]string{
		"invalid_json": "not json",
		"unknown_mode": `{"mode":"flash_torch"}`,
		"missing_mode": `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newFakeSession()
			h := newTestHandlers(s)
			w := httptest.NewRecorder()
			h.HandleFlashSet(w, httptest.NewRequest(http.MethodPost, "/flash", strings.NewReader(body)))
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if s.flash != camera.FlashOff {
				t.Errorf("session flash changed to %v", s.flash)
			}
		})
	}
}

func TestHandleFlashSet_HardwareRejected(t *testing.T) {
	s := newFakeSession()
	s.err = fmt.Errorf("set flash: %w", capture.ErrHardwareRejected)
	h := newTestHandlers(s)
	w := httptest.NewRecorder()
	h.HandleFlashSet(w, httptest.NewRequest(http.MethodPost, "/flash", strings.NewReader(`{"mode":"flash_on"}`)))
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestHandleFlashCycle(t *testing.T) {
	h := newTestHandlers(newFakeSession())
	w := httptest.NewRecorder()
	h.HandleFlashCycle(w, httptest.NewRequest(http.MethodPost, "/flash/cycle", nil))

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["flash"] != "flash_on" {
		t.Errorf("flash = %q, want flash_on", resp["flash"])
	}
}

func TestHandleZoom_Valid(t *testing.T) {
	s := newFakeSession()
	h := newTestHandlers(s)
	w := httptest.NewRecorder()
	h.HandleZoom(w, httptest.NewRequest(http.MethodPost, "/zoom", strings.NewReader(`{"progress":3}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp map[string]int
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["zoom"] != 7 || resp["slider"] != 3 {
		t.Errorf("response = %v, want zoom 7 slider 3", resp)
	}
}

func TestHandleZoom_BadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"invalid_json", "not json"},
		{"missing_progress", `{}`},
		{"oversized", strings.Repeat("x", 2<<20)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newFakeSession()
			h := newTestHandlers(s)
			w := httptest.NewRecorder()
			h.HandleZoom(w, httptest.NewRequest(http.MethodPost, "/zoom", strings.NewReader(tc.body)))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if len(s.sliders) != 0 {
				t.Errorf("session should not be touched, got %v", s.sliders)
			}
		})
	}
}

func TestHandleZoom_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(newFakeSession())
	w := httptest.NewRecorder()
	h.HandleZoom(w, httptest.NewRequest(http.MethodGet, "/zoom", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleCameraSwitch_InvalidState(t *testing.T) {
	s := newFakeSession()
	s.err = fmt.Errorf("switch camera while recording: %w", capture.ErrInvalidState)
	h := newTestHandlers(s)
	w := httptest.NewRecorder()
	h.HandleCameraSwitch(w, httptest.NewRequest(http.MethodPost, "/camera/switch", nil))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if s.switched != 0 {
		t.Error("camera should not have switched")
	}
}

func TestHandlers_NilSession(t *testing.T) {
	h := newTestHandlers(nil)
	for _, fn := range []http.HandlerFunc{h.HandlePhoto, h.HandleVideoStart, h.HandleState, h.HandleFlashCycle} {
		w := httptest.NewRecorder()
		fn(w, httptest.NewRequest(http.MethodPost, "/", nil))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
		}
	}
}

func TestHandleState(t *testing.T) {
	s := newFakeSession()
	s.zoom = 2
	h := newTestHandlers(s)
	w := httptest.NewRecorder()
	h.HandleState(w, httptest.NewRequest(http.MethodGet, "/state", nil))

	var st map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st["mode"] != "idle" {
		t.Errorf("mode = %v, want idle", st["mode"])
	}
	if st["slider"] != float64(8) {
		t.Errorf("slider = %v, want 8", st["slider"])
	}
}

// ---------- ServeIndex ----------

func TestHandleArtifacts(t *testing.T) {
	s := newFakeSession()
	h := newTestHandlers(s)

	w := httptest.NewRecorder()
	h.HandleArtifacts(w, httptest.NewRequest(http.MethodGet, "/artifacts", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("empty listing = %s, want []", got)
	}

	s.listed = []output.Artifact{s.art, {Kind: output.Video, Path: "/data/1700000000500.mp4", TimestampMillis: 1700000000500}}
	w = httptest.NewRecorder()
	h.HandleArtifacts(w, httptest.NewRequest(http.MethodGet, "/artifacts", nil))
	var got []output.Artifact
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[1].Path != "/data/1700000000500.mp4" {
		t.Errorf("listing = %+v", got)
	}
}

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(newFakeSession())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

// ---------- Routing ----------

func TestServerMux_Routes(t *testing.T) {
	srv := NewServer(":0", NewStatusBroadcaster(), newFakeSession())
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/photo", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Errorf("POST /photo = %d, want %d", res.StatusCode, http.StatusAccepted)
	}

	res, err = http.Get(ts.URL + "/photo")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /photo = %d, want %d", res.StatusCode, http.StatusMethodNotAllowed)
	}

	res, err = http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	var body bytes.Buffer
	body.ReadFrom(res.Body)
	res.Body.Close()
	if !strings.Contains(body.String(), "CamGo") {
		t.Error("embedded index should be served at /")
	}
}

func TestLogRequests_PassesStatusAndFlusher(t *testing.T) {
	var flushed bool
	h := logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushed = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if !flushed {
		t.Error("wrapped writer should still be a Flusher for SSE")
	}
}

// ---------- Websocket ----------

func TestHandleEventsWS_StreamsStateThenEvents(t *testing.T) {
	s := newFakeSession()
	ts := httptest.NewServer(NewServer(":0", NewStatusBroadcaster(), s).Mux())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var st capture.State
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if st.MaxZoom != 10 {
		t.Errorf("max_zoom = %d, want 10", st.MaxZoom)
	}

	art := s.art
	s.events <- capture.Event{Kind: capture.EventPhotoSaved, Time: time.Now(), Artifact: &art}

	var evt capture.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Kind != capture.EventPhotoSaved || evt.Artifact == nil || evt.Artifact.Path != art.Path {
		t.Errorf("event = %+v", evt)
	}

	close(s.events)
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}
