package annotserver

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vantage-cv/vision-console/annotation-engine/internal/colormap"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/config"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/metrics"
	"github.com/vantage-cv/vision-console/annotation-engine/pkg/types"
)

func testFramePayload(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// newTestServer wires a Server against a fake inference backend.
func newTestServer(t *testing.T, backend http.HandlerFunc) (*Server, *httptest.Server) {
	t.Helper()

	inference := httptest.NewServer(backend)
	t.Cleanup(inference.Close)

	cfg := config.Default()
	cfg.Inference.BaseURL = inference.URL
	cfg.Inference.PollInterval = 5 * time.Millisecond

	srv := NewServer(cfg, nil, metrics.New())
	t.Cleanup(srv.Reconciler().Stop)

	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)
	return srv, api
}

func notReadyBackend(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, `{"error":"no frame yet"}`, http.StatusNotFound)
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func createSession(t *testing.T, api string, width, height float64) string {
	t.Helper()
	resp, payload := doJSON(t, http.MethodPost, api+"/api/sessions", map[string]any{"width": width, "height": height})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	id, _ := payload["id"].(string)
	if id == "" {
		t.Fatalf("create session: no id in %v", payload)
	}
	return id
}

func promptCount(payload map[string]any) int {
	prompts, _ := payload["prompts"].([]any)
	return len(prompts)
}

func TestSessionLifecycle(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)
	id := createSession(t, api.URL, 640, 480)

	resp, payload := doJSON(t, http.MethodPost, api.URL+"/api/sessions/"+id+"/prompts/point",
		map[string]any{"x": 10, "y": 20, "foreground": true})
	if resp.StatusCode != http.StatusOK || promptCount(payload) != 1 {
		t.Fatalf("add point: status %d payload %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodPost, api.URL+"/api/sessions/"+id+"/prompts/box",
		map[string]any{"x1": 50, "y1": 60, "x2": 30, "y2": 40})
	if resp.StatusCode != http.StatusOK || promptCount(payload) != 2 {
		t.Fatalf("add box: status %d payload %v", resp.StatusCode, payload)
	}
	prompts := payload["prompts"].([]any)
	box := prompts[1].(map[string]any)
	if box["x1"].(float64) != 30 || box["y1"].(float64) != 40 {
		t.Fatalf("box corners not normalized: %v", box)
	}

	resp, payload = doJSON(t, http.MethodPost, api.URL+"/api/sessions/"+id+"/prompts/text",
		map[string]any{"value": "  cat  "})
	if resp.StatusCode != http.StatusOK || payload["added"] != true || promptCount(payload) != 3 {
		t.Fatalf("add text: status %d payload %v", resp.StatusCode, payload)
	}

	// Whitespace-only text is silently dropped.
	_, payload = doJSON(t, http.MethodPost, api.URL+"/api/sessions/"+id+"/prompts/text",
		map[string]any{"value": "   "})
	if payload["added"] != false || promptCount(payload) != 3 {
		t.Fatalf("empty text accepted: %v", payload)
	}

	resp, payload = doJSON(t, http.MethodDelete, api.URL+"/api/sessions/"+id+"/prompts/0", nil)
	if resp.StatusCode != http.StatusOK || promptCount(payload) != 2 {
		t.Fatalf("remove: status %d payload %v", resp.StatusCode, payload)
	}

	// Out-of-range removal is silently ignored.
	resp, payload = doJSON(t, http.MethodDelete, api.URL+"/api/sessions/"+id+"/prompts/99", nil)
	if resp.StatusCode != http.StatusOK || payload["removed"] != false || promptCount(payload) != 2 {
		t.Fatalf("out-of-range remove: status %d payload %v", resp.StatusCode, payload)
	}

	resp, payload = doJSON(t, http.MethodDelete, api.URL+"/api/sessions/"+id+"/prompts", nil)
	if resp.StatusCode != http.StatusOK || promptCount(payload) != 0 {
		t.Fatalf("clear: status %d payload %v", resp.StatusCode, payload)
	}

	resp, _ = doJSON(t, http.MethodDelete, api.URL+"/api/sessions/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete session: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, api.URL+"/api/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted session still served: status %d", resp.StatusCode)
	}
}

func TestPointDisplaySpaceMapping(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)
	id := createSession(t, api.URL, 100, 100)

	_, payload := doJSON(t, http.MethodPost, api.URL+"/api/sessions/"+id+"/prompts/point",
		map[string]any{"x": 10, "y": 15, "foreground": true, "displayWidth": 50, "displayHeight": 50})
	prompts := payload["prompts"].([]any)
	p := prompts[0].(map[string]any)
	if p["x"].(float64) != 20 || p["y"].(float64) != 30 {
		t.Fatalf("display coordinates not mapped: %v", p)
	}
}

func TestSetModeValidation(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)
	id := createSession(t, api.URL, 100, 100)

	resp, _ := doJSON(t, http.MethodPost, api.URL+"/api/sessions/"+id+"/mode", map[string]any{"mode": "box"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set mode: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, api.URL+"/api/sessions/"+id+"/mode", map[string]any{"mode": "scribble"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown mode: status %d, want 400", resp.StatusCode)
	}
}

func TestSessionNotFound(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)
	resp, _ := doJSON(t, http.MethodGet, api.URL+"/api/sessions/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRenderReturnsPNG(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)
	id := createSession(t, api.URL, 16, 16)

	classID := 2
	body, _ := json.Marshal(map[string]any{
		"frame": testFramePayload(t),
		"masks": []types.Mask{{InstanceID: 1, ClassID: &classID, ClassName: "cat", Confidence: 0.9,
			Polygon: [][2]float64{{0, 0}, {8, 0}, {8, 8}, {0, 8}}}},
	})
	resp, err := http.Post(api.URL+"/api/sessions/"+id+"/render", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("render: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("response is not a png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 16 {
		t.Fatalf("rendered size = %v, want 16x16", b)
	}
}

func TestRenderRejectsUndecodableFrame(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)
	id := createSession(t, api.URL, 16, 16)

	resp, _ := doJSON(t, http.MethodPost, api.URL+"/api/sessions/"+id+"/render",
		map[string]any{"frame": "!!garbage!!"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestCaptureBeforeFirstFrame(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)

	resp, payload := doJSON(t, http.MethodPost, api.URL+"/api/live/job-1/capture", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if payload["error"] != "no frame available" {
		t.Fatalf("error = %v", payload["error"])
	}
}

func TestLiveStatusForStoppedJob(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)
	resp, payload := doJSON(t, http.MethodGet, api.URL+"/api/live/job-1/status", nil)
	if resp.StatusCode != http.StatusOK || payload["state"] != "idle" {
		t.Fatalf("status %d payload %v", resp.StatusCode, payload)
	}
}

func TestLiveFeedTransitionsAndCapture(t *testing.T) {
	frame := testFramePayload(t)
	backend := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"frame": %q, "masks": []}`, frame)
	}
	_, api := newTestServer(t, backend)

	resp, _ := doJSON(t, http.MethodPost, api.URL+"/api/live/job-1/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, payload := doJSON(t, http.MethodGet, api.URL+"/api/live/job-1/status", nil)
		if payload["state"] == "ready" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("feed never became ready: %v", payload)
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, payload := doJSON(t, http.MethodPost, api.URL+"/api/live/job-1/capture", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capture: status %d payload %v", resp.StatusCode, payload)
	}
	snap, _ := payload["snapshot"].(map[string]any)
	if snap["jobId"] != "job-1" {
		t.Fatalf("capture snapshot = %v", snap)
	}
	if payload["persisted"] != false {
		t.Fatalf("persisted = %v with no store configured", payload["persisted"])
	}

	resp, _ = doJSON(t, http.MethodPost, api.URL+"/api/live/job-1/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status %d", resp.StatusCode)
	}
	_, payload = doJSON(t, http.MethodGet, api.URL+"/api/live/job-1/status", nil)
	if payload["state"] != "idle" {
		t.Fatalf("state after stop = %v", payload["state"])
	}
}

func TestLiveRestartEndsPreviousJobStreams(t *testing.T) {
	frame := testFramePayload(t)
	backend := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"frame": %q, "masks": []}`, frame)
	}
	srv, api := newTestServer(t, backend)

	doJSON(t, http.MethodPost, api.URL+"/api/live/job-a/start", nil)
	_, ch := srv.broadcast.Subscribe()

	doJSON(t, http.MethodPost, api.URL+"/api/live/job-b/start", nil)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("job-a stream still open after job-b start")
		}
	}
}

func TestLiveErrorSurfacesInStatus(t *testing.T) {
	backend := func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"model crashed"}`, http.StatusInternalServerError)
	}
	_, api := newTestServer(t, backend)

	doJSON(t, http.MethodPost, api.URL+"/api/live/job-1/start", nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, payload := doJSON(t, http.MethodGet, api.URL+"/api/live/job-1/status", nil)
		if payload["state"] == "error" {
			if payload["error"] != "model crashed" {
				t.Fatalf("error message = %v", payload["error"])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("feed never errored: %v", payload)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamRejectsUnknownJob(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)
	resp, _ := doJSON(t, http.MethodGet, api.URL+"/live/job-1/stream", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestClassColorEndpoint(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)

	resp, payload := doJSON(t, http.MethodGet, api.URL+"/api/classes/3/color", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if payload["classId"].(float64) != 3 {
		t.Fatalf("classId = %v", payload["classId"])
	}
	col := colormap.ForClass(3)
	if hex := payload["hex"]; hex != fmt.Sprintf("#%02x%02x%02x", col.R, col.G, col.B) {
		t.Fatalf("hex = %v", hex)
	}
	if hsl := payload["hsl"]; hsl != colormap.HSLString(3) {
		t.Fatalf("hsl = %v", hsl)
	}

	resp, _ = doJSON(t, http.MethodGet, api.URL+"/api/classes/car/color", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-integer class id: status = %d, want 400", resp.StatusCode)
	}
}

func TestCapturesUnavailableWithoutStore(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)

	for _, path := range []string{"/api/live/job-1/captures", "/api/live/job-1/captures/abc"} {
		resp, payload := doJSON(t, http.MethodGet, api.URL+path, nil)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("GET %s: status = %d, want 503", path, resp.StatusCode)
		}
		if payload["error"] != "snapshot store is disabled" {
			t.Fatalf("GET %s: error = %v", path, payload["error"])
		}
	}
}

func TestHealth(t *testing.T) {
	_, api := newTestServer(t, notReadyBackend)
	resp, payload := doJSON(t, http.MethodGet, api.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK || payload["status"] != "ok" {
		t.Fatalf("health: status %d payload %v", resp.StatusCode, payload)
	}
}

func TestStreamMJPEGWritesBoundaries(t *testing.T) {
	ch := make(chan []byte, 2)
	ch <- []byte("jpeg-one")
	ch <- []byte("jpeg-two")
	close(ch)

	rec := httptest.NewRecorder()
	streamMJPEG(rec, ch)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if strings.Count(body, "--frame") != 2 {
		t.Fatalf("boundary count = %d, want 2\n%s", strings.Count(body, "--frame"), body)
	}
	if !strings.Contains(body, "jpeg-one") || !strings.Contains(body, "jpeg-two") {
		t.Fatalf("frames missing from body:\n%s", body)
	}
}
