// Package annotserver exposes the annotation engine over HTTP: prompt
// sessions, overlay rendering, live-feed control, MJPEG streaming, and
// snapshot capture.
package annotserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/vantage-cv/vision-console/annotation-engine/internal/colormap"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/config"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/geometry"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/livefeed"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/logger"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/metrics"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/render"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/session"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/snapshotstore"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/viewport"
	"github.com/vantage-cv/vision-console/annotation-engine/pkg/types"
)

// Server serves the annotation engine endpoints.
type Server struct {
	cfg        *config.Config
	sessions   *session.Manager
	events     *PromptEvents
	colors     *colormap.Table
	pipeline   *render.Pipeline
	reconciler *livefeed.Reconciler
	broadcast  *FrameBroadcaster
	store      *snapshotstore.Store
	registry   *metrics.Metrics
	http       *http.Client

	mu        sync.Mutex
	lastError string
}

// NewServer wires the engine components together. store may be nil when
// capture persistence is not configured.
func NewServer(cfg *config.Config, store *snapshotstore.Store, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New()
	}

	colors := colormap.NewTable()
	pipeline := render.NewPipeline(colors)
	opts := render.Options{
		Opacity:      cfg.Render.Opacity,
		ShowOutlines: cfg.Render.ShowOutlines,
		ShowLabels:   cfg.Render.ShowLabels,
	}
	httpClient := &http.Client{Timeout: cfg.Inference.RequestTimeout}

	client := livefeed.NewHTTPClient(cfg.Inference.BaseURL, cfg.Inference.RequestTimeout)
	reconciler := livefeed.NewReconciler(client, cfg.Inference.PollInterval, m)
	broadcast := NewFrameBroadcaster(pipeline, opts, httpClient)

	s := &Server{
		cfg:        cfg,
		sessions:   session.NewManager(),
		events:     NewPromptEvents(),
		colors:     colors,
		pipeline:   pipeline,
		reconciler: reconciler,
		broadcast:  broadcast,
		store:      store,
		registry:   m,
		http:       httpClient,
	}

	reconciler.OnFrame(func(snap *types.LiveSnapshot) {
		broadcast.Publish(snap)
	})
	reconciler.OnError(func(msg string) {
		s.mu.Lock()
		s.lastError = msg
		s.mu.Unlock()
		logger.Error("LiveFeed", "feed stopped: %s", msg)
	})

	return s
}

// Reconciler exposes the live-feed reconciler, mainly for shutdown.
func (s *Server) Reconciler() *livefeed.Reconciler { return s.reconciler }

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("POST /api/sessions/{id}/mode", s.handleSetMode)
	mux.HandleFunc("POST /api/sessions/{id}/prompts/point", s.handleAddPoint)
	mux.HandleFunc("POST /api/sessions/{id}/prompts/box", s.handleAddBox)
	mux.HandleFunc("POST /api/sessions/{id}/prompts/text", s.handleAddText)
	mux.HandleFunc("DELETE /api/sessions/{id}/prompts/{index}", s.handleRemovePrompt)
	mux.HandleFunc("DELETE /api/sessions/{id}/prompts", s.handleClearPrompts)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("POST /api/sessions/{id}/render", s.handleRender)

	mux.HandleFunc("POST /api/live/{jobId}/start", s.handleLiveStart)
	mux.HandleFunc("POST /api/live/{jobId}/stop", s.handleLiveStop)
	mux.HandleFunc("GET /api/live/{jobId}/status", s.handleLiveStatus)
	mux.HandleFunc("POST /api/live/{jobId}/capture", s.handleLiveCapture)
	mux.HandleFunc("GET /api/live/{jobId}/captures", s.handleCaptureList)
	mux.HandleFunc("GET /api/live/{jobId}/captures/{id}", s.handleCaptureGet)
	mux.HandleFunc("GET /live/{jobId}/stream", s.handleLiveStream)

	mux.HandleFunc("GET /api/classes/{classId}/color", s.handleClassColor)

	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "session not found"}, http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		writeJSONWithStatus(w, map[string]any{"error": "width and height must be positive"}, http.StatusBadRequest)
		return
	}

	sess := s.sessions.Create(req.Width, req.Height)
	sess.OnChange(func(prompts []types.Prompt) {
		s.events.Publish(sess.ID(), prompts)
	})
	s.registry.ActiveSessions.Add(1)
	logger.Info("Session", "created session %s (%gx%g)", sess.ID(), req.Width, req.Height)

	writeJSONWithStatus(w, sessionPayload(sess), http.StatusCreated)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, sessionPayload(sess))
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.sessions.Get(id); !ok {
		writeJSONWithStatus(w, map[string]any{"error": "session not found"}, http.StatusNotFound)
		return
	}
	s.sessions.Delete(id)
	s.events.DropSession(id)
	metrics.Dec(&s.registry.ActiveSessions)
	logger.Info("Session", "deleted session %s", id)
	writeJSON(w, map[string]any{"deleted": id})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}
	mode, ok := session.ParseMode(req.Mode)
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("unknown mode %q", req.Mode)}, http.StatusBadRequest)
		return
	}
	sess.SetMode(mode)
	writeJSON(w, map[string]any{"mode": string(mode)})
}

// displaySpace carries the optional on-screen dimensions of the canvas.
// When present, incoming coordinates are display-space and get mapped
// to image-pixel space before entering the session.
type displaySpace struct {
	DisplayWidth  float64 `json:"displayWidth"`
	DisplayHeight float64 `json:"displayHeight"`
}

func (d displaySpace) mapper(sess *session.Session) (viewport.Mapper, bool, error) {
	if d.DisplayWidth == 0 && d.DisplayHeight == 0 {
		return viewport.Mapper{}, false, nil
	}
	nw, nh := sess.NativeSize()
	m, err := viewport.NewMapper(d.DisplayWidth, d.DisplayHeight, nw, nh)
	if err != nil {
		return viewport.Mapper{}, false, err
	}
	return m, true, nil
}

func (s *Server) handleAddPoint(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
		Foreground bool    `json:"foreground"`
		displaySpace
	}
	req.Foreground = true
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}

	x, y := req.X, req.Y
	if m, mapped, err := req.mapper(sess); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	} else if mapped {
		x, y = m.ToImage(req.X, req.Y)
	}

	if nw, nh := sess.NativeSize(); !geometry.PointInBounds(x, y, nw, nh) {
		logger.Debug("Session", "point (%g, %g) outside %gx%g image", x, y, nw, nh)
	}
	sess.AddPoint(x, y, req.Foreground)
	s.registry.PromptsAdded.Add(1)
	writeJSON(w, map[string]any{"prompts": sess.Prompts()})
}

func (s *Server) handleAddBox(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		X1 float64 `json:"x1"`
		Y1 float64 `json:"y1"`
		X2 float64 `json:"x2"`
		Y2 float64 `json:"y2"`
		displaySpace
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}

	x1, y1, x2, y2 := req.X1, req.Y1, req.X2, req.Y2
	if m, mapped, err := req.mapper(sess); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	} else if mapped {
		x1, y1 = m.ToImage(req.X1, req.Y1)
		x2, y2 = m.ToImage(req.X2, req.Y2)
	}

	sess.BeginBox(x1, y1)
	sess.UpdateBox(x2, y2)
	if !sess.CommitBox() {
		writeJSONWithStatus(w, map[string]any{"error": "box was not committed"}, http.StatusInternalServerError)
		return
	}
	s.registry.PromptsAdded.Add(1)
	writeJSON(w, map[string]any{"prompts": sess.Prompts()})
}

func (s *Server) handleAddText(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}

	added := sess.AddText(req.Value)
	if added {
		s.registry.PromptsAdded.Add(1)
	}
	writeJSON(w, map[string]any{"added": added, "prompts": sess.Prompts()})
}

func (s *Server) handleRemovePrompt(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "index must be an integer"}, http.StatusBadRequest)
		return
	}
	removed := sess.Remove(index)
	writeJSON(w, map[string]any{"removed": removed, "prompts": sess.Prompts()})
}

func (s *Server) handleClearPrompts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Clear()
	writeJSON(w, map[string]any{"prompts": sess.Prompts()})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	// The current list seeds the new stream so a late subscriber does
	// not wait for the next mutation.
	id, ch := s.events.Subscribe(sess.ID(), sess.Prompts())
	defer s.events.Unsubscribe(sess.ID(), id)
	streamPromptEvents(w, ch)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Frame   string          `json:"frame"`
		Masks   []types.Mask    `json:"masks"`
		Options *render.Options `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid request body"}, http.StatusBadRequest)
		return
	}

	opts := render.Options{
		Opacity:      s.cfg.Render.Opacity,
		ShowOutlines: s.cfg.Render.ShowOutlines,
		ShowLabels:   s.cfg.Render.ShowLabels,
	}
	if req.Options != nil {
		opts = *req.Options
	}

	started := time.Now()
	nw, nh := sess.NativeSize()
	surface := render.NewImageSurface(int(nw), int(nh))

	if req.Frame != "" {
		img, err := livefeed.ResolveFrame(r.Context(), s.http, req.Frame)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("undecodable frame: %v", err)}, http.StatusUnprocessableEntity)
			return
		}
		s.pipeline.Render(surface, img, req.Masks, sess.Prompts(), sess.Draft(), opts)
	} else {
		s.pipeline.Render(surface, nil, req.Masks, sess.Prompts(), sess.Draft(), opts)
	}
	s.registry.ObserveRender(time.Since(started))

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, surface.Composite()); err != nil {
		logger.Debug("Render", "client disconnected during png write: %v", err)
	}
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()
	s.broadcast.Retarget(jobID)
	s.reconciler.Start(jobID)
	logger.Info("LiveFeed", "started feed for job %s", jobID)
	writeJSON(w, map[string]any{"jobId": jobID, "state": string(s.reconciler.State())})
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if s.reconciler.JobID() != jobID {
		writeJSONWithStatus(w, map[string]any{"error": "job is not running"}, http.StatusConflict)
		return
	}
	s.reconciler.Stop()
	logger.Info("LiveFeed", "stopped feed for job %s", jobID)
	writeJSON(w, map[string]any{"jobId": jobID, "state": string(s.reconciler.State())})
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	payload := map[string]any{
		"jobId": jobID,
		"state": string(s.reconciler.State()),
	}
	if s.reconciler.JobID() != jobID {
		payload["state"] = string(livefeed.StateIdle)
	}
	s.mu.Lock()
	if s.lastError != "" {
		payload["error"] = s.lastError
	}
	s.mu.Unlock()
	writeJSON(w, payload)
}

func (s *Server) handleLiveCapture(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	snap, err := s.reconciler.Snapshot()
	if err != nil {
		if errors.Is(err, livefeed.ErrNoFrame) {
			writeJSONWithStatus(w, map[string]any{"error": "no frame available"}, http.StatusConflict)
			return
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if snap.JobID != jobID {
		writeJSONWithStatus(w, map[string]any{"error": "job is not running"}, http.StatusConflict)
		return
	}

	payload := map[string]any{"snapshot": snap, "persisted": false}
	if s.store != nil && s.store.Enabled() {
		img, err := livefeed.ResolveFrame(r.Context(), s.http, snap.Frame)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("undecodable frame: %v", err)}, http.StatusUnprocessableEntity)
			return
		}
		capture, err := s.store.Save(r.Context(), snap, img)
		if err != nil {
			logger.Warn("Capture", "persist failed for job %s: %v", jobID, err)
		} else {
			payload["persisted"] = true
			payload["capture"] = capture
		}
	}
	writeJSON(w, payload)
}

func (s *Server) handleCaptureList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || !s.store.Enabled() {
		writeJSONWithStatus(w, map[string]any{"error": "snapshot store is disabled"}, http.StatusServiceUnavailable)
		return
	}
	jobID := r.PathValue("jobId")
	captures, err := s.store.List(r.Context(), jobID)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	sort.Slice(captures, func(i, j int) bool {
		return captures[i].CapturedAt.Before(captures[j].CapturedAt)
	})
	if captures == nil {
		captures = []*snapshotstore.Capture{}
	}
	writeJSON(w, map[string]any{"jobId": jobID, "captures": captures})
}

func (s *Server) handleCaptureGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || !s.store.Enabled() {
		writeJSONWithStatus(w, map[string]any{"error": "snapshot store is disabled"}, http.StatusServiceUnavailable)
		return
	}
	c, err := s.store.Get(r.Context(), r.PathValue("jobId"), r.PathValue("id"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if c == nil {
		writeJSONWithStatus(w, map[string]any{"error": "capture not found"}, http.StatusNotFound)
		return
	}
	writeJSON(w, c)
}

func (s *Server) handleClassColor(w http.ResponseWriter, r *http.Request) {
	classID, err := strconv.Atoi(r.PathValue("classId"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "classId must be an integer"}, http.StatusBadRequest)
		return
	}
	col := s.colors.ColorFor(classID)
	writeJSON(w, map[string]any{
		"classId": classID,
		"hex":     fmt.Sprintf("#%02x%02x%02x", col.R, col.G, col.B),
		"hsl":     colormap.HSLString(classID),
	})
}

func (s *Server) handleLiveStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if s.reconciler.JobID() != jobID {
		writeJSONWithStatus(w, map[string]any{"error": "job is not running"}, http.StatusConflict)
		return
	}
	id, frameCh := s.broadcast.Subscribe()
	defer s.broadcast.Unsubscribe(id)
	streamMJPEG(w, frameCh)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "ok",
		"sessions":  s.sessions.Len(),
		"liveState": string(s.reconciler.State()),
		"timestamp": float64(time.Now().Unix()),
	})
}

func sessionPayload(sess *session.Session) map[string]any {
	w, h := sess.NativeSize()
	payload := map[string]any{
		"id":      sess.ID(),
		"width":   w,
		"height":  h,
		"mode":    string(sess.Mode()),
		"prompts": sess.Prompts(),
	}
	if draft := sess.Draft(); draft != nil {
		payload["draft"] = draft
	}
	return payload
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
