package annotserver

import (
	"bytes"
	"context"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/vantage-cv/vision-console/annotation-engine/internal/livefeed"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/logger"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/render"
	"github.com/vantage-cv/vision-console/annotation-engine/pkg/types"
)

// FrameBroadcaster fans out overlay-painted JPEG frames to MJPEG
// subscribers of one live job. Frames are rendered once per snapshot
// and shared by all clients; a client that cannot keep up skips frames
// instead of blocking the others. Subscribers belong to the job that
// was active when they attached; a retarget ends their streams so
// frames never cross jobs.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	jobID   string

	pipeline *render.Pipeline
	opts     render.Options
	http     *http.Client
}

// NewFrameBroadcaster creates a broadcaster painting mask overlays with
// the given pipeline and render options.
func NewFrameBroadcaster(pipeline *render.Pipeline, opts render.Options, httpClient *http.Client) *FrameBroadcaster {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &FrameBroadcaster{
		clients:  make(map[int]chan []byte),
		pipeline: pipeline,
		opts:     opts,
		http:     httpClient,
	}
}

// Retarget switches the broadcaster to a new job. Every subscriber of
// the previous job has its channel closed, ending its stream. A no-op
// when the job is unchanged.
func (fb *FrameBroadcaster) Retarget(jobID string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.jobID == jobID {
		return
	}
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
	if fb.jobID != "" {
		logger.Info("FrameBroadcaster", "retargeted %s -> %s, previous subscribers closed", fb.jobID, jobID)
	}
	fb.jobID = jobID
}

// Subscribe adds a client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "client #%d subscribed (total: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "client #%d unsubscribed (remaining: %d)", id, len(fb.clients))
	}
}

// ClientCount reports the number of connected clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Publish renders the snapshot's frame with its mask overlay and fans
// the JPEG out to all subscribers. Snapshots for any job other than the
// current target are dropped, and rendering is skipped entirely when
// nobody is watching.
func (fb *FrameBroadcaster) Publish(snap *types.LiveSnapshot) {
	fb.mu.Lock()
	wrongJob := snap.JobID != fb.jobID
	clientCount := len(fb.clients)
	fb.mu.Unlock()
	if wrongJob || clientCount == 0 {
		return
	}

	data, err := fb.renderOverlay(snap)
	if err != nil {
		logger.Warn("FrameBroadcaster", "overlay render failed for job %s: %v", snap.JobID, err)
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client.
		}
	}
}

func (fb *FrameBroadcaster) renderOverlay(snap *types.LiveSnapshot) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	img, err := livefeed.ResolveFrame(ctx, fb.http, snap.Frame)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	surface := render.NewImageSurface(bounds.Dx(), bounds.Dy())
	fb.pipeline.Render(surface, img, snap.Masks, nil, nil, fb.opts)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, surface.Composite(), &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// streamMJPEG writes frames from the channel as a multipart MJPEG
// response until the client disconnects or the channel closes. When no
// new frame arrives for a while the last frame is resent to keep the
// connection alive.
func streamMJPEG(w http.ResponseWriter, frameCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	var last []byte
	for {
		var jpegData []byte
		select {
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			jpegData = data
			last = data
		case <-time.After(5 * time.Second):
			if last == nil {
				continue
			}
			jpegData = last
		}

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug("MJPEG", "client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("MJPEG", "client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()
	}
}
