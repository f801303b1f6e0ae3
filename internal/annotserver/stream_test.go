package annotserver

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/vantage-cv/vision-console/annotation-engine/internal/colormap"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/render"
	"github.com/vantage-cv/vision-console/annotation-engine/pkg/types"
)

func broadcastSnapshot(t *testing.T, jobID string, size int) *types.LiveSnapshot {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	classID := 1
	return &types.LiveSnapshot{
		JobID: jobID,
		Frame: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Masks: []types.Mask{{InstanceID: 1, ClassID: &classID, ClassName: "cat", Confidence: 0.5,
			Polygon: [][2]float64{{1, 1}, {2, 1}, {2, 2}, {1, 2}}}},
		ReceivedAt: time.Now(),
	}
}

func newBroadcaster() *FrameBroadcaster {
	return NewFrameBroadcaster(render.NewPipeline(colormap.NewTable()), render.DefaultOptions(), nil)
}

func TestPublishSkipsWithoutClients(t *testing.T) {
	fb := newBroadcaster()
	fb.Retarget("job-1")
	// Must not block or panic with nobody subscribed.
	fb.Publish(broadcastSnapshot(t, "job-1", 8))
	if fb.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d", fb.ClientCount())
	}
}

func TestPublishDeliversJPEG(t *testing.T) {
	fb := newBroadcaster()
	fb.Retarget("job-1")
	id, ch := fb.Subscribe()
	defer fb.Unsubscribe(id)

	fb.Publish(broadcastSnapshot(t, "job-1", 8))

	select {
	case data := <-ch:
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("frame is not a jpeg: %v", err)
		}
		if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
			t.Fatalf("frame size = %v, want 8x8", b)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}
}

func TestPublishDropsWrongJobFrames(t *testing.T) {
	fb := newBroadcaster()
	fb.Retarget("job-b")
	id, ch := fb.Subscribe()
	defer fb.Unsubscribe(id)

	fb.Publish(broadcastSnapshot(t, "job-a", 8))

	select {
	case data := <-ch:
		t.Fatalf("subscriber received a frame from the wrong job (%d bytes)", len(data))
	default:
	}
}

func TestRetargetEndsOldJobSubscribers(t *testing.T) {
	fb := newBroadcaster()
	fb.Retarget("a")
	_, ch := fb.Subscribe()

	fb.Publish(broadcastSnapshot(t, "a", 8))

	fb.Retarget("b")
	fb.Publish(broadcastSnapshot(t, "b", 4))

	// The old subscriber may still drain frames queued before the
	// retarget, but every one of them must be a job-a frame, and the
	// channel must end.
	frames := 0
	for {
		data, open := <-ch
		if !open {
			break
		}
		frames++
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("frame is not a jpeg: %v", err)
		}
		if b := img.Bounds(); b.Dx() != 8 {
			t.Fatalf("old subscriber received a %dx%d frame from the new job", b.Dx(), b.Dy())
		}
	}
	if frames != 1 {
		t.Fatalf("drained %d frames, want the single pre-retarget frame", frames)
	}

	if fb.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d after retarget", fb.ClientCount())
	}
}

func TestSlowClientSkipsFrames(t *testing.T) {
	fb := newBroadcaster()
	fb.Retarget("job-1")
	id, ch := fb.Subscribe()
	defer fb.Unsubscribe(id)

	snap := broadcastSnapshot(t, "job-1", 8)
	for range 5 {
		fb.Publish(snap)
	}

	// Buffer holds two frames; the rest were dropped rather than
	// blocking the broadcaster.
	drained := 0
	for {
		select {
		case <-ch:
			drained++
			continue
		default:
		}
		break
	}
	if drained != 2 {
		t.Fatalf("drained %d frames, want 2", drained)
	}
}
