package livefeed

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLatestFrameNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"no frame yet"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	_, err := client.LatestFrame(context.Background(), "job-1")
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("error = %v, want ErrNotReady", err)
	}
}

func TestLatestFrameHardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model crashed"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	_, err := client.LatestFrame(context.Background(), "job-1")
	if err == nil || err.Error() != "model crashed" {
		t.Fatalf("error = %v, want message from error payload", err)
	}
}

func TestLatestFrameDecodesSnapshot(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"frame": "ZnJhbWU=",
			"masks": [
				{"instanceId": 1, "classId": 3, "className": "dog", "confidenceScore": 0.87,
				 "boundingBox": {"x": 1, "y": 2, "width": 3, "height": 4},
				 "polygon": [[1,2],[4,2],[4,6]]}
			]
		}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/", time.Second)
	snap, err := client.LatestFrame(context.Background(), "cam 7")
	if err != nil {
		t.Fatalf("LatestFrame: %v", err)
	}
	if gotPath != "/inference/rtsp/cam%207/latest-frame" {
		t.Fatalf("request path = %q", gotPath)
	}
	if snap.JobID != "cam 7" || snap.Frame != "ZnJhbWU=" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(snap.Masks) != 1 {
		t.Fatalf("masks = %d, want 1", len(snap.Masks))
	}
	m := snap.Masks[0]
	if m.ClassID == nil || *m.ClassID != 3 || m.ClassName != "dog" || len(m.Polygon) != 3 {
		t.Fatalf("mask = %+v", m)
	}
	if snap.ReceivedAt.IsZero() {
		t.Fatal("ReceivedAt not stamped")
	}
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestResolveFrameDataURL(t *testing.T) {
	raw := encodePNG(t)
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	img, err := ResolveFrame(context.Background(), nil, payload)
	if err != nil {
		t.Fatalf("ResolveFrame: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Fatalf("bounds = %v", b)
	}
}

func TestResolveFrameRawBase64(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(encodePNG(t))
	if _, err := ResolveFrame(context.Background(), nil, payload); err != nil {
		t.Fatalf("ResolveFrame: %v", err)
	}
}

func TestResolveFrameHTTPURL(t *testing.T) {
	raw := encodePNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(raw)
	}))
	defer srv.Close()

	if _, err := ResolveFrame(context.Background(), srv.Client(), srv.URL); err != nil {
		t.Fatalf("ResolveFrame: %v", err)
	}
}

func TestResolveFrameRejectsGarbage(t *testing.T) {
	for _, payload := range []string{"", "data:image/png,notbase64", "!!not-base64!!"} {
		if _, err := ResolveFrame(context.Background(), nil, payload); err == nil {
			t.Errorf("payload %q: expected error", payload)
		}
	}
}
