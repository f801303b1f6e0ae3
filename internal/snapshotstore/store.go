// Package snapshotstore persists captured live-feed snapshots to Redis
// with a bounded lifetime. Captures are a convenience feature; when
// Redis is unreachable at startup the store disables itself and every
// save reports an error instead of blocking the feed.
package snapshotstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vantage-cv/vision-console/annotation-engine/internal/config"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/logger"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/metrics"
	"github.com/vantage-cv/vision-console/annotation-engine/pkg/types"
)

// Capture is one persisted snapshot: the mask set that was live at
// capture time plus a small JPEG thumbnail for listings.
type Capture struct {
	ID         string       `json:"id"`
	JobID      string       `json:"jobId"`
	Masks      []types.Mask `json:"masks"`
	Thumbnail  string       `json:"thumbnail"` // base64 JPEG
	CapturedAt time.Time    `json:"capturedAt"`
}

// Store writes captures to Redis under capture:{jobId}:{id} keys.
type Store struct {
	client   *redis.Client
	ttl      time.Duration
	thumbW   int
	enabled  bool
	registry *metrics.Metrics
}

// New connects to Redis and verifies the connection. A failed ping
// yields a disabled store rather than an error.
func New(cfg *config.Config, m *metrics.Metrics) *Store {
	if m == nil {
		m = metrics.New()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	s := &Store{
		client:   client,
		ttl:      cfg.Redis.TTL,
		thumbW:   cfg.Snapshot.ThumbnailWidth,
		enabled:  true,
		registry: m,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("SnapshotStore", "redis unreachable at %s, captures disabled: %v", cfg.Redis.Addr, err)
		s.enabled = false
	}
	return s
}

// Enabled reports whether captures can be persisted.
func (s *Store) Enabled() bool { return s.enabled }

// Save persists a capture built from the given snapshot and decoded
// frame. The frame is downscaled to the configured thumbnail width
// before encoding.
func (s *Store) Save(ctx context.Context, snap *types.LiveSnapshot, frame image.Image) (*Capture, error) {
	if !s.enabled {
		s.registry.SnapshotErrors.Add(1)
		return nil, fmt.Errorf("snapshot store is disabled")
	}

	thumb, err := encodeThumbnail(frame, s.thumbW)
	if err != nil {
		s.registry.SnapshotErrors.Add(1)
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	c := &Capture{
		ID:         uuid.New().String(),
		JobID:      snap.JobID,
		Masks:      snap.Masks,
		Thumbnail:  thumb,
		CapturedAt: time.Now(),
	}

	data, err := json.Marshal(c)
	if err != nil {
		s.registry.SnapshotErrors.Add(1)
		return nil, fmt.Errorf("marshal capture: %w", err)
	}

	key := captureKey(c.JobID, c.ID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.registry.SnapshotErrors.Add(1)
		return nil, fmt.Errorf("store capture: %w", err)
	}

	s.registry.SnapshotsSaved.Add(1)
	logger.Debug("SnapshotStore", "saved capture %s for job %s", c.ID, c.JobID)
	return c, nil
}

// Get fetches one capture. A missing key returns (nil, nil).
func (s *Store) Get(ctx context.Context, jobID, id string) (*Capture, error) {
	if !s.enabled {
		return nil, fmt.Errorf("snapshot store is disabled")
	}
	data, err := s.client.Get(ctx, captureKey(jobID, id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var c Capture
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal capture: %w", err)
	}
	return &c, nil
}

// List returns all captures stored for a job, most recent last. Order
// follows Redis scan order, so callers needing recency must sort by
// CapturedAt.
func (s *Store) List(ctx context.Context, jobID string) ([]*Capture, error) {
	if !s.enabled {
		return nil, fmt.Errorf("snapshot store is disabled")
	}
	var captures []*Capture
	iter := s.client.Scan(ctx, 0, captureKey(jobID, "*"), 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // expired between scan and get
			}
			return nil, err
		}
		var c Capture
		if err := json.Unmarshal(data, &c); err != nil {
			logger.Warn("SnapshotStore", "skipping corrupt capture %s: %v", iter.Val(), err)
			continue
		}
		captures = append(captures, &c)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return captures, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func captureKey(jobID, id string) string {
	return fmt.Sprintf("capture:%s:%s", jobID, id)
}

func encodeThumbnail(frame image.Image, width int) (string, error) {
	if frame == nil {
		return "", fmt.Errorf("nil frame")
	}
	if width > 0 && frame.Bounds().Dx() > width {
		frame = imaging.Resize(frame, width, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 80}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
