// Package livefeed polls the inference API for the newest frame+mask
// snapshot of a streaming job and reconciles it into displayable state.
package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vantage-cv/vision-console/annotation-engine/pkg/types"
)

// ErrNotReady means the source has produced no frame yet. This is the
// expected steady state right after a stream starts, not a failure.
var ErrNotReady = errors.New("frame not ready yet")

// ErrNoFrame is returned by capture when no frame has ever been
// received.
var ErrNoFrame = errors.New("no frame available")

// Client fetches the latest frame+masks snapshot for a job.
type Client interface {
	LatestFrame(ctx context.Context, jobID string) (*types.LiveSnapshot, error)
}

// HTTPClient talks to the backend inference API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient returns a client for the inference API at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type latestFrameResponse struct {
	Frame string       `json:"frame"`
	Masks []types.Mask `json:"masks"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// LatestFrame fetches the newest snapshot for jobID. A not-found status
// maps to ErrNotReady; any other non-2xx status is a hard failure whose
// message comes from the error payload when present.
func (c *HTTPClient) LatestFrame(ctx context.Context, jobID string) (*types.LiveSnapshot, error) {
	endpoint := fmt.Sprintf("%s/inference/rtsp/%s/latest-frame", c.baseURL, url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build latest-frame request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("latest-frame request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotReady
	case resp.StatusCode != http.StatusOK:
		return nil, errors.New(errorMessage(resp))
	}

	var payload latestFrameResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode latest-frame response: %w", err)
	}

	return &types.LiveSnapshot{
		JobID:      jobID,
		Frame:      payload.Frame,
		Masks:      payload.Masks,
		ReceivedAt: time.Now(),
	}, nil
}

func errorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var payload errorResponse
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			return payload.Error
		}
	}
	return fmt.Sprintf("inference api returned status %d", resp.StatusCode)
}
