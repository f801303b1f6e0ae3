package livefeed

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
)

// ResolveFrame decodes an opaque frame payload into an image. Payloads
// may be data URLs, raw base64, or absolute http(s) URLs; only the
// latter causes a network fetch. Anything that fails to decode is a
// load failure for the caller to report; ResolveFrame never retries.
func ResolveFrame(ctx context.Context, httpClient *http.Client, payload string) (image.Image, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("empty frame payload")
	}

	switch {
	case strings.HasPrefix(payload, "data:"):
		return decodeDataURL(payload)
	case strings.HasPrefix(payload, "http://") || strings.HasPrefix(payload, "https://"):
		return fetchImage(ctx, httpClient, payload)
	default:
		return decodeBase64(payload)
	}
}

func decodeDataURL(payload string) (image.Image, error) {
	comma := strings.IndexByte(payload, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data url")
	}
	meta := payload[:comma]
	data := payload[comma+1:]
	if !strings.Contains(meta, ";base64") {
		return nil, fmt.Errorf("data url is not base64 encoded")
	}
	return decodeBase64(data)
}

func decodeBase64(data string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode frame base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode frame image: %w", err)
	}
	return img, nil
}

func fetchImage(ctx context.Context, httpClient *http.Client, src string) (image.Image, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build frame request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch frame: status %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode fetched frame: %w", err)
	}
	return img, nil
}
