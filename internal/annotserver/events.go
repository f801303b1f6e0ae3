package annotserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vantage-cv/vision-console/annotation-engine/internal/logger"
	"github.com/vantage-cv/vision-console/annotation-engine/pkg/types"
)

// PromptEvents fans out prompt-list change events to SSE subscribers,
// keyed by session id. Every event carries the full prompt list, never
// a diff, so a subscriber that misses an event is consistent again on
// the next one.
type PromptEvents struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan []types.Prompt
	nextID int
}

// NewPromptEvents creates an empty event hub.
func NewPromptEvents() *PromptEvents {
	return &PromptEvents{subs: make(map[string]map[int]chan []types.Prompt)}
}

// Subscribe registers a listener for one session's prompt changes. A
// non-nil initial list is queued on the new channel only, so existing
// subscribers never see a duplicate event when someone else attaches.
func (pe *PromptEvents) Subscribe(sessionID string, initial []types.Prompt) (int, <-chan []types.Prompt) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	id := pe.nextID
	pe.nextID++
	ch := make(chan []types.Prompt, 4)
	if initial != nil {
		ch <- initial
	}
	if pe.subs[sessionID] == nil {
		pe.subs[sessionID] = make(map[int]chan []types.Prompt)
	}
	pe.subs[sessionID][id] = ch
	return id, ch
}

// Unsubscribe removes a listener.
func (pe *PromptEvents) Unsubscribe(sessionID string, id int) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if chans, ok := pe.subs[sessionID]; ok {
		if ch, ok := chans[id]; ok {
			close(ch)
			delete(chans, id)
		}
		if len(chans) == 0 {
			delete(pe.subs, sessionID)
		}
	}
}

// Publish delivers the full prompt list to every subscriber of the
// session. A full subscriber buffer drops the oldest queued list so the
// newest state always lands.
func (pe *PromptEvents) Publish(sessionID string, prompts []types.Prompt) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	for _, ch := range pe.subs[sessionID] {
		select {
		case ch <- prompts:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- prompts:
			default:
			}
		}
	}
}

// DropSession closes every subscriber of a deleted session.
func (pe *PromptEvents) DropSession(sessionID string) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	for _, ch := range pe.subs[sessionID] {
		close(ch)
	}
	delete(pe.subs, sessionID)
}

// streamPromptEvents writes promptsChange SSE events until the client
// disconnects or the channel closes.
func streamPromptEvents(w http.ResponseWriter, ch <-chan []types.Prompt) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case prompts, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(map[string]any{"prompts": prompts})
			if err != nil {
				logger.Error("SSE", "marshal prompt list: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: promptsChange\ndata: %s\n\n", data); err != nil {
				logger.Debug("SSE", "client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-time.After(30 * time.Second):
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
