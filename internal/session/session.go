// Package session owns the in-memory prompt list a user builds while
// annotating one image. Prompts live exactly as long as the editing
// screen; nothing here persists them.
package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vantage-cv/vision-console/annotation-engine/internal/geometry"
	"github.com/vantage-cv/vision-console/annotation-engine/pkg/types"
)

// Mode selects which prompt kind user gestures produce. Modes are
// mutually exclusive and switchable at any time.
type Mode string

const (
	ModePoint Mode = "point"
	ModeBox   Mode = "box"
	ModeText  Mode = "text"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModePoint, ModeBox, ModeText:
		return Mode(s), true
	default:
		return "", false
	}
}

// ChangeFunc receives the full updated prompt list after every mutation.
// Collaborators replace their copy wholesale; the list is never a diff.
type ChangeFunc func(prompts []types.Prompt)

// RedrawFunc is the explicit invalidation hook: every mutating operation
// schedules a full redraw through it.
type RedrawFunc func()

// Session is the stateful collection of user-authored prompts for one
// image. All mutations are serialized; no observer ever sees the list
// mid-mutation.
type Session struct {
	id           string
	nativeWidth  float64
	nativeHeight float64

	mu      sync.Mutex
	mode    Mode
	prompts []types.Prompt
	draft   *types.Prompt

	onChange []ChangeFunc
	redraw   RedrawFunc
}

// New creates a session for an image with the given native dimensions.
func New(nativeWidth, nativeHeight float64) *Session {
	return &Session{
		id:           uuid.NewString(),
		nativeWidth:  nativeWidth,
		nativeHeight: nativeHeight,
		mode:         ModePoint,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// NativeSize returns the image's native pixel dimensions.
func (s *Session) NativeSize() (float64, float64) {
	return s.nativeWidth, s.nativeHeight
}

// OnChange registers a collaborator notified with the full prompt list
// after every mutation.
func (s *Session) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// SetRedraw installs the redraw scheduler.
func (s *Session) SetRedraw(fn RedrawFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redraw = fn
}

// Mode returns the active prompt mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the prompt mode. Switching while a box drag is in
// progress cancels the drag without committing it.
func (s *Session) SetMode(mode Mode) {
	s.mu.Lock()
	s.mode = mode
	s.draft = nil
	s.mu.Unlock()
	s.scheduleRedraw()
}

// AddPoint appends a point prompt. Always succeeds.
func (s *Session) AddPoint(x, y float64, foreground bool) {
	s.mu.Lock()
	s.prompts = append(s.prompts, types.Prompt{
		Kind:       types.PromptPoint,
		X:          x,
		Y:          y,
		Foreground: foreground,
	})
	list := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(list)
}

// BeginBox starts a box drag at the given corner.
func (s *Session) BeginBox(x, y float64) {
	s.mu.Lock()
	s.draft = &types.Prompt{Kind: types.PromptBox, X1: x, Y1: y, X2: x, Y2: y}
	s.mu.Unlock()
	s.scheduleRedraw()
}

// UpdateBox moves the drag's floating corner. No-op without an active
// drag.
func (s *Session) UpdateBox(x, y float64) {
	s.mu.Lock()
	if s.draft == nil {
		s.mu.Unlock()
		return
	}
	s.draft.X2 = x
	s.draft.Y2 = y
	s.mu.Unlock()
	s.scheduleRedraw()
}

// CommitBox normalizes the drag corners and appends the box prompt.
// Zero-area boxes are committed too; downstream validation is the
// model's responsibility. Returns false without an active drag.
func (s *Session) CommitBox() bool {
	s.mu.Lock()
	if s.draft == nil {
		s.mu.Unlock()
		return false
	}
	x1, y1, x2, y2 := geometry.NormalizeBox(s.draft.X1, s.draft.Y1, s.draft.X2, s.draft.Y2)
	s.prompts = append(s.prompts, types.Prompt{
		Kind: types.PromptBox,
		X1:   x1, Y1: y1, X2: x2, Y2: y2,
	})
	s.draft = nil
	list := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(list)
	return true
}

// Draft returns a copy of the in-progress box, if any.
func (s *Session) Draft() *types.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return nil
	}
	d := *s.draft
	return &d
}

// AddText appends a text prompt with the trimmed value. An empty or
// whitespace-only value is a silent no-op.
func (s *Session) AddText(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, types.Prompt{Kind: types.PromptText, Value: trimmed})
	list := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(list)
	return true
}

// Remove deletes the prompt at index, preserving the order of the rest.
// Out-of-range indices fail silently.
func (s *Session) Remove(index int) bool {
	s.mu.Lock()
	if index < 0 || index >= len(s.prompts) {
		s.mu.Unlock()
		return false
	}
	s.prompts = append(s.prompts[:index], s.prompts[index+1:]...)
	list := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(list)
	return true
}

// Clear empties the prompt list unconditionally.
func (s *Session) Clear() {
	s.mu.Lock()
	s.prompts = nil
	s.draft = nil
	list := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(list)
}

// Prompts returns a copy of the current prompt list.
func (s *Session) Prompts() []types.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() []types.Prompt {
	out := make([]types.Prompt, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// notify runs outside the lock: the list passed along is already a
// consistent snapshot, and listeners may call back into the session.
func (s *Session) notify(list []types.Prompt) {
	s.mu.Lock()
	listeners := make([]ChangeFunc, len(s.onChange))
	copy(listeners, s.onChange)
	redraw := s.redraw
	s.mu.Unlock()

	if redraw != nil {
		redraw()
	}
	for _, fn := range listeners {
		fn(list)
	}
}

func (s *Session) scheduleRedraw() {
	s.mu.Lock()
	redraw := s.redraw
	s.mu.Unlock()
	if redraw != nil {
		redraw()
	}
}
