// Package toast keeps the short-lived notifications shown to the user.
package toast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultDuration is how long a toast stays visible when no duration is given.
const DefaultDuration = 4000 * time.Millisecond

// Types
const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
	TypeInfo    Type = "info"
	TypeWarning Type = "warning"
)

// Events
const (
	Added   EventKind = "added"
	Removed EventKind = "removed"
)

var (
	ErrNoCenter = errors.New("toast: no center in context; the center must be initialized and attached before use")

	// mockable
	afterFunc = func(d time.Duration, f func()) timer { return time.AfterFunc(d, f) }
	newID     = func() string { return uuid.NewString() }
)

type (
	Type      string
	EventKind string

	Toast struct {
		ID        string
		Type      Type
		Title     string
		Message   string
		Duration  time.Duration
		CreatedAt time.Time
	}

	Event struct {
		Kind  EventKind
		Toast Toast
	}

	timer interface {
		Stop() bool
	}

	// Center tracks visible toasts. Every toast removes itself after its duration unless removed earlier.
	Center struct {
		defaultDuration time.Duration

		mu     sync.Mutex
		toasts []Toast
		timers map[string]timer
		subs   map[int]func(Event)
		nextID int
	}
)

func (t Type) Valid() bool {
	switch t {
	case TypeSuccess, TypeError, TypeInfo, TypeWarning:
		return true
	}
	return false
}

func (t Toast) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string `json:"id"`
		Type     Type   `json:"type"`
		Title    string `json:"title"`
		Message  string `json:"message,omitempty"`
		Duration int64  `json:"duration"` // ms
	}{t.ID, t.Type, t.Title, t.Message, t.Duration.Milliseconds()})
}

// NewCenter returns a Center whose toasts last defaultDuration unless they say otherwise.
// A non-positive defaultDuration means DefaultDuration.
func NewCenter(defaultDuration time.Duration) *Center {
	if defaultDuration <= 0 {
		defaultDuration = DefaultDuration
	}
	return &Center{
		defaultDuration: defaultDuration,
		timers:          make(map[string]timer),
		subs:            make(map[int]func(Event)),
	}
}

// Add shows a new toast and returns it with its ID and duration set.
// An unknown type is shown as info.
func (c *Center) Add(t Toast) Toast {
	t.ID = newID()
	if !t.Type.Valid() {
		t.Type = TypeInfo
	}
	if t.Duration <= 0 {
		t.Duration = c.defaultDuration
	}
	t.CreatedAt = time.Now()

	c.mu.Lock()
	c.toasts = append(c.toasts, t)
	id := t.ID
	c.timers[id] = afterFunc(t.Duration, func() { c.Remove(id) })
	subs := c.subscribers()
	c.mu.Unlock()

	emit(subs, Event{Kind: Added, Toast: t})
	return t
}

func (c *Center) Success(title, message string) Toast {
	return c.Add(Toast{Type: TypeSuccess, Title: title, Message: message})
}

func (c *Center) Error(title, message string) Toast {
	return c.Add(Toast{Type: TypeError, Title: title, Message: message})
}

func (c *Center) Info(title, message string) Toast {
	return c.Add(Toast{Type: TypeInfo, Title: title, Message: message})
}

func (c *Center) Warning(title, message string) Toast {
	return c.Add(Toast{Type: TypeWarning, Title: title, Message: message})
}

// Remove dismisses the toast. It reports false if the toast was already gone.
func (c *Center) Remove(id string) bool {
	c.mu.Lock()
	idx := -1
	for i, t := range c.toasts {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	removed := c.toasts[idx]
	c.toasts = append(c.toasts[:idx:idx], c.toasts[idx+1:]...)
	if tm, ok := c.timers[id]; ok {
		tm.Stop()
		delete(c.timers, id)
	}
	subs := c.subscribers()
	c.mu.Unlock()

	emit(subs, Event{Kind: Removed, Toast: removed})
	return true
}

// List returns the visible toasts, oldest first.
func (c *Center) List() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Toast, len(c.toasts))
	copy(out, c.toasts)
	return out
}

func (c *Center) Get(id string) (Toast, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.toasts {
		if t.ID == id {
			return t, true
		}
	}
	return Toast{}, false
}

// Subscribe registers fn for add and remove events. fn must not call back into the Center synchronously.
func (c *Center) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Clear removes every toast.
func (c *Center) Clear() {
	for _, t := range c.List() {
		c.Remove(t.ID)
	}
}

// subscribers must be called with c.mu held.
func (c *Center) subscribers() []func(Event) {
	subs := make([]func(Event), 0, len(c.subs))
	for i := 0; i < c.nextID; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func emit(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying the center.
func NewContext(ctx context.Context, c *Center) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the center attached to ctx, or ErrNoCenter.
func FromContext(ctx context.Context) (*Center, error) {
	if c, ok := ctx.Value(ctxKey{}).(*Center); ok && c != nil {
		return c, nil
	}
	return nil, ErrNoCenter
}
