package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"votingsync/observability"
)

// DefaultTTL is applied to non-persistent notifications that do not specify one.
const DefaultTTL = 5 * time.Second

// Kind classifies a notification for presentation.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
)

// Notification is a user-visible message.
type Notification struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"type"`
	Title      string        `json:"title"`
	Message    string        `json:"message"`
	TTL        time.Duration `json:"duration,omitempty"`
	Persistent bool          `json:"persistent"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Option customises a notification before it is recorded.
type Option func(*settings)

type settings struct {
	ttl        time.Duration
	persistent bool
}

// WithTTL overrides the auto-removal delay.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) { s.ttl = ttl }
}

// Persistent controls whether the notification stays until removed manually.
func Persistent(persistent bool) Option {
	return func(s *settings) { s.persistent = persistent }
}

// Timer is the handle returned by the scheduler; *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

// EventType distinguishes subscription events.
type EventType string

const (
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
)

// Event is delivered to subscribers whenever the log changes.
type Event struct {
	Type         EventType    `json:"event"`
	Notification Notification `json:"notification"`
}

// Center owns the notification log and the registry of in-flight transaction
// hashes. The two are independent: clearing one never touches the other.
type Center struct {
	logger     *slog.Logger
	metrics    *observability.CoordinatorMetrics
	now        func() time.Time
	afterFunc  AfterFunc
	defaultTTL time.Duration

	mu          sync.Mutex
	entries     []Notification
	timers      map[string]Timer
	pending     map[string]struct{}
	subscribers map[int]chan Event
	nextSub     int
}

// CenterOption customises a Center.
type CenterOption func(*Center)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) CenterOption {
	return func(c *Center) { c.logger = logger }
}

// WithMetrics overrides the metrics registry.
func WithMetrics(m *observability.CoordinatorMetrics) CenterOption {
	return func(c *Center) { c.metrics = m }
}

// WithClock sets the function used to stamp notifications.
func WithClock(now func() time.Time) CenterOption {
	return func(c *Center) { c.now = now }
}

// WithScheduler replaces time.AfterFunc, mainly for tests.
func WithScheduler(after AfterFunc) CenterOption {
	return func(c *Center) { c.afterFunc = after }
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) CenterOption {
	return func(c *Center) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// NewCenter constructs an empty notification center.
func NewCenter(opts ...CenterOption) *Center {
	c := &Center{
		logger:      slog.Default(),
		metrics:     observability.Coordinator(),
		now:         time.Now,
		defaultTTL:  DefaultTTL,
		timers:      make(map[string]Timer),
		pending:     make(map[string]struct{}),
		subscribers: make(map[int]chan Event),
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notify records a notification and returns its id. Errors are persistent
// unless overridden; everything else expires after the TTL.
func (c *Center) Notify(kind Kind, title, message string, opts ...Option) string {
	cfg := settings{ttl: c.defaultTTL, persistent: kind == KindError}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(message) == "" {
		message = title
	}
	n := Notification{
		ID:         uuid.NewString(),
		Kind:       kind,
		Title:      title,
		Message:    message,
		Persistent: cfg.persistent,
		CreatedAt:  c.now(),
	}
	if !n.Persistent {
		n.TTL = cfg.ttl
	}

	c.mu.Lock()
	c.entries = append(c.entries, n)
	if !n.Persistent && n.TTL > 0 {
		id := n.ID
		c.timers[id] = c.afterFunc(n.TTL, func() { c.Remove(id) })
	}
	c.publishLocked(Event{Type: EventAdded, Notification: n})
	c.mu.Unlock()

	c.metrics.RecordNotification(string(kind))
	c.logger.Debug("notification added", "kind", string(kind), "title", title)
	return n.ID
}

// Success records a success notification.
func (c *Center) Success(title, message string) string {
	return c.Notify(KindSuccess, title, message)
}

// Error records a persistent error notification.
func (c *Center) Error(title, message string) string {
	return c.Notify(KindError, title, message)
}

// Info records an informational notification.
func (c *Center) Info(title, message string) string {
	return c.Notify(KindInfo, title, message)
}

// Warning records a warning notification.
func (c *Center) Warning(title, message string) string {
	return c.Notify(KindWarning, title, message)
}

// Remove deletes the notification and cancels its expiry timer. Unknown ids
// are ignored.
func (c *Center) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[id]; ok {
		timer.Stop()
		delete(c.timers, id)
	}
	for i, n := range c.entries {
		if n.ID != id {
			continue
		}
		c.entries = append(c.entries[:i], c.entries[i+1:]...)
		c.publishLocked(Event{Type: EventRemoved, Notification: n})
		return
	}
}

// Clear removes every notification and cancels all timers.
func (c *Center) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	for _, n := range c.entries {
		c.publishLocked(Event{Type: EventRemoved, Notification: n})
	}
	c.entries = nil
}

// List returns the notifications in insertion order.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.entries))
	copy(out, c.entries)
	return out
}

// Get returns a notification by id.
func (c *Center) Get(id string) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.entries {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}

// TrackPending marks a transaction hash as in flight.
func (c *Center) TrackPending(hash string) {
	key := normalizeHash(hash)
	if key == "" {
		return
	}
	c.mu.Lock()
	c.pending[key] = struct{}{}
	count := len(c.pending)
	c.mu.Unlock()
	c.metrics.SetPending(count)
}

// UntrackPending clears a transaction hash from the in-flight registry.
func (c *Center) UntrackPending(hash string) {
	c.mu.Lock()
	delete(c.pending, normalizeHash(hash))
	count := len(c.pending)
	c.mu.Unlock()
	c.metrics.SetPending(count)
}

// IsPending reports whether the hash is still in flight.
func (c *Center) IsPending(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[normalizeHash(hash)]
	return ok
}

// PendingCount returns the number of in-flight hashes.
func (c *Center) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// TransactionPending tracks the hash and posts a persistent progress notice.
func (c *Center) TransactionPending(hash, title string) string {
	c.TrackPending(hash)
	return c.Notify(KindInfo, title, fmt.Sprintf("Transaction %s... is pending", shortHash(hash)), Persistent(true))
}

// TransactionSuccess untracks the hash and posts a success notice. An empty
// message falls back to a generic one naming the hash.
func (c *Center) TransactionSuccess(hash, title, message string) string {
	c.UntrackPending(hash)
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Transaction %s... completed successfully", shortHash(hash))
	}
	return c.Notify(KindSuccess, title, message)
}

// TransactionError untracks the hash and posts a persistent error notice.
func (c *Center) TransactionError(hash, title, message string) string {
	c.UntrackPending(hash)
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("Transaction %s... failed", shortHash(hash))
	}
	return c.Notify(KindError, title, message)
}

// Subscribe returns a channel receiving log changes and a cancel function.
// Slow subscribers miss events rather than block the center.
func (c *Center) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Center) publishLocked(ev Event) {
	for id, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
			c.logger.Warn("notification subscriber lagging", "subscriber", id, "event", string(ev.Type))
		}
	}
}

func normalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

func shortHash(hash string) string {
	trimmed := strings.TrimSpace(hash)
	if len(trimmed) <= 10 {
		return trimmed
	}
	return trimmed[:10]
}
