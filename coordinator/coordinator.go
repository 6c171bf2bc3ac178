// Package coordinator wires the session store, read-model cache, transaction
// tracker, selection engine, connection manager and change reconciler into
// one instance owned by a UI session.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"votingsync/coordinator/connection"
	"votingsync/coordinator/readmodel"
	"votingsync/coordinator/reconcile"
	"votingsync/coordinator/selection"
	"votingsync/coordinator/session"
	"votingsync/coordinator/txlifecycle"
	"votingsync/election"
	"votingsync/gateway/contract"
	"votingsync/notify"
	"votingsync/observability"
)

const defaultEventBuffer = 16

// ErrStopped is returned by Run when called on a stopped coordinator.
var ErrStopped = errors.New("coordinator: stopped")

// Coordinator is the facade a UI layer talks to.
type Coordinator struct {
	store      *session.Store
	center     *notify.Center
	cache      *readmodel.Cache
	tracker    *txlifecycle.Tracker
	selection  *selection.Engine
	conn       *connection.Manager
	reconciler *reconcile.Reconciler
	logger     *slog.Logger

	events   chan queuedEvent
	done     chan struct{}
	stopOnce sync.Once
	running  sync.Mutex
}

type settings struct {
	logger              *slog.Logger
	metrics             *observability.CoordinatorMetrics
	notificationTTL     time.Duration
	confirmationTimeout time.Duration
	eventBuffer         int
}

// queuedEvent is a wallet event stamped with the session it arrived in.
type queuedEvent struct {
	session uint64
	event   reconcile.Event
}

// Option customises a Coordinator.
type Option func(*settings)

// WithLogger sets the structured logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry. Nil disables metrics.
func WithMetrics(m *observability.CoordinatorMetrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithNotificationTTL sets the default lifetime of non-persistent notices.
func WithNotificationTTL(ttl time.Duration) Option {
	return func(s *settings) { s.notificationTTL = ttl }
}

// WithConfirmationTimeout bounds how long a write waits for its receipt.
func WithConfirmationTimeout(timeout time.Duration) Option {
	return func(s *settings) { s.confirmationTimeout = timeout }
}

// WithEventBuffer sets the capacity of the wallet event queue.
func WithEventBuffer(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// New assembles a coordinator over a wallet and a contract gateway.
func New(w connection.Wallet, gw contract.Gateway, opts ...Option) *Coordinator {
	cfg := settings{
		logger:          slog.Default(),
		metrics:         observability.Coordinator(),
		notificationTTL: notify.DefaultTTL,
		eventBuffer:     defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Coordinator{
		store:  session.New(),
		logger: cfg.logger,
		events: make(chan queuedEvent, cfg.eventBuffer),
		done:   make(chan struct{}),
	}
	c.center = notify.NewCenter(
		notify.WithLogger(cfg.logger),
		notify.WithMetrics(cfg.metrics),
		notify.WithDefaultTTL(cfg.notificationTTL),
	)
	c.cache = readmodel.New(c.store, gw, c.center,
		readmodel.WithLogger(cfg.logger),
		readmodel.WithMetrics(cfg.metrics),
	)
	c.tracker = txlifecycle.New(gw, c.store, c.cache, c.center,
		txlifecycle.WithLogger(cfg.logger),
		txlifecycle.WithMetrics(cfg.metrics),
		txlifecycle.WithConfirmationTimeout(cfg.confirmationTimeout),
	)
	c.selection = selection.New(c.store, c.tracker, cfg.logger)
	c.conn = connection.New(w, c.store, c.cache, c.center,
		connection.WithLogger(cfg.logger),
		connection.WithMetrics(cfg.metrics),
		connection.WithHandlers(connection.Handlers{
			AccountsChanged: func(accounts []common.Address) {
				c.enqueue(reconcile.AccountsChanged{Accounts: accounts})
			},
			ChainChanged: func(chainID string) {
				c.enqueue(reconcile.ChainChanged{ChainID: chainID})
			},
		}),
	)
	c.reconciler = reconcile.New(c.store, c.conn, c.cache, c.center,
		reconcile.WithLogger(cfg.logger),
		reconcile.WithMetrics(cfg.metrics),
	)
	return c
}

func (c *Coordinator) enqueue(ev reconcile.Event) {
	queued := queuedEvent{session: c.store.Session(), event: ev}
	select {
	case c.events <- queued:
	case <-c.done:
	}
}

// Run consumes wallet events in delivery order until ctx is cancelled or
// Stop is called. Events queued before the last Connect or Disconnect are
// dropped. Only one Run may be active at a time.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.TryLock() {
		return errors.New("coordinator: already running")
	}
	defer c.running.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrStopped
		case queued := <-c.events:
			if queued.session != c.store.Session() {
				c.logger.Debug("dropping wallet event from previous session", "session", queued.session)
				continue
			}
			if err := c.reconciler.Handle(ctx, queued.event); err != nil {
				c.logger.Debug("wallet event handled with errors", "error", err)
			}
		}
	}
}

// Stop detaches the wallet, ends Run and unblocks pending event deliveries.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.conn.Disconnect()
		c.center.Clear()
	})
}

// Connect prompts the wallet and performs the initial load.
func (c *Coordinator) Connect(ctx context.Context) error { return c.conn.Connect(ctx) }

// Resume restores a session the wallet already authorised.
func (c *Coordinator) Resume(ctx context.Context) error { return c.conn.Resume(ctx) }

// Disconnect resets the session.
func (c *Coordinator) Disconnect() { c.conn.Disconnect() }

// Submit sends op from the connected account and tracks it to completion.
func (c *Coordinator) Submit(ctx context.Context, op election.Operation, args txlifecycle.Args) (txlifecycle.Result, error) {
	conn := c.store.Connection()
	if !conn.Connected {
		return txlifecycle.Result{Operation: op}, election.ErrNotConnected
	}
	return c.tracker.Submit(ctx, op, args, conn.Account)
}

// Toggle flips a candidate in the selection.
func (c *Coordinator) Toggle(id uint64) bool { return c.selection.Toggle(id) }

// Selected returns the selected candidate ids.
func (c *Coordinator) Selected() []uint64 { return c.selection.Selected() }

// ClearSelection drops the selection.
func (c *Coordinator) ClearSelection() { c.selection.Clear() }

// CanSelectMore reports whether another candidate may be selected.
func (c *Coordinator) CanSelectMore() bool { return c.selection.CanSelectMore() }

// SubmitBatch votes for the whole selection.
func (c *Coordinator) SubmitBatch(ctx context.Context) (txlifecycle.Result, error) {
	return c.selection.SubmitBatch(ctx)
}

// LoadWinner reads the winner for the current session.
func (c *Coordinator) LoadWinner(ctx context.Context) error {
	if !c.store.Connection().Connected {
		return election.ErrNotConnected
	}
	return c.cache.LoadWinner(ctx, c.store.Epoch())
}

// Refresh reloads every read-model entity for the current session.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.store.Connection().Connected {
		return election.ErrNotConnected
	}
	return c.cache.Refresh(ctx, c.store.Epoch(), readmodel.TargetAll)
}

// View returns a consistent copy of the session.
func (c *Coordinator) View() session.View { return c.store.View() }

// Pending lists in-flight transactions.
func (c *Coordinator) Pending() []election.PendingTransaction { return c.tracker.Pending() }

// Notifications lists the current notifications.
func (c *Coordinator) Notifications() []notify.Notification { return c.center.List() }

// DismissNotification removes a notification.
func (c *Coordinator) DismissNotification(id string) { c.center.Remove(id) }

// Subscribe streams notification changes.
func (c *Coordinator) Subscribe(buffer int) (<-chan notify.Event, func()) {
	return c.center.Subscribe(buffer)
}

// Busy reports whether a connect is in progress or a write awaits its
// receipt.
func (c *Coordinator) Busy() bool {
	return c.conn.Connecting() || len(c.tracker.Pending()) > 0
}

// Listening reports whether wallet events are being forwarded.
func (c *Coordinator) Listening() bool { return c.conn.Listening() }
