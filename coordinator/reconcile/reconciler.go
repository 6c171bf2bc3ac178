package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"votingsync/coordinator/readmodel"
	"votingsync/coordinator/session"
	"votingsync/notify"
	"votingsync/observability"
	"votingsync/observability/logging"
)

// Disconnector tears the wallet session down.
type Disconnector interface {
	Disconnect()
}

// Loader reloads read-model targets for an epoch.
type Loader interface {
	Refresh(ctx context.Context, epoch session.Epoch, targets readmodel.Target) error
}

// Notifier records user-visible notices.
type Notifier interface {
	Notify(kind notify.Kind, title, message string, opts ...notify.Option) string
}

// Reconciler executes transitions. Handle is serialised, so events are
// applied one at a time in the order they are handed in.
type Reconciler struct {
	store    *session.Store
	session  Disconnector
	loader   Loader
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.CoordinatorMetrics

	mu    sync.Mutex
	state State
}

// Option customises the Reconciler.
type Option func(*Reconciler)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry. Nil disables metrics.
func WithMetrics(m *observability.CoordinatorMetrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// New constructs a reconciler.
func New(store *session.Store, sess Disconnector, loader Loader, notifier Notifier, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		session:  sess,
		loader:   loader,
		notifier: notifier,
		logger:   slog.Default(),
		metrics:  observability.Coordinator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Handle applies ev. When the event starts a reconciliation the reload runs
// to completion and a Settled event is fed back before Handle returns. The
// returned error is the reload failure, if any.
func (r *Reconciler) Handle(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, effects := Transition(r.state, ev, r.store.View())
	r.state = next
	if len(effects) == 0 {
		r.metrics.RecordReconciliation(ev.trigger(), "ignored")
		return nil
	}
	disconnect := effects[0].Kind == EffectDisconnect
	err := r.run(ctx, effects)
	if next == Reconciling {
		r.state, effects = Transition(r.state, Settled{Err: err}, r.store.View())
		_ = r.run(ctx, effects)
	}

	outcome := "applied"
	switch {
	case err != nil:
		outcome = "failed"
		r.logger.Warn("wallet change reconciliation incomplete", "trigger", ev.trigger(), "error", err)
	case disconnect:
		outcome = "disconnected"
	}
	r.metrics.RecordReconciliation(ev.trigger(), outcome)
	return err
}

func (r *Reconciler) run(ctx context.Context, effects []Effect) error {
	var err error
	for _, eff := range effects {
		switch eff.Kind {
		case EffectDisconnect:
			r.session.Disconnect()
		case EffectAdoptAccount:
			if epoch, ok := r.store.AdoptAccount(eff.Account); ok {
				r.logger.Info("wallet account changed", logging.Account(eff.Account), "generation", epoch.Generation)
			}
		case EffectClearAccountScoped:
			r.store.ClearSelection()
		case EffectNotify:
			r.notifier.Notify(eff.Notice.Kind, eff.Notice.Title, eff.Notice.Message)
		case EffectReload:
			err = r.loader.Refresh(ctx, r.store.Epoch(), eff.Targets)
		}
	}
	return err
}
