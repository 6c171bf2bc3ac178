// Package connection owns the wallet session: network validation, account
// access and the wallet event listeners.
package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"votingsync/coordinator/readmodel"
	"votingsync/coordinator/session"
	"votingsync/election"
	"votingsync/observability"
	"votingsync/observability/logging"
)

// Wallet is the wallet gateway surface used by the manager;
// *wallet.Gateway satisfies it.
type Wallet interface {
	Available() bool
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	CurrentAccount(ctx context.Context) (common.Address, bool, error)
	OnAccountsChanged(cb func([]common.Address))
	OnChainChanged(cb func(chainID string))
	RemoveListeners()
	CheckNetwork(ctx context.Context) bool
	SwitchNetwork(ctx context.Context) bool
}

// Loader performs the coordinated initial load.
type Loader interface {
	Refresh(ctx context.Context, epoch session.Epoch, targets readmodel.Target) error
}

// Notifier is the subset of the notification center used by the manager.
type Notifier interface {
	Success(title, message string) string
	Error(title, message string) string
}

// Handlers receive wallet events while the session is connected.
type Handlers struct {
	AccountsChanged func(accounts []common.Address)
	ChainChanged    func(chainID string)
}

// Manager connects and disconnects the wallet session. Listener registration
// is idempotent: repeated connects keep exactly one account listener and one
// chain listener.
type Manager struct {
	wallet   Wallet
	store    *session.Store
	loader   Loader
	notifier Notifier
	handlers Handlers
	logger   *slog.Logger
	metrics  *observability.CoordinatorMetrics

	mu         sync.Mutex
	listening  bool
	connecting atomic.Int32
}

// Option customises the Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry. Nil disables metrics.
func WithMetrics(metrics *observability.CoordinatorMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithHandlers sets the callbacks fed by the wallet listeners.
func WithHandlers(h Handlers) Option {
	return func(m *Manager) { m.handlers = h }
}

// New constructs a manager.
func New(w Wallet, store *session.Store, loader Loader, notifier Notifier, opts ...Option) *Manager {
	m := &Manager{
		wallet:   w,
		store:    store,
		loader:   loader,
		notifier: notifier,
		logger:   slog.Default(),
		metrics:  observability.Coordinator(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect validates the network, requests account access, and performs the
// initial load. Lifecycle failures surface exactly one error notification;
// read failures during the initial load are reported per entity and do not
// fail the connect.
func (m *Manager) Connect(ctx context.Context) error {
	m.connecting.Add(1)
	defer m.connecting.Add(-1)
	account, err := m.authorize(ctx)
	if err != nil {
		m.metrics.RecordConnect(outcome(err))
		m.logger.Warn("wallet connect failed", "error", err)
		m.notifier.Error("Connection Failed", failureMessage(err))
		return err
	}
	m.establish(ctx, account)
	m.notifier.Success("Connected Successfully", "Wallet connected")
	return nil
}

// Resume restores a session the wallet already authorised without
// prompting. It returns election.ErrNoAccounts when the wallet exposes none.
// Nothing is notified on failure.
func (m *Manager) Resume(ctx context.Context) error {
	m.connecting.Add(1)
	defer m.connecting.Add(-1)
	if !m.wallet.Available() {
		return election.ErrWalletUnavailable
	}
	if !m.wallet.CheckNetwork(ctx) {
		return election.ErrNetworkMismatch
	}
	account, ok, err := m.wallet.CurrentAccount(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return election.ErrNoAccounts
	}
	m.establish(ctx, account)
	return nil
}

func (m *Manager) authorize(ctx context.Context) (common.Address, error) {
	if !m.wallet.Available() {
		return common.Address{}, election.ErrWalletUnavailable
	}
	if !m.wallet.CheckNetwork(ctx) && !m.wallet.SwitchNetwork(ctx) {
		return common.Address{}, election.ErrNetworkMismatch
	}
	accounts, err := m.wallet.RequestAccounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, election.ErrNoAccounts
	}
	return accounts[0], nil
}

func (m *Manager) establish(ctx context.Context, account common.Address) {
	epoch := m.store.Connect(account)
	m.attach()
	m.metrics.RecordConnect("success")
	m.logger.Info("wallet connected", logging.Account(account), "generation", epoch.Generation)
	if err := m.loader.Refresh(ctx, epoch, readmodel.TargetAll); err != nil {
		m.logger.Warn("initial load incomplete", logging.Account(account), "error", err)
	}
}

// Disconnect detaches the wallet listeners and resets every cached entity in
// one step. Reads still in flight are discarded when they complete.
func (m *Manager) Disconnect() {
	m.detach()
	m.store.Reset()
	m.logger.Info("wallet disconnected")
}

// Connecting reports whether a Connect or Resume is in progress.
func (m *Manager) Connecting() bool {
	return m.connecting.Load() > 0
}

// Listening reports whether wallet events are being forwarded.
func (m *Manager) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

func (m *Manager) attach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listening {
		return
	}
	m.listening = true
	m.wallet.OnAccountsChanged(func(accounts []common.Address) {
		if !m.Listening() || m.handlers.AccountsChanged == nil {
			return
		}
		m.handlers.AccountsChanged(accounts)
	})
	m.wallet.OnChainChanged(func(chainID string) {
		if !m.Listening() || m.handlers.ChainChanged == nil {
			return
		}
		m.handlers.ChainChanged(chainID)
	})
}

func (m *Manager) detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listening = false
	m.wallet.RemoveListeners()
}

func outcome(err error) string {
	switch {
	case errors.Is(err, election.ErrWalletUnavailable):
		return "wallet_unavailable"
	case errors.Is(err, election.ErrNetworkMismatch):
		return "network_mismatch"
	case errors.Is(err, election.ErrUserRejected):
		return "rejected"
	case errors.Is(err, election.ErrNoAccounts):
		return "no_accounts"
	}
	return "error"
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, election.ErrWalletUnavailable):
		return "No wallet provider is available. Install a wallet to use this app."
	case errors.Is(err, election.ErrNetworkMismatch):
		return "Please switch to the configured network to use this app."
	case errors.Is(err, election.ErrUserRejected):
		return "The connection request was rejected in the wallet."
	case errors.Is(err, election.ErrNoAccounts):
		return "No accounts found"
	}
	return err.Error()
}
