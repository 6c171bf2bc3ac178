package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// Event names emitted by wallet providers.
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
)

// EIP-1193 and wallet error codes the gateway reacts to.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnrecognizedChain = 4902
)

// Provider is the injected wallet surface: a JSON-RPC request function plus
// an event emitter.
type Provider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	On(event string, handler func(payload json.RawMessage))
	RemoveAllListeners(event string)
}

// ErrorCode extracts the JSON-RPC error code carried by err, if any.
func ErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// RPCProvider implements Provider on top of a JSON-RPC endpoint exposing the
// wallet namespace (a signer such as Clef or a dev node with unlocked
// accounts). Account and chain changes are detected by polling.
type RPCProvider struct {
	client   *rpc.Client
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	accounts []string
	chainID  string
	primed   bool
	stop     chan struct{}
}

// ProviderOption customises an RPCProvider.
type ProviderOption func(*RPCProvider)

// WithPollInterval sets how often accounts and chain id are polled.
func WithPollInterval(interval time.Duration) ProviderOption {
	return func(p *RPCProvider) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *RPCProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Dial connects to the wallet endpoint.
func Dial(ctx context.Context, endpoint string, opts ...ProviderOption) (*RPCProvider, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("wallet endpoint required")
	}
	client, err := rpc.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial wallet: %w", err)
	}
	return NewRPCProvider(client, opts...), nil
}

// NewRPCProvider wraps an existing RPC client.
func NewRPCProvider(client *rpc.Client, opts ...ProviderOption) *RPCProvider {
	p := &RPCProvider{
		client:   client,
		interval: time.Second,
		logger:   slog.Default(),
		handlers: make(map[string][]func(json.RawMessage)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Client exposes the underlying RPC client for ledger reads.
func (p *RPCProvider) Client() *rpc.Client { return p.client }

// Request performs a JSON-RPC call and returns the raw result.
func (p *RPCProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

// On registers an event handler and starts the watcher on first use.
func (p *RPCProvider) On(event string, handler func(json.RawMessage)) {
	if handler == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[event] = append(p.handlers[event], handler)
	if p.stop == nil {
		p.stop = make(chan struct{})
		go p.watch(p.stop)
	}
}

// RemoveAllListeners drops every handler registered for event. The watcher
// stops once no handlers remain.
func (p *RPCProvider) RemoveAllListeners(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handlers, event)
	if len(p.handlers) > 0 || p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
	p.primed = false
}

// Close stops the watcher and closes the RPC client.
func (p *RPCProvider) Close() {
	p.RemoveAllListeners(EventAccountsChanged)
	p.RemoveAllListeners(EventChainChanged)
	p.client.Close()
}

func (p *RPCProvider) watch(stop <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()
	p.Poll(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll samples accounts and chain id once and dispatches change events. The
// first successful sample only primes the baseline.
func (p *RPCProvider) Poll(ctx context.Context) {
	var accounts []string
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("wallet poll accounts failed", "error", err)
		}
		return
	}
	var chainID string
	if err := p.client.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("wallet poll chain failed", "error", err)
		}
		return
	}
	if accounts == nil {
		accounts = []string{}
	}
	chainID = strings.ToLower(chainID)

	p.mu.Lock()
	primed := p.primed
	accountsChanged := primed && !reflect.DeepEqual(lower(accounts), lower(p.accounts))
	chainChanged := primed && chainID != p.chainID
	p.accounts, p.chainID, p.primed = accounts, chainID, true
	accountHandlers := append([]func(json.RawMessage){}, p.handlers[EventAccountsChanged]...)
	chainHandlers := append([]func(json.RawMessage){}, p.handlers[EventChainChanged]...)
	p.mu.Unlock()

	if chainChanged {
		payload, _ := json.Marshal(chainID)
		for _, h := range chainHandlers {
			h(payload)
		}
	}
	if accountsChanged {
		payload, _ := json.Marshal(accounts)
		for _, h := range accountHandlers {
			h(payload)
		}
	}
}

func lower(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
