package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// RPCError is a JSON-RPC error carrying an EIP-1193 code.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string  { return e.Message }
func (e *RPCError) ErrorCode() int { return e.Code }

// MemoryProvider is an in-process wallet holding a fixed account list. Account
// and chain changes are driven explicitly through SetAccounts and SetChain,
// which dispatch events synchronously to the registered handlers.
type MemoryProvider struct {
	mu       sync.Mutex
	accounts []common.Address
	chainID  string
	known    map[string]bool
	handlers map[string][]func(json.RawMessage)
	failures map[string]error
	calls    map[string]int
}

var _ Provider = (*MemoryProvider)(nil)

// NewMemoryProvider returns a wallet on chainID exposing accounts.
func NewMemoryProvider(chainID string, accounts ...common.Address) *MemoryProvider {
	chainID = strings.ToLower(chainID)
	return &MemoryProvider{
		accounts: append([]common.Address(nil), accounts...),
		chainID:  chainID,
		known:    map[string]bool{chainID: true},
		handlers: make(map[string][]func(json.RawMessage)),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Fail makes every request for method return err until cleared with a nil
// error.
func (m *MemoryProvider) Fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Calls returns how many times method was requested.
func (m *MemoryProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// ListenerCount returns the number of handlers registered for event.
func (m *MemoryProvider) ListenerCount(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[event])
}

// Request implements Provider.
func (m *MemoryProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls[method]++
	if err, ok := m.failures[method]; ok {
		m.mu.Unlock()
		return nil, err
	}
	switch method {
	case "eth_requestAccounts", "eth_accounts":
		accounts := m.accountStringsLocked()
		m.mu.Unlock()
		return json.Marshal(accounts)
	case "eth_chainId":
		chainID := m.chainID
		m.mu.Unlock()
		return json.Marshal(chainID)
	case "wallet_switchEthereumChain":
		target := chainParam(params)
		if !m.known[target] {
			m.mu.Unlock()
			return nil, &RPCError{Code: CodeUnrecognizedChain, Message: fmt.Sprintf("Unrecognized chain ID %q", target)}
		}
		m.mu.Unlock()
		m.SetChain(target)
		return json.RawMessage("null"), nil
	case "wallet_addEthereumChain":
		var target string
		if len(params) > 0 {
			if network, ok := params[0].(Network); ok {
				target = strings.ToLower(network.ChainID)
			}
		}
		if target == "" {
			m.mu.Unlock()
			return nil, &RPCError{Code: -32602, Message: "missing chain parameters"}
		}
		m.known[target] = true
		m.mu.Unlock()
		m.SetChain(target)
		return json.RawMessage("null"), nil
	}
	m.mu.Unlock()
	return nil, &RPCError{Code: -32601, Message: fmt.Sprintf("method %s not supported", method)}
}

// On implements Provider.
func (m *MemoryProvider) On(event string, handler func(json.RawMessage)) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// RemoveAllListeners implements Provider.
func (m *MemoryProvider) RemoveAllListeners(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, event)
}

// SetAccounts replaces the exposed accounts and emits accountsChanged.
func (m *MemoryProvider) SetAccounts(accounts ...common.Address) {
	m.mu.Lock()
	m.accounts = append([]common.Address(nil), accounts...)
	payload, _ := json.Marshal(m.accountStringsLocked())
	handlers := append([]func(json.RawMessage){}, m.handlers[EventAccountsChanged]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

// SetChain moves the wallet to chainID and emits chainChanged when it
// differs from the current chain.
func (m *MemoryProvider) SetChain(chainID string) {
	chainID = strings.ToLower(chainID)
	m.mu.Lock()
	if m.chainID == chainID {
		m.mu.Unlock()
		return
	}
	m.chainID = chainID
	m.known[chainID] = true
	payload, _ := json.Marshal(chainID)
	handlers := append([]func(json.RawMessage){}, m.handlers[EventChainChanged]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

// Forget removes chainID from the chains the wallet knows, so switching to it
// requires adding it first.
func (m *MemoryProvider) Forget(chainID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.known, strings.ToLower(chainID))
}

func (m *MemoryProvider) accountStringsLocked() []string {
	out := make([]string, len(m.accounts))
	for i, a := range m.accounts {
		out[i] = strings.ToLower(a.Hex())
	}
	return out
}

func chainParam(params []any) string {
	if len(params) == 0 {
		return ""
	}
	switch p := params[0].(type) {
	case map[string]string:
		return strings.ToLower(p["chainId"])
	case map[string]any:
		if s, ok := p["chainId"].(string); ok {
			return strings.ToLower(s)
		}
	}
	return ""
}
