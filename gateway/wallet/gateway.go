package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"votingsync/election"
)

// Currency describes the native currency of a network for wallet_addEthereumChain.
type Currency struct {
	Name     string `json:"name" yaml:"name" toml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol" toml:"symbol"`
	Decimals int    `json:"decimals" yaml:"decimals" toml:"decimals"`
}

// Network is the single chain the coordinator accepts.
type Network struct {
	ChainID           string   `json:"chainId" yaml:"chain_id" toml:"chain_id"`
	ChainName         string   `json:"chainName" yaml:"chain_name" toml:"chain_name"`
	NativeCurrency    Currency `json:"nativeCurrency" yaml:"native_currency" toml:"native_currency"`
	RPCURLs           []string `json:"rpcUrls" yaml:"rpc_urls" toml:"rpc_urls"`
	BlockExplorerURLs []string `json:"blockExplorerUrls" yaml:"block_explorer_urls" toml:"block_explorer_urls"`
}

// SameChain reports whether the supplied chain id designates this network.
// Both sides are compared numerically so "0xAA36A7" matches "0xaa36a7".
func (n Network) SameChain(chainID string) bool {
	want, err := parseChainID(n.ChainID)
	if err != nil {
		return false
	}
	got, err := parseChainID(chainID)
	if err != nil {
		return false
	}
	return want.Cmp(got) == 0
}

func parseChainID(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		return hexutil.DecodeBig(strings.ToLower(trimmed))
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain id %q", raw)
	}
	return value, nil
}

// Gateway adapts a Provider to the account and network primitives used by
// the connection manager.
type Gateway struct {
	provider Provider
	network  Network
	logger   *slog.Logger
}

// NewGateway builds a gateway. A nil provider models a browser without a
// wallet extension; every call then fails with election.ErrWalletUnavailable.
func NewGateway(provider Provider, network Network, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{provider: provider, network: network, logger: logger}
}

// Available reports whether a wallet provider is present.
func (g *Gateway) Available() bool { return g != nil && g.provider != nil }

// Network returns the configured target network.
func (g *Gateway) Network() Network { return g.network }

// RequestAccounts prompts the wallet for account access.
func (g *Gateway) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if !g.Available() {
		return nil, election.ErrWalletUnavailable
	}
	raw, err := g.provider.Request(ctx, "eth_requestAccounts")
	if err != nil {
		return nil, classify(err)
	}
	return decodeAccounts(raw)
}

// CurrentAccount returns the first exposed account without prompting.
func (g *Gateway) CurrentAccount(ctx context.Context) (common.Address, bool, error) {
	if !g.Available() {
		return common.Address{}, false, election.ErrWalletUnavailable
	}
	raw, err := g.provider.Request(ctx, "eth_accounts")
	if err != nil {
		return common.Address{}, false, classify(err)
	}
	accounts, err := decodeAccounts(raw)
	if err != nil {
		return common.Address{}, false, err
	}
	if len(accounts) == 0 {
		return common.Address{}, false, nil
	}
	return accounts[0], true, nil
}

// OnAccountsChanged registers cb for account change events.
func (g *Gateway) OnAccountsChanged(cb func([]common.Address)) {
	if !g.Available() || cb == nil {
		return
	}
	g.provider.On(EventAccountsChanged, func(payload json.RawMessage) {
		accounts, err := decodeAccounts(payload)
		if err != nil {
			g.logger.Warn("discarding malformed accountsChanged payload", "error", err)
			return
		}
		cb(accounts)
	})
}

// OnChainChanged registers cb for chain change events.
func (g *Gateway) OnChainChanged(cb func(chainID string)) {
	if !g.Available() || cb == nil {
		return
	}
	g.provider.On(EventChainChanged, func(payload json.RawMessage) {
		var chainID string
		if err := json.Unmarshal(payload, &chainID); err != nil {
			g.logger.Warn("discarding malformed chainChanged payload", "error", err)
			return
		}
		cb(chainID)
	})
}

// RemoveListeners detaches every account and chain listener.
func (g *Gateway) RemoveListeners() {
	if !g.Available() {
		return
	}
	g.provider.RemoveAllListeners(EventAccountsChanged)
	g.provider.RemoveAllListeners(EventChainChanged)
}

// CheckNetwork reports whether the wallet is on the configured chain.
func (g *Gateway) CheckNetwork(ctx context.Context) bool {
	if !g.Available() {
		return false
	}
	raw, err := g.provider.Request(ctx, "eth_chainId")
	if err != nil {
		g.logger.Warn("read wallet chain id failed", "error", err)
		return false
	}
	var chainID string
	if err := json.Unmarshal(raw, &chainID); err != nil {
		g.logger.Warn("decode wallet chain id failed", "error", err)
		return false
	}
	return g.network.SameChain(chainID)
}

// SwitchNetwork asks the wallet to switch to the configured chain, adding the
// chain first when the wallet does not know it. Any failure yields false.
func (g *Gateway) SwitchNetwork(ctx context.Context) bool {
	if !g.Available() {
		return false
	}
	switchParams := map[string]string{"chainId": strings.ToLower(g.network.ChainID)}
	_, err := g.provider.Request(ctx, "wallet_switchEthereumChain", switchParams)
	if err == nil {
		return true
	}
	if code, ok := ErrorCode(err); !ok || code != CodeUnrecognizedChain {
		g.logger.Warn("switch network failed", "chain_id", g.network.ChainID, "error", err)
		return false
	}
	if _, err := g.provider.Request(ctx, "wallet_addEthereumChain", g.network); err != nil {
		g.logger.Warn("add network failed", "chain_id", g.network.ChainID, "error", err)
		return false
	}
	return true
}

func classify(err error) error {
	if code, ok := ErrorCode(err); ok {
		switch code {
		case CodeUserRejected, CodeUnauthorized:
			return fmt.Errorf("%w: %v", election.ErrUserRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", election.ErrWalletUnavailable, err)
}

func decodeAccounts(raw json.RawMessage) ([]common.Address, error) {
	var values []string
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("decode accounts: %w", err)
		}
	}
	accounts := make([]common.Address, 0, len(values))
	for _, value := range values {
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("decode accounts: invalid address %q", value)
		}
		accounts = append(accounts, common.HexToAddress(value))
	}
	return accounts, nil
}
