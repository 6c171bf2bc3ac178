package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"

	"votingsync/election"
	"votingsync/observability/logging"
)

type codeError struct {
	code int
	msg  string
}

func (e codeError) Error() string  { return e.msg }
func (e codeError) ErrorCode() int { return e.code }

type fakeWallet struct {
	mu         sync.Mutex
	accounts   []string
	chainID    string
	known      map[string]bool
	reject     bool
	switchErr  error
	addErr     error
	added      []Network
	switchedTo []string
}

func (w *fakeWallet) set(accounts []string, chainID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts = accounts
	w.chainID = chainID
}

type ethService struct{ w *fakeWallet }

func (s *ethService) RequestAccounts() ([]string, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if s.w.reject {
		return nil, codeError{code: CodeUserRejected, msg: "User rejected the request."}
	}
	return s.w.accounts, nil
}

func (s *ethService) Accounts() []string {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	return s.w.accounts
}

func (s *ethService) ChainId() string {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	return s.w.chainID
}

type walletService struct{ w *fakeWallet }

func (s *walletService) SwitchEthereumChain(params map[string]string) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if s.w.switchErr != nil {
		return s.w.switchErr
	}
	id := params["chainId"]
	if !s.w.known[id] {
		return codeError{code: CodeUnrecognizedChain, msg: "Unrecognized chain ID"}
	}
	s.w.switchedTo = append(s.w.switchedTo, id)
	s.w.chainID = id
	return nil
}

func (s *walletService) AddEthereumChain(network Network) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if s.w.addErr != nil {
		return s.w.addErr
	}
	s.w.added = append(s.w.added, network)
	s.w.chainID = network.ChainID
	return nil
}

var sepolia = Network{
	ChainID:        "0xaa36a7",
	ChainName:      "Sepolia Testnet",
	NativeCurrency: Currency{Name: "Sepolia Ether", Symbol: "SEP", Decimals: 18},
	RPCURLs:        []string{"https://sepolia.infura.io/v3/"},
}

func newTestProvider(t *testing.T, w *fakeWallet) *RPCProvider {
	t.Helper()
	if w.known == nil {
		w.known = map[string]bool{}
	}
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", &ethService{w: w}))
	require.NoError(t, srv.RegisterName("wallet", &walletService{w: w}))
	client := rpc.DialInProc(srv)
	t.Cleanup(func() {
		client.Close()
		srv.Stop()
	})
	return NewRPCProvider(client, WithLogger(logging.Discard()))
}

func TestRequestAccounts(t *testing.T) {
	w := &fakeWallet{accounts: []string{"0x00000000000000000000000000000000000000a1"}, chainID: "0xaa36a7"}
	gw := NewGateway(newTestProvider(t, w), sepolia, logging.Discard())

	accounts, err := gw.RequestAccounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, []common.Address{common.HexToAddress("0xa1")}, accounts)

	current, ok, err := gw.CurrentAccount(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, common.HexToAddress("0xa1"), current)
}

func TestRequestAccountsRejected(t *testing.T) {
	w := &fakeWallet{reject: true, chainID: "0xaa36a7"}
	gw := NewGateway(newTestProvider(t, w), sepolia, logging.Discard())

	_, err := gw.RequestAccounts(context.Background())
	require.ErrorIs(t, err, election.ErrUserRejected)
}

func TestMissingProvider(t *testing.T) {
	gw := NewGateway(nil, sepolia, nil)
	require.False(t, gw.Available())
	_, err := gw.RequestAccounts(context.Background())
	require.ErrorIs(t, err, election.ErrWalletUnavailable)
	require.False(t, gw.CheckNetwork(context.Background()))
	require.False(t, gw.SwitchNetwork(context.Background()))
	gw.RemoveListeners()
}

func TestCheckNetworkIgnoresHexCase(t *testing.T) {
	w := &fakeWallet{chainID: "0xAA36A7"}
	gw := NewGateway(newTestProvider(t, w), sepolia, logging.Discard())
	require.True(t, gw.CheckNetwork(context.Background()))

	w.set(nil, "0x1")
	require.False(t, gw.CheckNetwork(context.Background()))
}

func TestSwitchNetworkKnownChain(t *testing.T) {
	w := &fakeWallet{chainID: "0x1", known: map[string]bool{"0xaa36a7": true}}
	gw := NewGateway(newTestProvider(t, w), sepolia, logging.Discard())

	require.True(t, gw.SwitchNetwork(context.Background()))
	require.Equal(t, []string{"0xaa36a7"}, w.switchedTo)
	require.Empty(t, w.added)
}

func TestSwitchNetworkAddsUnknownChain(t *testing.T) {
	w := &fakeWallet{chainID: "0x1"}
	gw := NewGateway(newTestProvider(t, w), sepolia, logging.Discard())

	require.True(t, gw.SwitchNetwork(context.Background()))
	require.Len(t, w.added, 1)
	require.Equal(t, "Sepolia Testnet", w.added[0].ChainName)
	require.Equal(t, "SEP", w.added[0].NativeCurrency.Symbol)
}

func TestSwitchNetworkDeclined(t *testing.T) {
	w := &fakeWallet{chainID: "0x1", switchErr: codeError{code: CodeUserRejected, msg: "declined"}}
	gw := NewGateway(newTestProvider(t, w), sepolia, logging.Discard())
	require.False(t, gw.SwitchNetwork(context.Background()))

	w2 := &fakeWallet{chainID: "0x1", addErr: errors.New("add refused")}
	gw2 := NewGateway(newTestProvider(t, w2), sepolia, logging.Discard())
	require.False(t, gw2.SwitchNetwork(context.Background()))
}

func TestPollDispatchesChanges(t *testing.T) {
	w := &fakeWallet{accounts: []string{"0x00000000000000000000000000000000000000a1"}, chainID: "0xaa36a7"}
	provider := newTestProvider(t, w)

	var (
		accounts []json.RawMessage
		chains   []json.RawMessage
	)
	// Handlers are installed directly so no background watcher competes with
	// the polls driven below.
	provider.handlers[EventAccountsChanged] = []func(json.RawMessage){func(p json.RawMessage) { accounts = append(accounts, p) }}
	provider.handlers[EventChainChanged] = []func(json.RawMessage){func(p json.RawMessage) { chains = append(chains, p) }}

	ctx := context.Background()
	provider.Poll(ctx)
	require.Empty(t, accounts, "first poll only primes")

	provider.Poll(ctx)
	require.Empty(t, accounts)

	w.set([]string{"0x00000000000000000000000000000000000000B2"}, "0xaa36a7")
	provider.Poll(ctx)
	require.Len(t, accounts, 1)
	decoded, err := decodeAccounts(accounts[0])
	require.NoError(t, err)
	require.Equal(t, []common.Address{common.HexToAddress("0xb2")}, decoded)
	require.Empty(t, chains)

	w.set([]string{}, "0x1")
	provider.Poll(ctx)
	require.Len(t, accounts, 2)
	require.JSONEq(t, `[]`, string(accounts[1]))
	require.Len(t, chains, 1)
	require.JSONEq(t, `"0x1"`, string(chains[0]))
}

func TestGatewayListenersDecodePayloads(t *testing.T) {
	provider := &recordingProvider{handlers: map[string][]func(json.RawMessage){}}
	gw := NewGateway(provider, sepolia, logging.Discard())

	var gotAccounts []common.Address
	var gotChain string
	gw.OnAccountsChanged(func(a []common.Address) { gotAccounts = a })
	gw.OnChainChanged(func(c string) { gotChain = c })

	provider.emit(EventAccountsChanged, `["0x00000000000000000000000000000000000000b2"]`)
	provider.emit(EventChainChanged, `"0x5"`)
	provider.emit(EventAccountsChanged, `{"bad":true}`)

	require.Equal(t, []common.Address{common.HexToAddress("0xb2")}, gotAccounts)
	require.Equal(t, "0x5", gotChain)

	gw.RemoveListeners()
	require.Empty(t, provider.handlers)
}

type recordingProvider struct {
	handlers map[string][]func(json.RawMessage)
}

func (p *recordingProvider) Request(context.Context, string, ...any) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (p *recordingProvider) On(event string, handler func(json.RawMessage)) {
	p.handlers[event] = append(p.handlers[event], handler)
}

func (p *recordingProvider) RemoveAllListeners(event string) { delete(p.handlers, event) }

func (p *recordingProvider) emit(event, payload string) {
	for _, h := range p.handlers[event] {
		h(json.RawMessage(payload))
	}
}

func TestDecodeAccountsRejectsGarbage(t *testing.T) {
	_, err := decodeAccounts(json.RawMessage(`["not-an-address"]`))
	require.Error(t, err)
	accounts, err := decodeAccounts(json.RawMessage(`null`))
	require.NoError(t, err)
	require.Empty(t, accounts)
}
