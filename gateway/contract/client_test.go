package contract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"votingsync/election"
)

var contractAddr = common.HexToAddress("0x8f45329a73401C6e7f480F0543F4F0d2959641C5")

type fakeCaller struct {
	t         *testing.T
	abi       abi.ABI
	responses map[string]func(args []any) ([]byte, error)
}

func newFakeCaller(t *testing.T) *fakeCaller {
	parsed, err := ParseABI()
	require.NoError(t, err)
	return &fakeCaller{t: t, abi: parsed, responses: map[string]func([]any) ([]byte, error){}}
}

func (f *fakeCaller) returns(method string, values ...any) {
	f.responses[method] = func([]any) ([]byte, error) {
		return f.abi.Methods[method].Outputs.Pack(values...)
	}
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || *msg.To != contractAddr {
		return nil, fmt.Errorf("unexpected target %v", msg.To)
	}
	for name, method := range f.abi.Methods {
		if !bytes.Equal(msg.Data[:4], method.ID) {
			continue
		}
		respond, ok := f.responses[name]
		if !ok {
			return nil, fmt.Errorf("no response for %s", name)
		}
		args, err := method.Inputs.Unpack(msg.Data[4:])
		require.NoError(f.t, err)
		return respond(args)
	}
	return nil, errors.New("unknown selector")
}

type fakeRequester struct {
	calls    []string
	params   [][]any
	hash     common.Hash
	sendErr  error
	receipts []json.RawMessage
}

func (r *fakeRequester) Request(_ context.Context, method string, params ...any) (json.RawMessage, error) {
	r.calls = append(r.calls, method)
	r.params = append(r.params, params)
	switch method {
	case "eth_sendTransaction":
		if r.sendErr != nil {
			return nil, r.sendErr
		}
		return json.Marshal(r.hash)
	case "eth_getTransactionReceipt":
		if len(r.receipts) == 0 {
			return json.RawMessage("null"), nil
		}
		next := r.receipts[0]
		r.receipts = r.receipts[1:]
		return next, nil
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

func TestElectionInfo(t *testing.T) {
	caller := newFakeCaller(t)
	caller.returns("electionName", "Student Council")
	caller.returns("electionStarted", true)
	caller.returns("startTime", big.NewInt(100))
	caller.returns("endTime", big.NewInt(1000))
	caller.returns("totalVotes", big.NewInt(7))
	caller.returns("maxVotesPerVoter", big.NewInt(2))

	client, err := NewClient(contractAddr, caller, nil)
	require.NoError(t, err)

	snapshot, err := client.ElectionInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, election.ElectionSnapshot{
		Name:             "Student Council",
		StartTime:        100,
		EndTime:          1000,
		TotalVotes:       7,
		MaxVotesPerVoter: 2,
		Started:          true,
	}, snapshot)
}

func TestVoterAndCandidates(t *testing.T) {
	caller := newFakeCaller(t)
	voter := common.HexToAddress("0xa1")
	caller.responses["voters"] = func(args []any) ([]byte, error) {
		require.Equal(t, voter, args[0].(common.Address))
		return caller.abi.Methods["voters"].Outputs.Pack(true, big.NewInt(1))
	}
	caller.returns("getAllCandidates",
		[]*big.Int{big.NewInt(1), big.NewInt(3)},
		[]string{"Alice", "Carol"},
		[]*big.Int{big.NewInt(4), big.NewInt(0)},
	)
	caller.returns("admin", common.HexToAddress("0xad"))

	client, err := NewClient(contractAddr, caller, nil)
	require.NoError(t, err)
	ctx := context.Background()

	record, err := client.Voter(ctx, voter)
	require.NoError(t, err)
	require.Equal(t, election.VoterRecord{Authorized: true, VotesCast: 1}, record)

	candidates, err := client.AllCandidates(ctx)
	require.NoError(t, err)
	require.Equal(t, []election.Candidate{
		{ID: 1, Name: "Alice", VoteCount: 4},
		{ID: 3, Name: "Carol", VoteCount: 0},
	}, candidates)

	admin, err := client.Admin(ctx)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xad"), admin)
}

func TestWinnerRevertSurfacesError(t *testing.T) {
	caller := newFakeCaller(t)
	caller.responses["getWinner"] = func([]any) ([]byte, error) {
		return nil, errors.New("execution reverted: election still ongoing")
	}
	client, err := NewClient(contractAddr, caller, nil)
	require.NoError(t, err)

	_, err = client.Winner(context.Background())
	require.ErrorContains(t, err, "execution reverted")
}

func TestHasVotedForPassesArguments(t *testing.T) {
	caller := newFakeCaller(t)
	voter := common.HexToAddress("0xb2")
	caller.responses["hasVotedFor"] = func(args []any) ([]byte, error) {
		require.Equal(t, voter, args[0].(common.Address))
		voted := args[1].(*big.Int).Uint64() == 3
		return caller.abi.Methods["hasVotedFor"].Outputs.Pack(voted)
	}
	client, err := NewClient(contractAddr, caller, nil)
	require.NoError(t, err)

	voted, err := client.HasVotedFor(context.Background(), voter, 3)
	require.NoError(t, err)
	require.True(t, voted)
	voted, err = client.HasVotedFor(context.Background(), voter, 4)
	require.NoError(t, err)
	require.False(t, voted)

	_, err = client.HasVotedForBatch(context.Background(), voter, []uint64{3})
	require.ErrorIs(t, err, ErrBatchUnsupported)
}

func TestVoteSendsThroughWalletAndWaits(t *testing.T) {
	caller := newFakeCaller(t)
	hash := common.HexToHash("0xabc")
	requester := &fakeRequester{
		hash:     hash,
		receipts: []json.RawMessage{json.RawMessage(`{"transactionHash":"0x0000000000000000000000000000000000000000000000000000000000000abc","status":"0x1","blockNumber":"0x10"}`)},
	}
	client, err := NewClient(contractAddr, caller, requester, WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	from := common.HexToAddress("0xa1")
	handle, err := client.Vote(context.Background(), from, 3)
	require.NoError(t, err)
	require.Equal(t, hash, handle.Hash())

	sent := requester.params[0][0].(sendTxArgs)
	require.Equal(t, from, sent.From)
	require.Equal(t, contractAddr, sent.To)
	args, err := caller.abi.Methods["vote"].Inputs.Unpack(sent.Data[4:])
	require.NoError(t, err)
	require.Equal(t, uint64(3), args[0].(*big.Int).Uint64())

	// First poll sees a pending transaction.
	requester.receipts = append([]json.RawMessage{json.RawMessage("null")}, requester.receipts...)
	receipt, err := handle.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0x1", receipt.Status)
	require.Equal(t, uint64(16), receipt.BlockNumber)
}

func TestSendRejectedByWallet(t *testing.T) {
	caller := newFakeCaller(t)
	requester := &fakeRequester{sendErr: errors.New("User denied transaction signature")}
	client, err := NewClient(contractAddr, caller, requester)
	require.NoError(t, err)

	_, err = client.AddCandidate(context.Background(), common.HexToAddress("0xad"), "Dave")
	require.ErrorContains(t, err, "User denied")

	noWallet, err := NewClient(contractAddr, caller, nil)
	require.NoError(t, err)
	_, err = noWallet.EndElection(context.Background(), common.HexToAddress("0xad"))
	require.ErrorIs(t, err, election.ErrWalletUnavailable)
}

func TestWaitHonoursContext(t *testing.T) {
	caller := newFakeCaller(t)
	requester := &fakeRequester{hash: common.HexToHash("0x1")}
	client, err := NewClient(contractAddr, caller, requester, WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	handle, err := client.RestartElection(context.Background(), common.HexToAddress("0xad"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = handle.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeReceiptClient struct {
	receipt *gethtypes.Receipt
	err     error
}

func (f fakeReceiptClient) TransactionReceipt(context.Context, common.Hash) (*gethtypes.Receipt, error) {
	return f.receipt, f.err
}

func TestClientReceipts(t *testing.T) {
	pending := ClientReceipts{Client: fakeReceiptClient{err: ethereum.NotFound}}
	receipt, err := pending.Receipt(context.Background(), common.HexToHash("0x1"))
	require.NoError(t, err)
	require.Nil(t, receipt)

	mined := ClientReceipts{Client: fakeReceiptClient{receipt: &gethtypes.Receipt{
		Status:      gethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(42),
	}}}
	receipt, err = mined.Receipt(context.Background(), common.HexToHash("0x1"))
	require.NoError(t, err)
	require.Equal(t, gethtypes.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(t, uint64(42), receipt.BlockNumber)
}

func TestToUint64Bounds(t *testing.T) {
	_, err := toUint64(new(big.Int).Lsh(big.NewInt(1), 70))
	require.Error(t, err)
	_, err = toUint64(big.NewInt(-1))
	require.Error(t, err)
	_, err = toUint64("nope")
	require.Error(t, err)
	n, err := toUint64(big.NewInt(9))
	require.NoError(t, err)
	require.Equal(t, uint64(9), n)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(common.Address{}, newFakeCaller(t), nil)
	require.Error(t, err)
	_, err = NewClient(contractAddr, nil, nil)
	require.Error(t, err)
}
