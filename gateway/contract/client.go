package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"votingsync/election"
)

// ErrBatchUnsupported is returned by HasVotedForBatch without a batch caller.
var ErrBatchUnsupported = errors.New("contract: batch calls not configured")

// Caller performs eth_call; *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Requester sends raw JSON-RPC requests through the wallet; wallet.Provider
// satisfies it.
type Requester interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// BatchCaller issues JSON-RPC batches; *rpc.Client satisfies it.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// Client implements Gateway against a deployed contract. Reads go straight to
// the ledger node; writes go through the wallet so it can sign them.
type Client struct {
	address      common.Address
	abi          abi.ABI
	caller       Caller
	wallet       Requester
	receipts     ReceiptSource
	batch        BatchCaller
	pollInterval time.Duration
}

// ClientOption customises the Client.
type ClientOption func(*Client)

// WithReceiptSource overrides where receipts are fetched from. Defaults to
// the wallet provider.
func WithReceiptSource(source ReceiptSource) ClientOption {
	return func(c *Client) { c.receipts = source }
}

// WithBatchCaller enables single round trip vote membership checks.
func WithBatchCaller(batch BatchCaller) ClientOption {
	return func(c *Client) { c.batch = batch }
}

// WithPollInterval sets the receipt polling cadence.
func WithPollInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// NewClient binds the contract at address.
func NewClient(address common.Address, caller Caller, wallet Requester, opts ...ClientOption) (*Client, error) {
	if (address == common.Address{}) {
		return nil, fmt.Errorf("contract address required")
	}
	if caller == nil {
		return nil, fmt.Errorf("contract caller required")
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	c := &Client{
		address:      address,
		abi:          parsed,
		caller:       caller,
		wallet:       wallet,
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.receipts == nil && wallet != nil {
		c.receipts = ProviderReceipts{Requester: wallet}
	}
	return c, nil
}

// Address returns the bound contract address.
func (c *Client) Address() common.Address { return c.address }

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s: empty result", method)
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// ElectionInfo reads the election metadata. The fields are independent view
// calls; any failure fails the whole snapshot.
func (c *Client) ElectionInfo(ctx context.Context) (election.ElectionSnapshot, error) {
	var snapshot election.ElectionSnapshot
	name, err := c.call(ctx, "electionName")
	if err != nil {
		return snapshot, err
	}
	started, err := c.call(ctx, "electionStarted")
	if err != nil {
		return snapshot, err
	}
	numbers := make(map[string]uint64, 4)
	for _, method := range []string{"startTime", "endTime", "totalVotes", "maxVotesPerVoter"} {
		values, err := c.call(ctx, method)
		if err != nil {
			return snapshot, err
		}
		n, err := toUint64(values[0])
		if err != nil {
			return snapshot, fmt.Errorf("decode %s: %w", method, err)
		}
		numbers[method] = n
	}
	startTime, err := toInt64(numbers["startTime"])
	if err != nil {
		return snapshot, fmt.Errorf("decode startTime: %w", err)
	}
	endTime, err := toInt64(numbers["endTime"])
	if err != nil {
		return snapshot, fmt.Errorf("decode endTime: %w", err)
	}
	snapshot = election.ElectionSnapshot{
		Name:             name[0].(string),
		StartTime:        startTime,
		EndTime:          endTime,
		TotalVotes:       numbers["totalVotes"],
		MaxVotesPerVoter: numbers["maxVotesPerVoter"],
		Started:          started[0].(bool),
	}
	return snapshot, nil
}

// Voter reads the voter record of account.
func (c *Client) Voter(ctx context.Context, account common.Address) (election.VoterRecord, error) {
	values, err := c.call(ctx, "voters", account)
	if err != nil {
		return election.VoterRecord{}, err
	}
	votes, err := toUint64(values[1])
	if err != nil {
		return election.VoterRecord{}, fmt.Errorf("decode votesCast: %w", err)
	}
	return election.VoterRecord{Authorized: values[0].(bool), VotesCast: votes}, nil
}

// AllCandidates reads the candidate list in ledger order.
func (c *Client) AllCandidates(ctx context.Context) ([]election.Candidate, error) {
	values, err := c.call(ctx, "getAllCandidates")
	if err != nil {
		return nil, err
	}
	ids := values[0].([]*big.Int)
	names := values[1].([]string)
	votes := values[2].([]*big.Int)
	if len(ids) != len(names) || len(ids) != len(votes) {
		return nil, fmt.Errorf("getAllCandidates: mismatched lengths %d/%d/%d", len(ids), len(names), len(votes))
	}
	candidates := make([]election.Candidate, 0, len(ids))
	for i := range ids {
		id, err := toUint64(ids[i])
		if err != nil {
			return nil, fmt.Errorf("decode candidate id: %w", err)
		}
		count, err := toUint64(votes[i])
		if err != nil {
			return nil, fmt.Errorf("decode candidate votes: %w", err)
		}
		candidates = append(candidates, election.Candidate{ID: id, Name: names[i], VoteCount: count})
	}
	return candidates, nil
}

// Winner reads the election result. The contract reverts while the election
// is running.
func (c *Client) Winner(ctx context.Context) (election.Winner, error) {
	values, err := c.call(ctx, "getWinner")
	if err != nil {
		return election.Winner{}, err
	}
	id, err := toUint64(values[0])
	if err != nil {
		return election.Winner{}, fmt.Errorf("decode winnerId: %w", err)
	}
	votes, err := toUint64(values[2])
	if err != nil {
		return election.Winner{}, fmt.Errorf("decode winnerVotes: %w", err)
	}
	return election.Winner{ID: id, Name: values[1].(string), Votes: votes}, nil
}

// Admin reads the election admin address.
func (c *Client) Admin(ctx context.Context) (common.Address, error) {
	values, err := c.call(ctx, "admin")
	if err != nil {
		return common.Address{}, err
	}
	return values[0].(common.Address), nil
}

// HasVotedFor reports whether account voted for candidateID.
func (c *Client) HasVotedFor(ctx context.Context, account common.Address, candidateID uint64) (bool, error) {
	values, err := c.call(ctx, "hasVotedFor", account, new(big.Int).SetUint64(candidateID))
	if err != nil {
		return false, err
	}
	return values[0].(bool), nil
}

// HasVotedForBatch resolves every check in one JSON-RPC batch.
func (c *Client) HasVotedForBatch(ctx context.Context, account common.Address, candidateIDs []uint64) (map[uint64]bool, error) {
	if c.batch == nil {
		return nil, ErrBatchUnsupported
	}
	elems := make([]rpc.BatchElem, len(candidateIDs))
	results := make([]hexutil.Bytes, len(candidateIDs))
	for i, id := range candidateIDs {
		data, err := c.abi.Pack("hasVotedFor", account, new(big.Int).SetUint64(id))
		if err != nil {
			return nil, fmt.Errorf("pack hasVotedFor: %w", err)
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args:   []any{map[string]any{"to": c.address, "data": hexutil.Bytes(data)}, "latest"},
			Result: &results[i],
		}
	}
	if err := c.batch.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("batch hasVotedFor: %w", err)
	}
	out := make(map[uint64]bool, len(candidateIDs))
	for i, id := range candidateIDs {
		if elems[i].Error != nil {
			return nil, fmt.Errorf("hasVotedFor %d: %w", id, elems[i].Error)
		}
		values, err := c.abi.Unpack("hasVotedFor", results[i])
		if err != nil {
			return nil, fmt.Errorf("unpack hasVotedFor %d: %w", id, err)
		}
		out[id] = values[0].(bool)
	}
	return out, nil
}

// Vote casts a single vote.
func (c *Client) Vote(ctx context.Context, from common.Address, candidateID uint64) (Handle, error) {
	return c.send(ctx, from, "vote", new(big.Int).SetUint64(candidateID))
}

// RevokeVote withdraws a vote.
func (c *Client) RevokeVote(ctx context.Context, from common.Address, candidateID uint64) (Handle, error) {
	return c.send(ctx, from, "revokeVote", new(big.Int).SetUint64(candidateID))
}

// ChangeVote moves a vote between candidates.
func (c *Client) ChangeVote(ctx context.Context, from common.Address, oldCandidateID, newCandidateID uint64) (Handle, error) {
	return c.send(ctx, from, "changeVote", new(big.Int).SetUint64(oldCandidateID), new(big.Int).SetUint64(newCandidateID))
}

// VoteMultiple casts one vote for each candidate.
func (c *Client) VoteMultiple(ctx context.Context, from common.Address, candidateIDs []uint64) (Handle, error) {
	ids := make([]*big.Int, len(candidateIDs))
	for i, id := range candidateIDs {
		ids[i] = new(big.Int).SetUint64(id)
	}
	return c.send(ctx, from, "voteMultiple", ids)
}

// AddCandidate registers a candidate.
func (c *Client) AddCandidate(ctx context.Context, from common.Address, name string) (Handle, error) {
	return c.send(ctx, from, "addCandidate", name)
}

// AddMultipleCandidates registers several candidates.
func (c *Client) AddMultipleCandidates(ctx context.Context, from common.Address, names []string) (Handle, error) {
	return c.send(ctx, from, "addMultipleCandidates", names)
}

// RemoveCandidate deletes a candidate.
func (c *Client) RemoveCandidate(ctx context.Context, from common.Address, candidateID uint64) (Handle, error) {
	return c.send(ctx, from, "removeCandidate", new(big.Int).SetUint64(candidateID))
}

// AuthorizeVoter grants voting rights to voter.
func (c *Client) AuthorizeVoter(ctx context.Context, from common.Address, voter common.Address) (Handle, error) {
	return c.send(ctx, from, "authorize", voter)
}

// StartElection opens voting for duration.
func (c *Client) StartElection(ctx context.Context, from common.Address, duration time.Duration) (Handle, error) {
	seconds := new(big.Int).SetInt64(int64(duration / time.Second))
	return c.send(ctx, from, "start", seconds)
}

// EndElection closes voting.
func (c *Client) EndElection(ctx context.Context, from common.Address) (Handle, error) {
	return c.send(ctx, from, "end")
}

// RestartElection resets the election.
func (c *Client) RestartElection(ctx context.Context, from common.Address) (Handle, error) {
	return c.send(ctx, from, "restart")
}

type sendTxArgs struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

func (c *Client) send(ctx context.Context, from common.Address, method string, args ...any) (Handle, error) {
	if c.wallet == nil {
		return nil, election.ErrWalletUnavailable
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.wallet.Request(ctx, "eth_sendTransaction", sendTxArgs{From: from, To: c.address, Data: data})
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	var hash common.Hash
	if err := json.Unmarshal(raw, &hash); err != nil {
		return nil, fmt.Errorf("decode %s tx hash: %w", method, err)
	}
	return &pollingHandle{hash: hash, source: c.receipts, interval: c.pollInterval}, nil
}

type pollingHandle struct {
	hash     common.Hash
	source   ReceiptSource
	interval time.Duration
}

func (h *pollingHandle) Hash() common.Hash { return h.hash }

// Wait polls until the receipt is available or ctx is done.
func (h *pollingHandle) Wait(ctx context.Context) (Receipt, error) {
	if h.source == nil {
		return Receipt{}, fmt.Errorf("receipt source not configured")
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		receipt, err := h.source.Receipt(ctx, h.hash)
		if err != nil {
			return Receipt{}, err
		}
		if receipt != nil {
			return *receipt, nil
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func toUint64(value any) (uint64, error) {
	b, ok := value.(*big.Int)
	if !ok || b == nil {
		return 0, fmt.Errorf("unexpected type %T", value)
	}
	if b.Sign() < 0 {
		return 0, fmt.Errorf("negative value %s", b)
	}
	n, overflow := uint256.FromBig(b)
	if overflow || !n.IsUint64() {
		return 0, fmt.Errorf("value %s exceeds uint64", b)
	}
	return n.Uint64(), nil
}

func toInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds int64", value)
	}
	return int64(value), nil
}
