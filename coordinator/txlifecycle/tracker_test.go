package txlifecycle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"votingsync/coordinator/readmodel"
	"votingsync/coordinator/session"
	"votingsync/election"
	"votingsync/gateway/contract"
	"votingsync/gateway/wallet"
	"votingsync/notify"
)

var (
	admin    = common.HexToAddress("0xAD")
	accountA = common.HexToAddress("0xA1")
)

type recordingRefresher struct {
	mu    sync.Mutex
	calls []readmodel.Target
}

func (r *recordingRefresher) Refresh(_ context.Context, _ session.Epoch, targets readmodel.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, targets)
	return nil
}

func (r *recordingRefresher) Calls() []readmodel.Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]readmodel.Target(nil), r.calls...)
}

type harness struct {
	ledger    *contract.MemoryLedger
	store     *session.Store
	center    *notify.Center
	refresher *recordingRefresher
	tracker   *Tracker
}

func newHarness(t *testing.T, ledgerOpts []contract.MemoryOption, opts ...Option) *harness {
	t.Helper()
	ledger := contract.NewMemoryLedger(admin, "Board", 2, ledgerOpts...)
	ledger.Seed([]string{"Alice", "Bob", "Carol"}, accountA)
	_, err := ledger.StartElection(context.Background(), admin, time.Hour)
	require.NoError(t, err)

	store := session.New()
	store.Connect(accountA)
	center := notify.NewCenter(notify.WithMetrics(nil))
	refresher := &recordingRefresher{}
	opts = append([]Option{WithMetrics(nil)}, opts...)
	return &harness{
		ledger:    ledger,
		store:     store,
		center:    center,
		refresher: refresher,
		tracker:   New(ledger, store, refresher, center, opts...),
	}
}

func (h *harness) kinds() []notify.Kind {
	var out []notify.Kind
	for _, n := range h.center.List() {
		out = append(out, n.Kind)
	}
	return out
}

func TestIsTransactionSuccessful(t *testing.T) {
	truthy := []any{1, int8(1), int64(1), uint(1), uint64(1), float64(1), float32(1), true, "0x1", " 0X1 ", big.NewInt(1), hexutil.Uint64(1)}
	for _, status := range truthy {
		require.Truef(t, IsTransactionSuccessful(status), "%T(%v) should be success", status, status)
	}
	falsy := []any{nil, 0, 2, -1, uint64(0), float64(0.5), false, "1", "0x0", "true", "", big.NewInt(0), (*big.Int)(nil), struct{}{}}
	for _, status := range falsy {
		require.Falsef(t, IsTransactionSuccessful(status), "%T(%v) should be failure", status, status)
	}
}

func TestFailedVoteDoesNotReload(t *testing.T) {
	h := newHarness(t, nil)
	h.ledger.ForceRevert("vote")
	candidatesBefore := h.ledger.Reads("getAllCandidates")

	result, err := h.tracker.Submit(context.Background(), election.OpVote, Args{CandidateID: 3}, accountA)

	var reverted *election.WriteRevertedError
	require.ErrorAs(t, err, &reverted)
	require.Equal(t, election.OpVote, reverted.Operation)
	require.False(t, result.Succeeded)
	require.NotContains(t, h.kinds(), notify.KindSuccess)
	require.Empty(t, h.refresher.Calls())
	require.Equal(t, candidatesBefore, h.ledger.Reads("getAllCandidates"))
	require.Empty(t, h.tracker.Pending())
	require.False(t, h.center.IsPending(result.Hash.Hex()))

	notes := h.center.List()
	require.Len(t, notes, 1)
	require.Equal(t, "Vote Failed", notes[0].Title)
	require.True(t, notes[0].Persistent)
}

func TestSuccessfulVoteReloadsTargets(t *testing.T) {
	h := newHarness(t, []contract.MemoryOption{contract.WithSuccessStatus("0x1")})

	result, err := h.tracker.Submit(context.Background(), election.OpVote, Args{CandidateID: 2}, accountA)
	require.NoError(t, err)
	require.True(t, result.Succeeded)
	require.Equal(t, []readmodel.Target{ReloadTargets(election.OpVote)}, h.refresher.Calls())

	notes := h.center.List()
	require.Len(t, notes, 1)
	require.Equal(t, notify.KindSuccess, notes[0].Kind)
	require.Equal(t, "Vote Cast", notes[0].Title)
	require.Equal(t, "Your vote has been recorded successfully", notes[0].Message)
	require.Zero(t, h.center.PendingCount())
	require.False(t, h.center.IsPending(result.Hash.Hex()))
}

func TestRejectedBeforeSubmit(t *testing.T) {
	h := newHarness(t, nil)
	h.ledger.SetWriteHook(func(context.Context, string, common.Address) error {
		return &wallet.RPCError{Code: wallet.CodeUserRejected, Message: "User denied transaction signature."}
	})

	_, err := h.tracker.Submit(context.Background(), election.OpAddCandidate, Args{Name: "Dave"}, admin)
	require.ErrorIs(t, err, election.ErrWriteRejectedBeforeSubmit)
	require.ErrorIs(t, err, election.ErrUserRejected)
	require.Empty(t, h.tracker.Pending())
	require.Zero(t, h.center.PendingCount())
	require.Empty(t, h.refresher.Calls())

	notes := h.center.List()
	require.Len(t, notes, 1)
	require.Equal(t, notify.KindError, notes[0].Kind)
	require.True(t, notes[0].Persistent)
}

func TestWalletErrorBeforeSubmit(t *testing.T) {
	h := newHarness(t, nil)
	h.ledger.SetWriteHook(func(context.Context, string, common.Address) error {
		return errors.New("insufficient funds for gas")
	})

	_, err := h.tracker.Submit(context.Background(), election.OpEndElection, Args{}, admin)
	require.ErrorIs(t, err, election.ErrWriteRejectedBeforeSubmit)
	require.NotErrorIs(t, err, election.ErrUserRejected)
	require.Equal(t, "Failed to end election. Make sure you are the admin.", h.center.List()[0].Message)
}

func TestConfirmationTimeout(t *testing.T) {
	h := newHarness(t, nil, WithConfirmationTimeout(20*time.Millisecond))
	h.ledger.HoldReceipts(true)

	result, err := h.tracker.Submit(context.Background(), election.OpVote, Args{CandidateID: 1}, accountA)
	require.ErrorIs(t, err, election.ErrConfirmationTimeout)
	require.Empty(t, h.tracker.Pending())
	require.False(t, h.center.IsPending(result.Hash.Hex()))
	require.Empty(t, h.refresher.Calls())
	require.Equal(t, []notify.Kind{notify.KindError}, h.kinds())
}

func TestPendingVisibleWhileAwaitingReceipt(t *testing.T) {
	h := newHarness(t, nil)
	h.ledger.HoldReceipts(true)

	done := make(chan error, 1)
	go func() {
		_, err := h.tracker.Submit(context.Background(), election.OpVote, Args{CandidateID: 1}, accountA)
		done <- err
	}()

	require.Eventually(t, func() bool { return len(h.tracker.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	pending := h.tracker.Pending()[0]
	require.Equal(t, election.OpVote, pending.Operation)
	require.True(t, h.center.IsPending(pending.Hash.Hex()))

	h.ledger.HoldReceipts(false)
	require.NoError(t, <-done)
	require.Empty(t, h.tracker.Pending())
	require.False(t, h.center.IsPending(pending.Hash.Hex()))
	for _, n := range h.center.List() {
		require.NotEqual(t, "Transaction Pending", n.Title, "pending notice removed after confirmation")
	}
}

func TestRestartClearsWinner(t *testing.T) {
	h := newHarness(t, nil)
	epoch := h.store.Connect(admin)
	require.True(t, h.store.PutWinner(epoch, election.Winner{ID: 1, Name: "Alice"}))

	_, err := h.tracker.Submit(context.Background(), election.OpRestartElection, Args{}, admin)
	require.NoError(t, err)
	require.Nil(t, h.store.View().Winner)
	require.Equal(t, []readmodel.Target{ReloadTargets(election.OpRestartElection)}, h.refresher.Calls())
}

func TestReloadSkippedAfterAccountSwitch(t *testing.T) {
	h := newHarness(t, nil)
	h.ledger.HoldReceipts(true)

	done := make(chan error, 1)
	go func() {
		_, err := h.tracker.Submit(context.Background(), election.OpVote, Args{CandidateID: 1}, accountA)
		done <- err
	}()
	require.Eventually(t, func() bool { return len(h.tracker.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	h.store.AdoptAccount(common.HexToAddress("0xB2"))
	h.ledger.HoldReceipts(false)

	require.NoError(t, <-done)
	require.Empty(t, h.refresher.Calls())
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, nil)
	cases := []struct {
		op   election.Operation
		args Args
	}{
		{election.OpVote, Args{}},
		{election.OpChangeVote, Args{CandidateID: 1, NewCandidateID: 1}},
		{election.OpVoteMultiple, Args{}},
		{election.OpAddCandidate, Args{Name: "  "}},
		{election.OpAddMultipleCandidates, Args{Names: []string{"Ann", ""}}},
		{election.OpAuthorizeVoter, Args{}},
		{election.OpStartElection, Args{Duration: time.Millisecond}},
		{election.Operation(99), Args{}},
	}
	for _, tc := range cases {
		_, err := h.tracker.Submit(context.Background(), tc.op, tc.args, accountA)
		require.ErrorIsf(t, err, election.ErrInvalidArguments, "%s", tc.op)
	}
	_, err := h.tracker.Submit(context.Background(), election.OpEndElection, Args{}, common.Address{})
	require.ErrorIs(t, err, election.ErrNotConnected)
	require.Empty(t, h.center.List())
}

func TestReloadTargets(t *testing.T) {
	require.Equal(t, readmodel.TargetCandidates, ReloadTargets(election.OpAddCandidate))
	require.Equal(t, readmodel.TargetVoter, ReloadTargets(election.OpAuthorizeVoter))
	require.Equal(t, readmodel.TargetSnapshot, ReloadTargets(election.OpEndElection))
	vote := ReloadTargets(election.OpVote)
	for _, target := range []readmodel.Target{readmodel.TargetCandidates, readmodel.TargetVoter, readmodel.TargetSnapshot, readmodel.TargetUserVotes} {
		require.True(t, vote.Has(target))
	}
	require.False(t, vote.Has(readmodel.TargetAdmin))
	for _, op := range election.Operations() {
		require.NotZerof(t, ReloadTargets(op), "%s has no reload targets", op)
	}
}
