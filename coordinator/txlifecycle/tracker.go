// Package txlifecycle submits contract writes and follows them to a receipt.
package txlifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"votingsync/coordinator/readmodel"
	"votingsync/coordinator/session"
	"votingsync/election"
	"votingsync/gateway/contract"
	"votingsync/gateway/wallet"
	"votingsync/observability"
	"votingsync/observability/logging"
	"votingsync/observability/otel"
)

// Args carries the inputs of every operation; each operation reads only the
// fields it needs.
type Args struct {
	CandidateID    uint64
	NewCandidateID uint64
	CandidateIDs   []uint64
	Name           string
	Names          []string
	Voter          common.Address
	Duration       time.Duration
}

// Validate checks that args carry what op requires.
func (a Args) Validate(op election.Operation) error {
	var problem string
	switch op {
	case election.OpVote, election.OpRevokeVote, election.OpRemoveCandidate:
		if a.CandidateID == 0 {
			problem = "candidate id required"
		}
	case election.OpChangeVote:
		switch {
		case a.CandidateID == 0 || a.NewCandidateID == 0:
			problem = "old and new candidate ids required"
		case a.CandidateID == a.NewCandidateID:
			problem = "new candidate must differ"
		}
	case election.OpVoteMultiple:
		if len(a.CandidateIDs) == 0 {
			problem = "candidate ids required"
		}
	case election.OpAddCandidate:
		if strings.TrimSpace(a.Name) == "" {
			problem = "candidate name required"
		}
	case election.OpAddMultipleCandidates:
		if len(a.Names) == 0 {
			problem = "candidate names required"
		}
		for _, name := range a.Names {
			if strings.TrimSpace(name) == "" {
				problem = "candidate names must not be empty"
			}
		}
	case election.OpAuthorizeVoter:
		if a.Voter == (common.Address{}) {
			problem = "voter address required"
		}
	case election.OpStartElection:
		if a.Duration < time.Second {
			problem = "duration of at least one second required"
		}
	case election.OpEndElection, election.OpRestartElection:
	default:
		problem = fmt.Sprintf("unsupported operation %d", int(op))
	}
	if problem != "" {
		return fmt.Errorf("%w: %s: %s", election.ErrInvalidArguments, op, problem)
	}
	return nil
}

// Refresher reloads read-model entities after a confirmed write.
type Refresher interface {
	Refresh(ctx context.Context, epoch session.Epoch, targets readmodel.Target) error
}

// Notifier is the subset of the notification center used by the tracker.
type Notifier interface {
	TransactionPending(hash, title string) string
	TransactionSuccess(hash, title, message string) string
	TransactionError(hash, title, message string) string
	Error(title, message string) string
	Remove(id string)
}

// Result describes a confirmed or reverted write.
type Result struct {
	Operation election.Operation `json:"operation"`
	Hash      common.Hash        `json:"hash"`
	Succeeded bool               `json:"succeeded"`
	Block     uint64             `json:"block,omitempty"`
	// ReloadErr joins read failures of the follow-up refresh. The write
	// itself still succeeded.
	ReloadErr error `json:"-"`
}

// Tracker submits writes, keeps the pending set and triggers the reloads a
// confirmed write implies. A write that fails or reverts never reloads.
type Tracker struct {
	writer    contract.Writer
	store     *session.Store
	refresher Refresher
	notifier  Notifier
	logger    *slog.Logger
	metrics   *observability.CoordinatorMetrics
	tracer    trace.Tracer
	timeout   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending map[common.Hash]election.PendingTransaction
}

// Option customises the Tracker.
type Option func(*Tracker)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics overrides the metrics registry. Nil disables metrics.
func WithMetrics(m *observability.CoordinatorMetrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithTracer overrides the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(t *Tracker) {
		if tracer != nil {
			t.tracer = tracer
		}
	}
}

// WithConfirmationTimeout bounds how long Submit waits for a receipt. Zero
// waits until the caller's context ends.
func WithConfirmationTimeout(timeout time.Duration) Option {
	return func(t *Tracker) { t.timeout = timeout }
}

// WithClock overrides the clock used to stamp pending transactions.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New constructs a tracker.
func New(writer contract.Writer, store *session.Store, refresher Refresher, notifier Notifier, opts ...Option) *Tracker {
	t := &Tracker{
		writer:    writer,
		store:     store,
		refresher: refresher,
		notifier:  notifier,
		logger:    slog.Default(),
		metrics:   observability.Coordinator(),
		tracer:    otel.Tracer("txlifecycle"),
		now:       time.Now,
		pending:   make(map[common.Hash]election.PendingTransaction),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Pending lists the transactions awaiting a receipt, oldest first.
func (t *Tracker) Pending() []election.PendingTransaction {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]election.PendingTransaction, 0, len(t.pending))
	for _, tx := range t.pending {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// Submit sends op from account and blocks until the receipt is observed.
func (t *Tracker) Submit(ctx context.Context, op election.Operation, args Args, account common.Address) (Result, error) {
	result := Result{Operation: op}
	if err := args.Validate(op); err != nil {
		return result, err
	}
	if account == (common.Address{}) {
		return result, election.ErrNotConnected
	}

	ctx, span := t.tracer.Start(ctx, "txlifecycle.submit",
		trace.WithAttributes(attribute.String("operation", op.String())))
	defer span.End()

	logger := t.logger.With("operation", op.String(), logging.Account(account))
	handle, err := t.dispatch(ctx, op, args, account)
	if err != nil {
		err = rejected(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected before submit")
		t.metrics.RecordSubmission(op.String(), "rejected")
		logger.Warn("write rejected before submit", "error", err)
		t.notifier.Error(op.FailureTitle(), rejectionMessage(op, err))
		return result, err
	}

	hash := handle.Hash()
	result.Hash = hash
	span.SetAttributes(attribute.String("tx_hash", hash.Hex()))
	submitted := t.now()
	t.track(election.PendingTransaction{Hash: hash, Operation: op, SubmittedAt: submitted})
	noticeID := t.notifier.TransactionPending(hash.Hex(), "Transaction Pending")
	logger.Info("transaction submitted", "tx_hash", hash.Hex())

	waitCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	receipt, err := handle.Wait(waitCtx)

	t.untrack(hash)
	t.notifier.Remove(noticeID)
	t.metrics.ObserveConfirmation(op.String(), t.now().Sub(submitted))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s after %s", election.ErrConfirmationTimeout, hash.Hex(), t.timeout)
		} else {
			err = fmt.Errorf("wait for %s: %w", hash.Hex(), err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirmation failed")
		t.metrics.RecordSubmission(op.String(), "unconfirmed")
		logger.Warn("transaction not confirmed", "tx_hash", hash.Hex(), "error", err)
		t.notifier.TransactionError(hash.Hex(), op.FailureTitle(), fmt.Sprintf("Transaction %s was not confirmed: %v", shortHash(hash), err))
		return result, err
	}
	result.Block = receipt.BlockNumber

	if !IsTransactionSuccessful(receipt.Status) {
		err := &election.WriteRevertedError{Operation: op, Hash: hash}
		span.SetStatus(codes.Error, "reverted")
		t.metrics.RecordSubmission(op.String(), "reverted")
		logger.Warn("transaction reverted", "tx_hash", hash.Hex(), "status", fmt.Sprint(receipt.Status))
		t.notifier.TransactionError(hash.Hex(), op.FailureTitle(), revertMessage(op))
		return result, err
	}

	result.Succeeded = true
	t.metrics.RecordSubmission(op.String(), "success")
	logger.Info("transaction confirmed", "tx_hash", hash.Hex(), "block", receipt.BlockNumber)
	t.notifier.TransactionSuccess(hash.Hex(), op.Title(), successMessage(op, args))

	epoch := t.store.Epoch()
	if epoch.Account != account || !t.store.Current(epoch) {
		logger.Debug("session changed before confirmation, skipping reload")
		return result, nil
	}
	if op == election.OpRestartElection {
		t.store.ClearWinner(epoch)
	}
	if targets := ReloadTargets(op); targets != 0 && t.refresher != nil {
		result.ReloadErr = t.refresher.Refresh(ctx, epoch, targets)
	}
	return result, nil
}

func (t *Tracker) dispatch(ctx context.Context, op election.Operation, args Args, from common.Address) (contract.Handle, error) {
	switch op {
	case election.OpVote:
		return t.writer.Vote(ctx, from, args.CandidateID)
	case election.OpRevokeVote:
		return t.writer.RevokeVote(ctx, from, args.CandidateID)
	case election.OpChangeVote:
		return t.writer.ChangeVote(ctx, from, args.CandidateID, args.NewCandidateID)
	case election.OpVoteMultiple:
		return t.writer.VoteMultiple(ctx, from, args.CandidateIDs)
	case election.OpAddCandidate:
		return t.writer.AddCandidate(ctx, from, strings.TrimSpace(args.Name))
	case election.OpAddMultipleCandidates:
		names := make([]string, len(args.Names))
		for i, name := range args.Names {
			names[i] = strings.TrimSpace(name)
		}
		return t.writer.AddMultipleCandidates(ctx, from, names)
	case election.OpRemoveCandidate:
		return t.writer.RemoveCandidate(ctx, from, args.CandidateID)
	case election.OpAuthorizeVoter:
		return t.writer.AuthorizeVoter(ctx, from, args.Voter)
	case election.OpStartElection:
		return t.writer.StartElection(ctx, from, args.Duration)
	case election.OpEndElection:
		return t.writer.EndElection(ctx, from)
	case election.OpRestartElection:
		return t.writer.RestartElection(ctx, from)
	}
	return nil, fmt.Errorf("%w: unsupported operation %d", election.ErrInvalidArguments, int(op))
}

func (t *Tracker) track(tx election.PendingTransaction) {
	t.mu.Lock()
	t.pending[tx.Hash] = tx
	t.mu.Unlock()
}

func (t *Tracker) untrack(hash common.Hash) {
	t.mu.Lock()
	delete(t.pending, hash)
	t.mu.Unlock()
}

func rejected(err error) error {
	if errors.Is(err, election.ErrWalletUnavailable) {
		return fmt.Errorf("%w: %w", election.ErrWriteRejectedBeforeSubmit, err)
	}
	if code, ok := wallet.ErrorCode(err); ok && (code == wallet.CodeUserRejected || code == wallet.CodeUnauthorized) {
		return fmt.Errorf("%w: %w: %v", election.ErrWriteRejectedBeforeSubmit, election.ErrUserRejected, err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "user denied") {
		return fmt.Errorf("%w: %w: %v", election.ErrWriteRejectedBeforeSubmit, election.ErrUserRejected, err)
	}
	return fmt.Errorf("%w: %w", election.ErrWriteRejectedBeforeSubmit, err)
}

func rejectionMessage(op election.Operation, err error) string {
	if errors.Is(err, election.ErrUserRejected) {
		return "The transaction was rejected in the wallet."
	}
	if op.AdminOnly() {
		return fmt.Sprintf("Failed to %s. Make sure you are the admin.", op.Verb())
	}
	return fmt.Sprintf("Failed to %s. Please check and try again.", op.Verb())
}

func revertMessage(op election.Operation) string {
	if op.AdminOnly() {
		return "Transaction was reverted. Make sure you are the admin."
	}
	return "Transaction was reverted. Please check your eligibility and try again."
}

func successMessage(op election.Operation, args Args) string {
	switch op {
	case election.OpVote:
		return "Your vote has been recorded successfully"
	case election.OpRevokeVote:
		return "Your vote has been revoked successfully"
	case election.OpChangeVote:
		return "Your vote has been changed successfully"
	case election.OpVoteMultiple:
		return fmt.Sprintf("%d votes have been recorded successfully", len(args.CandidateIDs))
	case election.OpAddCandidate:
		return fmt.Sprintf("Candidate %q has been added successfully", strings.TrimSpace(args.Name))
	case election.OpAddMultipleCandidates:
		return fmt.Sprintf("%d candidates have been added successfully", len(args.Names))
	case election.OpRemoveCandidate:
		return fmt.Sprintf("Candidate #%d has been removed", args.CandidateID)
	case election.OpAuthorizeVoter:
		return fmt.Sprintf("Voter %s has been authorized", logging.ShortAddress(args.Voter))
	case election.OpStartElection:
		return "The election has been started successfully"
	case election.OpEndElection:
		return "The election has been ended successfully"
	case election.OpRestartElection:
		return "The election has been restarted successfully"
	}
	return "Transaction completed successfully"
}

func shortHash(hash common.Hash) string {
	return hash.Hex()[:10] + "..."
}
