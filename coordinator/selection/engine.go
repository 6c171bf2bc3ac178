// Package selection maintains the multi-candidate selection of the connected
// voter and submits it as one batch vote.
package selection

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"votingsync/coordinator/session"
	"votingsync/coordinator/txlifecycle"
	"votingsync/election"
)

// Submitter sends a write and waits for its receipt.
type Submitter interface {
	Submit(ctx context.Context, op election.Operation, args txlifecycle.Args, account common.Address) (txlifecycle.Result, error)
}

// Engine enforces the remaining-votes cap on the selection. The cap is
// checked on insertion, inside the store lock.
type Engine struct {
	store     *session.Store
	submitter Submitter
	logger    *slog.Logger
}

// New constructs an engine.
func New(store *session.Store, submitter Submitter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, submitter: submitter, logger: logger}
}

// Toggle deselects id when selected and otherwise selects it if the cap
// allows. A rejected selection is silent; the return value reports whether
// the selection changed.
func (e *Engine) Toggle(id uint64) bool {
	changed := e.store.ToggleSelection(id)
	if !changed {
		e.logger.Debug("selection at capacity", "candidate_id", id)
	}
	return changed
}

// Selected returns the selected ids in ascending order.
func (e *Engine) Selected() []uint64 {
	return e.store.Selection().IDs()
}

// RemainingVotes returns maxVotesPerVoter minus votesCast, floored at zero.
func (e *Engine) RemainingVotes() uint64 {
	return e.store.View().RemainingVotes()
}

// CanSelectMore reports whether another candidate may be selected.
func (e *Engine) CanSelectMore() bool {
	view := e.store.View()
	return uint64(view.Selection.Len()) < view.RemainingVotes()
}

// Clear drops the selection.
func (e *Engine) Clear() {
	e.store.ClearSelection()
}

// SubmitBatch votes for every selected candidate in one transaction. An
// empty selection is a no-op. The selection is cleared only on success.
func (e *Engine) SubmitBatch(ctx context.Context) (txlifecycle.Result, error) {
	selected := e.store.Selection()
	if selected.Len() == 0 {
		return txlifecycle.Result{Operation: election.OpVoteMultiple}, nil
	}
	conn := e.store.Connection()
	if !conn.Connected {
		return txlifecycle.Result{Operation: election.OpVoteMultiple}, election.ErrNotConnected
	}
	result, err := e.submitter.Submit(ctx, election.OpVoteMultiple, txlifecycle.Args{CandidateIDs: selected.IDs()}, conn.Account)
	if err != nil {
		return result, err
	}
	if result.Succeeded {
		e.store.ClearSelection()
	}
	return result, nil
}
