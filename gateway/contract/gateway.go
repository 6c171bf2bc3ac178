package contract

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"votingsync/election"
)

// Receipt is the confirmation observed for a submitted transaction. Status
// keeps whatever encoding the source used (uint64 1, bool true, "0x1", ...);
// callers normalise it once.
type Receipt struct {
	TxHash      common.Hash
	Status      any
	BlockNumber uint64
}

// Handle tracks a submitted transaction.
type Handle interface {
	Hash() common.Hash
	Wait(ctx context.Context) (Receipt, error)
}

// Reader exposes the contract's view functions.
type Reader interface {
	ElectionInfo(ctx context.Context) (election.ElectionSnapshot, error)
	Voter(ctx context.Context, account common.Address) (election.VoterRecord, error)
	AllCandidates(ctx context.Context) ([]election.Candidate, error)
	Winner(ctx context.Context) (election.Winner, error)
	Admin(ctx context.Context) (common.Address, error)
	HasVotedFor(ctx context.Context, account common.Address, candidateID uint64) (bool, error)
}

// BatchVoteReader is implemented by readers able to resolve several
// hasVotedFor calls in a single round trip.
type BatchVoteReader interface {
	HasVotedForBatch(ctx context.Context, account common.Address, candidateIDs []uint64) (map[uint64]bool, error)
}

// Writer exposes the contract's state-changing functions. Every call is sent
// from the supplied account and signed by the wallet.
type Writer interface {
	Vote(ctx context.Context, from common.Address, candidateID uint64) (Handle, error)
	RevokeVote(ctx context.Context, from common.Address, candidateID uint64) (Handle, error)
	ChangeVote(ctx context.Context, from common.Address, oldCandidateID, newCandidateID uint64) (Handle, error)
	VoteMultiple(ctx context.Context, from common.Address, candidateIDs []uint64) (Handle, error)
	AddCandidate(ctx context.Context, from common.Address, name string) (Handle, error)
	AddMultipleCandidates(ctx context.Context, from common.Address, names []string) (Handle, error)
	RemoveCandidate(ctx context.Context, from common.Address, candidateID uint64) (Handle, error)
	AuthorizeVoter(ctx context.Context, from common.Address, voter common.Address) (Handle, error)
	StartElection(ctx context.Context, from common.Address, duration time.Duration) (Handle, error)
	EndElection(ctx context.Context, from common.Address) (Handle, error)
	RestartElection(ctx context.Context, from common.Address) (Handle, error)
}

// Gateway is the full contract surface.
type Gateway interface {
	Reader
	Writer
}

// FuncHandle adapts a hash and callback to the Handle interface.
type FuncHandle struct {
	TxHash   common.Hash
	WaitFunc func(ctx context.Context) (Receipt, error)
}

// Hash returns the transaction hash.
func (h FuncHandle) Hash() common.Hash { return h.TxHash }

// Wait delegates to the configured callback.
func (h FuncHandle) Wait(ctx context.Context) (Receipt, error) {
	if h.WaitFunc == nil {
		return Receipt{TxHash: h.TxHash}, nil
	}
	return h.WaitFunc(ctx)
}
