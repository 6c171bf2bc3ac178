package election

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrWalletUnavailable is returned when no wallet provider is present.
	ErrWalletUnavailable = errors.New("election: wallet unavailable")
	// ErrUserRejected is returned when the user declines a wallet prompt.
	ErrUserRejected = errors.New("election: request rejected by user")
	// ErrNetworkMismatch is returned when the wallet is not on the configured
	// chain and could not be switched to it.
	ErrNetworkMismatch = errors.New("election: wallet is on the wrong network")
	// ErrNoAccounts is returned when the wallet exposes no accounts.
	ErrNoAccounts = errors.New("election: no accounts found")
	// ErrNotConnected is returned by operations that need a connected account.
	ErrNotConnected = errors.New("election: wallet not connected")
	// ErrWinnerUnavailable is the expected outcome of a winner read while the
	// election is still running.
	ErrWinnerUnavailable = errors.New("election: winner unavailable")
	// ErrWriteRejectedBeforeSubmit is returned when a write failed before the
	// ledger assigned it a hash.
	ErrWriteRejectedBeforeSubmit = errors.New("election: write rejected before submit")
	// ErrConfirmationTimeout is returned when a receipt did not arrive in time.
	ErrConfirmationTimeout = errors.New("election: confirmation timed out")
	// ErrInvalidArguments is returned when a write is missing required input.
	ErrInvalidArguments = errors.New("election: invalid operation arguments")
)

// Entity names a cached read-model entity.
type Entity string

const (
	EntitySnapshot   Entity = "election"
	EntityVoter      Entity = "voter"
	EntityCandidates Entity = "candidates"
	EntityWinner     Entity = "winner"
	EntityAdmin      Entity = "admin"
	EntityUserVotes  Entity = "user_votes"
)

// ReadFailedError reports a failed load of a single read-model entity.
type ReadFailedError struct {
	Entity Entity
	Err    error
}

func (e *ReadFailedError) Error() string {
	return fmt.Sprintf("election: read %s failed: %v", e.Entity, e.Err)
}

func (e *ReadFailedError) Unwrap() error { return e.Err }

// WriteRevertedError reports a write whose receipt carried a failure status.
type WriteRevertedError struct {
	Operation Operation
	Hash      common.Hash
}

func (e *WriteRevertedError) Error() string {
	return fmt.Sprintf("election: %s transaction %s reverted", e.Operation, e.Hash.Hex())
}
