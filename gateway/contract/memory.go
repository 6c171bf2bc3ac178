package contract

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"votingsync/election"
)

// ErrExecutionReverted mirrors the node error for a reverting eth_call.
var ErrExecutionReverted = errors.New("execution reverted")

// ReadHook runs before every MemoryLedger read. A non-nil error fails the
// read. method is the ABI name of the view ("electionInfo" for the combined
// metadata read).
type ReadHook func(ctx context.Context, method string) error

// WriteHook runs before a MemoryLedger write is accepted. A non-nil error
// rejects it before a hash exists, like a wallet refusing to sign.
type WriteHook func(ctx context.Context, method string, from common.Address) error

type memoryVoter struct {
	authorized bool
	votesCast  uint64
	votedFor   map[uint64]bool
}

// MemoryLedger is an in-process election contract. It applies the same rules
// as the deployed contract and mines every write immediately. It backs the
// daemon's simulation mode and the package tests of the coordinator.
type MemoryLedger struct {
	now           func() time.Time
	successStatus any

	mu         sync.Mutex
	admin      common.Address
	name       string
	maxVotes   uint64
	started    bool
	ended      bool
	startTime  int64
	endTime    int64
	totalVotes uint64
	candidates []election.Candidate
	nextID     uint64
	voters     map[common.Address]*memoryVoter
	nonce      uint64
	reverts    map[string]int
	hold       bool
	reads      map[string]int
	readHook   ReadHook
	writeHook  WriteHook
}

var _ Gateway = (*MemoryLedger)(nil)

// MemoryOption customises a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithMemoryClock sets the ledger clock.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) { l.now = now }
}

// WithSuccessStatus sets the status value reported by successful receipts,
// for example "0x1" or true instead of uint64(1).
func WithSuccessStatus(status any) MemoryOption {
	return func(l *MemoryLedger) { l.successStatus = status }
}

// NewMemoryLedger returns an election with no candidates administered by
// admin.
func NewMemoryLedger(admin common.Address, name string, maxVotesPerVoter uint64, opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		now:           time.Now,
		successStatus: uint64(1),
		admin:         admin,
		name:          name,
		maxVotes:      maxVotesPerVoter,
		nextID:        1,
		voters:        make(map[common.Address]*memoryVoter),
		reverts:       make(map[string]int),
		reads:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Seed registers candidates and authorises voters without transactions.
func (l *MemoryLedger) Seed(candidates []string, voters ...common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range candidates {
		l.addCandidateLocked(name)
	}
	for _, v := range voters {
		l.voterLocked(v).authorized = true
	}
}

// SetReadHook installs h; nil removes it.
func (l *MemoryLedger) SetReadHook(h ReadHook) {
	l.mu.Lock()
	l.readHook = h
	l.mu.Unlock()
}

// SetWriteHook installs h; nil removes it.
func (l *MemoryLedger) SetWriteHook(h WriteHook) {
	l.mu.Lock()
	l.writeHook = h
	l.mu.Unlock()
}

// ForceRevert makes the next write of method mine with a failure status.
func (l *MemoryLedger) ForceRevert(method string) {
	l.mu.Lock()
	l.reverts[method]++
	l.mu.Unlock()
}

// HoldReceipts keeps receipts from being observed until released.
func (l *MemoryLedger) HoldReceipts(hold bool) {
	l.mu.Lock()
	l.hold = hold
	l.mu.Unlock()
}

// Reads returns how many times the named view was called.
func (l *MemoryLedger) Reads(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads[method]
}

func (l *MemoryLedger) read(ctx context.Context, method string) error {
	l.mu.Lock()
	l.reads[method]++
	hook := l.readHook
	l.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, method); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// ElectionInfo implements Reader.
func (l *MemoryLedger) ElectionInfo(ctx context.Context) (election.ElectionSnapshot, error) {
	if err := l.read(ctx, "electionInfo"); err != nil {
		return election.ElectionSnapshot{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return election.ElectionSnapshot{
		Name:             l.name,
		StartTime:        l.startTime,
		EndTime:          l.endTime,
		TotalVotes:       l.totalVotes,
		MaxVotesPerVoter: l.maxVotes,
		Started:          l.started,
	}, nil
}

// Voter implements Reader.
func (l *MemoryLedger) Voter(ctx context.Context, account common.Address) (election.VoterRecord, error) {
	if err := l.read(ctx, "voters"); err != nil {
		return election.VoterRecord{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.voters[account]
	if !ok {
		return election.VoterRecord{}, nil
	}
	return election.VoterRecord{Authorized: v.authorized, VotesCast: v.votesCast}, nil
}

// AllCandidates implements Reader.
func (l *MemoryLedger) AllCandidates(ctx context.Context) ([]election.Candidate, error) {
	if err := l.read(ctx, "getAllCandidates"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]election.Candidate(nil), l.candidates...), nil
}

// Winner implements Reader. It reverts until the election has ended.
func (l *MemoryLedger) Winner(ctx context.Context) (election.Winner, error) {
	if err := l.read(ctx, "getWinner"); err != nil {
		return election.Winner{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.endedLocked() {
		return election.Winner{}, fmt.Errorf("%w: election still ongoing", ErrExecutionReverted)
	}
	var best election.Candidate
	for _, c := range l.candidates {
		if c.VoteCount > best.VoteCount || best.ID == 0 {
			best = c
		}
	}
	if best.ID == 0 {
		return election.Winner{}, fmt.Errorf("%w: no candidates", ErrExecutionReverted)
	}
	return election.Winner{ID: best.ID, Name: best.Name, Votes: best.VoteCount}, nil
}

// Admin implements Reader.
func (l *MemoryLedger) Admin(ctx context.Context) (common.Address, error) {
	if err := l.read(ctx, "admin"); err != nil {
		return common.Address{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admin, nil
}

// HasVotedFor implements Reader.
func (l *MemoryLedger) HasVotedFor(ctx context.Context, account common.Address, candidateID uint64) (bool, error) {
	if err := l.read(ctx, "hasVotedFor"); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.voters[account]
	if !ok {
		return false, nil
	}
	return v.votedFor[candidateID], nil
}

// Vote implements Writer.
func (l *MemoryLedger) Vote(ctx context.Context, from common.Address, candidateID uint64) (Handle, error) {
	return l.write(ctx, "vote", from, func() bool { return l.castLocked(from, candidateID) })
}

// RevokeVote implements Writer.
func (l *MemoryLedger) RevokeVote(ctx context.Context, from common.Address, candidateID uint64) (Handle, error) {
	return l.write(ctx, "revokeVote", from, func() bool {
		if !l.activeLocked() {
			return false
		}
		v := l.voterLocked(from)
		if !v.votedFor[candidateID] {
			return false
		}
		delete(v.votedFor, candidateID)
		v.votesCast--
		l.totalVotes--
		l.candidateLocked(candidateID).VoteCount--
		return true
	})
}

// ChangeVote implements Writer.
func (l *MemoryLedger) ChangeVote(ctx context.Context, from common.Address, oldCandidateID, newCandidateID uint64) (Handle, error) {
	return l.write(ctx, "changeVote", from, func() bool {
		if !l.activeLocked() || l.candidateLocked(newCandidateID) == nil {
			return false
		}
		v := l.voterLocked(from)
		if !v.votedFor[oldCandidateID] || v.votedFor[newCandidateID] {
			return false
		}
		delete(v.votedFor, oldCandidateID)
		v.votedFor[newCandidateID] = true
		l.candidateLocked(oldCandidateID).VoteCount--
		l.candidateLocked(newCandidateID).VoteCount++
		return true
	})
}

// VoteMultiple implements Writer. Either every vote is recorded or none.
func (l *MemoryLedger) VoteMultiple(ctx context.Context, from common.Address, candidateIDs []uint64) (Handle, error) {
	return l.write(ctx, "voteMultiple", from, func() bool {
		v := l.voterLocked(from)
		if !l.activeLocked() || !v.authorized || len(candidateIDs) == 0 {
			return false
		}
		if uint64(len(candidateIDs)) > l.maxVotes-min(v.votesCast, l.maxVotes) {
			return false
		}
		seen := make(map[uint64]bool, len(candidateIDs))
		for _, id := range candidateIDs {
			if seen[id] || v.votedFor[id] || l.candidateLocked(id) == nil {
				return false
			}
			seen[id] = true
		}
		for _, id := range candidateIDs {
			if !l.castLocked(from, id) {
				return false
			}
		}
		return true
	})
}

// AddCandidate implements Writer.
func (l *MemoryLedger) AddCandidate(ctx context.Context, from common.Address, name string) (Handle, error) {
	return l.write(ctx, "addCandidate", from, func() bool {
		if from != l.admin || l.started || name == "" {
			return false
		}
		l.addCandidateLocked(name)
		return true
	})
}

// AddMultipleCandidates implements Writer.
func (l *MemoryLedger) AddMultipleCandidates(ctx context.Context, from common.Address, names []string) (Handle, error) {
	return l.write(ctx, "addMultipleCandidates", from, func() bool {
		if from != l.admin || l.started || len(names) == 0 {
			return false
		}
		for _, name := range names {
			l.addCandidateLocked(name)
		}
		return true
	})
}

// RemoveCandidate implements Writer.
func (l *MemoryLedger) RemoveCandidate(ctx context.Context, from common.Address, candidateID uint64) (Handle, error) {
	return l.write(ctx, "removeCandidate", from, func() bool {
		if from != l.admin || l.started {
			return false
		}
		for i, c := range l.candidates {
			if c.ID == candidateID {
				l.candidates = append(l.candidates[:i], l.candidates[i+1:]...)
				return true
			}
		}
		return false
	})
}

// AuthorizeVoter implements Writer.
func (l *MemoryLedger) AuthorizeVoter(ctx context.Context, from common.Address, voter common.Address) (Handle, error) {
	return l.write(ctx, "authorize", from, func() bool {
		if from != l.admin {
			return false
		}
		l.voterLocked(voter).authorized = true
		return true
	})
}

// StartElection implements Writer.
func (l *MemoryLedger) StartElection(ctx context.Context, from common.Address, duration time.Duration) (Handle, error) {
	return l.write(ctx, "start", from, func() bool {
		if from != l.admin || l.started || len(l.candidates) == 0 || duration <= 0 {
			return false
		}
		now := l.now()
		l.started = true
		l.ended = false
		l.startTime = now.Unix()
		l.endTime = now.Add(duration).Unix()
		return true
	})
}

// EndElection implements Writer.
func (l *MemoryLedger) EndElection(ctx context.Context, from common.Address) (Handle, error) {
	return l.write(ctx, "end", from, func() bool {
		if from != l.admin || !l.started || l.ended {
			return false
		}
		l.ended = true
		l.endTime = l.now().Unix()
		return true
	})
}

// RestartElection implements Writer.
func (l *MemoryLedger) RestartElection(ctx context.Context, from common.Address) (Handle, error) {
	return l.write(ctx, "restart", from, func() bool {
		if from != l.admin {
			return false
		}
		l.started, l.ended = false, false
		l.startTime, l.endTime, l.totalVotes = 0, 0, 0
		for i := range l.candidates {
			l.candidates[i].VoteCount = 0
		}
		for _, v := range l.voters {
			v.votesCast = 0
			v.votedFor = make(map[uint64]bool)
		}
		return true
	})
}

func (l *MemoryLedger) write(ctx context.Context, method string, from common.Address, apply func() bool) (Handle, error) {
	l.mu.Lock()
	hook := l.writeHook
	l.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, method, from); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.nonce++
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], l.nonce)
	hash := crypto.Keccak256Hash([]byte(method), from.Bytes(), seed[:])
	ok := false
	if l.reverts[method] > 0 {
		l.reverts[method]--
	} else {
		ok = apply()
	}
	status := any(uint64(0))
	if ok {
		status = l.successStatus
	}
	receipt := Receipt{TxHash: hash, Status: status, BlockNumber: l.nonce}
	l.mu.Unlock()

	return FuncHandle{TxHash: hash, WaitFunc: func(ctx context.Context) (Receipt, error) {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			l.mu.Lock()
			held := l.hold
			l.mu.Unlock()
			if !held {
				return receipt, nil
			}
			select {
			case <-ctx.Done():
				return Receipt{}, ctx.Err()
			case <-ticker.C:
			}
		}
	}}, nil
}

func (l *MemoryLedger) castLocked(from common.Address, candidateID uint64) bool {
	if !l.activeLocked() {
		return false
	}
	c := l.candidateLocked(candidateID)
	v := l.voterLocked(from)
	if c == nil || !v.authorized || v.votesCast >= l.maxVotes || v.votedFor[candidateID] {
		return false
	}
	v.votedFor[candidateID] = true
	v.votesCast++
	c.VoteCount++
	l.totalVotes++
	return true
}

func (l *MemoryLedger) activeLocked() bool {
	return l.started && !l.endedLocked()
}

func (l *MemoryLedger) endedLocked() bool {
	if l.ended {
		return true
	}
	return l.started && l.endTime > 0 && l.now().Unix() > l.endTime
}

func (l *MemoryLedger) addCandidateLocked(name string) {
	l.candidates = append(l.candidates, election.Candidate{ID: l.nextID, Name: name})
	l.nextID++
}

func (l *MemoryLedger) candidateLocked(id uint64) *election.Candidate {
	for i := range l.candidates {
		if l.candidates[i].ID == id {
			return &l.candidates[i]
		}
	}
	return nil
}

func (l *MemoryLedger) voterLocked(account common.Address) *memoryVoter {
	v, ok := l.voters[account]
	if !ok {
		v = &memoryVoter{votedFor: make(map[uint64]bool)}
		l.voters[account] = v
	}
	return v
}
