package election

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle phase derived from an ElectionSnapshot.
type Status int

const (
	StatusNotStarted Status = iota
	StatusActive
	StatusEnded
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusNotStarted, StatusActive, StatusEnded} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown election status %q", text)
}

// ElectionSnapshot is an immutable copy of the election metadata held by the
// contract. It is replaced wholesale on each successful read.
type ElectionSnapshot struct {
	Name             string `json:"election_name"`
	StartTime        int64  `json:"start_time"`
	EndTime          int64  `json:"end_time"`
	TotalVotes       uint64 `json:"total_votes"`
	MaxVotesPerVoter uint64 `json:"max_votes_per_voter"`
	Started          bool   `json:"started"`
}

// Status derives the election phase at the supplied instant.
func (s ElectionSnapshot) Status(now time.Time) Status {
	if !s.Started {
		return StatusNotStarted
	}
	if s.EndTime > 0 && now.Unix() > s.EndTime {
		return StatusEnded
	}
	return StatusActive
}

// VoterRecord is the contract's view of the connected account.
type VoterRecord struct {
	Authorized bool   `json:"authorized"`
	VotesCast  uint64 `json:"votes_cast"`
}

// CanVote reports whether the voter is authorised and still has votes left.
func (v VoterRecord) CanVote(snapshot ElectionSnapshot) bool {
	return v.Authorized && v.VotesCast < snapshot.MaxVotesPerVoter
}

// RemainingVotes returns how many more votes the voter may cast. The result
// saturates at zero.
func RemainingVotes(snapshot ElectionSnapshot, voter VoterRecord) uint64 {
	if voter.VotesCast >= snapshot.MaxVotesPerVoter {
		return 0
	}
	return snapshot.MaxVotesPerVoter - voter.VotesCast
}

// Candidate is a single entry of the ledger-ordered candidate list.
type Candidate struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	VoteCount uint64 `json:"vote_count"`
}

// Winner is the result reported by the contract once the election has ended.
type Winner struct {
	ID    uint64 `json:"winner_id"`
	Name  string `json:"winner_name"`
	Votes uint64 `json:"winner_votes"`
}

// CandidateIDs extracts the ids of the supplied candidates in ledger order.
func CandidateIDs(candidates []Candidate) []uint64 {
	ids := make([]uint64, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	return ids
}

// CandidateSet is a set of candidate ids. The zero value is an empty set.
// Callers treat values as immutable and use With/Without to derive new sets.
type CandidateSet struct {
	ids map[uint64]struct{}
}

// NewCandidateSet builds a set from the provided ids.
func NewCandidateSet(ids ...uint64) CandidateSet {
	set := CandidateSet{ids: make(map[uint64]struct{}, len(ids))}
	for _, id := range ids {
		set.ids[id] = struct{}{}
	}
	return set
}

// Len returns the number of ids in the set.
func (s CandidateSet) Len() int { return len(s.ids) }

// Contains reports membership.
func (s CandidateSet) Contains(id uint64) bool {
	_, ok := s.ids[id]
	return ok
}

// With returns a copy of the set including id.
func (s CandidateSet) With(id uint64) CandidateSet {
	out := s.clone(1)
	out.ids[id] = struct{}{}
	return out
}

// Without returns a copy of the set excluding id.
func (s CandidateSet) Without(id uint64) CandidateSet {
	out := s.clone(0)
	delete(out.ids, id)
	return out
}

// IDs returns the members in ascending order.
func (s CandidateSet) IDs() []uint64 {
	ids := make([]uint64, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MarshalJSON renders the set as a sorted array.
func (s CandidateSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

func (s CandidateSet) clone(extra int) CandidateSet {
	out := CandidateSet{ids: make(map[uint64]struct{}, len(s.ids)+extra)}
	for id := range s.ids {
		out.ids[id] = struct{}{}
	}
	return out
}

// PendingTransaction is a submitted write awaiting its receipt.
type PendingTransaction struct {
	Hash        common.Hash `json:"hash"`
	Operation   Operation   `json:"operation"`
	SubmittedAt time.Time   `json:"submitted_at"`
}
