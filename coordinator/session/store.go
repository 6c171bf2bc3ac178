// Package session holds the state shared by the coordinator components: the
// wallet connection, the cached read model and the in-progress selection.
//
// Every mutation happens under a single lock so readers never observe a
// partially applied reset or reload. Loads are tagged with the Epoch they were
// issued for; a write whose epoch is no longer current is discarded.
package session

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"votingsync/election"
)

// ConnectionState describes the wallet session.
type ConnectionState struct {
	Connected    bool           `json:"connected"`
	Account      common.Address `json:"account"`
	IsAdmin      bool           `json:"is_admin"`
	AdminAddress common.Address `json:"admin_address"`
}

// IsCurrentUserAdmin reports whether the connected account is the admin.
func (c ConnectionState) IsCurrentUserAdmin() bool {
	return c.Connected && c.IsAdmin && c.Account == c.AdminAddress
}

// Epoch identifies the session a load was issued for.
type Epoch struct {
	Account    common.Address
	Generation uint64
}

// View is a consistent copy of the store.
type View struct {
	Connection  ConnectionState           `json:"connection"`
	Snapshot    election.ElectionSnapshot `json:"election"`
	HasSnapshot bool                      `json:"has_election"`
	Voter       election.VoterRecord      `json:"voter"`
	Candidates  []election.Candidate      `json:"candidates"`
	Winner      *election.Winner          `json:"winner,omitempty"`
	UserVotes   election.CandidateSet     `json:"user_votes"`
	Selection   election.CandidateSet     `json:"selection"`
	Generation  uint64                    `json:"generation"`
}

// RemainingVotes returns the votes the connected account may still cast.
func (v View) RemainingVotes() uint64 {
	return election.RemainingVotes(v.Snapshot, v.Voter)
}

// Epoch returns the epoch the view was taken at.
func (v View) Epoch() Epoch {
	return Epoch{Account: v.Connection.Account, Generation: v.Generation}
}

// Store is the single owner of session state. The zero value is not usable;
// call New.
type Store struct {
	mu          sync.RWMutex
	conn        ConnectionState
	snapshot    election.ElectionSnapshot
	hasSnapshot bool
	voter       election.VoterRecord
	candidates  []election.Candidate
	winner      *election.Winner
	userVotes   election.CandidateSet
	selection   election.CandidateSet
	generation  uint64
	session     uint64
}

// New returns an empty, disconnected store.
func New() *Store {
	return &Store{}
}

// Connect marks the session connected to account and starts a new
// generation. Account scoped state is dropped when the account differs from
// the previous one.
func (s *Store) Connect(account common.Address) Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn.Account != account {
		s.clearAccountScopedLocked()
	}
	s.conn.Connected = true
	s.conn.Account = account
	s.generation++
	s.session++
	return s.epochLocked()
}

// AdoptAccount switches a connected session to account. The selection, the
// user vote set, the voter record and the winner are cleared atomically. It
// reports false when the session is disconnected or already on account.
func (s *Store) AdoptAccount(account common.Address) (Epoch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.conn.Connected || s.conn.Account == account {
		return s.epochLocked(), false
	}
	s.conn.Account = account
	s.clearAccountScopedLocked()
	s.winner = nil
	s.generation++
	return s.epochLocked(), true
}

// Reset returns every field to its empty default in one step and invalidates
// all outstanding epochs.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = ConnectionState{}
	s.snapshot = election.ElectionSnapshot{}
	s.hasSnapshot = false
	s.candidates = nil
	s.winner = nil
	s.clearAccountScopedLocked()
	s.generation++
	s.session++
}

// Session identifies the wallet session. It changes on Connect and Reset,
// never on AdoptAccount.
func (s *Store) Session() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Epoch returns the current epoch.
func (s *Store) Epoch() Epoch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epochLocked()
}

// Current reports whether e still describes the live session.
func (s *Store) Current(e Epoch) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentLocked(e)
}

// Connection returns the connection state.
func (s *Store) Connection() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// PutSnapshot replaces the election snapshot if e is current.
func (s *Store) PutSnapshot(e Epoch, snapshot election.ElectionSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(e) {
		return false
	}
	s.snapshot = snapshot
	s.hasSnapshot = true
	s.trimSelectionLocked()
	return true
}

// PutVoter replaces the voter record if e is current.
func (s *Store) PutVoter(e Epoch, voter election.VoterRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(e) {
		return false
	}
	s.voter = voter
	s.trimSelectionLocked()
	return true
}

// PutCandidates replaces the candidate list if e is current. Selected ids
// that no longer exist are dropped.
func (s *Store) PutCandidates(e Epoch, candidates []election.Candidate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(e) {
		return false
	}
	s.candidates = append([]election.Candidate(nil), candidates...)
	known := make(map[uint64]struct{}, len(candidates))
	for _, c := range candidates {
		known[c.ID] = struct{}{}
	}
	for _, id := range s.selection.IDs() {
		if _, ok := known[id]; !ok {
			s.selection = s.selection.Without(id)
		}
	}
	return true
}

// PutWinner stores the election result if e is current.
func (s *Store) PutWinner(e Epoch, winner election.Winner) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(e) {
		return false
	}
	w := winner
	s.winner = &w
	return true
}

// ClearWinner drops the cached winner if e is current.
func (s *Store) ClearWinner(e Epoch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(e) {
		return false
	}
	s.winner = nil
	return true
}

// PutAdmin records the admin address if e is current. IsAdmin only becomes
// true through a successful read.
func (s *Store) PutAdmin(e Epoch, admin common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(e) {
		return false
	}
	s.conn.AdminAddress = admin
	s.conn.IsAdmin = true
	return true
}

// PutUserVotes replaces the user vote set if e is current.
func (s *Store) PutUserVotes(e Epoch, votes election.CandidateSet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(e) {
		return false
	}
	s.userVotes = votes
	return true
}

// ToggleSelection removes id when selected, otherwise adds it provided the
// selection is below the remaining vote count. It reports whether the
// selection changed.
func (s *Store) ToggleSelection(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection.Contains(id) {
		s.selection = s.selection.Without(id)
		return true
	}
	if uint64(s.selection.Len()) >= election.RemainingVotes(s.snapshot, s.voter) {
		return false
	}
	s.selection = s.selection.With(id)
	return true
}

// Selection returns the current selection.
func (s *Store) Selection() election.CandidateSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection
}

// ClearSelection empties the selection.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = election.CandidateSet{}
}

// View returns a consistent copy of every field.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{
		Connection:  s.conn,
		Snapshot:    s.snapshot,
		HasSnapshot: s.hasSnapshot,
		Voter:       s.voter,
		Candidates:  append([]election.Candidate(nil), s.candidates...),
		UserVotes:   s.userVotes,
		Selection:   s.selection,
		Generation:  s.generation,
	}
	if s.winner != nil {
		w := *s.winner
		v.Winner = &w
	}
	return v
}

func (s *Store) epochLocked() Epoch {
	return Epoch{Account: s.conn.Account, Generation: s.generation}
}

func (s *Store) currentLocked(e Epoch) bool {
	return s.conn.Connected && e.Generation == s.generation && e.Account == s.conn.Account
}

func (s *Store) clearAccountScopedLocked() {
	s.voter = election.VoterRecord{}
	s.userVotes = election.CandidateSet{}
	s.selection = election.CandidateSet{}
}

// trimSelectionLocked keeps the selection within the remaining vote count
// after the snapshot or voter record changed, dropping the highest ids first.
func (s *Store) trimSelectionLocked() {
	remaining := election.RemainingVotes(s.snapshot, s.voter)
	ids := s.selection.IDs()
	for uint64(len(ids)) > remaining {
		last := ids[len(ids)-1]
		s.selection = s.selection.Without(last)
		ids = ids[:len(ids)-1]
	}
}
