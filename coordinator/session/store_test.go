package session

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"votingsync/election"
)

var (
	accountA = common.HexToAddress("0xA1")
	accountB = common.HexToAddress("0xB2")
)

func connectedStore(t *testing.T, max, cast uint64) (*Store, Epoch) {
	t.Helper()
	s := New()
	epoch := s.Connect(accountA)
	if !s.PutSnapshot(epoch, election.ElectionSnapshot{Name: "Board", Started: true, MaxVotesPerVoter: max}) {
		t.Fatalf("snapshot rejected for current epoch")
	}
	if !s.PutVoter(epoch, election.VoterRecord{Authorized: true, VotesCast: cast}) {
		t.Fatalf("voter rejected for current epoch")
	}
	return s, epoch
}

func TestStaleWritesAreDiscarded(t *testing.T) {
	s, epoch := connectedStore(t, 2, 0)

	next, switched := s.AdoptAccount(accountB)
	if !switched {
		t.Fatalf("expected account switch")
	}
	if s.PutVoter(epoch, election.VoterRecord{Authorized: true, VotesCast: 2}) {
		t.Fatalf("write tagged with previous account must be discarded")
	}
	if !s.PutVoter(next, election.VoterRecord{Authorized: false, VotesCast: 0}) {
		t.Fatalf("write for current epoch rejected")
	}
	if got := s.View().Voter; got.Authorized {
		t.Fatalf("voter record leaked from previous account: %+v", got)
	}

	s.Reset()
	if s.PutCandidates(next, []election.Candidate{{ID: 1}}) {
		t.Fatalf("write after reset must be discarded")
	}
}

func TestSessionSurvivesAccountSwitchOnly(t *testing.T) {
	s, _ := connectedStore(t, 2, 0)
	first := s.Session()

	if _, switched := s.AdoptAccount(accountB); !switched {
		t.Fatalf("expected account switch")
	}
	if got := s.Session(); got != first {
		t.Fatalf("account switch changed session %d -> %d", first, got)
	}

	s.Reset()
	reset := s.Session()
	if reset == first {
		t.Fatalf("reset kept session %d", first)
	}
	s.Connect(accountA)
	if s.Session() == reset {
		t.Fatalf("connect kept session %d", reset)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	s, epoch := connectedStore(t, 3, 1)
	s.PutCandidates(epoch, []election.Candidate{{ID: 1, Name: "Alice"}, {ID: 2, Name: "Bob"}})
	s.PutAdmin(epoch, accountA)
	s.PutWinner(epoch, election.Winner{ID: 1, Name: "Alice", Votes: 4})
	s.PutUserVotes(epoch, election.NewCandidateSet(1))
	s.ToggleSelection(2)

	before := s.View().Generation
	s.Reset()
	view := s.View()

	if view.Connection != (ConnectionState{}) {
		t.Fatalf("connection not reset: %+v", view.Connection)
	}
	if view.HasSnapshot || view.Snapshot != (election.ElectionSnapshot{}) {
		t.Fatalf("snapshot not reset: %+v", view.Snapshot)
	}
	if view.Voter != (election.VoterRecord{}) {
		t.Fatalf("voter not reset: %+v", view.Voter)
	}
	if len(view.Candidates) != 0 || view.Winner != nil {
		t.Fatalf("candidates or winner not reset")
	}
	if view.UserVotes.Len() != 0 || view.Selection.Len() != 0 {
		t.Fatalf("sets not reset")
	}
	if view.Generation != before+1 {
		t.Fatalf("generation = %d, want %d", view.Generation, before+1)
	}
}

func TestToggleSelectionEnforcesCap(t *testing.T) {
	s, _ := connectedStore(t, 2, 0)

	for _, id := range []uint64{1, 2, 3} {
		s.ToggleSelection(id)
	}
	if got := s.Selection().IDs(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("selection = %v, want [1 2]", got)
	}
	if !s.ToggleSelection(1) {
		t.Fatalf("deselect should always succeed")
	}
	if !s.ToggleSelection(3) {
		t.Fatalf("select below cap rejected")
	}
}

func TestSelectionTrimmedWhenVotesConsumed(t *testing.T) {
	s, epoch := connectedStore(t, 3, 0)
	s.ToggleSelection(5)
	s.ToggleSelection(7)
	s.ToggleSelection(9)

	s.PutVoter(epoch, election.VoterRecord{Authorized: true, VotesCast: 2})
	if got := s.Selection().IDs(); len(got) != 1 || got[0] != 5 {
		t.Fatalf("selection = %v, want [5]", got)
	}
}

func TestCandidateRemovalDropsSelection(t *testing.T) {
	s, epoch := connectedStore(t, 3, 0)
	s.ToggleSelection(1)
	s.ToggleSelection(2)
	s.PutCandidates(epoch, []election.Candidate{{ID: 2}})
	if got := s.Selection().IDs(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("selection = %v, want [2]", got)
	}
}

func TestAdoptAccountClearsAccountScopedState(t *testing.T) {
	s, epoch := connectedStore(t, 2, 1)
	s.PutUserVotes(epoch, election.NewCandidateSet(4))
	s.PutWinner(epoch, election.Winner{ID: 4})
	s.ToggleSelection(1)

	if _, switched := s.AdoptAccount(accountA); switched {
		t.Fatalf("same account must not switch")
	}
	if _, switched := s.AdoptAccount(accountB); !switched {
		t.Fatalf("expected switch to new account")
	}
	view := s.View()
	if view.Connection.Account != accountB {
		t.Fatalf("account = %s", view.Connection.Account.Hex())
	}
	if view.Selection.Len() != 0 || view.UserVotes.Len() != 0 || view.Winner != nil {
		t.Fatalf("account scoped state survived switch: %+v", view)
	}
	if !view.HasSnapshot {
		t.Fatalf("election snapshot is not account scoped")
	}
}

func TestAdoptAccountRequiresConnection(t *testing.T) {
	s := New()
	if _, switched := s.AdoptAccount(accountB); switched {
		t.Fatalf("disconnected store must ignore account changes")
	}
}

func TestIsCurrentUserAdmin(t *testing.T) {
	s, epoch := connectedStore(t, 1, 0)
	if s.Connection().IsCurrentUserAdmin() {
		t.Fatalf("admin before admin read")
	}
	s.PutAdmin(epoch, accountB)
	if s.Connection().IsCurrentUserAdmin() {
		t.Fatalf("non-admin account reported as admin")
	}
	next, _ := s.AdoptAccount(accountB)
	if !s.Connection().IsCurrentUserAdmin() {
		t.Fatalf("admin account not recognised")
	}
	if !s.Current(next) {
		t.Fatalf("epoch from AdoptAccount should be current")
	}
}

func TestViewIsDetached(t *testing.T) {
	s, epoch := connectedStore(t, 1, 0)
	s.PutCandidates(epoch, []election.Candidate{{ID: 1, Name: "Alice"}})
	s.PutWinner(epoch, election.Winner{ID: 1})
	view := s.View()
	view.Candidates[0].Name = "Mallory"
	view.Winner.Name = "Mallory"
	again := s.View()
	if again.Candidates[0].Name != "Alice" || again.Winner.Name != "" {
		t.Fatalf("view shares memory with the store")
	}
}

func TestConcurrentToggleNeverExceedsCap(t *testing.T) {
	s, _ := connectedStore(t, 3, 1)
	var wg sync.WaitGroup
	for i := uint64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			s.ToggleSelection(id)
		}(i)
	}
	wg.Wait()
	if n := s.Selection().Len(); n != 2 {
		t.Fatalf("selection size = %d, want 2", n)
	}
}
