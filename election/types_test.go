package election

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSnapshotStatus(t *testing.T) {
	cases := []struct {
		name     string
		snapshot ElectionSnapshot
		now      int64
		want     Status
	}{
		{name: "not started", snapshot: ElectionSnapshot{Started: false, EndTime: 1000}, now: 2000, want: StatusNotStarted},
		{name: "ended", snapshot: ElectionSnapshot{Started: true, EndTime: 1000}, now: 2000, want: StatusEnded},
		{name: "active before end", snapshot: ElectionSnapshot{Started: true, EndTime: 3000}, now: 2000, want: StatusActive},
		{name: "active at end second", snapshot: ElectionSnapshot{Started: true, EndTime: 2000}, now: 2000, want: StatusActive},
		{name: "open ended", snapshot: ElectionSnapshot{Started: true}, now: 2000, want: StatusActive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.snapshot.Status(time.Unix(tc.now, 0))
			if got != tc.want {
				t.Fatalf("status = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRemainingVotesSaturates(t *testing.T) {
	snapshot := ElectionSnapshot{MaxVotesPerVoter: 2}
	if got := RemainingVotes(snapshot, VoterRecord{VotesCast: 0}); got != 2 {
		t.Fatalf("remaining = %d, want 2", got)
	}
	if got := RemainingVotes(snapshot, VoterRecord{VotesCast: 5}); got != 0 {
		t.Fatalf("remaining = %d, want 0", got)
	}
}

func TestVoterCanVote(t *testing.T) {
	snapshot := ElectionSnapshot{MaxVotesPerVoter: 1}
	if (VoterRecord{Authorized: false}).CanVote(snapshot) {
		t.Fatalf("unauthorised voter must not vote")
	}
	if !(VoterRecord{Authorized: true}).CanVote(snapshot) {
		t.Fatalf("authorised voter with votes left must vote")
	}
	if (VoterRecord{Authorized: true, VotesCast: 1}).CanVote(snapshot) {
		t.Fatalf("voter at cap must not vote")
	}
}

func TestCandidateSetCopyOnWrite(t *testing.T) {
	var empty CandidateSet
	if empty.Len() != 0 || empty.Contains(1) {
		t.Fatalf("zero value should be empty")
	}
	one := empty.With(3)
	two := one.With(1)
	if one.Len() != 1 || two.Len() != 2 {
		t.Fatalf("unexpected sizes %d %d", one.Len(), two.Len())
	}
	trimmed := two.Without(3)
	if !two.Contains(3) || trimmed.Contains(3) {
		t.Fatalf("Without must not mutate the receiver")
	}
	raw, err := json.Marshal(two)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != "[1,3]" {
		t.Fatalf("json = %s", raw)
	}
}

func TestParseOperation(t *testing.T) {
	for _, op := range Operations() {
		parsed, err := ParseOperation(op.String())
		if err != nil {
			t.Fatalf("parse %s: %v", op, err)
		}
		if parsed != op {
			t.Fatalf("parse %s = %s", op, parsed)
		}
	}
	if _, err := ParseOperation("mint"); err == nil {
		t.Fatalf("expected error for unknown operation")
	}
	if OpVote.AdminOnly() || !OpAddCandidate.AdminOnly() {
		t.Fatalf("unexpected admin classification")
	}
}
