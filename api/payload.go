package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"votingsync/coordinator/session"
	"votingsync/coordinator/txlifecycle"
	"votingsync/election"
	"votingsync/notify"
)

type errorPayload struct {
	Error string `json:"error"`
}

type electionPayload struct {
	election.ElectionSnapshot
	Status election.Status `json:"status"`
}

type statePayload struct {
	Connected      bool                          `json:"connected"`
	Account        string                        `json:"account,omitempty"`
	IsAdmin        bool                          `json:"is_admin"`
	AdminAddress   string                        `json:"admin_address,omitempty"`
	Election       *electionPayload              `json:"election,omitempty"`
	Voter          election.VoterRecord          `json:"voter"`
	CanVote        bool                          `json:"can_vote"`
	Candidates     []election.Candidate          `json:"candidates"`
	Winner         *election.Winner              `json:"winner,omitempty"`
	UserVotes      []uint64                      `json:"user_votes"`
	Selection      []uint64                      `json:"selection"`
	RemainingVotes uint64                        `json:"remaining_votes"`
	Pending        []election.PendingTransaction `json:"pending"`
	Busy           bool                          `json:"busy"`
	LastError      string                        `json:"last_error,omitempty"`
}

func newStatePayload(view session.View, pending []election.PendingTransaction, busy bool, notes []notify.Notification, now time.Time) statePayload {
	conn := view.Connection
	out := statePayload{
		Connected:      conn.Connected,
		IsAdmin:        conn.IsCurrentUserAdmin(),
		Voter:          view.Voter,
		Candidates:     view.Candidates,
		Winner:         view.Winner,
		UserVotes:      nonNil(view.UserVotes.IDs()),
		Selection:      nonNil(view.Selection.IDs()),
		RemainingVotes: view.RemainingVotes(),
		Pending:        pending,
		Busy:           busy,
		LastError:      lastError(notes),
	}
	if conn.Account != (common.Address{}) {
		out.Account = conn.Account.Hex()
	}
	if conn.AdminAddress != (common.Address{}) {
		out.AdminAddress = conn.AdminAddress.Hex()
	}
	if view.HasSnapshot {
		out.Election = &electionPayload{ElectionSnapshot: view.Snapshot, Status: view.Snapshot.Status(now)}
		out.CanVote = view.Voter.CanVote(view.Snapshot)
	}
	if out.Candidates == nil {
		out.Candidates = []election.Candidate{}
	}
	if out.Pending == nil {
		out.Pending = []election.PendingTransaction{}
	}
	return out
}

// lastError returns the message of the newest error notice still shown.
func lastError(notes []notify.Notification) string {
	for i := len(notes) - 1; i >= 0; i-- {
		if notes[i].Kind == notify.KindError {
			return notes[i].Message
		}
	}
	return ""
}

type resultPayload struct {
	Operation election.Operation `json:"operation"`
	Hash      string             `json:"hash,omitempty"`
	Succeeded bool               `json:"succeeded"`
	Block     uint64             `json:"block,omitempty"`
	ReloadErr string             `json:"reload_error,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func newResultPayload(result txlifecycle.Result) resultPayload {
	out := resultPayload{
		Operation: result.Operation,
		Succeeded: result.Succeeded,
		Block:     result.Block,
	}
	if result.Hash != (common.Hash{}) {
		out.Hash = result.Hash.Hex()
	}
	if result.ReloadErr != nil {
		out.ReloadErr = result.ReloadErr.Error()
	}
	return out
}

type selectionPayload struct {
	Changed       bool     `json:"changed"`
	Selected      []uint64 `json:"selected"`
	CanSelectMore bool     `json:"can_select_more"`
}

func nonNil(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}
