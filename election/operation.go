package election

import (
	"fmt"
	"strings"
)

// Operation identifies a state-changing contract call.
type Operation int

const (
	OpVote Operation = iota + 1
	OpRevokeVote
	OpChangeVote
	OpVoteMultiple
	OpAddCandidate
	OpAddMultipleCandidates
	OpRemoveCandidate
	OpAuthorizeVoter
	OpStartElection
	OpEndElection
	OpRestartElection
)

var operationNames = map[Operation]string{
	OpVote:                  "vote",
	OpRevokeVote:            "revoke_vote",
	OpChangeVote:            "change_vote",
	OpVoteMultiple:          "vote_multiple",
	OpAddCandidate:          "add_candidate",
	OpAddMultipleCandidates: "add_multiple_candidates",
	OpRemoveCandidate:       "remove_candidate",
	OpAuthorizeVoter:        "authorize_voter",
	OpStartElection:         "start_election",
	OpEndElection:           "end_election",
	OpRestartElection:       "restart_election",
}

// Operations lists every known operation in declaration order.
func Operations() []Operation {
	return []Operation{
		OpVote, OpRevokeVote, OpChangeVote, OpVoteMultiple,
		OpAddCandidate, OpAddMultipleCandidates, OpRemoveCandidate,
		OpAuthorizeVoter, OpStartElection, OpEndElection, OpRestartElection,
	}
}

// String returns the snake_case name used in logs, metrics and the API.
func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (o Operation) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Operation) UnmarshalText(text []byte) error {
	op, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// ParseOperation resolves an operation from its snake_case name.
func ParseOperation(name string) (Operation, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for op, candidate := range operationNames {
		if candidate == normalized {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", name)
}

// AdminOnly reports whether the contract restricts the operation to the
// election admin.
func (o Operation) AdminOnly() bool {
	switch o {
	case OpAddCandidate, OpAddMultipleCandidates, OpRemoveCandidate,
		OpAuthorizeVoter, OpStartElection, OpEndElection, OpRestartElection:
		return true
	default:
		return false
	}
}

// Title is the human readable label used in notifications.
func (o Operation) Title() string {
	switch o {
	case OpVote:
		return "Vote Cast"
	case OpRevokeVote:
		return "Vote Revoked"
	case OpChangeVote:
		return "Vote Changed"
	case OpVoteMultiple:
		return "Votes Cast"
	case OpAddCandidate:
		return "Candidate Added"
	case OpAddMultipleCandidates:
		return "Candidates Added"
	case OpRemoveCandidate:
		return "Candidate Removed"
	case OpAuthorizeVoter:
		return "Voter Authorized"
	case OpStartElection:
		return "Election Started"
	case OpEndElection:
		return "Election Ended"
	case OpRestartElection:
		return "Election Restarted"
	default:
		return "Transaction"
	}
}

// FailureTitle is the notification title used when the operation fails.
func (o Operation) FailureTitle() string {
	switch o {
	case OpVote:
		return "Vote Failed"
	case OpRevokeVote:
		return "Revoke Failed"
	case OpChangeVote:
		return "Change Vote Failed"
	case OpVoteMultiple:
		return "Batch Vote Failed"
	case OpAddCandidate:
		return "Add Candidate Failed"
	case OpAddMultipleCandidates:
		return "Add Candidates Failed"
	case OpRemoveCandidate:
		return "Remove Candidate Failed"
	case OpAuthorizeVoter:
		return "Authorization Failed"
	case OpStartElection:
		return "Start Election Failed"
	case OpEndElection:
		return "End Election Failed"
	case OpRestartElection:
		return "Restart Election Failed"
	default:
		return "Transaction Failed"
	}
}

// Verb is the imperative phrase used in failure messages, as in
// "Failed to <verb>".
func (o Operation) Verb() string {
	switch o {
	case OpVote:
		return "vote"
	case OpRevokeVote:
		return "revoke your vote"
	case OpChangeVote:
		return "change your vote"
	case OpVoteMultiple:
		return "cast your votes"
	case OpAddCandidate:
		return "add candidate"
	case OpAddMultipleCandidates:
		return "add candidates"
	case OpRemoveCandidate:
		return "remove candidate"
	case OpAuthorizeVoter:
		return "authorize voter"
	case OpStartElection:
		return "start election"
	case OpEndElection:
		return "end election"
	case OpRestartElection:
		return "restart election"
	default:
		return "send transaction"
	}
}
