package txlifecycle

import (
	"math/big"
	"reflect"
	"strings"

	"votingsync/coordinator/readmodel"
	"votingsync/election"
)

// IsTransactionSuccessful normalises the receipt status encodings seen across
// providers: numeric 1 of any width, boolean true and the hex string "0x1"
// are success; anything else is failure.
func IsTransactionSuccessful(status any) bool {
	switch v := status.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "0x1")
	case *big.Int:
		return v != nil && v.Cmp(big.NewInt(1)) == 0
	}
	rv := reflect.ValueOf(status)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 1
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() == 1
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 1
	}
	return false
}

// ReloadTargets returns the entities a confirmed operation invalidates.
func ReloadTargets(op election.Operation) readmodel.Target {
	switch op {
	case election.OpVote, election.OpRevokeVote, election.OpChangeVote, election.OpVoteMultiple:
		return readmodel.TargetCandidates | readmodel.TargetVoter | readmodel.TargetSnapshot | readmodel.TargetUserVotes
	case election.OpAddCandidate, election.OpAddMultipleCandidates:
		return readmodel.TargetCandidates
	case election.OpRemoveCandidate:
		return readmodel.TargetCandidates | readmodel.TargetSnapshot | readmodel.TargetUserVotes
	case election.OpAuthorizeVoter:
		return readmodel.TargetVoter
	case election.OpStartElection, election.OpEndElection:
		return readmodel.TargetSnapshot
	case election.OpRestartElection:
		return readmodel.TargetSnapshot | readmodel.TargetCandidates | readmodel.TargetVoter | readmodel.TargetUserVotes
	}
	return 0
}
