// Package reconcile reacts to wallet account and chain changes. The decision
// of what to do is a pure function of the current state, the event and a
// snapshot of the session; executing the resulting effects is left to the
// Reconciler.
package reconcile

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"votingsync/coordinator/readmodel"
	"votingsync/coordinator/session"
	"votingsync/notify"
	"votingsync/observability/logging"
)

// State of the reconciler.
type State int

const (
	Idle State = iota
	Reconciling
)

func (s State) String() string {
	if s == Reconciling {
		return "reconciling"
	}
	return "idle"
}

// Event is a wallet change or the completion of a reconciliation.
type Event interface {
	trigger() string
}

// AccountsChanged carries the accounts the wallet now exposes, first one
// active.
type AccountsChanged struct {
	Accounts []common.Address
}

// ChainChanged carries the chain id the wallet moved to.
type ChainChanged struct {
	ChainID string
}

// Settled reports that the reload started by a previous event finished.
type Settled struct {
	Err error
}

func (AccountsChanged) trigger() string { return "accounts_changed" }
func (ChainChanged) trigger() string    { return "chain_changed" }
func (Settled) trigger() string         { return "settled" }

// EffectKind enumerates the side effects a transition can request.
type EffectKind int

const (
	EffectDisconnect EffectKind = iota + 1
	EffectAdoptAccount
	EffectClearAccountScoped
	EffectNotify
	EffectReload
)

func (k EffectKind) String() string {
	switch k {
	case EffectDisconnect:
		return "disconnect"
	case EffectAdoptAccount:
		return "adopt_account"
	case EffectClearAccountScoped:
		return "clear_account_scoped"
	case EffectNotify:
		return "notify"
	case EffectReload:
		return "reload"
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

// Notice is the payload of an EffectNotify.
type Notice struct {
	Kind    notify.Kind
	Title   string
	Message string
}

// Effect is one side effect. Only the field matching Kind is meaningful.
type Effect struct {
	Kind    EffectKind
	Account common.Address
	Notice  Notice
	Targets readmodel.Target
}

const (
	accountReload = readmodel.TargetVoter | readmodel.TargetAdmin | readmodel.TargetCandidates | readmodel.TargetUserVotes
	chainReload   = readmodel.TargetSnapshot | readmodel.TargetVoter | readmodel.TargetAdmin | readmodel.TargetCandidates
)

// Transition computes the next state and the effects to run for ev, given
// the session as it is now.
func Transition(state State, ev Event, view session.View) (State, []Effect) {
	conn := view.Connection
	switch ev := ev.(type) {
	case AccountsChanged:
		if len(ev.Accounts) == 0 {
			return Idle, []Effect{{Kind: EffectDisconnect}}
		}
		next := ev.Accounts[0]
		if !conn.Connected || next == conn.Account {
			return state, nil
		}
		return Reconciling, []Effect{
			{Kind: EffectAdoptAccount, Account: next},
			{Kind: EffectClearAccountScoped},
			{Kind: EffectNotify, Notice: Notice{
				Kind:    notify.KindInfo,
				Title:   "Account Changed",
				Message: fmt.Sprintf("Switched to account %s", logging.ShortAddress(next)),
			}},
			{Kind: EffectReload, Targets: accountReload},
		}
	case ChainChanged:
		if !conn.Connected {
			return state, nil
		}
		return Reconciling, []Effect{
			{Kind: EffectNotify, Notice: Notice{
				Kind:    notify.KindWarning,
				Title:   "Network Changed",
				Message: fmt.Sprintf("Wallet switched to chain %s. Reloading election data.", ev.ChainID),
			}},
			{Kind: EffectReload, Targets: chainReload},
		}
	case Settled:
		if ev.Err == nil {
			return Idle, nil
		}
		return Idle, []Effect{{Kind: EffectNotify, Notice: Notice{
			Kind:    notify.KindError,
			Title:   "Sync Error",
			Message: "Failed to refresh election data after the wallet changed",
		}}}
	}
	return state, nil
}
