package cplscheme

import (
	"sort"
	"strings"

	"github.com/cynidn2x/precice/pkg/errors"
)

// Action identifies one of the closed set of side effects a coupling
// scheme can demand of the adapter driving it (checkpointing the
// solver state, restoring it, or running the initial data exchange).
type Action int

const (
	WriteCheckpoint Action = iota
	ReadCheckpoint
	InitializeData
)

func (a Action) String() string {
	switch a {
	case WriteCheckpoint:
		return "WriteCheckpoint"
	case ReadCheckpoint:
		return "ReadCheckpoint"
	case InitializeData:
		return "InitializeData"
	default:
		return "UnknownAction"
	}
}

// ActionLedger tracks the actions a scheme currently requires of its
// adapter and which of those have been fulfilled. A scheme must refuse
// to advance past certain phases while any required action is still
// outstanding.
type ActionLedger struct {
	required  map[Action]struct{}
	fulfilled map[Action]struct{}
}

// NewActionLedger returns an empty ledger.
func NewActionLedger() *ActionLedger {
	return &ActionLedger{
		required:  make(map[Action]struct{}),
		fulfilled: make(map[Action]struct{}),
	}
}

// Require marks action as required. Fulfillment state from a previous
// round is not implicitly carried over.
func (l *ActionLedger) Require(action Action) {
	l.required[action] = struct{}{}
}

// IsRequired reports whether action is currently required.
func (l *ActionLedger) IsRequired(action Action) bool {
	_, ok := l.required[action]
	return ok
}

// IsFulfilled reports whether action has been marked fulfilled.
func (l *ActionLedger) IsFulfilled(action Action) bool {
	_, ok := l.fulfilled[action]
	return ok
}

// Fulfill marks action as fulfilled. It is a programming error to
// fulfill an action that was never required.
func (l *ActionLedger) Fulfill(action Action) error {
	if !l.IsRequired(action) {
		return errors.WithFields(
			errors.New(errors.ErrAssertion, "action fulfilled without being required"),
			errors.Fields{"action": action.String()},
		)
	}
	l.fulfilled[action] = struct{}{}
	return nil
}

// CheckCompleteness returns an error naming every required action that
// has not yet been fulfilled. A scheme calls this at the top of each
// exchange phase to guard against an adapter skipping a checkpoint. It
// always clears the ledger's required/fulfilled sets before returning,
// whether or not it reports an error, so stale requirements from a
// previous round never leak into the next.
func (l *ActionLedger) CheckCompleteness() error {
	var missing []string
	for action := range l.required {
		if _, ok := l.fulfilled[action]; !ok {
			missing = append(missing, action.String())
		}
	}
	l.Reset()
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.WithFields(
		errors.New(errors.ErrUsage, "required actions are not fulfilled: "+strings.Join(missing, ", ")),
		errors.Fields{"missing": missing},
	)
}

// Reset clears both the required and fulfilled sets for the next round.
func (l *ActionLedger) Reset() {
	l.required = make(map[Action]struct{})
	l.fulfilled = make(map[Action]struct{})
}
