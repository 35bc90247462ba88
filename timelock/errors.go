package timelock

import (
	"errors"
	"fmt"
	"time"

	"github.com/qanchornet/qanchor/shared"
)

var (
	ErrUnknownProposal    = errors.New("unknown proposal")
	ErrTimelockNotExpired = errors.New("timelock has not expired")
)

// UnknownProposalError rejects an execute whose recomputed proposal id has no
// stored entry: nothing was scheduled, or the proposal was already executed.
type UnknownProposalError struct {
	ID     shared.ProposalID
	Action string
}

func (e *UnknownProposalError) Error() string {
	return fmt.Sprintf("%s: %s for action %q", ErrUnknownProposal, e.ID, e.Action)
}

func (e *UnknownProposalError) Unwrap() error {
	return ErrUnknownProposal
}

// NotExpiredError rejects an execute attempted before the proposal's unlock
// time.
type NotExpiredError struct {
	ID     shared.ProposalID
	Action string
	Unlock time.Time
}

func (e *NotExpiredError) Error() string {
	return fmt.Sprintf(
		"%s: %s for action %q unlocks at %s",
		ErrTimelockNotExpired, e.ID, e.Action, e.Unlock.UTC().Format(time.RFC3339),
	)
}

func (e *NotExpiredError) Unwrap() error {
	return ErrTimelockNotExpired
}
