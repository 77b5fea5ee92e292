package payments

import (
	"errors"
	"fmt"
)

var (
	ErrNotSynced           = errors.New("masternode list is not synced")
	ErrNotMasternode       = errors.New("node is not running as an active masternode")
	ErrUnknownMasternode   = errors.New("unknown masternode")
	ErrNotEligible         = errors.New("masternode is not ranked to vote at this height")
	ErrNoPayee             = errors.New("failed to find masternode to pay")
	ErrAlreadyVoted        = errors.New("masternode already voted at this height")
	ErrVoteNotStored       = errors.New("vote was not stored")
	ErrObsoletePeer        = errors.New("peer is running an obsolete protocol version")
	ErrRepeatedSyncRequest = errors.New("peer already requested the vote list")
	ErrUnknownMessage      = errors.New("unknown message type")
)

// RejectError is returned when a vote fails validation. Penalty is the
// misbehavior score the sender deserves, zero when the failure is plausibly
// benign. AskForMasternode is set when the local view of the voter may be out
// of date and should be requested from the sender.
type RejectError struct {
	Reason           string
	Penalty          int
	AskForMasternode bool
}

func (e *RejectError) Error() string {
	if e.Penalty > 0 {
		return fmt.Sprintf("vote rejected (penalty %d): %s", e.Penalty, e.Reason)
	}
	return "vote rejected: " + e.Reason
}

func reject(penalty int, askFor bool, format string, args ...any) *RejectError {
	return &RejectError{
		Reason:           fmt.Sprintf(format, args...),
		Penalty:          penalty,
		AskForMasternode: askFor,
	}
}

// Penalty returns the misbehavior score attached to err, if any.
func Penalty(err error) int {
	var rejectErr *RejectError
	if errors.As(err, &rejectErr) {
		return rejectErr.Penalty
	}
	return 0
}
