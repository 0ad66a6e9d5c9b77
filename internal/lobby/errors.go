package lobby

import (
	"errors"
	"fmt"

	"github.com/cheildo/urbanshadows-lobby/internal/matchmaking"
)

var (
	ErrProviderUnavailable = errors.New("matchmaking provider unavailable")
	ErrInvalidLocalState   = errors.New("invalid local state")
	ErrNotFound            = errors.New("not found")
	ErrTimeout             = errors.New("operation timed out")
	ErrStopped             = errors.New("lobby machine stopped")
)

// IndexError reports an index outside the current search result set.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("search result index %d out of range [0,%d)", e.Index, e.Len)
}

func (e *IndexError) Unwrap() error { return ErrNotFound }

// RemoteRejectedError is a provider-side failure with a categorized reason.
type RemoteRejectedError struct {
	Op     string
	Reason matchmaking.FailureReason
	Err    error
}

func (e *RemoteRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s rejected by provider (%s): %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s rejected by provider (%s)", e.Op, e.Reason)
}

func (e *RemoteRejectedError) Unwrap() error { return e.Err }

func rejected(op string, err error) error {
	return &RemoteRejectedError{Op: op, Reason: matchmaking.ReasonOf(err), Err: err}
}

// invalidState formats an ErrInvalidLocalState for op in state s.
func invalidState(op string, s State) error {
	return fmt.Errorf("%w: %s not allowed while %s", ErrInvalidLocalState, op, s)
}
