package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

var (
	// ErrRoundNotOpen is returned when a bet arrives outside the
	// round's Open phase, including the tick that locks it.
	ErrRoundNotOpen = errors.New("round not open")

	// ErrDuplicateBet is returned when the player already holds a
	// non-rejected bet for the current round.
	ErrDuplicateBet = errors.New("duplicate bet")

	// ErrInvalidStake is returned for non-positive stakes or stakes
	// below the room minimum.
	ErrInvalidStake = errors.New("invalid stake")

	// ErrDailyLimitReached is returned when a stake would exceed the
	// player's cumulative daily cap.
	ErrDailyLimitReached = errors.New("daily stake limit reached")

	// ErrRoomClosed is returned for requests against a room that has
	// been torn down.
	ErrRoomClosed = errors.New("room closed")

	// ErrConfigNotFound is returned when the configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// ValidationError wraps a synchronous rejection of a client request.
// No state is mutated when one is returned.
type ValidationError struct {
	Op  string // rejected operation, e.g. "place"
	Err error  // one of the sentinel errors above
}

func (e *ValidationError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ValidationError) IsRetriable() bool {
	return false
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps a sentinel rejection for an operation.
func NewValidationError(op string, err error) *ValidationError {
	return &ValidationError{Op: op, Err: err}
}

// LedgerError represents a failure talking to the external balance
// ledger. Transient failures are retriable; definitive rejections
// (bad account, key conflict) are terminal for that record.
type LedgerError struct {
	Op        string
	Err       error
	Retriable bool
}

func (e *LedgerError) Error() string {
	return "ledger " + e.Op + ": " + e.Err.Error()
}

func (e *LedgerError) IsRetriable() bool {
	return e.Retriable
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerTransient creates a retriable ledger error
func NewLedgerTransient(op string, err error) *LedgerError {
	return &LedgerError{Op: op, Err: err, Retriable: true}
}

// NewLedgerRejection creates a terminal ledger error
func NewLedgerRejection(op string, err error) *LedgerError {
	return &LedgerError{Op: op, Err: err, Retriable: false}
}

// InvariantError marks a state that should be unreachable under the
// single-writer model. The coordinator treats one as fatal: it is
// logged and the room restarts from durable state.
type InvariantError struct {
	RoomID string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant breach in room %s: %s", e.RoomID, e.Detail)
}

func (e *InvariantError) IsRetriable() bool {
	return false
}
