package ledger

import (
	"errors"
	"fmt"

	"github.com/bealive/commitment-ledger/internal/store"
)

// Kind classifies a business-rule violation. Every kind is recoverable and
// returned to the caller as-is; the ledger never retries.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindInvalidState        Kind = "invalid_state"
	KindExpiredChallenge    Kind = "expired_challenge"
	KindDuplicateCommitment Kind = "duplicate_commitment"
	KindTooEarly            Kind = "too_early"
	KindExposureLimit       Kind = "exposure_limit"
)

// Error is a ledger failure of a known kind.
type Error struct {
	Kind Kind
	Op   string // ledger operation, e.g. "commit"
	Msg  string
	Err  error // underlying cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Msg == "":
		return "ledger: " + string(e.Kind)
	case e.Msg == "":
		return fmt.Sprintf("ledger: %s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("ledger: %s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of Op and Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrExpiredChallenge    = &Error{Kind: KindExpiredChallenge}
	ErrDuplicateCommitment = &Error{Kind: KindDuplicateCommitment}
	ErrTooEarly            = &Error{Kind: KindTooEarly}
	ErrExposureLimit       = &Error{Kind: KindExposureLimit}
)

// KindOf returns the kind of a ledger error, or "" for anything else
// (storage faults, cancelled contexts).
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func newErr(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// fromStore maps store sentinels to ledger kinds and wraps anything else.
func fromStore(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Msg: err.Error(), Err: err}
	case errors.Is(err, store.ErrNotOpen):
		return &Error{Kind: KindInvalidState, Op: op, Msg: err.Error(), Err: err}
	case errors.Is(err, store.ErrDuplicate):
		return &Error{Kind: KindDuplicateCommitment, Op: op, Msg: duplicateMsg, Err: err}
	default:
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
}

// duplicateMsg is shown to users who try to change a recorded commitment.
const duplicateMsg = "This investment cannot be changed"
