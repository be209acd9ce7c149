package action

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed intent (bad kind, excessive duration).
	ErrValidation = errors.New("invalid intent")

	// ErrPermissionDenied marks a target that may not be moderated
	// (the bot, the bot owner, a chat admin, an approved user).
	ErrPermissionDenied = errors.New("target is protected")

	// ErrNoActiveAction marks a reversal with nothing to reverse. Benign.
	ErrNoActiveAction = errors.New("no active action")

	// ErrConflictingAction marks an apply against a target that already has
	// an active action of the same kind, without the supersede flag set.
	ErrConflictingAction = errors.New("an action of this kind is already active")
)

// EnforcementError wraps a platform failure that happened after the
// record was persisted. The stored record stays authoritative; the
// reconciliation sweep retries enforcement later.
type EnforcementError struct {
	Op  string // ban, mute, unban, unmute
	Err error
}

func (e *EnforcementError) Error() string {
	return fmt.Sprintf("enforcement %s failed: %v", e.Op, e.Err)
}

func (e *EnforcementError) Unwrap() error {
	return e.Err
}
