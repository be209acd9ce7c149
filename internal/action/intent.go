package action

import (
	"time"

	"github.com/groupwarden/groupwarden/internal/storage"
)

// Intent is a validated request to apply a moderation action.
type Intent struct {
	ChatID   int64
	TargetID int64
	ActorID  int64
	Kind     storage.ActionKind
	Reason   string
	Duration time.Duration // 0 = permanent
	FedID    string        // set on federation shadow records

	// RevokeMessages deletes the target's message history on ban.
	RevokeMessages bool

	// Supersede replaces an active action of the same kind instead of
	// rejecting with ErrConflictingAction.
	Supersede bool
}

// Result reports the outcome of applying or reversing an action.
type Result struct {
	Record     *storage.ActionRecord
	Superseded bool // an earlier active action of the same kind was replaced
	Enforced   bool // platform enforcement confirmed
}
