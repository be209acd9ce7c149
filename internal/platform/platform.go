// Package platform is the seam to the chat platform. The engine and the
// federation registry talk to the Enforcer interface; the daemon consumes
// the typed event stream produced by the Telegram client.
package platform

import (
	"context"
	"fmt"
	"time"
)

// PermissionSet is the subset of chat-admin rights the bot cares about.
type PermissionSet struct {
	CanRestrictMembers bool
	CanDeleteMessages  bool
	CanPromoteMembers  bool
	CanChangeInfo      bool
}

// ChatAdmin is one administrator of a chat.
type ChatAdmin struct {
	UserID  int64
	IsOwner bool
	Perms   PermissionSet
}

// Enforcer executes moderation side effects on the platform.
// All methods must respect ctx deadlines; a timed-out call is reported as
// an error and the caller's stored state is reconciled later.
type Enforcer interface {
	// Ban removes the user from the chat until the given time
	// (zero = permanent). revokeMessages also deletes the user's messages.
	Ban(ctx context.Context, chatID, userID int64, until time.Time, revokeMessages bool) error
	// Unban lifts a ban. A no-op if the user is not banned.
	Unban(ctx context.Context, chatID, userID int64) error
	// Restrict mutes the user until the given time (zero = permanent).
	Restrict(ctx context.Context, chatID, userID int64, until time.Time) error
	// Unrestrict restores the chat's default member permissions.
	Unrestrict(ctx context.Context, chatID, userID int64) error
	// Kick removes the user without a standing ban.
	Kick(ctx context.Context, chatID, userID int64) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// AdminLister exposes the platform's authority data for the admin cache.
type AdminLister interface {
	ChatAdmins(ctx context.Context, chatID int64) ([]ChatAdmin, error)
}

// Notifier sends plain messages, used for command replies and operator alerts.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// --- Typed errors -----------------------------------------------------------

// ErrForbidden is returned when the bot lacks rights in the chat
// (demoted, kicked, or the chat is gone).
type ErrForbidden struct {
	Msg string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Msg)
}

// ErrRateLimit is returned when the platform signals flood control.
type ErrRateLimit struct {
	RetryAfter time.Duration
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

// ErrBadRequest is returned for requests the platform rejects outright
// (unknown user, message already deleted).
type ErrBadRequest struct {
	Msg string
}

func (e *ErrBadRequest) Error() string {
	return fmt.Sprintf("bad request: %s", e.Msg)
}
