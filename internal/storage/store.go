package storage

import (
	"errors"
	"time"
)

// ActionKind identifies the kind of a moderation action.
type ActionKind string

const (
	KindBan  ActionKind = "ban"
	KindMute ActionKind = "mute"
)

// ActionStatus is the lifecycle state of a moderation action.
type ActionStatus string

const (
	StatusActive     ActionStatus = "active"
	StatusExpired    ActionStatus = "expired"
	StatusReversed   ActionStatus = "reversed"
	StatusSuperseded ActionStatus = "superseded"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// ActionRecord is one entry in the per-(chat,user,kind) action history.
type ActionRecord struct {
	ID         string
	ChatID     int64
	UserID     int64
	Kind       ActionKind
	Status     ActionStatus
	IssuedBy   int64
	Reason     string
	IssuedAt   time.Time
	ExpiresAt  time.Time // zero = permanent
	ClosedAt   time.Time // set when leaving the active status
	EnforcedAt time.Time // zero = platform enforcement not yet confirmed
	FedID      string    // originating federation, empty for local actions
}

// Timed reports whether the action has an expiry set.
func (r *ActionRecord) Timed() bool {
	return !r.ExpiresAt.IsZero()
}

// WarnEntry is one warning in a user's history.
type WarnEntry struct {
	Reason   string
	IssuedBy int64
	IssuedAt time.Time
}

// WarnState is the accumulated warning state per (chat, user).
type WarnState struct {
	Count   int
	History []WarnEntry
}

// FedBanRecord is a ban entry in a federation's shared ban list.
type FedBanRecord struct {
	Reason   string
	IssuedBy int64
	IssuedAt time.Time
}

// Federation groups chats that share a ban list.
type Federation struct {
	ID        string
	Name      string
	OwnerID   int64
	CreatedAt time.Time
	Chats     []int64
	Bans      map[int64]FedBanRecord
}

// HasChat reports whether chatID is a member of the federation.
func (f *Federation) HasChat(chatID int64) bool {
	for _, id := range f.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}

// FloodConfig is the per-chat antiflood configuration.
type FloodConfig struct {
	Limit  int // 0 = disabled
	Window time.Duration
	Mode   string // ban, mute, kick, delete
}

// ChatSettings holds per-chat moderation settings.
type ChatSettings struct {
	WarnLimit int
	WarnMode  string
	Approved  []int64 // users exempt from moderation in this chat
}

// IsApproved reports whether userID is on the chat's approved list.
func (s *ChatSettings) IsApproved(userID int64) bool {
	for _, id := range s.Approved {
		if id == userID {
			return true
		}
	}
	return false
}

// Store is the persistence interface for the action engine and its observers.
// All mutating operations are atomic per key (one bolt transaction each).
type Store interface {
	// Action ledger
	ActiveAction(chatID, userID int64, kind ActionKind) (*ActionRecord, error)
	AppendAction(rec ActionRecord) error
	// SupersedeAndAppend closes the currently active record of rec.Kind as
	// superseded and appends rec in the same transaction.
	SupersedeAndAppend(rec ActionRecord) error
	// CloseAction transitions the record with the given id to status,
	// stamping ClosedAt. Returns ErrNotFound if no such record exists.
	CloseAction(chatID, userID int64, kind ActionKind, id string, status ActionStatus, closedAt time.Time) error
	// MarkEnforced records that platform enforcement succeeded for the record.
	MarkEnforced(chatID, userID int64, kind ActionKind, id string, at time.Time) error
	ActionHistory(chatID, userID int64, kind ActionKind) ([]ActionRecord, error)
	// ActiveTimedActions returns every active record with an expiry set,
	// across all chats. Used to rebuild the scheduler on restart.
	ActiveTimedActions() ([]ActionRecord, error)
	// ActiveUnconfirmed returns active records whose enforcement was never
	// confirmed. Used by the reconciliation sweep.
	ActiveUnconfirmed() ([]ActionRecord, error)
	CountActive() (map[ActionKind]int, error)

	// Warnings
	Warnings(chatID, userID int64) (WarnState, error)
	// AddWarning appends the entry and increments the count atomically,
	// returning the resulting state.
	AddWarning(chatID, userID int64, entry WarnEntry, maxHistory int) (WarnState, error)
	ResetWarnings(chatID, userID int64) error

	// Federations
	Federation(fedID string) (*Federation, error)
	PutFederation(fed Federation) error
	DeleteFederation(fedID string) error
	// FederationByChat resolves the federation a chat belongs to, or
	// ErrNotFound. A chat belongs to at most one federation.
	FederationByChat(chatID int64) (*Federation, error)
	// MutateFederation applies fn to the federation inside one transaction.
	MutateFederation(fedID string, fn func(*Federation) error) (*Federation, error)
	// SetChatFederation binds or (with empty fedID) unbinds a chat's
	// federation membership index.
	SetChatFederation(chatID int64, fedID string) error

	// Per-chat configuration
	FloodConfig(chatID int64) (*FloodConfig, error)
	SetFloodConfig(chatID int64, cfg FloodConfig) error
	ChatSettings(chatID int64) (*ChatSettings, error)
	SetChatSettings(chatID int64, s ChatSettings) error

	// Utility
	SizeBytes() (int64, error)
	Close() error
}
