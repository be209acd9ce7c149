package platform

import "time"

// Event is any inbound platform event. Key returns the (chat, user)
// identity used for per-key serialized dispatch.
type Event interface {
	Key() (chatID, userID int64)
}

// MessageEvent is a non-command message received in a chat.
type MessageEvent struct {
	ChatID    int64
	UserID    int64
	MessageID int
	Text      string
	At        time.Time
}

func (e MessageEvent) Key() (int64, int64) { return e.ChatID, e.UserID }

// CommandEvent is a bot command with its raw arguments and, when the
// command message was a reply, the reply target.
type CommandEvent struct {
	ChatID           int64
	UserID           int64
	MessageID        int
	Command          string
	Args             []string
	ReplyToUserID    int64 // 0 when the command was not a reply
	ReplyToMessageID int
	At               time.Time
}

func (e CommandEvent) Key() (int64, int64) { return e.ChatID, e.UserID }

// MembershipEvent signals a chat-member status change (join, leave,
// promote, demote). Promotions and demotions invalidate the admin cache.
type MembershipEvent struct {
	ChatID    int64
	UserID    int64
	OldStatus string
	NewStatus string
	At        time.Time
}

func (e MembershipEvent) Key() (int64, int64) { return e.ChatID, e.UserID }

// StatusAdmin reports whether a member status string carries admin rights.
func StatusAdmin(status string) bool {
	return status == "administrator" || status == "creator"
}
