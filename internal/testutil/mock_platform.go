package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/groupwarden/groupwarden/internal/platform"
)

// EnforcerCall is one recorded platform call.
type EnforcerCall struct {
	Method    string // ban, unban, restrict, unrestrict, kick, delete_message, send
	ChatID    int64
	UserID    int64
	Until     time.Time
	Revoke    bool
	MessageID int
	Text      string
}

// MockEnforcer implements platform.Enforcer, platform.AdminLister and
// platform.Notifier for testing. All methods are safe for concurrent use.
type MockEnforcer struct {
	mu sync.Mutex

	// Recorded calls in order
	Calls []EnforcerCall

	// Preset admin listings per chat
	admins map[int64][]platform.ChatAdmin

	// Error injection: method -> error returned on every call,
	// or method@chatID for a single chat
	errors map[string]error

	calls map[string]int
}

// NewMockEnforcer returns a zero-state MockEnforcer ready for use.
func NewMockEnforcer() *MockEnforcer {
	return &MockEnforcer{
		admins: make(map[int64][]platform.ChatAdmin),
		errors: make(map[string]error),
		calls:  make(map[string]int),
	}
}

// SetError makes every call to method return err.
func (m *MockEnforcer) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// SetChatError makes calls to method against chatID return err.
func (m *MockEnforcer) SetChatError(method string, chatID int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[fmt.Sprintf("%s@%d", method, chatID)] = err
}

// SetAdmins presets the admin listing for a chat.
func (m *MockEnforcer) SetAdmins(chatID int64, admins []platform.ChatAdmin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[chatID] = admins
}

// CallCount returns how many times method was invoked.
func (m *MockEnforcer) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// CallsFor returns the recorded calls for one method, in order.
func (m *MockEnforcer) CallsFor(method string) []EnforcerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EnforcerCall
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockEnforcer) record(c EnforcerCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.Method]++
	m.Calls = append(m.Calls, c)
	if err, ok := m.errors[fmt.Sprintf("%s@%d", c.Method, c.ChatID)]; ok {
		return err
	}
	return m.errors[c.Method]
}

func (m *MockEnforcer) Ban(_ context.Context, chatID, userID int64, until time.Time, revoke bool) error {
	return m.record(EnforcerCall{Method: "ban", ChatID: chatID, UserID: userID, Until: until, Revoke: revoke})
}

func (m *MockEnforcer) Unban(_ context.Context, chatID, userID int64) error {
	return m.record(EnforcerCall{Method: "unban", ChatID: chatID, UserID: userID})
}

func (m *MockEnforcer) Restrict(_ context.Context, chatID, userID int64, until time.Time) error {
	return m.record(EnforcerCall{Method: "restrict", ChatID: chatID, UserID: userID, Until: until})
}

func (m *MockEnforcer) Unrestrict(_ context.Context, chatID, userID int64) error {
	return m.record(EnforcerCall{Method: "unrestrict", ChatID: chatID, UserID: userID})
}

func (m *MockEnforcer) Kick(_ context.Context, chatID, userID int64) error {
	return m.record(EnforcerCall{Method: "kick", ChatID: chatID, UserID: userID})
}

func (m *MockEnforcer) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	return m.record(EnforcerCall{Method: "delete_message", ChatID: chatID, MessageID: messageID})
}

func (m *MockEnforcer) Send(_ context.Context, chatID int64, text string) error {
	return m.record(EnforcerCall{Method: "send", ChatID: chatID, Text: text})
}

func (m *MockEnforcer) ChatAdmins(_ context.Context, chatID int64) ([]platform.ChatAdmin, error) {
	if err := m.record(EnforcerCall{Method: "chat_admins", ChatID: chatID}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admins[chatID], nil
}
