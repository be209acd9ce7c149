package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/groupwarden/groupwarden/internal/metrics"
	"github.com/rs/zerolog"
)

// ClientConfig holds Telegram client settings.
type ClientConfig struct {
	Token       string
	APIEndpoint string // empty = api.telegram.org
	Debug       bool
}

// Client is the Telegram Bot API implementation of Enforcer, AdminLister
// and Notifier, plus the inbound update stream.
type Client struct {
	api *tgbotapi.BotAPI
	log zerolog.Logger
}

// NewClient authenticates against the Bot API.
func NewClient(cfg ClientConfig, log zerolog.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("bot token is empty")
	}

	var api *tgbotapi.BotAPI
	var err error
	if cfg.APIEndpoint != "" {
		api, err = tgbotapi.NewBotAPIWithAPIEndpoint(token, cfg.APIEndpoint)
	} else {
		api, err = tgbotapi.NewBotAPI(token)
	}
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	api.Debug = cfg.Debug

	log.Info().Str("username", api.Self.UserName).Int64("bot_id", api.Self.ID).Msg("authenticated against Bot API")
	return &Client{api: api, log: log}, nil
}

// BotID returns the authenticated bot's own user id.
func (c *Client) BotID() int64 {
	return c.api.Self.ID
}

// Ping verifies the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := c.api.GetMe()
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// request runs a Bot API call bounded by ctx. The underlying library does
// not accept contexts, so the call runs in a goroutine and the wait is
// bounded; a stray late response is discarded.
func (c *Client) request(ctx context.Context, endpoint string, cfg tgbotapi.Chattable) error {
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		_, err := c.api.Request(cfg)
		done <- err
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-done:
		err = wrapAPIError(err)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.PlatformCalls.WithLabelValues(endpoint, status).Inc()
	metrics.PlatformCallDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	return err
}

// wrapAPIError converts Bot API errors into the package's typed errors.
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &ErrRateLimit{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
		case apiErr.Code == 403:
			return &ErrForbidden{Msg: apiErr.Message}
		case apiErr.Code == 400:
			return &ErrBadRequest{Msg: apiErr.Message}
		}
	}
	return err
}

// mutedPermissions is the all-false permission set applied by Restrict.
var mutedPermissions = tgbotapi.ChatPermissions{}

// memberPermissions restores the default member rights on Unrestrict.
var memberPermissions = tgbotapi.ChatPermissions{
	CanSendMessages:       true,
	CanSendMediaMessages:  true,
	CanSendPolls:          true,
	CanSendOtherMessages:  true,
	CanAddWebPagePreviews: true,
	CanInviteUsers:        true,
}

func untilUnix(until time.Time) int64 {
	if until.IsZero() {
		return 0
	}
	return until.Unix()
}

func (c *Client) Ban(ctx context.Context, chatID, userID int64, until time.Time, revokeMessages bool) error {
	return c.request(ctx, "ban", tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		UntilDate:        untilUnix(until),
		RevokeMessages:   revokeMessages,
	})
}

func (c *Client) Unban(ctx context.Context, chatID, userID int64) error {
	return c.request(ctx, "unban", tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		OnlyIfBanned:     true,
	})
}

func (c *Client) Restrict(ctx context.Context, chatID, userID int64, until time.Time) error {
	perms := mutedPermissions
	return c.request(ctx, "restrict", tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		UntilDate:        untilUnix(until),
		Permissions:      &perms,
	})
}

func (c *Client) Unrestrict(ctx context.Context, chatID, userID int64) error {
	perms := memberPermissions
	return c.request(ctx, "unrestrict", tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		Permissions:      &perms,
	})
}

// Kick is a ban immediately followed by an unban, so the user can rejoin.
func (c *Client) Kick(ctx context.Context, chatID, userID int64) error {
	if err := c.Ban(ctx, chatID, userID, time.Time{}, false); err != nil {
		return err
	}
	return c.Unban(ctx, chatID, userID)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return c.request(ctx, "delete_message", tgbotapi.NewDeleteMessage(chatID, messageID))
}

func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	return c.request(ctx, "send_message", tgbotapi.NewMessage(chatID, text))
}

// ChatAdmins lists a chat's administrators with their permission sets.
func (c *Client) ChatAdmins(ctx context.Context, chatID int64) ([]ChatAdmin, error) {
	type result struct {
		members []tgbotapi.ChatMember
		err     error
	}
	done := make(chan result, 1)
	go func() {
		members, err := c.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
			ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		})
		done <- result{members, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, wrapAPIError(r.err)
		}
		admins := make([]ChatAdmin, 0, len(r.members))
		for _, m := range r.members {
			if m.User == nil {
				continue
			}
			admins = append(admins, ChatAdmin{
				UserID:  m.User.ID,
				IsOwner: m.IsCreator(),
				Perms: PermissionSet{
					CanRestrictMembers: m.IsCreator() || m.CanRestrictMembers,
					CanDeleteMessages:  m.IsCreator() || m.CanDeleteMessages,
					CanPromoteMembers:  m.IsCreator() || m.CanPromoteMembers,
					CanChangeInfo:      m.IsCreator() || m.CanChangeInfo,
				},
			})
		}
		return admins, nil
	}
}

// Listen long-polls for updates and forwards decoded events until ctx is
// cancelled. Decoding failures are logged and skipped; the stream never
// stops for a single bad update.
func (c *Client) Listen(ctx context.Context, emit func(Event)) error {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updateCfg.AllowedUpdates = []string{"message", "chat_member"}
	updates := c.api.GetUpdatesChan(updateCfg)
	defer c.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update stream closed")
			}
			if ev := decodeUpdate(update); ev != nil {
				metrics.EventsReceived.WithLabelValues(eventLabel(ev)).Inc()
				emit(ev)
			}
		}
	}
}

func decodeUpdate(update tgbotapi.Update) Event {
	if m := update.Message; m != nil && m.From != nil && m.Chat != nil {
		at := time.Unix(int64(m.Date), 0).UTC()
		if m.IsCommand() {
			ev := CommandEvent{
				ChatID:    m.Chat.ID,
				UserID:    m.From.ID,
				MessageID: m.MessageID,
				Command:   strings.ToLower(m.Command()),
				Args:      strings.Fields(m.CommandArguments()),
				At:        at,
			}
			if r := m.ReplyToMessage; r != nil && r.From != nil {
				ev.ReplyToUserID = r.From.ID
				ev.ReplyToMessageID = r.MessageID
			}
			return ev
		}
		return MessageEvent{
			ChatID:    m.Chat.ID,
			UserID:    m.From.ID,
			MessageID: m.MessageID,
			Text:      m.Text,
			At:        at,
		}
	}

	if cm := update.ChatMember; cm != nil && cm.NewChatMember.User != nil {
		return MembershipEvent{
			ChatID:    cm.Chat.ID,
			UserID:    cm.NewChatMember.User.ID,
			OldStatus: cm.OldChatMember.Status,
			NewStatus: cm.NewChatMember.Status,
			At:        time.Unix(int64(cm.Date), 0).UTC(),
		}
	}

	return nil
}

func eventLabel(ev Event) string {
	switch ev.(type) {
	case CommandEvent:
		return "command"
	case MessageEvent:
		return "message"
	case MembershipEvent:
		return "membership"
	default:
		return "other"
	}
}
