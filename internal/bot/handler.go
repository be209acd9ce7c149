package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/groupwarden/groupwarden/internal/action"
	"github.com/groupwarden/groupwarden/internal/command"
	"github.com/groupwarden/groupwarden/internal/federation"
	"github.com/groupwarden/groupwarden/internal/platform"
	"github.com/groupwarden/groupwarden/internal/storage"
)

// Handle processes one event off the dispatch pool. Events for the same
// (chat, user) arrive here serialized.
func (b *Bot) Handle(ctx context.Context, ev platform.Event) {
	switch e := ev.(type) {
	case platform.CommandEvent:
		b.handleCommand(ctx, e)
	case platform.MessageEvent:
		b.handleMessage(ctx, e)
	case platform.MembershipEvent:
		b.handleMembership(e)
	}
}

// handleMessage runs flood detection and enforces the chat's flood mode
// on trigger.
func (b *Bot) handleMessage(ctx context.Context, ev platform.MessageEvent) {
	v := b.detector.Observe(ev.ChatID, ev.UserID, ev.At)
	if !v.Triggered {
		return
	}

	log := b.log.With().Int64("chat_id", ev.ChatID).Int64("user_id", ev.UserID).
		Str("mode", v.Mode).Int("count", v.Count).Logger()
	log.Info().Msg("flood detected")

	reason := fmt.Sprintf("flood: %d messages inside the window", v.Count)
	var err error
	switch v.Mode {
	case "ban", "mute":
		kind := storage.KindBan
		if v.Mode == "mute" {
			kind = storage.KindMute
		}
		// No supersede: an already-actioned user is left to the
		// standing action.
		_, err = b.engine.Apply(ctx, action.Intent{
			ChatID:   ev.ChatID,
			TargetID: ev.UserID,
			ActorID:  b.botID,
			Kind:     kind,
			Reason:   reason,
		})
	case "kick":
		err = b.engine.Kick(ctx, ev.ChatID, ev.UserID, b.botID)
	case "delete":
		err = b.deleteMessage(ctx, ev.ChatID, ev.MessageID)
	}
	if err != nil && !errors.Is(err, action.ErrPermissionDenied) && !errors.Is(err, action.ErrConflictingAction) {
		log.Error().Err(err).Msg("flood enforcement failed")
	}
}

// handleMembership invalidates the admin cache when a chat's admin set
// changes.
func (b *Bot) handleMembership(ev platform.MembershipEvent) {
	if platform.StatusAdmin(ev.OldStatus) != platform.StatusAdmin(ev.NewStatus) {
		b.authz.Invalidate(ev.ChatID)
		b.log.Debug().Int64("chat_id", ev.ChatID).Int64("user_id", ev.UserID).
			Str("old", ev.OldStatus).Str("new", ev.NewStatus).Msg("admin set changed, cache invalidated")
	}
}

func (b *Bot) handleCommand(ctx context.Context, ev platform.CommandEvent) {
	req, err := command.Parse(ev)
	if err != nil {
		if errors.Is(err, command.ErrUsage) {
			b.reply(ctx, ev.ChatID, err.Error())
		}
		return
	}

	if req.Spec.Capability != "" {
		ok, err := b.authz.Authorize(ctx, req.ChatID, req.ActorID, req.Spec.Capability)
		if err != nil {
			b.log.Error().Err(err).Int64("chat_id", req.ChatID).Int64("actor", req.ActorID).
				Str("command", req.Name).Msg("authorization check failed")
			return
		}
		if !ok {
			b.reply(ctx, req.ChatID, "you are not allowed to do that here")
			return
		}
	}

	if req.Spec.Silent {
		_ = b.deleteMessage(ctx, req.ChatID, req.MessageID)
	}

	b.execute(ctx, req)
}

func (b *Bot) execute(ctx context.Context, req *command.Request) {
	switch req.Spec.Op {
	case command.OpBan, command.OpMute:
		b.execApply(ctx, req)
	case command.OpUnban, command.OpUnmute:
		b.execReverse(ctx, req)
	case command.OpWarn:
		b.execWarn(ctx, req)
	case command.OpResetWarn:
		if err := b.ladder.Reset(req.ChatID, req.TargetID); err != nil {
			b.log.Error().Err(err).Msg("reset warnings failed")
			return
		}
		b.reply(ctx, req.ChatID, fmt.Sprintf("warnings reset for %d", req.TargetID))
	case command.OpKick:
		if err := b.engine.Kick(ctx, req.ChatID, req.TargetID, req.ActorID); err != nil {
			b.replyError(ctx, req, err)
			return
		}
		b.reply(ctx, req.ChatID, fmt.Sprintf("kicked %d", req.TargetID))
	case command.OpSetFlood, command.OpFloodMode:
		b.execFloodConfig(ctx, req)
	case command.OpNewFed, command.OpJoinFed, command.OpLeaveFed:
		b.execFedMembership(ctx, req)
	case command.OpFedBan, command.OpFedUnban:
		b.execFedBan(ctx, req)
	}
}

func (b *Bot) execApply(ctx context.Context, req *command.Request) {
	// An admin re-issuing a ban or mute means replacement, so command
	// intents always supersede.
	res, err := b.engine.Apply(ctx, action.Intent{
		ChatID:         req.ChatID,
		TargetID:       req.TargetID,
		ActorID:        req.ActorID,
		Kind:           req.Spec.Kind,
		Reason:         req.Reason,
		Duration:       req.Duration,
		RevokeMessages: req.Spec.Revoke,
		Supersede:      true,
	})
	if err != nil {
		var enfErr *action.EnforcementError
		if errors.As(err, &enfErr) {
			b.reply(ctx, req.ChatID, fmt.Sprintf("%s recorded for %d, enforcement pending", req.Spec.Kind, req.TargetID))
			return
		}
		b.replyError(ctx, req, err)
		return
	}

	msg := fmt.Sprintf("%s applied to %d", req.Spec.Kind, req.TargetID)
	if req.Duration > 0 {
		msg += " for " + command.FormatDuration(req.Duration)
	}
	if res.Superseded {
		msg += " (replaces an earlier one)"
	}
	if !req.Spec.Silent {
		b.reply(ctx, req.ChatID, msg)
	}
}

func (b *Bot) execReverse(ctx context.Context, req *command.Request) {
	_, err := b.engine.Reverse(ctx, req.ChatID, req.TargetID, req.Spec.Kind, req.ActorID)
	switch {
	case errors.Is(err, action.ErrNoActiveAction):
		b.reply(ctx, req.ChatID, fmt.Sprintf("no active %s for %d", req.Spec.Kind, req.TargetID))
	case err != nil:
		b.replyError(ctx, req, err)
	default:
		b.reply(ctx, req.ChatID, fmt.Sprintf("%s lifted for %d", req.Spec.Kind, req.TargetID))
	}
}

func (b *Bot) execWarn(ctx context.Context, req *command.Request) {
	out, err := b.ladder.Add(req.ChatID, req.TargetID, req.ActorID, req.Reason)
	if err != nil {
		b.log.Error().Err(err).Msg("add warning failed")
		return
	}
	if !out.Escalated {
		b.reply(ctx, req.ChatID, fmt.Sprintf("warned %d (%d/%d)", req.TargetID, out.Count, out.Limit))
		return
	}

	reason := fmt.Sprintf("reached %d warnings", out.Limit)
	var escErr error
	switch out.Mode {
	case "ban", "mute":
		kind := storage.KindBan
		if out.Mode == "mute" {
			kind = storage.KindMute
		}
		_, escErr = b.engine.Apply(ctx, action.Intent{
			ChatID:   req.ChatID,
			TargetID: req.TargetID,
			ActorID:  b.botID,
			Kind:     kind,
			Reason:   reason,
		})
	case "kick":
		escErr = b.engine.Kick(ctx, req.ChatID, req.TargetID, b.botID)
	}
	if escErr != nil && !errors.Is(escErr, action.ErrConflictingAction) {
		b.log.Error().Err(escErr).Int64("chat_id", req.ChatID).Int64("user_id", req.TargetID).
			Str("mode", out.Mode).Msg("warn escalation failed")
	}
	b.reply(ctx, req.ChatID, fmt.Sprintf("%d reached %d warnings: %s", req.TargetID, out.Limit, out.Mode))
}

func (b *Bot) execFloodConfig(ctx context.Context, req *command.Request) {
	cfg := b.detector.Config(req.ChatID)
	switch req.Spec.Op {
	case command.OpSetFlood:
		cfg.Limit = req.FloodLimit
		if req.FloodWindow > 0 {
			cfg.Window = req.FloodWindow
		}
	case command.OpFloodMode:
		cfg.Mode = req.FloodMode
	}
	if err := b.store.SetFloodConfig(req.ChatID, cfg); err != nil {
		b.log.Error().Err(err).Int64("chat_id", req.ChatID).Msg("store flood config failed")
		return
	}
	if cfg.Limit == 0 {
		b.reply(ctx, req.ChatID, "flood detection disabled")
		return
	}
	b.reply(ctx, req.ChatID, fmt.Sprintf("flood: %s after %d messages in %s",
		cfg.Mode, cfg.Limit, cfg.Window))
}

func (b *Bot) execFedMembership(ctx context.Context, req *command.Request) {
	switch req.Spec.Op {
	case command.OpNewFed:
		fed, err := b.feds.Create(req.FedName, req.ActorID)
		if err != nil {
			b.log.Error().Err(err).Msg("create federation failed")
			return
		}
		b.reply(ctx, req.ChatID, fmt.Sprintf("federation %q created, id: %s", fed.Name, fed.ID))
	case command.OpJoinFed:
		fed, err := b.feds.Join(ctx, req.FedID, req.ChatID, req.ActorID)
		if err != nil {
			b.replyError(ctx, req, err)
			return
		}
		b.reply(ctx, req.ChatID, fmt.Sprintf("joined federation %q (%d shared bans backfilling)", fed.Name, len(fed.Bans)))
	case command.OpLeaveFed:
		fed, err := b.feds.Leave(ctx, req.ChatID)
		if err != nil {
			b.replyError(ctx, req, err)
			return
		}
		b.reply(ctx, req.ChatID, fmt.Sprintf("left federation %q", fed.Name))
	}
}

func (b *Bot) execFedBan(ctx context.Context, req *command.Request) {
	fed, err := b.store.FederationByChat(req.ChatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(ctx, req.ChatID, "this chat is not in a federation")
			return
		}
		b.log.Error().Err(err).Msg("resolve federation failed")
		return
	}

	var res *federation.FanoutResult
	verb := "ban"
	if req.Spec.Op == command.OpFedBan {
		res, err = b.feds.PropagateBan(ctx, fed.ID, req.ChatID, req.TargetID, req.ActorID, req.Reason)
	} else {
		verb = "unban"
		res, err = b.feds.PropagateUnban(ctx, fed.ID, req.ChatID, req.TargetID, req.ActorID)
	}
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}

	msg := fmt.Sprintf("federation %s of %d: applied in %d chats", verb, req.TargetID, len(res.Applied))
	if len(res.Failed) > 0 {
		msg += fmt.Sprintf(", failed in %d", len(res.Failed))
	}
	b.reply(ctx, req.ChatID, msg)
}

// replyError maps domain errors onto chat replies; everything else is
// logged and reported to the operator chat if one is configured.
func (b *Bot) replyError(ctx context.Context, req *command.Request, err error) {
	switch {
	case errors.Is(err, action.ErrPermissionDenied):
		b.reply(ctx, req.ChatID, "that user is protected")
	case errors.Is(err, action.ErrValidation):
		b.reply(ctx, req.ChatID, err.Error())
	case errors.Is(err, federation.ErrNotOwner):
		b.reply(ctx, req.ChatID, "only the federation owner can do that")
	case errors.Is(err, federation.ErrAlreadyFederated):
		b.reply(ctx, req.ChatID, "this chat already belongs to a federation")
	case errors.Is(err, federation.ErrNotFederated):
		b.reply(ctx, req.ChatID, "this chat is not in a federation")
	case errors.Is(err, storage.ErrNotFound):
		b.reply(ctx, req.ChatID, "unknown federation id")
	default:
		b.log.Error().Err(err).Str("command", req.Name).Int64("chat_id", req.ChatID).Msg("command failed")
		if b.cfg.OperatorChatID != 0 {
			b.reply(ctx, b.cfg.OperatorChatID,
				fmt.Sprintf("command /%s failed in chat %d: %v", req.Name, req.ChatID, err))
		}
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.EnforceTimeout)
	defer cancel()
	if err := b.notifier.Send(ctx, chatID, text); err != nil {
		b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("reply failed")
	}
}

func (b *Bot) deleteMessage(ctx context.Context, chatID int64, messageID int) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.EnforceTimeout)
	defer cancel()
	return b.enforcer.DeleteMessage(ctx, chatID, messageID)
}
