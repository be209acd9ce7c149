package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/groupwarden/groupwarden/internal/platform"
)

// ErrUsage marks a structurally invalid command invocation. Its message
// is safe to echo back to the chat.
var ErrUsage = errors.New("usage")

// Request is a fully parsed command, ready for execution.
type Request struct {
	Name string
	Spec Spec

	ChatID    int64
	ActorID   int64
	MessageID int // the issuing command message

	TargetID       int64
	TargetViaReply bool
	ReplyMessageID int
	Duration       time.Duration
	Reason         string

	// Op-specific arguments
	FloodLimit  int
	FloodWindow time.Duration
	FloodMode   string
	FedName     string
	FedID       string
}

// Parse resolves a command event against the registry. Target resolution
// has two paths: reply form (the target is the replied-to author, all
// args are duration + reason) and explicit form (args[0] is the target
// user id, then duration, then reason).
func Parse(ev platform.CommandEvent) (*Request, error) {
	spec, ok := Lookup(ev.Command)
	if !ok {
		return nil, fmt.Errorf("%w: unknown command /%s", ErrUsage, ev.Command)
	}

	req := &Request{
		Name:      ev.Command,
		Spec:      spec,
		ChatID:    ev.ChatID,
		ActorID:   ev.UserID,
		MessageID: ev.MessageID,
	}
	args := ev.Args

	if spec.NeedsTarget {
		var err error
		if args, err = req.resolveTarget(ev, args); err != nil {
			return nil, err
		}
	}

	if spec.WantsDuration {
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: /%s needs a duration (e.g. 2h, 7d)", ErrUsage, ev.Command)
		}
		d, err := ParseDuration(args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUsage, err)
		}
		req.Duration = d
		args = args[1:]
	}

	switch spec.Op {
	case OpSetFlood:
		return req, req.parseSetFlood(args)
	case OpFloodMode:
		return req, req.parseFloodMode(args)
	case OpNewFed:
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: /newfed needs a name", ErrUsage)
		}
		req.FedName = strings.Join(args, " ")
		return req, nil
	case OpJoinFed:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: /joinfed needs a federation id", ErrUsage)
		}
		req.FedID = args[0]
		return req, nil
	}

	// Whatever remains is the reason, verbatim.
	req.Reason = strings.Join(args, " ")
	return req, nil
}

// resolveTarget fills TargetID from the reply target or from args[0],
// returning the args left over for duration/reason parsing.
func (req *Request) resolveTarget(ev platform.CommandEvent, args []string) ([]string, error) {
	if ev.ReplyToUserID != 0 {
		req.TargetID = ev.ReplyToUserID
		req.TargetViaReply = true
		req.ReplyMessageID = ev.ReplyToMessageID
		return args, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: /%s needs a target — reply to a message or pass a user id", ErrUsage, req.Name)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: %q is not a user id — reply to a message instead", ErrUsage, args[0])
	}
	req.TargetID = id
	return args[1:], nil
}

var floodModes = map[string]bool{"ban": true, "mute": true, "kick": true, "delete": true}

func (req *Request) parseSetFlood(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("%w: /setflood <limit> [window], limit 0 disables", ErrUsage)
	}
	limit, err := strconv.Atoi(args[0])
	if err != nil || limit < 0 {
		return fmt.Errorf("%w: %q is not a message limit", ErrUsage, args[0])
	}
	req.FloodLimit = limit
	if len(args) == 2 {
		w, err := ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		req.FloodWindow = w
	}
	return nil
}

func (req *Request) parseFloodMode(args []string) error {
	if len(args) != 1 || !floodModes[args[0]] {
		return fmt.Errorf("%w: /floodmode <ban|mute|kick|delete>", ErrUsage)
	}
	req.FloodMode = args[0]
	return nil
}
