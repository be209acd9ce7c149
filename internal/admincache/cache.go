package admincache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/groupwarden/groupwarden/internal/metrics"
	"github.com/groupwarden/groupwarden/internal/platform"
)

// Capability names a moderation permission an actor must hold.
type Capability string

const (
	CapRestrict   Capability = "restrict"
	CapDelete     Capability = "delete"
	CapPromote    Capability = "promote"
	CapChangeInfo Capability = "change_info"
)

// Authorizer answers whether an actor may perform a capability in a chat.
type Authorizer interface {
	Authorize(ctx context.Context, chatID, actorID int64, cap Capability) (bool, error)
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	ChatOwner(ctx context.Context, chatID int64) (int64, error)
	Invalidate(chatID int64)
}

type entry struct {
	admins map[int64]platform.ChatAdmin
	owner  int64
}

// Options configures a Cache.
type Options struct {
	Size    int
	TTL     time.Duration
	OwnerID int64 // bot owner, always authorized
	BotID   int64 // the bot itself, always authorized
}

// Cache is a TTL read-through cache over the platform admin listing.
// Entries expire on their own; promote/demote events call Invalidate to
// drop a chat early.
type Cache struct {
	lister platform.AdminLister
	lru    *expirable.LRU[int64, entry]
	owner  int64
	botID  int64
	log    zerolog.Logger
}

// New builds a Cache over the given admin lister.
func New(lister platform.AdminLister, opts Options, log zerolog.Logger) *Cache {
	size := opts.Size
	if size < 1 {
		size = 1024
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		lister: lister,
		lru:    expirable.NewLRU[int64, entry](size, nil, ttl),
		owner:  opts.OwnerID,
		botID:  opts.BotID,
		log:    log,
	}
}

// Authorize reports whether actorID holds cap in chatID. The bot owner
// and the bot itself are always authorized.
func (c *Cache) Authorize(ctx context.Context, chatID, actorID int64, cap Capability) (bool, error) {
	if actorID == c.owner || actorID == c.botID {
		return true, nil
	}
	e, err := c.load(ctx, chatID)
	if err != nil {
		return false, err
	}
	admin, ok := e.admins[actorID]
	if !ok {
		return false, nil
	}
	if admin.IsOwner {
		return true, nil
	}
	switch cap {
	case CapRestrict:
		return admin.Perms.CanRestrictMembers, nil
	case CapDelete:
		return admin.Perms.CanDeleteMessages, nil
	case CapPromote:
		return admin.Perms.CanPromoteMembers, nil
	case CapChangeInfo:
		return admin.Perms.CanChangeInfo, nil
	default:
		return false, fmt.Errorf("unknown capability %q", cap)
	}
}

// IsAdmin reports whether userID is any administrator of chatID.
func (c *Cache) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if userID == c.owner || userID == c.botID {
		return true, nil
	}
	e, err := c.load(ctx, chatID)
	if err != nil {
		return false, err
	}
	_, ok := e.admins[userID]
	return ok, nil
}

// ChatOwner returns the chat creator's user id, or 0 if unknown.
func (c *Cache) ChatOwner(ctx context.Context, chatID int64) (int64, error) {
	e, err := c.load(ctx, chatID)
	if err != nil {
		return 0, err
	}
	return e.owner, nil
}

// Invalidate drops the cached entry for a chat. Called on promote/demote
// membership events so stale permissions never outlive the demotion.
func (c *Cache) Invalidate(chatID int64) {
	c.lru.Remove(chatID)
}

func (c *Cache) load(ctx context.Context, chatID int64) (entry, error) {
	if e, ok := c.lru.Get(chatID); ok {
		metrics.AdminCacheLookups.WithLabelValues("hit").Inc()
		return e, nil
	}
	metrics.AdminCacheLookups.WithLabelValues("miss").Inc()

	admins, err := c.lister.ChatAdmins(ctx, chatID)
	if err != nil {
		return entry{}, fmt.Errorf("list chat admins: %w", err)
	}
	e := entry{admins: make(map[int64]platform.ChatAdmin, len(admins))}
	for _, a := range admins {
		e.admins[a.UserID] = a
		if a.IsOwner {
			e.owner = a.UserID
		}
	}
	c.lru.Add(chatID, e)
	return e, nil
}
