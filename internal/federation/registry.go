// Package federation links chats into federations that share a ban list.
// A ban issued against a federation fans out to every member chat as a
// shadow action; propagation is best-effort and never fails as a whole.
package federation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/groupwarden/groupwarden/internal/action"
	"github.com/groupwarden/groupwarden/internal/metrics"
	"github.com/groupwarden/groupwarden/internal/storage"
)

var (
	// ErrNotOwner marks a federation operation by someone other than its owner.
	ErrNotOwner = errors.New("not the federation owner")

	// ErrAlreadyFederated marks a join for a chat that is already in a federation.
	ErrAlreadyFederated = errors.New("chat already belongs to a federation")

	// ErrNotFederated marks an operation on a chat outside any federation.
	ErrNotFederated = errors.New("chat is not in a federation")
)

// Applier is the slice of the action engine the registry needs.
type Applier interface {
	Apply(ctx context.Context, in action.Intent) (*action.Result, error)
	Reverse(ctx context.Context, chatID, userID int64, kind storage.ActionKind, actorID int64) (*action.Result, error)
}

// FanoutFailure is one member chat that could not be updated.
type FanoutFailure struct {
	ChatID int64
	Err    error
}

// FanoutResult is the aggregate outcome of a propagation.
type FanoutResult struct {
	FedID   string
	Applied []int64
	Failed  []FanoutFailure
}

// Config holds registry tuning.
type Config struct {
	FanoutTimeout time.Duration // per member chat
}

// Registry manages federation membership and ban propagation.
type Registry struct {
	cfg    Config
	store  storage.Store
	engine Applier
	clock  func() time.Time
	log    zerolog.Logger
}

// New builds a Registry.
func New(cfg Config, store storage.Store, engine Applier, log zerolog.Logger) *Registry {
	if cfg.FanoutTimeout <= 0 {
		cfg.FanoutTimeout = 10 * time.Second
	}
	return &Registry{cfg: cfg, store: store, engine: engine, clock: time.Now, log: log}
}

// Create registers a new federation owned by ownerID. The id is the first
// 8 hex characters of a UUID, short enough to share in chat.
func (r *Registry) Create(name string, ownerID int64) (*storage.Federation, error) {
	fed := storage.Federation{
		ID:        uuid.NewString()[:8],
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: r.clock().UTC(),
		Bans:      make(map[int64]storage.FedBanRecord),
	}
	if err := r.store.PutFederation(fed); err != nil {
		return nil, fmt.Errorf("put federation: %w", err)
	}
	r.log.Info().Str("fed_id", fed.ID).Str("name", name).Int64("owner", ownerID).Msg("federation created")
	return &fed, nil
}

// Join adds a chat to a federation and backfills the federation's existing
// bans into it. The backfill is fire-and-forget; failures are logged, the
// join itself never blocks on them.
func (r *Registry) Join(ctx context.Context, fedID string, chatID, actorID int64) (*storage.Federation, error) {
	if existing, err := r.store.FederationByChat(chatID); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFederated, existing.ID)
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("resolve chat federation: %w", err)
	}

	fed, err := r.store.MutateFederation(fedID, func(f *storage.Federation) error {
		if !f.HasChat(chatID) {
			f.Chats = append(f.Chats, chatID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("join federation: %w", err)
	}
	if err := r.store.SetChatFederation(chatID, fedID); err != nil {
		return nil, fmt.Errorf("bind chat federation: %w", err)
	}

	if len(fed.Bans) > 0 {
		go r.backfillChat(*fed, chatID, actorID)
	}
	r.log.Info().Str("fed_id", fedID).Int64("chat_id", chatID).Int("backfill", len(fed.Bans)).Msg("chat joined federation")
	return fed, nil
}

// backfillChat applies every existing federation ban to a newly joined chat.
func (r *Registry) backfillChat(fed storage.Federation, chatID, actorID int64) {
	for userID, ban := range fed.Bans {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FanoutTimeout)
		_, err := r.engine.Apply(ctx, action.Intent{
			ChatID:    chatID,
			TargetID:  userID,
			ActorID:   actorID,
			Kind:      storage.KindBan,
			Reason:    ban.Reason,
			FedID:     fed.ID,
			Supersede: true,
		})
		cancel()
		if err != nil && !errors.Is(err, action.ErrPermissionDenied) {
			r.log.Warn().Err(err).Str("fed_id", fed.ID).
				Int64("chat_id", chatID).Int64("user_id", userID).Msg("backfill ban failed")
		}
	}
}

// Leave removes a chat from its federation. Existing shadow bans in the
// chat stay in place; leaving is not an amnesty.
func (r *Registry) Leave(ctx context.Context, chatID int64) (*storage.Federation, error) {
	fed, err := r.store.FederationByChat(chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFederated
		}
		return nil, fmt.Errorf("resolve chat federation: %w", err)
	}

	if _, err := r.store.MutateFederation(fed.ID, func(f *storage.Federation) error {
		chats := f.Chats[:0]
		for _, id := range f.Chats {
			if id != chatID {
				chats = append(chats, id)
			}
		}
		f.Chats = chats
		return nil
	}); err != nil {
		return nil, fmt.Errorf("leave federation: %w", err)
	}
	if err := r.store.SetChatFederation(chatID, ""); err != nil {
		return nil, fmt.Errorf("unbind chat federation: %w", err)
	}
	r.log.Info().Str("fed_id", fed.ID).Int64("chat_id", chatID).Msg("chat left federation")
	return fed, nil
}

// PropagateBan records the ban in the federation's ban list, applies it in
// the originating chat through the regular engine path, then fans shadow
// bans out to the remaining member chats concurrently. Only the federation
// owner may propagate. Per-chat failures land in the result, never in err;
// the origin chat is not part of the applied/failed split.
func (r *Registry) PropagateBan(ctx context.Context, fedID string, originChat, userID, actorID int64, reason string) (*FanoutResult, error) {
	fed, err := r.store.Federation(fedID)
	if err != nil {
		return nil, fmt.Errorf("load federation: %w", err)
	}
	if fed.OwnerID != actorID {
		return nil, ErrNotOwner
	}

	// Record in the shared ban list first so a crash mid-fanout still
	// leaves the ban authoritative for future joins.
	if _, err := r.store.MutateFederation(fedID, func(f *storage.Federation) error {
		if f.Bans == nil {
			f.Bans = make(map[int64]storage.FedBanRecord)
		}
		f.Bans[userID] = storage.FedBanRecord{Reason: reason, IssuedBy: actorID, IssuedAt: r.clock().UTC()}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("record federation ban: %w", err)
	}

	originCtx, cancel := context.WithTimeout(ctx, r.cfg.FanoutTimeout)
	_, originErr := r.engine.Apply(originCtx, action.Intent{
		ChatID:    originChat,
		TargetID:  userID,
		ActorID:   actorID,
		Kind:      storage.KindBan,
		Reason:    reason,
		FedID:     fedID,
		Supersede: true,
	})
	cancel()
	if originErr != nil {
		r.log.Warn().Err(originErr).Str("fed_id", fedID).
			Int64("chat_id", originChat).Int64("user_id", userID).Msg("federation ban failed in origin chat")
	}

	return r.fanout(ctx, fed, "ban", originChat, func(chatCtx context.Context, chatID int64) error {
		_, err := r.engine.Apply(chatCtx, action.Intent{
			ChatID:    chatID,
			TargetID:  userID,
			ActorID:   actorID,
			Kind:      storage.KindBan,
			Reason:    reason,
			FedID:     fedID,
			Supersede: true,
		})
		return err
	}), nil
}

// PropagateUnban removes the ban from the shared list, lifts it in the
// originating chat through the regular engine path, then lifts the shadow
// bans in the remaining member chats. A chat with no active shadow ban
// counts as applied.
func (r *Registry) PropagateUnban(ctx context.Context, fedID string, originChat, userID, actorID int64) (*FanoutResult, error) {
	fed, err := r.store.Federation(fedID)
	if err != nil {
		return nil, fmt.Errorf("load federation: %w", err)
	}
	if fed.OwnerID != actorID {
		return nil, ErrNotOwner
	}

	if _, err := r.store.MutateFederation(fedID, func(f *storage.Federation) error {
		delete(f.Bans, userID)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("remove federation ban: %w", err)
	}

	originCtx, cancel := context.WithTimeout(ctx, r.cfg.FanoutTimeout)
	_, originErr := r.engine.Reverse(originCtx, originChat, userID, storage.KindBan, actorID)
	cancel()
	if originErr != nil && !errors.Is(originErr, action.ErrNoActiveAction) {
		r.log.Warn().Err(originErr).Str("fed_id", fedID).
			Int64("chat_id", originChat).Int64("user_id", userID).Msg("federation unban failed in origin chat")
	}

	return r.fanout(ctx, fed, "unban", originChat, func(chatCtx context.Context, chatID int64) error {
		_, err := r.engine.Reverse(chatCtx, chatID, userID, storage.KindBan, actorID)
		if errors.Is(err, action.ErrNoActiveAction) {
			return nil
		}
		return err
	}), nil
}

// fanout runs apply against every member chat except the origin, with a
// per-chat timeout, and aggregates the applied/failed split.
func (r *Registry) fanout(ctx context.Context, fed *storage.Federation, op string, originChat int64, apply func(context.Context, int64) error) *FanoutResult {
	start := time.Now()
	res := &FanoutResult{FedID: fed.ID}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, chatID := range fed.Chats {
		if chatID == originChat {
			continue
		}
		chatID := chatID
		g.Go(func() error {
			chatCtx, cancel := context.WithTimeout(ctx, r.cfg.FanoutTimeout)
			defer cancel()
			err := apply(chatCtx, chatID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, FanoutFailure{ChatID: chatID, Err: err})
				metrics.FederationFanout.WithLabelValues(op, "failed").Inc()
				r.log.Warn().Err(err).Str("fed_id", fed.ID).Str("op", op).
					Int64("chat_id", chatID).Msg("federation fan-out failed for chat")
			} else {
				res.Applied = append(res.Applied, chatID)
				metrics.FederationFanout.WithLabelValues(op, "applied").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()
	metrics.FederationFanoutDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return res
}
