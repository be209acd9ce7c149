// Package dispatch fans events out to a fixed set of workers, keyed so
// every event for the same (chat, user) lands on the same worker. That
// gives per-key FIFO processing with cross-key parallelism.
package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/groupwarden/groupwarden/internal/metrics"
	"github.com/groupwarden/groupwarden/internal/platform"
)

// Handler processes one event. It must not retain the event past return.
type Handler func(ctx context.Context, ev platform.Event)

// Config holds pool sizing.
type Config struct {
	Workers    int
	QueueDepth int // per worker
}

// Pool routes events onto per-worker queues by key hash.
type Pool struct {
	cfg      Config
	queues   []chan platform.Event
	handler  Handler
	log      zerolog.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Pool with the given config and handler.
func New(cfg Config, handler Handler, log zerolog.Logger) (*Pool, error) {
	if cfg.Workers < 1 || cfg.Workers > 64 {
		return nil, fmt.Errorf("DISPATCH_WORKERS must be 1–64, got %d", cfg.Workers)
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 512
	}
	queues := make([]chan platform.Event, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan platform.Event, cfg.QueueDepth)
	}
	return &Pool{cfg: cfg, queues: queues, handler: handler, log: log}, nil
}

// Start launches the worker goroutines. ctx controls worker lifetime.
func (p *Pool) Start(ctx context.Context) {
	for i := range p.queues {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Enqueue routes the event to its key's worker without blocking.
// Returns false if that worker's buffer is full.
func (p *Pool) Enqueue(ev platform.Event) bool {
	idx := p.workerFor(ev)
	select {
	case p.queues[idx] <- ev:
		metrics.DispatchEnqueued.WithLabelValues(eventType(ev)).Inc()
		return true
	default:
		metrics.DispatchDropped.WithLabelValues("buffer_full").Inc()
		chatID, userID := ev.Key()
		p.log.Warn().Int64("chat_id", chatID).Int64("user_id", userID).
			Int("worker", idx).Msg("event dropped: queue full")
		return false
	}
}

// Stop closes the queues and waits for the workers to drain.
// Safe to call only once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		for _, q := range p.queues {
			close(q)
		}
	})
	p.wg.Wait()
}

// workerFor hashes the event key onto a worker index.
func (p *Pool) workerFor(ev platform.Event) int {
	chatID, userID := ev.Key()
	h := fnv.New32a()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(chatID >> (8 * i))
		buf[8+i] = byte(userID >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	queue := p.queues[id]
	gauge := metrics.DispatchQueueDepth.WithLabelValues(strconv.Itoa(id))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-queue:
			if !ok {
				return // closed by Stop()
			}
			gauge.Set(float64(len(queue)))
			p.handler(ctx, ev)
		}
	}
}

func eventType(ev platform.Event) string {
	switch ev.(type) {
	case platform.CommandEvent:
		return "command"
	case platform.MessageEvent:
		return "message"
	case platform.MembershipEvent:
		return "membership"
	default:
		return "other"
	}
}
