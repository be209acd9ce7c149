package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/groupwarden/groupwarden/internal/platform"
)

func TestNewValidatesWorkerCount(t *testing.T) {
	for _, n := range []int{0, -1, 65} {
		if _, err := New(Config{Workers: n}, func(context.Context, platform.Event) {}, zerolog.Nop()); err == nil {
			t.Errorf("Workers=%d should be rejected", n)
		}
	}
}

func TestSameKeyProcessedInOrder(t *testing.T) {
	var mu sync.Mutex
	got := map[int64][]int{}

	p, err := New(Config{Workers: 8, QueueDepth: 256}, func(_ context.Context, ev platform.Event) {
		m := ev.(platform.MessageEvent)
		mu.Lock()
		got[m.UserID] = append(got[m.UserID], m.MessageID)
		mu.Unlock()
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	// Interleave messages for several users; each user's sequence must
	// come out in submission order even across workers.
	for seq := 0; seq < 50; seq++ {
		for user := int64(1); user <= 5; user++ {
			if !p.Enqueue(platform.MessageEvent{ChatID: -10, UserID: user, MessageID: seq}) {
				t.Fatal("enqueue failed")
			}
		}
	}
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	for user, seqs := range got {
		if len(seqs) != 50 {
			t.Fatalf("user %d: got %d events, want 50", user, len(seqs))
		}
		for i, s := range seqs {
			if s != i {
				t.Fatalf("user %d: out of order at %d: %v", user, i, seqs[:i+1])
			}
		}
	}
}

func TestStableRouting(t *testing.T) {
	p, err := New(Config{Workers: 8, QueueDepth: 8}, func(context.Context, platform.Event) {}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ev := platform.MessageEvent{ChatID: -10, UserID: 42}
	first := p.workerFor(ev)
	for i := 0; i < 100; i++ {
		if p.workerFor(ev) != first {
			t.Fatal("routing must be deterministic per key")
		}
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	p, err := New(Config{Workers: 1, QueueDepth: 1}, func(context.Context, platform.Event) {
		<-block
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer func() { close(block); p.Stop() }()

	ev := platform.MessageEvent{ChatID: -10, UserID: 1}
	// First fills the worker, second fills the buffer, third must drop.
	p.Enqueue(ev)
	p.Enqueue(ev)
	deadline := time.Now().Add(time.Second)
	for p.Enqueue(ev) {
		if time.Now().After(deadline) {
			t.Fatal("enqueue never reported a full buffer")
		}
	}
}
