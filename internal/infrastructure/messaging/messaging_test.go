package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"pustakam-api/internal/domain/entity"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func runConsumer(t *testing.T, c *Consumer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		c.Stop()
		<-done
	})
}

func TestBackoffConfig_CalculateBackoff(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	cases := map[int]time.Duration{0: time.Second, 1: 2 * time.Second, 2: 4 * time.Second, 3: 5 * time.Second, 10: 5 * time.Second}
	for n, want := range cases {
		if got := cfg.CalculateBackoff(n); got != want {
			t.Fatalf("CalculateBackoff(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestConsumerGroup_WithPrefix(t *testing.T) {
	if ConsumerGroupBookWorkers.WithPrefix("") != "book-workers" {
		t.Fatal("empty prefix must keep the group name")
	}
	if ConsumerGroupBookWorkers.WithPrefix("pustakam") != "pustakam:book-workers" {
		t.Fatal("unexpected prefixed group")
	}
}

func TestConsumer_DeliversCommand(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []BookCommandMessage
	)
	c := NewConsumer(rdb, ConsumerConfig{
		Stream:       StreamBookCommands,
		Group:        ConsumerGroupBookWorkers,
		ConsumerName: "test-1",
		BlockTimeout: 20 * time.Millisecond,
	})
	c.RegisterHandler(CommandGenerate, func(_ context.Context, msg *Message) error {
		var cmd BookCommandMessage
		if err := msg.UnmarshalPayload(&cmd); err != nil {
			return err
		}
		mu.Lock()
		got = append(got, cmd)
		mu.Unlock()
		return nil
	})
	runConsumer(t, c)

	p := NewProducer(rdb, 100)
	_, err := p.PublishCommand(ctx, &BookCommandMessage{
		BookID:      "book-1",
		Command:     CommandGenerate,
		Provider:    "groq",
		Preferences: &entity.Preferences{IncludeQuizzes: true},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	cmd := got[0]
	mu.Unlock()
	if cmd.BookID != "book-1" || cmd.Provider != "groq" || cmd.CommandID == "" || !cmd.Preferences.IncludeQuizzes {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	waitFor(t, func() bool {
		n, err := rdb.XPending(ctx, string(StreamBookCommands), string(ConsumerGroupBookWorkers)).Result()
		return err == nil && n.Count == 0
	})
}

func TestConsumer_FailedMessageGoesToDLQ(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	c := NewConsumer(rdb, ConsumerConfig{
		Stream:       StreamBookCommands,
		Group:        ConsumerGroupBookWorkers,
		ConsumerName: "test-1",
		BlockTimeout: 20 * time.Millisecond,
		RetryLimit:   1,
	})
	c.RegisterHandler(CommandPause, func(context.Context, *Message) error {
		return errors.New("storage unavailable")
	})
	runConsumer(t, c)

	if _, err := NewProducer(rdb, 0).PublishCommand(ctx, &BookCommandMessage{BookID: "b", Command: CommandPause}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool {
		n, err := rdb.XLen(ctx, StreamBookCommands.DLQStream()).Result()
		return err == nil && n == 1
	})
}

func TestRelay_ForwardsProgress(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type progress struct {
		State string `json:"state"`
	}
	received := make(chan progress, 4)
	relay := NewRelay(rdb, RelayConfig{Stream: StreamBookEvents, BlockTimeout: 20 * time.Millisecond, StartID: "0"},
		func(_ context.Context, msg *Message) error {
			var p progress
			if err := msg.UnmarshalPayload(&p); err != nil {
				return err
			}
			received <- p
			return nil
		})

	p := NewProducer(rdb, 0)
	if _, err := p.PublishProgress(ctx, "book-1", progress{State: "generating"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()
	if _, err := p.PublishProgress(ctx, "book-1", progress{State: "paused"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, want := range []string{"generating", "paused"} {
		select {
		case got := <-received:
			if got.State != want {
				t.Fatalf("got %q, want %q", got.State, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	cancel()
	<-done
}
