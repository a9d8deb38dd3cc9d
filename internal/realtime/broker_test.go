package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	broker := NewBroker(zerolog.Nop())
	broker.Register("tasks", func(ctx context.Context) (any, error) {
		return []string{"task-1", "task-2"}, nil
	})

	ch, cancel, err := broker.Subscribe(context.Background(), "tasks")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	select {
	case snap := <-ch:
		if snap.Collection != "tasks" {
			t.Errorf("collection = %q, want tasks", snap.Collection)
		}
		data, ok := snap.Data.([]string)
		if !ok || len(data) != 2 {
			t.Errorf("unexpected snapshot data: %#v", snap.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}
}

func TestSubscribeUnknownCollection(t *testing.T) {
	broker := NewBroker(zerolog.Nop())

	_, _, err := broker.Subscribe(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("expected ErrUnknownCollection, got %v", err)
	}
}

func TestPublishFansOut(t *testing.T) {
	broker := NewBroker(zerolog.Nop())
	var version atomic.Int64
	broker.Register("announcements", func(ctx context.Context) (any, error) {
		return version.Load(), nil
	})

	ch1, cancel1, err := broker.Subscribe(context.Background(), "announcements")
	if err != nil {
		t.Fatalf("subscribe 1: %v", err)
	}
	defer cancel1()
	ch2, cancel2, err := broker.Subscribe(context.Background(), "announcements")
	if err != nil {
		t.Fatalf("subscribe 2: %v", err)
	}
	defer cancel2()

	// Drain initial snapshots.
	<-ch1
	<-ch2

	version.Store(7)
	broker.Publish(context.Background(), "announcements")

	for i, ch := range []<-chan Snapshot{ch1, ch2} {
		select {
		case snap := <-ch:
			if snap.Data.(int64) != 7 {
				t.Errorf("subscriber %d got %v, want 7", i+1, snap.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i+1)
		}
	}
}

func TestSlowSubscriberGetsLatest(t *testing.T) {
	broker := NewBroker(zerolog.Nop())
	var version atomic.Int64
	broker.Register("logs", func(ctx context.Context) (any, error) {
		return version.Load(), nil
	})

	ch, cancel, err := broker.Subscribe(context.Background(), "logs")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	<-ch

	// The reader is not consuming; intermediate snapshots should be
	// replaced, not queued.
	for i := int64(1); i <= 5; i++ {
		version.Store(i)
		broker.Publish(context.Background(), "logs")
	}

	select {
	case snap := <-ch:
		if snap.Data.(int64) != 5 {
			t.Errorf("got snapshot %v, want latest (5)", snap.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced snapshot")
	}
}

func TestSubscribeSurvivesRacingPublish(t *testing.T) {
	broker := NewBroker(zerolog.Nop())
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	broker.Register("tasks", func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			// First call is Subscribe's initial fetch; hold it so a
			// Publish can land in the window before the initial send.
			close(entered)
			<-release
			return "initial", nil
		}
		return "published", nil
	})

	type result struct {
		ch     <-chan Snapshot
		cancel func()
		err    error
	}
	done := make(chan result, 1)
	go func() {
		ch, cancel, err := broker.Subscribe(context.Background(), "tasks")
		done <- result{ch, cancel, err}
	}()

	<-entered
	broker.Publish(context.Background(), "tasks")
	close(release)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("subscribe: %v", res.err)
		}
		defer res.cancel()
		select {
		case snap := <-res.ch:
			if snap.Data != "initial" && snap.Data != "published" {
				t.Fatalf("unexpected snapshot data %#v", snap.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("no snapshot delivered after the racing publish")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe blocked on the initial snapshot send")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	broker := NewBroker(zerolog.Nop())
	broker.Register("tasks", func(ctx context.Context) (any, error) { return nil, nil })

	ch, cancel, err := broker.Subscribe(context.Background(), "tasks")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-ch
	cancel()

	if _, open := <-ch; open {
		t.Fatal("expected channel to be closed after cancel")
	}

	// Publishing after cancel must not panic.
	broker.Publish(context.Background(), "tasks")
}

func TestFailedInitialFetchCleansUp(t *testing.T) {
	broker := NewBroker(zerolog.Nop())
	broker.Register("tasks", func(ctx context.Context) (any, error) {
		return nil, errors.New("db down")
	})

	if _, _, err := broker.Subscribe(context.Background(), "tasks"); err == nil {
		t.Fatal("expected error from failing fetcher")
	}

	broker.mu.RLock()
	defer broker.mu.RUnlock()
	if len(broker.subs["tasks"]) != 0 {
		t.Fatalf("expected no lingering subscribers, got %d", len(broker.subs["tasks"]))
	}
}
