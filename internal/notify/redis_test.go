package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestRedisSinkPublish(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sub := client.Subscribe(ctx, Channel("user-1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sink := NewRedisSink(client, zerolog.Nop())
	sink.Publish(ctx, "user-1", "job-1", map[string]any{"status": "in_progress", "progress": 40})

	select {
	case msg := <-sub.Channel():
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.JobID != "job-1" {
			t.Fatalf("expected job-1, got %s", ev.JobID)
		}
		if ev.Changes["status"] != "in_progress" {
			t.Fatalf("expected status change, got %v", ev.Changes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestRedisSinkDropsOnDeadBroker(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	// Must not panic or block when the broker is gone.
	sink := NewRedisSink(client, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		sink.Publish(context.Background(), "user-1", "job-1", map[string]any{"status": "failed"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on dead broker")
	}
}
