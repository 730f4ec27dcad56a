package engine

import (
	"context"
	"testing"
	"time"

	"engagekit/core"
)

func TestNotificationBusSync(t *testing.T) {
	bus := NewNotificationBus(DispatchSync)
	count := 0
	bus.Subscribe(core.NotificationLevelUp, func(ctx context.Context, n core.Notification) { count++ })
	bus.Publish(context.Background(), core.NewLevelUp(core.UserID("u"), 2, 100, time.Now()))
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
}

func TestNotificationBusAsync(t *testing.T) {
	bus := NewNotificationBus(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(core.NotificationLevelUp, func(ctx context.Context, n core.Notification) { close(ch) })
	bus.Publish(context.Background(), core.NewLevelUp(core.UserID("u"), 2, 100, time.Now()))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestNotificationBusUnsubscribe(t *testing.T) {
	bus := NewNotificationBus(DispatchSync)
	count := 0
	off := bus.Subscribe(core.NotificationBadgeUnlocked, func(ctx context.Context, n core.Notification) { count++ })
	off()
	bus.Publish(context.Background(), core.NewBadgeUnlocked(core.UserID("u"), "b", 1, 0, time.Now()))
	if count != 0 {
		t.Fatalf("handler ran after unsubscribe: %d", count)
	}
}
