package engine

import (
	"context"
	"sync"
	"time"

	"engagekit/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

type subscription struct {
	id  int64
	typ core.NotificationType
	fn  func(context.Context, core.Notification)
}

// NotificationBus provides thread-safe pub/sub with sync and async
// dispatch. It only fans notifications out within the process; the
// engine keeps no record of what was published.
type NotificationBus struct {
	mode         DispatchMode
	mu           sync.RWMutex
	subs         map[core.NotificationType]map[int64]subscription
	nextID       int64
	asyncQueue   chan core.Notification
	asyncWorkers int
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewNotificationBus(mode DispatchMode) *NotificationBus {
	ctx, cancel := context.WithCancel(context.Background())
	nb := &NotificationBus{
		mode:         mode,
		subs:         make(map[core.NotificationType]map[int64]subscription),
		asyncQueue:   make(chan core.Notification, 2048),
		asyncWorkers: 4,
		ctx:          ctx,
		cancel:       cancel,
	}
	if mode == DispatchAsync {
		nb.startWorkers()
	}
	return nb
}

func (b *NotificationBus) startWorkers() {
	for i := 0; i < b.asyncWorkers; i++ {
		go func() {
			for {
				select {
				case n := <-b.asyncQueue:
					b.dispatchSync(context.Background(), n)
				case <-b.ctx.Done():
					return
				}
			}
		}()
	}
}

// Close stops async workers.
func (b *NotificationBus) Close() {
	b.cancel()
	// allow workers to drain briefly
	time.Sleep(10 * time.Millisecond)
}

// Subscribe registers a handler for a notification type. Returns unsubscribe func.
func (b *NotificationBus) Subscribe(typ core.NotificationType, handler func(context.Context, core.Notification)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[typ] == nil {
		b.subs[typ] = make(map[int64]subscription)
	}
	b.subs[typ][id] = subscription{id: id, typ: typ, fn: handler}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m := b.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// Publish sends a notification to subscribers.
func (b *NotificationBus) Publish(ctx context.Context, n core.Notification) {
	if b.mode == DispatchAsync {
		select {
		case b.asyncQueue <- n:
		default:
			// Drop if queue full to preserve latency; alternative is blocking
		}
		return
	}
	b.dispatchSync(ctx, n)
}

func (b *NotificationBus) dispatchSync(ctx context.Context, n core.Notification) {
	b.mu.RLock()
	subs := b.subs[n.Type]
	// copy to avoid holding lock during callbacks
	handlers := make([]func(context.Context, core.Notification), 0, len(subs))
	for _, s := range subs {
		handlers = append(handlers, s.fn)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, n)
	}
}
