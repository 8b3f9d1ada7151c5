package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler reacts to an agent message. It should return quickly.
type Handler func(ctx context.Context, msg Message)

// Bridge fronts a Host. It satisfies queue.WorkNotifier.
type Bridge struct {
	host   Host
	logger *zap.Logger

	mu       sync.Mutex
	handlers []registered
	nextID   uint64
}

type registered struct {
	id uint64
	fn Handler
}

// NewBridge wraps host. A nil host means NoopHost.
func NewBridge(host Host, logger *zap.Logger) *Bridge {
	if host == nil {
		host = NoopHost{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{host: host, logger: logger}
}

// NotifyWorkAvailable asks the host to schedule a drain. Failures are
// logged and otherwise ignored.
func (b *Bridge) NotifyWorkAvailable(ctx context.Context) {
	if err := b.host.RequestDrain(ctx); err != nil {
		b.logger.Warn("background agent unavailable", zap.Error(err))
	}
}

// OnAgentMessage registers h and returns a function that unregisters it.
// Handlers run in registration order.
func (b *Bridge) OnAgentMessage(h Handler) (unregister func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, registered{id: id, fn: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, r := range b.handlers {
				if r.id == id {
					b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Deliver dispatches msg to every handler, as if the host had sent it.
func (b *Bridge) Deliver(ctx context.Context, msg Message) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	for i, r := range b.handlers {
		handlers[i] = r.fn
	}
	b.mu.Unlock()

	b.logger.Debug("agent message",
		zap.String("kind", string(msg.Kind)),
		zap.String("source", msg.Source),
		zap.Int("handlers", len(handlers)))
	for _, h := range handlers {
		b.call(ctx, h, msg)
	}
}

func (b *Bridge) call(ctx context.Context, h Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("agent handler panic", zap.Any("panic", r))
		}
	}()
	h(ctx, msg)
}

// Run pumps host messages to handlers until ctx is done or the host
// closes its channel.
func (b *Bridge) Run(ctx context.Context) {
	msgs := b.host.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b.Deliver(ctx, msg)
		}
	}
}

// Close closes the host.
func (b *Bridge) Close() error {
	return b.host.Close()
}
