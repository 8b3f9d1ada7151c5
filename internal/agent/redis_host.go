package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisHost talks to the background agent over Redis pub/sub. Drain
// requests are published on "<prefix>:work"; the agent publishes on
// "<prefix>:drain" when this process should drain. A payload of "sync"
// asks for a sync round instead.
type RedisHost struct {
	cli    *redis.Client
	pubsub *redis.PubSub
	prefix string
	msgs   chan Message
	logger *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRedisHost connects to url and subscribes before returning.
func NewRedisHost(ctx context.Context, url, prefix string, logger *zap.Logger) (*RedisHost, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis host: %w", err)
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "offlinesync"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cli := redis.NewClient(opts)

	pubsub := cli.Subscribe(ctx, prefix+":drain")
	// Receive waits for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = cli.Close()
		return nil, fmt.Errorf("redis host: subscribe: %w", err)
	}

	h := &RedisHost{
		cli:    cli,
		pubsub: pubsub,
		prefix: prefix,
		msgs:   make(chan Message, 16),
		logger: logger,
	}
	h.wg.Add(1)
	go h.loop()
	return h, nil
}

type workNotice struct {
	At time.Time `json:"at"`
}

// RequestDrain publishes a work notice.
func (h *RedisHost) RequestDrain(ctx context.Context) error {
	payload, err := json.Marshal(workNotice{At: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := h.cli.Publish(ctx, h.prefix+":work", payload).Err(); err != nil {
		return fmt.Errorf("publish work notice: %w", err)
	}
	return nil
}

// Messages implements Host.
func (h *RedisHost) Messages() <-chan Message { return h.msgs }

// Close unsubscribes and closes the client.
func (h *RedisHost) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.pubsub.Close()
		h.wg.Wait()
		close(h.msgs)
		if cerr := h.cli.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

func (h *RedisHost) loop() {
	defer h.wg.Done()
	for m := range h.pubsub.Channel() {
		msg := Message{
			Kind:   parseKind(strings.TrimSpace(m.Payload)),
			Source: "redis",
			At:     time.Now().UTC(),
		}
		select {
		case h.msgs <- msg:
		default:
			h.logger.Debug("agent message coalesced", zap.String("channel", m.Channel))
		}
	}
}
