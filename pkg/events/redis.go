package events

import (
	"context"
	"flag"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/grafana/dskit/flagext"

	"github.com/usherd/usher/pkg/util"
)

// Config for the redis bus backing the broadcast channels.
type Config struct {
	Endpoint string         `yaml:"endpoint"`
	DB       int            `yaml:"db"`
	Password flagext.Secret `yaml:"password"`
	Timeout  time.Duration  `yaml:"timeout"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Endpoint, util.PrefixConfig(prefix, "endpoint"), "localhost:6379", "Redis endpoint backing the broadcast channels.")
	cfg.Timeout = 500 * time.Millisecond
}

// Message is one frame received from a broadcast channel.
type Message struct {
	Channel string
	Payload []byte
}

// RedisBus publishes and subscribes broadcast frames over redis pub/sub.
type RedisBus struct {
	timeout time.Duration
	rdb     redis.UniversalClient
}

var _ Publisher = (*RedisBus)(nil)

func NewRedisBus(cfg Config) *RedisBus {
	return &RedisBus{
		timeout: cfg.Timeout,
		rdb: redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Endpoint},
			DB:       cfg.DB,
			Password: cfg.Password.String(),
		}),
	}
}

// Publish sends the payload to a channel. One attempt, no retries: broadcast
// delivery is best effort.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	var cancel context.CancelFunc
	if b.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return b.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe joins the channels and streams frames until ctx is cancelled.
// The returned channel is closed when the subscription ends.
func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	pubsub := b.rdb.Subscribe(ctx, channels...)

	// confirm the subscription before handing out the stream
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: m.Channel, Payload: []byte(m.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Ping(ctx context.Context) error {
	var cancel context.CancelFunc
	if b.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
