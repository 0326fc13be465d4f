// Package notify fans platform events out to Redis pub/sub and NATS subscribers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event is the wire envelope shared by every sink.
type Event struct {
	Type   string          `json:"type"`
	Source string          `json:"source"`
	SentAt time.Time       `json:"sent_at"`
	Data   json.RawMessage `json:"data"`
}

// NATSPublisher is the subset of *nats.Conn the broadcaster needs.
type NATSPublisher interface {
	Publish(subject string, data []byte) error
}

// Config wires the broadcaster sinks. Either client may be nil.
type Config struct {
	Channel string
	Source  string
	Redis   *redis.Client
	NATS    NATSPublisher
	Logger  *zap.Logger
}

// Broadcaster publishes events to every configured sink.
type Broadcaster struct {
	channel string
	source  string
	redis   *redis.Client
	nats    NATSPublisher
	logger  *zap.Logger
	now     func() time.Time
}

// NewBroadcaster constructs a broadcaster.
func NewBroadcaster(cfg Config) *Broadcaster {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "rankings.published"
	}
	return &Broadcaster{
		channel: channel,
		source:  cfg.Source,
		redis:   cfg.Redis,
		nats:    cfg.NATS,
		logger:  logger,
		now:     time.Now,
	}
}

// Channel returns the Redis channel and NATS subject events are published on.
func (b *Broadcaster) Channel() string {
	return b.channel
}

// Broadcast marshals data into an Event and publishes it. Every sink is attempted; the joined
// error reports the sinks that failed.
func (b *Broadcaster) Broadcast(ctx context.Context, eventType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	payload, err := json.Marshal(Event{Type: eventType, Source: b.source, SentAt: b.now().UTC(), Data: raw})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	var errs []error
	if b.redis != nil {
		if err := b.redis.Publish(ctx, b.channel, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis publish: %w", err))
		}
	}
	if b.nats != nil {
		if err := b.nats.Publish(b.channel, payload); err != nil {
			errs = append(errs, fmt.Errorf("nats publish: %w", err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		b.logger.Warn("event broadcast failed", zap.String("type", eventType), zap.Error(err))
		return err
	}
	b.logger.Debug("event broadcast", zap.String("type", eventType), zap.String("channel", b.channel))
	return nil
}

// SubscribeRedis delivers events from other nodes to handle until ctx is cancelled.
func (b *Broadcaster) SubscribeRedis(ctx context.Context, handle func(Event)) error {
	if b.redis == nil {
		return errors.New("redis sink not configured")
	}
	pubsub := b.redis.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	go func() {
		defer func() { _ = pubsub.Close() }()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					b.logger.Error("event subscription closed", zap.Error(err))
				}
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("invalid event payload", zap.Error(err))
				continue
			}
			if event.Source != "" && event.Source == b.source {
				continue
			}
			handle(event)
		}
	}()
	return nil
}

// ConnectNATS dials the NATS server with reconnect logging. An empty url yields a nil connection.
func ConnectNATS(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", conn.ConnectedUrl()))
		}),
	)
}
