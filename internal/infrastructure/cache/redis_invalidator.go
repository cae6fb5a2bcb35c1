package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultCloseTimeout = 5 * time.Second
	defaultChannel      = "procurement:cache:invalidate"
)

// InvalidationMessage announces that a business collection changed.
// An empty Collection covers every collection of the business.
type InvalidationMessage struct {
	BusinessID string `json:"business_id"`
	Collection string `json:"collection,omitempty"`
	Origin     string `json:"origin"`
	Timestamp  int64  `json:"timestamp"`
}

// RedisInvalidator fans cache invalidations out to every process over Redis
// Pub/Sub. Messages published by this instance are not delivered back to it.
type RedisInvalidator struct {
	client     *redis.Client
	ownsClient bool
	channel    string
	origin     string
	clock      clock.Clock
	logger     *zap.Logger

	mu        sync.Mutex
	cancelFn  context.CancelFunc
	isRunning bool
	doneCh    chan struct{}
	doneOnce  sync.Once
}

// InvalidatorOption configures a RedisInvalidator
type InvalidatorOption func(*RedisInvalidator)

// WithInvalidatorChannel sets the Pub/Sub channel name
func WithInvalidatorChannel(channel string) InvalidatorOption {
	return func(i *RedisInvalidator) {
		if channel != "" {
			i.channel = channel
		}
	}
}

// WithInvalidatorLogger sets the invalidator logger
func WithInvalidatorLogger(logger *zap.Logger) InvalidatorOption {
	return func(i *RedisInvalidator) {
		i.logger = logger
	}
}

// WithInvalidatorClock sets the clock used to timestamp messages
func WithInvalidatorClock(c clock.Clock) InvalidatorOption {
	return func(i *RedisInvalidator) {
		i.clock = c
	}
}

// NewRedisInvalidator connects to Redis and returns an invalidator that owns
// the client
func NewRedisInvalidator(ctx context.Context, cfg config.RedisConfig, opts ...InvalidatorOption) (*RedisInvalidator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	i := NewRedisInvalidatorWithClient(client, opts...)
	i.ownsClient = true
	return i, nil
}

// NewRedisInvalidatorWithClient creates an invalidator over an existing
// client. The caller keeps ownership of the client.
func NewRedisInvalidatorWithClient(client *redis.Client, opts ...InvalidatorOption) *RedisInvalidator {
	i := &RedisInvalidator{
		client:  client,
		channel: defaultChannel,
		origin:  uuid.NewString(),
		clock:   clock.WallClock,
		logger:  zap.NewNop(),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Origin identifies this instance in published messages
func (i *RedisInvalidator) Origin() string {
	return i.origin
}

// Publish announces an invalidation to the other processes
func (i *RedisInvalidator) Publish(ctx context.Context, businessID, collection string) error {
	data, err := i.encode(businessID, collection)
	if err != nil {
		return err
	}
	if err := i.client.Publish(ctx, i.channel, data).Err(); err != nil {
		i.logger.Error("Failed to publish cache invalidation",
			zap.String("channel", i.channel),
			zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}
	i.logger.Debug("Published cache invalidation",
		zap.String("business_id", businessID),
		zap.String("collection", collection))
	return nil
}

func (i *RedisInvalidator) encode(businessID, collection string) ([]byte, error) {
	data, err := json.Marshal(InvalidationMessage{
		BusinessID: businessID,
		Collection: collection,
		Origin:     i.origin,
		Timestamp:  i.clock.Now().UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// decode parses a payload and reports whether it should be applied locally
func (i *RedisInvalidator) decode(payload string) (InvalidationMessage, bool) {
	var msg InvalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		i.logger.Error("Failed to unmarshal cache invalidation",
			zap.String("payload", payload),
			zap.Error(err))
		return msg, false
	}
	if msg.BusinessID == "" || msg.Origin == i.origin {
		return msg, false
	}
	return msg, true
}

// Subscribe blocks, invoking callback for every invalidation published by
// another instance, until ctx is cancelled or Close is called.
func (i *RedisInvalidator) Subscribe(ctx context.Context, callback func(InvalidationMessage)) error {
	i.mu.Lock()
	if i.isRunning {
		i.mu.Unlock()
		return fmt.Errorf("subscription already running")
	}
	i.isRunning = true
	subCtx, cancel := context.WithCancel(ctx)
	i.cancelFn = cancel
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.isRunning = false
		i.mu.Unlock()
		i.markDone()
	}()

	pubsub := i.client.Subscribe(subCtx, i.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	i.logger.Info("Subscribed to cache invalidation channel", zap.String("channel", i.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			i.logger.Info("Cache invalidation subscription stopped")
			return subCtx.Err()
		case m, ok := <-ch:
			if !ok {
				i.logger.Warn("Cache invalidation channel closed")
				return nil
			}
			if msg, apply := i.decode(m.Payload); apply {
				callback(msg)
			}
		}
	}
}

func (i *RedisInvalidator) markDone() {
	i.doneOnce.Do(func() {
		close(i.doneCh)
	})
}

// Close stops a running subscription and closes an owned client
func (i *RedisInvalidator) Close() error {
	i.mu.Lock()
	cancelFn := i.cancelFn
	i.mu.Unlock()

	if cancelFn != nil {
		cancelFn()
		select {
		case <-i.doneCh:
		case <-time.After(defaultCloseTimeout):
			i.logger.Warn("Timeout waiting for subscription to stop")
		}
	}
	if i.ownsClient {
		return i.client.Close()
	}
	return nil
}
