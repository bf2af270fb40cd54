package redisstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"droc_go/internal/event"

	"github.com/redis/go-redis/v9"
)

// Config locates the stream.
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64 // approximate trim length; zero keeps everything
}

// Publisher appends journaled events to a Redis stream for downstream
// consumers.
type Publisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg Config, logger *slog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Publisher{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: logger.With(slog.String("component", "redis_stream")),
	}, nil
}

func (p *Publisher) Name() string { return "redis:" + p.stream }

// Publish XADDs one event.
func (p *Publisher) Publish(ctx context.Context, ev event.Event) error {
	values, err := streamValues(ev)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis XADD failed: %w", err)
	}
	return nil
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func streamValues(ev event.Event) (map[string]interface{}, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return map[string]interface{}{
		"seq":     strconv.FormatUint(ev.GetSeq(), 10),
		"type":    ev.GetType().String(),
		"id":      ev.GetID(),
		"slot":    strconv.FormatInt(int64(ev.GetSlot()), 10),
		"payload": string(payload),
	}, nil
}
