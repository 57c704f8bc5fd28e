// Package redis publishes risk-engine events to Redis Streams and PubSub
// for the dashboard gateway: fill events as they commit, and periodic
// status snapshots.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"dealdesk/internal/engine"
)

const (
	// Stream trimming: a day of fills is tiny, keep a generous tail.
	fillStreamMaxLen = 10000
	statusTTL        = 10 * time.Minute

	fillStream    = "risk:fills"
	fillChannel   = "pub:risk:fill"
	statusKey     = "risk:status:latest"
	statusChannel = "pub:risk:status"
)

// Config configures the publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes fill events and status snapshots to Redis.
type Publisher struct {
	client *goredis.Client

	// Optional hook — observes publish latency.
	OnPublish func(d time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// fillEvent is the wire shape of one published fill.
type fillEvent struct {
	StrategyID string            `json:"strategy_id"`
	Fill       engine.FillRecord `json:"fill"`
}

// RunFills drains fill records from fillCh and publishes each as XADD +
// PUBLISH in one pipeline. Blocks until ctx is cancelled or fillCh closes.
func (p *Publisher) RunFills(ctx context.Context, fillCh <-chan FillMsg) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-fillCh:
			if !ok {
				return
			}
			p.publishFill(ctx, msg)
		}
	}
}

// FillMsg pairs a fill record with its owning strategy for publication.
type FillMsg struct {
	StrategyID string
	Rec        engine.FillRecord
}

func (p *Publisher) publishFill(ctx context.Context, msg FillMsg) {
	data, err := json.Marshal(fillEvent{StrategyID: msg.StrategyID, Fill: msg.Rec})
	if err != nil {
		log.Printf("[redis] marshal fill: %v", err)
		return
	}

	start := time.Now()
	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: fillStream,
		MaxLen: fillStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	})
	pipe.Publish(ctx, fillChannel, string(data))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] publish fill for %s: %v", msg.StrategyID, err)
	}
	if p.OnPublish != nil {
		p.OnPublish(time.Since(start))
	}
}

// PublishStatus writes the latest status snapshot (SET with TTL) and
// notifies subscribers.
func (p *Publisher) PublishStatus(ctx context.Context, snap engine.StatusSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[redis] marshal status: %v", err)
		return
	}

	start := time.Now()
	pipe := p.client.Pipeline()
	pipe.Set(ctx, statusKey, string(data), statusTTL)
	pipe.Publish(ctx, statusChannel, string(data))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] publish status: %v", err)
	}
	if p.OnPublish != nil {
		p.OnPublish(time.Since(start))
	}
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
