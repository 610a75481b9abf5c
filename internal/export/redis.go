package export

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RedisConfig configures the redis sink.
type RedisConfig struct {
	Addr       string        // host:port, defaults to localhost:6379
	Key        string        // key prefix, defaults to "cachemon"
	TTL        time.Duration // expiry of <key>:latest, 0 keeps it forever
	HistoryLen int           // entries kept in <key>:history, defaults to 100
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.Key == "" {
		c.Key = "cachemon"
	}
	if c.HistoryLen <= 0 {
		c.HistoryLen = 100
	}
	return c
}

// RedisSink stores the latest export under <key>:latest and keeps a capped
// list of recent exports under <key>:history.
//
// Writes go through a circuit breaker so an unreachable server costs one
// fast failure per tick instead of a dial timeout.
type RedisSink struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	config  RedisConfig
}

// NewRedisSink returns a sink for cfg. No connection is made until the
// first export.
func NewRedisSink(cfg RedisConfig) *RedisSink {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "export-redis-" + cfg.Key,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &RedisSink{client: client, breaker: breaker, config: cfg}
}

// LatestKey is the key holding the most recent export.
func (s *RedisSink) LatestKey() string { return s.config.Key + ":latest" }

// HistoryKey is the list holding recent exports, newest first.
func (s *RedisSink) HistoryKey() string { return s.config.Key + ":history" }

// Export implements Sink.
func (s *RedisSink) Export(ctx context.Context, data []byte) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.LatestKey(), data, s.config.TTL)
			pipe.LPush(ctx, s.HistoryKey(), data)
			pipe.LTrim(ctx, s.HistoryKey(), 0, int64(s.config.HistoryLen-1))
			return nil
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("redis %s: %w", s.config.Addr, err)
	}
	return nil
}

// State reports the circuit breaker state.
func (s *RedisSink) State() string {
	return s.breaker.State().String()
}

// Close releases the client connections.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
