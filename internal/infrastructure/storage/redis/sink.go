package redis

import (
	"context"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"sigex/internal/application/port"
)

// Sink publishes terminal execution events to a Redis stream (durable, for
// the reporting pipeline) and a pub/sub channel (live consumers).
type Sink struct {
	rdb         *redis.Client
	prefix      string
	eventStream string
	eventChan   string
}

func NewSink(rdb *redis.Client, prefix string) *Sink {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "sigex"
	}
	return &Sink{
		rdb:         rdb,
		prefix:      prefix,
		eventStream: prefix + ":executions",
		eventChan:   prefix + ":executions:pub",
	}
}

func (s *Sink) PublishExecution(ctx context.Context, ev port.ExecutionEvent) error {
	// 1) Stream: XADD <stream> * ...
	_, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.eventStream,
		Values: map[string]any{
			"signal_id":     ev.SignalID,
			"deployment_id": ev.DeploymentID,
			"venue":         ev.Venue,
			"token_symbol":  ev.TokenSymbol,
			"side":          string(ev.Side),
			"status":        string(ev.Status),
			"result":        ev.Result,
			"tx_hash":       ev.TxHash,
			"ts_ms":         ev.Timestamp,
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	b, _ := sonic.ConfigFastest.Marshal(ev)
	return s.rdb.Publish(ctx, s.eventChan, string(b)).Err()
}

func (s *Sink) Close() error { return s.rdb.Close() }

var _ port.EventSink = (*Sink)(nil)
