package engine

import (
	"context"

	"sigex/internal/application/port"
)

// NoopSink stands in when no event broker is configured.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) PublishExecution(ctx context.Context, ev port.ExecutionEvent) error { return nil }

func (NoopSink) Close() error { return nil }

var _ port.EventSink = NoopSink{}
