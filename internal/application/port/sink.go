package port

import (
	"context"

	"sigex/internal/domain/model"
)

// ExecutionEvent is published once per signal reaching a terminal state.
// Downstream reporting consumes these; the engine never reads them back.
type ExecutionEvent struct {
	SignalID     string                `json:"signal_id"`
	DeploymentID string                `json:"deployment_id"`
	Venue        string                `json:"venue"`
	TokenSymbol  string                `json:"token_symbol"`
	Side         model.Side            `json:"side"`
	Status       model.ExecutionStatus `json:"status"`
	Result       string                `json:"result"`
	TxHash       string                `json:"tx_hash,omitempty"`
	Timestamp    int64                 `json:"ts_ms"`
}

// EventSink receives terminal execution events.
type EventSink interface {
	PublishExecution(ctx context.Context, ev ExecutionEvent) error
	Close() error
}
