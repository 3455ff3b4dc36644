package port

import (
	"context"
	"time"

	"sigex/internal/domain/model"
)

// Repository is the single storage port of the engine. Implementations must
// provide the two atomic primitives all cross-process coordination relies on:
// the UNIQUE(deployment_id, signal_id) position insert and the conditional
// quota decrement. No other locking is used anywhere.
type Repository interface {
	// Signal operations
	CreateSignal(ctx context.Context, sig *model.Signal) error
	GetSignal(ctx context.Context, id string) (*model.Signal, error)
	// ClaimablePendingSignals returns up to limit eligible signals oldest
	// first. RETRY_PENDING signals created before retryCutoff are excluded;
	// ExpireStaleRetries is expected to sweep those to FAILED beforehand.
	ClaimablePendingSignals(ctx context.Context, limit int, retryCutoff time.Time) ([]*model.Signal, error)
	// ExpireStaleRetries terminally fails RETRY_PENDING signals created
	// before cutoff and returns how many rows changed.
	ExpireStaleRetries(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	// UpdateSignalExecution persists a classifier or success outcome. It is
	// guarded so terminal rows are never touched.
	UpdateSignalExecution(ctx context.Context, id string, status model.ExecutionStatus, result string, retryCount int, lastError string) error

	// Deployment operations (read-only for this engine)
	CreateDeployment(ctx context.Context, dep *model.Deployment) error
	GetDeployment(ctx context.Context, id string) (*model.Deployment, error)

	// Position operations
	// InsertPositionIfAbsent inserts unless a row for the same
	// (deployment_id, signal_id) exists; inserted=false means a racing
	// writer won, which callers treat as success.
	InsertPositionIfAbsent(ctx context.Context, pos *model.Position) (inserted bool, err error)
	GetPositionBySignal(ctx context.Context, deploymentID, signalID string) (*model.Position, error)
	// ListPositionsByDeployment returns a deployment's positions newest first,
	// for the reporting surface.
	ListPositionsByDeployment(ctx context.Context, deploymentID string) ([]*model.Position, error)

	// Quota operations
	// ReserveQuota decrements remaining (and increments used) in one
	// conditional statement; reserved=false means no row had remaining > 0.
	ReserveQuota(ctx context.Context, wallet string) (reserved bool, err error)
	GetQuota(ctx context.Context, wallet string) (*model.TradeQuota, error)
	// MintQuota credits total and remaining once per idempotency key;
	// applied=false means the key was already consumed.
	MintQuota(ctx context.Context, wallet string, amount int64, idempotencyKey string) (applied bool, err error)

	// Connection management
	Ping(ctx context.Context) error
	Close() error
}
