package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sigex/internal/application/port"
	"sigex/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS signals (
  id TEXT PRIMARY KEY,
  deployment_id TEXT,
  venue TEXT NOT NULL,
  token_symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  fund_allocation_pct DOUBLE PRECISION NOT NULL,
  leverage INTEGER NOT NULL DEFAULT 1,
  should_trade BOOLEAN NOT NULL DEFAULT FALSE,
  risk_params TEXT,
  created_at BIGINT NOT NULL,
  execution_status TEXT,
  execution_result TEXT,
  retry_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);
CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(execution_status);
CREATE INDEX IF NOT EXISTS idx_signals_created ON signals(created_at);

CREATE TABLE IF NOT EXISTS deployments (
  id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  user_wallet TEXT NOT NULL,
  status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deployments_wallet ON deployments(user_wallet);

CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  deployment_id TEXT NOT NULL,
  signal_id TEXT NOT NULL,
  venue TEXT NOT NULL,
  token_symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  qty DOUBLE PRECISION NOT NULL,
  entry_price DOUBLE PRECISION NOT NULL,
  tx_hash TEXT NOT NULL DEFAULT '',
  venue_trade_index BIGINT NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  open_time BIGINT NOT NULL,
  UNIQUE(deployment_id, signal_id)
);
CREATE INDEX IF NOT EXISTS idx_positions_deployment ON positions(deployment_id);

CREATE TABLE IF NOT EXISTS trade_quotas (
  user_wallet TEXT PRIMARY KEY,
  total BIGINT NOT NULL DEFAULT 0,
  used BIGINT NOT NULL DEFAULT 0,
  remaining BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS quota_mints (
  idempotency_key TEXT PRIMARY KEY,
  user_wallet TEXT NOT NULL,
  amount BIGINT NOT NULL,
  created_at BIGINT NOT NULL
);
`)
	return err
}

// ========== Signals ==========

func (r *Repo) CreateSignal(ctx context.Context, sig *model.Signal) error {
	status := sql.NullString{String: string(sig.ExecutionStatus), Valid: sig.ExecutionStatus != ""}
	deployment := sql.NullString{String: sig.DeploymentID, Valid: sig.DeploymentID != ""}
	risk := sql.NullString{String: string(sig.RiskParams), Valid: len(sig.RiskParams) > 0}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signals(id, deployment_id, venue, token_symbol, side, fund_allocation_pct,
			leverage, should_trade, risk_params, created_at, execution_status, execution_result,
			retry_count, last_error)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, sig.ID, deployment, sig.Venue, sig.TokenSymbol, string(sig.Side), sig.FundAllocationPct,
		sig.Leverage, sig.ShouldTrade, risk, sig.CreatedAt.UnixMilli(), status,
		sig.ExecutionResult, sig.RetryCount, sig.LastError)
	return err
}

const signalColumns = `id, deployment_id, venue, token_symbol, side, fund_allocation_pct,
	leverage, should_trade, risk_params, created_at, execution_status, execution_result,
	retry_count, last_error`

func (r *Repo) GetSignal(ctx context.Context, id string) (*model.Signal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	return scanSignal(row)
}

func (r *Repo) ClaimablePendingSignals(ctx context.Context, limit int, retryCutoff time.Time) ([]*model.Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sel(signalColumns, "s")+`
		FROM signals s
		JOIN deployments d ON d.id = s.deployment_id
		WHERE s.deployment_id IS NOT NULL
		  AND (s.execution_status IS NULL
		       OR s.execution_status = 'PENDING'
		       OR (s.execution_status = 'RETRY_PENDING' AND s.created_at > $1))
		  AND s.should_trade
		  AND s.fund_allocation_pct > 0
		  AND d.status = 'ACTIVE'
		  AND NOT EXISTS (
		      SELECT 1 FROM positions p
		      WHERE p.deployment_id = s.deployment_id AND p.signal_id = s.id)
		ORDER BY s.created_at ASC
		LIMIT $2
	`, retryCutoff.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (r *Repo) ExpireStaleRetries(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE signals
		SET execution_status = 'FAILED', execution_result = $1, last_error = $1
		WHERE execution_status = 'RETRY_PENDING' AND created_at <= $2
	`, reason, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) UpdateSignalExecution(ctx context.Context, id string, status model.ExecutionStatus, result string, retryCount int, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE signals
		SET execution_status = $1, execution_result = $2, retry_count = $3, last_error = $4
		WHERE id = $5
		  AND (execution_status IS NULL OR execution_status IN ('PENDING', 'RETRY_PENDING'))
	`, string(status), result, retryCount, lastError, id)
	return err
}

// ========== Deployments ==========

func (r *Repo) CreateDeployment(ctx context.Context, dep *model.Deployment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deployments(id, agent_id, user_wallet, status) VALUES($1, $2, $3, $4)
		ON CONFLICT(id) DO UPDATE SET agent_id=excluded.agent_id,
			user_wallet=excluded.user_wallet, status=excluded.status
	`, dep.ID, dep.AgentID, dep.UserWallet, string(dep.Status))
	return err
}

func (r *Repo) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	var dep model.Deployment
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, agent_id, user_wallet, status FROM deployments WHERE id = $1
	`, id).Scan(&dep.ID, &dep.AgentID, &dep.UserWallet, &status)
	if err != nil {
		return nil, err
	}
	dep.Status = model.DeploymentStatus(status)
	return &dep, nil
}

// ========== Positions ==========

func (r *Repo) InsertPositionIfAbsent(ctx context.Context, pos *model.Position) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO positions(id, deployment_id, signal_id, venue, token_symbol, side,
			qty, entry_price, tx_hash, venue_trade_index, status, open_time)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT(deployment_id, signal_id) DO NOTHING
	`, pos.ID, pos.DeploymentID, pos.SignalID, pos.Venue, pos.TokenSymbol, string(pos.Side),
		pos.Qty, pos.EntryPrice, pos.TxHash, pos.VenueTradeIndex, string(pos.Status), pos.OpenTime)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repo) GetPositionBySignal(ctx context.Context, deploymentID, signalID string) (*model.Position, error) {
	var pos model.Position
	var side, status string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, deployment_id, signal_id, venue, token_symbol, side, qty, entry_price,
			tx_hash, venue_trade_index, status, open_time
		FROM positions WHERE deployment_id = $1 AND signal_id = $2
	`, deploymentID, signalID).Scan(&pos.ID, &pos.DeploymentID, &pos.SignalID, &pos.Venue,
		&pos.TokenSymbol, &side, &pos.Qty, &pos.EntryPrice, &pos.TxHash, &pos.VenueTradeIndex,
		&status, &pos.OpenTime)
	if err != nil {
		return nil, err
	}
	pos.Side = model.Side(side)
	pos.Status = model.PositionStatus(status)
	return &pos, nil
}

func (r *Repo) ListPositionsByDeployment(ctx context.Context, deploymentID string) ([]*model.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, deployment_id, signal_id, venue, token_symbol, side, qty, entry_price,
			tx_hash, venue_trade_index, status, open_time
		FROM positions WHERE deployment_id = $1
		ORDER BY open_time DESC
	`, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Position
	for rows.Next() {
		var pos model.Position
		var side, status string
		if err := rows.Scan(&pos.ID, &pos.DeploymentID, &pos.SignalID, &pos.Venue,
			&pos.TokenSymbol, &side, &pos.Qty, &pos.EntryPrice, &pos.TxHash,
			&pos.VenueTradeIndex, &status, &pos.OpenTime); err != nil {
			return nil, err
		}
		pos.Side = model.Side(side)
		pos.Status = model.PositionStatus(status)
		out = append(out, &pos)
	}
	return out, rows.Err()
}

// ========== Quota ==========

func (r *Repo) ReserveQuota(ctx context.Context, wallet string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE trade_quotas
		SET remaining = remaining - 1, used = used + 1
		WHERE user_wallet = $1 AND remaining > 0
	`, strings.ToLower(wallet))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repo) GetQuota(ctx context.Context, wallet string) (*model.TradeQuota, error) {
	q := &model.TradeQuota{UserWallet: strings.ToLower(wallet)}
	err := r.db.QueryRowContext(ctx, `
		SELECT total, used, remaining FROM trade_quotas WHERE user_wallet = $1
	`, q.UserWallet).Scan(&q.Total, &q.Used, &q.Remaining)
	if err == sql.ErrNoRows {
		return q, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (r *Repo) MintQuota(ctx context.Context, wallet string, amount int64, idempotencyKey string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO quota_mints(idempotency_key, user_wallet, amount, created_at)
		VALUES($1, $2, $3, $4)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, idempotencyKey, strings.ToLower(wallet), amount, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trade_quotas(user_wallet, total, used, remaining)
		VALUES($1, $2, 0, $3)
		ON CONFLICT(user_wallet) DO UPDATE SET
			total = trade_quotas.total + excluded.total,
			remaining = trade_quotas.remaining + excluded.remaining
	`, strings.ToLower(wallet), amount, amount)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ========== helpers ==========

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (*model.Signal, error) {
	var sig model.Signal
	var deployment, status, result, risk, lastError sql.NullString
	var side string
	var createdAt int64
	err := row.Scan(&sig.ID, &deployment, &sig.Venue, &sig.TokenSymbol, &side,
		&sig.FundAllocationPct, &sig.Leverage, &sig.ShouldTrade, &risk, &createdAt,
		&status, &result, &sig.RetryCount, &lastError)
	if err != nil {
		return nil, err
	}
	sig.DeploymentID = deployment.String
	sig.Side = model.Side(side)
	if risk.Valid {
		sig.RiskParams = []byte(risk.String)
	}
	sig.CreatedAt = time.UnixMilli(createdAt)
	sig.ExecutionStatus = model.ExecutionStatus(status.String)
	sig.ExecutionResult = result.String
	sig.LastError = lastError.String
	return &sig, nil
}

func sel(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

var _ port.Repository = (*Repo)(nil)
