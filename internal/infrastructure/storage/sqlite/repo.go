package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sigex/internal/application/port"
	"sigex/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  fund_allocation_pct REAL NOT NULL,
  leverage INTEGER NOT NULL DEFAULT 1,
  should_trade INTEGER NOT NULL DEFAULT 0,
  risk_params TEXT,
  created_at INTEGER NOT NULL,
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
  qty REAL NOT NULL,
  entry_price REAL NOT NULL,
  tx_hash TEXT NOT NULL DEFAULT '',
  venue_trade_index INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  open_time INTEGER NOT NULL,
  UNIQUE(deployment_id, signal_id)
);
CREATE INDEX IF NOT EXISTS idx_positions_deployment ON positions(deployment_id);

CREATE TABLE IF NOT EXISTS trade_quotas (
  user_wallet TEXT PRIMARY KEY,
  total INTEGER NOT NULL DEFAULT 0,
  used INTEGER NOT NULL DEFAULT 0,
  remaining INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS quota_mints (
  idempotency_key TEXT PRIMARY KEY,
  user_wallet TEXT NOT NULL,
  amount INTEGER NOT NULL,
  created_at INTEGER NOT NULL
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
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, deployment, sig.Venue, sig.TokenSymbol, string(sig.Side), sig.FundAllocationPct,
		sig.Leverage, boolToInt(sig.ShouldTrade), risk, sig.CreatedAt.UnixMilli(), status,
		sig.ExecutionResult, sig.RetryCount, sig.LastError)
	return err
}

const signalColumns = `id, deployment_id, venue, token_symbol, side, fund_allocation_pct,
	leverage, should_trade, risk_params, created_at, execution_status, execution_result,
	retry_count, last_error`

func (r *Repo) GetSignal(ctx context.Context, id string) (*model.Signal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id)
	return scanSignal(row)
}

// ClaimablePendingSignals applies every eligibility rule in one query:
// deployment assigned and ACTIVE, tradeable, not terminal, no position row yet,
// and RETRY_PENDING only while still inside the retry window. Oldest first.
// The NOT EXISTS on positions is a pre-filter; the unique index is what
// actually guarantees at-most-one position per (deployment, signal).
func (r *Repo) ClaimablePendingSignals(ctx context.Context, limit int, retryCutoff time.Time) ([]*model.Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sel(signalColumns, "s")+`
		FROM signals s
		JOIN deployments d ON d.id = s.deployment_id
		WHERE s.deployment_id IS NOT NULL
		  AND (s.execution_status IS NULL
		       OR s.execution_status = 'PENDING'
		       OR (s.execution_status = 'RETRY_PENDING' AND s.created_at > ?))
		  AND s.should_trade = 1
		  AND s.fund_allocation_pct > 0
		  AND d.status = 'ACTIVE'
		  AND NOT EXISTS (
		      SELECT 1 FROM positions p
		      WHERE p.deployment_id = s.deployment_id AND p.signal_id = s.id)
		ORDER BY s.created_at ASC
		LIMIT ?
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
		SET execution_status = 'FAILED', execution_result = ?, last_error = ?
		WHERE execution_status = 'RETRY_PENDING' AND created_at <= ?
	`, reason, reason, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateSignalExecution never touches terminal rows: once SUCCESS or FAILED,
// a signal is immutable to this engine.
func (r *Repo) UpdateSignalExecution(ctx context.Context, id string, status model.ExecutionStatus, result string, retryCount int, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE signals
		SET execution_status = ?, execution_result = ?, retry_count = ?, last_error = ?
		WHERE id = ?
		  AND (execution_status IS NULL OR execution_status IN ('PENDING', 'RETRY_PENDING'))
	`, string(status), result, retryCount, lastError, id)
	return err
}

// ========== Deployments ==========

func (r *Repo) CreateDeployment(ctx context.Context, dep *model.Deployment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deployments(id, agent_id, user_wallet, status) VALUES(?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET agent_id=excluded.agent_id,
			user_wallet=excluded.user_wallet, status=excluded.status
	`, dep.ID, dep.AgentID, dep.UserWallet, string(dep.Status))
	return err
}

func (r *Repo) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	var dep model.Deployment
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, agent_id, user_wallet, status FROM deployments WHERE id = ?
	`, id).Scan(&dep.ID, &dep.AgentID, &dep.UserWallet, &status)
	if err != nil {
		return nil, err
	}
	dep.Status = model.DeploymentStatus(status)
	return &dep, nil
}

// ========== Positions ==========

// InsertPositionIfAbsent relies on UNIQUE(deployment_id, signal_id).
// ON CONFLICT DO NOTHING makes the losing writer in a race observe zero
// affected rows instead of an error.
func (r *Repo) InsertPositionIfAbsent(ctx context.Context, pos *model.Position) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO positions(id, deployment_id, signal_id, venue, token_symbol, side,
			qty, entry_price, tx_hash, venue_trade_index, status, open_time)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
		FROM positions WHERE deployment_id = ? AND signal_id = ?
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
		FROM positions WHERE deployment_id = ?
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

// ReserveQuota is the single atomic admission primitive: the row count of the
// conditional UPDATE decides success, never a prior read.
func (r *Repo) ReserveQuota(ctx context.Context, wallet string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE trade_quotas
		SET remaining = remaining - 1, used = used + 1
		WHERE user_wallet = ? AND remaining > 0
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
		SELECT total, used, remaining FROM trade_quotas WHERE user_wallet = ?
	`, q.UserWallet).Scan(&q.Total, &q.Used, &q.Remaining)
	if err == sql.ErrNoRows {
		return q, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// MintQuota credits a wallet once per idempotency key. The key insert and the
// balance upsert share one transaction so a replayed mint is a pure no-op.
func (r *Repo) MintQuota(ctx context.Context, wallet string, amount int64, idempotencyKey string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO quota_mints(idempotency_key, user_wallet, amount, created_at)
		VALUES(?, ?, ?, ?)
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
		// key already consumed; do not credit twice
		return false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trade_quotas(user_wallet, total, used, remaining)
		VALUES(?, ?, 0, ?)
		ON CONFLICT(user_wallet) DO UPDATE SET
			total = total + excluded.total,
			remaining = remaining + excluded.remaining
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
	var shouldTrade int
	var createdAt int64
	err := row.Scan(&sig.ID, &deployment, &sig.Venue, &sig.TokenSymbol, &side,
		&sig.FundAllocationPct, &sig.Leverage, &shouldTrade, &risk, &createdAt,
		&status, &result, &sig.RetryCount, &lastError)
	if err != nil {
		return nil, err
	}
	sig.DeploymentID = deployment.String
	sig.Side = model.Side(side)
	sig.ShouldTrade = shouldTrade != 0
	if risk.Valid {
		sig.RiskParams = []byte(risk.String)
	}
	sig.CreatedAt = time.UnixMilli(createdAt)
	sig.ExecutionStatus = model.ExecutionStatus(status.String)
	sig.ExecutionResult = result.String
	sig.LastError = lastError.String
	return &sig, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// sel prefixes each column with a table alias for joined queries.
func sel(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

var _ port.Repository = (*Repo)(nil)
