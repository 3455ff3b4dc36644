package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ========== Execution Status ==========

// ExecutionStatus 信号执行状态
type ExecutionStatus string

const (
	// StatusPending 新建信号（存储中为 NULL 或 PENDING，等价）
	StatusPending ExecutionStatus = "PENDING"
	// StatusRetryPending 瞬时失败，等待下个周期重试
	StatusRetryPending ExecutionStatus = "RETRY_PENDING"
	// StatusSuccess 终态：执行成功
	StatusSuccess ExecutionStatus = "SUCCESS"
	// StatusFailed 终态：执行失败
	StatusFailed ExecutionStatus = "FAILED"
)

// Terminal reports whether the status can never change again.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Side 交易方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of BUY/SELL.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// ========== Signal ==========

// Signal 待执行的交易信号。由外部信号生成逻辑创建，
// 本引擎只修改 ExecutionStatus / ExecutionResult / RetryCount / LastError。
type Signal struct {
	ID               string          `json:"id"`
	DeploymentID     string          `json:"deployment_id,omitempty"` // empty until assigned
	Venue            string          `json:"venue"`
	TokenSymbol      string          `json:"token_symbol"`
	Side             Side            `json:"side"`
	FundAllocationPct float64        `json:"fund_allocation_pct"` // percent of available balance
	Leverage         int             `json:"leverage"`
	ShouldTrade      bool            `json:"should_trade"`
	RiskParams       json.RawMessage `json:"risk_params,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ExecutionStatus  ExecutionStatus `json:"execution_status,omitempty"`
	ExecutionResult  string          `json:"execution_result,omitempty"`
	RetryCount       int             `json:"retry_count"`
	LastError        string          `json:"last_error,omitempty"`
}

// ValidationError 信号校验失败，直接终止，绝不重试。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s %s", e.Field, e.Reason)
}

// Validate checks the fields the coordinator depends on. Fail closed:
// a malformed signal is rejected here, never coerced or defaulted.
func (s *Signal) Validate() error {
	if strings.TrimSpace(s.DeploymentID) == "" {
		return &ValidationError{Field: "deployment_id", Reason: "missing"}
	}
	if !s.Side.Valid() {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown value %q", s.Side)}
	}
	if strings.TrimSpace(s.TokenSymbol) == "" {
		return &ValidationError{Field: "token_symbol", Reason: "missing"}
	}
	if strings.TrimSpace(s.Venue) == "" {
		return &ValidationError{Field: "venue", Reason: "missing"}
	}
	if s.FundAllocationPct <= 0 || s.FundAllocationPct > 100 {
		return &ValidationError{Field: "fund_allocation_pct", Reason: fmt.Sprintf("out of range: %v", s.FundAllocationPct)}
	}
	if s.Leverage < 1 {
		return &ValidationError{Field: "leverage", Reason: fmt.Sprintf("must be >= 1, got %d", s.Leverage)}
	}
	if _, err := s.Risk(); err != nil {
		return err
	}
	return nil
}

// ========== Risk Params ==========

// RiskParams 信号内嵌的风控参数（止损/止盈/滑点），读取时显式校验。
type RiskParams struct {
	StopLossPct   float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct float64 `json:"take_profit_pct,omitempty"`
	SlippagePct   float64 `json:"slippage_pct,omitempty"`
}

// Risk decodes and validates the embedded risk payload. An absent payload
// yields zero-value params; a malformed one is a ValidationError.
func (s *Signal) Risk() (RiskParams, error) {
	var rp RiskParams
	if len(s.RiskParams) == 0 {
		return rp, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(s.RiskParams)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rp); err != nil {
		return RiskParams{}, &ValidationError{Field: "risk_params", Reason: "malformed: " + err.Error()}
	}
	if rp.StopLossPct < 0 || rp.StopLossPct >= 100 {
		return RiskParams{}, &ValidationError{Field: "risk_params.stop_loss_pct", Reason: fmt.Sprintf("out of range: %v", rp.StopLossPct)}
	}
	if rp.TakeProfitPct < 0 {
		return RiskParams{}, &ValidationError{Field: "risk_params.take_profit_pct", Reason: fmt.Sprintf("out of range: %v", rp.TakeProfitPct)}
	}
	if rp.SlippagePct < 0 || rp.SlippagePct > 5 {
		return RiskParams{}, &ValidationError{Field: "risk_params.slippage_pct", Reason: fmt.Sprintf("out of range: %v", rp.SlippagePct)}
	}
	return rp, nil
}
