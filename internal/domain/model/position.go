package model

// PositionStatus 持仓状态。本引擎只创建 OPEN 持仓，后续生命周期归其他子系统。
type PositionStatus string

const (
	PositionOpen PositionStatus = "OPEN"
)

// Position 一次成功执行的记录。(DeploymentID, SignalID) 全局唯一，
// 是整个引擎幂等性的唯一锚点。
type Position struct {
	ID              string         `json:"id"`
	DeploymentID    string         `json:"deployment_id"`
	SignalID        string         `json:"signal_id"`
	Venue           string         `json:"venue"`
	TokenSymbol     string         `json:"token_symbol"`
	Side            Side           `json:"side"`
	Qty             float64        `json:"qty"`
	EntryPrice      float64        `json:"entry_price"`
	TxHash          string         `json:"tx_hash"`
	VenueTradeIndex int64          `json:"venue_trade_index"`
	Status          PositionStatus `json:"status"`
	OpenTime        int64          `json:"open_time"` // Unix milliseconds
}

// ExecutionOutcome is what a venue adapter reports back for one order.
type ExecutionOutcome struct {
	Success         bool
	EntryPrice      float64
	Qty             float64
	Collateral      float64
	TxHash          string
	TradeID         string
	VenueTradeIndex int64
	Err             string // raw venue/transport error text, classified upstream
}
