package venue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"sigex/internal/application/port"
	"sigex/internal/domain/model"
)

// Ostium opens positions through the Ostium sidecar. Ostium sizes orders by
// collateral directly and returns the on-chain transaction hash plus the
// trade index the keeper assigned.
type Ostium struct {
	c *client
}

func NewOstium(baseURL string, timeout time.Duration) *Ostium {
	return &Ostium{c: newClient("ostium", baseURL, timeout)}
}

func (o *Ostium) Name() string { return "ostium" }

func (o *Ostium) AvailableBalance(ctx context.Context, wallet string) (float64, error) {
	var resp struct {
		Success     bool   `json:"success"`
		USDCBalance string `json:"usdcBalance"`
		Error       string `json:"error"`
	}
	err := o.c.post(ctx, "/balance", map[string]string{"address": wallet}, &resp)
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, fmt.Errorf("venue ostium: %s", resp.Error)
	}
	balance, err := strconv.ParseFloat(resp.USDCBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("venue ostium: unreadable balance %q", resp.USDCBalance)
	}
	return balance, nil
}

func (o *Ostium) Execute(ctx context.Context, req *port.VenueRequest) (*model.ExecutionOutcome, error) {
	payload := map[string]any{
		"userAddress":  req.Deployment.UserWallet,
		"market":       req.Signal.TokenSymbol,
		"side":         sideWord(req.Signal.Side),
		"collateral":   req.Collateral,
		"leverage":     req.Signal.Leverage,
		"deploymentId": req.Signal.DeploymentID,
		"signalId":     req.Signal.ID,
	}
	if req.Risk.StopLossPct > 0 {
		payload["stopLossPercent"] = req.Risk.StopLossPct / 100
	}

	var resp struct {
		Success          bool    `json:"success"`
		TradeID          string  `json:"tradeId"`
		TxHash           string  `json:"txHash"`
		EntryPrice       float64 `json:"entryPrice"`
		ActualTradeIndex int64   `json:"actualTradeIndex"`
		Error            string  `json:"error"`
	}
	err := o.c.post(ctx, "/open-position", payload, &resp)
	if err != nil {
		return &model.ExecutionOutcome{Err: failureText(err)}, nil
	}
	if !resp.Success {
		return &model.ExecutionOutcome{Err: resp.Error}, nil
	}

	qty := 0.0
	if resp.EntryPrice > 0 {
		qty = req.Collateral * float64(req.Signal.Leverage) / resp.EntryPrice
	}
	return &model.ExecutionOutcome{
		Success:         true,
		EntryPrice:      resp.EntryPrice,
		Qty:             qty,
		Collateral:      req.Collateral,
		TxHash:          resp.TxHash,
		TradeID:         resp.TradeID,
		VenueTradeIndex: resp.ActualTradeIndex,
	}, nil
}

var _ port.VenueAdapter = (*Ostium)(nil)
