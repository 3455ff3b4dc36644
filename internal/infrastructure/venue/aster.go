package venue

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"sigex/internal/application/port"
	"sigex/internal/domain/model"
)

// Aster opens USDT-margined perpetual positions through the Aster sidecar.
// The sidecar resolves the user's agent credentials from the wallet address,
// so the adapter only ships the order itself.
type Aster struct {
	c *client
}

func NewAster(baseURL string, timeout time.Duration) *Aster {
	return &Aster{c: newClient("aster", baseURL, timeout)}
}

func (a *Aster) Name() string { return "aster" }

func (a *Aster) AvailableBalance(ctx context.Context, wallet string) (float64, error) {
	var resp struct {
		Success          bool    `json:"success"`
		AvailableBalance float64 `json:"availableBalance"`
		Error            string  `json:"error"`
	}
	err := a.c.post(ctx, "/balance", map[string]string{"userAddress": wallet}, &resp)
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, fmt.Errorf("venue aster: %s", resp.Error)
	}
	return resp.AvailableBalance, nil
}

func (a *Aster) Execute(ctx context.Context, req *port.VenueRequest) (*model.ExecutionOutcome, error) {
	var price struct {
		Success bool    `json:"success"`
		Price   float64 `json:"price"`
		Error   string  `json:"error"`
	}
	err := a.c.get(ctx, "/price?token="+url.QueryEscape(req.Signal.TokenSymbol), &price)
	if err != nil {
		return &model.ExecutionOutcome{Err: failureText(err)}, nil
	}
	if !price.Success || price.Price <= 0 {
		return &model.ExecutionOutcome{Err: fmt.Sprintf("no price for %s: %s", req.Signal.TokenSymbol, price.Error)}, nil
	}

	quantity := req.Collateral * float64(req.Signal.Leverage) / price.Price

	var resp struct {
		Success     bool   `json:"success"`
		OrderID     int64  `json:"orderId"`
		AvgPrice    string `json:"avgPrice"`
		ExecutedQty string `json:"executedQty"`
		Error       string `json:"error"`
	}
	err = a.c.post(ctx, "/open-position", map[string]any{
		"userAddress": req.Deployment.UserWallet,
		"symbol":      req.Signal.TokenSymbol,
		"side":        sideWord(req.Signal.Side),
		"quantity":    quantity,
		"leverage":    req.Signal.Leverage,
		"type":        "MARKET",
	}, &resp)
	if err != nil {
		return &model.ExecutionOutcome{Err: failureText(err)}, nil
	}
	if !resp.Success {
		return &model.ExecutionOutcome{Err: resp.Error}, nil
	}

	out := &model.ExecutionOutcome{
		Success:         true,
		Qty:             quantity,
		Collateral:      req.Collateral,
		TradeID:         strconv.FormatInt(resp.OrderID, 10),
		VenueTradeIndex: resp.OrderID,
	}
	out.EntryPrice, _ = strconv.ParseFloat(resp.AvgPrice, 64)
	if out.EntryPrice == 0 {
		out.EntryPrice = price.Price
	}
	if q, perr := strconv.ParseFloat(resp.ExecutedQty, 64); perr == nil && q > 0 {
		out.Qty = q
	}
	return out, nil
}

// sideWord maps the signal side onto the long/short vocabulary the DEX
// sidecars speak.
func sideWord(s model.Side) string {
	if s == model.SideBuy {
		return "long"
	}
	return "short"
}

var _ port.VenueAdapter = (*Aster)(nil)
