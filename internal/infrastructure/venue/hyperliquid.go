package venue

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"sigex/internal/application/port"
	"sigex/internal/domain/model"
)

// Hyperliquid opens perpetual positions through the Hyperliquid sidecar.
// Orders are sized in the base asset, so the adapter fetches the mid price
// first and converts the collateral into coin size.
type Hyperliquid struct {
	c *client
}

func NewHyperliquid(baseURL string, timeout time.Duration) *Hyperliquid {
	return &Hyperliquid{c: newClient("hyperliquid", baseURL, timeout)}
}

func (h *Hyperliquid) Name() string { return "hyperliquid" }

func (h *Hyperliquid) AvailableBalance(ctx context.Context, wallet string) (float64, error) {
	var resp struct {
		Success      bool    `json:"success"`
		Withdrawable float64 `json:"withdrawable"`
		AccountValue float64 `json:"accountValue"`
		Error        string  `json:"error"`
	}
	err := h.c.post(ctx, "/balance", map[string]string{"address": wallet}, &resp)
	if err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, fmt.Errorf("venue hyperliquid: %s", resp.Error)
	}
	return resp.Withdrawable, nil
}

func (h *Hyperliquid) Execute(ctx context.Context, req *port.VenueRequest) (*model.ExecutionOutcome, error) {
	var market struct {
		Success    bool    `json:"success"`
		Price      float64 `json:"price"`
		SzDecimals int     `json:"szDecimals"`
		Error      string  `json:"error"`
	}
	err := h.c.post(ctx, "/market-info", map[string]string{"coin": req.Signal.TokenSymbol}, &market)
	if err != nil {
		return &model.ExecutionOutcome{Err: failureText(err)}, nil
	}
	if !market.Success || market.Price <= 0 {
		return &model.ExecutionOutcome{Err: fmt.Sprintf("no price for %s: %s", req.Signal.TokenSymbol, market.Error)}, nil
	}

	size := roundToDecimals(req.Collateral*float64(req.Signal.Leverage)/market.Price, market.SzDecimals)
	if size <= 0 {
		return &model.ExecutionOutcome{Err: fmt.Sprintf(
			"order size rounds to zero: collateral %.2f at price %.4f", req.Collateral, market.Price)}, nil
	}

	slippage := req.Risk.SlippagePct / 100
	if slippage <= 0 {
		slippage = 0.01
	}

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Result  struct {
			Response struct {
				Data struct {
					Statuses []struct {
						Error  string `json:"error"`
						Filled *struct {
							AvgPx   string `json:"avgPx"`
							TotalSz string `json:"totalSz"`
							Oid     int64  `json:"oid"`
						} `json:"filled"`
					} `json:"statuses"`
				} `json:"data"`
			} `json:"response"`
		} `json:"result"`
	}
	err = h.c.post(ctx, "/open-position", map[string]any{
		"coin":         req.Signal.TokenSymbol,
		"isBuy":        req.Signal.Side == model.SideBuy,
		"size":         size,
		"slippage":     slippage,
		"vaultAddress": req.Deployment.UserWallet,
	}, &resp)
	if err != nil {
		return &model.ExecutionOutcome{Err: failureText(err)}, nil
	}
	if !resp.Success {
		return &model.ExecutionOutcome{Err: resp.Error}, nil
	}

	out := &model.ExecutionOutcome{Success: true, Qty: size, Collateral: req.Collateral}
	for _, st := range resp.Result.Response.Data.Statuses {
		if st.Error != "" {
			return &model.ExecutionOutcome{Err: st.Error}, nil
		}
		if st.Filled == nil {
			continue
		}
		out.EntryPrice, _ = strconv.ParseFloat(st.Filled.AvgPx, 64)
		if sz, perr := strconv.ParseFloat(st.Filled.TotalSz, 64); perr == nil && sz > 0 {
			out.Qty = sz
		}
		out.TradeID = strconv.FormatInt(st.Filled.Oid, 10)
		out.VenueTradeIndex = st.Filled.Oid
		break
	}
	if out.EntryPrice == 0 {
		out.EntryPrice = market.Price
	}
	return out, nil
}

func roundToDecimals(v float64, decimals int) float64 {
	pow := math.Pow10(decimals)
	return math.Round(v*pow) / pow
}

var _ port.VenueAdapter = (*Hyperliquid)(nil)
