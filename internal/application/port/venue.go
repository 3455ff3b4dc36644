package port

import (
	"context"

	"sigex/internal/domain/model"
)

// VenueAdapter places one order on a single external trading venue.
type VenueAdapter interface {
	Name() string
	// AvailableBalance returns the wallet's free collateral on the venue.
	AvailableBalance(ctx context.Context, wallet string) (float64, error)
	// Execute opens the position the signal describes. Transport and venue
	// errors come back inside the outcome (Err text) so the coordinator can
	// classify them; a non-nil error is reserved for programmer mistakes.
	Execute(ctx context.Context, req *VenueRequest) (*model.ExecutionOutcome, error)
}

// VenueRequest carries everything an adapter needs to place one order.
type VenueRequest struct {
	Signal     *model.Signal
	Deployment *model.Deployment
	Collateral float64 // quote-currency margin already sized by the coordinator
	Risk       model.RiskParams
}

// VenueResolver maps a signal's venue name onto a configured adapter.
type VenueResolver interface {
	Adapter(venue string) (VenueAdapter, bool)
}
