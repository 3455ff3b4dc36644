package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"sigex/internal/application/port"
	"sigex/internal/domain/model"
	domainsvc "sigex/internal/domain/service"
	"sigex/internal/infrastructure/metrics"
)

// ExecutorService drives one claimed signal through its venue and persists
// the outcome. Side effects per signal are confined to that signal's row and
// at most one position row; signals in a batch never share a transaction.
type ExecutorService struct {
	repo         port.Repository
	venues       port.VenueResolver
	sink         port.EventSink
	policy       domainsvc.RetryPolicy
	venueTimeout time.Duration
	now          func() time.Time
}

func NewExecutorService(repo port.Repository, venues port.VenueResolver, sink port.EventSink, policy domainsvc.RetryPolicy, venueTimeout time.Duration) *ExecutorService {
	if venueTimeout <= 0 {
		venueTimeout = 30 * time.Second
	}
	return &ExecutorService{
		repo:         repo,
		venues:       venues,
		sink:         sink,
		policy:       policy,
		venueTimeout: venueTimeout,
		now:          time.Now,
	}
}

// ExecuteBatch processes signals oldest-first. One signal's failure is
// recorded on that signal only and never aborts the rest of the batch.
func (s *ExecutorService) ExecuteBatch(ctx context.Context, batch []*model.Signal) {
	for _, sig := range batch {
		if ctx.Err() != nil {
			return
		}
		s.ExecuteOne(ctx, sig)
	}
}

// ExecuteOne runs the full coordinator path for a single signal.
func (s *ExecutorService) ExecuteOne(ctx context.Context, sig *model.Signal) {
	if err := sig.Validate(); err != nil {
		// malformed signals are terminal immediately, never retried
		log.Warn().Str("signal", sig.ID).Err(err).Msg("signal failed validation")
		s.failPermanently(ctx, sig, err.Error())
		return
	}

	dep, err := s.repo.GetDeployment(ctx, sig.DeploymentID)
	if err != nil {
		log.Error().Str("signal", sig.ID).Str("deployment", sig.DeploymentID).Err(err).
			Msg("deployment lookup failed, leaving signal for next cycle")
		return
	}
	if dep.Status != model.DeploymentActive {
		s.failPermanently(ctx, sig, fmt.Sprintf("deployment %s is %s, not ACTIVE", dep.ID, dep.Status))
		return
	}

	adapter, ok := s.venues.Adapter(sig.Venue)
	if !ok {
		s.failPermanently(ctx, sig, fmt.Sprintf("unknown venue %q", sig.Venue))
		return
	}

	risk, _ := sig.Risk() // validated above

	vctx, cancel := context.WithTimeout(ctx, s.venueTimeout)
	defer cancel()

	balance, err := adapter.AvailableBalance(vctx, dep.UserWallet)
	if err != nil {
		s.recordFailure(ctx, sig, venueErrText(err))
		return
	}

	collateral := sizeCollateral(balance, sig.FundAllocationPct)
	if collateral <= 0 {
		s.recordFailure(ctx, sig, fmt.Sprintf("insufficient venue balance: %.2f available", balance))
		return
	}

	outcome, err := adapter.Execute(vctx, &port.VenueRequest{
		Signal:     sig,
		Deployment: dep,
		Collateral: collateral,
		Risk:       risk,
	})
	if err != nil {
		s.recordFailure(ctx, sig, venueErrText(err))
		return
	}
	if !outcome.Success {
		s.recordFailure(ctx, sig, outcome.Err)
		return
	}

	s.recordSuccess(ctx, sig, dep, outcome)
}

// sizeCollateral computes the quote-currency margin for the order:
// balance × allocation%. decimal keeps the cents exact before the venue
// rounds to its own precision.
func sizeCollateral(balance, allocationPct float64) float64 {
	c := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(allocationPct)).
		Div(decimal.NewFromInt(100)).
		Round(2)
	f, _ := c.Float64()
	return f
}

func (s *ExecutorService) recordSuccess(ctx context.Context, sig *model.Signal, dep *model.Deployment, outcome *model.ExecutionOutcome) {
	pos := &model.Position{
		ID:              uuid.NewString(),
		DeploymentID:    sig.DeploymentID,
		SignalID:        sig.ID,
		Venue:           sig.Venue,
		TokenSymbol:     sig.TokenSymbol,
		Side:            sig.Side,
		Qty:             outcome.Qty,
		EntryPrice:      outcome.EntryPrice,
		TxHash:          outcome.TxHash,
		VenueTradeIndex: outcome.VenueTradeIndex,
		Status:          model.PositionOpen,
		OpenTime:        s.now().UnixMilli(),
	}

	inserted, err := s.repo.InsertPositionIfAbsent(ctx, pos)
	if err != nil {
		// venue order went through but we could not record it; bounded retry,
		// the unique index keeps a re-execution from producing a second row
		s.recordFailure(ctx, sig, "backend unavailable: "+err.Error())
		return
	}
	if !inserted {
		// a concurrent worker already recorded this execution; benign
		log.Info().Str("signal", sig.ID).Str("deployment", sig.DeploymentID).
			Msg("position already exists, treating as executed")
		metrics.ExecutionsTotal.WithLabelValues(sig.Venue, "duplicate").Inc()
	} else {
		metrics.ExecutionsTotal.WithLabelValues(sig.Venue, "success").Inc()
	}

	result := fmt.Sprintf("Trade executed: tx=%s entry=%.4f collateral=%.2f (venue trade #%d)",
		outcome.TxHash, outcome.EntryPrice, outcome.Collateral, outcome.VenueTradeIndex)
	if err := s.repo.UpdateSignalExecution(ctx, sig.ID, model.StatusSuccess, result, sig.RetryCount, ""); err != nil {
		log.Error().Str("signal", sig.ID).Err(err).Msg("failed to mark signal SUCCESS")
		return
	}

	log.Info().Str("signal", sig.ID).Str("venue", sig.Venue).Str("tx", outcome.TxHash).
		Float64("entry", outcome.EntryPrice).Msg("signal executed")
	s.publish(ctx, sig, dep, model.StatusSuccess, result, outcome.TxHash)
}

// recordFailure hands the raw error text to the retry classifier and persists
// whatever it decides. A canceled call is not a venue verdict: the signal is
// left untouched and stays claimable, like the deployment-lookup error path.
func (s *ExecutorService) recordFailure(ctx context.Context, sig *model.Signal, errText string) {
	if canceledText(errText) {
		log.Warn().Str("signal", sig.ID).Str("error", errText).
			Msg("execution interrupted, leaving signal for next cycle")
		return
	}
	decision := domainsvc.Classify(sig, errText, s.now(), s.policy)

	err := s.repo.UpdateSignalExecution(ctx, sig.ID, decision.Status, decision.Result, decision.RetryCount, decision.LastError)
	if err != nil {
		log.Error().Str("signal", sig.ID).Err(err).Msg("failed to persist classifier decision")
		return
	}

	if decision.Status == model.StatusRetryPending {
		metrics.ExecutionsTotal.WithLabelValues(sig.Venue, "retry").Inc()
		log.Warn().Str("signal", sig.ID).Int("attempt", decision.RetryCount).
			Str("error", errText).Msg("transient failure, will retry")
		return
	}

	metrics.ExecutionsTotal.WithLabelValues(sig.Venue, "failed").Inc()
	log.Error().Str("signal", sig.ID).Str("reason", decision.Result).Msg("signal failed terminally")
	s.publish(ctx, sig, nil, model.StatusFailed, decision.Result, "")
}

// failPermanently skips the classifier: validation and business rejections
// are terminal on first occurrence.
func (s *ExecutorService) failPermanently(ctx context.Context, sig *model.Signal, reason string) {
	err := s.repo.UpdateSignalExecution(ctx, sig.ID, model.StatusFailed, reason, sig.RetryCount, reason)
	if err != nil {
		log.Error().Str("signal", sig.ID).Err(err).Msg("failed to mark signal FAILED")
		return
	}
	metrics.ExecutionsTotal.WithLabelValues(sig.Venue, "failed").Inc()
	s.publish(ctx, sig, nil, model.StatusFailed, reason, "")
}

func (s *ExecutorService) publish(ctx context.Context, sig *model.Signal, dep *model.Deployment, status model.ExecutionStatus, result, txHash string) {
	ev := port.ExecutionEvent{
		SignalID:     sig.ID,
		DeploymentID: sig.DeploymentID,
		Venue:        sig.Venue,
		TokenSymbol:  sig.TokenSymbol,
		Side:         sig.Side,
		Status:       status,
		Result:       result,
		TxHash:       txHash,
		Timestamp:    s.now().UnixMilli(),
	}
	if err := s.sink.PublishExecution(ctx, ev); err != nil {
		log.Warn().Str("signal", sig.ID).Err(err).Msg("execution event publish failed")
	}
}

// venueErrText normalizes transport errors into classifiable text. A venue
// call that hits its deadline surfaces as a timeout, i.e. transient.
func venueErrText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "venue request timed out"
	}
	return err.Error()
}

// canceledText matches a canceled context however it surfaces: as the
// sentinel's own text or wrapped inside a transport error string.
func canceledText(errText string) bool {
	return strings.Contains(strings.ToLower(errText), context.Canceled.Error())
}
