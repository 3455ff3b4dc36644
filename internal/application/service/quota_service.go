package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"sigex/internal/application/port"
	"sigex/internal/domain/model"
	"sigex/internal/infrastructure/metrics"
)

// ErrInvalidMint 铸造参数非法，任何写入之前直接拒绝。
var ErrInvalidMint = errors.New("invalid mint request")

const (
	msgNoQuota       = "No trade quota found"
	msgQuotaExceeded = "Insufficient trade quota"
)

// QuotaReservation is the admission answer for one trade attempt.
type QuotaReservation struct {
	Success   bool   `json:"success"`
	Remaining int64  `json:"remaining"`
	Message   string `json:"message,omitempty"`
}

// QuotaService 额度准入服务。所有正确性都来自存储层的原子条件更新，
// 这里只负责把"零行受影响"翻译成对调用方有意义的答复。
type QuotaService struct {
	repo port.Repository
}

func NewQuotaService(repo port.Repository) *QuotaService {
	return &QuotaService{repo: repo}
}

// Reserve deducts one trade from the wallet's allowance. Success is decided
// by the conditional UPDATE's row count, never by a prior read; the follow-up
// read only picks the right message for a refusal.
func (s *QuotaService) Reserve(ctx context.Context, wallet string) (*QuotaReservation, error) {
	if strings.TrimSpace(wallet) == "" {
		return nil, fmt.Errorf("%w: wallet is empty", ErrInvalidMint)
	}

	reserved, err := s.repo.ReserveQuota(ctx, wallet)
	if err != nil {
		return nil, err
	}

	q, err := s.repo.GetQuota(ctx, wallet)
	if err != nil {
		return nil, err
	}

	if reserved {
		metrics.QuotaReservationsTotal.WithLabelValues("ok").Inc()
		return &QuotaReservation{Success: true, Remaining: q.Remaining}, nil
	}

	if q.Total == 0 {
		metrics.QuotaReservationsTotal.WithLabelValues("missing").Inc()
		return &QuotaReservation{Success: false, Remaining: 0, Message: msgNoQuota}, nil
	}
	metrics.QuotaReservationsTotal.WithLabelValues("exhausted").Inc()
	return &QuotaReservation{Success: false, Remaining: q.Remaining, Message: msgQuotaExceeded}, nil
}

// Mint credits a wallet's allowance. Safe to replay: the idempotency key is
// consumed at most once, so a retried checkout webhook never double-credits.
func (s *QuotaService) Mint(ctx context.Context, wallet string, amount int64, idempotencyKey string) error {
	if strings.TrimSpace(wallet) == "" {
		return fmt.Errorf("%w: wallet is empty", ErrInvalidMint)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidMint, amount)
	}
	if strings.TrimSpace(idempotencyKey) == "" {
		return fmt.Errorf("%w: idempotency key is empty", ErrInvalidMint)
	}

	applied, err := s.repo.MintQuota(ctx, wallet, amount, idempotencyKey)
	if err != nil {
		return err
	}
	if !applied {
		log.Info().Str("wallet", wallet).Str("key", idempotencyKey).Msg("mint replay ignored")
		return nil
	}
	log.Info().Str("wallet", wallet).Int64("amount", amount).Msg("trade quota minted")
	return nil
}

// GetBalance never errors for an unknown wallet; it answers zeros.
func (s *QuotaService) GetBalance(ctx context.Context, wallet string) (*model.TradeQuota, error) {
	return s.repo.GetQuota(ctx, wallet)
}
