package service

import (
	"context"

	"sigex/internal/application/port"
	"sigex/internal/domain/model"
)

// PositionService is the read-only reporting view over executed positions.
// Position rows are written exclusively by the executor; this service never
// mutates them.
type PositionService struct {
	repo port.Repository
}

func NewPositionService(repo port.Repository) *PositionService {
	return &PositionService{repo: repo}
}

func (s *PositionService) ListByDeployment(ctx context.Context, deploymentID string) ([]*model.Position, error) {
	return s.repo.ListPositionsByDeployment(ctx, deploymentID)
}

func (s *PositionService) GetBySignal(ctx context.Context, deploymentID, signalID string) (*model.Position, error) {
	return s.repo.GetPositionBySignal(ctx, deploymentID, signalID)
}
