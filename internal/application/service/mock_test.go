package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"sigex/internal/application/port"
	"sigex/internal/domain/model"
)

// MockRepo is an in-memory port.Repository good enough for service tests.
// It mimics the storage guarantees that matter: the position unique pair and
// the conditional quota decrement.
type MockRepo struct {
	mu          sync.Mutex
	signals     map[string]*model.Signal
	deployments map[string]*model.Deployment
	positions   map[string]*model.Position // key deploymentID|signalID
	quotas      map[string]*model.TradeQuota
	mintKeys    map[string]bool

	failPositionInsert bool
	failDeploymentGet  bool
}

func NewMockRepo() *MockRepo {
	return &MockRepo{
		signals:     make(map[string]*model.Signal),
		deployments: make(map[string]*model.Deployment),
		positions:   make(map[string]*model.Position),
		quotas:      make(map[string]*model.TradeQuota),
		mintKeys:    make(map[string]bool),
	}
}

func (m *MockRepo) CreateSignal(ctx context.Context, sig *model.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sig
	m.signals[sig.ID] = &cp
	return nil
}

func (m *MockRepo) GetSignal(ctx context.Context, id string) (*model.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.signals[id]
	if !ok {
		return nil, errors.New("signal not found")
	}
	cp := *sig
	return &cp, nil
}

func (m *MockRepo) ClaimablePendingSignals(ctx context.Context, limit int, retryCutoff time.Time) ([]*model.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Signal
	for _, sig := range m.signals {
		if sig.ExecutionStatus.Terminal() || !sig.ShouldTrade {
			continue
		}
		if sig.ExecutionStatus == model.StatusRetryPending && !sig.CreatedAt.After(retryCutoff) {
			continue
		}
		cp := *sig
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockRepo) ExpireStaleRetries(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, sig := range m.signals {
		if sig.ExecutionStatus == model.StatusRetryPending && !sig.CreatedAt.After(cutoff) {
			sig.ExecutionStatus = model.StatusFailed
			sig.ExecutionResult = reason
			n++
		}
	}
	return n, nil
}

func (m *MockRepo) UpdateSignalExecution(ctx context.Context, id string, status model.ExecutionStatus, result string, retryCount int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sig, ok := m.signals[id]
	if !ok || sig.ExecutionStatus.Terminal() {
		return nil
	}
	sig.ExecutionStatus = status
	sig.ExecutionResult = result
	sig.RetryCount = retryCount
	sig.LastError = lastError
	return nil
}

func (m *MockRepo) CreateDeployment(ctx context.Context, dep *model.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *dep
	m.deployments[dep.ID] = &cp
	return nil
}

func (m *MockRepo) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeploymentGet {
		return nil, errors.New("storage unreachable")
	}
	dep, ok := m.deployments[id]
	if !ok {
		return nil, errors.New("deployment not found")
	}
	cp := *dep
	return &cp, nil
}

func (m *MockRepo) InsertPositionIfAbsent(ctx context.Context, pos *model.Position) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPositionInsert {
		return false, errors.New("database is on fire")
	}
	key := pos.DeploymentID + "|" + pos.SignalID
	if _, ok := m.positions[key]; ok {
		return false, nil
	}
	cp := *pos
	m.positions[key] = &cp
	return true, nil
}

func (m *MockRepo) GetPositionBySignal(ctx context.Context, deploymentID, signalID string) (*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[deploymentID+"|"+signalID]
	if !ok {
		return nil, errors.New("position not found")
	}
	cp := *pos
	return &cp, nil
}

func (m *MockRepo) ListPositionsByDeployment(ctx context.Context, deploymentID string) ([]*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Position
	for _, pos := range m.positions {
		if pos.DeploymentID == deploymentID {
			cp := *pos
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime > out[j].OpenTime })
	return out, nil
}

func (m *MockRepo) ReserveQuota(ctx context.Context, wallet string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[strings.ToLower(wallet)]
	if !ok || q.Remaining <= 0 {
		return false, nil
	}
	q.Remaining--
	q.Used++
	return true, nil
}

func (m *MockRepo) GetQuota(ctx context.Context, wallet string) (*model.TradeQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[strings.ToLower(wallet)]
	if !ok {
		return &model.TradeQuota{UserWallet: strings.ToLower(wallet)}, nil
	}
	cp := *q
	return &cp, nil
}

func (m *MockRepo) MintQuota(ctx context.Context, wallet string, amount int64, idempotencyKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mintKeys[idempotencyKey] {
		return false, nil
	}
	m.mintKeys[idempotencyKey] = true
	w := strings.ToLower(wallet)
	q, ok := m.quotas[w]
	if !ok {
		q = &model.TradeQuota{UserWallet: w}
		m.quotas[w] = q
	}
	q.Total += amount
	q.Remaining += amount
	return true, nil
}

func (m *MockRepo) Ping(ctx context.Context) error { return nil }
func (m *MockRepo) Close() error                   { return nil }

var _ port.Repository = (*MockRepo)(nil)

// MockVenue scripts one adapter response per Execute call.
type MockVenue struct {
	name       string
	balance    float64
	balanceErr error
	outcomes   []*model.ExecutionOutcome
	execErr    error
	calls      int
	lastReq    *port.VenueRequest
}

func (v *MockVenue) Name() string { return v.name }

func (v *MockVenue) AvailableBalance(ctx context.Context, wallet string) (float64, error) {
	if v.balanceErr != nil {
		return 0, v.balanceErr
	}
	return v.balance, nil
}

func (v *MockVenue) Execute(ctx context.Context, req *port.VenueRequest) (*model.ExecutionOutcome, error) {
	v.lastReq = req
	idx := v.calls
	v.calls++
	if v.execErr != nil {
		return nil, v.execErr
	}
	if idx < len(v.outcomes) {
		return v.outcomes[idx], nil
	}
	return v.outcomes[len(v.outcomes)-1], nil
}

type mockResolver map[string]port.VenueAdapter

func (r mockResolver) Adapter(venue string) (port.VenueAdapter, bool) {
	a, ok := r[venue]
	return a, ok
}

// MockSink collects published events.
type MockSink struct {
	mu     sync.Mutex
	events []port.ExecutionEvent
}

func (s *MockSink) PublishExecution(ctx context.Context, ev port.ExecutionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MockSink) Close() error { return nil }

func (s *MockSink) Events() []port.ExecutionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]port.ExecutionEvent(nil), s.events...)
}
