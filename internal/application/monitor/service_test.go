package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-broker-agent/internal/application/notification"
	"github.com/go-broker-agent/internal/domain"
	"github.com/go-broker-agent/internal/infrastructure/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// --- mocks ---

type mockConns struct{ mock.Mock }

func (m *mockConns) ListActive(ctx context.Context) ([]domain.Connection, error) {
	args := m.Called(ctx)
	if c, _ := args.Get(0).([]domain.Connection); c != nil {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockConns) DecryptSecret(requestorOwner string, c *domain.Connection) (string, error) {
	args := m.Called(requestorOwner, c)
	return args.String(0), args.Error(1)
}

type mockSnaps struct{ mock.Mock }

func (m *mockSnaps) Put(ctx context.Context, s *domain.PortfolioSnapshot) error {
	return m.Called(ctx, s).Error(0)
}
func (m *mockSnaps) Latest(ctx context.Context, owner, accountRef string) (*domain.PortfolioSnapshot, error) {
	args := m.Called(ctx, owner, accountRef)
	if s, _ := args.Get(0).(*domain.PortfolioSnapshot); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSnaps) ListOlderThan(ctx context.Context, owner, accountRef string, cutoff time.Time) ([]domain.PortfolioSnapshot, error) {
	args := m.Called(ctx, owner, accountRef, cutoff)
	if s, _ := args.Get(0).([]domain.PortfolioSnapshot); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSnaps) Delete(ctx context.Context, owner, accountRef string, ts time.Time) error {
	return m.Called(ctx, owner, accountRef, ts).Error(0)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Append(ctx context.Context, in notification.AppendInput) (*domain.Notification, error) {
	args := m.Called(ctx, in)
	if n, _ := args.Get(0).(*domain.Notification); n != nil {
		return n, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockBroker struct{ mock.Mock }

func (m *mockBroker) Validate(ctx context.Context, secret string) error {
	return m.Called(ctx, secret).Error(0)
}
func (m *mockBroker) ListAccounts(ctx context.Context, secret string) ([]broker.Account, error) {
	args := m.Called(ctx, secret)
	if a, _ := args.Get(0).([]broker.Account); a != nil {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockBroker) FetchPortfolio(ctx context.Context, secret, accountRef string) (*domain.PortfolioSnapshot, error) {
	args := m.Called(ctx, secret, accountRef)
	if s, _ := args.Get(0).(*domain.PortfolioSnapshot); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockArchiver struct{ mock.Mock }

func (m *mockArchiver) ArchiveSnapshots(ctx context.Context, owner, accountRef string, snapshots []domain.PortfolioSnapshot) (string, error) {
	args := m.Called(ctx, owner, accountRef, snapshots)
	return args.String(0), args.Error(1)
}

// --- helpers ---

func newMonitor(cs *mockConns, sn *mockSnaps, nt *mockNotifier, br *mockBroker, ar Archiver) *Service {
	return New(cs, sn, nt, br, ar, rate.NewLimiter(rate.Inf, 1), Config{
		ChangeThresholdPct: 5.0,
		SnapshotRetention:  24 * time.Hour,
	})
}

func activeConn() domain.Connection {
	return domain.Connection{
		ConnectionID: "conn-1",
		Owner:        "alice",
		BrokerType:   "tinkoff",
		Active:       true,
	}
}

func snapshot(id string, total float64, positions ...domain.Position) *domain.PortfolioSnapshot {
	return &domain.PortfolioSnapshot{
		SnapshotID: id,
		Owner:      "alice",
		AccountRef: "acct-1",
		Timestamp:  time.Now().UTC(),
		TotalValue: total,
		Positions:  positions,
	}
}

func stubAccount(cs *mockConns, br *mockBroker) {
	cs.On("ListActive", mock.Anything).Return([]domain.Connection{activeConn()}, nil)
	cs.On("DecryptSecret", "alice", mock.AnythingOfType("*domain.Connection")).Return("secret", nil)
	br.On("ListAccounts", mock.Anything, "secret").Return([]broker.Account{{Ref: "acct-1", Name: "Main"}}, nil)
}

func noPrune(sn *mockSnaps) {
	sn.On("ListOlderThan", mock.Anything, "alice", "acct-1", mock.Anything).Return(nil, nil)
}

// --- portfolio tick ---

func TestPortfolioTick_FirstSnapshotNoAlert(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	stubAccount(cs, br)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-a", 100000), nil)
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(nil, domain.ErrNotFound)
	sn.On("Put", mock.Anything, mock.AnythingOfType("*domain.PortfolioSnapshot")).Return(nil)
	noPrune(sn)

	err := newMonitor(cs, sn, nt, br, nil).RunPortfolioOnce(context.Background())

	require.NoError(t, err)
	sn.AssertCalled(t, "Put", mock.Anything, mock.Anything)
	nt.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

// A transient read failure on the previous snapshot must abort the pass
// before the write; otherwise the next tick would diff against the snapshot
// written here and the move would never be reported.
func TestPortfolioTick_LatestErrorSkipsSnapshotWrite(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	stubAccount(cs, br)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-b", 106000), nil)
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(nil, errors.New("throttled"))

	err := newMonitor(cs, sn, nt, br, nil).RunPortfolioOnce(context.Background())

	require.NoError(t, err)
	sn.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	nt.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestPortfolioTick_ChangePastThresholdAlerts(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	stubAccount(cs, br)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-b", 106000), nil)
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(snapshot("snap-a", 100000), nil)
	sn.On("Put", mock.Anything, mock.Anything).Return(nil)
	noPrune(sn)
	nt.On("Append", mock.Anything, mock.Anything).Return(&domain.Notification{}, nil)

	err := newMonitor(cs, sn, nt, br, nil).RunPortfolioOnce(context.Background())

	require.NoError(t, err)
	nt.AssertNumberOfCalls(t, "Append", 1)
	in := nt.Calls[0].Arguments.Get(1).(notification.AppendInput)
	assert.Equal(t, domain.NotificationPortfolioChange, in.Type)
	assert.Equal(t, domain.PriorityNormal, in.Priority)
	require.NotNil(t, in.Payload)
	assert.Equal(t, "snap-b", in.Payload.SnapshotRef)
	require.NotEmpty(t, in.Payload.Alerts)
	assert.Equal(t, "total_change", in.Payload.Alerts[0].Kind)
	assert.InDelta(t, 6.0, in.Payload.Alerts[0].ChangePercent, 0.001)
}

func TestPortfolioTick_ChangeBelowThresholdStaysQuiet(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	stubAccount(cs, br)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-b", 103000), nil)
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(snapshot("snap-a", 100000), nil)
	sn.On("Put", mock.Anything, mock.Anything).Return(nil)
	noPrune(sn)

	err := newMonitor(cs, sn, nt, br, nil).RunPortfolioOnce(context.Background())

	require.NoError(t, err)
	nt.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestPortfolioTick_LargeDropIsHighPriority(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	stubAccount(cs, br)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-b", 88000), nil)
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(snapshot("snap-a", 100000), nil)
	sn.On("Put", mock.Anything, mock.Anything).Return(nil)
	noPrune(sn)
	nt.On("Append", mock.Anything, mock.Anything).Return(&domain.Notification{}, nil)

	err := newMonitor(cs, sn, nt, br, nil).RunPortfolioOnce(context.Background())

	require.NoError(t, err)
	in := nt.Calls[0].Arguments.Get(1).(notification.AppendInput)
	assert.Equal(t, domain.PriorityHigh, in.Priority)
}

// A 6% rise alerts; the pullback to +2% crosses the 5% line relative to the
// alerted value but not relative to the previous snapshot, so it must stay
// quiet.
func TestPortfolioTick_HysteresisSuppressesOscillation(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	stubAccount(cs, br)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-b", 106000), nil).Once()
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-c", 102000), nil).Once()
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(snapshot("snap-a", 100000), nil).Once()
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(snapshot("snap-b", 106000), nil).Once()
	sn.On("Put", mock.Anything, mock.Anything).Return(nil)
	noPrune(sn)
	nt.On("Append", mock.Anything, mock.Anything).Return(&domain.Notification{}, nil)

	svc := newMonitor(cs, sn, nt, br, nil)
	require.NoError(t, svc.RunPortfolioOnce(context.Background()))
	require.NoError(t, svc.RunPortfolioOnce(context.Background()))

	nt.AssertNumberOfCalls(t, "Append", 1)
}

func TestPortfolioTick_ReAlertsOnceMoveExtends(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	stubAccount(cs, br)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-b", 106000), nil).Once()
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-c", 112000), nil).Once()
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(snapshot("snap-a", 100000), nil).Once()
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(snapshot("snap-b", 106000), nil).Once()
	sn.On("Put", mock.Anything, mock.Anything).Return(nil)
	noPrune(sn)
	nt.On("Append", mock.Anything, mock.Anything).Return(&domain.Notification{}, nil)

	svc := newMonitor(cs, sn, nt, br, nil)
	require.NoError(t, svc.RunPortfolioOnce(context.Background()))
	require.NoError(t, svc.RunPortfolioOnce(context.Background()))

	nt.AssertNumberOfCalls(t, "Append", 2)
}

func TestRunPortfolioOnce_FailureIsolatedPerConnection(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	broken := activeConn()
	healthy := domain.Connection{ConnectionID: "conn-2", Owner: "bob", BrokerType: "sber", Active: true}
	cs.On("ListActive", mock.Anything).Return([]domain.Connection{broken, healthy}, nil)
	cs.On("DecryptSecret", "alice", mock.Anything).Return("", errors.New("boom"))
	cs.On("DecryptSecret", "bob", mock.Anything).Return("secret-2", nil)
	br.On("ListAccounts", mock.Anything, "secret-2").Return([]broker.Account{{Ref: "acct-2"}}, nil)
	snap := snapshot("snap-x", 50000)
	snap.Owner = "bob"
	snap.AccountRef = "acct-2"
	br.On("FetchPortfolio", mock.Anything, "secret-2", "acct-2").Return(snap, nil)
	sn.On("Latest", mock.Anything, "bob", "acct-2").Return(nil, domain.ErrNotFound)
	sn.On("Put", mock.Anything, mock.Anything).Return(nil)
	sn.On("ListOlderThan", mock.Anything, "bob", "acct-2", mock.Anything).Return(nil, nil)

	err := newMonitor(cs, sn, nt, br, nil).RunPortfolioOnce(context.Background())

	require.NoError(t, err)
	sn.AssertCalled(t, "Put", mock.Anything, mock.Anything)
}

// --- retention ---

func TestPrune_ArchivesBeforeDeleting(t *testing.T) {
	cs, sn, nt, br, ar := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}, &mockArchiver{}

	stubAccount(cs, br)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-a", 100000), nil)
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(nil, domain.ErrNotFound)
	sn.On("Put", mock.Anything, mock.Anything).Return(nil)

	stale := []domain.PortfolioSnapshot{
		*snapshot("snap-old-1", 90000),
		*snapshot("snap-old-2", 91000),
	}
	sn.On("ListOlderThan", mock.Anything, "alice", "acct-1", mock.Anything).Return(stale, nil)
	ar.On("ArchiveSnapshots", mock.Anything, "alice", "acct-1", stale).Return("s3://archive/key.json", nil)
	sn.On("Delete", mock.Anything, "alice", "acct-1", mock.Anything).Return(nil)

	err := newMonitor(cs, sn, nt, br, ar).RunPortfolioOnce(context.Background())

	require.NoError(t, err)
	sn.AssertNumberOfCalls(t, "Delete", 2)
}

func TestPrune_ArchiveFailureKeepsRows(t *testing.T) {
	cs, sn, nt, br, ar := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}, &mockArchiver{}

	stubAccount(cs, br)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(snapshot("snap-a", 100000), nil)
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(nil, domain.ErrNotFound)
	sn.On("Put", mock.Anything, mock.Anything).Return(nil)

	stale := []domain.PortfolioSnapshot{*snapshot("snap-old-1", 90000)}
	sn.On("ListOlderThan", mock.Anything, "alice", "acct-1", mock.Anything).Return(stale, nil)
	ar.On("ArchiveSnapshots", mock.Anything, "alice", "acct-1", stale).Return("", errors.New("bucket unavailable"))

	err := newMonitor(cs, sn, nt, br, ar).RunPortfolioOnce(context.Background())

	require.NoError(t, err)
	sn.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// --- market tick ---

func TestMarketTick_PriceTargetPerPosition(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	stubAccount(cs, br)
	current := snapshot("snap-b", 100000,
		domain.Position{Ticker: "SBER", Quantity: 100, Price: 330, ExpectedYield: 4.0},
		domain.Position{Ticker: "GAZP", Quantity: 50, Price: 151, ExpectedYield: 1.0},
	)
	previous := snapshot("snap-a", 100000,
		domain.Position{Ticker: "SBER", Quantity: 100, Price: 300, ExpectedYield: 2.0},
		domain.Position{Ticker: "GAZP", Quantity: 50, Price: 150, ExpectedYield: 0.5},
	)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(current, nil)
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(previous, nil)
	nt.On("Append", mock.Anything, mock.Anything).Return(&domain.Notification{}, nil)

	err := newMonitor(cs, sn, nt, br, nil).RunMarketOnce(context.Background())

	require.NoError(t, err)
	// Only SBER moved past 5%; GAZP moved 0.7%. Neither trips a risk limit.
	nt.AssertNumberOfCalls(t, "Append", 1)
	in := nt.Calls[0].Arguments.Get(1).(notification.AppendInput)
	assert.Equal(t, domain.NotificationPriceTarget, in.Type)
	assert.Equal(t, "SBER", in.Payload.Alerts[0].Ticker)
	assert.InDelta(t, 10.0, in.Payload.Alerts[0].ChangePercent, 0.001)
}

func TestMarketTick_ConcentrationRisk(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	stubAccount(cs, br)
	current := snapshot("snap-a", 100000,
		domain.Position{Ticker: "SBER", Quantity: 100, Price: 300, ExpectedYield: 2.0}, // 30% weight
		domain.Position{Ticker: "GAZP", Quantity: 10, Price: 150, ExpectedYield: 1.0},
	)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(current, nil)
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(nil, domain.ErrNotFound)
	nt.On("Append", mock.Anything, mock.Anything).Return(&domain.Notification{}, nil)

	err := newMonitor(cs, sn, nt, br, nil).RunMarketOnce(context.Background())

	require.NoError(t, err)
	nt.AssertNumberOfCalls(t, "Append", 1)
	in := nt.Calls[0].Arguments.Get(1).(notification.AppendInput)
	assert.Equal(t, domain.NotificationRiskAlert, in.Type)
	assert.Equal(t, domain.PriorityHigh, in.Priority)
	assert.Equal(t, "concentration", in.Payload.Alerts[0].Kind)
	assert.InDelta(t, 30.0, in.Payload.Alerts[0].Weight, 0.001)
}

func TestMarketTick_LossRisk(t *testing.T) {
	cs, sn, nt, br := &mockConns{}, &mockSnaps{}, &mockNotifier{}, &mockBroker{}

	stubAccount(cs, br)
	current := snapshot("snap-a", 100000,
		domain.Position{Ticker: "VTBR", Quantity: 1000, Price: 10, ExpectedYield: -15.0},
	)
	br.On("FetchPortfolio", mock.Anything, "secret", "acct-1").Return(current, nil)
	sn.On("Latest", mock.Anything, "alice", "acct-1").Return(nil, domain.ErrNotFound)
	nt.On("Append", mock.Anything, mock.Anything).Return(&domain.Notification{}, nil)

	err := newMonitor(cs, sn, nt, br, nil).RunMarketOnce(context.Background())

	require.NoError(t, err)
	nt.AssertNumberOfCalls(t, "Append", 1)
	in := nt.Calls[0].Arguments.Get(1).(notification.AppendInput)
	assert.Equal(t, domain.NotificationRiskAlert, in.Type)
	assert.Equal(t, "loss", in.Payload.Alerts[0].Kind)
}

// --- diff helpers ---

func TestPositionAlerts(t *testing.T) {
	previous := snapshot("snap-a", 100000,
		domain.Position{Ticker: "SBER", Quantity: 100, Price: 300},
		domain.Position{Ticker: "GAZP", Quantity: 50, Price: 150},
		domain.Position{Ticker: "VTBR", Quantity: 1000, Price: 10},
	)
	current := snapshot("snap-b", 100000,
		domain.Position{Ticker: "SBER", Quantity: 120, Price: 300}, // quantity change
		domain.Position{Ticker: "GAZP", Quantity: 50, Price: 151},  // 0.7%, quiet
		domain.Position{Ticker: "LKOH", Quantity: 5, Price: 7000},  // new
	)

	alerts := positionAlerts(previous, current, 5.0)

	require.Len(t, alerts, 3)
	byTicker := make(map[string]domain.Alert)
	for _, a := range alerts {
		byTicker[a.Ticker] = a
	}
	assert.Equal(t, "position_change", byTicker["SBER"].Kind)
	assert.InDelta(t, 20.0, byTicker["SBER"].QuantityChange, 0.001)
	assert.Equal(t, "new_position", byTicker["LKOH"].Kind)
	assert.Equal(t, "closed_position", byTicker["VTBR"].Kind)
	assert.InDelta(t, -1000.0, byTicker["VTBR"].QuantityChange, 0.001)
}

func TestPctChange(t *testing.T) {
	assert.InDelta(t, 6.0, pctChange(100000, 106000), 1e-9)
	assert.InDelta(t, -12.0, pctChange(100000, 88000), 1e-9)
	assert.Equal(t, 0.0, pctChange(0, 500))
}
