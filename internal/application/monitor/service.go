// Package monitor implements the portfolio and market monitoring tasks. The
// portfolio task snapshots each account, diffs against the previous snapshot
// and dispatches portfolio_change notifications under a threshold-plus-
// hysteresis rule; the market task watches per-position price moves and risk
// limits. What counts as analytically significant beyond these rules belongs
// to external analysis — this package owns only diff-and-dispatch.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-broker-agent/internal/application/notification"
	"github.com/go-broker-agent/internal/domain"
	"github.com/go-broker-agent/internal/infrastructure/broker"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Alert kinds used in notification payloads.
const (
	alertTotalChange    = "total_change"
	alertPositionChange = "position_change"
	alertNewPosition    = "new_position"
	alertClosedPosition = "closed_position"
	alertConcentration  = "concentration"
	alertLoss           = "loss"
)

// Risk limits recovered from the analysis rules: position weight above 20%
// of the portfolio, or a position down more than 10%.
const (
	concentrationLimitPct = 20.0
	lossLimitPct          = -10.0
)

// Connections is the slice of the connection service the monitor uses.
type Connections interface {
	ListActive(ctx context.Context) ([]domain.Connection, error)
	DecryptSecret(requestorOwner string, c *domain.Connection) (string, error)
}

// SnapshotStore persists and prunes portfolio snapshots.
type SnapshotStore interface {
	Put(ctx context.Context, s *domain.PortfolioSnapshot) error
	Latest(ctx context.Context, owner, accountRef string) (*domain.PortfolioSnapshot, error)
	ListOlderThan(ctx context.Context, owner, accountRef string, cutoff time.Time) ([]domain.PortfolioSnapshot, error)
	Delete(ctx context.Context, owner, accountRef string, ts time.Time) error
}

// Archiver receives pruned snapshots before they leave the hot table.
type Archiver interface {
	ArchiveSnapshots(ctx context.Context, owner, accountRef string, snapshots []domain.PortfolioSnapshot) (string, error)
}

// Notifier appends monitor notifications.
type Notifier interface {
	Append(ctx context.Context, in notification.AppendInput) (*domain.Notification, error)
}

// Config tunes one monitor instance.
type Config struct {
	ChangeThresholdPct float64       // alert threshold, percent
	SnapshotRetention  time.Duration // prune snapshots older than this
}

// Service runs the portfolio and market monitoring passes.
type Service struct {
	conns    Connections
	snaps    SnapshotStore
	notifier Notifier
	broker   broker.Client
	archiver Archiver // may be nil
	limiter  *rate.Limiter
	cfg      Config

	// lastAlerted tracks the hysteresis reference value per owner#account:
	// the total value of the snapshot that last produced an alert.
	mu          sync.Mutex
	lastAlerted map[string]float64

	now func() time.Time
}

func New(conns Connections, snaps SnapshotStore, notifier Notifier, brokerClient broker.Client, archiver Archiver, limiter *rate.Limiter, cfg Config) *Service {
	if cfg.ChangeThresholdPct <= 0 {
		cfg.ChangeThresholdPct = 5.0
	}
	return &Service{
		conns:       conns,
		snaps:       snaps,
		notifier:    notifier,
		broker:      brokerClient,
		archiver:    archiver,
		limiter:     limiter,
		cfg:         cfg,
		lastAlerted: make(map[string]float64),
		now:         time.Now,
	}
}

// RunPortfolioOnce executes one portfolio monitoring pass over every active
// connection. Per-connection failures are logged and isolated.
func (s *Service) RunPortfolioOnce(ctx context.Context) error {
	conns, err := s.conns.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active connections: %w", err)
	}
	for i := range conns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.monitorConnection(ctx, &conns[i]); err != nil {
			log.Printf("portfolio monitor for connection %s: %v", conns[i].ConnectionID, err)
		}
	}
	return nil
}

// RunMarketOnce executes one market pass: per-position price moves and risk
// limit checks against a fresh portfolio read.
func (s *Service) RunMarketOnce(ctx context.Context) error {
	conns, err := s.conns.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active connections: %w", err)
	}
	for i := range conns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.marketCheckConnection(ctx, &conns[i]); err != nil {
			log.Printf("market monitor for connection %s: %v", conns[i].ConnectionID, err)
		}
	}
	return nil
}

func (s *Service) monitorConnection(ctx context.Context, c *domain.Connection) error {
	secret, err := s.conns.DecryptSecret(c.Owner, c)
	if err != nil {
		return fmt.Errorf("decrypt secret: %w", err)
	}
	accounts, err := s.fetchAccounts(ctx, secret)
	if err != nil {
		return err
	}
	for _, acct := range accounts {
		if err := s.monitorAccount(ctx, c.Owner, secret, acct.Ref); err != nil {
			log.Printf("portfolio monitor for %s/%s: %v", c.Owner, acct.Ref, err)
		}
	}
	return nil
}

func (s *Service) monitorAccount(ctx context.Context, owner, secret, accountRef string) error {
	current, err := s.fetchSnapshot(ctx, owner, secret, accountRef)
	if err != nil {
		return err
	}

	previous, err := s.snaps.Latest(ctx, owner, accountRef)
	if err != nil {
		// Only a missing row means "first snapshot". A transient store error
		// must abort the pass before the write, or the next tick would diff
		// against the snapshot written here and the move would go unreported.
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load previous snapshot: %w", err)
		}
		previous = nil
	}

	// The snapshot write happens before the notification append; its key is
	// the idempotency guard when a retried pass re-runs this sequence.
	if err := s.snaps.Put(ctx, current); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	if previous != nil {
		s.dispatchChanges(ctx, owner, accountRef, previous, current)
	}

	s.pruneSnapshots(ctx, owner, accountRef)
	return nil
}

// dispatchChanges computes the total-value delta, applies the hysteresis
// rule, and appends a portfolio_change notification when the move clears the
// threshold. Per-position deltas ride along inside the same payload.
func (s *Service) dispatchChanges(ctx context.Context, owner, accountRef string, previous, current *domain.PortfolioSnapshot) {
	pct := pctChange(previous.TotalValue, current.TotalValue)
	if abs(pct) < s.cfg.ChangeThresholdPct {
		return
	}
	if !s.clearsHysteresis(owner, accountRef, current.TotalValue) {
		return
	}

	alerts := []domain.Alert{{Kind: alertTotalChange, ChangePercent: pct}}
	alerts = append(alerts, positionAlerts(previous, current, s.cfg.ChangeThresholdPct)...)

	priority := domain.PriorityNormal
	if abs(pct) >= 2*s.cfg.ChangeThresholdPct {
		priority = domain.PriorityHigh
	}
	_, err := s.notifier.Append(ctx, notification.AppendInput{
		Owner:    owner,
		Type:     domain.NotificationPortfolioChange,
		Priority: priority,
		Title:    "Portfolio Value Change",
		Message:  fmt.Sprintf("Your portfolio value has changed by %.1f%%", pct),
		Payload: &domain.NotificationPayload{
			Alerts:      alerts,
			SnapshotRef: current.SnapshotID,
		},
	})
	if err != nil {
		log.Printf("append portfolio_change for %s/%s: %v", owner, accountRef, err)
		return
	}
	s.setLastAlerted(owner, accountRef, current.TotalValue)
}

// clearsHysteresis reports whether the current value has moved far enough
// from the last-alerted value to justify a fresh alert. Oscillation around
// the threshold relative to the previous snapshot alone never re-alerts.
func (s *Service) clearsHysteresis(owner, accountRef string, currentValue float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.lastAlerted[owner+"#"+accountRef]
	if !ok || ref == 0 {
		return true
	}
	return abs(pctChange(ref, currentValue)) >= s.cfg.ChangeThresholdPct
}

func (s *Service) setLastAlerted(owner, accountRef string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAlerted[owner+"#"+accountRef] = value
}

func (s *Service) marketCheckConnection(ctx context.Context, c *domain.Connection) error {
	secret, err := s.conns.DecryptSecret(c.Owner, c)
	if err != nil {
		return fmt.Errorf("decrypt secret: %w", err)
	}
	accounts, err := s.fetchAccounts(ctx, secret)
	if err != nil {
		return err
	}
	for _, acct := range accounts {
		current, err := s.fetchSnapshot(ctx, c.Owner, secret, acct.Ref)
		if err != nil {
			log.Printf("market monitor fetch for %s/%s: %v", c.Owner, acct.Ref, err)
			continue
		}
		previous, err := s.snaps.Latest(ctx, c.Owner, acct.Ref)
		if err == nil {
			s.dispatchPriceTargets(ctx, c.Owner, previous, current)
		}
		s.dispatchRiskAlerts(ctx, c.Owner, current)
	}
	return nil
}

// dispatchPriceTargets emits one price_target notification per position
// whose price moved past the threshold since the stored snapshot.
func (s *Service) dispatchPriceTargets(ctx context.Context, owner string, previous, current *domain.PortfolioSnapshot) {
	prevByTicker := make(map[string]domain.Position, len(previous.Positions))
	for _, p := range previous.Positions {
		prevByTicker[p.Ticker] = p
	}
	for _, pos := range current.Positions {
		prev, ok := prevByTicker[pos.Ticker]
		if !ok || prev.Price == 0 {
			continue
		}
		pct := pctChange(prev.Price, pos.Price)
		if abs(pct) < s.cfg.ChangeThresholdPct {
			continue
		}
		_, err := s.notifier.Append(ctx, notification.AppendInput{
			Owner:    owner,
			Type:     domain.NotificationPriceTarget,
			Priority: domain.PriorityNormal,
			Title:    "Position Price Change",
			Message:  fmt.Sprintf("Position %s price changed by %.1f%%", pos.Ticker, pct),
			Payload: &domain.NotificationPayload{
				Alerts:      []domain.Alert{{Kind: alertPositionChange, Ticker: pos.Ticker, ChangePercent: pct}},
				SnapshotRef: current.SnapshotID,
			},
		})
		if err != nil {
			log.Printf("append price_target for %s/%s: %v", owner, pos.Ticker, err)
		}
	}
}

// dispatchRiskAlerts checks concentration and loss limits on the current
// snapshot.
func (s *Service) dispatchRiskAlerts(ctx context.Context, owner string, snapshot *domain.PortfolioSnapshot) {
	if snapshot.TotalValue == 0 {
		return
	}
	for _, pos := range snapshot.Positions {
		weight := pos.Quantity * pos.Price / snapshot.TotalValue * 100

		if weight > concentrationLimitPct {
			s.appendRiskAlert(ctx, owner, snapshot,
				domain.Alert{Kind: alertConcentration, Ticker: pos.Ticker, Weight: weight},
				"Position Concentration Risk",
				fmt.Sprintf("Position %s weight (%.1f%%) exceeds %.0f%% of portfolio", pos.Ticker, weight, concentrationLimitPct))
		}
		if pos.ExpectedYield < lossLimitPct {
			s.appendRiskAlert(ctx, owner, snapshot,
				domain.Alert{Kind: alertLoss, Ticker: pos.Ticker, ChangePercent: pos.ExpectedYield},
				"Position Loss Alert",
				fmt.Sprintf("Position %s is down %.1f%%", pos.Ticker, abs(pos.ExpectedYield)))
		}
	}
}

func (s *Service) appendRiskAlert(ctx context.Context, owner string, snapshot *domain.PortfolioSnapshot, alert domain.Alert, title, message string) {
	_, err := s.notifier.Append(ctx, notification.AppendInput{
		Owner:    owner,
		Type:     domain.NotificationRiskAlert,
		Priority: domain.PriorityHigh,
		Title:    title,
		Message:  message,
		Payload: &domain.NotificationPayload{
			Alerts:      []domain.Alert{alert},
			SnapshotRef: snapshot.SnapshotID,
		},
	})
	if err != nil {
		log.Printf("append risk_alert for %s: %v", owner, err)
	}
}

// pruneSnapshots archives and deletes snapshots past the retention window.
func (s *Service) pruneSnapshots(ctx context.Context, owner, accountRef string) {
	if s.cfg.SnapshotRetention <= 0 {
		return
	}
	cutoff := s.now().UTC().Add(-s.cfg.SnapshotRetention)
	old, err := s.snaps.ListOlderThan(ctx, owner, accountRef, cutoff)
	if err != nil || len(old) == 0 {
		return
	}
	if s.archiver != nil {
		if _, err := s.archiver.ArchiveSnapshots(ctx, owner, accountRef, old); err != nil {
			// Keep the rows until a later pass manages to archive them.
			log.Printf("archive snapshots for %s/%s: %v", owner, accountRef, err)
			return
		}
	}
	for _, snap := range old {
		if err := s.snaps.Delete(ctx, owner, accountRef, snap.Timestamp); err != nil {
			log.Printf("delete snapshot %s: %v", snap.SnapshotID, err)
		}
	}
}

func (s *Service) fetchAccounts(ctx context.Context, secret string) ([]broker.Account, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return s.broker.ListAccounts(ctx, secret)
}

func (s *Service) fetchSnapshot(ctx context.Context, owner, secret, accountRef string) (*domain.PortfolioSnapshot, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	snapshot, err := s.broker.FetchPortfolio(ctx, secret, accountRef)
	if err != nil {
		return nil, err
	}
	snapshot.Owner = owner
	return snapshot, nil
}

// positionAlerts diffs the position lists of two snapshots. Quantity moves
// and price moves past the threshold produce entries; appearing and
// disappearing positions always do.
func positionAlerts(previous, current *domain.PortfolioSnapshot, thresholdPct float64) []domain.Alert {
	var alerts []domain.Alert
	prevByTicker := make(map[string]domain.Position, len(previous.Positions))
	for _, p := range previous.Positions {
		prevByTicker[p.Ticker] = p
	}

	seen := make(map[string]bool, len(current.Positions))
	for _, pos := range current.Positions {
		seen[pos.Ticker] = true
		prev, ok := prevByTicker[pos.Ticker]
		if !ok {
			alerts = append(alerts, domain.Alert{Kind: alertNewPosition, Ticker: pos.Ticker, QuantityChange: pos.Quantity})
			continue
		}
		qtyChange := pos.Quantity - prev.Quantity
		pricePct := 0.0
		if prev.Price != 0 {
			pricePct = pctChange(prev.Price, pos.Price)
		}
		if qtyChange != 0 || abs(pricePct) >= thresholdPct {
			alerts = append(alerts, domain.Alert{
				Kind:           alertPositionChange,
				Ticker:         pos.Ticker,
				QuantityChange: qtyChange,
				ChangePercent:  pricePct,
			})
		}
	}
	for _, prev := range previous.Positions {
		if !seen[prev.Ticker] {
			alerts = append(alerts, domain.Alert{
				Kind:           alertClosedPosition,
				Ticker:         prev.Ticker,
				QuantityChange: -prev.Quantity,
				ChangePercent:  -100,
			})
		}
	}
	return alerts
}

// pctChange computes (current-previous)/previous*100 with decimal math so
// large valuations don't lose precision on the way to the threshold compare.
func pctChange(previous, current float64) float64 {
	if previous == 0 {
		return 0
	}
	prev := decimal.NewFromFloat(previous)
	cur := decimal.NewFromFloat(current)
	pct, _ := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
