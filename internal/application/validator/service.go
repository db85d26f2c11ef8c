// Package validator implements the recurring credential validation task.
// Each run selects the due-set, claims every connection with a conditional
// timestamp bump, and checks the credential against the broker under a
// shared rate limiter with bounded concurrency. One connection's failure
// never aborts the rest of the run.
package validator

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
	"github.com/go-broker-agent/internal/pkg/retry"
	"golang.org/x/time/rate"
)

// Connections is the slice of the connection service the validator uses.
type Connections interface {
	DueForValidation(ctx context.Context, now time.Time, interval time.Duration) ([]domain.Connection, error)
	Get(ctx context.Context, owner, connectionID string) (*domain.Connection, error)
	Claim(ctx context.Context, c *domain.Connection, now time.Time) error
	RecordResult(ctx context.Context, c *domain.Connection, status, errorMessage string) error
	DecryptSecret(requestorOwner string, c *domain.Connection) (string, error)
}

// Notifier appends notifications for terminal validation failures.
type Notifier interface {
	Append(ctx context.Context, in notification.AppendInput) (*domain.Notification, error)
}

// Config tunes one validator instance.
type Config struct {
	Interval    time.Duration // staleness window for the due-set
	Concurrency int           // worker count per run
	CallTimeout time.Duration // per broker call
	Retry       retry.Policy
}

// Service runs scheduled and manually triggered credential validations.
type Service struct {
	conns    Connections
	notifier Notifier
	broker   broker.Client
	limiter  *rate.Limiter
	cfg      Config

	now func() time.Time
}

func New(conns Connections, notifier Notifier, brokerClient broker.Client, limiter *rate.Limiter, cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Service{
		conns:    conns,
		notifier: notifier,
		broker:   brokerClient,
		limiter:  limiter,
		cfg:      cfg,
		now:      time.Now,
	}
}

// RunOnce executes one validation pass over the due-set. It returns an error
// only when the due-set itself cannot be listed; per-connection outcomes are
// recorded on the connections and, for terminal failures, as notifications.
func (s *Service) RunOnce(ctx context.Context) error {
	start := s.now().UTC()
	due, err := s.conns.DueForValidation(ctx, start, s.cfg.Interval)
	if err != nil {
		return fmt.Errorf("list due connections: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	jobs := make(chan domain.Connection)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				s.processOne(ctx, c)
			}
		}()
	}

	for _, c := range due {
		select {
		case jobs <- c:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	log.Printf("validation pass complete: %d due, took %s", len(due), time.Since(start).Round(time.Millisecond))
	return nil
}

// TriggerConnection validates a single connection on demand, owner-checked.
// It runs through the same claim gate as the scheduled pass, so a tick that
// already picked the connection up wins and the manual trigger reports
// domain.ErrConflict.
func (s *Service) TriggerConnection(ctx context.Context, owner, connectionID string) (*domain.Connection, error) {
	c, err := s.conns.Get(ctx, owner, connectionID)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, fmt.Errorf("connection %s is inactive: %w", connectionID, domain.ErrBadRequest)
	}
	if err := s.conns.Claim(ctx, c, s.now().UTC()); err != nil {
		return nil, err
	}
	s.validate(ctx, c)
	return s.conns.Get(ctx, owner, connectionID)
}

// processOne claims and validates one due connection. A lost claim means
// another worker or an overlapping run got there first — not an error.
func (s *Service) processOne(ctx context.Context, c domain.Connection) {
	if err := s.conns.Claim(ctx, &c, s.now().UTC()); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			log.Printf("claim connection %s: %v", c.ConnectionID, err)
		}
		return
	}
	s.validate(ctx, &c)
}

// validate checks the credential with retries and records the terminal
// outcome. Transient failures are absorbed here; nothing escapes except
// through connection metadata and the notification log.
func (s *Service) validate(ctx context.Context, c *domain.Connection) {
	secret, err := s.conns.DecryptSecret(c.Owner, c)
	if err != nil {
		log.Printf("decrypt secret for connection %s: %v", c.ConnectionID, err)
		s.recordFailure(ctx, c, "stored credential could not be decrypted")
		return
	}

	err = s.cfg.Retry.Do(ctx, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
		return s.broker.Validate(callCtx, secret)
	})
	if err != nil {
		s.recordFailure(ctx, c, err.Error())
		return
	}

	if err := s.conns.RecordResult(ctx, c, domain.CheckStatusSuccess, ""); err != nil {
		log.Printf("record validation success for %s: %v", c.ConnectionID, err)
	}
}

// recordFailure stores the failed outcome and emits exactly one high-priority
// token_invalid notification. The connection stays active: deactivation is an
// owner decision, never the scheduler's.
func (s *Service) recordFailure(ctx context.Context, c *domain.Connection, reason string) {
	if err := s.conns.RecordResult(ctx, c, domain.CheckStatusFailure, reason); err != nil {
		log.Printf("record validation failure for %s: %v", c.ConnectionID, err)
	}
	_, err := s.notifier.Append(ctx, notification.AppendInput{
		Owner:    c.Owner,
		Type:     domain.NotificationTokenInvalid,
		Priority: domain.PriorityHigh,
		Title:    "Broker Token Invalid",
		Message: fmt.Sprintf("Your %s token is no longer valid. Please update it to continue receiving portfolio updates.",
			c.BrokerType),
	})
	if err != nil {
		log.Printf("append token_invalid notification for %s: %v", c.ConnectionID, err)
	}
}
