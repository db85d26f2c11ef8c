// Package connection manages the lifecycle of broker connections: create,
// secret rotation, activation state, deletion and due-set selection for the
// validation scheduler. Every operation is owner-checked at this boundary —
// storage-level policy is never relied on.
package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/go-broker-agent/internal/domain"
	"github.com/go-broker-agent/internal/pkg/id"
	"github.com/go-broker-agent/internal/stream"
	"github.com/go-broker-agent/internal/vault"
)

// Store is the minimal persistence interface the service requires.
type Store interface {
	Put(ctx context.Context, c *domain.Connection) error
	Get(ctx context.Context, owner, brokerType string) (*domain.Connection, error)
	GetByID(ctx context.Context, connectionID string) (*domain.Connection, error)
	ListByOwner(ctx context.Context, owner string) ([]domain.Connection, error)
	ListDue(ctx context.Context, cutoff time.Time) ([]domain.Connection, error)
	ListActive(ctx context.Context) ([]domain.Connection, error)
	Claim(ctx context.Context, c *domain.Connection, now time.Time) error
	Update(ctx context.Context, owner, brokerType string, updates map[string]interface{}) error
	Delete(ctx context.Context, owner, brokerType string) error
}

// Publisher receives record-change events for the owner's event channel.
type Publisher interface {
	Publish(owner string, ev stream.Event)
}

type Service interface {
	Create(ctx context.Context, owner string, req domain.CreateConnectionRequest) (*domain.Connection, error)
	Get(ctx context.Context, owner, connectionID string) (*domain.Connection, error)
	List(ctx context.Context, owner string) ([]domain.Connection, error)
	UpdateSecret(ctx context.Context, owner, connectionID, secret string) (*domain.Connection, error)
	ToggleActive(ctx context.Context, owner, connectionID string, active bool) (*domain.Connection, error)
	Delete(ctx context.Context, owner, connectionID string) error

	// Scheduler-facing operations.
	DueForValidation(ctx context.Context, now time.Time, interval time.Duration) ([]domain.Connection, error)
	ListActive(ctx context.Context) ([]domain.Connection, error)
	Claim(ctx context.Context, c *domain.Connection, now time.Time) error
	RecordResult(ctx context.Context, c *domain.Connection, status, errorMessage string) error

	// DecryptSecret is the privileged path to a plaintext credential. It is
	// called only from background tasks and the in-process request handler,
	// never exposed through the transport.
	DecryptSecret(requestorOwner string, c *domain.Connection) (string, error)
}

type service struct {
	store Store
	vault *vault.Vault
	hub   Publisher
}

func NewService(store Store, v *vault.Vault, hub Publisher) Service {
	return &service{store: store, vault: v, hub: hub}
}

func (s *service) Create(ctx context.Context, owner string, req domain.CreateConnectionRequest) (*domain.Connection, error) {
	encrypted, err := s.vault.Encrypt(req.Secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}
	now := time.Now().UTC()
	c := &domain.Connection{
		ConnectionID:    id.New(),
		Owner:           owner,
		BrokerType:      req.BrokerType,
		EncryptedSecret: encrypted,
		Active:          true,
		CreatedAt:       now,
		Metadata: domain.ConnectionMetadata{
			CreatedBy: owner,
			UpdatedAt: now,
		},
	}
	if err := s.store.Put(ctx, c); err != nil {
		return nil, err
	}
	s.hub.Publish(owner, stream.Event{Action: stream.ActionInsert, Table: stream.TableConnections, Record: c})
	return c, nil
}

func (s *service) Get(ctx context.Context, owner, connectionID string) (*domain.Connection, error) {
	return s.getOwned(ctx, owner, connectionID)
}

func (s *service) List(ctx context.Context, owner string) ([]domain.Connection, error) {
	return s.store.ListByOwner(ctx, owner)
}

func (s *service) UpdateSecret(ctx context.Context, owner, connectionID, secret string) (*domain.Connection, error) {
	c, err := s.getOwned(ctx, owner, connectionID)
	if err != nil {
		return nil, err
	}
	encrypted, err := s.vault.Encrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}
	c.EncryptedSecret = encrypted
	c.Metadata.UpdatedAt = time.Now().UTC()
	// The new credential is unproven: clear the recorded outcome so the next
	// scheduler tick re-validates it from scratch.
	c.Metadata.LastCheckStatus = ""
	c.Metadata.ErrorMessage = ""
	updates := map[string]interface{}{
		"encrypted_secret": encrypted,
		"metadata":         c.Metadata,
	}
	if err := s.store.Update(ctx, c.Owner, c.BrokerType, updates); err != nil {
		return nil, err
	}
	s.hub.Publish(owner, stream.Event{Action: stream.ActionUpdate, Table: stream.TableConnections, Record: c})
	return c, nil
}

func (s *service) ToggleActive(ctx context.Context, owner, connectionID string, active bool) (*domain.Connection, error) {
	c, err := s.getOwned(ctx, owner, connectionID)
	if err != nil {
		return nil, err
	}
	c.Active = active
	c.Metadata.UpdatedAt = time.Now().UTC()
	updates := map[string]interface{}{
		"active":   active,
		"metadata": c.Metadata,
	}
	if err := s.store.Update(ctx, c.Owner, c.BrokerType, updates); err != nil {
		return nil, err
	}
	s.hub.Publish(owner, stream.Event{Action: stream.ActionUpdate, Table: stream.TableConnections, Record: c})
	return c, nil
}

func (s *service) Delete(ctx context.Context, owner, connectionID string) error {
	c, err := s.getOwned(ctx, owner, connectionID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, c.Owner, c.BrokerType); err != nil {
		return err
	}
	s.hub.Publish(owner, stream.Event{Action: stream.ActionDelete, Table: stream.TableConnections, Record: c})
	return nil
}

func (s *service) DueForValidation(ctx context.Context, now time.Time, interval time.Duration) ([]domain.Connection, error) {
	return s.store.ListDue(ctx, now.Add(-interval))
}

func (s *service) ListActive(ctx context.Context) ([]domain.Connection, error) {
	return s.store.ListActive(ctx)
}

func (s *service) Claim(ctx context.Context, c *domain.Connection, now time.Time) error {
	return s.store.Claim(ctx, c, now)
}

func (s *service) RecordResult(ctx context.Context, c *domain.Connection, status, errorMessage string) error {
	c.Metadata.LastCheckStatus = status
	c.Metadata.ErrorMessage = errorMessage
	c.Metadata.UpdatedAt = time.Now().UTC()
	return s.store.Update(ctx, c.Owner, c.BrokerType, map[string]interface{}{
		"metadata": c.Metadata,
	})
}

func (s *service) DecryptSecret(requestorOwner string, c *domain.Connection) (string, error) {
	return s.vault.Decrypt(c.EncryptedSecret, requestorOwner, c.Owner)
}

// getOwned resolves a connection by id and enforces ownership. A foreign id
// fails with ErrAccessDenied and returns nothing about the record.
func (s *service) getOwned(ctx context.Context, owner, connectionID string) (*domain.Connection, error) {
	c, err := s.store.GetByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if c.Owner != owner {
		return nil, fmt.Errorf("connection %s: %w", connectionID, domain.ErrAccessDenied)
	}
	return c, nil
}
