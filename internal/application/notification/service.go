// Package notification owns the append-mostly notification log and its
// real-time fan-out. Appends publish an insert event on the owner's channel;
// read-state transitions are idempotent.
package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-broker-agent/internal/domain"
	"github.com/go-broker-agent/internal/infrastructure/smtp"
	"github.com/go-broker-agent/internal/infrastructure/sns"
	"github.com/go-broker-agent/internal/pkg/id"
	"github.com/go-broker-agent/internal/stream"
)

// Store is the minimal persistence interface the service requires.
type Store interface {
	Put(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, notificationID string) (*domain.Notification, error)
	List(ctx context.Context, owner string, limit, offset int) ([]domain.Notification, error)
	ListUnread(ctx context.Context, owner string) ([]domain.Notification, error)
	MarkRead(ctx context.Context, notificationID string, readAt time.Time) (bool, error)
}

// Publisher receives record-change events for the owner's event channel.
type Publisher interface {
	Publish(owner string, ev stream.Event)
}

// AppendInput describes one notification to append.
type AppendInput struct {
	Owner    string
	Type     string
	Priority string
	Title    string
	Message  string
	Payload  *domain.NotificationPayload
}

type Service interface {
	Append(ctx context.Context, in AppendInput) (*domain.Notification, error)
	List(ctx context.Context, owner string, limit, offset int) ([]domain.Notification, error)
	UnreadCount(ctx context.Context, owner string) (int, error)
	MarkRead(ctx context.Context, owner, notificationID string) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, owner string) (int, error)
}

// Dispatch holds the optional out-of-band channels for high-priority
// notifications. Either side may be nil.
type Dispatch struct {
	SMSSender sns.SMSSender
	SMSTo     string
	Mailer    smtp.Mailer
	EmailTo   string
}

type service struct {
	store    Store
	hub      Publisher
	dispatch Dispatch
}

func NewService(store Store, hub Publisher, dispatch Dispatch) Service {
	return &service{store: store, hub: hub, dispatch: dispatch}
}

func (s *service) Append(ctx context.Context, in AppendInput) (*domain.Notification, error) {
	if in.Priority == "" {
		in.Priority = domain.PriorityNormal
	}
	n := &domain.Notification{
		NotificationID: id.New(),
		Owner:          in.Owner,
		Type:           in.Type,
		Status:         domain.StatusUnread,
		Priority:       in.Priority,
		Title:          in.Title,
		Message:        in.Message,
		Payload:        in.Payload,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.Put(ctx, n); err != nil {
		return nil, err
	}
	s.hub.Publish(n.Owner, stream.Event{Action: stream.ActionInsert, Table: stream.TableNotifications, Record: n})
	s.dispatchOutOfBand(ctx, n)
	return n, nil
}

func (s *service) List(ctx context.Context, owner string, limit, offset int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, owner, limit, offset)
}

func (s *service) UnreadCount(ctx context.Context, owner string) (int, error) {
	unread, err := s.store.ListUnread(ctx, owner)
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}

func (s *service) MarkRead(ctx context.Context, owner, notificationID string) (*domain.Notification, error) {
	n, err := s.store.Get(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.Owner != owner {
		return nil, fmt.Errorf("notification %s: %w", notificationID, domain.ErrAccessDenied)
	}
	now := time.Now().UTC()
	transitioned, err := s.store.MarkRead(ctx, notificationID, now)
	if err != nil {
		return nil, err
	}
	if transitioned {
		n.Status = domain.StatusRead
		n.ReadAt = &now
		s.hub.Publish(owner, stream.Event{Action: stream.ActionUpdate, Table: stream.TableNotifications, Record: n})
	}
	// Already read: the repeat call is a no-op, not an error.
	return n, nil
}

func (s *service) MarkAllRead(ctx context.Context, owner string) (int, error) {
	unread, err := s.store.ListUnread(ctx, owner)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	count := 0
	for i := range unread {
		n := unread[i]
		transitioned, err := s.store.MarkRead(ctx, n.NotificationID, now)
		if err != nil {
			return count, err
		}
		if transitioned {
			n.Status = domain.StatusRead
			n.ReadAt = &now
			s.hub.Publish(owner, stream.Event{Action: stream.ActionUpdate, Table: stream.TableNotifications, Record: &n})
			count++
		}
	}
	return count, nil
}

// dispatchOutOfBand mirrors high/urgent notifications to SMS and email when
// configured. Delivery failures are logged, never propagated — the durable
// row plus the event channel are the source of truth.
func (s *service) dispatchOutOfBand(ctx context.Context, n *domain.Notification) {
	if n.Priority != domain.PriorityHigh && n.Priority != domain.PriorityUrgent {
		return
	}
	if s.dispatch.SMSSender != nil && s.dispatch.SMSTo != "" {
		if err := s.dispatch.SMSSender.SendSMS(ctx, s.dispatch.SMSTo, n.Title+": "+n.Message); err != nil {
			log.Printf("WARN: sms dispatch failed for notification %s: %v", n.NotificationID, err)
		}
	}
	if s.dispatch.Mailer != nil && s.dispatch.EmailTo != "" {
		if err := s.dispatch.Mailer.SendEmail(s.dispatch.EmailTo, n.Title, n.Message); err != nil {
			log.Printf("WARN: email dispatch failed for notification %s: %v", n.NotificationID, err)
		}
	}
}
