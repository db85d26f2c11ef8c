package domain

import "time"

// Notification types emitted by the background tasks.
const (
	NotificationTokenInvalid    = "token_invalid"
	NotificationPortfolioChange = "portfolio_change"
	NotificationPriceTarget     = "price_target"
	NotificationRiskAlert       = "risk_alert"
)

// Notification priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Notification statuses. Status is the only mutable field — rows are
// otherwise append-only.
const (
	StatusUnread = "unread"
	StatusRead   = "read"
)

type Notification struct {
	NotificationID string               `json:"id" dynamodbav:"notification_id"`
	Owner          string               `json:"owner" dynamodbav:"owner"`
	Type           string               `json:"type" dynamodbav:"type"`
	Status         string               `json:"status" dynamodbav:"status"`
	Priority       string               `json:"priority" dynamodbav:"priority"`
	Title          string               `json:"title" dynamodbav:"title"`
	Message        string               `json:"message" dynamodbav:"message"`
	Payload        *NotificationPayload `json:"payload,omitempty" dynamodbav:"payload"`
	CreatedAt      time.Time            `json:"created" dynamodbav:"created_at"`
	ReadAt         *time.Time           `json:"read_at,omitempty" dynamodbav:"read_at"`
}

// NotificationPayload holds the structured detail attached to monitor and
// scheduler notifications.
type NotificationPayload struct {
	Alerts      []Alert `json:"alerts,omitempty" dynamodbav:"alerts"`
	SnapshotRef string  `json:"snapshot_ref,omitempty" dynamodbav:"snapshot_ref"`
}

// Alert is one entry inside a notification payload: a total-value move, a
// per-position delta, or a risk finding.
type Alert struct {
	Kind           string  `json:"kind" dynamodbav:"kind"`
	Ticker         string  `json:"ticker,omitempty" dynamodbav:"ticker"`
	ChangePercent  float64 `json:"change_percent,omitempty" dynamodbav:"change_percent"`
	QuantityChange float64 `json:"quantity_change,omitempty" dynamodbav:"quantity_change"`
	Weight         float64 `json:"weight,omitempty" dynamodbav:"weight"`
}
