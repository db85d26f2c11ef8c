package domain

import "time"

// PortfolioSnapshot is an immutable, timestamped valuation of one brokerage
// account. One snapshot is written per monitoring cycle per account; the key
// (owner, account_ref, timestamp) doubles as the idempotency key of the
// monitor's snapshot-then-notify sequence.
type PortfolioSnapshot struct {
	SnapshotID string     `json:"id" dynamodbav:"snapshot_id"`
	Owner      string     `json:"owner" dynamodbav:"owner"`
	AccountRef string     `json:"account_ref" dynamodbav:"account_ref"`
	Timestamp  time.Time  `json:"timestamp" dynamodbav:"timestamp"`
	TotalValue float64    `json:"total_value" dynamodbav:"total_value"`
	Positions  []Position `json:"positions" dynamodbav:"positions"`
}

// Position is one holding inside a snapshot, ordered as returned by the broker.
type Position struct {
	Ticker        string  `json:"ticker" dynamodbav:"ticker"`
	Quantity      float64 `json:"quantity" dynamodbav:"quantity"`
	Price         float64 `json:"price" dynamodbav:"price"`
	ExpectedYield float64 `json:"expected_yield" dynamodbav:"expected_yield"`
}
