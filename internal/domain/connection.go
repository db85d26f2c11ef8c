package domain

import "time"

// Validation outcome recorded on a connection after a scheduler pass.
const (
	CheckStatusSuccess = "success"
	CheckStatusFailure = "failure"
)

// Connection links an owner to one brokerage account. The (Owner, BrokerType)
// pair is unique — the connections table is keyed on it. The stored secret is
// always ciphertext; plaintext never leaves the vault boundary.
type Connection struct {
	ConnectionID    string             `json:"id" dynamodbav:"connection_id"`
	Owner           string             `json:"owner" dynamodbav:"owner"`
	BrokerType      string             `json:"broker_type" dynamodbav:"broker_type"`
	EncryptedSecret string             `json:"-" dynamodbav:"encrypted_secret"`
	Active          bool               `json:"active" dynamodbav:"active"`
	LastCheckedAt   *time.Time         `json:"last_checked_at" dynamodbav:"last_checked_at,omitempty"`
	Metadata        ConnectionMetadata `json:"metadata" dynamodbav:"metadata"`
	CreatedAt       time.Time          `json:"created" dynamodbav:"created_at"`
}

// ConnectionMetadata carries audit fields and the latest validation outcome.
type ConnectionMetadata struct {
	CreatedBy       string    `json:"created_by" dynamodbav:"created_by"`
	UpdatedAt       time.Time `json:"updated" dynamodbav:"updated_at"`
	LastCheckStatus string    `json:"last_check_status,omitempty" dynamodbav:"last_check_status"`
	ErrorMessage    string    `json:"error_message,omitempty" dynamodbav:"error_message"`
}

type CreateConnectionRequest struct {
	BrokerType string `json:"broker_type" validate:"required"`
	Secret     string `json:"secret" validate:"required,min=8"`
}

type UpdateSecretRequest struct {
	Secret string `json:"secret" validate:"required,min=8"`
}

type ToggleActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}
