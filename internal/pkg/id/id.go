package id

import "github.com/oklog/ulid/v2"

// New generates a ULID string. ULIDs sort lexicographically by creation
// time, which keeps connection and notification ids usable as DynamoDB
// keys and range bounds.
func New() string {
	return ulid.Make().String()
}
