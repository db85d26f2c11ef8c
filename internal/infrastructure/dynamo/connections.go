package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-broker-agent/internal/domain"
)

// ConnectionRepo provides typed DynamoDB operations for the broker
// connections table. The table is keyed (owner, broker_type), which makes
// the uniqueness invariant a property of the key schema rather than an
// application-level check.
type ConnectionRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewConnectionRepo(client *dynamodb.Client, tableName string) *ConnectionRepo {
	return &ConnectionRepo{client: client, tableName: tableName}
}

// Put inserts a new connection. Returns domain.ErrConflict when a row for
// the same (owner, broker_type) already exists.
func (r *ConnectionRepo) Put(ctx context.Context, c *domain.Connection) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal connection: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#o)"),
		ExpressionAttributeNames: map[string]string{
			"#o": "owner",
		},
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("connection %s/%s exists: %w", c.Owner, c.BrokerType, domain.ErrConflict)
	}
	return err
}

// Get fetches a connection by its natural key.
func (r *ConnectionRepo) Get(ctx context.Context, owner, brokerType string) (*domain.Connection, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("owner", owner, "broker_type", brokerType),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("connection %s/%s: %w", owner, brokerType, domain.ErrNotFound)
	}
	var c domain.Connection
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID resolves a connection through the connection_id GSI.
func (r *ConnectionRepo) GetByID(ctx context.Context, connectionID string) (*domain.Connection, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("connection_id-index"),
		KeyConditionExpression: aws.String("connection_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: connectionID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound)
	}
	var c domain.Connection
	if err := attributevalue.UnmarshalMap(out.Items[0], &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListByOwner returns every connection belonging to owner.
func (r *ConnectionRepo) ListByOwner(ctx context.Context, owner string) ([]domain.Connection, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("#o = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#o": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		return nil, err
	}
	var conns []domain.Connection
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// ListDue scans for active connections whose last_checked_at is absent or
// older than cutoff — the scheduler's due-set.
func (r *ConnectionRepo) ListDue(ctx context.Context, cutoff time.Time) ([]domain.Connection, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
		FilterExpression: aws.String(
			"active = :true AND (attribute_not_exists(last_checked_at) OR last_checked_at < :cutoff)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true":   &types.AttributeValueMemberBOOL{Value: true},
			":cutoff": &types.AttributeValueMemberS{Value: formatTS(cutoff)},
		},
	})
	if err != nil {
		return nil, err
	}
	var conns []domain.Connection
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// ListActive returns every active connection, regardless of check age.
func (r *ConnectionRepo) ListActive(ctx context.Context) ([]domain.Connection, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("active = :true"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return nil, err
	}
	var conns []domain.Connection
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// Claim atomically bumps last_checked_at from its previously observed value
// to now. A concurrent claimer that moved the timestamp first makes the
// conditional check fail, which surfaces as domain.ErrConflict — the caller
// must skip the connection for this tick.
func (r *ConnectionRepo) Claim(ctx context.Context, c *domain.Connection, now time.Time) error {
	input := &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              compositeKey("owner", c.Owner, "broker_type", c.BrokerType),
		UpdateExpression: aws.String("SET last_checked_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: formatTS(now)},
		},
	}
	if c.LastCheckedAt == nil {
		input.ConditionExpression = aws.String("attribute_not_exists(last_checked_at)")
	} else {
		input.ConditionExpression = aws.String("last_checked_at = :prev")
		input.ExpressionAttributeValues[":prev"] = &types.AttributeValueMemberS{
			Value: formatTS(*c.LastCheckedAt),
		}
	}
	_, err := r.client.UpdateItem(ctx, input)
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("connection %s already claimed: %w", c.ConnectionID, domain.ErrConflict)
	}
	return err
}

// Update applies a partial update to the row identified by (owner, brokerType).
func (r *ConnectionRepo) Update(ctx context.Context, owner, brokerType string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	ue.Names["#o"] = "owner"
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey("owner", owner, "broker_type", brokerType),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ConditionExpression:       aws.String("attribute_exists(#o)"),
	})
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("connection %s/%s: %w", owner, brokerType, domain.ErrNotFound)
	}
	return err
}

// Delete removes the connection row. Any in-flight validation claim dies
// with the row — a claimed-then-deleted connection simply has nowhere to
// record its result.
func (r *ConnectionRepo) Delete(ctx context.Context, owner, brokerType string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey("owner", owner, "broker_type", brokerType),
	})
	return err
}

func isConditionalCheckFailed(err error) bool {
	if err == nil {
		return false
	}
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
