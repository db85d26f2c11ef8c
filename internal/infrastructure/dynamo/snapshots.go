package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-broker-agent/internal/domain"
)

// snapshotItem is the storage shape of a portfolio snapshot. The composite
// partition key owner#account_ref plus the timestamp sort key is also the
// monitor's natural idempotency key.
type snapshotItem struct {
	OwnerAccount string            `dynamodbav:"owner_account"`
	TS           string            `dynamodbav:"ts"`
	SnapshotID   string            `dynamodbav:"snapshot_id"`
	Owner        string            `dynamodbav:"owner"`
	AccountRef   string            `dynamodbav:"account_ref"`
	TotalValue   float64           `dynamodbav:"total_value"`
	Positions    []domain.Position `dynamodbav:"positions"`
}

// SnapshotRepo provides typed DynamoDB operations for the snapshots table.
// Snapshots are immutable once written.
type SnapshotRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewSnapshotRepo(client *dynamodb.Client, tableName string) *SnapshotRepo {
	return &SnapshotRepo{client: client, tableName: tableName}
}

func snapshotPK(owner, accountRef string) string {
	return owner + "#" + accountRef
}

// Put writes a snapshot. A retried monitor step that already wrote this
// (owner, account_ref, timestamp) is absorbed silently — the conditional
// failure means the row is already there, which is the desired state.
func (r *SnapshotRepo) Put(ctx context.Context, s *domain.PortfolioSnapshot) error {
	item, err := attributevalue.MarshalMap(snapshotItem{
		OwnerAccount: snapshotPK(s.Owner, s.AccountRef),
		TS:           formatTS(s.Timestamp),
		SnapshotID:   s.SnapshotID,
		Owner:        s.Owner,
		AccountRef:   s.AccountRef,
		TotalValue:   s.TotalValue,
		Positions:    s.Positions,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(ts)"),
	})
	if isConditionalCheckFailed(err) {
		return nil
	}
	return err
}

// Latest returns the most recent snapshot for (owner, accountRef), or
// domain.ErrNotFound when none exists yet.
func (r *SnapshotRepo) Latest(ctx context.Context, owner, accountRef string) (*domain.PortfolioSnapshot, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("owner_account = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: snapshotPK(owner, accountRef)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("snapshot for %s/%s: %w", owner, accountRef, domain.ErrNotFound)
	}
	return unmarshalSnapshot(out.Items[0])
}

// ListOlderThan returns snapshots for (owner, accountRef) with a timestamp
// before cutoff, oldest first. Used by the retention pass.
func (r *SnapshotRepo) ListOlderThan(ctx context.Context, owner, accountRef string, cutoff time.Time) ([]domain.PortfolioSnapshot, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("owner_account = :pk AND ts < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: snapshotPK(owner, accountRef)},
			":cutoff": &types.AttributeValueMemberS{Value: formatTS(cutoff)},
		},
	})
	if err != nil {
		return nil, err
	}
	snapshots := make([]domain.PortfolioSnapshot, 0, len(out.Items))
	for _, item := range out.Items {
		s, err := unmarshalSnapshot(item)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, nil
}

// Delete removes one snapshot row.
func (r *SnapshotRepo) Delete(ctx context.Context, owner, accountRef string, ts time.Time) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: compositeKey("owner_account", snapshotPK(owner, accountRef),
			"ts", formatTS(ts)),
	})
	return err
}

func unmarshalSnapshot(item map[string]types.AttributeValue) (*domain.PortfolioSnapshot, error) {
	var si snapshotItem
	if err := attributevalue.UnmarshalMap(item, &si); err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, si.TS)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot ts: %w", err)
	}
	return &domain.PortfolioSnapshot{
		SnapshotID: si.SnapshotID,
		Owner:      si.Owner,
		AccountRef: si.AccountRef,
		Timestamp:  ts,
		TotalValue: si.TotalValue,
		Positions:  si.Positions,
	}, nil
}
