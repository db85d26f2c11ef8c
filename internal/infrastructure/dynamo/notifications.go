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

// NotificationRepo provides typed DynamoDB operations for the notifications
// table. Rows are append-mostly: only status/read_at ever change after insert.
type NotificationRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewNotificationRepo(client *dynamodb.Client, tableName string) *NotificationRepo {
	return &NotificationRepo{client: client, tableName: tableName}
}

func (r *NotificationRepo) Put(ctx context.Context, n *domain.Notification) error {
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	// attributevalue renders time.Time with a trimmed fraction, which is not
	// order-preserving; the owner-created_at index sorts on this string.
	item["created_at"] = &types.AttributeValueMemberS{Value: formatTS(n.CreatedAt)}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *NotificationRepo) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("notification_id", notificationID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("notification %s: %w", notificationID, domain.ErrNotFound)
	}
	var n domain.Notification
	if err := attributevalue.UnmarshalMap(out.Item, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// List queries the owner-created_at GSI in descending created_at order and
// applies limit/offset. Offset is applied client-side after the query —
// notification pages are small enough that this never matters.
func (r *NotificationRepo) List(ctx context.Context, owner string, limit, offset int) ([]domain.Notification, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("owner-created_at-index"),
		KeyConditionExpression: aws.String("#o = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#o": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(offset + limit)),
	})
	if err != nil {
		return nil, err
	}
	var notifications []domain.Notification
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &notifications); err != nil {
		return nil, err
	}
	if offset >= len(notifications) {
		return []domain.Notification{}, nil
	}
	return notifications[offset:], nil
}

// ListUnread queries the owner-created_at GSI and filters for unread rows.
func (r *NotificationRepo) ListUnread(ctx context.Context, owner string) ([]domain.Notification, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("owner-created_at-index"),
		KeyConditionExpression: aws.String("#o = :owner"),
		FilterExpression:       aws.String("#s = :unread"),
		ExpressionAttributeNames: map[string]string{
			"#o": "owner",
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner":  &types.AttributeValueMemberS{Value: owner},
			":unread": &types.AttributeValueMemberS{Value: domain.StatusUnread},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, err
	}
	var notifications []domain.Notification
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead transitions a notification to read. The write is conditioned on
// status=unread, so a repeat call changes nothing; the caller treats the
// failed condition as the no-op it is.
func (r *NotificationRepo) MarkRead(ctx context.Context, notificationID string, readAt time.Time) (bool, error) {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              strKey("notification_id", notificationID),
		UpdateExpression: aws.String("SET #s = :read, read_at = :at"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":read":   &types.AttributeValueMemberS{Value: domain.StatusRead},
			":at":     &types.AttributeValueMemberS{Value: formatTS(readAt)},
			":unread": &types.AttributeValueMemberS{Value: domain.StatusUnread},
		},
		ConditionExpression: aws.String("#s = :unread"),
	})
	if isConditionalCheckFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
