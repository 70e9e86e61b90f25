package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type claimRecord struct {
	EventKey  string `dynamodbav:"eventKey"`
	Source    string `dynamodbav:"source"`
	ClaimedAt string `dynamodbav:"claimedAt"`
	ExpiresAt int64  `dynamodbav:"expiresAt"`
}

// DynamoTracker claims event ids with a conditional put. The table needs a
// string partition key eventKey and TTL enabled on expiresAt.
type DynamoTracker struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoTracker(client dynamoAPI, tableName string, ttl time.Duration) *DynamoTracker {
	if client == nil {
		panic("events: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("events: table name cannot be empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DynamoTracker{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

func (t *DynamoTracker) Claim(ctx context.Context, source, eventID string) (bool, error) {
	now := t.now().UTC()
	item, err := attributevalue.MarshalMap(claimRecord{
		EventKey:  eventKey(source, eventID),
		Source:    source,
		ClaimedAt: now.Format(time.RFC3339Nano),
		ExpiresAt: now.Add(t.ttl).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("events: marshal claim: %w", err)
	}

	// an expired record still present (TTL deletion lags) may be overwritten
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(t.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(eventKey) OR expiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	var conditional *types.ConditionalCheckFailedException
	if errors.As(err, &conditional) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("events: claim %s: %w", source, err)
	}
	return true, nil
}

func (t *DynamoTracker) Release(ctx context.Context, source, eventID string) error {
	_, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.tableName),
		Key: map[string]types.AttributeValue{
			"eventKey": &types.AttributeValueMemberS{Value: eventKey(source, eventID)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: release %s: %w", source, err)
	}
	return nil
}

func eventKey(source, eventID string) string {
	return source + "#" + eventID
}
