package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDynamo enforces the conditional put against an in-memory key set.
type mockDynamo struct {
	items   map[string]bool
	puts    []*dynamodb.PutItemInput
	deletes []*dynamodb.DeleteItemInput
	err     error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.puts = append(m.puts, in)
	if m.err != nil {
		return nil, m.err
	}
	key := in.Item["eventKey"].(*types.AttributeValueMemberS).Value
	if m.items[key] {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	m.items[key] = true
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.deletes = append(m.deletes, in)
	delete(m.items, in.Key["eventKey"].(*types.AttributeValueMemberS).Value)
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoTrackerClaimOnce(t *testing.T) {
	mock := &mockDynamo{items: map[string]bool{}}
	tracker := NewDynamoTracker(mock, "dental_processed_events", time.Hour)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return fixed }
	ctx := context.Background()

	ok, err := tracker.Claim(ctx, "inbound", "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tracker.Claim(ctx, "inbound", "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tracker.Claim(ctx, "whatsapp-status", "abc")
	require.NoError(t, err)
	assert.True(t, ok, "sources are independent")

	var stored claimRecord
	require.NoError(t, attributevalue.UnmarshalMap(mock.puts[0].Item, &stored))
	assert.Equal(t, "inbound#abc", stored.EventKey)
	assert.Equal(t, fixed.Add(time.Hour).Unix(), stored.ExpiresAt)
	require.NotNil(t, mock.puts[0].ConditionExpression)
	assert.Contains(t, *mock.puts[0].ConditionExpression, "attribute_not_exists(eventKey)")
}

func TestDynamoTrackerReleaseAllowsRetry(t *testing.T) {
	mock := &mockDynamo{items: map[string]bool{}}
	tracker := NewDynamoTracker(mock, "dental_processed_events", 0)
	ctx := context.Background()

	ok, err := tracker.Claim(ctx, "inbound", "abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tracker.Release(ctx, "inbound", "abc"))

	ok, err = tracker.Claim(ctx, "inbound", "abc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDynamoTrackerPropagatesErrors(t *testing.T) {
	mock := &mockDynamo{items: map[string]bool{}, err: errors.New("throttled")}
	tracker := NewDynamoTracker(mock, "dental_processed_events", time.Hour)

	ok, err := tracker.Claim(context.Background(), "inbound", "abc")
	assert.Error(t, err)
	assert.False(t, ok)
}
