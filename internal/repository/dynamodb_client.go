package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"cart-recovery-agent/internal/domain"
)

const (
	pkPrefixState = "STATE#"
	skSnapshot    = "SNAPSHOT#"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoSink.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoSink stores the snapshot as a single item of a DynamoDB table.
// Items are capped at 400KB by DynamoDB, which bounds the history this sink
// can hold.
type DynamoSink struct {
	api       dynamodbAPI
	tableName string
	name      string
	now       func() time.Time
}

// NewDynamoSink creates a sink writing the snapshot called name into tableName.
func NewDynamoSink(api dynamodbAPI, tableName, name string) (*DynamoSink, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default"
	}
	return &DynamoSink{api: api, tableName: tableName, name: name, now: time.Now}, nil
}

// statePK returns the partition key for a named snapshot.
func statePK(name string) string {
	return pkPrefixState + name
}

func (d *DynamoSink) key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: statePK(d.name)},
		"SK": &types.AttributeValueMemberS{Value: skSnapshot},
	}
}

// LoadSnapshot reads the snapshot item with a consistent read.
func (d *DynamoSink) LoadSnapshot(ctx context.Context) (domain.Snapshot, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("repository: LoadSnapshot get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Snapshot{}, ErrSnapshotNotFound
	}
	body, err := strAttr(out.Item, "body")
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	return decodeSnapshot([]byte(body))
}

// SaveSnapshot replaces the snapshot item.
func (d *DynamoSink) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("repository: SaveSnapshot encode: %w", err)
	}
	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      snapshotItem(d.name, body, len(snap.Conversations), d.now()),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSnapshot: %w", err)
	}
	return nil
}

func snapshotItem(name string, body []byte, conversations int, ts time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: statePK(name)},
		"SK":            &types.AttributeValueMemberS{Value: skSnapshot},
		"body":          &types.AttributeValueMemberS{Value: string(body)},
		"conversations": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", conversations)},
		"updatedAt":     &types.AttributeValueMemberS{Value: ts.UTC().Format(time.RFC3339Nano)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
