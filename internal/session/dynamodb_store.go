package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const skState = "STATE"

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type sessionItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	Session
}

// DynamoStore keeps sessions in the shared table under SESSION#<user>. The
// table's TTL attribute reaps abandoned dialogues; items past their expiry
// but not yet reaped are treated as absent.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoStore creates a DynamoStore on tableName with the given session TTL.
func NewDynamoStore(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("session: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("session: table name must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	return &DynamoStore{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func sessionKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "SESSION#" + userID},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

func (d *DynamoStore) Get(ctx context.Context, userID string) (Session, bool, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            sessionKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Session{}, false, fmt.Errorf("session: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return Session{}, false, nil
	}
	var item sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return Session{}, false, fmt.Errorf("session: Get decode: %w", err)
	}
	if item.Session.Expired(d.now()) {
		return Session{}, false, nil
	}
	return item.Session, true, nil
}

func (d *DynamoStore) Put(ctx context.Context, s Session) (Session, error) {
	if s.ChannelUserID == "" {
		return Session{}, errors.New("session: Put: channel user id is required")
	}
	now := d.now()
	prev := s.Version
	s = stamp(s, now, d.ttl)

	k := sessionKey(s.ChannelUserID)
	item, err := attributevalue.MarshalMap(sessionItem{
		PK:      k["PK"].(*types.AttributeValueMemberS).Value,
		SK:      skState,
		Session: s,
	})
	if err != nil {
		return Session{}, fmt.Errorf("session: Put encode: %w", err)
	}

	in := &dynamodb.PutItemInput{
		TableName:                aws.String(d.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(PK) OR #ttl <= :now"),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}
	if prev != 0 {
		in.ConditionExpression = aws.String("version = :prev AND #ttl > :now")
		in.ExpressionAttributeValues[":prev"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(prev, 10)}
	}
	_, err = d.api.PutItem(ctx, in)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return Session{}, ErrConflict
		}
		return Session{}, fmt.Errorf("session: Put: %w", err)
	}
	return s, nil
}

func (d *DynamoStore) Delete(ctx context.Context, userID string, version int64) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(d.tableName),
		Key:                      sessionKey(userID),
		ConditionExpression:      aws.String("attribute_not_exists(PK) OR version = :v OR #ttl <= :now"),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":   &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(d.now().Unix(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConflict
		}
		return fmt.Errorf("session: Delete: %w", err)
	}
	return nil
}
