package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DDBClient is the interface for DynamoDB operations used by DDBLock.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var (
	// ErrLockHeld is returned when another owner holds an unexpired lease.
	ErrLockHeld = errors.New("device lock held by another owner")
	// ErrLockNotHeld is returned by Unlock when the lease was lost.
	ErrLockNotHeld = errors.New("device lock not held")
)

// DDBLock is an exclusive lease on a blob-backed device, kept in DynamoDB.
// Two hosts sharing a bucket prefix use it to keep a single writer.
//
// Table schema:
//   - Partition key: lock_key (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name blkcache-locks \
//	  --attribute-definitions AttributeName=lock_key,AttributeType=S \
//	  --key-schema AttributeName=lock_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DDBLock struct {
	client DDBClient
	table  string
	key    string
	owner  string
	lease  time.Duration
	poll   time.Duration
	now    func() time.Time
}

// DDBLockOptions configures a DDBLock.
type DDBLockOptions struct {
	// Lease is how long an acquired lock stays valid without renewal.
	// A crashed holder's lock can be taken over after it expires.
	// Default: 5 minutes
	Lease time.Duration
	// Owner identifies this holder. Default: a random UUID.
	Owner string
	// PollInterval is how often Lock retries a lease held by another owner.
	// Default: 1 second
	PollInterval time.Duration
}

// NewDDBLock creates a lock on key (usually the device's bucket prefix).
func NewDDBLock(client DDBClient, table, key string, optFns ...func(*DDBLockOptions)) *DDBLock {
	opts := DDBLockOptions{Lease: 5 * time.Minute, PollInterval: time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Owner == "" {
		opts.Owner = uuid.NewString()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	return &DDBLock{
		client: client,
		table:  table,
		key:    key,
		owner:  opts.Owner,
		lease:  opts.Lease,
		poll:   opts.PollInterval,
		now:    time.Now,
	}
}

// Owner returns the owner token written to the lock item.
func (l *DDBLock) Owner() string {
	return l.owner
}

// Lock acquires or renews the lease, retrying every PollInterval while
// another owner holds it, until ctx is done.
func (l *DDBLock) Lock(ctx context.Context) error {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		err := l.TryLock(ctx)
		if !errors.Is(err, ErrLockHeld) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryLock acquires or renews the lease without waiting. It fails with
// ErrLockHeld if another owner holds a lease that has not expired.
func (l *DDBLock) TryLock(ctx context.Context) error {
	now := l.now()

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			"lock_key": &types.AttributeValueMemberS{Value: l.key},
			"owner":    &types.AttributeValueMemberS{Value: l.owner},
			"expires":  &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(l.lease).UnixMilli(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(lock_key) OR #owner = :owner OR #expires < :now"),
		ExpressionAttributeNames: map[string]string{
			"#owner":   "owner",
			"#expires": "expires",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: l.owner},
			":now":   &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrLockHeld
		}
		return fmt.Errorf("failed to acquire lock %q: %w", l.key, err)
	}
	return nil
}

// Unlock releases the lease if this owner still holds it.
func (l *DDBLock) Unlock(ctx context.Context) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"lock_key": &types.AttributeValueMemberS{Value: l.key},
		},
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: l.owner},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrLockNotHeld
		}
		return fmt.Errorf("failed to release lock %q: %w", l.key, err)
	}
	return nil
}

// Holder returns the current owner of the lock item, or "" if unlocked.
func (l *DDBLock) Holder(ctx context.Context) (string, error) {
	resp, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.table),
		Key: map[string]types.AttributeValue{
			"lock_key": &types.AttributeValueMemberS{Value: l.key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read lock %q: %w", l.key, err)
	}
	if resp.Item == nil {
		return "", nil
	}

	owner, ok := resp.Item["owner"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("invalid owner attribute in DynamoDB")
	}
	return owner.Value, nil
}
