package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/acs-lambda/delete-user/internal/domain"
)

const (
	profileIDAttr      = "id"
	maxBatchWriteItems = 25 // DynamoDB BatchWriteItem limit
	defaultConcurrency = 8
	defaultAttempts    = 3
	defaultBackoff     = 50 * time.Millisecond
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// ProfileTable locates user profiles. Index must be keyed on the "id" attribute.
type ProfileTable struct {
	Name         string
	Index        string
	KeyAttribute string
}

// Client wraps the DynamoDB tables holding user profiles and their dependents.
type Client struct {
	api         dynamodbAPI
	profiles    ProfileTable
	concurrency int
	attempts    int
	backoff     time.Duration
}

type Option func(*Client)

// WithConcurrency bounds the number of in-flight batch deletes.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithUnprocessedRetry sets how many times a batch is submitted while
// DynamoDB keeps returning unprocessed items, and the base wait between tries.
func WithUnprocessedRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff >= 0 {
			c.backoff = backoff
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, profiles ProfileTable, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(profiles.Name) == "" {
		return nil, errors.New("repository: profile table name must not be empty")
	}
	if strings.TrimSpace(profiles.Index) == "" {
		return nil, errors.New("repository: profile index name must not be empty")
	}
	if strings.TrimSpace(profiles.KeyAttribute) == "" {
		profiles.KeyAttribute = profileIDAttr
	}
	c := &Client{
		api:         api,
		profiles:    profiles,
		concurrency: defaultConcurrency,
		attempts:    defaultAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type profileItem struct {
	ID    string `dynamodbav:"id"`
	Email string `dynamodbav:"email"`
}

// FindProfiles returns every profile whose id matches userID, read through
// the profile index across all result pages.
func (c *Client) FindProfiles(ctx context.Context, userID string) ([]domain.Profile, error) {
	p := dynamodb.NewQueryPaginator(c.api, &dynamodb.QueryInput{
		TableName:              aws.String(c.profiles.Name),
		IndexName:              aws.String(c.profiles.Index),
		KeyConditionExpression: aws.String("#id = :id"),
		ExpressionAttributeNames: map[string]string{
			"#id": profileIDAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: userID},
		},
	})

	var profiles []domain.Profile
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: FindProfiles query: %w", err)
		}
		for _, item := range page.Items {
			profile, err := c.itemToProfile(item)
			if err != nil {
				return nil, fmt.Errorf("repository: FindProfiles unmarshal: %w", err)
			}
			profiles = append(profiles, profile)
		}
	}
	return profiles, nil
}

// QueryDependents returns the composite keys of every record in coll
// associated with userID. All pages are read.
func (c *Client) QueryDependents(ctx context.Context, coll domain.Collection, userID string) ([]domain.DependentRecord, error) {
	if coll.Table == "" || coll.Index == "" || coll.PartitionKey == "" || coll.SortKey == "" {
		return nil, fmt.Errorf("repository: QueryDependents: collection %q is not fully configured", coll.Name)
	}

	p := dynamodb.NewQueryPaginator(c.api, &dynamodb.QueryInput{
		TableName:              aws.String(coll.Table),
		IndexName:              aws.String(coll.Index),
		KeyConditionExpression: aws.String("#assoc = :uid"),
		ProjectionExpression:   aws.String("#pk, #sk"),
		ExpressionAttributeNames: map[string]string{
			"#assoc": coll.AssociationAttribute,
			"#pk":    coll.PartitionKey,
			"#sk":    coll.SortKey,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		},
	})

	var records []domain.DependentRecord
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("repository: QueryDependents %s: %w", coll.Name, err)
		}
		for _, item := range page.Items {
			rec, err := itemToRecord(coll, item)
			if err != nil {
				return nil, fmt.Errorf("repository: QueryDependents %s unmarshal: %w", coll.Name, err)
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// DeleteDependents removes every record by its composite key. Records are
// grouped per table into BatchWriteItem chunks which are sent concurrently,
// at most c.concurrency at a time. The first failing chunk fails the call;
// chunks already written stay deleted.
func (c *Client) DeleteDependents(ctx context.Context, records []domain.DependentRecord) error {
	if len(records) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, chunk := range chunkByTable(records) {
		g.Go(func() error {
			return c.writeDeletes(gctx, chunk.table, chunk.requests)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("repository: DeleteDependents: %w", err)
	}
	return nil
}

// DeleteProfile deletes the profile by its primary key. Deleting a key that
// no longer exists succeeds.
func (c *Client) DeleteProfile(ctx context.Context, profile domain.Profile) error {
	if profile.PrimaryKey == "" {
		return errors.New("repository: DeleteProfile: primary key is required")
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.profiles.Name),
		Key: map[string]types.AttributeValue{
			c.profiles.KeyAttribute: &types.AttributeValueMemberS{Value: profile.PrimaryKey},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteProfile: %w", err)
	}
	return nil
}

type deleteChunk struct {
	table    string
	requests []types.WriteRequest
}

func chunkByTable(records []domain.DependentRecord) []deleteChunk {
	var order []string
	byTable := make(map[string][]types.WriteRequest)
	for _, rec := range records {
		table := rec.Collection.Table
		if _, ok := byTable[table]; !ok {
			order = append(order, table)
		}
		byTable[table] = append(byTable[table], types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: recordKey(rec)},
		})
	}

	var chunks []deleteChunk
	for _, table := range order {
		reqs := byTable[table]
		for start := 0; start < len(reqs); start += maxBatchWriteItems {
			end := min(start+maxBatchWriteItems, len(reqs))
			chunks = append(chunks, deleteChunk{table: table, requests: reqs[start:end]})
		}
	}
	return chunks
}

// writeDeletes submits one chunk, resubmitting whatever DynamoDB hands back
// as unprocessed until it drains or attempts run out.
func (c *Client) writeDeletes(ctx context.Context, table string, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{table: requests}
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff*time.Duration(attempt)); err != nil {
				return err
			}
		}
		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("batch write %q: %w", table, err)
		}
		if out == nil || len(out.UnprocessedItems[table]) == 0 {
			return nil
		}
		pending = map[string][]types.WriteRequest{table: out.UnprocessedItems[table]}
	}
	return fmt.Errorf("batch write %q: %d deletes left unprocessed", table, len(pending[table]))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func recordKey(rec domain.DependentRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		rec.Collection.PartitionKey: &types.AttributeValueMemberS{Value: rec.Partition},
		rec.Collection.SortKey:      &types.AttributeValueMemberS{Value: rec.Sort},
	}
}

func (c *Client) itemToProfile(item map[string]types.AttributeValue) (domain.Profile, error) {
	var pi profileItem
	if err := attributevalue.UnmarshalMap(item, &pi); err != nil {
		return domain.Profile{}, err
	}
	if pi.ID == "" {
		return domain.Profile{}, fmt.Errorf("repository: missing attribute %q", profileIDAttr)
	}

	key := pi.ID
	if c.profiles.KeyAttribute != profileIDAttr {
		k, err := strAttr(item, c.profiles.KeyAttribute)
		if err != nil {
			return domain.Profile{}, err
		}
		key = k
	}
	return domain.Profile{ID: pi.ID, Email: pi.Email, PrimaryKey: key}, nil
}

func itemToRecord(coll domain.Collection, item map[string]types.AttributeValue) (domain.DependentRecord, error) {
	pk, err := strAttr(item, coll.PartitionKey)
	if err != nil {
		return domain.DependentRecord{}, err
	}
	sk, err := strAttr(item, coll.SortKey)
	if err != nil {
		return domain.DependentRecord{}, err
	}
	return domain.DependentRecord{Collection: coll, Partition: pk, Sort: sk}, nil
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
