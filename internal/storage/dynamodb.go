package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/deusflow/newsprefs/internal/profile"
)

type DynamoOptions struct {
	Region        string
	Endpoint      string
	Table         string
	ViewsTable    string
	FeedbackTable string
	ViewTTL       time.Duration
	// CASAttempts bounds the optimistic update loop.
	CASAttempts int
	Logger      *slog.Logger
}

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Dynamo keeps profiles in one table (pk user_id), view records in another
// (pk user_id, sk news_id) and the feedback log in a third (pk user_id, sk
// sk). Profile updates use a conditional put on the version attribute.
type Dynamo struct {
	client DynamoAPI
	opts   DynamoOptions
	logger *slog.Logger
}

type dynamoProfile struct {
	UserID    string `dynamodbav:"user_id"`
	Doc       string `dynamodbav:"doc"`
	Version   int64  `dynamodbav:"version"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

type dynamoView struct {
	UserID    string `dynamodbav:"user_id"`
	NewsID    string `dynamodbav:"news_id"`
	ViewedAt  string `dynamodbav:"viewed_at"`
	ExpiresAt int64  `dynamodbav:"expires_at,omitempty"`
}

type dynamoFeedback struct {
	UserID    string `dynamodbav:"user_id"`
	SortKey   string `dynamodbav:"sk"`
	NewsID    string `dynamodbav:"news_id"`
	Title     string `dynamodbav:"title,omitempty"`
	Signal    string `dynamodbav:"signal"`
	Reason    string `dynamodbav:"reason,omitempty"`
	CreatedAt string `dynamodbav:"created_at"`
}

// OpenDynamo loads the default AWS config for the region and points the
// client at Endpoint when one is set (local DynamoDB).
func OpenDynamo(ctx context.Context, opts DynamoOptions) (*Dynamo, error) {
	if opts.Region == "" {
		opts.Region = "us-west-2"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("[DynamoDB] load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewDynamo(client, opts), nil
}

func NewDynamo(client DynamoAPI, opts DynamoOptions) *Dynamo {
	if opts.Table == "" {
		opts.Table = "Profiles"
	}
	if opts.ViewsTable == "" {
		opts.ViewsTable = "ViewedNews"
	}
	if opts.FeedbackTable == "" {
		opts.FeedbackTable = "FeedbackLog"
	}
	if opts.CASAttempts <= 0 {
		opts.CASAttempts = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dynamo{client: client, opts: opts, logger: logger}
}

func (d *Dynamo) userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

func (d *Dynamo) load(ctx context.Context, userID string) (*profile.Profile, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.opts.Table),
		Key:            d.userKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("[DynamoDB] get profile: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrProfileNotFound
	}
	var rec dynamoProfile
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("[DynamoDB] unmarshal profile: %w", err)
	}
	p, err := decodeProfile([]byte(rec.Doc))
	if err != nil {
		return nil, err
	}
	p.Version = rec.Version
	return p, nil
}

func (d *Dynamo) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	return d.load(ctx, userID)
}

func (d *Dynamo) PutProfile(ctx context.Context, userID string, p *profile.Profile) error {
	c := p.Clone()
	stamp(c, 0)
	doc, err := encodeProfile(c)
	if err != nil {
		return err
	}
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.opts.Table),
		Key:              d.userKey(userID),
		UpdateExpression: aws.String("SET #doc = :doc, updated_at = :now ADD version :one"),
		ExpressionAttributeNames: map[string]string{
			"#doc": "doc",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":doc": &types.AttributeValueMemberS{Value: string(doc)},
			":now": &types.AttributeValueMemberS{Value: c.UpdatedAt.Format(time.RFC3339)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return fmt.Errorf("[DynamoDB] put profile: %w", err)
	}
	return nil
}

// UpdateProfile retries the read-modify-write until the conditional put on
// the version attribute succeeds or CASAttempts runs out.
func (d *Dynamo) UpdateProfile(ctx context.Context, userID string, fn func(*profile.Profile) error) (*profile.Profile, error) {
	for attempt := 1; attempt <= d.opts.CASAttempts; attempt++ {
		cur, err := d.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		prev := cur.Version
		if err := fn(cur); err != nil {
			return nil, err
		}
		stamp(cur, prev)

		doc, err := encodeProfile(cur)
		if err != nil {
			return nil, err
		}
		item, err := attributevalue.MarshalMap(dynamoProfile{
			UserID:    userID,
			Doc:       string(doc),
			Version:   cur.Version,
			UpdatedAt: cur.UpdatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return nil, fmt.Errorf("[DynamoDB] marshal profile: %w", err)
		}

		_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(d.opts.Table),
			Item:                item,
			ConditionExpression: aws.String("version = :prev"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(prev, 10)},
			},
		})
		if err == nil {
			return cur, nil
		}
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return nil, fmt.Errorf("[DynamoDB] update profile: %w", err)
		}
		d.logger.Warn("[DynamoDB] profile version moved, retrying", "user_id", userID, "attempt", attempt)
	}
	return nil, ErrConflict
}

func (d *Dynamo) viewKey(userID, newsID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
		"news_id": &types.AttributeValueMemberS{Value: newsID},
	}
}

func (d *Dynamo) HasViewed(ctx context.Context, userID, newsID string) (bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.opts.ViewsTable),
		Key:       d.viewKey(userID, newsID),
	})
	if err != nil {
		return false, fmt.Errorf("[DynamoDB] get view: %w", err)
	}
	return len(out.Item) > 0, nil
}

func (d *Dynamo) MarkViewed(ctx context.Context, userID, newsID string) error {
	now := time.Now().UTC()
	rec := dynamoView{UserID: userID, NewsID: newsID, ViewedAt: now.Format(time.RFC3339)}
	if d.opts.ViewTTL > 0 {
		rec.ExpiresAt = now.Add(d.opts.ViewTTL).Unix()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("[DynamoDB] marshal view: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.opts.ViewsTable),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(news_id)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &ccf) {
		return fmt.Errorf("[DynamoDB] put view: %w", err)
	}
	return nil
}

func (d *Dynamo) viewIDs(ctx context.Context, userID string) ([]string, error) {
	var (
		ids   []string
		start map[string]types.AttributeValue
	)
	for {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.opts.ViewsTable),
			KeyConditionExpression: aws.String("user_id = :u"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":u": &types.AttributeValueMemberS{Value: userID},
			},
			ProjectionExpression: aws.String("news_id"),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			return nil, fmt.Errorf("[DynamoDB] query views: %w", err)
		}
		for _, item := range out.Items {
			if v, ok := item["news_id"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, v.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return ids, nil
		}
		start = out.LastEvaluatedKey
	}
}

// ClearHistory deletes the user's view records in batches of 25, retrying
// unprocessed items with backoff.
func (d *Dynamo) ClearHistory(ctx context.Context, userID string) error {
	ids, err := d.viewIDs(ctx, userID)
	if err != nil {
		return err
	}

	const maxBatchSize = 25
	for i := 0; i < len(ids); i += maxBatchSize {
		end := min(i+maxBatchSize, len(ids))
		reqs := make([]types.WriteRequest, 0, end-i)
		for _, id := range ids[i:end] {
			reqs = append(reqs, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: d.viewKey(userID, id)},
			})
		}

		pending := map[string][]types.WriteRequest{d.opts.ViewsTable: reqs}
		backoff := 500 * time.Millisecond
		for retry := 0; len(pending) > 0; retry++ {
			if retry > 3 {
				return fmt.Errorf("[DynamoDB] clear history: unprocessed items remain for %s", userID)
			}
			if retry > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
			}
			out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("[DynamoDB] clear history: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func (d *Dynamo) ViewCount(ctx context.Context, userID string) (int, error) {
	ids, err := d.viewIDs(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// LogFeedback writes one record. The sort key is the creation time with
// nanoseconds plus the news id, so records sort chronologically.
func (d *Dynamo) LogFeedback(ctx context.Context, rec FeedbackRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	created := rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	item, err := attributevalue.MarshalMap(dynamoFeedback{
		UserID:    rec.UserID,
		SortKey:   created + "#" + rec.NewsID,
		NewsID:    rec.NewsID,
		Title:     rec.Title,
		Signal:    rec.Signal,
		Reason:    rec.Reason,
		CreatedAt: created,
	})
	if err != nil {
		return fmt.Errorf("[DynamoDB] marshal feedback: %w", err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.opts.FeedbackTable),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("[DynamoDB] put feedback: %w", err)
	}
	return nil
}

func (d *Dynamo) RecentFeedback(ctx context.Context, userID string, limit int) ([]FeedbackRecord, error) {
	var (
		out   []FeedbackRecord
		start map[string]types.AttributeValue
	)
	for {
		in := &dynamodb.QueryInput{
			TableName:              aws.String(d.opts.FeedbackTable),
			KeyConditionExpression: aws.String("user_id = :u"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":u": &types.AttributeValueMemberS{Value: userID},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: start,
		}
		if limit > 0 {
			in.Limit = aws.Int32(int32(limit - len(out)))
		}
		page, err := d.client.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("[DynamoDB] query feedback: %w", err)
		}
		var recs []dynamoFeedback
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("[DynamoDB] unmarshal feedback: %w", err)
		}
		for _, r := range recs {
			created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
			out = append(out, FeedbackRecord{
				UserID:    r.UserID,
				NewsID:    r.NewsID,
				Title:     r.Title,
				Signal:    r.Signal,
				Reason:    r.Reason,
				CreatedAt: created,
			})
		}
		if len(page.LastEvaluatedKey) == 0 || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}

func (d *Dynamo) Close() error { return nil }
