package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"knowgraph/application/ports"
	"knowgraph/domain/graph"
	"knowgraph/domain/versioning"
)

// API is the subset of the DynamoDB client the repository uses
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// batchWriteLimit is DynamoDB's maximum number of requests per BatchWriteItem
const batchWriteLimit = 25

// GraphRepository implements ports.GraphRepository on a single DynamoDB table
type GraphRepository struct {
	client    API
	tableName string
	logger    *zap.Logger
}

var _ ports.GraphRepository = (*GraphRepository)(nil)

// NewGraphRepository creates a new GraphRepository
func NewGraphRepository(client API, tableName string, logger *zap.Logger) *GraphRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// WithinTx buffers the writes of fn and commits them with one
// TransactWriteItems call. Reads inside fn are strongly consistent but not
// isolated; the conditions attached to each write reject a commit that
// raced with another writer.
func (r *GraphRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.GraphTx) error) error {
	tx := newUnitOfWork(r)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

// GetCurrent retrieves the current row of a graph
func (r *GraphRepository) GetCurrent(ctx context.Context, graphID string) (*ports.CurrentRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(graphPK(graphID), skCurrent),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get graph: %w", err)
	}
	if len(result.Item) == 0 {
		return nil, fmt.Errorf("graph %s: %w", graphID, ports.ErrGraphNotFound)
	}

	var item currentItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	return item.record(), nil
}

// ListHistory returns the snapshots of a graph, newest first
func (r *GraphRepository) ListHistory(ctx context.Context, graphID string) ([]versioning.VersionEntry, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(graphPK(graphID))).
		And(expression.Key("SK").BeginsWith(skVersionPrefix))
	proj := expression.NamesList(expression.Name("Version"), expression.Name("CreatedAt"), expression.Name("Checksum"))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithProjection(proj).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	})

	entries := []versioning.VersionEntry{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query history: %w", err)
		}
		var items []snapshotItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
		for _, item := range items {
			entries = append(entries, item.entry())
		}
	}
	return entries, nil
}

// GetSnapshot retrieves one snapshot
func (r *GraphRepository) GetSnapshot(ctx context.Context, graphID string, version int) (*versioning.Snapshot, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(graphPK(graphID), snapshotSK(version)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	if len(result.Item) == 0 {
		return nil, fmt.Errorf("graph %s version %d: %w", graphID, version, ports.ErrVersionNotFound)
	}

	var item snapshotItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return item.snapshot(), nil
}

// List returns a summary of every graph
func (r *GraphRepository) List(ctx context.Context) ([]graph.Summary, error) {
	filter := expression.Name("EntityType").Equal(expression.Value(entityGraph))
	proj := expression.NamesList(
		expression.Name("GraphID"),
		expression.Name("Title"),
		expression.Name("Description"),
		expression.Name("CreatedBy"),
		expression.Name("Version"),
		expression.Name("UpdatedAt"),
	)

	expr, err := expression.NewBuilder().WithFilter(filter).WithProjection(proj).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                 aws.String(r.tableName),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	summaries := []graph.Summary{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan graphs: %w", err)
		}
		var items []currentItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal graphs: %w", err)
		}
		for _, item := range items {
			summaries = append(summaries, item.summary())
		}
	}
	return summaries, nil
}

// Delete removes every item under the graph's partition key
func (r *GraphRepository) Delete(ctx context.Context, graphID string) (int, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(graphPK(graphID)))
	proj := expression.NamesList(expression.Name("PK"), expression.Name("SK"))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithProjection(proj).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
	})

	var requests []types.WriteRequest
	snapshots := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to query graph items: %w", err)
		}
		for _, key := range page.Items {
			if sk, ok := key["SK"].(*types.AttributeValueMemberS); ok && sk.Value != skCurrent {
				snapshots++
			}
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			})
		}
	}

	if len(requests) == 0 {
		return 0, fmt.Errorf("graph %s: %w", graphID, ports.ErrGraphNotFound)
	}

	for start := 0; start < len(requests); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}
		if err := r.batchDelete(ctx, requests[start:end]); err != nil {
			return 0, err
		}
	}

	r.logger.Info("Deleted graph from DynamoDB",
		zap.String("graphID", graphID),
		zap.Int("snapshots", snapshots),
	)
	return snapshots, nil
}

func (r *GraphRepository) batchDelete(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{r.tableName: requests}

	for attempt := 0; attempt < 5 && len(pending[r.tableName]) > 0; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*50) * time.Millisecond):
			}
		}

		out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("failed to delete graph items: %w", err)
		}
		pending = out.UnprocessedItems
	}

	if left := len(pending[r.tableName]); left > 0 {
		return fmt.Errorf("failed to delete graph items: %d unprocessed", left)
	}
	return nil
}

// Ping checks that the table is reachable
func (r *GraphRepository) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to describe table %s: %w", r.tableName, err)
	}
	return nil
}

// EnsureTable creates the table with on-demand billing when it does not exist
func (r *GraphRepository) EnsureTable(ctx context.Context) (bool, error) {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.tableName),
	})
	if err == nil {
		return false, nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return false, fmt.Errorf("failed to describe table %s: %w", r.tableName, err)
	}

	_, err = r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(r.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create table %s: %w", r.tableName, err)
	}

	r.logger.Info("Created DynamoDB table", zap.String("table", r.tableName))
	return true, nil
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}
