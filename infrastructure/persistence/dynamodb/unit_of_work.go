package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"knowgraph/application/ports"
	"knowgraph/domain/versioning"
)

// maxTransactItems is DynamoDB's limit for one TransactWriteItems call
const maxTransactItems = 100

// unitOfWork implements ports.GraphTx by buffering conditional writes
type unitOfWork struct {
	repo  *GraphRepository
	items []types.TransactWriteItem

	// pending snapshot inserts and deletes per graph, so counts read
	// inside the unit of work reflect its own buffered writes
	inserted map[string]int
	deleted  map[string][]int
}

var _ ports.GraphTx = (*unitOfWork)(nil)

func newUnitOfWork(repo *GraphRepository) *unitOfWork {
	return &unitOfWork{
		repo:     repo,
		inserted: make(map[string]int),
		deleted:  make(map[string][]int),
	}
}

// LatestVersion reads the highest snapshot key of the graph
func (u *unitOfWork) LatestVersion(ctx context.Context, graphID string) (int, error) {
	versions, err := u.snapshotVersions(ctx, graphID, false, 1)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[0], nil
}

// InsertSnapshot buffers a Put that fails if the version key already exists
func (u *unitOfWork) InsertSnapshot(ctx context.Context, snap versioning.Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}

	av, err := attributevalue.MarshalMap(newSnapshotItem(snap))
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("PK").AttributeNotExists()).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	u.items = append(u.items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                aws.String(u.repo.tableName),
			Item:                     av,
			ConditionExpression:      expr.Condition(),
			ExpressionAttributeNames: expr.Names(),
		},
	})
	u.inserted[snap.GraphID]++
	return nil
}

// CountSnapshots counts stored snapshots plus the ones buffered here
func (u *unitOfWork) CountSnapshots(ctx context.Context, graphID string) (int, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(graphPK(graphID))).
		And(expression.Key("SK").BeginsWith(skVersionPrefix))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(u.repo.client, &dynamodb.QueryInput{
		TableName:                 aws.String(u.repo.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Select:                    types.SelectCount,
		ConsistentRead:            aws.Bool(true),
	})

	count := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to count snapshots: %w", err)
		}
		count += int(page.Count)
	}
	return count + u.inserted[graphID] - len(u.deleted[graphID]), nil
}

// DeleteOldestSnapshot buffers a Delete of the lowest stored version
func (u *unitOfWork) DeleteOldestSnapshot(ctx context.Context, graphID string) (int, error) {
	skip := len(u.deleted[graphID])
	versions, err := u.snapshotVersions(ctx, graphID, true, int32(skip+1))
	if err != nil {
		return 0, err
	}
	if len(versions) <= skip {
		return 0, nil
	}
	oldest := versions[skip]

	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("PK").AttributeExists()).
		Build()
	if err != nil {
		return 0, fmt.Errorf("failed to build expression: %w", err)
	}

	u.items = append(u.items, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:                aws.String(u.repo.tableName),
			Key:                      itemKey(graphPK(graphID), snapshotSK(oldest)),
			ConditionExpression:      expr.Condition(),
			ExpressionAttributeNames: expr.Names(),
		},
	})
	u.deleted[graphID] = append(u.deleted[graphID], oldest)
	return oldest, nil
}

// UpsertCurrent buffers a Put of the current row that never moves it backwards
func (u *unitOfWork) UpsertCurrent(ctx context.Context, rec ports.CurrentRecord) error {
	av, err := attributevalue.MarshalMap(newCurrentItem(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	cond := expression.Name("PK").AttributeNotExists().
		Or(expression.Name("Version").LessThan(expression.Value(rec.Version)))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	u.items = append(u.items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 aws.String(u.repo.tableName),
			Item:                      av,
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		},
	})
	return nil
}

func (u *unitOfWork) commit(ctx context.Context) error {
	if len(u.items) == 0 {
		return nil
	}
	if len(u.items) > maxTransactItems {
		return fmt.Errorf("unit of work has %d writes, limit is %d", len(u.items), maxTransactItems)
	}

	_, err := u.repo.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      u.items,
		ClientRequestToken: aws.String(uuid.New().String()),
	})
	if err != nil {
		if isConditionFailure(err) {
			u.repo.logger.Debug("Transaction rejected by condition check", zap.Error(err))
			return fmt.Errorf("committing transaction: %w", ports.ErrVersionConflict)
		}
		return fmt.Errorf("committing transaction: %w", err)
	}

	u.repo.logger.Debug("Committed unit of work", zap.Int("writes", len(u.items)))
	return nil
}

// snapshotVersions returns up to limit snapshot versions in key order
func (u *unitOfWork) snapshotVersions(ctx context.Context, graphID string, ascending bool, limit int32) ([]int, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(graphPK(graphID))).
		And(expression.Key("SK").BeginsWith(skVersionPrefix))
	proj := expression.NamesList(expression.Name("SK"))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).WithProjection(proj).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := u.repo.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(u.repo.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(ascending),
		ConsistentRead:            aws.Bool(true),
		Limit:                     aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}

	versions := make([]int, 0, len(result.Items))
	for _, item := range result.Items {
		sk, ok := item["SK"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		v, err := parseSnapshotSK(sk.Value)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// isConditionFailure reports whether a write was rejected by one of its
// conditions, which here always means a concurrent save won
func isConditionFailure(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed", "TransactionConflict":
				return true
			}
		}
		return false
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ConditionalCheckFailedException", "TransactionConflictException":
			return true
		}
	}
	return false
}
