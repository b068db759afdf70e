package dynamodb

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
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"knowgraph/application/ports"
	"knowgraph/domain/versioning"
)

// MockDynamoDB is a mock implementation of API
type MockDynamoDB struct {
	mock.Mock
}

func (m *MockDynamoDB) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.GetItemOutput), args.Error(1)
}

func (m *MockDynamoDB) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.QueryOutput), args.Error(1)
}

func (m *MockDynamoDB) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.ScanOutput), args.Error(1)
}

func (m *MockDynamoDB) TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.TransactWriteItemsOutput), args.Error(1)
}

func (m *MockDynamoDB) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.BatchWriteItemOutput), args.Error(1)
}

func (m *MockDynamoDB) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DescribeTableOutput), args.Error(1)
}

func (m *MockDynamoDB) CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.CreateTableOutput), args.Error(1)
}

func versionKey(version int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"SK": &types.AttributeValueMemberS{Value: snapshotSK(version)},
	}
}

func isCountQuery(in *dynamodb.QueryInput) bool {
	return in.Select == types.SelectCount
}

func isLatestQuery(in *dynamodb.QueryInput) bool {
	return in.Select != types.SelectCount && in.ScanIndexForward != nil && !*in.ScanIndexForward
}

func isOldestQuery(in *dynamodb.QueryInput) bool {
	return in.Select != types.SelectCount && in.ScanIndexForward != nil && *in.ScanIndexForward
}

func TestSnapshotKeys(t *testing.T) {
	assert.Equal(t, "GRAPH#g1", graphPK("g1"))
	assert.Equal(t, "VERSION#0000000007", snapshotSK(7))

	v, err := parseSnapshotSK("VERSION#0000000042")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = parseSnapshotSK(skCurrent)
	assert.Error(t, err)

	// lexical order of keys follows numeric order
	assert.Less(t, snapshotSK(9), snapshotSK(10))
}

func TestGetCurrent_NotFound(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := repo.GetCurrent(context.Background(), "g1")
	assert.ErrorIs(t, err, ports.ErrGraphNotFound)
}

func TestGetCurrent_Found(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	av, err := attributevalue.MarshalMap(newCurrentItem(ports.CurrentRecord{
		ID:            "g1",
		Title:         "Title",
		Version:       3,
		FormatVersion: 2,
		Data:          []byte(`{"nodes":[]}`),
		UpdatedAt:     updated,
	}))
	require.NoError(t, err)

	client.On("GetItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.GetItemInput) bool {
		sk := in.Key["SK"].(*types.AttributeValueMemberS).Value
		return aws.ToString(in.TableName) == "graphs" && sk == skCurrent && aws.ToBool(in.ConsistentRead)
	})).Return(&dynamodb.GetItemOutput{Item: av}, nil)

	rec, err := repo.GetCurrent(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", rec.ID)
	assert.Equal(t, "Title", rec.Title)
	assert.Equal(t, 3, rec.Version)
	assert.Equal(t, `{"nodes":[]}`, string(rec.Data))
	assert.True(t, updated.Equal(rec.UpdatedAt))
}

func TestGetSnapshot_NotFound(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	client.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil)

	_, err := repo.GetSnapshot(context.Background(), "g1", 4)
	assert.ErrorIs(t, err, ports.ErrVersionNotFound)
}

func TestWithinTx_SaveWithPrune(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	client.On("Query", mock.Anything, mock.MatchedBy(isLatestQuery)).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{versionKey(20)}}, nil)
	client.On("Query", mock.Anything, mock.MatchedBy(isCountQuery)).
		Return(&dynamodb.QueryOutput{Count: 20}, nil)
	client.On("Query", mock.Anything, mock.MatchedBy(isOldestQuery)).
		Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{versionKey(1)}}, nil)
	client.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
		return len(in.TransactItems) == 3 &&
			in.TransactItems[0].Put != nil &&
			in.TransactItems[1].Delete != nil &&
			in.TransactItems[2].Put != nil &&
			in.ClientRequestToken != nil
	})).Return(&dynamodb.TransactWriteItemsOutput{}, nil)

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx ports.GraphTx) error {
		latest, err := tx.LatestVersion(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, 20, latest)

		require.NoError(t, tx.InsertSnapshot(ctx, versioning.Snapshot{GraphID: "g1", Version: 21, FormatVersion: 2, Data: []byte(`{}`)}))

		count, err := tx.CountSnapshots(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, 21, count)

		oldest, err := tx.DeleteOldestSnapshot(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, 1, oldest)

		return tx.UpsertCurrent(ctx, ports.CurrentRecord{ID: "g1", Version: 21, FormatVersion: 2, Data: []byte(`{}`)})
	})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestWithinTx_ConditionFailureIsVersionConflict(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	canceled := &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}
	client.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, canceled)

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx ports.GraphTx) error {
		if err := tx.InsertSnapshot(ctx, versioning.Snapshot{GraphID: "g1", Version: 1}); err != nil {
			return err
		}
		return tx.UpsertCurrent(ctx, ports.CurrentRecord{ID: "g1", Version: 1})
	})
	assert.ErrorIs(t, err, ports.ErrVersionConflict)
}

func TestWithinTx_OtherCommitErrorPassesThrough(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	client.On("TransactWriteItems", mock.Anything, mock.Anything).
		Return(nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")})

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx ports.GraphTx) error {
		return tx.InsertSnapshot(ctx, versioning.Snapshot{GraphID: "g1", Version: 1})
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ports.ErrVersionConflict))
}

func TestWithinTx_FnErrorSkipsCommit(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	boom := errors.New("boom")
	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx ports.GraphTx) error {
		require.NoError(t, tx.InsertSnapshot(ctx, versioning.Snapshot{GraphID: "g1", Version: 1}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	client.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
}

func TestListHistory(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	var items []map[string]types.AttributeValue
	for _, v := range []int{3, 2, 1} {
		av, err := attributevalue.MarshalMap(newSnapshotItem(versioning.Snapshot{GraphID: "g1", Version: v}))
		require.NoError(t, err)
		items = append(items, av)
	}
	client.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{Items: items}, nil)

	history, err := repo.ListHistory(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].Version)
	assert.Equal(t, 1, history[2].Version)
}

func TestDelete(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	keys := []map[string]types.AttributeValue{
		itemKey(graphPK("g1"), skCurrent),
		itemKey(graphPK("g1"), snapshotSK(1)),
		itemKey(graphPK("g1"), snapshotSK(2)),
	}
	client.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{Items: keys}, nil)
	client.On("BatchWriteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.BatchWriteItemInput) bool {
		return len(in.RequestItems["graphs"]) == 3
	})).Return(&dynamodb.BatchWriteItemOutput{}, nil)

	removed, err := repo.Delete(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	client.AssertExpectations(t)
}

func TestDelete_NotFound(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	client.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)

	_, err := repo.Delete(context.Background(), "g1")
	assert.ErrorIs(t, err, ports.ErrGraphNotFound)
}

func TestEnsureTable_CreatesMissingTable(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	client.On("DescribeTable", mock.Anything, mock.Anything).
		Return(nil, &types.ResourceNotFoundException{Message: aws.String("no table")})
	client.On("CreateTable", mock.Anything, mock.MatchedBy(func(in *dynamodb.CreateTableInput) bool {
		return aws.ToString(in.TableName) == "graphs" && in.BillingMode == types.BillingModePayPerRequest
	})).Return(&dynamodb.CreateTableOutput{}, nil)

	created, err := repo.EnsureTable(context.Background())
	require.NoError(t, err)
	assert.True(t, created)
	client.AssertExpectations(t)
}

func TestEnsureTable_Existing(t *testing.T) {
	client := new(MockDynamoDB)
	repo := NewGraphRepository(client, "graphs", zap.NewNop())

	client.On("DescribeTable", mock.Anything, mock.Anything).Return(&dynamodb.DescribeTableOutput{}, nil)

	created, err := repo.EnsureTable(context.Background())
	require.NoError(t, err)
	assert.False(t, created)
	client.AssertNotCalled(t, "CreateTable", mock.Anything, mock.Anything)
}
