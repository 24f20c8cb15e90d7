package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"grievance-intake/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	getByPK      map[string]map[string]types.AttributeValue
	updateOut    *dynamodb.UpdateItemOutput
	updateErr    error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	lastUpdate   *dynamodb.UpdateItemInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	if f.getByPK != nil {
		pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
		return &dynamodb.GetItemOutput{Item: f.getByPK[pk]}, f.getErr
	}
	return f.getOut, f.getErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdate = in
	if f.updateOut == nil {
		return &dynamodb.UpdateItemOutput{}, f.updateErr
	}
	return f.updateOut, f.updateErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func testGrievance() domain.Grievance {
	return domain.Grievance{
		ID:          "g-1",
		TrackingID:  "GRV-20260304-000123",
		CitizenID:   "c-1",
		Text:        "No water supply for 3 days",
		EvidenceURL: "s3://bucket/evidence/a.jpg",
		Location:    &domain.Location{Latitude: 19.07, Longitude: 72.87},
		Status:      domain.StatusPendingAnalysis,
		Channel:     domain.ChannelTelegram,
		CreatedAt:   time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func conditionalCancel() error {
	return &types.TransactionCanceledException{
		Message: aws.String("Transaction cancelled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestCreateGrievance_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.CreateGrievance(context.Background(), testGrievance()))
	require.Len(t, db.lastTxInput.TransactItems, 2)

	g := db.lastTxInput.TransactItems[0].Put
	require.Equal(t, "attribute_not_exists(PK)", *g.ConditionExpression)
	require.Equal(t, "GRIEVANCE#g-1", g.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "pending_analysis", g.Item["status"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "19.07", g.Item["lat"].(*types.AttributeValueMemberN).Value)

	tr := db.lastTxInput.TransactItems[1].Put
	require.Equal(t, "TRACKING#GRV-20260304-000123", tr.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(PK)", *tr.ConditionExpression)
}

func TestCreateGrievance_TextOnlyOmitsOptionalAttributes(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	g := testGrievance()
	g.EvidenceURL = ""
	g.Location = nil

	require.NoError(t, c.CreateGrievance(context.Background(), g))
	item := db.lastTxInput.TransactItems[0].Put.Item
	require.NotContains(t, item, "evidenceUrl")
	require.NotContains(t, item, "lat")
}

func TestCreateGrievance_TrackingCollision(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: conditionalCancel()})
	err := c.CreateGrievance(context.Background(), testGrievance())
	require.ErrorIs(t, err, ErrConflict)
}

func TestCreateGrievance_OtherError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("throttled")})
	err := c.CreateGrievance(context.Background(), testGrievance())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrConflict)
}

func TestCreateGrievance_RequiresIDs(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	err := c.CreateGrievance(context.Background(), domain.Grievance{ID: "g-1"})
	require.Error(t, err)
	require.Nil(t, db.lastTxInput)
}

func TestGetGrievance_RoundTripsItem(t *testing.T) {
	want := testGrievance()
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: grievanceItem(want)}}
	c := mustNewClient(t, db)

	got, err := c.GetGrievance(context.Background(), "g-1")
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetGrievance_NotFound(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, err := c.GetGrievance(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetGrievance_GetItemError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, err := c.GetGrievance(context.Background(), "g-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetGrievance")
}

func TestGetGrievanceByTracking_FollowsReservation(t *testing.T) {
	g := testGrievance()
	db := &fakeDynamo{getByPK: map[string]map[string]types.AttributeValue{
		"TRACKING#GRV-20260304-000123": {
			"PK":          &types.AttributeValueMemberS{Value: "TRACKING#GRV-20260304-000123"},
			"grievanceId": &types.AttributeValueMemberS{Value: "g-1"},
		},
		"GRIEVANCE#g-1": grievanceItem(g),
	}}
	c := mustNewClient(t, db)

	got, err := c.GetGrievanceByTracking(context.Background(), "GRV-20260304-000123")
	require.NoError(t, err)
	require.Equal(t, "g-1", got.ID)
}

func TestGetGrievanceByTracking_NotFound(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getByPK: map[string]map[string]types.AttributeValue{}})
	_, err := c.GetGrievanceByTracking(context.Background(), "GRV-20260304-999999")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDispatched(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.MarkDispatched(context.Background(), "g-1", "m-1", time.Now()))
	require.Equal(t, "m-1", db.lastUpdate.ExpressionAttributeValues[":receipt"].(*types.AttributeValueMemberS).Value)

	c = mustNewClient(t, &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}})
	require.ErrorIs(t, c.MarkDispatched(context.Background(), "g-1", "m-1", time.Now()), ErrNotFound)
}

func TestRecordOutcome_HappyPath(t *testing.T) {
	item := grievanceItem(testGrievance())
	item["status"] = &types.AttributeValueMemberS{Value: "analyzed"}
	item["outcomeSummary"] = &types.AttributeValueMemberS{Value: "Routed to water board"}
	item["callbackCount"] = &types.AttributeValueMemberN{Value: "2"}
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: item}}
	c := mustNewClient(t, db)

	g, err := c.RecordOutcome(context.Background(), "g-1", "Routed to water board", time.Now())
	require.NoError(t, err)
	require.Equal(t, domain.StatusAnalyzed, g.Status)
	require.Equal(t, "Routed to water board", g.OutcomeSummary)
	require.Equal(t, 2, g.CallbackCount)
	require.Equal(t, "attribute_exists(PK)", *db.lastUpdate.ConditionExpression)
	require.Equal(t, types.ReturnValueAllNew, db.lastUpdate.ReturnValues)
}

func TestRecordOutcome_UnknownGrievance(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}})
	_, err := c.RecordOutcome(context.Background(), "missing", "x", time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClaimNotification(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.ClaimNotification(context.Background(), "g-1", time.Now()))
	require.Contains(t, *db.lastUpdate.ConditionExpression, "attribute_not_exists(notifiedAt)")

	c = mustNewClient(t, &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}})
	require.ErrorIs(t, c.ClaimNotification(context.Background(), "g-1", time.Now()), ErrConflict)
}

func TestReleaseNotification(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.ReleaseNotification(context.Background(), "g-1"))
	require.Equal(t, "REMOVE notifiedAt", *db.lastUpdate.UpdateExpression)

	c = mustNewClient(t, &fakeDynamo{updateErr: errors.New("boom")})
	require.Error(t, c.ReleaseNotification(context.Background(), "g-1"))
}

func TestNextTrackingSequence(t *testing.T) {
	db := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		"seq": &types.AttributeValueMemberN{Value: "7"},
	}}}
	c := mustNewClient(t, db)

	n, err := c.NextTrackingSequence(context.Background(), "20260304")
	require.NoError(t, err)
	require.Equal(t, int64(7), n)
	require.Equal(t, "TRACKSEQ#20260304", db.lastUpdate.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "ADD seq :one", *db.lastUpdate.UpdateExpression)
	require.Equal(t, types.ReturnValueUpdatedNew, db.lastUpdate.ReturnValues)
}

func TestNextTrackingSequence_Error(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{updateErr: errors.New("throttled")})
	_, err := c.NextTrackingSequence(context.Background(), "20260304")
	require.Error(t, err)
}

func TestIsConditionFailure(t *testing.T) {
	require.True(t, isConditionFailure(&types.ConditionalCheckFailedException{}))
	require.True(t, isConditionFailure(conditionalCancel()))
	require.False(t, isConditionFailure(&types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String("ThrottlingError")}},
	}))
	require.False(t, isConditionFailure(errors.New("boom")))
}
