package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"grievance-intake/internal/domain"
)

// CreateGrievance writes the grievance and reserves its tracking id in one
// transaction. A taken tracking id yields ErrConflict and writes nothing.
func (c *Client) CreateGrievance(ctx context.Context, g domain.Grievance) error {
	if g.ID == "" || g.TrackingID == "" || g.CitizenID == "" {
		return errors.New("repository: CreateGrievance: id, tracking id and citizen id are required")
	}

	trackingItem := key(trackingPK(g.TrackingID), skMeta)
	trackingItem["grievanceId"] = &types.AttributeValueMemberS{Value: g.ID}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                grievanceItem(g),
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                trackingItem,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return fmt.Errorf("repository: CreateGrievance %s: %w", g.TrackingID, ErrConflict)
		}
		return fmt.Errorf("repository: CreateGrievance: %w", err)
	}
	return nil
}

// NextTrackingSequence increments and returns the tracking counter for day
// (YYYYMMDD). Counter items live beside the reservations they feed.
func (c *Client) NextTrackingSequence(ctx context.Context, day string) (int64, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              key(trackingSeqPK(day), skMeta),
		UpdateExpression: aws.String("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("repository: NextTrackingSequence: %w", err)
	}
	n, err := intAttr(out.Attributes, "seq")
	if err != nil {
		return 0, fmt.Errorf("repository: NextTrackingSequence decode: %w", err)
	}
	return int64(n), nil
}

// GetGrievance fetches a grievance by its internal id.
func (c *Client) GetGrievance(ctx context.Context, id string) (domain.Grievance, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(grievancePK(id), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Grievance{}, fmt.Errorf("repository: GetGrievance: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Grievance{}, ErrNotFound
	}
	g, err := itemToGrievance(out.Item)
	if err != nil {
		return domain.Grievance{}, fmt.Errorf("repository: GetGrievance decode: %w", err)
	}
	return g, nil
}

// GetGrievanceByTracking resolves a public tracking id to its grievance.
func (c *Client) GetGrievanceByTracking(ctx context.Context, trackingID string) (domain.Grievance, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(trackingPK(trackingID), skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Grievance{}, fmt.Errorf("repository: GetGrievanceByTracking: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Grievance{}, ErrNotFound
	}
	id, err := strAttr(out.Item, "grievanceId")
	if err != nil {
		return domain.Grievance{}, fmt.Errorf("repository: GetGrievanceByTracking decode: %w", err)
	}
	return c.GetGrievance(ctx, id)
}

// MarkDispatched stamps a grievance with its queue receipt. Grievances
// without dispatchedAt are the reconciliation backlog.
func (c *Client) MarkDispatched(ctx context.Context, id, receipt string, at time.Time) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(grievancePK(id), skMeta),
		UpdateExpression:    aws.String("SET dispatchedAt = :at, dispatchReceipt = :receipt"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":      &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
			":receipt": &types.AttributeValueMemberS{Value: receipt},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: MarkDispatched: %w", err)
	}
	return nil
}

// RecordOutcome stores the analysis summary and counts the delivery. Repeated
// deliveries overwrite the summary with the latest one.
func (c *Client) RecordOutcome(ctx context.Context, id, summary string, at time.Time) (domain.Grievance, error) {
	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(grievancePK(id), skMeta),
		UpdateExpression:    aws.String("SET outcomeSummary = :summary, #status = :status, analyzedAt = :at ADD callbackCount :one"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":summary": &types.AttributeValueMemberS{Value: summary},
			":status":  &types.AttributeValueMemberS{Value: string(domain.StatusAnalyzed)},
			":at":      &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
			":one":     &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailure(err) {
			return domain.Grievance{}, ErrNotFound
		}
		return domain.Grievance{}, fmt.Errorf("repository: RecordOutcome: %w", err)
	}
	g, err := itemToGrievance(out.Attributes)
	if err != nil {
		return domain.Grievance{}, fmt.Errorf("repository: RecordOutcome decode: %w", err)
	}
	return g, nil
}

// ClaimNotification marks the grievance as notified. A second claim returns
// ErrConflict.
func (c *Client) ClaimNotification(ctx context.Context, id string, at time.Time) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(grievancePK(id), skMeta),
		UpdateExpression:    aws.String("SET notifiedAt = :at"),
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_not_exists(notifiedAt)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrConflict
		}
		return fmt.Errorf("repository: ClaimNotification: %w", err)
	}
	return nil
}

// ReleaseNotification undoes a claim whose notification could not be sent.
func (c *Client) ReleaseNotification(ctx context.Context, id string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              key(grievancePK(id), skMeta),
		UpdateExpression: aws.String("REMOVE notifiedAt"),
	})
	if err != nil {
		return fmt.Errorf("repository: ReleaseNotification: %w", err)
	}
	return nil
}

func grievanceItem(g domain.Grievance) map[string]types.AttributeValue {
	item := key(grievancePK(g.ID), skMeta)
	item["grievanceId"] = &types.AttributeValueMemberS{Value: g.ID}
	item["trackingId"] = &types.AttributeValueMemberS{Value: g.TrackingID}
	item["citizenId"] = &types.AttributeValueMemberS{Value: g.CitizenID}
	item["text"] = &types.AttributeValueMemberS{Value: g.Text}
	item["status"] = &types.AttributeValueMemberS{Value: string(g.Status)}
	item["channel"] = &types.AttributeValueMemberS{Value: string(g.Channel)}
	item["createdAt"] = &types.AttributeValueMemberS{Value: g.CreatedAt.UTC().Format(time.RFC3339Nano)}
	if g.EvidenceURL != "" {
		item["evidenceUrl"] = &types.AttributeValueMemberS{Value: g.EvidenceURL}
	}
	if g.Location != nil {
		item["lat"] = numAttr(g.Location.Latitude)
		item["lon"] = numAttr(g.Location.Longitude)
	}
	return item
}

func itemToGrievance(item map[string]types.AttributeValue) (domain.Grievance, error) {
	id, err := strAttr(item, "grievanceId")
	if err != nil {
		return domain.Grievance{}, err
	}
	tracking, err := strAttr(item, "trackingId")
	if err != nil {
		return domain.Grievance{}, err
	}
	citizenID, err := strAttr(item, "citizenId")
	if err != nil {
		return domain.Grievance{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Grievance{}, err
	}
	createdRaw, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Grievance{}, err
	}
	created, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return domain.Grievance{}, fmt.Errorf("repository: parse createdAt: %w", err)
	}
	loc, err := locationAttrs(item)
	if err != nil {
		return domain.Grievance{}, err
	}
	callbacks := 0
	if _, ok := item["callbackCount"]; ok {
		callbacks, err = intAttr(item, "callbackCount")
		if err != nil {
			return domain.Grievance{}, err
		}
	}

	return domain.Grievance{
		ID:             id,
		TrackingID:     tracking,
		CitizenID:      citizenID,
		Text:           text,
		EvidenceURL:    optStrAttr(item, "evidenceUrl"),
		Location:       loc,
		Status:         domain.GrievanceStatus(optStrAttr(item, "status")),
		Channel:        domain.Channel(optStrAttr(item, "channel")),
		CreatedAt:      created,
		DispatchedAt:   optStrAttr(item, "dispatchedAt"),
		OutcomeSummary: optStrAttr(item, "outcomeSummary"),
		CallbackCount:  callbacks,
	}, nil
}

func locationAttrs(item map[string]types.AttributeValue) (*domain.Location, error) {
	lat, okLat, err := floatAttr(item, "lat")
	if err != nil {
		return nil, err
	}
	lon, okLon, err := floatAttr(item, "lon")
	if err != nil {
		return nil, err
	}
	if !okLat || !okLon {
		return nil, nil
	}
	return &domain.Location{Latitude: lat, Longitude: lon}, nil
}
