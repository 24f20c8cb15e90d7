package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"grievance-intake/internal/domain"
)

// ResolveOrRegister upserts the citizen bound to handle and returns it.
// The citizen id is assigned once; stored fields survive unless a new
// non-empty value is supplied. Repeating the call is harmless.
func (c *Client) ResolveOrRegister(ctx context.Context, handle string, profile domain.Profile, loc *domain.Location) (domain.Citizen, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return domain.Citizen{}, errors.New("repository: ResolveOrRegister: handle is required")
	}
	now := time.Now().UTC().Format(time.RFC3339)

	sets := []string{
		"citizenId = if_not_exists(citizenId, :id)",
		"channelHandle = :handle",
		"registrationState = :state",
		"createdAt = if_not_exists(createdAt, :now)",
		"updatedAt = :now",
	}
	values := map[string]types.AttributeValue{
		":id":     &types.AttributeValueMemberS{Value: newCitizenID()},
		":handle": &types.AttributeValueMemberS{Value: handle},
		":state":  &types.AttributeValueMemberS{Value: string(domain.StateRegistered)},
		":now":    &types.AttributeValueMemberS{Value: now},
	}
	if name := strings.TrimSpace(profile.DisplayName); name != "" {
		sets = append(sets, "displayName = :name")
		values[":name"] = &types.AttributeValueMemberS{Value: name}
	}
	if phone := strings.TrimSpace(profile.Phone); phone != "" {
		sets = append(sets, "phone = :phone")
		values[":phone"] = &types.AttributeValueMemberS{Value: phone}
	}
	if loc != nil {
		sets = append(sets, "lat = :lat", "lon = :lon")
		values[":lat"] = numAttr(loc.Latitude)
		values[":lon"] = numAttr(loc.Longitude)
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       key(citizenPK(handle), skProfile),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return domain.Citizen{}, fmt.Errorf("repository: ResolveOrRegister: %w", err)
	}
	citizen, err := itemToCitizen(out.Attributes)
	if err != nil {
		return domain.Citizen{}, fmt.Errorf("repository: ResolveOrRegister decode: %w", err)
	}
	return citizen, nil
}

// Deactivate flips the citizen to deactivated. History and grievances stay.
func (c *Client) Deactivate(ctx context.Context, handle string) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(citizenPK(handle), skProfile),
		UpdateExpression:    aws.String("SET registrationState = :state, updatedAt = :now"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":state": &types.AttributeValueMemberS{Value: string(domain.StateDeactivated)},
			":now":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			return ErrNotFound
		}
		return fmt.Errorf("repository: Deactivate: %w", err)
	}
	return nil
}

// GetByHandle returns the citizen bound to handle or ErrNotFound.
func (c *Client) GetByHandle(ctx context.Context, handle string) (domain.Citizen, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(citizenPK(handle), skProfile),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Citizen{}, fmt.Errorf("repository: GetByHandle: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Citizen{}, ErrNotFound
	}
	citizen, err := itemToCitizen(out.Item)
	if err != nil {
		return domain.Citizen{}, fmt.Errorf("repository: GetByHandle decode: %w", err)
	}
	return citizen, nil
}

func itemToCitizen(item map[string]types.AttributeValue) (domain.Citizen, error) {
	id, err := strAttr(item, "citizenId")
	if err != nil {
		return domain.Citizen{}, err
	}
	handle, err := strAttr(item, "channelHandle")
	if err != nil {
		return domain.Citizen{}, err
	}
	loc, err := locationAttrs(item)
	if err != nil {
		return domain.Citizen{}, err
	}
	state := domain.RegistrationState(optStrAttr(item, "registrationState"))
	if state == "" {
		state = domain.StateUnregistered
	}
	return domain.Citizen{
		ID:                id,
		ChannelHandle:     handle,
		DisplayName:       optStrAttr(item, "displayName"),
		Phone:             optStrAttr(item, "phone"),
		Location:          loc,
		RegistrationState: state,
		CreatedAt:         optStrAttr(item, "createdAt"),
		UpdatedAt:         optStrAttr(item, "updatedAt"),
	}, nil
}

var newCitizenID = func() string {
	return uuid.NewString()
}
