package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"grievance-intake/internal/domain"
)

// sqsAPI is the minimal SQS interface required by Client.
type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Client enqueues dispatch messages for the analysis worker. Delivery is
// at-least-once; each Enqueue is a single attempt.
type Client struct {
	api      sqsAPI
	queueURL string
}

// New creates a queue Client for queueURL.
func New(api sqsAPI, queueURL string) (*Client, error) {
	if api == nil {
		return nil, errors.New("queue: api must not be nil")
	}
	if strings.TrimSpace(queueURL) == "" {
		return nil, errors.New("queue: queue url must not be empty")
	}
	return &Client{api: api, queueURL: queueURL}, nil
}

// Enqueue sends msg as a JSON body and returns the broker message id.
func (c *Client) Enqueue(ctx context.Context, msg domain.DispatchMessage) (string, error) {
	if msg.GrievanceID == "" {
		return "", errors.New("queue: Enqueue: grievance id is required")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("queue: marshal message: %w", err)
	}
	out, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"grievance_id": {DataType: aws.String("String"), StringValue: aws.String(msg.GrievanceID)},
			"channel":      {DataType: aws.String("String"), StringValue: aws.String(string(msg.Correlation.Channel))},
		},
	})
	if err != nil {
		return "", fmt.Errorf("queue: Enqueue %s: %w", msg.GrievanceID, err)
	}
	if out == nil || out.MessageId == nil {
		return "", errors.New("queue: Enqueue: missing message id")
	}
	return *out.MessageId, nil
}
