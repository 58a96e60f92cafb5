// Package sqs implements crawler.Queue over an AWS SQS queue.
package sqs

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/JakeFAU/link-crawler/internal/crawler"
	"github.com/JakeFAU/link-crawler/internal/queue"
)

// SQS limits: at most 10 messages per receive and a 12 hour visibility timeout.
const (
	maxBatch      = 10
	maxVisibility = 43200
)

// API is the subset of *sqs.Client used by Queue.
type API interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Queue leases messages from one queue URL.
type Queue struct {
	client      API
	queueURL    string
	waitSeconds int32
}

// New wraps client for queueURL. waitSeconds > 0 enables long polling.
func New(client API, queueURL string, waitSeconds int32) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("sqs client is required")
	}
	if queueURL == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	return &Queue{client: client, queueURL: queueURL, waitSeconds: min(waitSeconds, 20)}, nil
}

// NewClient loads the default AWS configuration for region. A non-empty
// endpoint overrides the service URL, for example a local emulator.
func NewClient(ctx context.Context, region, endpoint string) (*sqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Poll receives up to limit messages with the given visibility timeout.
func (q *Queue) Poll(ctx context.Context, limit int, visibility time.Duration) ([]crawler.Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   int32(min(max(limit, 1), maxBatch)),
		VisibilityTimeout:     queue.VisibilitySeconds(visibility, 0, maxVisibility),
		WaitTimeSeconds:       q.waitSeconds,
		AttributeNames:        []types.QueueAttributeName{types.QueueAttributeName(types.MessageSystemAttributeNameApproximateReceiveCount)},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	msgs := make([]crawler.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, crawler.Message{
			Handle:     aws.ToString(m.ReceiptHandle),
			Body:       decodeBody(aws.ToString(m.Body)),
			Attempt:    receiveCount(m.Attributes),
			Attributes: stringAttributes(m.MessageAttributes),
		})
	}
	return msgs, nil
}

// Delete removes the message from the queue.
func (q *Queue) Delete(ctx context.Context, msg crawler.Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.Handle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// ExtendVisibility resets the message's visibility timeout.
func (q *Queue) ExtendVisibility(ctx context.Context, msg crawler.Message, visibility time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(msg.Handle),
		VisibilityTimeout: queue.VisibilitySeconds(visibility, 0, maxVisibility),
	})
	if err != nil {
		return fmt.Errorf("failed to change message visibility: %w", err)
	}
	return nil
}

// decodeBody undoes the base64 wrapping producers apply to binary envelopes.
// A body that is not base64 is returned as sent.
func decodeBody(body string) []byte {
	if raw, err := base64.StdEncoding.DecodeString(body); err == nil {
		return raw
	}
	return []byte(body)
}

func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil {
		return 0
	}
	return n
}

func stringAttributes(attrs map[string]types.MessageAttributeValue) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if v.StringValue != nil {
			out[k] = *v.StringValue
		}
	}
	return out
}
