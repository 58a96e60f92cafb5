// Package pubsub implements crawler.Queue over a Google Cloud Pub/Sub pull subscription.
package pubsub

import (
	"context"
	"fmt"
	"time"

	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/link-crawler/internal/crawler"
	"github.com/JakeFAU/link-crawler/internal/queue"
)

// Pub/Sub accepts ack deadlines between 10 seconds and 10 minutes.
const (
	minAckDeadline = 10
	maxAckDeadline = 600
)

// SubscriberClient is the subset of the generated subscriber client used by Queue.
type SubscriberClient interface {
	Pull(ctx context.Context, req *pubsubpb.PullRequest, opts ...gax.CallOption) (*pubsubpb.PullResponse, error)
	Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest, opts ...gax.CallOption) error
	ModifyAckDeadline(ctx context.Context, req *pubsubpb.ModifyAckDeadlineRequest, opts ...gax.CallOption) error
}

// Queue leases messages from one subscription. The ack deadline plays the
// role of the visibility timeout.
type Queue struct {
	client       SubscriberClient
	subscription string
}

// New wraps an existing subscriber client.
func New(client SubscriberClient, projectID, subscriptionID string) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("subscriber client is required")
	}
	if projectID == "" || subscriptionID == "" {
		return nil, fmt.Errorf("project and subscription are required")
	}
	return &Queue{
		client:       client,
		subscription: fullSubscriptionName(projectID, subscriptionID),
	}, nil
}

// NewClient dials the Pub/Sub API. A non-empty endpoint targets an emulator
// without authentication or TLS.
func NewClient(ctx context.Context, endpoint string) (*pubsubapi.SubscriberClient, error) {
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts,
			option.WithEndpoint(endpoint),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsubapi.NewSubscriberClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub subscriber client: %w", err)
	}
	return client, nil
}

func fullSubscriptionName(projectID, subscriptionID string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscriptionID)
}

// Poll pulls up to limit messages and sets their ack deadline to visibility.
func (q *Queue) Poll(ctx context.Context, limit int, visibility time.Duration) ([]crawler.Message, error) {
	if limit <= 0 {
		limit = 1
	}
	resp, err := q.client.Pull(ctx, &pubsubpb.PullRequest{
		Subscription: q.subscription,
		MaxMessages:  int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", q.subscription, err)
	}
	received := resp.GetReceivedMessages()
	if len(received) == 0 {
		return nil, nil
	}

	ackIDs := make([]string, 0, len(received))
	msgs := make([]crawler.Message, 0, len(received))
	for _, rm := range received {
		ackIDs = append(ackIDs, rm.GetAckId())
		msgs = append(msgs, crawler.Message{
			Handle:     rm.GetAckId(),
			Body:       rm.GetMessage().GetData(),
			Attempt:    int(rm.GetDeliveryAttempt()),
			Attributes: rm.GetMessage().GetAttributes(),
		})
	}
	if err := q.modify(ctx, ackIDs, visibility); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Delete acknowledges the message.
func (q *Queue) Delete(ctx context.Context, msg crawler.Message) error {
	err := q.client.Acknowledge(ctx, &pubsubpb.AcknowledgeRequest{
		Subscription: q.subscription,
		AckIds:       []string{msg.Handle},
	})
	if err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}
	return nil
}

// ExtendVisibility moves the message's ack deadline to visibility from now.
func (q *Queue) ExtendVisibility(ctx context.Context, msg crawler.Message, visibility time.Duration) error {
	return q.modify(ctx, []string{msg.Handle}, visibility)
}

func (q *Queue) modify(ctx context.Context, ackIDs []string, visibility time.Duration) error {
	err := q.client.ModifyAckDeadline(ctx, &pubsubpb.ModifyAckDeadlineRequest{
		Subscription:       q.subscription,
		AckIds:             ackIDs,
		AckDeadlineSeconds: queue.VisibilitySeconds(visibility, minAckDeadline, maxAckDeadline),
	})
	if err != nil {
		return fmt.Errorf("modify ack deadline: %w", err)
	}
	return nil
}
