package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

type mockSubscriber struct {
	mock.Mock
}

func (m *mockSubscriber) Pull(ctx context.Context, req *pubsubpb.PullRequest, _ ...gax.CallOption) (*pubsubpb.PullResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*pubsubpb.PullResponse)
	return resp, args.Error(1)
}

func (m *mockSubscriber) Acknowledge(ctx context.Context, req *pubsubpb.AcknowledgeRequest, _ ...gax.CallOption) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockSubscriber) ModifyAckDeadline(ctx context.Context, req *pubsubpb.ModifyAckDeadlineRequest, _ ...gax.CallOption) error {
	return m.Called(ctx, req).Error(0)
}

const subName = "projects/proj/subscriptions/hndr-crawl"

func TestPollLeasesMessages(t *testing.T) {
	client := &mockSubscriber{}
	q, err := New(client, "proj", "hndr-crawl")
	require.NoError(t, err)

	body, err := crawler.EncodeTask(crawler.CrawlTask{ID: 9, Scheme: "https:", URL: "example.com"})
	require.NoError(t, err)

	client.On("Pull", mock.Anything, mock.MatchedBy(func(req *pubsubpb.PullRequest) bool {
		return req.Subscription == subName && req.MaxMessages == 1
	})).
		Return(&pubsubpb.PullResponse{ReceivedMessages: []*pubsubpb.ReceivedMessage{{
			AckId:           "ack-1",
			DeliveryAttempt: 3,
			Message: &pubsubpb.PubsubMessage{
				Data:       body,
				Attributes: map[string]string{"traceparent": "00-abc"},
			},
		}}}, nil).Once()
	client.On("ModifyAckDeadline", mock.Anything, mock.MatchedBy(func(req *pubsubpb.ModifyAckDeadlineRequest) bool {
		return req.Subscription == subName && req.AckDeadlineSeconds == 300 && len(req.AckIds) == 1 && req.AckIds[0] == "ack-1"
	})).Return(nil).Once()

	msgs, err := q.Poll(context.Background(), 1, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "ack-1", msgs[0].Handle)
	require.Equal(t, 3, msgs[0].Attempt)
	require.Equal(t, "00-abc", msgs[0].Attributes["traceparent"])

	task, err := crawler.DecodeTask(msgs[0].Body)
	require.NoError(t, err)
	require.Equal(t, uint64(9), task.ID)
	client.AssertExpectations(t)
}

func TestPollEmptyDoesNotModify(t *testing.T) {
	client := &mockSubscriber{}
	q, err := New(client, "proj", "hndr-crawl")
	require.NoError(t, err)

	client.On("Pull", mock.Anything, mock.Anything).Return(&pubsubpb.PullResponse{}, nil).Once()

	msgs, err := q.Poll(context.Background(), 1, time.Minute)
	require.NoError(t, err)
	require.Empty(t, msgs)
	client.AssertNotCalled(t, "ModifyAckDeadline", mock.Anything, mock.Anything)
}

func TestPollError(t *testing.T) {
	client := &mockSubscriber{}
	q, err := New(client, "proj", "hndr-crawl")
	require.NoError(t, err)

	client.On("Pull", mock.Anything, mock.Anything).Return(nil, errors.New("unavailable")).Once()

	_, err = q.Poll(context.Background(), 1, time.Minute)
	require.ErrorContains(t, err, "unavailable")
}

func TestDeleteAndExtend(t *testing.T) {
	client := &mockSubscriber{}
	q, err := New(client, "proj", "hndr-crawl")
	require.NoError(t, err)
	msg := crawler.Message{Handle: "ack-2"}

	client.On("Acknowledge", mock.Anything, mock.MatchedBy(func(req *pubsubpb.AcknowledgeRequest) bool {
		return req.Subscription == subName && len(req.AckIds) == 1 && req.AckIds[0] == "ack-2"
	})).Return(nil).Once()
	client.On("ModifyAckDeadline", mock.Anything, mock.MatchedBy(func(req *pubsubpb.ModifyAckDeadlineRequest) bool {
		return req.AckDeadlineSeconds == maxAckDeadline
	})).Return(errors.New("expired")).Once()

	require.NoError(t, q.Delete(context.Background(), msg))
	require.ErrorContains(t, q.ExtendVisibility(context.Background(), msg, time.Hour), "expired")
	client.AssertExpectations(t)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "proj", "sub")
	require.Error(t, err)
	_, err = New(&mockSubscriber{}, "", "sub")
	require.Error(t, err)
}
