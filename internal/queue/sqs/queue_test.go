package sqs

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go/middleware"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// mockSQSMiddleware short-circuits the client stack with a fixed output or error.
func mockSQSMiddleware(output interface{}, err error) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Finalize.Add(
			middleware.FinalizeMiddlewareFunc("MockMiddleware", func(context.Context, middleware.FinalizeInput, middleware.FinalizeHandler) (middleware.FinalizeOutput, middleware.Metadata, error) {
				return middleware.FinalizeOutput{
					Result: output,
				}, middleware.Metadata{}, err
			}),
			middleware.Before,
		)
	}
}

func newTestQueue(t *testing.T, output interface{}, err error) *Queue {
	t.Helper()
	client := sqs.NewFromConfig(aws.Config{Region: "us-east-1"}, func(o *sqs.Options) {
		o.APIOptions = append(o.APIOptions, mockSQSMiddleware(output, err))
	})
	q, qErr := New(client, "https://sqs.us-east-1.amazonaws.com/1/hndr-crawl", 0)
	require.NoError(t, qErr)
	return q
}

type recordingAPI struct {
	receive *sqs.ReceiveMessageInput
	change  *sqs.ChangeMessageVisibilityInput
}

func (r *recordingAPI) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	r.receive = in
	return &sqs.ReceiveMessageOutput{}, nil
}

func (r *recordingAPI) DeleteMessage(context.Context, *sqs.DeleteMessageInput, ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	return &sqs.DeleteMessageOutput{}, nil
}

func (r *recordingAPI) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	r.change = in
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestPoll(t *testing.T) {
	body, err := crawler.EncodeTask(crawler.CrawlTask{ID: 5, Scheme: "http:", URL: "example.org/x"})
	require.NoError(t, err)
	sum := md5.Sum(body)
	output := &sqs.ReceiveMessageOutput{
		Messages: []types.Message{{
			Body:          aws.String(string(body)),
			MD5OfBody:     aws.String(hex.EncodeToString(sum[:])),
			ReceiptHandle: aws.String("handle"),
			Attributes:    map[string]string{"ApproximateReceiveCount": "4"},
		}},
	}
	q := newTestQueue(t, output, nil)

	msgs, err := q.Poll(context.Background(), 1, 4*time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "handle", msgs[0].Handle)
	require.Equal(t, 4, msgs[0].Attempt)

	task, err := crawler.DecodeTask(msgs[0].Body)
	require.NoError(t, err)
	require.Equal(t, "example.org/x", task.URL)
}

func TestPollError(t *testing.T) {
	q := newTestQueue(t, nil, errors.New("aws error"))

	_, err := q.Poll(context.Background(), 1, time.Minute)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to receive messages")
}

func TestDelete(t *testing.T) {
	q := newTestQueue(t, &sqs.DeleteMessageOutput{}, nil)
	require.NoError(t, q.Delete(context.Background(), crawler.Message{Handle: "h"}))

	qErr := newTestQueue(t, nil, errors.New("aws error"))
	err := qErr.Delete(context.Background(), crawler.Message{Handle: "h"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to delete message")
}

func TestExtendVisibility(t *testing.T) {
	q := newTestQueue(t, &sqs.ChangeMessageVisibilityOutput{}, nil)
	require.NoError(t, q.ExtendVisibility(context.Background(), crawler.Message{Handle: "h"}, time.Minute))

	qErr := newTestQueue(t, nil, errors.New("aws error"))
	require.Error(t, qErr.ExtendVisibility(context.Background(), crawler.Message{Handle: "h"}, time.Minute))
}

func TestRequestShape(t *testing.T) {
	api := &recordingAPI{}
	q, err := New(api, "queue-url", 30)
	require.NoError(t, err)

	_, err = q.Poll(context.Background(), 50, 5*time.Minute+500*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int32(10), api.receive.MaxNumberOfMessages)
	require.Equal(t, int32(301), api.receive.VisibilityTimeout)
	require.Equal(t, int32(20), api.receive.WaitTimeSeconds)
	require.Equal(t, "queue-url", aws.ToString(api.receive.QueueUrl))

	require.NoError(t, q.ExtendVisibility(context.Background(), crawler.Message{Handle: "h"}, 24*time.Hour))
	require.Equal(t, int32(maxVisibility), api.change.VisibilityTimeout)
	require.Equal(t, "h", aws.ToString(api.change.ReceiptHandle))
}

func TestDecodeBody(t *testing.T) {
	body, err := crawler.EncodeTask(crawler.CrawlTask{ID: 3, Scheme: "https:", URL: "example.com/x"})
	require.NoError(t, err)

	require.Equal(t, body, decodeBody(base64.StdEncoding.EncodeToString(body)))
	require.Equal(t, body, decodeBody(string(body)))
}

func TestStringAttributes(t *testing.T) {
	got := stringAttributes(map[string]types.MessageAttributeValue{
		"traceparent": {DataType: aws.String("String"), StringValue: aws.String("00-abc")},
		"blob":        {DataType: aws.String("Binary"), BinaryValue: []byte{1}},
	})
	require.Equal(t, map[string]string{"traceparent": "00-abc"}, got)
	require.Nil(t, stringAttributes(nil))
	require.Equal(t, 0, receiveCount(map[string]string{"ApproximateReceiveCount": "x"}))
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "url", 0)
	require.Error(t, err)
	_, err = New(&recordingAPI{}, "", 0)
	require.Error(t, err)
}
