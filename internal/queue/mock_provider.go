package queue

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// MockQueue is a testify mock implementation of crawler.Queue.
type MockQueue struct {
	mock.Mock
}

// Poll is the mock implementation of the Poll method.
func (m *MockQueue) Poll(ctx context.Context, limit int, visibility time.Duration) ([]crawler.Message, error) {
	args := m.Called(ctx, limit, visibility)
	msgs, _ := args.Get(0).([]crawler.Message)
	return msgs, args.Error(1)
}

// Delete is the mock implementation of the Delete method.
func (m *MockQueue) Delete(ctx context.Context, msg crawler.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// ExtendVisibility is the mock implementation of the ExtendVisibility method.
func (m *MockQueue) ExtendVisibility(ctx context.Context, msg crawler.Message, visibility time.Duration) error {
	args := m.Called(ctx, msg, visibility)
	return args.Error(0)
}
