// Package memory provides a lease-based in-process queue for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

type entry struct {
	id        uint64
	body      []byte
	attempts  int
	handle    string
	visibleAt time.Time
}

// Queue holds messages in FIFO order. Polled messages stay invisible until
// their lease lapses or they are deleted.
type Queue struct {
	mu      sync.Mutex
	clock   crawler.Clock
	nextID  uint64
	entries []*entry
}

// NewQueue constructs an empty queue. A nil clock uses the wall clock.
func NewQueue(clock crawler.Clock) *Queue {
	if clock == nil {
		clock = crawler.ClockFunc(time.Now)
	}
	return &Queue{clock: clock}
}

// Send appends a message body.
func (q *Queue) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.entries = append(q.entries, &entry{
		id:   q.nextID,
		body: append([]byte(nil), body...),
	})
	return nil
}

// SendTask encodes and appends a task.
func (q *Queue) SendTask(ctx context.Context, task crawler.CrawlTask) error {
	body, err := crawler.EncodeTask(task)
	if err != nil {
		return err
	}
	return q.Send(ctx, body)
}

// Poll leases up to limit visible messages for the visibility duration.
func (q *Queue) Poll(ctx context.Context, limit int, visibility time.Duration) ([]crawler.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("poll canceled: %w", err)
	}
	if limit <= 0 {
		limit = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var out []crawler.Message
	for _, e := range q.entries {
		if len(out) == limit {
			break
		}
		if now.Before(e.visibleAt) {
			continue
		}
		e.attempts++
		e.handle = strconv.FormatUint(e.id, 10) + "-" + strconv.Itoa(e.attempts)
		e.visibleAt = now.Add(visibility)
		out = append(out, crawler.Message{
			Handle:  e.handle,
			Body:    append([]byte(nil), e.body...),
			Attempt: e.attempts,
		})
	}
	return out, nil
}

// Delete removes the leased message. A stale handle returns crawler.ErrNotFound.
func (q *Queue) Delete(_ context.Context, msg crawler.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.handle != "" && e.handle == msg.Handle {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete %q: %w", msg.Handle, crawler.ErrNotFound)
}

// ExtendVisibility resets the lease on msg to visibility from now.
func (q *Queue) ExtendVisibility(_ context.Context, msg crawler.Message, visibility time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.handle != "" && e.handle == msg.Handle {
			e.visibleAt = q.clock.Now().Add(visibility)
			return nil
		}
	}
	return fmt.Errorf("extend %q: %w", msg.Handle, crawler.ErrNotFound)
}

// Len reports the number of undeleted messages, leased or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
