package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-crawler/internal/clock/fake"
	"github.com/JakeFAU/link-crawler/internal/crawler"
	"github.com/JakeFAU/link-crawler/internal/extract"
	"github.com/JakeFAU/link-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/link-crawler/internal/progress"
	"github.com/JakeFAU/link-crawler/internal/recorder"
	"github.com/JakeFAU/link-crawler/internal/storage/memory"
)

var testStart = time.Unix(1_700_000_000, 0).UTC()

const helloPage = `<html><head><title>T</title></head><body><p>Hello world.</p></body></html>`

type stubClient struct {
	mu      sync.Mutex
	calls   int
	headers map[string]string
	respond func(call int, url string) (crawler.FetchResponse, error)
}

func (c *stubClient) Get(_ context.Context, url string, headers map[string]string) (crawler.FetchResponse, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.headers = headers
	c.mu.Unlock()
	return c.respond(call, url)
}

func (c *stubClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func htmlResponse(body string) func(int, string) (crawler.FetchResponse, error) {
	return func(_ int, url string) (crawler.FetchResponse, error) {
		return crawler.FetchResponse{
			URL:         url,
			StatusCode:  200,
			ContentType: "text/html; charset=utf-8",
			Body:        []byte(body),
			Duration:    5 * time.Millisecond,
		}, nil
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) Stages() []progress.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Stage, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.Stage)
	}
	return out
}

type env struct {
	clock   *fake.Clock
	status  *memory.StatusStore
	blobs   *memory.BlobStore
	rec     *recorder.Recorder
	limiter *ratelimit.Limiter
	pool    *extract.Pool
	emitter *recordingEmitter
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := fake.New(testStart)
	status := memory.NewStatusStore()
	blobs := memory.NewBlobStore()
	return &env{
		clock:   clk,
		status:  status,
		blobs:   blobs,
		rec:     recorder.New(status, blobs, nil),
		limiter: ratelimit.New(ratelimit.DefaultConfig(), clk),
		pool:    extract.NewPool(2),
		emitter: &recordingEmitter{},
	}
}

func (e *env) seed(id uint64) crawler.CrawlTask {
	task := crawler.CrawlTask{ID: id, Scheme: "https:", URL: fmt.Sprintf("example.com/p%d", id)}
	e.status.Seed(id, task.URL)
	return task
}

func (e *env) row(t *testing.T, task crawler.CrawlTask) memory.Row {
	t.Helper()
	row, ok := e.status.Row(task.URL)
	require.True(t, ok)
	return row
}
