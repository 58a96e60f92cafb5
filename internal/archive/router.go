package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-crawler/internal/crawler"
	"github.com/JakeFAU/link-crawler/internal/policy/ratelimit"
)

// Backend is one archive service.
type Backend interface {
	Via() crawler.Via
	// Lookup returns the archived page and whether one exists. Errors are
	// classified as *crawler.FetchError.
	Lookup(ctx context.Context, pageURL string) (crawler.FetchResponse, bool, error)
}

// Result describes one archive lookup.
type Result struct {
	HTML     []byte
	Found    bool
	Via      crawler.Via
	Duration time.Duration
}

// Config tunes the router.
type Config struct {
	// MaxWait bounds how long Fetch sleeps for a backed-off backend. Zero waits the full backoff.
	MaxWait time.Duration
	Backoff ratelimit.BackoffConfig
}

type source struct {
	backend Backend
	backoff *ratelimit.Backoff
}

// Router picks between archive backends by availability.
type Router struct {
	cfg     Config
	clock   ratelimit.Sleeper
	sources []source
	logger  *zap.Logger
}

// NewRouter creates a Router. Backends are listed in priority order, which breaks ties.
func NewRouter(cfg Config, clock ratelimit.Sleeper, logger *zap.Logger, backends ...Backend) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	sources := make([]source, 0, len(backends))
	for _, b := range backends {
		sources = append(sources, source{backend: b, backoff: ratelimit.NewBackoff(cfg.Backoff, clock)})
	}
	return &Router{cfg: cfg, clock: clock, sources: sources, logger: logger}
}

// Backoff returns the backoff state for via, or nil when no such backend is configured.
func (r *Router) Backoff(via crawler.Via) *ratelimit.Backoff {
	for _, s := range r.sources {
		if s.backend.Via() == via {
			return s.backoff
		}
	}
	return nil
}

func (r *Router) pick() source {
	best := r.sources[0]
	bestUntil := best.backoff.Until()
	for _, s := range r.sources[1:] {
		if until := s.backoff.Until(); until.Before(bestUntil) {
			best, bestUntil = s, until
		}
	}
	return best
}

// Pending returns how long the next Fetch would wait before its lookup,
// capped by MaxWait.
func (r *Router) Pending() time.Duration {
	if len(r.sources) == 0 {
		return 0
	}
	d := r.pick().backoff.Until().Sub(r.clock.Now())
	if r.cfg.MaxWait > 0 && d > r.cfg.MaxWait {
		d = r.cfg.MaxWait
	}
	return max(d, 0)
}

// Fetch looks pageURL up in exactly one backend, the one whose backoff ends
// first, waiting for that backoff if needed. Retryable failures lengthen the
// backend's backoff; anything else shortens it.
func (r *Router) Fetch(ctx context.Context, pageURL string) (Result, error) {
	if len(r.sources) == 0 {
		return Result{}, errors.New("archive router has no backends")
	}
	src := r.pick()
	via := src.backend.Via()
	if err := src.backoff.Wait(ctx, r.cfg.MaxWait); err != nil {
		return Result{Via: via}, fmt.Errorf("wait for %s: %w", via, err)
	}

	start := r.clock.Now()
	resp, found, err := src.backend.Lookup(ctx, pageURL)
	res := Result{Via: via, Duration: r.clock.Now().Sub(start)}
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s lookup: %w", via, ctx.Err())
		}
		fe := crawler.AsFetchError(err)
		if fe.Retryable() {
			src.backoff.Incr()
		} else {
			src.backoff.Decr()
		}
		r.logger.Debug("archive lookup failed",
			zap.String("via", string(via)),
			zap.String("code", fe.Code()),
			zap.Int("streak", src.backoff.Streak()),
			zap.Error(err))
		return res, err
	}
	src.backoff.Decr()

	if !found || !crawler.IsHTMLContentType(resp.ContentType) {
		return res, nil
	}
	res.Found = true
	res.HTML = bytes.ToValidUTF8(resp.Body, []byte("�"))
	return res, nil
}
