// Package collyfetcher implements crawler.HTTPClient using gocolly.
package collyfetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	ConnectTimeout time.Duration
	Timeout        time.Duration
	MaxRedirects   int
	MaxBodySize    int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 20 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 10
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 10 * 1024 * 1024
	}
	return c
}

var errTooManyRedirects = errors.New("too many redirects")

// Fetcher implements crawler.HTTPClient on top of a Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Transport, timeouts and redirect policy live on the
// base collector and are shared by every per-request clone.
func New(cfg Config) *Fetcher {
	cfg = cfg.withDefaults()
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodySize),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport(cfg.ConnectTimeout))
	c.SetRequestTimeout(cfg.Timeout)
	maxRedirects := cfg.MaxRedirects
	c.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errTooManyRedirects
		}
		return nil
	})

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Get executes a single HTTP GET. Transport failures come back as
// *crawler.FetchError; a non-2xx response is returned together with a status error.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, headers, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return result, crawler.StatusError(result.StatusCode)
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	headers map[string]string,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, value := range headers {
			r.Headers.Set(key, value)
		}
	})

	// Colly transcodes bodies whose Content-Type names a non-UTF-8 charset.
	// Dropping the parameters before the body is read keeps the bytes as sent.
	var declared string
	hooks.OnResponseHeaders(func(r *colly.Response) {
		if r.Headers == nil {
			return
		}
		declared = r.Headers.Get("Content-Type")
		if base, _, ok := strings.Cut(declared, ";"); ok {
			r.Headers.Set("Content-Type", strings.TrimSpace(base))
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		contentType := declared
		if contentType == "" && r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		*result = crawler.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return crawler.NewFetchError(crawler.KindTimeout, ctx.Err())
		}
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = *fetchErr
		}
		if err != nil {
			return classify(err)
		}
		return nil
	}
}

// classify maps transport errors onto the closed fetch error set.
func classify(err error) *crawler.FetchError {
	var (
		netErr  net.Error
		opErr   *net.OpError
		dnsErr  *net.DNSError
		urlErr  *url.Error
		certErr *tls.CertificateVerificationError
		unkAuth x509.UnknownAuthorityError
		hostErr x509.HostnameError
		recErr  tls.RecordHeaderError
		corrupt flate.CorruptInputError
	)
	switch {
	case errors.Is(err, errTooManyRedirects):
		return crawler.NewFetchError(crawler.KindRedirect, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return crawler.NewFetchError(crawler.KindTimeout, err)
	case errors.As(err, &dnsErr),
		errors.As(err, &certErr),
		errors.As(err, &unkAuth),
		errors.As(err, &hostErr),
		errors.As(err, &recErr),
		errors.As(err, &opErr) && opErr.Op == "dial":
		return crawler.NewFetchError(crawler.KindConnect, err)
	case errors.Is(err, gzip.ErrHeader),
		errors.Is(err, gzip.ErrChecksum),
		errors.As(err, &corrupt):
		return crawler.NewFetchError(crawler.KindDecode, err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return crawler.NewFetchError(crawler.KindBody, err)
	case errors.As(err, &urlErr) && urlErr.Op == "parse",
		errors.Is(err, colly.ErrMissingURL):
		return crawler.NewFetchError(crawler.KindUnknown, err)
	case errors.As(err, &urlErr):
		return crawler.NewFetchError(crawler.KindRequest, err)
	default:
		return crawler.NewFetchError(crawler.KindUnknown, err)
	}
}

func newHTTPTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
