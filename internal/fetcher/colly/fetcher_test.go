package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-crawler/internal/crawler"
)

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	start := time.Unix(0, 0)
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, map[string]string{"Accept": "text/html"}, start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onHeaders)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "text/html", collyReq.Headers.Get("Accept"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "text/html", result.ContentType)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestGetSuccessSendsHeaders(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>hi</p>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "hndr-test"})
	resp, err := f.Get(context.Background(), srv.URL+"/page", map[string]string{"Accept": "text/html,application/xhtml+xml"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<p>hi</p>", string(resp.Body))
	require.Equal(t, "text/html; charset=utf-8", resp.ContentType)
	hdr := <-seen
	require.Equal(t, "hndr-test", hdr.Get("User-Agent"))
	require.Equal(t, "text/html,application/xhtml+xml", hdr.Get("Accept"))
}

func TestConfigureCollectorHooksStripsCharset(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	var result crawler.FetchResponse
	var fetchErr error
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, nil, time.Unix(0, 0), &result, &fetchErr)

	headers := &http.Header{"Content-Type": {"text/html; charset=iso-8859-1"}}
	hooks.onHeaders(&colly.Response{Headers: headers})
	require.Equal(t, "text/html", headers.Get("Content-Type"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("caf\xe9"),
		Headers:    headers,
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, "text/html; charset=iso-8859-1", result.ContentType)
	require.Equal(t, []byte("caf\xe9"), result.Body)
}

func TestGetKeepsDeclaredCharsetBytes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<p>caf\xe9</p>"))
	}))
	defer srv.Close()

	resp, err := New(Config{}).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("<p>caf\xe9</p>"), resp.Body)
	require.False(t, utf8.Valid(resp.Body))
	require.Equal(t, "text/html; charset=iso-8859-1", resp.ContentType)
}

func TestGetStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(Config{})
	resp, err := f.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	fe := crawler.AsFetchError(err)
	require.Equal(t, "status:503", fe.Code())
	require.True(t, fe.Retryable())
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetRedirectLoop(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	f := New(Config{MaxRedirects: 3})
	_, err := f.Get(context.Background(), srv.URL+"/start", nil)
	require.Equal(t, crawler.KindRedirect, crawler.AsFetchError(err).Kind)
}

func TestGetConnectRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	f := New(Config{ConnectTimeout: time.Second})
	_, err = f.Get(context.Background(), "http://"+addr+"/", nil)
	fe := crawler.AsFetchError(err)
	require.Equal(t, crawler.KindConnect, fe.Kind)
	require.True(t, fe.Retryable())
}

func TestGetTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 50 * time.Millisecond})
	_, err := f.Get(context.Background(), srv.URL, nil)
	require.Equal(t, crawler.KindTimeout, crawler.AsFetchError(err).Kind)
}

func TestGetContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := New(Config{}).Get(ctx, srv.URL, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want crawler.ErrorKind
	}{
		{&url.Error{Op: "Get", URL: "x", Err: errTooManyRedirects}, crawler.KindRedirect},
		{&url.Error{Op: "parse", URL: "::", Err: errors.New("missing scheme")}, crawler.KindUnknown},
		{&url.Error{Op: "Get", URL: "x", Err: errors.New("malformed response")}, crawler.KindRequest},
		{&net.DNSError{Err: "no such host", Name: "nope.invalid"}, crawler.KindConnect},
		{context.DeadlineExceeded, crawler.KindTimeout},
		{errors.New("odd"), crawler.KindUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, classify(tc.err).Kind, tc.err.Error())
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onHeaders  colly.ResponseHeadersCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponseHeaders(cb colly.ResponseHeadersCallback) {
	s.onHeaders = cb
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
