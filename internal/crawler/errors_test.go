package crawler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchErrorCodes(t *testing.T) {
	t.Parallel()

	require.Equal(t, "status:503", StatusError(503).Code())
	require.Equal(t, "content_type:application/pdf", ContentTypeError("application/pdf").Code())
	require.Equal(t, "timeout", NewFetchError(KindTimeout, errors.New("deadline")).Code())
	require.Equal(t, "unknown", (&FetchError{}).Code())
}

func TestFetchErrorRetryable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  *FetchError
		want bool
	}{
		{NewFetchError(KindConnect, nil), true},
		{NewFetchError(KindTimeout, nil), true},
		{NewFetchError(KindRequest, nil), true},
		{StatusError(429), true},
		{StatusError(500), true},
		{StatusError(503), true},
		{StatusError(404), false},
		{StatusError(403), false},
		{NewFetchError(KindDecode, nil), false},
		{NewFetchError(KindRedirect, nil), false},
		{NewFetchError(KindBody, nil), false},
		{NewFetchError(KindUTF8, nil), false},
		{ContentTypeError("image/png"), false},
		{NewFetchError(KindUnknown, nil), false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.err.Retryable(), tc.err.Code())
	}
}

func TestAsFetchErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	wrapped := fmt.Errorf("fetch: %w", NewFetchError(KindConnect, cause))

	fe := AsFetchError(wrapped)
	require.Equal(t, KindConnect, fe.Kind)
	require.ErrorIs(t, wrapped, cause)

	require.Equal(t, KindUnknown, AsFetchError(errors.New("boom")).Kind)
	require.Nil(t, AsFetchError(nil))
}

func TestIsHTMLContentType(t *testing.T) {
	t.Parallel()

	accepted := []string{"", "text/html", "TEXT/HTML; charset=utf-8", "application/xhtml+xml", "text/xhtml"}
	for _, ct := range accepted {
		require.True(t, IsHTMLContentType(ct), ct)
	}
	rejected := []string{"application/pdf", "image/png", "text/plain", "application/json"}
	for _, ct := range rejected {
		require.False(t, IsHTMLContentType(ct), ct)
	}
}
