package crawler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorKind is the closed set of fetch failure classes.
type ErrorKind string

// Fetch failure classes. Their codes are persisted in fetch_err.
const (
	KindConnect     ErrorKind = "connect"
	KindTimeout     ErrorKind = "timeout"
	KindRequest     ErrorKind = "request"
	KindDecode      ErrorKind = "decode"
	KindRedirect    ErrorKind = "redirect"
	KindBody        ErrorKind = "body"
	KindStatus      ErrorKind = "status"
	KindContentType ErrorKind = "content_type"
	KindUTF8        ErrorKind = "utf8"
	KindUnknown     ErrorKind = "unknown"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// FetchError is a classified fetch failure.
type FetchError struct {
	Kind        ErrorKind
	Status      int
	ContentType string
	Err         error
}

// NewFetchError wraps err with kind.
func NewFetchError(kind ErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// StatusError builds a status:<code> failure.
func StatusError(code int) *FetchError {
	return &FetchError{Kind: KindStatus, Status: code}
}

// ContentTypeError builds a content_type:<value> failure.
func ContentTypeError(contentType string) *FetchError {
	return &FetchError{Kind: KindContentType, ContentType: contentType}
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code(), e.Err)
	}
	return e.Code()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Code renders the persisted error code.
func (e *FetchError) Code() string {
	switch e.Kind {
	case KindStatus:
		return "status:" + strconv.Itoa(e.Status)
	case KindContentType:
		return "content_type:" + e.ContentType
	case "":
		return string(KindUnknown)
	default:
		return string(e.Kind)
	}
}

// Retryable reports whether the failure is transient. Retryable failures also
// count against the origin's health.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindConnect, KindTimeout, KindRequest:
		return true
	case KindStatus:
		return e.Status == 429 || (e.Status >= 500 && e.Status <= 599)
	default:
		return false
	}
}

// AsFetchError classifies any error, wrapping unclassified ones as unknown.
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return NewFetchError(KindUnknown, err)
}

// IsHTMLContentType reports whether a Content-Type header value is acceptable
// HTML. An absent header is accepted.
func IsHTMLContentType(value string) bool {
	if value == "" {
		return true
	}
	v := strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(v, "text/html") ||
		strings.HasPrefix(v, "application/xhtml") ||
		strings.HasPrefix(v, "text/xhtml")
}
