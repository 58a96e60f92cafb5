// Package crawler defines core types shared across subsystems.
package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Via names the channel a page body was obtained through.
type Via string

// Fetch channels persisted in the fetched_via column. ViaDirect is stored as NULL.
const (
	ViaDirect          Via = ""
	ViaInternetArchive Via = "internet_archive"
	ViaArchiveToday    Via = "archive_today"
)

// Column returns the nullable column value for the channel.
func (v Via) Column() *string {
	if v == ViaDirect {
		return nil
	}
	s := string(v)
	return &s
}

// CrawlTask is one unit of crawl work decoded from a queue message.
type CrawlTask struct {
	ID     uint64 `msgpack:"id"`
	Scheme string `msgpack:"proto"`
	URL    string `msgpack:"url"`
}

// Origin returns the politeness key for the task: everything before the first slash.
func (t CrawlTask) Origin() string {
	return OriginKey(t.URL)
}

// FullURL joins the scheme and the scheme-less URL.
func (t CrawlTask) FullURL() string {
	return t.Scheme + "//" + t.URL
}

// OriginKey returns the portion of a scheme-less URL before the first '/'.
func OriginKey(url string) string {
	if i := strings.IndexByte(url, '/'); i >= 0 {
		return url[:i]
	}
	return url
}

// DecodeTask parses a MessagePack task envelope.
func DecodeTask(body []byte) (CrawlTask, error) {
	var task CrawlTask
	if err := msgpack.Unmarshal(body, &task); err != nil {
		return CrawlTask{}, fmt.Errorf("decode task: %w", err)
	}
	if task.URL == "" {
		return CrawlTask{}, fmt.Errorf("decode task: empty url")
	}
	if task.Scheme == "" {
		task.Scheme = "https:"
	}
	return task, nil
}

// EncodeTask produces the MessagePack envelope consumed by DecodeTask.
func EncodeTask(task CrawlTask) ([]byte, error) {
	body, err := msgpack.Marshal(&task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return body, nil
}

// ExtractedMeta holds page metadata gathered during extraction.
type ExtractedMeta struct {
	Title             string
	Description       string
	ImageURL          string
	Lang              string
	Snippet           string
	Timestamp         *time.Time
	TimestampModified *time.Time
}

type metaRecord struct {
	Description       string    `msgpack:"description"`
	ImageURL          string    `msgpack:"imageUrl"`
	Lang              string    `msgpack:"lang"`
	Snippet           string    `msgpack:"snippet"`
	Timestamp         time.Time `msgpack:"timestamp"`
	TimestampModified time.Time `msgpack:"timestampModified"`
	Title             string    `msgpack:"title"`
}

// EncodeMeta serializes meta as a MessagePack map. Absent timestamps become the Unix epoch.
func EncodeMeta(meta ExtractedMeta) ([]byte, error) {
	rec := metaRecord{
		Description:       meta.Description,
		ImageURL:          meta.ImageURL,
		Lang:              meta.Lang,
		Snippet:           meta.Snippet,
		Timestamp:         time.Unix(0, 0).UTC(),
		TimestampModified: time.Unix(0, 0).UTC(),
		Title:             meta.Title,
	}
	if meta.Timestamp != nil {
		rec.Timestamp = meta.Timestamp.UTC()
	}
	if meta.TimestampModified != nil {
		rec.TimestampModified = meta.TimestampModified.UTC()
	}
	body, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	return body, nil
}

// DecodeMeta reverses EncodeMeta. Epoch timestamps decode as absent.
func DecodeMeta(body []byte) (ExtractedMeta, error) {
	var rec metaRecord
	if err := msgpack.Unmarshal(body, &rec); err != nil {
		return ExtractedMeta{}, fmt.Errorf("decode meta: %w", err)
	}
	meta := ExtractedMeta{
		Title:       rec.Title,
		Description: rec.Description,
		ImageURL:    rec.ImageURL,
		Lang:        rec.Lang,
		Snippet:     rec.Snippet,
	}
	if rec.Timestamp.Unix() != 0 {
		ts := rec.Timestamp
		meta.Timestamp = &ts
	}
	if rec.TimestampModified.Unix() != 0 {
		ts := rec.TimestampModified
		meta.TimestampModified = &ts
	}
	return meta, nil
}

// FetchResponse captures the parts of an HTTP response the workers consume.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Outcome is the terminal disposition of one handler invocation.
type Outcome int

// Handler outcomes. Completed and Failed delete the message; Deferred leaves it for redelivery.
const (
	Completed Outcome = iota
	Deferred
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Deferred:
		return "deferred"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is returned by task handlers to tell the loop what to do with the message.
type Result struct {
	Outcome Outcome
	// Reason is a short tag such as "skip", "rate_limit" or an error code.
	Reason string
}

// Complete builds a Completed result.
func Complete(reason string) Result { return Result{Outcome: Completed, Reason: reason} }

// Defer builds a Deferred result.
func Defer(reason string) Result { return Result{Outcome: Deferred, Reason: reason} }

// Fail builds a Failed result carrying the terminal error code.
func Fail(code string) Result { return Result{Outcome: Failed, Reason: code} }
