// Package progress defines the event structures emitted by the crawl workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageSkip       Stage = "SKIP"
	StageDeferred   Stage = "DEFERRED"
	StageFetchDone  Stage = "FETCH_DONE"
	StageFetchError Stage = "FETCH_ERROR"
	StageArchive    Stage = "ARCHIVE_LOOKUP"
	StagePoison     Stage = "POISON"
)

// Pool names the worker pool that emitted an event.
type Pool string

// Worker pools.
const (
	PoolDirect  Pool = "direct"
	PoolArchive Pool = "archive"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawler progress.
type Event struct {
	// RunID identifies the process run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	Pool  Pool
	// TaskID is the dataset id of the crawled link.
	TaskID uint64
	Origin string
	URL    string
	// Via is the archive channel for archive events, empty for direct fetches.
	Via         string
	Bytes       int64
	StatusClass StatusClass
	// Code carries the error code or deferral reason.
	Code  string
	Found bool
	Dur   time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageSkip, StagePoison:
		if e.Pool == "" {
			return fmt.Errorf("%s requires pool", e.Stage)
		}
	case StageDeferred, StageFetchError:
		if e.Pool == "" {
			return fmt.Errorf("%s requires pool", e.Stage)
		}
		if e.Code == "" {
			return fmt.Errorf("%s requires code", e.Stage)
		}
	case StageFetchDone:
		if e.Pool == "" {
			return errors.New("fetch done requires pool")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageArchive:
		if e.Via == "" {
			return errors.New("archive lookup requires via")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
