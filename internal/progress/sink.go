package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so workers
// can remain agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// RunEmitter stamps every event with the process run ID and the current time
// before forwarding it.
type RunEmitter struct {
	next  Emitter
	runID [16]byte
	now   func() time.Time
}

// NewRunEmitter wraps next. A nil next discards events.
func NewRunEmitter(next Emitter, runID uuid.UUID) *RunEmitter {
	return &RunEmitter{
		next:  next,
		runID: UUIDToBytes(runID),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Emit implements Emitter.
func (r *RunEmitter) Emit(evt Event) {
	if r == nil || r.next == nil {
		return
	}
	evt.RunID = r.runID
	if evt.TS.IsZero() {
		evt.TS = r.now()
	}
	r.next.Emit(evt)
}
