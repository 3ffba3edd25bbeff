package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/runsvc/internal/metrics"
)

const (
	DefaultQueueSize   = 256
	DefaultSendTimeout = 5 * time.Second
)

// Recorder forwards events to a Sink from a single background goroutine so
// that a slow database never stalls the supervision loop. Events that do not
// fit in the queue are dropped and counted.
type Recorder struct {
	sink    Sink
	log     *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	ch      chan Event
	done    chan struct{}
	dropped uint64
}

// NewRecorder starts the forwarding goroutine. queue <= 0 selects DefaultQueueSize.
func NewRecorder(sink Sink, log *slog.Logger, queue int) *Recorder {
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		sink:    sink,
		log:     log,
		timeout: DefaultSendTimeout,
		ch:      make(chan Event, queue),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record enqueues e without blocking. A nil Recorder ignores the call.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- e:
	default:
		r.dropped++
		metrics.IncHistoryDropped()
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close flushes queued events, stops the goroutine and closes the sink if it
// implements io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	<-r.done
	if c, ok := r.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *Recorder) loop() {
	defer close(r.done)
	for e := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Send(ctx, e); err != nil {
			r.log.Warn("history send failed", "type", string(e.Type), "name", e.Record.Name, "error", err)
		}
		cancel()
	}
}
