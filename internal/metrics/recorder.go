package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Sink receives batches of metric records. A Flush error means the whole
// batch failed and may be retried.
type Sink interface {
	Flush(ctx context.Context, batch []Metric) error
}

// HTTPSink posts metric batches as a JSON array to a collector endpoint.
type HTTPSink struct {
	URL    string
	Client *http.Client
}

func (s *HTTPSink) Flush(ctx context.Context, batch []Metric) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("metrics sink: status %d", resp.StatusCode)
	}
	return nil
}

// DefaultMaxQueue bounds the recorder queue when no limit is configured.
const DefaultMaxQueue = 4096

// Recorder buffers metric records and periodically flushes them to a Sink.
// Record never fails and never blocks on I/O. A failed flush puts the batch
// back at the front of the queue; when the queue is over capacity the
// oldest records are dropped first.
type Recorder struct {
	mu          sync.Mutex
	queue       []Metric
	maxQueue    int
	sink        Sink
	interval    time.Duration
	dropped     int64
	onFlushFail func()
	stop        chan struct{}
	done        chan struct{}
	started     bool
}

// NewRecorder creates a recorder flushing to sink every interval.
// A nil sink disables flushing; records then rotate out of the bounded
// queue silently. maxQueue <= 0 selects DefaultMaxQueue.
func NewRecorder(sink Sink, interval time.Duration, maxQueue int) *Recorder {
	if maxQueue <= 0 {
		maxQueue = DefaultMaxQueue
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Recorder{
		maxQueue: maxQueue,
		sink:     sink,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Record appends a metric to the queue. It never returns an error and
// never blocks on I/O; when the queue is full the oldest record is
// dropped to make room.
func (r *Recorder) Record(m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	r.mu.Lock()
	if len(r.queue) >= r.maxQueue {
		drop := len(r.queue) - r.maxQueue + 1
		r.queue = r.queue[drop:]
		r.dropped += int64(drop)
	}
	r.queue = append(r.queue, m)
	r.mu.Unlock()
}

// OnFlushFailure registers fn to run after each failed flush attempt.
func (r *Recorder) OnFlushFailure(fn func()) {
	r.mu.Lock()
	r.onFlushFail = fn
	r.mu.Unlock()
}

// Start launches the periodic flush loop.
func (r *Recorder) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()
	go r.loop()
}

// Close stops the flush loop after a final flush attempt.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.started {
		r.started = true
		close(r.done)
	}
	r.mu.Unlock()
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}

// Flush sends everything queued to the sink. On failure the batch is
// requeued (bounded) for a later attempt.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.sink == nil {
		r.mu.Lock()
		r.queue = r.queue[:0]
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()

	if err := r.sink.Flush(ctx, batch); err != nil {
		// Put the batch back in front of anything recorded meanwhile,
		// then re-apply the size bound from the oldest end.
		r.mu.Lock()
		r.queue = append(batch, r.queue...)
		if len(r.queue) > r.maxQueue {
			drop := len(r.queue) - r.maxQueue
			r.queue = r.queue[drop:]
			r.dropped += int64(drop)
		}
		fn := r.onFlushFail
		r.mu.Unlock()
		if fn != nil {
			fn()
		}
		return err
	}
	return nil
}

// QueueLen reports how many records are waiting to be flushed.
func (r *Recorder) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Dropped reports how many records were discarded due to the queue bound.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = r.Flush(ctx)
			cancel()
		case <-r.stop:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = r.Flush(ctx)
			cancel()
			return
		}
	}
}
