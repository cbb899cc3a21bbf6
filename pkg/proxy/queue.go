package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"personaproxy/pkg/logger"
	"personaproxy/pkg/sink"
	"personaproxy/pkg/telemetry"
)

// maxPooledBuffer bounds the text buffers returned to the pool so a
// single oversized message cannot pin memory across bursts.
const maxPooledBuffer = 64 * 1024

// Inbound is one message entering the pipeline.
type Inbound struct {
	Owner       string
	Venue       string
	Thread      string
	MessageID   string
	Text        string
	Attachments []sink.Attachment
	ReplyTo     string // platform id of the message being replied to, if any
}

type task struct {
	in  Inbound
	buf *bytebufferpool.ByteBuffer
	res chan Outcome
}

var taskPool = sync.Pool{New: func() any { return &task{res: make(chan Outcome, 1)} }}

// newTask parks the message text in a pooled buffer while it sits in
// the queue; the worker materializes it back just before the run.
func newTask(in Inbound) *task {
	t := taskPool.Get().(*task)
	t.buf = bytebufferpool.Get()
	t.buf.SetString(in.Text)
	in.Text = ""
	t.in = in
	return t
}

// release returns the task and its buffer to their pools.
func (t *task) release() {
	if t.buf != nil {
		if t.buf.Len() <= maxPooledBuffer {
			bytebufferpool.Put(t.buf)
		}
		t.buf = nil
	}
	t.in = Inbound{}
	taskPool.Put(t)
}

// dispatcher serializes pipeline runs per venue. Messages for one venue
// are handled strictly in arrival order; distinct venues run
// concurrently.
type dispatcher struct {
	mu       sync.Mutex
	workers  map[string]chan *task
	capacity int
	maxBytes int64
	handler  func(context.Context, Inbound) Outcome
	base     context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

func newDispatcher(capacity int, maxBytes int64, handler func(context.Context, Inbound) Outcome) *dispatcher {
	if capacity <= 0 {
		capacity = 128
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &dispatcher{
		workers:  make(map[string]chan *task),
		capacity: capacity,
		maxBytes: maxBytes,
		handler:  handler,
		base:     ctx,
		cancel:   cancel,
	}
}

// submit enqueues the message on its venue's worker and waits for the
// outcome. A full venue queue fails fast instead of blocking callers.
func (d *dispatcher) submit(ctx context.Context, in Inbound) Outcome {
	if d.maxBytes > 0 && int64(len(in.Text)) > d.maxBytes {
		return failed("resolve", fmt.Errorf("%w: message text exceeds %d bytes", ErrValidation, d.maxBytes))
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return failed("resolve", ErrTransient)
	}
	ch, ok := d.workers[in.Venue]
	if !ok {
		ch = make(chan *task, d.capacity)
		d.workers[in.Venue] = ch
		d.wg.Add(1)
		go d.run(in.Venue, ch)
	}
	d.mu.Unlock()

	t := newTask(in)
	select {
	case ch <- t:
		telemetry.QueueDepth.Inc()
	default:
		t.release()
		telemetry.QueueDropped.Inc()
		logger.Warn("queue_full", zap.String("venue", in.Venue))
		return failed("resolve", ErrTransient)
	}

	select {
	case out := <-t.res:
		t.release()
		return out
	case <-ctx.Done():
		// The worker still finishes the task; only the caller stops
		// waiting. The worker's send never blocks (res is buffered)
		// and the abandoned task is left for the GC.
		return failed("resolve", ctx.Err())
	}
}

func (d *dispatcher) run(venue string, ch chan *task) {
	defer d.wg.Done()
	for t := range ch {
		telemetry.QueueDepth.Dec()
		in := t.in
		in.Text = string(t.buf.Bytes())
		t.res <- d.handler(d.base, in)
	}
	logger.Debug("venue_worker_stopped", zap.String("venue", venue))
}

// close drains all venue workers. In-flight tasks finish; new submits
// are rejected.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.workers {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
	d.cancel()
}
