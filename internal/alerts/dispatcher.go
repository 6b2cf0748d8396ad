package alerts

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/georgelake2/plcaudit/internal/logging"
	"github.com/georgelake2/plcaudit/internal/monitor"
)

const (
	DefaultQueueSize      = 256
	DefaultPublishTimeout = 2 * time.Second
)

// Stats counts dispatcher outcomes.
type Stats struct {
	Queued  uint64
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

// Dispatcher queues alerts from the monitor and publishes them from a
// single worker so a slow broker never stalls polling. It implements
// monitor.EventSink.
type Dispatcher struct {
	pubs    []Publisher
	source  Source
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time

	mu     sync.Mutex
	queue  chan Alert
	closed bool
	done   chan struct{}

	queued, sent, failed, dropped atomic.Uint64
}

// DispatcherOptions configure NewDispatcher. Zero values take defaults.
type DispatcherOptions struct {
	Source         Source
	QueueSize      int
	PublishTimeout time.Duration
	Logger         *logging.Logger
}

// NewDispatcher starts the publishing worker.
func NewDispatcher(pubs []Publisher, opts DispatcherOptions) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	d := &Dispatcher{
		pubs:    pubs,
		source:  opts.Source,
		timeout: opts.PublishTimeout,
		logger:  opts.Logger,
		now:     time.Now,
		queue:   make(chan Alert, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue adds a to the queue without blocking. It reports false when the
// queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(a Alert) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.queue <- a:
		d.queued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("Alert queue full; dropping %s alert", a.Kind)
		return false
	}
}

func (d *Dispatcher) HandleEvent(e monitor.Event) {
	if a, ok := FromEvent(e, d.source, d.now()); ok {
		d.Enqueue(a)
	}
}

func (d *Dispatcher) HandleTick(monitor.TickRecord) {}

func (d *Dispatcher) run() {
	defer close(d.done)
	for a := range d.queue {
		d.publish(a)
	}
}

// publish delivers a to every publisher concurrently.
func (d *Dispatcher) publish(a Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var g errgroup.Group
	for _, p := range d.pubs {
		g.Go(func() error {
			if err := p.Publish(ctx, a); err != nil {
				d.failed.Add(1)
				d.logger.Warn("Alert publish to %s failed: %v", p.Name(), err)
				return fmt.Errorf("%s: %w", p.Name(), err)
			}
			d.sent.Add(1)
			d.logger.Debug("Alert %s #%d sent to %s", a.Kind, a.Seq, p.Name())
			return nil
		})
	}
	_ = g.Wait()
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:  d.queued.Load(),
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}

// Close stops accepting alerts, drains the queue and closes the publishers.
// It waits for draining at most until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	var err error
	select {
	case <-d.done:
	case <-ctx.Done():
		err = fmt.Errorf("alerts not drained: %w", ctx.Err())
	}
	for _, p := range d.pubs {
		if cerr := p.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", p.Name(), cerr)
		}
	}
	return err
}
