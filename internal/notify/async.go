package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

const (
	DefaultBuffer  = 1024
	DefaultTimeout = 5 * time.Second
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notifier closed")
)

// AsyncNotifier hands events to a background worker so a slow broker never
// adds latency to the request that committed the transition. Events are
// delivered in order. When the buffer is full the event is dropped and
// ErrQueueFull returned; the audit log still has it.
type AsyncNotifier struct {
	next    appointment.Notifier
	timeout time.Duration
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan appointment.Event
	done   chan struct{}
}

func NewAsyncNotifier(next appointment.Notifier, buffer int, timeout time.Duration, log *zap.Logger) *AsyncNotifier {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	n := &AsyncNotifier{
		next:    next,
		timeout: timeout,
		log:     log.Named("notify.async"),
		queue:   make(chan appointment.Event, buffer),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *AsyncNotifier) Notify(_ context.Context, ev appointment.Event) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}

	select {
	case n.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (n *AsyncNotifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := n.next.Notify(ctx, ev)
		cancel()
		if err != nil {
			n.log.Warn("notification delivery failed",
				zap.String("event", ev.Type),
				zap.String("appointment_id", ev.AppointmentID.String()),
				zap.Error(err),
			)
		}
	}
}

// Pending is the number of events waiting for the worker.
func (n *AsyncNotifier) Pending() int {
	return len(n.queue)
}

// Close stops accepting events and waits for the queued ones to be delivered,
// at most until ctx is done.
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		n.log.Warn("notification queue not drained", zap.Int("pending", len(n.queue)))
		return ctx.Err()
	}
}
