// Package notify delivers best-effort user notifications.
//
// Dispatch is fire-and-forget: callers never block on delivery and a
// notification failure never fails the money movement that triggered
// it. Notifications are persisted for the inbox endpoint and fanned
// out to any registered sinks (structured log, realtime feed).
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/echezona/sokopay/internal/idgen"
)

// Notification is one inbox entry.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// Sink receives notifications as they are dispatched.
type Sink interface {
	Deliver(n *Notification)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(n *Notification)

func (f SinkFunc) Deliver(n *Notification) { f(n) }

// LogSink writes notifications to the structured log.
func LogSink(logger *slog.Logger) Sink {
	return SinkFunc(func(n *Notification) {
		logger.Info("notification", "user", n.UserID, "kind", n.Kind, "message", n.Message)
	})
}

// Dispatcher queues notifications and delivers them from a worker
// goroutine. The queue is bounded; under sustained overload the
// oldest-undelivered policy is to drop new entries with a warning.
type Dispatcher struct {
	store  Store
	sinks  []Sink
	queue  chan *Notification
	logger *slog.Logger
	wg     sync.WaitGroup
	once   sync.Once
}

func NewDispatcher(store Store, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  store,
		sinks:  sinks,
		queue:  make(chan *Notification, 1024),
		logger: logger,
	}
}

// Start launches the delivery worker. Call once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				d.drain()
				return
			case n, ok := <-d.queue:
				if !ok {
					return
				}
				d.deliver(ctx, n)
			}
		}
	}()
}

// Close stops accepting notifications and waits for the worker.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Notify queues a notification. Never blocks.
func (d *Dispatcher) Notify(userID, kind, message string) {
	n := &Notification{
		ID:        idgen.WithPrefix("ntf_"),
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	}
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, dropping", "user", userID, "kind", kind)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification) {
	if err := d.store.Create(ctx, n); err != nil {
		d.logger.Warn("persist notification failed", "user", n.UserID, "error", err)
	}
	for _, sink := range d.sinks {
		sink.Deliver(n)
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(context.Background(), n)
		default:
			return
		}
	}
}
