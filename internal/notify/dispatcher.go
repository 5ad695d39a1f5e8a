package notify

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"iotmon/internal/logger"
	"iotmon/internal/metrics"
)

// envelope is one queued publish.
type envelope struct {
	group   string
	event   string
	payload interface{}
}

// Dispatcher decouples the pipeline from the sink: Publish enqueues
// and returns immediately, a pool of workers drains the queue into the
// wrapped sink. When the queue is full the event is dropped and
// counted; the pipeline is never blocked by a slow subscriber.
type Dispatcher struct {
	sink    Notifier
	queue   chan envelope
	workers int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// DispatcherConfig holds dispatcher tuning.
type DispatcherConfig struct {
	Sink      Notifier
	QueueSize int
	Workers   int
}

// NewDispatcher creates a dispatcher around the given sink.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	metrics.EventQueueCapacity.Set(float64(cfg.QueueSize))

	return &Dispatcher{
		sink:    cfg.Sink,
		queue:   make(chan envelope, cfg.QueueSize),
		workers: cfg.Workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	log := logger.WithComponent("dispatcher")
	log.Info().
		Int("workers", d.workers).
		Int("queue_capacity", cap(d.queue)).
		Msg("starting event dispatcher")

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
}

// Stop drains in-flight events and stops the workers.
func (d *Dispatcher) Stop() {
	log := logger.WithComponent("dispatcher")
	log.Info().Msg("stopping event dispatcher")
	d.cancel()
	d.wg.Wait()
	log.Info().Msg("event dispatcher stopped")
}

// Publish enqueues an event without blocking. Implements Notifier.
func (d *Dispatcher) Publish(group, event string, payload interface{}) {
	select {
	case d.queue <- envelope{group: group, event: event, payload: payload}:
		metrics.EventQueueSize.Set(float64(len(d.queue)))
	default:
		d.dropped.Add(1)
		metrics.EventsPublishedTotal.WithLabelValues(event, "dropped").Inc()
		log := logger.WithComponent("dispatcher")
		log.Warn().
			Str("group", group).
			Str("event", event).
			Msg("event queue full, dropping event")
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	log := logger.WithComponent("dispatcher").With().Int("worker_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().
				Interface("panic", r).
				Bytes("stack", stack).
				Msg("dispatcher worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("dispatcher").Inc()
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case env := <-d.queue:
					d.deliver(env)
				default:
					return
				}
			}

		case env := <-d.queue:
			d.deliver(env)
			metrics.EventQueueSize.Set(float64(len(d.queue)))
		}
	}
}

func (d *Dispatcher) deliver(env envelope) {
	d.sink.Publish(env.group, env.event, env.payload)
	d.delivered.Add(1)
	metrics.EventsPublishedTotal.WithLabelValues(env.event, "delivered").Inc()
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}

// Stats holds dispatcher metrics.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	Queued    int
}
