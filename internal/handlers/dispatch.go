package handlers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qaknc8/edupay-backend/pkg/logging"
)

// Dispatcher runs post-commit side effects (emails, receipt generation) on a
// bounded worker pool so request handlers never block on them. Core workers
// stay alive for the lifetime of the service; burst workers are spawned when
// the queue backs up and exit after sitting idle.
type Dispatcher struct {
	logger logging.Logger

	queue       chan func(ctx context.Context)
	coreWorkers int
	maxWorkers  int
	idleTimeout time.Duration

	workers atomic.Int64
	dropped atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherConfig controls pool sizing. Zero values fall back to the
// defaults: core = NumCPU, max = 2x core, queue depth 50, 60s idle timeout.
type DispatcherConfig struct {
	CoreWorkers int
	MaxWorkers  int
	QueueDepth  int
	IdleTimeout time.Duration
	Logger      logging.Logger
}

// NewDispatcher creates a stopped dispatcher; call Start before submitting
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.CoreWorkers <= 0 {
		config.CoreWorkers = runtime.NumCPU()
	}
	if config.MaxWorkers < config.CoreWorkers {
		config.MaxWorkers = config.CoreWorkers * 2
	}
	if config.QueueDepth <= 0 {
		config.QueueDepth = 50
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 60 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		logger:      config.Logger,
		queue:       make(chan func(ctx context.Context), config.QueueDepth),
		coreWorkers: config.CoreWorkers,
		maxWorkers:  config.MaxWorkers,
		idleTimeout: config.IdleTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the core workers
func (d *Dispatcher) Start() {
	for i := 0; i < d.coreWorkers; i++ {
		d.spawn(true)
	}

	d.logger.WithFields(logging.Fields{
		"core_workers": d.coreWorkers,
		"max_workers":  d.maxWorkers,
		"queue_depth":  cap(d.queue),
	}).Info("Dispatcher started")
}

// Stop drains in-flight work and shuts the pool down. Queued tasks that have
// not started yet are abandoned.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()

	if dropped := d.dropped.Load(); dropped > 0 {
		d.logger.WithFields(logging.Fields{"dropped": dropped}).Warn("Dispatcher stopped with dropped tasks")
	}
}

// Submit enqueues a task. When the queue is full a burst worker is added up
// to the pool maximum; if the pool is saturated the task is dropped with a
// warning rather than blocking the caller.
func (d *Dispatcher) Submit(name string, task func(ctx context.Context)) {
	select {
	case d.queue <- task:
		return
	default:
	}

	if d.workers.Load() < int64(d.maxWorkers) {
		d.spawn(false)
		select {
		case d.queue <- task:
			return
		default:
		}
	}

	d.dropped.Add(1)
	d.logger.WithFields(logging.Fields{
		"task":    name,
		"workers": d.workers.Load(),
	}).Warn("Dispatcher queue full, task dropped")
}

func (d *Dispatcher) spawn(core bool) {
	d.workers.Add(1)
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		defer d.workers.Add(-1)

		idle := time.NewTimer(d.idleTimeout)
		defer idle.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case task := <-d.queue:
				task(d.ctx)
				if !core {
					if !idle.Stop() {
						select {
						case <-idle.C:
						default:
						}
					}
					idle.Reset(d.idleTimeout)
				}
			case <-idle.C:
				if core {
					idle.Reset(d.idleTimeout)
					continue
				}
				return
			}
		}
	}()
}
