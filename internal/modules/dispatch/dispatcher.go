package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"escaperoom/internal/metrics"
)

// Func is one side effect. It must be safe to run more than once.
type Func func(ctx context.Context) error

type Config struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	QueueSize   int
}

type job struct {
	name        string
	fn          Func
	maxAttempts int
}

// Dispatcher runs side effects (provider cancellation, emails, announcements)
// off the request path with a bounded retry policy.
type Dispatcher struct {
	cfg    Config
	log    *logrus.Logger
	jobs   chan job
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg Config, log *logrus.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Dispatcher{cfg: cfg, log: log, jobs: make(chan job, cfg.QueueSize)}
}

func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.log.WithField("workers", d.cfg.Workers).Info("dispatcher started")
}

// Stop drains queued jobs and waits for the workers. Jobs still backing off
// are abandoned.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
	d.log.Info("dispatcher stopped")
}

// Submit enqueues fn with the default retry policy. It never blocks and
// reports false when the job was dropped.
func (d *Dispatcher) Submit(name string, fn Func) bool {
	return d.enqueue(job{name: name, fn: fn, maxAttempts: d.cfg.MaxAttempts})
}

// SubmitOnce enqueues fn without retries.
func (d *Dispatcher) SubmitOnce(name string, fn Func) bool {
	return d.enqueue(job{name: name, fn: fn, maxAttempts: 1})
}

func (d *Dispatcher) enqueue(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.WithField("job", j.name).Warn("dispatcher closed, job dropped")
		metrics.RecordDispatch(j.name, "dropped")
		return false
	}
	select {
	case d.jobs <- j:
		metrics.DispatchQueueLength.Set(float64(len(d.jobs)))
		return true
	default:
		d.log.WithField("job", j.name).Error("dispatch queue full, job dropped")
		metrics.RecordDispatch(j.name, "dropped")
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for j := range d.jobs {
		metrics.DispatchQueueLength.Set(float64(len(d.jobs)))
		d.run(ctx, j)
	}
}

func (d *Dispatcher) run(ctx context.Context, j job) {
	for attempt := 1; ; attempt++ {
		err := j.fn(ctx)
		if err == nil {
			metrics.RecordDispatch(j.name, "ok")
			return
		}
		entry := d.log.WithError(err).WithFields(logrus.Fields{"job": j.name, "attempt": attempt})
		if attempt >= j.maxAttempts {
			entry.Error("side effect failed, giving up")
			metrics.RecordDispatch(j.name, "failed")
			return
		}
		entry.Warn("side effect failed, retrying")
		metrics.RecordDispatch(j.name, "retry")

		timer := time.NewTimer(d.cfg.Backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Inline runs every job synchronously on the caller's goroutine. It is used
// by one-shot commands and tests where no worker pool is running.
type Inline struct {
	MaxAttempts int
	Log         *logrus.Logger
}

func (i *Inline) Submit(name string, fn Func) bool {
	attempts := i.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return i.runN(name, fn, attempts)
}

func (i *Inline) SubmitOnce(name string, fn Func) bool {
	return i.runN(name, fn, 1)
}

func (i *Inline) runN(name string, fn Func, attempts int) bool {
	var err error
	for a := 0; a < attempts; a++ {
		if err = fn(context.Background()); err == nil {
			return true
		}
	}
	if i.Log != nil {
		i.Log.WithError(err).WithField("job", name).Error("side effect failed")
	}
	return true
}
