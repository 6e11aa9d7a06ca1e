package usecase

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"shopassist/internal/domain/entity"
	"shopassist/internal/logger"
	"shopassist/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type TurnProcessor interface {
	ProcessTurn(ctx context.Context, req entity.TurnRequest) (*entity.TurnResult, error)
}

// Dispatcher runs non-streaming turns in the background on a fixed set of
// workers. Turns of one session always land on the same worker, so they run
// in submission order.
type Dispatcher struct {
	proc    TurnProcessor
	shards  []chan entity.TurnRequest
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	eg     errgroup.Group
}

func NewDispatcher(proc TurnProcessor, workers, queueSize int, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	perShard := queueSize / workers
	if perShard < 1 {
		perShard = 1
	}
	shards := make([]chan entity.TurnRequest, workers)
	for i := range shards {
		shards[i] = make(chan entity.TurnRequest, perShard)
	}
	return &Dispatcher{
		proc:    proc,
		shards:  shards,
		timeout: timeout,
		metrics: m,
		log:     log,
	}
}

// Start launches the workers. Jobs inherit ctx's values but not its
// cancellation, so queued turns still finish during shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for i, ch := range d.shards {
		d.eg.Go(func() error {
			for req := range ch {
				d.execute(base, req)
			}
			d.log.Debug("turn worker stopped", zap.Int("worker", i))
			return nil
		})
	}
}

// Submit never blocks.
func (d *Dispatcher) Submit(req entity.TurnRequest) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.JobRejected("closed")
		return entity.ErrDispatcherClosed
	}
	select {
	case d.shards[d.shardFor(req)] <- req:
		return nil
	default:
		d.metrics.JobRejected("queue_full")
		return entity.ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued turns, or for ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.shards {
			close(ch)
		}
	}
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.eg.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) shardFor(req entity.TurnRequest) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.Shop))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(req.SessionID))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// execute logs every outcome; a failing or panicking turn never stops the worker.
func (d *Dispatcher) execute(base context.Context, req entity.TurnRequest) {
	ctx := base
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, d.timeout)
		defer cancel()
	}
	log := d.log.With(logger.TurnFields(req.Shop, req.SessionID)...)

	d.metrics.JobStarted()
	defer d.metrics.JobFinished()
	defer func() {
		if r := recover(); r != nil {
			log.Error("turn panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()

	result, err := d.proc.ProcessTurn(ctx, req)
	if err != nil {
		log.Error("background turn failed", zap.Error(err))
		return
	}
	log.Debug("background turn done", zap.Bool("handoff", result.Handoff), zap.Bool("merged", result.Merged))
}
