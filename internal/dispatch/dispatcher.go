package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "tickmatch/internal/common"
	"tickmatch/internal/engine"
	"tickmatch/internal/metrics"
	"tickmatch/internal/utils"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

var (
	ErrNotRunning      = errors.New("dispatcher not running")
	ErrUnknownAction   = errors.New("unknown action")
	ErrImproperRequest = errors.New("improper request type")
)

type Action uint8

const (
	// Submit matches across levels while the price crosses, then rests the
	// remainder.
	Submit Action = iota
	// Rest adds the order to the book without matching.
	Rest
	// Match performs a single best level match. Nothing is rested.
	Match
)

func (a Action) String() string {
	switch a {
	case Submit:
		return "submit"
	case Rest:
		return "rest"
	case Match:
		return "match"
	default:
		return "unknown"
	}
}

// Result carries the outcome of a request back to its caller.
type Result struct {
	Execution engine.Execution
	Matched   bool // Set when a Match request traded
	Err       error
}

type request struct {
	action Action
	order  Order
	reply  chan Result
}

// Dispatcher gives every book exactly one owning goroutine. Requests are
// routed by symbol onto a worker pool, so two requests for the same symbol
// are always applied in submission order by the same worker, while different
// symbols proceed in parallel.
type Dispatcher struct {
	engine    *engine.Engine
	workers   uint
	queueSize int

	mu   sync.Mutex
	pool *utils.WorkerPool
	t    *tomb.Tomb
}

func New(eng *engine.Engine, workers uint, queueSize int) *Dispatcher {
	return &Dispatcher{
		engine:    eng,
		workers:   workers,
		queueSize: queueSize,
	}
}

// Start launches the workers. They run until ctx is cancelled or Stop is
// called. Starting a running dispatcher is a no-op. Restarting a stopped one
// waits for the old workers to exit and begins with empty queues: requests
// abandoned by the previous run are never applied.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.t != nil {
		select {
		case <-d.t.Dying():
			<-d.t.Dead()
		default:
			return
		}
	}

	t, _ := tomb.WithContext(ctx)
	d.pool = utils.NewWorkerPool(d.workers, d.queueSize)
	d.pool.Setup(t, d.handle)
	d.t = t
	log.Info().Int("workers", d.pool.Size()).Msg("dispatcher running")
}

// Stop kills the workers and waits for them to exit. Queued requests that
// have not been picked up are abandoned; their callers see ErrNotRunning.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	t := d.t
	d.mu.Unlock()
	if t == nil {
		return nil
	}
	t.Kill(nil)
	return t.Wait()
}

func (d *Dispatcher) running() (*tomb.Tomb, *utils.WorkerPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.t, d.pool
}

// Do routes order to the worker owning its book and waits for the outcome.
func (d *Dispatcher) Do(ctx context.Context, action Action, order Order) (Result, error) {
	t, pool := d.running()
	if t == nil {
		return Result{}, ErrNotRunning
	}

	req := request{
		action: action,
		order:  order,
		reply:  make(chan Result, 1),
	}
	if err := pool.AddTask(t, order.Symbol, req); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrNotRunning, err)
	}

	select {
	case res := <-req.reply:
		return res, res.Err
	case <-t.Dying():
		return Result{}, ErrNotRunning
	case <-ctx.Done():
		// The request may still be applied; only the wait is abandoned.
		return Result{}, ctx.Err()
	}
}

// handle runs on the worker owning the order's symbol. Order level failures
// are returned to the caller; only a malformed task stops the worker.
func (d *Dispatcher) handle(_ *tomb.Tomb, task any) error {
	req, ok := task.(request)
	if !ok {
		return ErrImproperRequest
	}
	req.reply <- d.apply(req.action, req.order)
	return nil
}

func (d *Dispatcher) apply(action Action, order Order) Result {
	start := time.Now()
	defer func() {
		metrics.OrderProcessing.WithLabelValues(action.String()).Observe(time.Since(start).Seconds())
	}()

	switch action {
	case Submit:
		execution, err := d.engine.Submit(order)
		return Result{Execution: execution, Err: err}
	case Rest:
		if err := d.engine.Rest(order); err != nil {
			return Result{Execution: engine.Execution{Order: order}, Err: err}
		}
		return Result{Execution: engine.Execution{Order: order, Rested: order.Size}}
	case Match:
		trade, ok, err := d.engine.Match(order)
		res := Result{Execution: engine.Execution{Order: order}, Matched: ok, Err: err}
		if ok {
			res.Execution.Trades = []Trade{trade}
			res.Execution.Filled = trade.Size
		}
		return res
	default:
		return Result{Err: fmt.Errorf("%d: %w", action, ErrUnknownAction)}
	}
}
