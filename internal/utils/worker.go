package utils

import (
	"errors"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	TASK_CHAN_SIZE = 100
)

var ErrPoolStopped = errors.New("worker pool stopped")

type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool runs a fixed set of workers, each draining its own task queue.
// Tasks submitted under the same key always land on the same worker, so
// state keyed that way is only ever touched by one goroutine.
type WorkerPool struct {
	n     int        // number of workers
	tasks []chan any // one queue per worker
}

func NewWorkerPool(size uint, queueSize int) *WorkerPool {
	if size == 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = TASK_CHAN_SIZE
	}
	tasks := make([]chan any, size)
	for i := range tasks {
		tasks[i] = make(chan any, queueSize)
	}
	return &WorkerPool{
		n:     int(size),
		tasks: tasks,
	}
}

func (pool *WorkerPool) Size() int {
	return pool.n
}

// Setup starts every worker under t. A worker returning an error kills the
// tomb, which stops the remaining workers.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	for id := range pool.tasks {
		t.Go(func() error {
			return pool.worker(t, id, work)
		})
	}
}

// Slot returns the worker index responsible for key.
func (pool *WorkerPool) Slot(key string) int {
	return int(xxhash.Sum64String(key) % uint64(pool.n))
}

// AddTask queues task on the worker owning key. It blocks while that queue is
// full and gives up once t starts dying.
func (pool *WorkerPool) AddTask(t *tomb.Tomb, key string, task any) error {
	select {
	case <-t.Dying():
		return ErrPoolStopped
	default:
	}
	select {
	case <-t.Dying():
		return ErrPoolStopped
	case pool.tasks[pool.Slot(key)] <- task:
		return nil
	}
}

// Workers wait on tasks in their own queue and action them in order.
func (pool *WorkerPool) worker(t *tomb.Tomb, id int, work WorkerFunction) error {
	queue := pool.tasks[id]
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-queue:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Int("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}
