package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	errpkg "github.com/veranemoloko/study-downloader/internal/errors"
)

// Task is one unit of work executed by a Pool.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskError records a task that returned an error or panicked.
type TaskError struct {
	Task string
	Err  error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

func (e TaskError) Unwrap() error {
	return e.Err
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithErrorHandler registers a callback invoked from the worker goroutine
// each time a task fails.
func WithErrorHandler(fn func(TaskError)) PoolOption {
	return func(p *Pool) {
		p.onError = fn
	}
}

// WithLogger sets the logger used for per-task diagnostics.
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// Pool runs queued tasks with bounded parallelism. All tasks must be added
// before Start; workers pull from one shared FIFO and exit once it is empty.
type Pool struct {
	ctx     context.Context
	logger  *slog.Logger
	onError func(TaskError)

	mu        sync.Mutex
	queue     []Task
	total     int
	started   bool
	cancelled bool
	failures  []TaskError

	remaining atomic.Int64
	succeeded atomic.Int64
	pending   sync.WaitGroup
	loops     errgroup.Group
}

// NewPool creates an idle pool. ctx is passed to every task.
func NewPool(ctx context.Context, opts ...PoolOption) *Pool {
	p := &Pool{
		ctx:    ctx,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddTask appends a task to the queue. It fails with ErrPoolStarted once
// Start has been called.
func (p *Pool) AddTask(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errpkg.ErrPoolStarted
	}

	p.queue = append(p.queue, task)
	p.total++
	p.remaining.Add(1)
	p.pending.Add(1)
	return nil
}

// Start launches concurrency worker loops. Values below one start a single loop.
func (p *Pool) Start(concurrency int) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errpkg.ErrPoolStarted
	}
	p.started = true
	p.mu.Unlock()

	if concurrency < 1 {
		concurrency = 1
	}

	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		p.loops.Go(func() error {
			p.loop(workerID)
			return nil
		})
	}

	p.logger.Debug("worker pool started", "workers", concurrency, "tasks", p.Total())
	return nil
}

func (p *Pool) loop(workerID int) {
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.execute(workerID, task)
	}
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		return Task{}, false
	}
	task := p.queue[0]
	p.queue[0] = Task{}
	p.queue = p.queue[1:]
	return task, true
}

func (p *Pool) execute(workerID int, task Task) {
	defer func() {
		p.remaining.Add(-1)
		p.pending.Done()
	}()

	if err := p.run(task); err != nil {
		taskErr := TaskError{Task: task.Name, Err: err}

		p.mu.Lock()
		p.failures = append(p.failures, taskErr)
		p.mu.Unlock()

		p.logger.Warn("task failed", "worker_id", workerID, "task", task.Name, "error", err)
		if p.onError != nil {
			p.onError(taskErr)
		}
		return
	}

	p.succeeded.Add(1)
}

func (p *Pool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if task.Run == nil {
		return fmt.Errorf("task has no run function")
	}
	return task.Run(p.ctx)
}

// Cancel drops every task not yet picked up by a worker and marks it done.
// Tasks already running are left to finish.
func (p *Pool) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	drained := len(p.queue)
	p.queue = nil
	p.mu.Unlock()

	for i := 0; i < drained; i++ {
		p.remaining.Add(-1)
		p.pending.Done()
	}

	if drained > 0 {
		p.logger.Debug("worker pool cancelled", "drained", drained)
	}
}

// Join blocks until every added task has been executed or drained. With
// queued tasks and no Start or Cancel it never returns.
func (p *Pool) Join() {
	p.pending.Wait()
	_ = p.loops.Wait()
}

// Total returns the number of tasks ever added.
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Remaining returns the number of tasks added but not yet marked done,
// including tasks currently executing.
func (p *Pool) Remaining() int {
	return int(p.remaining.Load())
}

// Succeeded returns the number of tasks that ran without error.
func (p *Pool) Succeeded() int {
	return int(p.succeeded.Load())
}

// Done reports whether the pending queue is empty. Tasks may still be running.
func (p *Pool) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) == 0
}

// Cancelled reports whether Cancel has been called.
func (p *Pool) Cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// Failures returns a copy of the recorded task failures.
func (p *Pool) Failures() []TaskError {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TaskError, len(p.failures))
	copy(out, p.failures)
	return out
}
