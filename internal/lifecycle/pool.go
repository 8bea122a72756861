package lifecycle

import (
	"context"
	"errors"
	"sync"

	"dharani-backend/internal/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Dispatch after Close.
var ErrPoolClosed = errors.New("lifecycle pool is closed")

// Runner executes one lifecycle run. *Driver satisfies it.
type Runner interface {
	Run(ctx context.Context, requestID string) error
}

// Dispatcher hands a request to the background lifecycle. The HTTP path calls
// it after the request row is committed and never waits for the run.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID string) error
}

// Pool is an in-process, bounded worker pool for lifecycle runs. Runs outlive
// the HTTP request that dispatched them and are bound to the pool's context.
type Pool struct {
	runner Runner
	logger *zap.Logger
	tasks  chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	doneMu   sync.Mutex
	pending  map[string]*pendingRun
	finished *lru.Cache[string, struct{}]
}

// pendingRun counts the queued or running dispatches of one request id.
type pendingRun struct {
	done chan struct{}
	n    int
}

// NewPool starts workers goroutines reading from a queue of queueSize.
func NewPool(runner Runner, workers, queueSize int, logger *zap.Logger) *Pool {
	workers = max(1, workers)
	queueSize = max(workers, queueSize)
	finished, _ := lru.New[string, struct{}](1024)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		runner:   runner,
		logger:   logger,
		tasks:    make(chan string, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*pendingRun),
		finished: finished,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	logger.Info("🔧 [POOL] Lifecycle pool started", zap.Int("workers", workers), zap.Int("queue", queueSize))
	return p
}

func (p *Pool) work(n int) {
	defer p.wg.Done()
	for id := range p.tasks {
		p.runOne(n, id)
	}
}

func (p *Pool) runOne(n int, id string) {
	defer p.markDone(id)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("❌ [POOL] Lifecycle run panicked",
				zap.Int("worker", n), zap.String("request_id", id), zap.Any("panic", r))
		}
	}()
	if err := p.runner.Run(p.ctx, id); err != nil {
		p.logger.Warn("⚠️  [POOL] Lifecycle run ended with error",
			zap.Int("worker", n), zap.String("request_id", id), zap.Error(err))
	}
}

// Dispatch queues requestID. It blocks while the queue is full, until ctx ends.
func (p *Pool) Dispatch(ctx context.Context, requestID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.DispatchTotal.WithLabelValues("pool", "closed").Inc()
		return ErrPoolClosed
	}

	p.doneMu.Lock()
	pr, ok := p.pending[requestID]
	if !ok {
		pr = &pendingRun{done: make(chan struct{})}
		p.pending[requestID] = pr
	}
	pr.n++
	p.doneMu.Unlock()

	select {
	case p.tasks <- requestID:
		metrics.DispatchTotal.WithLabelValues("pool", "ok").Inc()
		return nil
	case <-ctx.Done():
		p.doneMu.Lock()
		if pr.n--; pr.n == 0 {
			delete(p.pending, requestID)
		}
		p.doneMu.Unlock()
		metrics.DispatchTotal.WithLabelValues("pool", "timeout").Inc()
		return ctx.Err()
	}
}

// Done returns a channel closed once every queued or running dispatch of
// requestID has finished. Unknown ids that recently finished get a closed channel; ids the
// pool has never seen get nil.
func (p *Pool) Done(requestID string) <-chan struct{} {
	p.doneMu.Lock()
	defer p.doneMu.Unlock()
	if pr, ok := p.pending[requestID]; ok {
		return pr.done
	}
	if p.finished.Contains(requestID) {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return nil
}

func (p *Pool) markDone(id string) {
	p.doneMu.Lock()
	defer p.doneMu.Unlock()
	pr, ok := p.pending[id]
	if !ok {
		return
	}
	if pr.n--; pr.n > 0 {
		return
	}
	close(pr.done)
	delete(p.pending, id)
	p.finished.Add(id, struct{}{})
}

// Close stops accepting work, lets queued runs finish and waits for the
// workers. Cancelling ctx cancels the runs' context, which cuts their pacing
// short; their remaining steps are still recorded before Close returns.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("🛑 [POOL] Lifecycle pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
