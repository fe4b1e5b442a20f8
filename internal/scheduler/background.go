package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 2
)

const (
	QueuePressureOK        = "ok"
	QueuePressureElevated  = "elevated"
	QueuePressureHigh      = "high"
	QueuePressureSaturated = "saturated"
)

// Reasons a task ran on the scheduling goroutine instead of a worker.
const (
	InlineReasonQueueFull = "queue_full"
	InlineReasonStopped   = "stopped"
)

// Diagnostics captures queue pressure and task outcome counters.
type Diagnostics struct {
	Workers                          int        `json:"workers"`
	QueueCapacity                    int        `json:"queue_capacity"`
	QueueDepth                       int        `json:"queue_depth"`
	QueueDepthHighWatermark          int        `json:"queue_depth_high_watermark"`
	QueueUtilizationPct              int        `json:"queue_utilization_pct"`
	QueueHighWatermarkUtilizationPct int        `json:"queue_high_watermark_utilization_pct"`
	QueuePressureState               string     `json:"queue_pressure_state"`
	QueueHighWatermarkPressureState  string     `json:"queue_high_watermark_pressure_state"`
	AcceptedTotal                    int64      `json:"accepted_total"`
	InlineTotal                      int64      `json:"inline_total"`
	CompletedTotal                   int64      `json:"completed_total"`
	FailedTotal                      int64      `json:"failed_total"`
	LastInlineAt                     *time.Time `json:"last_inline_at,omitempty"`
	LastFailureAt                    *time.Time `json:"last_failure_at,omitempty"`
	LastFailureTask                  string     `json:"last_failure_task,omitempty"`
	Stopped                          bool       `json:"stopped"`
}

// Metrics holds optional callbacks invoked at key points of the pipeline.
type Metrics struct {
	// OnEnqueue is called each time a task is placed on the queue.
	OnEnqueue func()
	// OnInline is called when a task runs on the caller because the queue
	// was full or the scheduler was stopped.
	OnInline func(reason string)
	// OnComplete is called after every task with its outcome.
	OnComplete func(task string, duration time.Duration, err error)
}

// Options configures a Background scheduler.
type Options struct {
	QueueSize   int
	Workers     int
	TaskTimeout time.Duration
}

type job struct {
	name string
	task Task
}

// Background runs tasks on a fixed pool of workers fed by a bounded queue.
type Background struct {
	queue       chan job
	workers     int
	taskTimeout time.Duration
	wg          sync.WaitGroup

	started     atomic.Bool
	stopped     atomic.Bool
	stopOnce    sync.Once
	doneOnce    sync.Once
	done        chan struct{}
	queueMu     sync.RWMutex
	lifecycleMu sync.RWMutex
	taskCtx     context.Context
	taskCancel  context.CancelFunc
	onFailure   atomic.Value // FailureHandler
	metrics     atomic.Value // *Metrics

	queueDepthHighWatermark atomic.Int64
	acceptedTotal           atomic.Int64
	inlineTotal             atomic.Int64
	completedTotal          atomic.Int64
	failedTotal             atomic.Int64
	lastInlineUnixNano      atomic.Int64
	lastFailureUnixNano     atomic.Int64
	lastFailureTask         atomic.Value // string
}

// NewBackground returns a scheduler that queues tasks until Start is called.
func NewBackground(opts Options) *Background {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	s := &Background{
		queue:       make(chan job, opts.QueueSize),
		workers:     opts.Workers,
		taskTimeout: opts.TaskTimeout,
		done:        make(chan struct{}),
		taskCtx:     taskCtx,
		taskCancel:  cancel,
	}
	s.onFailure.Store(noopFailureHandler)
	s.metrics.Store(&Metrics{})
	s.lastFailureTask.Store("")
	return s
}

// SetFailureHandler replaces the callback used for task failures.
func (s *Background) SetFailureHandler(handler FailureHandler) {
	if s == nil {
		return
	}
	if handler == nil {
		handler = noopFailureHandler
	}
	s.onFailure.Store(handler)
}

// SetMetrics replaces the metric callbacks used by the scheduler.
func (s *Background) SetMetrics(m *Metrics) {
	if s == nil {
		return
	}
	if m == nil {
		m = &Metrics{}
	}
	s.metrics.Store(m)
}

func (s *Background) loadMetrics() *Metrics {
	m, _ := s.metrics.Load().(*Metrics)
	return m
}

// QueueLen returns the number of tasks waiting for a worker.
func (s *Background) QueueLen() int {
	if s == nil {
		return 0
	}
	return len(s.queue)
}

// Start launches the workers. Task contexts inherit values from ctx but not
// its cancellation, so queued work survives the end of ctx until Shutdown.
func (s *Background) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.lifecycleMu.Lock()
	s.taskCancel()
	s.taskCtx, s.taskCancel = context.WithCancel(context.WithoutCancel(ctx))
	taskCtx := s.taskCtx
	s.lifecycleMu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for j := range s.queue {
				s.run(taskCtx, j, false)
			}
		}()
	}
	go func() {
		s.wg.Wait()
		s.markDone()
	}()
}

// Schedule queues task for a worker. When the queue is full or the scheduler
// has been shut down the task runs on the calling goroutine instead.
func (s *Background) Schedule(name string, task Task) {
	if task == nil {
		return
	}
	j := job{name: name, task: task}
	if reason, ok := s.enqueue(j); !ok {
		s.runInline(j, reason)
	}
}

func (s *Background) enqueue(j job) (string, bool) {
	if s.stopped.Load() {
		return InlineReasonStopped, false
	}
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.stopped.Load() {
		return InlineReasonStopped, false
	}

	select {
	case s.queue <- j:
		s.acceptedTotal.Add(1)
		s.observeQueueDepth(len(s.queue))
		if m := s.loadMetrics(); m != nil && m.OnEnqueue != nil {
			m.OnEnqueue()
		}
		return "", true
	default:
		s.observeQueueDepth(cap(s.queue))
		return InlineReasonQueueFull, false
	}
}

func (s *Background) runInline(j job, reason string) {
	s.inlineTotal.Add(1)
	s.lastInlineUnixNano.Store(time.Now().UTC().UnixNano())
	if m := s.loadMetrics(); m != nil && m.OnInline != nil {
		m.OnInline(reason)
	}
	s.run(context.Background(), j, true)
}

func (s *Background) run(ctx context.Context, j job, inline bool) {
	elapsed, err := runTask(ctx, s.taskTimeout, j.task)
	if m := s.loadMetrics(); m != nil && m.OnComplete != nil {
		m.OnComplete(j.name, elapsed, err)
	}
	if err == nil {
		s.completedTotal.Add(1)
		return
	}
	s.reportFailure(Failure{Task: j.name, Inline: inline, Duration: elapsed, Err: err})
}

// Shutdown stops accepting queued work and waits for the workers to drain
// everything already queued. If ctx ends first, the contexts of remaining
// tasks are cancelled and ctx.Err is returned.
func (s *Background) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.queueMu.Lock()
		close(s.queue)
		s.queueMu.Unlock()
		if !s.started.Load() {
			// Nobody will read the queue; finish what was accepted here.
			for j := range s.queue {
				s.run(s.currentTaskContext(), j, true)
			}
			s.markDone()
		}
	})

	select {
	case <-s.done:
		s.cancelTasks()
		return nil
	case <-ctx.Done():
		s.cancelTasks()
		return ctx.Err()
	}
}

func (s *Background) currentTaskContext() context.Context {
	s.lifecycleMu.RLock()
	defer s.lifecycleMu.RUnlock()
	return s.taskCtx
}

func (s *Background) cancelTasks() {
	s.lifecycleMu.RLock()
	cancel := s.taskCancel
	s.lifecycleMu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Background) markDone() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

func (s *Background) reportFailure(failure Failure) {
	s.failedTotal.Add(1)
	s.lastFailureUnixNano.Store(time.Now().UTC().UnixNano())
	s.lastFailureTask.Store(failure.Task)
	handler, ok := s.onFailure.Load().(FailureHandler)
	if !ok || handler == nil {
		return
	}
	handler(failure)
}

// Diagnostics returns a point-in-time snapshot for operator diagnostics.
func (s *Background) Diagnostics() Diagnostics {
	if s == nil {
		return Diagnostics{}
	}

	queueCapacity := cap(s.queue)
	queueDepth := len(s.queue)
	highWatermark := int(s.queueDepthHighWatermark.Load())
	if queueDepth > highWatermark {
		highWatermark = queueDepth
	}
	utilPct := queueUtilizationPct(queueDepth, queueCapacity)
	highWatermarkUtilPct := queueUtilizationPct(highWatermark, queueCapacity)

	snapshot := Diagnostics{
		Workers:                          s.workers,
		QueueCapacity:                    queueCapacity,
		QueueDepth:                       queueDepth,
		QueueDepthHighWatermark:          highWatermark,
		QueueUtilizationPct:              utilPct,
		QueueHighWatermarkUtilizationPct: highWatermarkUtilPct,
		QueuePressureState:               queuePressureState(utilPct),
		QueueHighWatermarkPressureState:  queuePressureState(highWatermarkUtilPct),
		AcceptedTotal:                    s.acceptedTotal.Load(),
		InlineTotal:                      s.inlineTotal.Load(),
		CompletedTotal:                   s.completedTotal.Load(),
		FailedTotal:                      s.failedTotal.Load(),
		Stopped:                          s.stopped.Load(),
	}
	if ts := s.lastInlineUnixNano.Load(); ts > 0 {
		last := time.Unix(0, ts).UTC()
		snapshot.LastInlineAt = &last
	}
	if ts := s.lastFailureUnixNano.Load(); ts > 0 {
		last := time.Unix(0, ts).UTC()
		snapshot.LastFailureAt = &last
	}
	if task, ok := s.lastFailureTask.Load().(string); ok {
		snapshot.LastFailureTask = task
	}
	return snapshot
}

func (s *Background) observeQueueDepth(depth int) {
	if depth < 0 {
		return
	}
	depthValue := int64(depth)
	for {
		current := s.queueDepthHighWatermark.Load()
		if depthValue <= current {
			return
		}
		if s.queueDepthHighWatermark.CompareAndSwap(current, depthValue) {
			return
		}
	}
}

func queueUtilizationPct(depth, capacity int) int {
	if capacity <= 0 || depth <= 0 {
		return 0
	}
	if depth >= capacity {
		return 100
	}
	return int((int64(depth) * 100) / int64(capacity))
}

func queuePressureState(utilizationPct int) string {
	switch {
	case utilizationPct >= 100:
		return QueuePressureSaturated
	case utilizationPct >= 80:
		return QueuePressureHigh
	case utilizationPct >= 50:
		return QueuePressureElevated
	default:
		return QueuePressureOK
	}
}
