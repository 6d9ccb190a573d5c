package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgeneration/radiance-ai/backend/internal/metrics"
	"github.com/dgeneration/radiance-ai/backend/internal/pkg/llm"
	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

// -----------------------------
// Job 定义
// -----------------------------
type Job struct {
	SessionID   string
	EnqueuedAt  time.Time
	Attempt     int
	MaxAttempts int
	Timeout     time.Duration
}

// -----------------------------
// SessionExecutor 接口
// -----------------------------
type SessionExecutor interface {
	ExecuteSession(ctx context.Context, sessionID string) error
}

// Options 编排器配置
type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	JobTimeout  time.Duration
	// StopTimeout Stop 时等待运行中任务结束的时长
	StopTimeout time.Duration
}

// -----------------------------
// Orchestrator
// -----------------------------
type Orchestrator struct {
	jobQueue    *jobQueue
	retryQueue  *jobQueue
	retryTicker *time.Ticker

	pool *ants.Pool

	executor SessionExecutor
	opts     Options

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	// 已入队或正在执行的会话，同一会话同时只允许一个后台任务
	active      map[string]context.CancelFunc
	activeMutex sync.Mutex
}

// -----------------------------
// 错误定义
// -----------------------------
var (
	ErrOrchestratorStopped = errors.New("orchestrator is stopped")
	ErrQueueFull           = errors.New("job queue is full")
	ErrSessionBusy         = errors.New("session already has a background run")
)

// NewSessionJob
// 说明：创建会话后台任务，尝试次数与超时取编排器配置
func (o *Orchestrator) NewSessionJob(sessionID string) *Job {
	return &Job{
		SessionID:   sessionID,
		EnqueuedAt:  time.Now(),
		MaxAttempts: o.opts.MaxAttempts,
		Timeout:     o.opts.JobTimeout,
	}
}

// -----------------------------
// 构造函数
// -----------------------------
func NewOrchestrator(opts Options, executor SessionExecutor) (*Orchestrator, error) {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 120
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = opts.JobTimeout + 5*time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool, err := ants.NewPool(opts.Workers,
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(1000),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		cancel()
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}

	return &Orchestrator{
		jobQueue:    newJobQueue(opts.QueueSize),
		retryQueue:  newJobQueue(opts.QueueSize),
		retryTicker: time.NewTicker(500 * time.Millisecond),
		pool:        pool,
		active:      make(map[string]context.CancelFunc),
		executor:    executor,
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// -----------------------------
// 启动
// -----------------------------
func (o *Orchestrator) Start() {
	go o.dispatchLoop()
	go o.processRetryQueue()
	klog.V(6).Infof("[Orchestrator] started: workers=%d, maxAttempts=%d", o.opts.Workers, o.opts.MaxAttempts)
}

// -----------------------------
// 停止
// -----------------------------
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		klog.V(6).Infof("[Orchestrator] stopping...")

		// 1. 停止接收新任务，关闭队列；未分发的任务直接丢弃，会话保持当前步骤，可再次提交
		o.cancel()
		o.jobQueue.Close()
		o.retryQueue.Close()
		metrics.QueueDepth.Set(0)

		// 2. 等待正在执行的任务结束
		if running := o.pool.Running(); running > 0 {
			klog.V(6).Infof("[Orchestrator] waiting for %d running jobs (timeout: %v)", running, o.opts.StopTimeout)
		}
		if err := o.pool.ReleaseTimeout(o.opts.StopTimeout); err != nil {
			klog.Warningf("[Orchestrator] timeout after %v: some running jobs may be forced to stop", o.opts.StopTimeout)
		}

		klog.V(6).Infof("[Orchestrator] stopped completely")
	})
}

// -----------------------------
// 入队任务
// -----------------------------
func (o *Orchestrator) EnqueueJob(job *Job) error {
	select {
	case <-o.ctx.Done():
		return ErrOrchestratorStopped
	default:
	}

	if !o.claim(job.SessionID) {
		return ErrSessionBusy
	}
	if err := o.jobQueue.Enqueue(job); err != nil {
		o.release(job.SessionID)
		if errors.Is(err, ErrQueueFull) {
			klog.Warningf("[Orchestrator] job queue full: sessionID=%s", job.SessionID)
		}
		return err
	}
	metrics.QueueDepth.Set(float64(o.jobQueue.Len()))
	klog.V(6).Infof("[Orchestrator] job enqueued: sessionID=%s", job.SessionID)
	return nil
}

// Enqueue 以默认配置提交会话的后台任务
func (o *Orchestrator) Enqueue(sessionID string) error {
	return o.EnqueueJob(o.NewSessionJob(sessionID))
}

// -----------------------------
// 会话占用与取消
// -----------------------------
func (o *Orchestrator) claim(sessionID string) bool {
	o.activeMutex.Lock()
	defer o.activeMutex.Unlock()
	if _, ok := o.active[sessionID]; ok {
		return false
	}
	o.active[sessionID] = nil
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.activeMutex.Lock()
	defer o.activeMutex.Unlock()
	delete(o.active, sessionID)
}

func (o *Orchestrator) registerCancel(sessionID string, cancel context.CancelFunc) {
	o.activeMutex.Lock()
	defer o.activeMutex.Unlock()
	o.active[sessionID] = cancel
}

// Busy 会话是否已有排队或运行中的后台任务
func (o *Orchestrator) Busy(sessionID string) bool {
	o.activeMutex.Lock()
	defer o.activeMutex.Unlock()
	_, ok := o.active[sessionID]
	return ok
}

// CancelSession 取消会话正在运行的后台任务，任务尚未开始执行时返回 false
func (o *Orchestrator) CancelSession(sessionID string) bool {
	o.activeMutex.Lock()
	cancel := o.active[sessionID]
	o.activeMutex.Unlock()
	if cancel == nil {
		return false
	}

	klog.V(6).Infof("[Orchestrator] cancelling job: sessionID=%s", sessionID)
	cancel()
	return true
}

// -----------------------------
// Dispatch Loop
// -----------------------------
func (o *Orchestrator) dispatchLoop() {
	for {
		select {
		case <-o.ctx.Done():
			return
		default:
			job, ok := o.jobQueue.Dequeue()
			if !ok {
				continue
			}
			metrics.QueueDepth.Set(float64(o.jobQueue.Len()))
			o.tryDispatch(job)
		}
	}
}

// -----------------------------
// Retry Queue Loop
// -----------------------------
func (o *Orchestrator) processRetryQueue() {
	defer o.retryTicker.Stop()
	// 协程级 Panic 防护，避免协程退出
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("[Orchestrator] retry queue loop panic recovered: %v", r)
		}
	}()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.retryTicker.C:
			for range 10 {
				if o.retryQueue.Len() == 0 {
					break
				}
				job, ok := o.retryQueue.Dequeue()
				if !ok {
					break
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							klog.Errorf("[Orchestrator] retry dispatch panic: sessionID=%s, err=%v", job.SessionID, r)
						}
					}()
					o.tryDispatch(job)
				}()
			}
		}
	}
}

// -----------------------------
// Try Dispatch
// -----------------------------
// tryDispatch
// 说明：分发任务到协程池执行；协程池提交失败时按尝试上限重新入队
func (o *Orchestrator) tryDispatch(job *Job) {
	if job.MaxAttempts <= 0 || job.Attempt >= job.MaxAttempts {
		klog.Warningf("[Orchestrator] 任务尝试次数已达上限，放弃: sessionID=%s, attempt=%d/%d", job.SessionID, job.Attempt, job.MaxAttempts)
		o.release(job.SessionID)
		metrics.BackgroundJobs.WithLabelValues("dropped").Inc()
		return
	}
	err := o.pool.Submit(func() {
		o.executeJob(job)
	})
	if err == nil {
		return
	}
	klog.Errorf("[Orchestrator] 提交任务到协程池失败: sessionID=%s, err=%v", job.SessionID, err)

	job.Attempt++
	if job.Attempt >= job.MaxAttempts {
		o.release(job.SessionID)
		metrics.BackgroundJobs.WithLabelValues("dropped").Inc()
		return
	}
	if err := o.retryQueue.Enqueue(job); err != nil {
		klog.Errorf("[Orchestrator] 任务重试入队失败: sessionID=%s, err=%v", job.SessionID, err)
		o.release(job.SessionID)
	}
}

// executeJob 执行会话剩余阶段，失败时按 MaxAttempts 指数退避重试
func (o *Orchestrator) executeJob(job *Job) {
	defer o.release(job.SessionID)
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("[Orchestrator] job panic recovered: sessionID=%s, err=%v", job.SessionID, r)
			metrics.BackgroundJobs.WithLabelValues("panic").Inc()
		}
	}()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(o.ctx, timeout)
	defer cancel()
	runCtx, manualCancel := context.WithCancel(ctx)
	defer manualCancel()

	o.registerCancel(job.SessionID, manualCancel)

	for i := job.Attempt; i < job.MaxAttempts; i++ {
		job.Attempt = i

		err := o.executor.ExecuteSession(runCtx, job.SessionID)
		if err == nil {
			klog.V(6).Infof("[Orchestrator] job completed: sessionID=%s", job.SessionID)
			metrics.BackgroundJobs.WithLabelValues("succeeded").Inc()
			return
		}
		if i+1 >= job.MaxAttempts {
			klog.Errorf("[Orchestrator] 任务执行失败且超过尝试上限: sessionID=%s, err=%v", job.SessionID, err)
			break
		}

		backoff := time.Second << i
		if wait := llm.RetryAfter(err); wait > backoff {
			backoff = wait
		}
		if backoff > 5*time.Minute {
			backoff = 5 * time.Minute
		}
		klog.Warningf("[Orchestrator] 任务执行失败，准备重试: sessionID=%s, attempt=%d/%d, err=%v, backoff=%v",
			job.SessionID, i+1, job.MaxAttempts, err, backoff)

		select {
		case <-runCtx.Done():
			klog.Warningf("[Orchestrator] 任务被取消或超时: sessionID=%s", job.SessionID)
			metrics.BackgroundJobs.WithLabelValues("canceled").Inc()
			return
		case <-time.After(backoff):
		}
	}
	metrics.BackgroundJobs.WithLabelValues("failed").Inc()
}

// -----------------------------
// Queue Status
// -----------------------------
type QueueStatus struct {
	QueueLength    int `json:"queue_length"`
	ActiveWorkers  int `json:"active_workers"`
	ActiveSessions int `json:"active_sessions"`
}

func (o *Orchestrator) GetQueueStatus() *QueueStatus {
	o.activeMutex.Lock()
	sessions := len(o.active)
	o.activeMutex.Unlock()
	return &QueueStatus{
		QueueLength:    o.jobQueue.Len(),
		ActiveWorkers:  o.pool.Running(),
		ActiveSessions: sessions,
	}
}

// -----------------------------
// JobQueue (Ring Buffer) + Reject New
// -----------------------------
type jobQueue struct {
	maxSize int
	items   []*Job
	mutex   sync.Mutex
	cond    *sync.Cond
	closed  bool
}

func newJobQueue(maxSize int) *jobQueue {
	q := &jobQueue{
		maxSize: maxSize,
		items:   make([]*Job, 0, maxSize),
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

func (q *jobQueue) Enqueue(job *Job) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return ErrOrchestratorStopped
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull // Reject New
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

func (q *jobQueue) Dequeue() (*Job, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return job, true
}

func (q *jobQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

func (q *jobQueue) Close() {
	q.mutex.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()
}
