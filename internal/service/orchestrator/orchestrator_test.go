package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeExecutor struct {
	err     error
	calls   int32
	block   chan struct{}
	started chan string
}

func (f *fakeExecutor) ExecuteSession(ctx context.Context, sessionID string) error {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		f.started <- sessionID
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func waitCalls(f *fakeExecutor, n int32, within time.Duration) int32 {
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&f.calls) >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return atomic.LoadInt32(&f.calls)
}

func TestTryDispatchAttemptsExhausted(t *testing.T) {
	executor := &fakeExecutor{}
	o, _ := NewOrchestrator(Options{Workers: 1}, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	job := &Job{
		SessionID:   "s1",
		Attempt:     1,
		MaxAttempts: 1,
		Timeout:     10 * time.Millisecond,
	}
	o.claim(job.SessionID)

	o.tryDispatch(job)

	if got := o.retryQueue.Len(); got != 0 {
		t.Fatalf("retry queue should be empty, got %d", got)
	}
	if atomic.LoadInt32(&executor.calls) != 0 {
		t.Fatalf("executor should not be called, got %d", executor.calls)
	}
	if o.Busy("s1") {
		t.Fatalf("session should be released after the job is dropped")
	}
}

func TestTryDispatchRunsJob(t *testing.T) {
	executor := &fakeExecutor{}
	o, _ := NewOrchestrator(Options{Workers: 1}, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	o.tryDispatch(o.NewSessionJob("s2"))

	if got := waitCalls(executor, 1, 200*time.Millisecond); got != 1 {
		t.Fatalf("executor should be called once, got %d", got)
	}
	if got := o.retryQueue.Len(); got != 0 {
		t.Fatalf("retry queue should be empty, got %d", got)
	}
}

func TestExecuteJobStopsOnTimeout(t *testing.T) {
	executor := &fakeExecutor{err: context.DeadlineExceeded, block: make(chan struct{})}
	o, _ := NewOrchestrator(Options{Workers: 1}, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	job := &Job{
		SessionID:   "s3",
		MaxAttempts: 3,
		Timeout:     50 * time.Millisecond,
	}

	start := time.Now()
	o.executeJob(job)
	elapsed := time.Since(start)

	if atomic.LoadInt32(&executor.calls) != 1 {
		t.Fatalf("executor should be called once, got %d", executor.calls)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("executeJob took too long: %v", elapsed)
	}
}

func TestExecuteJobSingleAttemptByDefault(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("upstream 503")}
	o, _ := NewOrchestrator(Options{Workers: 1}, executor)
	o.retryTicker.Stop()
	defer o.pool.Release()

	o.executeJob(o.NewSessionJob("s4"))

	if got := atomic.LoadInt32(&executor.calls); got != 1 {
		t.Fatalf("default max attempts is 1, executor called %d times", got)
	}
}

func TestEnqueueRejectsBusySession(t *testing.T) {
	executor := &fakeExecutor{block: make(chan struct{}), started: make(chan string, 1)}
	o, err := NewOrchestrator(Options{Workers: 1, StopTimeout: time.Second}, executor)
	if err != nil {
		t.Fatalf("NewOrchestrator error: %v", err)
	}
	o.Start()
	defer o.Stop()

	if err := o.Enqueue("s5"); err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	if err := o.Enqueue("s5"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	select {
	case <-executor.started:
	case <-time.After(time.Second):
		t.Fatalf("job was not started")
	}
	if !o.CancelSession("s5") {
		t.Fatalf("expected running job to be cancelled")
	}

	deadline := time.Now().Add(time.Second)
	for o.Busy("s5") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if o.Busy("s5") {
		t.Fatalf("session should be released after cancellation")
	}
	if err := o.Enqueue("s5"); err != nil {
		t.Fatalf("re-enqueue after release error: %v", err)
	}
	close(executor.block)
}

func TestEnqueueAfterStop(t *testing.T) {
	o, _ := NewOrchestrator(Options{Workers: 1, StopTimeout: time.Second}, &fakeExecutor{})
	o.Start()
	o.Stop()

	if err := o.Enqueue("s6"); !errors.Is(err, ErrOrchestratorStopped) {
		t.Fatalf("expected ErrOrchestratorStopped, got %v", err)
	}
}
