package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/portcall/mailgate/internal/model"
	"github.com/portcall/mailgate/internal/pipeline"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
	block chan struct{}
	stats model.SyncStats
	err   error
}

func (r *stubRunner) Run(ctx context.Context, opts pipeline.RunOptions) (model.SyncStats, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	return r.stats, r.err
}

func TestTriggerManualReturnsStats(t *testing.T) {
	runner := &stubRunner{stats: model.SyncStats{NewEmails: 3}}
	s := New(runner, time.Minute, nil)
	result := s.TriggerManual(context.Background(), pipeline.RunOptions{})
	if !result.Success || result.Stats.NewEmails != 3 {
		t.Errorf("expected successful result with stats, got %+v", result)
	}
}

func TestTriggerManualReportsBusyInsteadOfQueuing(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	s := New(runner, time.Minute, nil)

	done := make(chan ManualResult, 1)
	go func() { done <- s.TriggerManual(context.Background(), pipeline.RunOptions{}) }()

	// Wait until the first tick has taken the busy flag.
	for !s.IsRunning() {
		time.Sleep(time.Millisecond)
	}

	second := s.TriggerManual(context.Background(), pipeline.RunOptions{})
	if second.Success {
		t.Error("expected second concurrent trigger to report busy, not queue")
	}

	close(runner.block)
	<-done
}

func TestStatusReportsNoJobBeforeStart(t *testing.T) {
	s := New(&stubRunner{}, time.Minute, nil)
	status := s.Status()
	if status.JobExists {
		t.Error("expected JobExists=false before Start is called")
	}
}

func TestLastResultEmptyBeforeAnyTick(t *testing.T) {
	s := New(&stubRunner{}, time.Minute, nil)
	if _, _, ok := s.LastResult(); ok {
		t.Error("expected no last result before any tick has run")
	}
}

func TestLastResultPopulatedAfterManualTrigger(t *testing.T) {
	runner := &stubRunner{stats: model.SyncStats{TotalProcessed: 5}}
	s := New(runner, time.Minute, nil)
	s.TriggerManual(context.Background(), pipeline.RunOptions{})
	stats, _, ok := s.LastResult()
	if !ok || stats.TotalProcessed != 5 {
		t.Errorf("expected last result to be populated, got %+v ok=%v", stats, ok)
	}
}
