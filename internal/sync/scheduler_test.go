package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T) (*Scheduler, *fakeRemote, *atomic.Int64) {
	t.Helper()
	store := newTestStore(t)
	remote := newFakeRemote()
	engine := NewEngine(store, remote)
	uploader := NewUploader(store, remote)

	s := NewScheduler(engine, uploader, testOwner)
	s.Debounce = 30 * time.Millisecond

	var cycles atomic.Int64
	s.OnCycle(func(CycleReport) { cycles.Add(1) })
	return s, remote, &cycles
}

func waitForCycles(t *testing.T, cycles *atomic.Int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cycles.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cycles = %d, want %d", cycles.Load(), want)
}

func TestSchedulerRunsInitialCycle(t *testing.T) {
	s, _, cycles := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitForCycles(t, cycles, 1)
}

func TestSchedulerDebouncesLocalMutations(t *testing.T) {
	s, _, cycles := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitForCycles(t, cycles, 1)

	// A burst of edits collapses into one cycle after the quiet window.
	for i := 0; i < 5; i++ {
		s.NotifyLocalMutation()
		time.Sleep(2 * time.Millisecond)
	}
	waitForCycles(t, cycles, 2)

	time.Sleep(150 * time.Millisecond)
	if got := cycles.Load(); got != 2 {
		t.Fatalf("cycles = %d after burst, want 2", got)
	}
}

func TestSchedulerSingleFlightWithOneFollowUp(t *testing.T) {
	s, remote, cycles := newTestScheduler(t)
	remote.changedDelay = 60 * time.Millisecond // four entity types per cycle

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Hammer triggers while the initial cycle is still running; they must
	// coalesce into exactly one follow-up.
	time.Sleep(30 * time.Millisecond)
	for i := 0; i < 10; i++ {
		s.ForceSyncNow()
	}
	waitForCycles(t, cycles, 2)

	time.Sleep(500 * time.Millisecond)
	if got := cycles.Load(); got != 2 {
		t.Fatalf("cycles = %d, want initial plus one follow-up", got)
	}
}

func TestSchedulerPausesWhileOffline(t *testing.T) {
	s, _, cycles := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitForCycles(t, cycles, 1)

	s.SetOnline(false)
	if got := s.State(); got != StatePaused {
		t.Fatalf("state = %s, want paused", got)
	}

	s.ForceSyncNow()
	s.NotifyRemoteChange()
	time.Sleep(100 * time.Millisecond)
	if got := cycles.Load(); got != 1 {
		t.Fatalf("cycles = %d while offline, want 1", got)
	}

	// Reconnect is edge-triggered: one catch-up cycle.
	s.SetOnline(true)
	waitForCycles(t, cycles, 2)
}

func TestSchedulerPausesWhileBackgrounded(t *testing.T) {
	s, _, cycles := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitForCycles(t, cycles, 1)

	s.SetForeground(false)
	if got := s.State(); got != StatePaused {
		t.Fatalf("state = %s, want paused", got)
	}

	// No trigger may run a cycle while backgrounded.
	s.ForceSyncNow()
	s.NotifyRemoteChange()
	s.NotifyLocalMutation()
	time.Sleep(100 * time.Millisecond)
	if got := cycles.Load(); got != 1 {
		t.Fatalf("cycles = %d while backgrounded, want 1", got)
	}

	// Foregrounding is edge-triggered: one catch-up cycle.
	s.SetForeground(true)
	if got := s.State(); got == StatePaused {
		t.Fatalf("state still paused after foregrounding")
	}
	waitForCycles(t, cycles, 2)
}

func TestSchedulerStaysPausedOfflineInForeground(t *testing.T) {
	s, _, cycles := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitForCycles(t, cycles, 1)

	s.SetOnline(false)
	s.SetForeground(false)

	// Foregrounding while still offline must not resume the loop.
	s.SetForeground(true)
	if got := s.State(); got != StatePaused {
		t.Fatalf("state = %s while offline, want paused", got)
	}
	time.Sleep(100 * time.Millisecond)
	if got := cycles.Load(); got != 1 {
		t.Fatalf("cycles = %d while offline, want 1", got)
	}

	s.SetOnline(true)
	waitForCycles(t, cycles, 2)
}

func TestSchedulerRemoteChangeTriggersCycle(t *testing.T) {
	s, _, cycles := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	waitForCycles(t, cycles, 1)

	s.NotifyRemoteChange()
	waitForCycles(t, cycles, 2)
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	s, _, cycles := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	waitForCycles(t, cycles, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}
