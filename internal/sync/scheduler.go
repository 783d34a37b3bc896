package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SchedulerState is the coarse lifecycle of the background loop.
type SchedulerState string

const (
	StateIdle    SchedulerState = "idle"
	StateSyncing SchedulerState = "syncing"
	StatePaused  SchedulerState = "paused"
)

// CycleReport aggregates the three passes of one sync cycle.
type CycleReport struct {
	Push    PushReport
	Pull    PullReport
	Uploads UploadReport
	Err     error
}

// Scheduler decides when the engine runs. It coalesces triggers (local
// mutations, remote change notifications, reconnects, foreground events,
// manual requests) into single-flight sync cycles: at most one cycle runs at
// a time, and triggers arriving mid-cycle collapse into exactly one
// follow-up.
type Scheduler struct {
	engine   *Engine
	uploader *Uploader
	ownerID  string

	// Debounce delays the cycle after a local mutation so a burst of edits
	// syncs once.
	Debounce time.Duration

	// kick has capacity 1: a send while a cycle is queued or running
	// coalesces into the one pending follow-up.
	kick chan struct{}

	mu          sync.Mutex
	state       SchedulerState
	online      bool
	foreground  bool
	cancelCycle context.CancelFunc
	debounce    *time.Timer

	onCycle func(CycleReport)
	onState func(SchedulerState)
}

// NewScheduler wires a scheduler over an engine and uploader for one owner.
func NewScheduler(engine *Engine, uploader *Uploader, ownerID string) *Scheduler {
	s := &Scheduler{
		engine:     engine,
		uploader:   uploader,
		ownerID:    ownerID,
		Debounce:   500 * time.Millisecond,
		kick:       make(chan struct{}, 1),
		state:      StateIdle,
		online:     true,
		foreground: true,
	}
	if uploader != nil {
		// A resolved attachment re-marks its log pending; debounce a
		// follow-up cycle so the URL reaches the server.
		uploader.OnResolved(func(string) { s.NotifyLocalMutation() })
	}
	return s
}

// OnCycle registers a consumer for per-cycle reports.
func (s *Scheduler) OnCycle(fn func(CycleReport)) { s.onCycle = fn }

// OnState registers a consumer for state transitions.
func (s *Scheduler) OnState(fn func(SchedulerState)) { s.onState = fn }

// State returns the current lifecycle state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run processes triggers until ctx is cancelled. It performs one initial
// cycle on startup so a freshly launched client catches up immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.requestCycle()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.debounce != nil {
				s.debounce.Stop()
			}
			s.mu.Unlock()
			return
		case <-s.kick:
			s.runCycle(ctx)
		}
	}
}

// NotifyLocalMutation signals that a record changed locally. The cycle is
// debounced so a burst of edits produces one push.
func (s *Scheduler) NotifyLocalMutation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.Debounce, s.requestCycle)
}

// NotifyRemoteChange signals that the server reported new data; the next
// cycle's pull picks it up. No debounce: the data already exists remotely.
func (s *Scheduler) NotifyRemoteChange() {
	s.requestCycle()
}

// ForceSyncNow requests an immediate cycle, bypassing the debounce window.
func (s *Scheduler) ForceSyncNow() {
	s.requestCycle()
}

// SetOnline records connectivity. Going offline pauses the loop and cancels
// the running cycle between records; coming back online triggers one
// immediate catch-up cycle (edge trigger).
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	wasOnline := s.online
	s.online = online
	s.reconcilePauseLocked()
	s.mu.Unlock()

	if online && !wasOnline {
		slog.Info("connectivity restored, scheduling sync")
		s.requestCycle()
	}
}

// SetForeground signals an app-lifecycle transition. Backgrounding pauses
// the loop and cancels the running cycle gracefully (started calls complete,
// the loop stops at the next record boundary); foregrounding triggers one
// catch-up cycle (edge trigger).
func (s *Scheduler) SetForeground(fg bool) {
	s.mu.Lock()
	wasForeground := s.foreground
	s.foreground = fg
	s.reconcilePauseLocked()
	s.mu.Unlock()

	if fg && !wasForeground {
		s.requestCycle()
	}
}

// reconcilePauseLocked moves between paused and idle as the online and
// foreground signals change. Entering paused cancels the running cycle;
// no new cycle starts until both signals are up again.
func (s *Scheduler) reconcilePauseLocked() {
	if !s.online || !s.foreground {
		s.setStateLocked(StatePaused)
		if s.cancelCycle != nil {
			s.cancelCycle()
		}
	} else if s.state == StatePaused {
		s.setStateLocked(StateIdle)
	}
}

// requestCycle is the single-flight trigger. The buffered send makes any
// number of concurrent triggers collapse into at most one queued follow-up.
func (s *Scheduler) requestCycle() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	if !s.online || !s.foreground {
		s.mu.Unlock()
		return
	}
	cycleCtx, cancel := context.WithCancel(ctx)
	s.cancelCycle = cancel
	s.setStateLocked(StateSyncing)
	s.mu.Unlock()

	report := s.cycle(cycleCtx)

	s.mu.Lock()
	s.cancelCycle = nil
	if s.online && s.foreground {
		s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()
	cancel()

	if s.onCycle != nil {
		s.onCycle(report)
	}
}

// cycle runs push before pull so the device's own edits are in-flight or
// synced before inbound snapshots are judged against them, then drains due
// attachment uploads.
func (s *Scheduler) cycle(ctx context.Context) CycleReport {
	var report CycleReport

	report.Push, report.Err = s.engine.PushPending(ctx, s.ownerID)
	if report.Err != nil {
		slog.Warn("push pass aborted", "err", report.Err)
		return report
	}

	report.Pull, report.Err = s.engine.PullRemoteChanges(ctx, s.ownerID)
	if report.Err != nil {
		slog.Warn("pull pass aborted", "err", report.Err)
		return report
	}

	if s.uploader != nil {
		report.Uploads, report.Err = s.uploader.ProcessDue(ctx)
		if report.Err != nil {
			slog.Warn("upload pass aborted", "err", report.Err)
		}
	}
	return report
}

func (s *Scheduler) setStateLocked(state SchedulerState) {
	if s.state == state {
		return
	}
	s.state = state
	if s.onState != nil {
		go s.onState(state)
	}
}
