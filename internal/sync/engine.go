package sync

import (
	"context"
	"time"

	"github.com/marcus/wander/internal/db"
	"github.com/marcus/wander/internal/models"
)

// Engine runs push and pull passes against one local store and one remote.
// It is the only component that transitions records out of pending and the
// only one that advances watermarks. It does not decide when to run; that is
// the Scheduler's job.
type Engine struct {
	store  *db.DB
	remote Remote

	// CallTimeout bounds each individual remote call. A timed-out call is
	// treated identically to a network failure.
	CallTimeout time.Duration
	Backoff     Backoff
	PullLimit   int

	onStatus func(StatusEvent)
}

// NewEngine creates an engine with the default timeouts and backoff policy.
func NewEngine(store *db.DB, remote Remote) *Engine {
	return &Engine{
		store:       store,
		remote:      remote,
		CallTimeout: 15 * time.Second,
		Backoff:     DefaultBackoff,
		PullLimit:   500,
	}
}

// OnStatus registers the per-record status stream consumer (UI badges).
func (e *Engine) OnStatus(fn func(StatusEvent)) {
	e.onStatus = fn
}

func (e *Engine) emit(entity models.EntityType, id string, status models.SyncStatus) {
	if e.onStatus != nil {
		e.onStatus(StatusEvent{EntityType: entity, ID: id, Status: status, At: time.Now()})
	}
}

// callCtx derives a per-call context: its timeout is independent of cycle
// cancellation, so an already-started record call is allowed to complete
// when the cycle is cancelled (backgrounding); the loop stops at the next
// between-records check instead.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.CallTimeout)
}
