// Package netwatch tracks sync server reachability with a periodic probe and
// reports edge-triggered online/offline transitions, so a reconnect schedules
// exactly one catch-up sync instead of a storm.
package netwatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProbeFunc checks reachability; a nil error means online.
type ProbeFunc func(ctx context.Context) error

// Watcher polls a probe and reports connectivity transitions.
type Watcher struct {
	probe ProbeFunc

	// Interval between probes; Timeout bounds each probe.
	Interval time.Duration
	Timeout  time.Duration

	mu       sync.Mutex
	online   bool
	seeded   bool
	onChange func(online bool)
}

// New creates a watcher around probe with default timing.
func New(probe ProbeFunc) *Watcher {
	return &Watcher{
		probe:    probe,
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// HTTPProbe probes a health endpoint with a HEAD request. Any response,
// including an error status, proves the server is reachable.
func HTTPProbe(healthURL string) ProbeFunc {
	client := &http.Client{}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, healthURL, nil)
		if err != nil {
			return fmt.Errorf("create probe request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// OnChange registers the transition callback. It fires once per edge,
// including the very first probe result.
func (w *Watcher) OnChange(fn func(online bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Online returns the last observed state.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Run probes immediately and then on every tick until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.check(ctx)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// Check runs one probe out of band (e.g. before a manual sync) and returns
// the observed state.
func (w *Watcher) Check(ctx context.Context) bool {
	w.check(ctx)
	return w.Online()
}

func (w *Watcher) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	err := w.probe(probeCtx)
	cancel()
	now := err == nil

	w.mu.Lock()
	changed := !w.seeded || now != w.online
	w.seeded = true
	w.online = now
	fn := w.onChange
	w.mu.Unlock()

	if !changed {
		return
	}
	if now {
		slog.Info("sync server reachable")
	} else {
		slog.Warn("sync server unreachable", "err", err)
	}
	if fn != nil {
		fn(now)
	}
}
