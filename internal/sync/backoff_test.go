package sync

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marcus/wander/internal/syncclient"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Cap: 5 * time.Minute}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute}, // 512s caps at 300s
		{20, 5 * time.Minute},
	}
	for _, c := range cases {
		if got := b.Next(c.attempt); got != c.want {
			t.Errorf("Next(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestBackoffClampsAttempt(t *testing.T) {
	b := DefaultBackoff
	if got := b.Next(0); got != b.Base {
		t.Errorf("Next(0) = %v, want %v", got, b.Base)
	}
	if got := b.Next(-3); got != b.Base {
		t.Errorf("Next(-3) = %v, want %v", got, b.Base)
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("push place pl-1: %w", syncclient.ErrValidation)
	if !isValidation(wrapped) {
		t.Error("wrapped validation error not recognized")
	}
	if isValidation(errors.New("connection reset")) {
		t.Error("network error classified as validation")
	}
	if !isNotFound(fmt.Errorf("delete: %w", syncclient.ErrNotFound)) {
		t.Error("wrapped not-found error not recognized")
	}
}
