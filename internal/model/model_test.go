package model

import (
	"testing"
	"time"
)

func TestPickResultEliminates(t *testing.T) {
	cases := map[PickResult]bool{
		PickResultWin:     false,
		PickResultLoss:    true,
		PickResultDraw:    true,
		PickResultPending: false,
	}
	for r, want := range cases {
		if got := r.Eliminates(); got != want {
			t.Errorf("Eliminates(%q) = %v, want %v", r, got, want)
		}
	}
}

func TestValidResult(t *testing.T) {
	for _, s := range []string{"win", "loss", "draw"} {
		if _, ok := ValidResult(s); !ok {
			t.Errorf("ValidResult(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"pending", "postponed", "WIN", ""} {
		if _, ok := ValidResult(s); ok {
			t.Errorf("ValidResult(%q) = true, want false", s)
		}
	}
}

func TestPoolAcceptsEntries(t *testing.T) {
	now := time.Now()

	open := &Pool{Status: PoolStatusActive, EntryDeadline: now.Add(time.Hour)}
	if !open.AcceptsEntries(now) {
		t.Fatalf("active pool before deadline must accept entries")
	}

	completed := &Pool{Status: PoolStatusCompleted, EntryDeadline: now.Add(time.Hour)}
	if completed.AcceptsEntries(now) {
		t.Fatalf("completed pool must not accept entries")
	}

	expired := &Pool{Status: PoolStatusActive, EntryDeadline: now.Add(-time.Minute)}
	if expired.AcceptsEntries(now) {
		t.Fatalf("pool past its deadline must not accept entries")
	}
}
