package util

import (
	"testing"
	"time"
)

func TestWindowSameDay(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ok, err := Window{Start: "09:00", End: "11:00", Timezone: "UTC"}.Contains(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected to be in window")
	}
}

func TestWindowWrap(t *testing.T) {
	w := Window{Start: "23:00", End: "02:00", Timezone: "UTC"}
	for hour, want := range map[int]bool{1: true, 23: true, 12: false} {
		ok, err := w.Contains(time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok != want {
			t.Fatalf("hour %d: got %v want %v", hour, ok, want)
		}
	}
}

func TestWindowOpenBounds(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	if ok, _ := (Window{Start: "09:00"}).Contains(now); ok {
		t.Fatalf("before open-ended start must be outside")
	}
	if ok, _ := (Window{End: "09:00"}).Contains(now); !ok {
		t.Fatalf("before end must be inside")
	}
	if ok, _ := (Window{}).Contains(now); !ok {
		t.Fatalf("empty window must not restrict")
	}
	if _, err := (Window{Start: "9am"}).Contains(now); err == nil {
		t.Fatalf("expected parse error")
	}
}
