package feed

import (
	"testing"
	"time"

	"leadlag/internal/models"
)

func mkBar(i int) models.Bar {
	return models.Bar{
		Ts:     time.Unix(int64(i), 0),
		Symbol: "BTCUSDT",
		Source: models.SourceBT,
		Mid:    float64(100 + i),
	}
}

func TestNewRing(t *testing.T) {
	tests := []struct {
		name      string
		capacity  int
		expectErr bool
	}{
		{"valid", 16, false},
		{"one", 1, false},
		{"zero", 0, true},
		{"negative", -3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRing(tt.capacity)
			if tt.expectErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Capacity() != tt.capacity {
				t.Errorf("capacity = %d, expected %d", r.Capacity(), tt.capacity)
			}
		})
	}
}

func TestRingPushTail(t *testing.T) {
	r, err := NewRing(4)
	if err != nil {
		t.Fatal(err)
	}

	// Частично заполненный буфер
	r.Push(mkBar(0))
	r.Push(mkBar(1))

	tail := r.Tail(10)
	if len(tail) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(tail))
	}
	if tail[0].Mid != 100 || tail[1].Mid != 101 {
		t.Errorf("wrong chronological order: %v, %v", tail[0].Mid, tail[1].Mid)
	}
}

// Свойство: после N >= capacity push'ей Tail(capacity) содержит ровно
// последние capacity элементов в порядке добавления
func TestRingOverwriteProperty(t *testing.T) {
	const capacity = 8
	r, err := NewRing(capacity)
	if err != nil {
		t.Fatal(err)
	}

	for _, total := range []int{8, 9, 13, 25, 100} {
		r.Clear()
		for i := 0; i < total; i++ {
			r.Push(mkBar(i))
		}

		tail := r.Tail(capacity)
		if len(tail) != capacity {
			t.Fatalf("total=%d: expected %d bars, got %d", total, capacity, len(tail))
		}
		for j, bar := range tail {
			expected := float64(100 + total - capacity + j)
			if bar.Mid != expected {
				t.Errorf("total=%d: tail[%d].Mid = %v, expected %v", total, j, bar.Mid, expected)
			}
		}
	}
}

func TestRingTailPartial(t *testing.T) {
	r, _ := NewRing(4)
	for i := 0; i < 7; i++ {
		r.Push(mkBar(i))
	}

	// Tail(2) из заполненного буфера - два самых свежих
	tail := r.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(tail))
	}
	if tail[0].Mid != 105 || tail[1].Mid != 106 {
		t.Errorf("unexpected tail: %v, %v", tail[0].Mid, tail[1].Mid)
	}

	if got := r.Tail(0); got != nil {
		t.Errorf("Tail(0) = %v, expected nil", got)
	}
	if got := r.Tail(-1); got != nil {
		t.Errorf("Tail(-1) = %v, expected nil", got)
	}
}

func TestRingLast(t *testing.T) {
	r, _ := NewRing(2)

	if _, ok := r.Last(); ok {
		t.Error("Last on empty ring should return ok=false")
	}

	r.Push(mkBar(0))
	r.Push(mkBar(1))
	r.Push(mkBar(2))

	last, ok := r.Last()
	if !ok {
		t.Fatal("Last returned ok=false")
	}
	if last.Mid != 102 {
		t.Errorf("Last().Mid = %v, expected 102", last.Mid)
	}
}

func TestRingClear(t *testing.T) {
	r, _ := NewRing(4)
	for i := 0; i < 6; i++ {
		r.Push(mkBar(i))
	}

	r.Clear()
	if r.Size() != 0 {
		t.Errorf("size after Clear = %d, expected 0", r.Size())
	}
	if tail := r.Tail(4); tail != nil {
		t.Errorf("Tail after Clear = %v, expected nil", tail)
	}

	// Буфер работоспособен после сброса
	r.Push(mkBar(10))
	if r.Size() != 1 {
		t.Errorf("size after re-push = %d, expected 1", r.Size())
	}
}
