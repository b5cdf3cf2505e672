package workpool

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func TestSplit(t *testing.T) {
	got, err := Split(25, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Batch{
		{From: 0, To: 10},
		{From: 10, To: 20},
		{From: 20, To: 25},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("batches mismatch: %+v != %+v", got, want)
	}
}

func TestSplitExact(t *testing.T) {
	got, err := Split(10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Batch{{From: 0, To: 5}, {From: 5, To: 10}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("batches mismatch: %+v != %+v", got, want)
	}
}

func TestSplitEmptyAndInvalid(t *testing.T) {
	got, err := Split(0, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no batches, got %+v", got)
	}
	if _, err := Split(5, 0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestEachRespectsLimit(t *testing.T) {
	pool := New(3)
	var inFlight, peak, done int32

	err := pool.Each(context.Background(), 20, func(ctx context.Context, i int) error {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&done, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done != 20 {
		t.Fatalf("expected 20 completions, got %d", done)
	}
	if peak > 3 {
		t.Fatalf("limit exceeded: peak %d", peak)
	}
}

func TestEachReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := New(2).Each(context.Background(), 5, func(ctx context.Context, i int) error {
		if i == 1 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
