package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func collect(out *[]int) func(context.Context, int) error {
	return func(_ context.Context, v int) error {
		*out = append(*out, v)
		return nil
	}
}

func TestQueue_FIFO(t *testing.T) {
	q := New[int](10)
	for i := 0; i < 5; i++ {
		if q.Enqueue(i) {
			t.Fatalf("Enqueue(%d) evicted, want no eviction", i)
		}
	}

	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	var got []int
	n, err := q.Drain(context.Background(), collect(&got))
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if n != 5 {
		t.Errorf("Drain() delivered %d, want 5", n)
	}
	for i, v := range got {
		if v != i {
			t.Errorf("got[%d] = %d, want %d", i, v, i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_DropOldest(t *testing.T) {
	const capacity, k = 8, 5

	var evicted []int
	q := New[int](capacity, WithOnEvict(func(v int) {
		evicted = append(evicted, v)
	}))

	drops := 0
	for i := 0; i < capacity+k; i++ {
		if q.Enqueue(i) {
			drops++
		}
	}

	if drops != k {
		t.Errorf("drops = %d, want %d", drops, k)
	}
	if len(evicted) != k {
		t.Fatalf("evicted = %v, want %d entries", evicted, k)
	}
	for i, v := range evicted {
		if v != i {
			t.Errorf("evicted[%d] = %d, want %d (oldest first)", i, v, i)
		}
	}

	stats := q.Stats()
	if stats.TotalDropped != k {
		t.Errorf("TotalDropped = %d, want %d", stats.TotalDropped, k)
	}
	if stats.Count != capacity {
		t.Errorf("Count = %d, want %d", stats.Count, capacity)
	}

	var got []int
	if _, err := q.Drain(context.Background(), collect(&got)); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if len(got) != capacity {
		t.Fatalf("drained %d items, want %d", len(got), capacity)
	}
	for i, v := range got {
		if want := k + i; v != want {
			t.Errorf("got[%d] = %d, want %d", i, v, want)
		}
	}
}

func TestQueue_DrainRedeliversOnSinkError(t *testing.T) {
	q := New[string](4)
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	sinkErr := errors.New("socket closed")
	var seen []string
	n, err := q.Drain(context.Background(), func(_ context.Context, v string) error {
		seen = append(seen, v)
		if v == "b" {
			return sinkErr
		}
		return nil
	})

	if !errors.Is(err, sinkErr) {
		t.Fatalf("Drain() error = %v, want %v", err, sinkErr)
	}
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}

	var rest []string
	if _, err := q.Drain(context.Background(), func(_ context.Context, v string) error {
		rest = append(rest, v)
		return nil
	}); err != nil {
		t.Fatalf("second Drain() error = %v", err)
	}
	if len(rest) != 2 || rest[0] != "b" || rest[1] != "c" {
		t.Errorf("second drain = %v, want [b c]", rest)
	}
}

func TestQueue_DrainStopsOnCancel(t *testing.T) {
	q := New[int](4)
	q.Enqueue(1)
	q.Enqueue(2)

	ctx, cancel := context.WithCancel(context.Background())
	n, err := q.Drain(ctx, func(_ context.Context, _ int) error {
		cancel()
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Drain() error = %v, want context.Canceled", err)
	}
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestQueue_Wraparound(t *testing.T) {
	q := New[int](3)

	var got []int
	for round := 0; round < 5; round++ {
		q.Enqueue(round * 2)
		q.Enqueue(round*2 + 1)
		if _, err := q.Drain(context.Background(), collect(&got)); err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
	}

	for i, v := range got {
		if v != i {
			t.Errorf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestQueue_TakeAll(t *testing.T) {
	q := New[int](4)
	for i := 0; i < 6; i++ {
		q.Enqueue(i)
	}

	got := q.TakeAll()
	want := []int{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("TakeAll() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TakeAll()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
	if q.TakeAll() != nil {
		t.Error("TakeAll() on empty queue should return nil")
	}
}

func TestQueue_ReadySignal(t *testing.T) {
	q := New[int](4)

	select {
	case <-q.Ready():
		t.Fatal("Ready() fired before any enqueue")
	default:
	}

	q.Enqueue(1)
	q.Enqueue(2)

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("Ready() did not fire after enqueue")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int](1000)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(p*1000 + i)
			}
		}(p)
	}
	wg.Wait()

	// Per-producer order is preserved.
	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	n, err := q.Drain(context.Background(), func(_ context.Context, v int) error {
		p, i := v/1000, v%1000
		if i <= last[p] {
			t.Errorf("producer %d: item %d after %d", p, i, last[p])
		}
		last[p] = i
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if n != 400 {
		t.Errorf("delivered = %d, want 400", n)
	}
	if stats := q.Stats(); stats.TotalDelivered != 400 || stats.TotalEnqueued != 400 {
		t.Errorf("Stats() = %+v", stats)
	}
}
