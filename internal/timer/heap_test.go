package timer

import (
	"testing"
	"time"
)

func TestAddPopOrder(t *testing.T) {
	w := New()
	base := time.Unix(1000, 0)
	w.nowFn = func() time.Time { return base }

	w.Add(1, 30*time.Second, nil)
	w.Add(2, 10*time.Second, nil)
	w.Add(3, 20*time.Second, nil)

	order := []int{}
	for {
		id, ok := w.Pop()
		if !ok {
			break
		}
		order = append(order, id)
	}
	want := []int{2, 3, 1}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("Pop order = %v, want %v", order, want)
		}
	}
}

func TestAdjustReheapifies(t *testing.T) {
	w := New()
	now := time.Unix(1000, 0)
	w.nowFn = func() time.Time { return now }

	w.Add(1, 10*time.Second, nil)
	w.Add(2, 20*time.Second, nil)
	w.Add(3, 30*time.Second, nil)

	w.Adjust(3, 1*time.Second) // 3 should now be soonest
	id, _ := w.Pop()
	if id != 3 {
		t.Fatalf("Pop() = %d, want 3 after adjust", id)
	}
}

func TestTickFiresExpired(t *testing.T) {
	w := New()
	now := time.Unix(1000, 0)
	w.nowFn = func() time.Time { return now }

	var fired []int
	w.Add(1, 1*time.Second, func(id int) { fired = append(fired, id) })
	w.Add(2, 5*time.Second, func(id int) { fired = append(fired, id) })

	now = now.Add(2 * time.Second)
	w.Tick()

	if len(fired) != 1 || fired[0] != 1 {
		t.Fatalf("fired = %v, want [1]", fired)
	}
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", w.Len())
	}
}

func TestDoWorkRemovesAfterFiring(t *testing.T) {
	w := New()
	now := time.Unix(1000, 0)
	w.nowFn = func() time.Time { return now }

	fired := false
	w.Add(5, time.Second, func(id int) { fired = true })
	w.DoWork(5)

	if !fired {
		t.Fatal("callback did not fire")
	}
	if w.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after DoWork", w.Len())
	}
	// second call is a no-op, not a panic.
	w.DoWork(5)
}

func TestRemoveDropsWithoutFiring(t *testing.T) {
	w := New()
	now := time.Unix(1000, 0)
	w.nowFn = func() time.Time { return now }

	fired := false
	w.Add(7, time.Second, func(id int) { fired = true })

	if !w.Remove(7) {
		t.Fatal("Remove(7) = false, want true for a scheduled id")
	}
	if w.Remove(7) {
		t.Fatal("second Remove(7) = true, want false")
	}
	if w.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", w.Len())
	}

	now = now.Add(2 * time.Second)
	w.Tick()
	if fired {
		t.Fatal("callback fired after Remove")
	}
}

func TestNextTickMS(t *testing.T) {
	w := New()
	now := time.Unix(1000, 0)
	w.nowFn = func() time.Time { return now }

	if ms := w.NextTickMS(); ms != -1 {
		t.Fatalf("NextTickMS() on empty wheel = %d, want -1", ms)
	}

	w.Add(1, 500*time.Millisecond, nil)
	if ms := w.NextTickMS(); ms <= 0 || ms > 500 {
		t.Fatalf("NextTickMS() = %d, want in (0,500]", ms)
	}

	now = now.Add(time.Second)
	if ms := w.NextTickMS(); ms != 0 {
		t.Fatalf("NextTickMS() past deadline = %d, want 0", ms)
	}
}

func TestHeapInvariantAfterMutations(t *testing.T) {
	w := New()
	now := time.Unix(0, 0)
	w.nowFn = func() time.Time { return now }

	for i := range 50 {
		w.Add(i, time.Duration(50-i)*time.Second, nil)
	}
	for i := range 25 {
		w.Adjust(i, time.Duration(i)*time.Millisecond)
	}

	for i := range w.h {
		if n, ok := w.byID[w.h[i].id]; !ok || n.index != i {
			t.Fatalf("byID out of sync at heap index %d", i)
		}
	}

	for {
		id, ok := w.Pop()
		if !ok {
			break
		}
		if _, exists := w.byID[id]; exists {
			t.Fatalf("id %d still in byID after Pop", id)
		}
	}
}
