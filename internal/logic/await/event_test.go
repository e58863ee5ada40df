package await

import (
	"context"
	"sync"
	"testing"
	"time"
)

// waitUntil polls cond until it is true or the test deadline passes.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// ---------- Latched signal ----------

func TestEvent_PreSignaledConsumedOnce(t *testing.T) {
	e := NewEvent(true)
	ctx := context.Background()

	if !e.Wait(ctx, 0) {
		t.Fatal("first Wait(0) on a signaled event should return true")
	}
	if e.Wait(ctx, 0) {
		t.Error("second Wait(0) should return false, signal already consumed")
	}
}

func TestEvent_SetWithoutWaiterLatches(t *testing.T) {
	e := NewEvent(false)
	e.Set()
	if !e.IsSet() {
		t.Fatal("Set with no waiter should latch")
	}
	if !e.Wait(context.Background(), 10*time.Millisecond) {
		t.Error("Wait should consume the latched signal")
	}
	if e.IsSet() {
		t.Error("latched signal should be cleared after Wait")
	}
}

func TestEvent_DoubleSetLatchesOnlyOnce(t *testing.T) {
	e := NewEvent(false)
	e.Set()
	e.Set()

	ctx := context.Background()
	if !e.Wait(ctx, 0) {
		t.Fatal("first Wait should return true")
	}
	if e.Wait(ctx, 0) {
		t.Error("second Wait should return false: signals do not accumulate")
	}
}

func TestEvent_Reset(t *testing.T) {
	e := NewEvent(true)
	e.Reset()
	if e.Wait(context.Background(), 0) {
		t.Error("Wait after Reset should return false")
	}
}

// ---------- Zero timeout ----------

func TestEvent_ZeroTimeoutNeverRegisters(t *testing.T) {
	e := NewEvent(false)
	if e.Wait(context.Background(), 0) {
		t.Fatal("Wait(0) on an unsignaled event should return false")
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("Pending() = %d after Wait(0), want 0", n)
	}
	// A later Set must latch instead of going to a phantom waiter.
	e.Set()
	if !e.IsSet() {
		t.Error("Set after Wait(0) should latch")
	}
}

// ---------- Timeout and cancellation ----------

func TestEvent_TimeoutRemovesWaiter(t *testing.T) {
	e := NewEvent(false)

	start := time.Now()
	if e.Wait(context.Background(), 20*time.Millisecond) {
		t.Fatal("Wait should time out")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait returned after %v, before the timeout", elapsed)
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("Pending() = %d after timeout, want 0", n)
	}

	// The timed-out waiter must not swallow the next signal.
	e.Set()
	if !e.Wait(context.Background(), 0) {
		t.Error("signal after a timed-out wait should be latched for the next Wait")
	}
}

func TestEvent_ContextCancel(t *testing.T) {
	e := NewEvent(false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() { done <- e.Wait(ctx, Infinite) }()

	waitUntil(t, func() bool { return e.Pending() == 1 })
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("cancelled Wait should return false")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("Pending() = %d after cancel, want 0", n)
	}
}

// ---------- Ordering ----------

func TestEvent_FIFOOrder(t *testing.T) {
	e := NewEvent(false)
	ctx := context.Background()

	const n = 4
	order := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			if e.Wait(ctx, Infinite) {
				order <- i
			}
		}()
		waitUntil(t, func() bool { return e.Pending() == i+1 })
	}

	for want := 0; want < n; want++ {
		e.Set()
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("released waiter %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d not released", want)
		}
	}
}

func TestEvent_SetWakesExactlyOne(t *testing.T) {
	e := NewEvent(false)
	ctx := context.Background()

	woke := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			if e.Wait(ctx, 200*time.Millisecond) {
				woke <- struct{}{}
			}
		}()
	}
	waitUntil(t, func() bool { return e.Pending() == 2 })

	e.Set()
	time.Sleep(300 * time.Millisecond)

	if got := len(woke); got != 1 {
		t.Errorf("%d waiters woke up, want exactly 1", got)
	}
	if e.IsSet() {
		t.Error("signal delivered to a waiter must not also be latched")
	}
}

// ---------- Concurrency ----------

func TestEvent_NoLostWakeups(t *testing.T) {
	e := NewEvent(false)
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	released := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Wait(ctx, 2*time.Second) {
				released <- struct{}{}
			}
		}()
	}
	for i := 0; i < n; i++ {
		e.Set()
		// The latch is a single slot: pace the setter so each signal
		// either reaches a waiter or a free latch.
		waitUntil(t, func() bool { return !e.IsSet() })
	}
	wg.Wait()

	if len(released) != n {
		t.Errorf("released %d waiters, want %d", len(released), n)
	}
	if n := e.Pending(); n != 0 {
		t.Errorf("Pending() = %d, want 0", n)
	}
}

func TestEvent_String(t *testing.T) {
	e := NewEvent(true)
	if got := e.String(); got != "Event{signaled=true waiters=0}" {
		t.Errorf("String() = %q", got)
	}
}
