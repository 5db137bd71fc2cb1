package loop

import (
	"testing"
	"time"
)

func TestPostRunsTasksInOrder(t *testing.T) {
	lp := NewLoop(16)
	go lp.Run()
	defer lp.Stop()

	var got []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		lp.Post(func() {
			got = append(got, i)
		})
	}
	lp.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not drain tasks")
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("task order broken: got %v", got)
		}
	}
}

func TestAfterFuncFiresOnLoop(t *testing.T) {
	lp := NewLoop(16)
	go lp.Run()
	defer lp.Stop()

	fired := make(chan struct{})
	lp.Post(func() {
		lp.AfterFunc(10*time.Millisecond, func() {
			close(fired)
		})
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerCancelPreventsFire(t *testing.T) {
	lp := NewLoop(16)
	go lp.Run()
	defer lp.Stop()

	fired := make(chan struct{}, 1)
	lp.Post(func() {
		timer := lp.AfterFunc(20*time.Millisecond, func() {
			fired <- struct{}{}
		})
		timer.Cancel()
	})

	select {
	case <-fired:
		t.Fatal("canceled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelAfterScheduleRaceIsSafe(t *testing.T) {
	lp := NewLoop(16)
	go lp.Run()
	defer lp.Stop()

	// Cancel on the loop after the underlying timer may already have
	// posted; the canceled flag must still suppress the callback.
	fired := make(chan struct{}, 1)
	var timer *Timer
	lp.Post(func() {
		timer = lp.AfterFunc(time.Millisecond, func() {
			fired <- struct{}{}
		})
	})
	time.Sleep(5 * time.Millisecond)
	lp.Post(func() {
		timer.Cancel()
	})

	// Either outcome before the cancel landed is fine; after it, nothing
	// more may fire.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-fired:
	default:
	}
	select {
	case <-fired:
		t.Fatal("timer fired twice")
	default:
	}
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	lp := NewLoop(16)
	go lp.Run()

	ran := false
	lp.Post(func() { ran = true })
	lp.Stop()

	if !ran {
		t.Fatal("queued task dropped on stop")
	}
	if lp.Post(func() {}) {
		t.Fatal("post after stop should report failure")
	}
}
