package ipc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	pool := newWorkerPool(2)

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 6; i++ {
		wg.Add(1)
		pool.Go(done, func() {
			defer wg.Done()
			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxInFlight)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		})
	}
	wg.Wait()

	if maxInFlight > 2 {
		t.Fatalf("expected at most 2 concurrent workers, saw %d", maxInFlight)
	}
}

func TestWorkerPoolGoRespectsDone(t *testing.T) {
	pool := newWorkerPool(1)

	blocking := make(chan struct{})
	started := make(chan struct{})
	pool.Go(nil, func() {
		close(started)
		<-blocking
	})
	<-started // the single slot is now occupied

	done := make(chan struct{})
	close(done)

	ran := false
	pool.Go(done, func() { ran = true }) // sem is full, done is closed: must bail

	time.Sleep(10 * time.Millisecond)
	close(blocking)
	if ran {
		t.Fatal("expected Go to bail out once done is closed while the pool is saturated")
	}
}
