// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package workerpool

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	if pool.NumWorkers() != 4 {
		t.Errorf("NumWorkers() = %d, want 4", pool.NumWorkers())
	}
}

func TestNewDefault(t *testing.T) {
	pool := New(0)
	defer pool.Close()

	if pool.NumWorkers() != runtime.GOMAXPROCS(0) {
		t.Errorf("NumWorkers() = %d, want %d", pool.NumWorkers(), runtime.GOMAXPROCS(0))
	}
}

func TestParallelFor(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	for _, n := range []int{1, 3, 4, 5, 100, 101} {
		results := make([]int32, n)
		pool.ParallelFor(n, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&results[i], 1)
			}
		})
		for i, r := range results {
			if r != 1 {
				t.Errorf("n=%d: index %d visited %d times, want 1", n, i, r)
			}
		}
	}
}

func TestParallelForAtomic(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	n := 100
	results := make([]int, n)

	pool.ParallelForAtomic(n, func(i int) {
		results[i] = i * 2
	})

	for i := range n {
		if results[i] != i*2 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], i*2)
		}
	}
}

func TestParallelForAtomicBatched(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	n := 100
	results := make([]int, n)

	pool.ParallelForAtomicBatched(n, 7, func(start, end int) {
		for i := start; i < end; i++ {
			results[i] = i * 2
		}
	})

	for i := range n {
		if results[i] != i*2 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], i*2)
		}
	}
}

func TestParallelForZeroN(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	var called bool
	pool.ParallelFor(0, func(start, end int) { called = true })
	pool.ParallelForAtomic(0, func(i int) { called = true })
	pool.ParallelForAtomicBatched(0, 4, func(start, end int) { called = true })

	if called {
		t.Error("n=0 should not call fn")
	}
}

func TestNestedParallelFor(t *testing.T) {
	pool := New(2)
	defer pool.Close()

	done := make(chan struct{})
	var count atomic.Int32
	go func() {
		defer close(done)
		pool.ParallelForAtomic(8, func(int) {
			pool.ParallelForAtomic(8, func(int) {
				pool.ParallelFor(4, func(start, end int) {
					count.Add(int32(end - start))
				})
			})
		})
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("nested ParallelFor deadlocked")
	}
	if got := count.Load(); got != 8*8*4 {
		t.Errorf("count = %d, want %d", got, 8*8*4)
	}
}

func TestCloseMultipleTimes(t *testing.T) {
	pool := New(4)
	pool.Close()
	pool.Close() // Should not panic
}

func TestClosedPoolFallback(t *testing.T) {
	pool := New(4)
	pool.Close()

	n := 100
	results := make([]int, n)

	// Runs on the caller's goroutine.
	pool.ParallelFor(n, func(start, end int) {
		for i := start; i < end; i++ {
			results[i] = i * 2
		}
	})

	for i := range n {
		if results[i] != i*2 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], i*2)
		}
	}
}

func BenchmarkParallelFor(b *testing.B) {
	pool := New(0)
	defer pool.Close()

	n := 1000

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.ParallelFor(n, func(start, end int) {
			for j := start; j < end; j++ {
				_ = j * j
			}
		})
	}
}

func BenchmarkParallelForAtomic(b *testing.B) {
	pool := New(0)
	defer pool.Close()

	n := 1000

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.ParallelForAtomic(n, func(i int) {
			_ = i * i
		})
	}
}
