// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Package workerpool provides a persistent, reusable worker pool for the
// parallel loops of a loop nest. A Pool is created once and reused across
// many loops, so running a parallel loop costs neither goroutine spawns nor
// channel allocation.
//
// The goroutine calling a ParallelFor variant always takes part in the work
// and only waits for chunks that a worker has already started. Parallel
// loops may therefore be nested: a body running on a worker can itself call
// ParallelFor on the same pool without deadlocking, even when every worker
// is busy.
//
// Usage:
//
//	pool := workerpool.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//
//	pool.ParallelFor(rows, func(start, end int) {
//	    for i := start; i < end; i++ {
//	        processRow(i)
//	    }
//	})
package workerpool

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a persistent worker pool that can be reused across many parallel
// operations. Workers are spawned once at creation and reused.
type Pool struct {
	numWorkers int
	workC      chan func()

	// mu guards sends on workC against Close.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// New creates a new worker pool with the specified number of workers.
// Workers are spawned immediately and persist until Close is called.
// If numWorkers <= 0, uses GOMAXPROCS.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		numWorkers: numWorkers,
		workC:      make(chan func(), numWorkers),
	}
	for range numWorkers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for fn := range p.workC {
		fn()
	}
}

// NumWorkers returns the number of workers in the pool.
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Close shuts down the worker pool. Work already handed to a worker
// completes; later calls run on the caller's goroutine.
// Calling Close multiple times is safe.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closed = true
		close(p.workC)
	})
}

// run executes chunk(c) for every c in [0, numChunks) and returns when all
// of them are done. Chunks are claimed through an atomic counter by the
// caller and by up to numWorkers-1 helpers.
func (p *Pool) run(numChunks int, chunk func(c int)) {
	var next atomic.Int64
	var pending sync.WaitGroup
	pending.Add(numChunks)
	drain := func() {
		for {
			c := int(next.Add(1)) - 1
			if c >= numChunks {
				return
			}
			chunk(c)
			pending.Done()
		}
	}

	if helpers := min(p.numWorkers, numChunks) - 1; helpers > 0 {
		p.mu.RLock()
		if !p.closed {
			for range helpers {
				select {
				case p.workC <- drain:
				default:
					// Every worker is busy: the caller picks up the slack.
				}
			}
		}
		p.mu.RUnlock()
	}

	drain()
	pending.Wait()
}

// ParallelFor executes fn over [0, n) split into one contiguous range per
// worker. Blocks until all work completes.
//
// fn receives (start, end) indices where work should process [start, end).
func (p *Pool) ParallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers := min(p.numWorkers, n)
	if workers == 1 {
		fn(0, n)
		return
	}
	chunkSize := (n + workers - 1) / workers
	numChunks := (n + chunkSize - 1) / chunkSize
	p.run(numChunks, func(c int) {
		start := c * chunkSize
		fn(start, min(start+chunkSize, n))
	})
}

// ParallelForAtomic executes fn for each index in [0, n), handing indices
// out one at a time. This balances the load when the work per index
// varies, as it does for the partitions of a boundary loop.
// Blocks until all work completes.
func (p *Pool) ParallelForAtomic(n int, fn func(i int)) {
	if n <= 0 {
		return
	}
	if p.numWorkers == 1 || n == 1 {
		for i := range n {
			fn(i)
		}
		return
	}
	p.run(n, fn)
}

// ParallelForAtomicBatched executes fn for batches of indices, handing out
// batchSize indices at a time.
//
// fn receives (start, end) indices where work should process [start, end).
func (p *Pool) ParallelForAtomicBatched(n int, batchSize int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	numBatches := (n + batchSize - 1) / batchSize
	if p.numWorkers == 1 || numBatches == 1 {
		fn(0, n)
		return
	}
	p.run(numBatches, func(b int) {
		start := b * batchSize
		fn(start, min(start+batchSize, n))
	})
}
