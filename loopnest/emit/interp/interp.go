// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package interp is an emit.Context that runs a loop nest instead of
// generating code for it. Every scalar is a loopnest.Const and kernels are
// executed by calling their Body.
package interp

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ajroetker/go-loopnest/loopnest"
	"github.com/ajroetker/go-loopnest/loopnest/contrib/workerpool"
	"github.com/ajroetker/go-loopnest/loopnest/emit"
)

// Context executes loops directly. Parallel loops run on a worker pool
// when one is configured and sequentially otherwise. A Context is safe for
// concurrent use.
type Context struct {
	pool   *workerpool.Pool
	batch  int
	logger *slog.Logger

	calls atomic.Int64
}

var _ emit.Context = (*Context)(nil)

// Option configures a Context.
type Option func(*Context)

// WithPool runs parallel loops on pool. The caller keeps ownership.
func WithPool(pool *workerpool.Pool) Option {
	return func(c *Context) { c.pool = pool }
}

// WithBatchSize hands parallel iterations to pool workers batch at a time
// instead of one by one. Sizes below 2 keep per-iteration dispatch.
func WithBatchSize(batch int) Option {
	return func(c *Context) { c.batch = batch }
}

// WithLogger sets the logger receiving per-loop debug events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns an interpreting Context.
func New(opts ...Option) *Context {
	c := &Context{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calls returns the number of kernel invocations so far.
func (c *Context) Calls() int64 { return c.calls.Load() }

func value(s loopnest.Scalar) int {
	v, ok := emit.ConstValue(s)
	if !ok {
		panic(fmt.Sprintf("interp: scalar %v (%T) is not a constant", s, s))
	}
	return v
}

// Add implements emit.Context.
func (c *Context) Add(a, b loopnest.Scalar) loopnest.Scalar { return loopnest.Const(value(a) + value(b)) }

// Mul implements emit.Context.
func (c *Context) Mul(a, b loopnest.Scalar) loopnest.Scalar { return loopnest.Const(value(a) * value(b)) }

// Equal implements emit.Context.
func (c *Context) Equal(a, b loopnest.Scalar) loopnest.Scalar { return emit.Bool(value(a) == value(b)) }

// NotEqual implements emit.Context.
func (c *Context) NotEqual(a, b loopnest.Scalar) loopnest.Scalar {
	return emit.Bool(value(a) != value(b))
}

// And implements emit.Context.
func (c *Context) And(a, b loopnest.Scalar) loopnest.Scalar {
	return emit.Bool(value(a) != 0 && value(b) != 0)
}

// Or implements emit.Context.
func (c *Context) Or(a, b loopnest.Scalar) loopnest.Scalar {
	return emit.Bool(value(a) != 0 || value(b) != 0)
}

// ForRange implements emit.Context.
func (c *Context) ForRange(name string, start, stop, step int, body func(loopnest.Scalar) error) error {
	if step <= 0 {
		return fmt.Errorf("%w: loop %s has step %d", loopnest.ErrInput, name, step)
	}
	c.logger.Debug("for", "index", name, "start", start, "stop", stop, "step", step)
	for v := start; v < stop; v += step {
		if err := body(loopnest.Const(v)); err != nil {
			return err
		}
	}
	return nil
}

// Parallelize implements emit.Context. Every task sees the captured values
// as given; kernels share them.
func (c *Context) Parallelize(name string, count int, captured []loopnest.Value, body func(loopnest.Scalar, []loopnest.Value) error) error {
	c.logger.Debug("parallel", "index", name, "count", count, "batch", c.batch)
	if c.pool == nil {
		for w := range count {
			if err := body(loopnest.Const(w), captured); err != nil {
				return err
			}
		}
		return nil
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	record := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	if c.batch > 1 {
		c.pool.ParallelForAtomicBatched(count, c.batch, func(start, end int) {
			for w := start; w < end; w++ {
				if err := body(loopnest.Const(w), captured); err != nil {
					record(err)
					return
				}
			}
		})
		return firstErr
	}
	c.pool.ParallelForAtomic(count, func(w int) {
		if err := body(loopnest.Const(w), captured); err != nil {
			record(err)
		}
	})
	return firstErr
}

// If implements emit.Context.
func (c *Context) If(cond loopnest.Scalar, body func() error) emit.IfContext {
	return (&ifContext{}).branch(cond, body)
}

// Call implements emit.Context.
func (c *Context) Call(k loopnest.Kernel, args []loopnest.Value, indices []loopnest.Scalar) error {
	for _, s := range indices {
		if _, ok := emit.ConstValue(s); !ok {
			return fmt.Errorf("%w: kernel %s called with non-constant index %v", loopnest.ErrLogic, k.DisplayName(), s)
		}
	}
	c.calls.Add(1)
	if k.Body != nil {
		k.Body(args, indices)
	}
	return nil
}

// ifContext tracks whether a branch of the cascade has been taken.
type ifContext struct {
	taken bool
	err   error
}

func (ic *ifContext) branch(cond loopnest.Scalar, body func() error) *ifContext {
	if ic.taken || ic.err != nil {
		return ic
	}
	if value(cond) != 0 {
		ic.taken = true
		ic.err = body()
	}
	return ic
}

func (ic *ifContext) ElseIf(cond loopnest.Scalar, body func() error) emit.IfContext {
	return ic.branch(cond, body)
}

func (ic *ifContext) Else(body func() error) error {
	return ic.branch(loopnest.Const(1), body).err
}

func (ic *ifContext) End() error { return ic.err }
