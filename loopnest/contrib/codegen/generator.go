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

// Package codegen turns a scheduled loop nest into code through an
// emit.Context: sequential loops become ForRange, parallel loops become
// Parallelize, unrolled loops are expanded inline and kernel predicates
// become runtime comparisons of the loop variables.
//
// Usage:
//
//	ctx := interp.New()
//	if err := codegen.New(ctx).Run(nest); err != nil {
//	    return err
//	}
package codegen

import (
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/ajroetker/go-loopnest/loopnest"
	"github.com/ajroetker/go-loopnest/loopnest/emit"
)

// Generator is a loopnest.Backend emitting into an emit.Context.
type Generator struct {
	ctx    emit.Context
	logger *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger used by the generator and its visitor.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New returns a Generator emitting into ctx.
func New(ctx emit.Context, opts ...Option) *Generator {
	g := &Generator{
		ctx:    ctx,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run generates nest.
func (g *Generator) Run(nest *loopnest.LoopNest) error {
	g.logger.Debug("codegen", "nest", nest.Name())
	return loopnest.NewVisitor(g, loopnest.WithLogger(g.logger)).Visit(nest)
}

// GenerateLoopRange implements loopnest.Backend.
func (g *Generator) GenerateLoopRange(r loopnest.LoopRange, _ loopnest.LoopVisitSchedule, body loopnest.LoopBody) error {
	switch {
	case r.Unrolled:
		for v := r.Start; v < r.Stop; v += r.Step {
			body(loopnest.Const(v))
		}
		return nil

	case r.Parallel:
		g.logger.Debug("parallel loop", "index", r.Index.Name(), "range", r.Range().String(), "captured", len(r.Captured))
		return g.ctx.Parallelize(r.Index.Name(), r.NumIterations(), r.Captured, func(worker loopnest.Scalar, captured []loopnest.Value) error {
			if len(captured) != len(r.Captured) {
				return fmt.Errorf("%w: parallel loop over %s received %d captured values, want %d",
					loopnest.ErrLogic, r.Index, len(captured), len(r.Captured))
			}
			// Kernels inside the worker body see its copies of the captured
			// values. Later partitions of the same loop keep the originals.
			renames := make([]loopnest.RenameAction, 0, len(captured))
			for n, old := range r.Captured {
				if !old.Equal(captured[n]) {
					renames = append(renames, loopnest.RenameAction{Old: old, New: captured[n], Where: []loopnest.Index{r.Index}})
				}
			}
			body(g.add(loopnest.Const(r.Start), g.mul(worker, loopnest.Const(r.Step))), renames...)
			return nil
		})

	default:
		return g.ctx.ForRange(r.Index.Name(), r.Start, r.Stop, r.Step, func(index loopnest.Scalar) error {
			body(index)
			return nil
		})
	}
}

// EmitIndexExpression implements loopnest.Backend. Loop indices without a
// value yet count as zero.
func (g *Generator) EmitIndexExpression(_ loopnest.Index, expr loopnest.IndexExpression, symbols loopnest.SymbolTable) loopnest.Scalar {
	var sum loopnest.Scalar = loopnest.Const(expr.Begin)
	for _, si := range expr.Indices {
		sum = g.add(sum, g.mul(g.value(si.Index, symbols), loopnest.Const(si.Scale)))
	}
	return sum
}

// InvokeKernel implements loopnest.Backend.
func (g *Generator) InvokeKernel(k loopnest.ScheduledKernel, p loopnest.Predicate, symbols loopnest.SymbolTable, schedule loopnest.LoopVisitSchedule) error {
	call := func() error { return g.call(k, symbols, schedule) }
	if p.IsAlwaysTrue() {
		return call()
	}
	cond, err := g.emitPredicate(p, symbols, schedule)
	if err != nil {
		return err
	}
	if v, ok := emit.ConstValue(cond); ok {
		if v != 0 {
			return call()
		}
		return nil
	}
	return g.ctx.If(cond, call).End()
}

// InvokeKernelGroup implements loopnest.Backend. The first member whose
// predicate holds runs; a member whose predicate is always true ends the
// cascade.
func (g *Generator) InvokeKernelGroup(group loopnest.ScheduledKernelGroup, valid []loopnest.ScheduledKernel, symbols loopnest.SymbolTable, schedule loopnest.LoopVisitSchedule) (bool, error) {
	if len(valid) == 0 {
		return false, nil
	}
	var cascade emit.IfContext
	for _, k := range valid {
		p, err := schedule.KernelPredicate(k)
		if err != nil {
			return false, err
		}
		p = p.SimplifyIn(symbols, schedule)
		if p.IsAlwaysFalse() {
			return false, fmt.Errorf("%w: kernel %s of group %s reached the cascade with an always false predicate",
				loopnest.ErrLogic, k.Kernel.DisplayName(), group.ID)
		}
		call := func() error { return g.call(k, symbols, schedule) }

		always := p.IsAlwaysTrue()
		var cond loopnest.Scalar
		if !always {
			if cond, err = g.emitPredicate(p, symbols, schedule); err != nil {
				return false, err
			}
			if v, ok := emit.ConstValue(cond); ok {
				if v == 0 {
					continue
				}
				always = true
			}
		}

		switch {
		case always && cascade == nil:
			return true, call()
		case always:
			return true, cascade.Else(call)
		case cascade == nil:
			cascade = g.ctx.If(cond, call)
		default:
			cascade = cascade.ElseIf(cond, call)
		}
	}
	if cascade != nil {
		return true, cascade.End()
	}
	return true, nil
}

func (g *Generator) call(k loopnest.ScheduledKernel, symbols loopnest.SymbolTable, schedule loopnest.LoopVisitSchedule) error {
	indices := make([]loopnest.Scalar, len(k.Kernel.Indices))
	for n, index := range k.Kernel.Indices {
		e, ok := symbols.Lookup(index)
		if !ok || e.Value == nil {
			return fmt.Errorf("%w: kernel %s: index %s has no value", loopnest.ErrLogic, k.Kernel.DisplayName(), index)
		}
		indices[n] = e.Value
	}
	return g.ctx.Call(k.Kernel, loopnest.RenamedArgs(k.Kernel, symbols, schedule), indices)
}

func (g *Generator) value(index loopnest.Index, symbols loopnest.SymbolTable) loopnest.Scalar {
	if e, ok := symbols.Lookup(index); ok && e.Value != nil {
		return e.Value
	}
	return loopnest.Const(0)
}

// emitPredicate returns a boolean scalar that holds exactly when p does.
// A fragment of an index holds when every loop the index depends on is at
// the fragment's test value.
func (g *Generator) emitPredicate(p loopnest.Predicate, symbols loopnest.SymbolTable, schedule loopnest.LoopVisitSchedule) (loopnest.Scalar, error) {
	switch p.Kind() {
	case loopnest.KindEmpty:
		return emit.Bool(true), nil
	case loopnest.KindConstant:
		return emit.Bool(p.Value()), nil
	case loopnest.KindFragment:
		if p.Condition() == loopnest.FragmentAll {
			return emit.Bool(true), nil
		}
		loops, err := schedule.Domain().DependentLoopIndices(p.Index(), true)
		if err != nil {
			return nil, err
		}
		var cond loopnest.Scalar = emit.Bool(true)
		for _, l := range loops {
			want, ok := loopnest.TestValue(loopnest.LoopRangeFor(l, symbols, schedule), p.Condition())
			if !ok {
				return emit.Bool(false), nil
			}
			cond = g.and(cond, g.equal(g.value(l, symbols), loopnest.Const(want)))
		}
		return cond, nil
	case loopnest.KindConjunction, loopnest.KindDisjunction:
		conj := p.Kind() == loopnest.KindConjunction
		var cond loopnest.Scalar = emit.Bool(conj)
		for _, t := range p.Terms() {
			c, err := g.emitPredicate(t, symbols, schedule)
			if err != nil {
				return nil, err
			}
			if conj {
				cond = g.and(cond, c)
			} else {
				cond = g.or(cond, c)
			}
		}
		return cond, nil
	case loopnest.KindIndexDefined, loopnest.KindPlacement:
		return nil, fmt.Errorf("%w: predicate %s cannot be evaluated at run time", loopnest.ErrLogic, p)
	default:
		return nil, fmt.Errorf("%w: unknown predicate kind %d", loopnest.ErrLogic, p.Kind())
	}
}

// The helpers below fold constant operands before reaching the context.

func (g *Generator) add(a, b loopnest.Scalar) loopnest.Scalar {
	x, xok := emit.ConstValue(a)
	y, yok := emit.ConstValue(b)
	switch {
	case xok && yok:
		return loopnest.Const(x + y)
	case xok && x == 0:
		return b
	case yok && y == 0:
		return a
	}
	return g.ctx.Add(a, b)
}

func (g *Generator) mul(a, b loopnest.Scalar) loopnest.Scalar {
	x, xok := emit.ConstValue(a)
	y, yok := emit.ConstValue(b)
	switch {
	case xok && yok:
		return loopnest.Const(x * y)
	case xok && x == 1:
		return b
	case yok && y == 1:
		return a
	case (xok && x == 0) || (yok && y == 0):
		return loopnest.Const(0)
	}
	return g.ctx.Mul(a, b)
}

func (g *Generator) equal(a, b loopnest.Scalar) loopnest.Scalar {
	x, xok := emit.ConstValue(a)
	y, yok := emit.ConstValue(b)
	if xok && yok {
		return emit.Bool(x == y)
	}
	return g.ctx.Equal(a, b)
}

func (g *Generator) and(a, b loopnest.Scalar) loopnest.Scalar {
	return g.logical(a, b, true)
}

func (g *Generator) or(a, b loopnest.Scalar) loopnest.Scalar {
	return g.logical(a, b, false)
}

// logical folds a conjunction (or disjunction) when either side is known.
func (g *Generator) logical(a, b loopnest.Scalar, conj bool) loopnest.Scalar {
	known := lo.Filter([]loopnest.Scalar{a, b}, func(s loopnest.Scalar, _ int) bool {
		_, ok := emit.ConstValue(s)
		return ok
	})
	for _, s := range known {
		v, _ := emit.ConstValue(s)
		// false && x, true || x
		if (v != 0) != conj {
			return emit.Bool(!conj)
		}
	}
	switch len(known) {
	case 2:
		return emit.Bool(conj)
	case 1:
		if _, ok := emit.ConstValue(a); ok {
			return b
		}
		return a
	}
	if conj {
		return g.ctx.And(a, b)
	}
	return g.ctx.Or(a, b)
}
