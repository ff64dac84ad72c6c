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

package loopnest

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Visitor walks a LoopNest's schedule and drives a Backend through it.
//
// At each loop the active range is cut into partitions so that every
// pending kernel predicate is constant within a partition. Each partition
// is generated as its own loop (or, for a single iteration, as straight-line
// code with the index bound to a constant). Inside, computed indices are
// emitted, pending kernel groups whose placement is valid are invoked, the
// next loop is generated and groups meant to run after it are offered again.
type Visitor struct {
	backend Backend
	logger  *slog.Logger
}

// VisitorOption configures a Visitor.
type VisitorOption func(*Visitor)

// WithLogger sets the logger that receives debug events for loops,
// partitions and kernel invocations.
func WithLogger(logger *slog.Logger) VisitorOption {
	return func(v *Visitor) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewVisitor returns a Visitor emitting into backend.
func NewVisitor(backend Backend, opts ...VisitorOption) *Visitor {
	v := &Visitor{
		backend: backend,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Visit generates nest. Kernel predicates are validated before anything is
// emitted; errors raised by the backend stop the traversal and the first
// one is returned.
func (v *Visitor) Visit(nest *LoopNest) error {
	schedule := nest.LoopSchedule()
	for _, k := range nest.kernels {
		if _, err := schedule.KernelPredicate(k); err != nil {
			return err
		}
	}

	t := &traversal{visitor: v, nest: nest}
	state := &recursionState{symbols: SymbolTable{}}
	for _, g := range nest.KernelGroups() {
		state.groups = append(state.groups, pendingGroup{active: true, group: g})
	}
	v.logger.Debug("visit", "nest", nest.name, "loops", schedule.NumLoops(), "groups", len(state.groups))
	t.generateLoops(state, schedule)
	return t.firstError()
}

type pendingGroup struct {
	active bool
	group  ScheduledKernelGroup
}

type recursionState struct {
	groups  []pendingGroup
	symbols SymbolTable
}

func (st *recursionState) clone() *recursionState {
	return &recursionState{
		groups:  slices.Clone(st.groups),
		symbols: st.symbols.Clone(),
	}
}

func (st *recursionState) activeKernels() []ScheduledKernel {
	var kernels []ScheduledKernel
	for _, g := range st.groups {
		if g.active {
			kernels = append(kernels, g.group.Kernels...)
		}
	}
	return kernels
}

type traversal struct {
	visitor *Visitor
	nest    *LoopNest

	mu  sync.Mutex
	err error
}

func (t *traversal) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

func (t *traversal) firstError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *traversal) failed() bool { return t.firstError() != nil }

func (t *traversal) generateLoops(state *recursionState, schedule LoopVisitSchedule) {
	if schedule.IsDone() || t.failed() {
		return
	}
	loopIndex := schedule.CurrentLoopIndex()
	kernels := state.activeKernels()

	if len(kernels) == 0 {
		// Nothing left to run: the remaining loops are never emitted.
		for s := schedule; !s.IsDone(); s, _ = s.Next() {
			definePostLoopIndex(s.CurrentLoopIndex(), state.symbols, s)
		}
		return
	}

	predicates := make([]Predicate, 0, len(kernels))
	for _, k := range kernels {
		p, err := schedule.KernelPredicate(k)
		if err != nil {
			t.fail(err)
			return
		}
		predicates = append(predicates, p)
	}

	loopRange := LoopRangeFor(loopIndex, state.symbols, schedule)
	partitions := Partitions(loopRange, predicates, state.symbols, schedule)
	t.visitor.logger.Debug("loop",
		"index", loopIndex.Name(),
		"level", schedule.Level(),
		"range", loopRange.String(),
		"partitions", len(partitions))

	captured := capturedArgs(kernels)
	for _, p := range partitions {
		body := t.codegenFn(p, state, kernels, schedule)
		switch p.NumIterations() {
		case 0:
			continue
		case 1:
			body(Const(p.Begin))
		default:
			r := LoopRange{
				Index:    loopIndex,
				Start:    p.Begin,
				Stop:     p.End,
				Step:     p.Increment,
				Parallel: t.nest.IsParallelized(loopIndex),
				Unrolled: t.nest.IsUnrolled(loopIndex),
				Captured: captured,
			}
			if err := t.visitor.backend.GenerateLoopRange(r, schedule, body); err != nil {
				t.fail(err)
				return
			}
		}
		if t.failed() {
			return
		}
	}

	definePostLoopIndex(loopIndex, state.symbols, schedule)
}

// codegenFn returns the body of one partition of the current loop. Every
// call works on its own copy of state, so bodies of a parallel loop may run
// concurrently.
func (t *traversal) codegenFn(partition Range, state *recursionState, kernels []ScheduledKernel, schedule LoopVisitSchedule) LoopBody {
	loopIndex := schedule.CurrentLoopIndex()
	return func(value Scalar, renames ...RenameAction) {
		if t.failed() {
			return
		}
		local := state.clone()
		local.symbols[loopIndex] = SymbolEntry{
			LoopIndex: loopIndex,
			Value:     value,
			Range:     partition,
			State:     InProgress,
			Renames:   renames,
		}
		t.defineComputedIndexVariables(local.symbols, kernels, schedule)
		t.offerGroups(local, schedule)

		if schedule.IsInnermostLoop() {
			return
		}
		next, err := schedule.Next()
		if err != nil {
			t.fail(err)
			return
		}
		t.generateLoops(local, next)
		t.offerGroups(local, schedule)
	}
}

// offerGroups invokes every pending group that has a valid member here and
// retires the ones that were invoked.
func (t *traversal) offerGroups(state *recursionState, schedule LoopVisitSchedule) {
	for n := range state.groups {
		if !state.groups[n].active || t.failed() {
			continue
		}
		g := state.groups[n].group
		valid, err := ValidKernels(g, state.symbols, schedule)
		if err != nil {
			t.fail(err)
			return
		}
		if len(valid) == 0 {
			continue
		}

		invoked := true
		if len(valid) == 1 {
			var p Predicate
			p, err = schedule.KernelPredicate(valid[0])
			if err == nil {
				err = t.visitor.backend.InvokeKernel(valid[0], p.SimplifyIn(state.symbols, schedule), state.symbols, schedule)
			}
		} else {
			invoked, err = t.visitor.backend.InvokeKernelGroup(g, valid, state.symbols, schedule)
		}
		if err != nil {
			t.fail(err)
			return
		}
		if invoked {
			t.visitor.logger.Debug("invoke", "kernel", g.ID, "loop", schedule.CurrentLoopIndex().Name(), "candidates", len(valid))
			state.groups[n].active = false
		}
	}
}

// defineComputedIndexVariables emits every computed index that a pending
// kernel needs, once all the loops it depends on have values and the
// current loop is one of them.
func (t *traversal) defineComputedIndexVariables(symbols SymbolTable, kernels []ScheduledKernel, schedule LoopVisitSchedule) {
	domain := t.nest.domain
	current := schedule.CurrentLoopIndex()
	for d := range domain.NumDimensions() {
		computed, _ := domain.ComputedIndicesForDimension(domain.DimensionIndex(d))
		for _, index := range computed {
			if !t.nest.IsUsed(index, kernels) {
				continue
			}
			expr, err := t.nest.IndexExpression(index)
			if err != nil {
				t.fail(err)
				return
			}
			ready := lo.EveryBy(expr.Indices, func(si ScaledIndex) bool {
				_, ok := symbols[si.Index]
				return ok
			})
			changed := lo.ContainsBy(expr.Indices, func(si ScaledIndex) bool { return si.Index.Equal(current) })
			if !ready || !changed {
				continue
			}
			value := t.visitor.backend.EmitIndexExpression(index, expr, symbols)
			symbols[index] = SymbolEntry{LoopIndex: current, Value: value, State: InProgress}
		}
	}
}

func definePostLoopIndex(index Index, symbols SymbolTable, schedule LoopVisitSchedule) {
	r := LoopRangeFor(index, symbols, schedule)
	symbols[index] = SymbolEntry{LoopIndex: index, Value: Const(r.End), Range: r, State: Done}
}

func capturedArgs(kernels []ScheduledKernel) []Value {
	var values []Value
	for _, k := range kernels {
		for _, a := range k.Kernel.Args {
			if !lo.ContainsBy(values, a.Equal) {
				values = append(values, a)
			}
		}
	}
	return values
}

// LoopRangeFor returns the range a loop over index iterates given the
// current loop state. An inner split index (or an index split from one)
// shrinks to the active range of its outer sibling when that is a trailing
// partial iteration.
func LoopRangeFor(index Index, symbols SymbolTable, schedule LoopVisitSchedule) Range {
	domain := schedule.Domain()
	r, err := domain.IndexRange(index)
	if err != nil {
		return Range{}
	}

	clamp := func(inner Index) {
		parent, err := domain.ParentIndex(inner)
		if err != nil {
			return
		}
		outer, err := domain.OuterSplitIndex(parent)
		if err != nil || !domain.IsLoopIndex(outer) {
			return
		}
		e, ok := symbols.Lookup(outer)
		if !ok {
			return
		}
		if size := e.Range.Size(); size < r.Size() {
			r.End = r.Begin + size
		}
	}

	if domain.IsInnerSplitIndex(index) {
		clamp(index)
	} else if parent, err := domain.ParentIndex(index); err == nil && domain.IsInnerSplitIndex(parent) {
		clamp(parent)
	}
	return r
}

// Partitions cuts loopRange, the active range of the schedule's current
// loop, at every point where one of predicates may change value: after the
// first iteration, before the last full iteration and before a trailing
// partial iteration. The partitions tile loopRange in order.
func Partitions(loopRange Range, predicates []Predicate, symbols SymbolTable, schedule LoopVisitSchedule) []Range {
	loopIndex := schedule.CurrentLoopIndex()
	domain := schedule.Domain()

	var splits []int
	add := func(v int) {
		if v > loopRange.Begin && v < loopRange.End {
			splits = append(splits, v)
		}
	}
	for _, p := range predicates {
		p.SimplifyIn(symbols, schedule).Visit(func(q Predicate) {
			if q.kind != KindFragment || q.fragment == FragmentAll {
				return
			}
			if !q.index.Equal(loopIndex) && !domain.DependsOn(q.index, loopIndex) {
				return
			}
			switch q.fragment {
			case FragmentFirst:
				add(loopRange.Begin + loopRange.Increment)
			case FragmentLast:
				add(loopRange.End - loopRange.Remainder() - loopRange.Increment)
			}
		})
	}
	if rem := loopRange.Remainder(); rem != 0 {
		add(loopRange.End - rem)
	}
	slices.Sort(splits)
	splits = slices.Compact(splits)

	result := make([]Range, 0, len(splits)+1)
	begin := loopRange.Begin
	for _, end := range splits {
		result = append(result, Range{Begin: begin, End: end, Increment: loopRange.Increment})
		begin = end
	}
	return append(result, Range{Begin: begin, End: loopRange.End, Increment: loopRange.Increment})
}

// ValidKernels returns the members of g that may run at the current point:
// their placement is satisfied, their predicate is not known to be false
// and every loop the predicate still has to test is in progress.
func ValidKernels(g ScheduledKernelGroup, symbols SymbolTable, schedule LoopVisitSchedule) ([]ScheduledKernel, error) {
	var valid []ScheduledKernel
	for _, k := range g.Kernels {
		ok, err := IsPlacementValid(k, symbols, schedule)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		p, err := schedule.KernelPredicate(k)
		if err != nil {
			return nil, err
		}
		p = p.SimplifyIn(symbols, schedule)
		if p.IsAlwaysFalse() || !isTestable(p, symbols, schedule) {
			continue
		}
		valid = append(valid, k)
	}
	return valid, nil
}

// isTestable reports whether every loop that an unresolved fragment term
// of p tests is in progress, so the term can be checked against its value.
func isTestable(p Predicate, symbols SymbolTable, schedule LoopVisitSchedule) bool {
	domain := schedule.Domain()
	testable := true
	p.Visit(func(q Predicate) {
		if q.kind != KindFragment || q.fragment == FragmentAll {
			return
		}
		loops, err := domain.DependentLoopIndices(q.index, true)
		if err != nil {
			testable = false
			return
		}
		for _, l := range loops {
			if symbols.State(l) != InProgress {
				testable = false
			}
		}
	})
	return testable
}

func isBodyPlacement(p Predicate) bool {
	return p.kind == KindPlacement && !p.hasIndex
}

// IsPlacementValid reports whether k's placement allows it to run at the
// current point. Kernels without a placement (or placed relative to the
// next loop) need every loop their indices depend on to be in progress.
func IsPlacementValid(k ScheduledKernel, symbols SymbolTable, schedule LoopVisitSchedule) (bool, error) {
	domain := schedule.Domain()
	if k.Placement.IsEmpty() || isBodyPlacement(k.Placement) {
		for _, ki := range k.Kernel.Indices {
			loops, err := domain.DependentLoopIndices(ki, true)
			if err != nil {
				return false, err
			}
			for _, l := range loops {
				if e, ok := symbols.Lookup(l); !ok || e.State == Done {
					return false, nil
				}
			}
		}
		if k.Placement.IsEmpty() {
			return true, nil
		}
	}
	return evalPlacement(k.Placement, symbols, schedule)
}

func evalPlacement(p Predicate, symbols SymbolTable, schedule LoopVisitSchedule) (bool, error) {
	switch p.kind {
	case KindEmpty:
		return true, nil
	case KindConstant:
		return p.value, nil
	case KindFragment:
		if p.fragment == FragmentAll {
			return true, nil
		}
		return false, inputErrorf("fragment predicate %s is not a valid placement", p)
	case KindPlacement:
		if schedule.IsInnermostLoop() {
			return !p.hasIndex, nil
		}
		next, err := schedule.Next()
		if err != nil {
			return false, err
		}
		nextIndex := next.CurrentLoopIndex()

		deps := []Index{nextIndex}
		if p.hasIndex {
			deps, err = schedule.Domain().DependentLoopIndices(p.index, true)
			if err != nil {
				return false, err
			}
			// Already inside one of the loops that define the index.
			if lo.ContainsBy(deps, func(d Index) bool { return symbols.State(d) == InProgress }) {
				return false, nil
			}
		}
		if !slices.ContainsFunc(deps, nextIndex.Equal) {
			return false, nil
		}
		if p.placement == PlaceBefore {
			return symbols.State(nextIndex) == NotVisited, nil
		}
		return symbols.State(nextIndex) == Done, nil
	case KindIndexDefined:
		e, ok := symbols.Lookup(p.index)
		return ok && e.State != Done, nil
	case KindConjunction, KindDisjunction:
		result := p.kind == KindConjunction
		for _, t := range p.terms {
			v, err := evalPlacement(t, symbols, schedule)
			if err != nil {
				return false, err
			}
			if p.kind == KindConjunction {
				result = result && v
			} else {
				result = result || v
			}
		}
		return result, nil
	default:
		return false, logicErrorf("unknown predicate kind %d", p.kind)
	}
}

// RenamedArgs returns k's arguments with every applicable rename action
// applied. Renames scoped to the iterations in progress in symbols come
// first, innermost loop first. A nest-wide action applies when the kernel
// is not excluded and all of its Where indices are fully defined at the
// schedule's current loop.
func RenamedArgs(k Kernel, symbols SymbolTable, schedule LoopVisitSchedule) []Value {
	var actions []RenameAction
	loops := schedule.Nest().LoopSequence()
	for n := len(loops) - 1; n >= 0; n-- {
		if e, ok := symbols.Lookup(loops[n]); ok && e.State == InProgress {
			actions = append(actions, e.Renames...)
		}
	}
	actions = append(actions, schedule.Nest().RenameActions()...)
	return lo.Map(k.Args, func(arg Value, _ int) Value {
		for _, a := range actions {
			if slices.Contains(a.ExcludedKernels, k.ID) || !arg.Equal(a.Old) {
				continue
			}
			if lo.EveryBy(a.Where, schedule.IsFullyDefined) {
				return a.New
			}
		}
		return arg
	})
}
