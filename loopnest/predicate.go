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
	"fmt"
	"slices"
	"strings"
)

// Fragment selects a position within a loop.
type Fragment int

const (
	// FragmentFirst is the loop's first iteration.
	FragmentFirst Fragment = iota

	// FragmentLast is the loop's last full iteration.
	FragmentLast

	// FragmentEndBoundary is the trailing partial iteration, when the
	// increment does not divide the loop size.
	FragmentEndBoundary

	// FragmentAll is every iteration.
	FragmentAll
)

// String implements fmt.Stringer.
func (f Fragment) String() string {
	switch f {
	case FragmentFirst:
		return "first"
	case FragmentLast:
		return "last"
	case FragmentEndBoundary:
		return "endBoundary"
	case FragmentAll:
		return "all"
	default:
		return "<>"
	}
}

// Placement positions a kernel relative to a loop.
type Placement int

const (
	// PlaceBefore runs the kernel before the loop starts.
	PlaceBefore Placement = iota

	// PlaceAfter runs the kernel after the loop is done.
	PlaceAfter
)

// String implements fmt.Stringer.
func (p Placement) String() string {
	switch p {
	case PlaceBefore:
		return "before"
	case PlaceAfter:
		return "after"
	default:
		return "<>"
	}
}

// PredicateKind tags the variant held by a Predicate.
type PredicateKind int

const (
	KindEmpty PredicateKind = iota
	KindConstant
	KindFragment
	KindPlacement
	KindIndexDefined
	KindConjunction
	KindDisjunction
)

// Predicate describes when a kernel may run. The zero Predicate is Empty,
// which imposes no condition. Predicates are immutable values: every
// operation returns a new one.
type Predicate struct {
	kind      PredicateKind
	value     bool
	index     Index
	hasIndex  bool
	fragment  Fragment
	placement Placement
	terms     []Predicate
}

// Empty returns the predicate with no condition.
func Empty() Predicate { return Predicate{} }

// Constant returns a predicate that is always v.
func Constant(v bool) Predicate { return Predicate{kind: KindConstant, value: v} }

// True returns Constant(true).
func True() Predicate { return Constant(true) }

// False returns Constant(false).
func False() Predicate { return Constant(false) }

// FragmentOf returns a test for the given fragment of index.
func FragmentOf(index Index, f Fragment) Predicate {
	return Predicate{kind: KindFragment, index: index, hasIndex: true, fragment: f}
}

// First holds on the first iteration of index.
func First(index Index) Predicate { return FragmentOf(index, FragmentFirst) }

// Last holds on the last full iteration of index.
func Last(index Index) Predicate { return FragmentOf(index, FragmentLast) }

// EndBoundary holds on the trailing partial iteration of index.
func EndBoundary(index Index) Predicate { return FragmentOf(index, FragmentEndBoundary) }

// All holds on every iteration of index.
func All(index Index) Predicate { return FragmentOf(index, FragmentAll) }

// Before places a kernel before the loops that define index.
func Before(index Index) Predicate {
	return Predicate{kind: KindPlacement, index: index, hasIndex: true, placement: PlaceBefore}
}

// After places a kernel after the loops that define index.
func After(index Index) Predicate {
	return Predicate{kind: KindPlacement, index: index, hasIndex: true, placement: PlaceAfter}
}

// BeforeNext places a kernel before the next inner loop.
func BeforeNext() Predicate { return Predicate{kind: KindPlacement, placement: PlaceBefore} }

// AfterNext places a kernel after the next inner loop.
func AfterNext() Predicate { return Predicate{kind: KindPlacement, placement: PlaceAfter} }

// IsDefined holds while index has a value and its loop is not done.
func IsDefined(index Index) Predicate {
	return Predicate{kind: KindIndexDefined, index: index, hasIndex: true}
}

// And returns the conjunction of terms.
func And(terms ...Predicate) Predicate {
	return Predicate{kind: KindConjunction, terms: slices.Clone(terms)}
}

// Or returns the disjunction of terms.
func Or(terms ...Predicate) Predicate {
	return Predicate{kind: KindDisjunction, terms: slices.Clone(terms)}
}

// And returns p && q.
func (p Predicate) And(q Predicate) Predicate { return And(p, q) }

// Or returns p || q.
func (p Predicate) Or(q Predicate) Predicate { return Or(p, q) }

// Relation compares two indices.
type Relation int

const (
	RelLess Relation = iota
	RelLessEqual
	RelEqual
	RelGreaterEqual
	RelGreater
)

// String implements fmt.Stringer.
func (r Relation) String() string {
	names := [...]string{"<", "<=", "==", ">=", ">"}
	if r < 0 || int(r) >= len(names) {
		return fmt.Sprintf("Relation(%d)", int(r))
	}
	return names[r]
}

// Compare would relate the values of two indices. Index-to-index relations
// are not implemented and always return ErrLogic.
func Compare(a Index, rel Relation, b Index) (Predicate, error) {
	return Predicate{}, logicErrorf("index relation %s %s %s not implemented", a, rel, b)
}

// Kind returns the variant held by p.
func (p Predicate) Kind() PredicateKind { return p.kind }

// IsEmpty reports whether p is Empty.
func (p Predicate) IsEmpty() bool { return p.kind == KindEmpty }

// Value returns the value of a constant predicate.
func (p Predicate) Value() bool { return p.value }

// Index returns the index tested by a fragment, placement or defined
// predicate.
func (p Predicate) Index() Index { return p.index }

// HasIndex reports whether p carries an index. Placement predicates built
// with BeforeNext and AfterNext do not.
func (p Predicate) HasIndex() bool { return p.hasIndex }

// Condition returns the fragment tested by a fragment predicate.
func (p Predicate) Condition() Fragment { return p.fragment }

// Where returns the position of a placement predicate.
func (p Predicate) Where() Placement { return p.placement }

// Terms returns a copy of the terms of a conjunction or disjunction.
func (p Predicate) Terms() []Predicate { return slices.Clone(p.terms) }

// IsAlwaysTrue reports whether p holds everywhere without consulting the
// schedule. Empty counts as true.
func (p Predicate) IsAlwaysTrue() bool {
	return isTrue(p.Simplify())
}

// IsAlwaysFalse reports whether p never holds. Empty is not false.
func (p Predicate) IsAlwaysFalse() bool {
	return isFalse(p.Simplify())
}

func isTrue(p Predicate) bool  { return p.kind == KindEmpty || (p.kind == KindConstant && p.value) }
func isFalse(p Predicate) bool { return p.kind == KindConstant && !p.value }

// Simplify folds constants without any schedule context: All fragments
// become true, constant terms are absorbed, nested groups of the same kind
// are flattened and single-term groups collapse to their term. Simplify is
// idempotent.
func (p Predicate) Simplify() Predicate {
	switch p.kind {
	case KindFragment:
		if p.fragment == FragmentAll {
			return True()
		}
		return p
	case KindConjunction:
		var terms []Predicate
		for _, t := range p.terms {
			s := t.Simplify()
			if isFalse(s) {
				return False()
			}
			if !isTrue(s) {
				terms = appendFlat(terms, s, KindConjunction)
			}
		}
		return collapse(KindConjunction, terms, Empty())
	case KindDisjunction:
		if len(p.terms) == 0 {
			return Empty()
		}
		var terms []Predicate
		for _, t := range p.terms {
			s := t.Simplify()
			if isTrue(s) {
				return True()
			}
			if !isFalse(s) {
				terms = appendFlat(terms, s, KindDisjunction)
			}
		}
		return collapse(KindDisjunction, terms, False())
	default:
		return p
	}
}

// SimplifyIn resolves what it can of p given the current loop state.
// Fragment tests are decided against the active range of each loop index
// they depend on: a test value outside the active range makes the term
// false, a single-iteration active range containing it makes the term
// true, anything else is left for the backend to test at run time. The
// result never turns a predicate that can be false into true.
func (p Predicate) SimplifyIn(symbols SymbolTable, schedule LoopVisitSchedule) Predicate {
	switch p.kind {
	case KindFragment:
		return p.simplifyFragment(symbols, schedule)
	case KindConjunction:
		if len(p.terms) == 0 {
			return Empty()
		}
		var terms []Predicate
		for _, t := range p.terms {
			s := t.SimplifyIn(symbols, schedule)
			if isFalse(s) {
				return False()
			}
			if !isTrue(s) {
				terms = appendFlat(terms, s, KindConjunction)
			}
		}
		return collapse(KindConjunction, terms, True())
	case KindDisjunction:
		if len(p.terms) == 0 {
			return Empty()
		}
		var terms []Predicate
		for _, t := range p.terms {
			s := t.SimplifyIn(symbols, schedule)
			if isTrue(s) {
				return True()
			}
			if !isFalse(s) {
				terms = appendFlat(terms, s, KindDisjunction)
			}
		}
		return collapse(KindDisjunction, terms, False())
	default:
		return p
	}
}

func (p Predicate) simplifyFragment(symbols SymbolTable, schedule LoopVisitSchedule) Predicate {
	if p.fragment == FragmentAll {
		return True()
	}
	loopIndices, err := schedule.Domain().DependentLoopIndices(p.index, true)
	if err != nil {
		return p
	}
	unresolved := false
	for _, loopIndex := range loopIndices {
		fullRange := LoopRangeFor(loopIndex, symbols, schedule)
		testVal, ok := TestValue(fullRange, p.fragment)
		if !ok {
			// The range has no such iteration.
			return False()
		}

		activeRange := fullRange
		if e, found := symbols.Lookup(loopIndex); found && e.State == InProgress {
			activeRange = e.Range
		}
		numIterations := activeRange.NumIterations()
		if numIterations == 0 {
			unresolved = true
			continue
		}
		if !activeRange.Intersects(Range{Begin: testVal, End: testVal + 1, Increment: 1}) {
			return False()
		}
		if numIterations > 1 {
			unresolved = true
		}
	}
	if unresolved {
		return p
	}
	return True()
}

// TestValue returns the loop value at which fragment f of a loop over r
// holds. Last is the start of the final full iteration, so with a trailing
// partial iteration it precedes the EndBoundary value by one increment. It
// reports false for FragmentEndBoundary when r has no trailing partial
// iteration, for FragmentLast when r has no full iteration, and for
// FragmentAll, which has no single value.
func TestValue(r Range, f Fragment) (int, bool) {
	switch f {
	case FragmentFirst:
		return r.Begin, true
	case FragmentLast:
		last := r.End - r.Remainder() - r.Increment
		if last < r.Begin {
			return 0, false
		}
		return last, true
	case FragmentEndBoundary:
		rem := r.Remainder()
		if rem == 0 {
			return 0, false
		}
		return r.End - rem, true
	default:
		return 0, false
	}
}

func appendFlat(terms []Predicate, s Predicate, kind PredicateKind) []Predicate {
	if s.kind == kind {
		return append(terms, s.terms...)
	}
	return append(terms, s)
}

func collapse(kind PredicateKind, terms []Predicate, none Predicate) Predicate {
	switch len(terms) {
	case 0:
		return none
	case 1:
		return terms[0]
	default:
		return Predicate{kind: kind, terms: terms}
	}
}

// Visit calls fn on p and then on every term below it, depth first.
func (p Predicate) Visit(fn func(Predicate)) {
	fn(p)
	for _, t := range p.terms {
		t.Visit(fn)
	}
}

// Indices returns the indices mentioned anywhere in p, in visit order and
// without repeats.
func (p Predicate) Indices() []Index {
	var result []Index
	p.Visit(func(q Predicate) {
		if q.hasIndex && !slices.ContainsFunc(result, q.index.Equal) {
			result = append(result, q.index)
		}
	})
	return result
}

// Equal reports structural equality.
func (p Predicate) Equal(q Predicate) bool {
	if p.kind != q.kind {
		return false
	}
	switch p.kind {
	case KindEmpty:
		return true
	case KindConstant:
		return p.value == q.value
	case KindFragment:
		return p.index.Equal(q.index) && p.fragment == q.fragment
	case KindPlacement:
		return p.hasIndex == q.hasIndex && p.placement == q.placement && (!p.hasIndex || p.index.Equal(q.index))
	case KindIndexDefined:
		return p.index.Equal(q.index)
	default:
		return slices.EqualFunc(p.terms, q.terms, Predicate.Equal)
	}
}

// String formats p, e.g. "(first(i_1) && last(j))".
func (p Predicate) String() string {
	var sb strings.Builder
	p.format(&sb)
	return sb.String()
}

func (p Predicate) format(sb *strings.Builder) {
	switch p.kind {
	case KindEmpty:
		sb.WriteString("{}")
	case KindConstant:
		if p.value {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindFragment:
		sb.WriteString(p.fragment.String())
		sb.WriteString("(" + p.index.Name() + ")")
	case KindPlacement:
		sb.WriteString(p.placement.String())
		if p.hasIndex {
			sb.WriteString("(" + p.index.Name() + ")")
		} else {
			sb.WriteString("()")
		}
	case KindIndexDefined:
		sb.WriteString("IsDefined(" + p.index.Name() + ")")
	case KindConjunction, KindDisjunction:
		op, none := " && ", "true"
		if p.kind == KindDisjunction {
			op, none = " || ", "false"
		}
		switch len(p.terms) {
		case 0:
			sb.WriteString(none)
		case 1:
			p.terms[0].format(sb)
		default:
			sb.WriteString("(")
			for n, t := range p.terms {
				if n > 0 {
					sb.WriteString(op)
				}
				t.format(sb)
			}
			sb.WriteString(")")
		}
	}
}
