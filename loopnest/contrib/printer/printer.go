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

// Package printer renders the loop structure a loop nest would generate as
// indented pseudo code. Each loop partition is printed once, with its
// bounds; single-iteration partitions appear as bracketed index values such
// as "[i=0]".
package printer

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/ajroetker/go-loopnest/loopnest"
)

const indentSize = 4

// Printer is a loopnest.Backend that writes pseudo code.
type Printer struct {
	w      io.Writer
	indent int
	err    error
}

// New returns a Printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Print writes nest.
func (p *Printer) Print(nest *loopnest.LoopNest) error {
	if err := loopnest.NewVisitor(p).Visit(nest); err != nil {
		return err
	}
	return p.err
}

// Sprint returns the printed form of nest.
func Sprint(nest *loopnest.LoopNest) (string, error) {
	var sb strings.Builder
	if err := New(&sb).Print(nest); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (p *Printer) writeLine(format string, args ...any) {
	if p.err != nil {
		return
	}
	line := strings.Repeat(" ", indentSize*p.indent) + fmt.Sprintf(format, args...) + "\n"
	_, p.err = io.WriteString(p.w, line)
}

func (p *Printer) open() {
	p.writeLine("{")
	p.indent++
}

func (p *Printer) close() {
	p.indent--
	p.writeLine("}")
}

// GenerateLoopRange implements loopnest.Backend. The body is printed once.
func (p *Printer) GenerateLoopRange(r loopnest.LoopRange, _ loopnest.LoopVisitSchedule, body loopnest.LoopBody) error {
	var props []string
	if r.Parallel {
		props = append(props, "parallel")
	}
	if r.Unrolled {
		props = append(props, "unrolled")
	}
	suffix := ""
	if len(props) > 0 {
		suffix = ": (" + strings.Join(props, ", ") + ")"
	}
	p.writeLine("For (%s = %d to %d by %d)%s", r.Index.Name(), r.Start, r.Stop, r.Step, suffix)
	p.open()
	body(loopnest.Const(r.Start))
	p.close()
	return p.err
}

// EmitIndexExpression implements loopnest.Backend.
func (p *Printer) EmitIndexExpression(index loopnest.Index, expr loopnest.IndexExpression, symbols loopnest.SymbolTable) loopnest.Scalar {
	if len(expr.Indices) == 0 {
		return loopnest.Const(expr.Begin)
	}
	var terms []string
	for _, si := range expr.Indices {
		if _, ok := symbols.Lookup(si.Index); !ok {
			continue
		}
		name := indexString(si.Index, symbols)
		if si.Scale != 1 {
			name = strconv.Itoa(si.Scale) + "*" + name
		}
		terms = append(terms, name)
	}
	terms = append(terms, strconv.Itoa(expr.Begin))
	p.writeLine("int %s = %s;", indexString(index, symbols), strings.Join(terms, " + "))
	return loopnest.Const(0)
}

// InvokeKernel implements loopnest.Backend.
func (p *Printer) InvokeKernel(k loopnest.ScheduledKernel, pred loopnest.Predicate, symbols loopnest.SymbolTable, schedule loopnest.LoopVisitSchedule) error {
	guarded := !pred.IsAlwaysTrue()
	if guarded {
		cond, err := predicateString(pred, symbols, schedule)
		if err != nil {
			return err
		}
		p.writeLine("If (%s)", cond)
		p.open()
	}
	p.call(k.Kernel, symbols, schedule)
	if guarded {
		p.close()
	}
	return p.err
}

// InvokeKernelGroup implements loopnest.Backend.
func (p *Printer) InvokeKernelGroup(g loopnest.ScheduledKernelGroup, valid []loopnest.ScheduledKernel, symbols loopnest.SymbolTable, schedule loopnest.LoopVisitSchedule) (bool, error) {
	if len(valid) == 0 {
		return false, nil
	}
	first := true
	for _, k := range valid {
		pred, err := schedule.KernelPredicate(k)
		if err != nil {
			return false, err
		}
		pred = pred.SimplifyIn(symbols, schedule)
		if pred.IsAlwaysFalse() {
			return false, fmt.Errorf("%w: kernel %s of group %s reached the cascade with an always false predicate",
				loopnest.ErrLogic, k.Kernel.DisplayName(), g.ID)
		}

		always := pred.IsAlwaysTrue()
		switch {
		case always && !first:
			p.close()
			p.writeLine("Else")
			p.open()
		case !always:
			cond, err := predicateString(pred, symbols, schedule)
			if err != nil {
				return false, err
			}
			if first {
				p.writeLine("If (%s)", cond)
			} else {
				p.close()
				p.writeLine("ElseIf (%s)", cond)
			}
			p.open()
		}
		p.call(k.Kernel, symbols, schedule)
		if always {
			if !first {
				p.close()
			}
			return true, p.err
		}
		first = false
	}
	p.close()
	return true, p.err
}

func (p *Printer) call(k loopnest.Kernel, symbols loopnest.SymbolTable, schedule loopnest.LoopVisitSchedule) {
	renamed := loopnest.RenamedArgs(k, symbols, schedule)
	args := make([]string, 0, len(k.Args)+len(k.Indices))
	for n, arg := range k.Args {
		if !renamed[n].Equal(arg) {
			p.writeLine("Using %s in place of %s", renamed[n].Name(), arg.Name())
		}
		args = append(args, lo.CoalesceOrEmpty(renamed[n].Name(), "<arg>"))
	}
	for _, index := range k.Indices {
		args = append(args, indexString(index, symbols))
	}
	p.writeLine("%s(%s);", k.DisplayName(), strings.Join(args, ", "))
}

// indexString names index, or shows its value when the partition defining
// it has a single iteration.
func indexString(index loopnest.Index, symbols loopnest.SymbolTable) string {
	if e, ok := symbols.Lookup(index); ok && e.Range.Increment > 0 && e.Range.NumIterations() == 1 {
		return fmt.Sprintf("[%s=%d]", index.Name(), e.Range.Begin)
	}
	return index.Name()
}

func predicateString(pred loopnest.Predicate, symbols loopnest.SymbolTable, schedule loopnest.LoopVisitSchedule) (string, error) {
	switch {
	case pred.IsAlwaysTrue():
		return "true", nil
	case pred.IsAlwaysFalse():
		return "false", nil
	}
	switch pred.Kind() {
	case loopnest.KindFragment:
		if pred.Condition() == loopnest.FragmentAll {
			return "true", nil
		}
		loops, err := schedule.Domain().DependentLoopIndices(pred.Index(), true)
		if err != nil {
			return "", err
		}
		tests := make([]string, 0, len(loops))
		for _, l := range loops {
			want, ok := loopnest.TestValue(loopnest.LoopRangeFor(l, symbols, schedule), pred.Condition())
			if !ok {
				return "false", nil
			}
			tests = append(tests, fmt.Sprintf("(%s == %d)", indexString(l, symbols), want))
		}
		return "(" + strings.Join(tests, " && ") + ")", nil
	case loopnest.KindConjunction, loopnest.KindDisjunction:
		op := " && "
		if pred.Kind() == loopnest.KindDisjunction {
			op = " || "
		}
		terms := pred.Terms()
		if len(terms) == 1 {
			return predicateString(terms[0], symbols, schedule)
		}
		parts := make([]string, len(terms))
		for n, t := range terms {
			s, err := predicateString(t, symbols, schedule)
			if err != nil {
				return "", err
			}
			parts[n] = s
		}
		return "(" + strings.Join(parts, op) + ")", nil
	case loopnest.KindIndexDefined:
		return "", fmt.Errorf("%w: IsDefined predicates cannot be printed as conditions", loopnest.ErrLogic)
	default:
		return "", fmt.Errorf("%w: predicate %s cannot be printed as a condition", loopnest.ErrLogic, pred)
	}
}
