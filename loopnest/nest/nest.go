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

// Package nest is a fluent front end for loop nests. Arguments and
// dimensions are declared first, kernels are added with Do, and the
// schedule is shaped through Schedule before the nest is run:
//
//	issuer := loopnest.NewIndexIssuer()
//	i, j := issuer.New("i"), issuer.New("j")
//	n := nest.New(issuer).
//	    Using(nest.Output, loopnest.Symbol("M")).
//	    ForAll(i, 0, 4).
//	    ForAll(j, 0, 5).
//	    Do(fill)
//	if _, err := n.Schedule().ParallelizeBy(i, 2); err != nil {
//	    return err
//	}
//	return n.Run(interp.New())
//
// The underlying loopnest.LoopNest is created by the first Do or schedule
// operation; no dimension can be added after that. Errors stick: once an
// operation fails, later ones do nothing and Err, LoopNest and Run report
// the first failure. A Nest is not safe for concurrent use.
package nest

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"github.com/ajroetker/go-loopnest/loopnest"
	"github.com/ajroetker/go-loopnest/loopnest/contrib/codegen"
	"github.com/ajroetker/go-loopnest/loopnest/contrib/printer"
	"github.com/ajroetker/go-loopnest/loopnest/emit"
)

// ArgumentType tells how a kernel uses an argument.
type ArgumentType int

const (
	Input ArgumentType = iota
	InputOutput
	Output
	Temporary
)

// String implements fmt.Stringer.
func (t ArgumentType) String() string {
	names := [...]string{"input", "inout", "output", "temporary"}
	if t < 0 || int(t) >= len(names) {
		return fmt.Sprintf("ArgumentType(%d)", int(t))
	}
	return names[t]
}

// Argument is a value declared with Using.
type Argument struct {
	Value loopnest.Value
	Type  ArgumentType
}

// Nest builds a loop nest step by step.
type Nest struct {
	issuer *loopnest.IndexIssuer
	name   string
	logger *slog.Logger

	args    []Argument
	ranges  []loopnest.IndexRange
	kernels int

	nest *loopnest.LoopNest
	err  error
}

// Option configures a Nest.
type Option func(*Nest)

// WithName names the loop nest.
func WithName(name string) Option {
	return func(n *Nest) { n.name = name }
}

// WithLogger sets the logger of schedule operations and of Run.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Nest) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New returns an empty Nest whose dimensions are issued by issuer.
func New(issuer *loopnest.IndexIssuer, opts ...Option) *Nest {
	n := &Nest{
		issuer: issuer,
		name:   "loopnest",
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Using appends values to the arguments of the kernels added by Do.
func (n *Nest) Using(t ArgumentType, values ...loopnest.Value) *Nest {
	for _, v := range values {
		n.args = append(n.args, Argument{Value: v, Type: t})
	}
	return n
}

// Arguments returns the arguments declared so far, in order.
func (n *Nest) Arguments() []Argument { return slices.Clone(n.args) }

// ForAll adds the dimension index over [begin, end).
func (n *Nest) ForAll(index loopnest.Index, begin, end int) *Nest {
	if n.err != nil {
		return n
	}
	if n.nest != nil {
		n.err = fmt.Errorf("%w: dimension %s added after the loop nest was created", loopnest.ErrInput, index)
		return n
	}
	n.ranges = append(n.ranges, loopnest.IndexRange{Index: index, Range: loopnest.NewRange(begin, end)})
	return n
}

// Err returns the first error of any operation so far.
func (n *Nest) Err() error { return n.err }

// LoopNest creates the loop nest if needed and returns it.
func (n *Nest) LoopNest() (*loopnest.LoopNest, error) {
	if n.err != nil {
		return nil, n.err
	}
	if n.nest == nil {
		nest, err := loopnest.New(n.issuer, loopnest.NewIterationDomain(n.ranges...), loopnest.WithName(n.name))
		if err != nil {
			n.err = err
			return nil, err
		}
		n.nest = nest
	}
	return n.nest, nil
}

// DoOption configures a kernel added by Do.
type DoOption func(*doConfig)

type doConfig struct {
	id        string
	outer     []loopnest.Index
	predicate *loopnest.Predicate
	placement *loopnest.Predicate
}

// WithID groups the kernel with others of the same id: they are
// alternatives, the first whose predicate holds runs.
func WithID(id string) DoOption {
	return func(c *doConfig) { c.id = id }
}

// WithOuterIndices runs the kernel in the body of the loops that define
// indices rather than of every dimension.
func WithOuterIndices(indices ...loopnest.Index) DoOption {
	return func(c *doConfig) { c.outer = indices }
}

// WithPredicate runs the kernel only where p holds.
func WithPredicate(p loopnest.Predicate) DoOption {
	return func(c *doConfig) { c.predicate = &p }
}

// WithPlacement places the kernel before or after a loop.
func WithPlacement(p loopnest.Predicate) DoOption {
	return func(c *doConfig) { c.placement = &p }
}

// Do adds a kernel running body over every argument and dimension declared
// so far. Kernels are named kernel_0, kernel_1 and so on; the name is also
// the id unless WithID is given.
func (n *Nest) Do(body loopnest.KernelFunc, opts ...DoOption) *Nest {
	var c doConfig
	for _, opt := range opts {
		opt(&c)
	}
	name := fmt.Sprintf("kernel_%d", n.kernels)
	n.kernels++
	k := loopnest.Kernel{
		ID:      lo.CoalesceOrEmpty(c.id, name),
		Name:    name,
		Args:    lo.Map(n.args, func(a Argument, _ int) loopnest.Value { return a.Value }),
		Indices: lo.Map(n.ranges, func(r loopnest.IndexRange, _ int) loopnest.Index { return r.Index }),
		Body:    body,
	}

	var kopts []loopnest.KernelOption
	switch {
	case c.predicate != nil || c.placement != nil:
		if c.predicate != nil {
			kopts = append(kopts, loopnest.WithPredicate(*c.predicate))
		}
		if c.placement != nil {
			kopts = append(kopts, loopnest.WithPlacement(*c.placement))
		}
	case len(c.outer) > 0:
		kopts = append(kopts, loopnest.WithConstraints(loopnest.CodePositionConstraints{
			Placement:       loopnest.FragmentBody,
			RequiredIndices: c.outer,
		}))
	default:
		kopts = append(kopts, loopnest.WithFragment(loopnest.FragmentBody))
	}
	return n.DoKernel(k, kopts...)
}

// DoKernel adds k as given. Without options k is unconstrained.
func (n *Nest) DoKernel(k loopnest.Kernel, opts ...loopnest.KernelOption) *Nest {
	nest, err := n.LoopNest()
	if err != nil {
		return n
	}
	if err := nest.AddKernel(k, opts...); err != nil {
		n.err = err
	}
	return n
}

// Run generates the nest into ctx.
func (n *Nest) Run(ctx emit.Context, opts ...codegen.Option) error {
	nest, err := n.LoopNest()
	if err != nil {
		return err
	}
	opts = append([]codegen.Option{codegen.WithLogger(n.logger)}, opts...)
	return codegen.New(ctx, opts...).Run(nest)
}

// Print writes the pseudo-code listing of the nest to w.
func (n *Nest) Print(w io.Writer) error {
	nest, err := n.LoopNest()
	if err != nil {
		return err
	}
	return printer.New(w).Print(nest)
}
