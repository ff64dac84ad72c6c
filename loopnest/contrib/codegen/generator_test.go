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

package codegen

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/go-loopnest/loopnest"
	"github.com/ajroetker/go-loopnest/loopnest/contrib/workerpool"
	"github.com/ajroetker/go-loopnest/loopnest/emit"
	"github.com/ajroetker/go-loopnest/loopnest/emit/interp"
)

// sym is a symbolic scalar.
type sym string

func (s sym) String() string { return string(s) }

// recorder is an emit.Context that logs what it is asked to emit. Loop
// bodies are emitted once with the loop name as the index value; parallel
// workers receive "<arg>_local" copies of the captured values.
type recorder struct {
	lines []string
	depth int
}

func (r *recorder) log(format string, args ...any) {
	r.lines = append(r.lines, strings.Repeat("  ", r.depth)+fmt.Sprintf(format, args...))
}

func (r *recorder) Add(a, b loopnest.Scalar) loopnest.Scalar { return sym(fmt.Sprintf("(%v + %v)", a, b)) }
func (r *recorder) Mul(a, b loopnest.Scalar) loopnest.Scalar { return sym(fmt.Sprintf("(%v * %v)", a, b)) }
func (r *recorder) Equal(a, b loopnest.Scalar) loopnest.Scalar {
	return sym(fmt.Sprintf("(%v == %v)", a, b))
}
func (r *recorder) NotEqual(a, b loopnest.Scalar) loopnest.Scalar {
	return sym(fmt.Sprintf("(%v != %v)", a, b))
}
func (r *recorder) And(a, b loopnest.Scalar) loopnest.Scalar {
	return sym(fmt.Sprintf("(%v && %v)", a, b))
}
func (r *recorder) Or(a, b loopnest.Scalar) loopnest.Scalar { return sym(fmt.Sprintf("(%v || %v)", a, b)) }

func (r *recorder) ForRange(name string, start, stop, step int, body func(loopnest.Scalar) error) error {
	r.log("for %s = %d to %d by %d", name, start, stop, step)
	r.depth++
	defer func() { r.depth-- }()
	return body(sym(name))
}

func (r *recorder) Parallelize(name string, count int, captured []loopnest.Value, body func(loopnest.Scalar, []loopnest.Value) error) error {
	r.log("parallel %s x%d", name, count)
	r.depth++
	defer func() { r.depth-- }()
	local := lo.Map(captured, func(v loopnest.Value, _ int) loopnest.Value { return loopnest.Symbol(v.Name() + "_local") })
	return body(sym(name+"_w"), local)
}

func (r *recorder) If(cond loopnest.Scalar, body func() error) emit.IfContext {
	ic := &recordedIf{r: r}
	return ic.branch("if "+cond.String(), body)
}

func (r *recorder) Call(k loopnest.Kernel, args []loopnest.Value, indices []loopnest.Scalar) error {
	names := lo.Map(args, func(v loopnest.Value, _ int) string { return v.Name() })
	values := lo.Map(indices, func(s loopnest.Scalar, _ int) string { return s.String() })
	r.log("%s(%s; %s)", k.DisplayName(), strings.Join(names, ", "), strings.Join(values, ", "))
	return nil
}

type recordedIf struct {
	r   *recorder
	err error
}

func (ic *recordedIf) branch(header string, body func() error) *recordedIf {
	ic.r.log("%s", header)
	ic.r.depth++
	if ic.err == nil {
		ic.err = body()
	}
	ic.r.depth--
	return ic
}

func (ic *recordedIf) ElseIf(cond loopnest.Scalar, body func() error) emit.IfContext {
	return ic.branch("elseif "+cond.String(), body)
}

func (ic *recordedIf) Else(body func() error) error {
	ic.branch("else", body)
	return ic.End()
}

func (ic *recordedIf) End() error {
	ic.r.log("end")
	return ic.err
}

func newNest(t *testing.T, issuer *loopnest.IndexIssuer, dims ...loopnest.IndexRange) *loopnest.LoopNest {
	t.Helper()
	nest, err := loopnest.New(issuer, loopnest.NewIterationDomain(dims...))
	require.NoError(t, err)
	return nest
}

func TestGenerateSplitLoop(t *testing.T) {
	issuer := loopnest.NewIndexIssuer()
	i := issuer.New("i")
	nest := newNest(t, issuer, loopnest.IndexRange{Index: i, Range: loopnest.NewRange(0, 10)})
	_, err := nest.Split(i, 4)
	require.NoError(t, err)
	require.NoError(t, nest.AddKernel(loopnest.NewKernel("K", []loopnest.Value{loopnest.Symbol("A")}, []loopnest.Index{i}, nil)))

	r := &recorder{}
	require.NoError(t, New(r).Run(nest))
	assert.Equal(t, []string{
		"for i_1 = 0 to 8 by 4",
		"  for i_2 = 0 to 4 by 1",
		"    K(A; (i_1 + i_2))",
		"for i_2 = 0 to 2 by 1",
		"  K(A; (8 + i_2))",
	}, r.lines)
}

func TestGenerateUnrolledLoop(t *testing.T) {
	issuer := loopnest.NewIndexIssuer()
	i := issuer.New("i")
	nest := newNest(t, issuer, loopnest.IndexRange{Index: i, Range: loopnest.NewRange(0, 3)})
	require.NoError(t, nest.Unroll(i))
	require.NoError(t, nest.AddKernel(loopnest.NewKernel("K", nil, []loopnest.Index{i}, nil)))

	r := &recorder{}
	require.NoError(t, New(r).Run(nest))
	assert.Equal(t, []string{"K(; 0)", "K(; 1)", "K(; 2)"}, r.lines)
}

func TestGenerateParallelRenames(t *testing.T) {
	issuer := loopnest.NewIndexIssuer()
	i := issuer.New("i")
	nest := newNest(t, issuer, loopnest.IndexRange{Index: i, Range: loopnest.NewRange(0, 8)})
	require.NoError(t, nest.Parallelize(i))
	args := []loopnest.Value{loopnest.Symbol("A"), loopnest.Symbol("B")}
	require.NoError(t, nest.AddKernel(loopnest.NewKernel("K", args, []loopnest.Index{i}, nil)))

	for range 2 {
		r := &recorder{}
		require.NoError(t, New(r).Run(nest))
		assert.Equal(t, []string{
			"parallel i x8",
			"  K(A_local, B_local; i_w)",
		}, r.lines)
	}

	// Worker copies are scoped to the parallel body, not registered on the
	// nest.
	assert.Empty(t, nest.RenameActions())
}

func TestGenerateParallelTrailingPartition(t *testing.T) {
	issuer := loopnest.NewIndexIssuer()
	i := issuer.New("i")
	nest := newNest(t, issuer, loopnest.IndexRange{Index: i, Range: loopnest.NewRange(0, 10)})
	require.NoError(t, nest.Parallelize(i))
	a := []loopnest.Value{loopnest.Symbol("A")}
	require.NoError(t, nest.AddKernel(loopnest.NewKernel("K", a, []loopnest.Index{i}, nil)))
	require.NoError(t, nest.AddKernel(loopnest.NewKernel("L", a, []loopnest.Index{i}, nil), loopnest.WithPredicate(loopnest.Last(i))))

	want := []string{
		"parallel i x9",
		"  K(A_local; i_w)",
		"K(A; 9)",
		"L(A; 9)",
	}
	for range 2 {
		r := &recorder{}
		require.NoError(t, New(r).Run(nest))
		assert.Equal(t, want, r.lines)
	}
	assert.Empty(t, nest.RenameActions())
}

func TestGenerateParallelStep(t *testing.T) {
	issuer := loopnest.NewIndexIssuer()
	i := issuer.New("i")
	nest := newNest(t, issuer, loopnest.IndexRange{Index: i, Range: loopnest.NewRange(0, 16)})
	_, err := nest.ParallelizeBy(i, 4)
	require.NoError(t, err)
	require.NoError(t, nest.AddKernel(loopnest.NewKernel("K", nil, []loopnest.Index{i}, nil)))

	r := &recorder{}
	require.NoError(t, New(r).Run(nest))
	assert.Equal(t, []string{
		"parallel i_1 x4",
		"  for i_2 = 0 to 4 by 1",
		"    K(; ((i_1_w * 4) + i_2))",
	}, r.lines)
}

// cascadeFixture returns a nest over i in [0,10) with three alternatives
// of kernel "k" and a symbol table placing the traversal inside the whole
// i loop.
func cascadeFixture(t *testing.T) (*loopnest.LoopNest, loopnest.ScheduledKernelGroup, loopnest.SymbolTable) {
	t.Helper()
	issuer := loopnest.NewIndexIssuer()
	i := issuer.New("i")
	nest := newNest(t, issuer, loopnest.IndexRange{Index: i, Range: loopnest.NewRange(0, 10)})
	arg := []loopnest.Value{loopnest.Symbol("A")}
	idx := []loopnest.Index{i}
	require.NoError(t, nest.AddKernel(loopnest.Kernel{ID: "k", Name: "k_first", Args: arg, Indices: idx}, loopnest.WithPredicate(loopnest.First(i))))
	require.NoError(t, nest.AddKernel(loopnest.Kernel{ID: "k", Name: "k_last", Args: arg, Indices: idx}, loopnest.WithPredicate(loopnest.Last(i))))
	require.NoError(t, nest.AddKernel(loopnest.Kernel{ID: "k", Name: "k_default", Args: arg, Indices: idx}))

	groups := nest.KernelGroups()
	require.Len(t, groups, 1)
	symbols := loopnest.SymbolTable{
		i: {LoopIndex: i, Value: sym("i"), Range: loopnest.NewRange(0, 10), State: loopnest.InProgress},
	}
	return nest, groups[0], symbols
}

func TestInvokeKernelGroupCascade(t *testing.T) {
	nest, group, symbols := cascadeFixture(t)
	schedule := nest.LoopSchedule()
	valid, err := loopnest.ValidKernels(group, symbols, schedule)
	require.NoError(t, err)
	require.Len(t, valid, 3)

	r := &recorder{}
	invoked, err := New(r).InvokeKernelGroup(group, valid, symbols, schedule)
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, []string{
		"if (i == 0)",
		"  k_first(A; i)",
		"elseif (i == 9)",
		"  k_last(A; i)",
		"else",
		"  k_default(A; i)",
		"end",
	}, r.lines)

	t.Run("always true member ends the cascade", func(t *testing.T) {
		r := &recorder{}
		_, err := New(r).InvokeKernelGroup(group, []loopnest.ScheduledKernel{valid[2], valid[0]}, symbols, schedule)
		require.NoError(t, err)
		assert.Equal(t, []string{"k_default(A; i)"}, r.lines)
	})

	t.Run("constant conditions fold", func(t *testing.T) {
		folded := loopnest.SymbolTable{}
		for k, e := range symbols {
			e.Value = loopnest.Const(9)
			folded[k] = e
		}
		r := &recorder{}
		_, err := New(r).InvokeKernelGroup(group, valid, folded, schedule)
		require.NoError(t, err)
		assert.Equal(t, []string{"k_last(A; 9)"}, r.lines)
	})

	t.Run("nothing valid", func(t *testing.T) {
		invoked, err := New(&recorder{}).InvokeKernelGroup(group, nil, symbols, schedule)
		require.NoError(t, err)
		assert.False(t, invoked)
	})
}

func TestInvokeKernelErrors(t *testing.T) {
	nest, group, symbols := cascadeFixture(t)
	schedule := nest.LoopSchedule()
	i := nest.Domain().DimensionIndex(0)

	t.Run("always false member", func(t *testing.T) {
		k := group.Kernels[0]
		k.Predicate = loopnest.False()
		_, err := New(&recorder{}).InvokeKernelGroup(group, []loopnest.ScheduledKernel{k}, symbols, schedule)
		assert.True(t, errors.Is(err, loopnest.ErrLogic), "got %v", err)
	})

	t.Run("IsDefined condition", func(t *testing.T) {
		err := New(&recorder{}).InvokeKernel(group.Kernels[2], loopnest.IsDefined(i), symbols, schedule)
		assert.True(t, errors.Is(err, loopnest.ErrLogic), "got %v", err)
	})

	t.Run("index without value", func(t *testing.T) {
		err := New(&recorder{}).InvokeKernel(group.Kernels[2], loopnest.True(), loopnest.SymbolTable{}, schedule)
		assert.True(t, errors.Is(err, loopnest.ErrLogic), "got %v", err)
	})

	t.Run("guarded call", func(t *testing.T) {
		r := &recorder{}
		require.NoError(t, New(r).InvokeKernel(group.Kernels[2], loopnest.Or(loopnest.First(i), loopnest.Last(i)), symbols, schedule))
		assert.Equal(t, []string{"if ((i == 0) || (i == 9))", "  k_default(A; i)", "end"}, r.lines)
	})
}

func TestEmitIndexExpression(t *testing.T) {
	issuer := loopnest.NewIndexIssuer()
	i, j := issuer.New("i"), issuer.New("j")
	expr := loopnest.IndexExpression{
		Indices: []loopnest.ScaledIndex{{Index: i, Scale: 4}, {Index: j, Scale: 1}},
		Begin:   2,
	}
	g := New(&recorder{})

	got := g.EmitIndexExpression(i, expr, loopnest.SymbolTable{
		i: {Value: loopnest.Const(3)},
		j: {Value: loopnest.Const(1)},
	})
	assert.Equal(t, loopnest.Const(15), got)

	got = g.EmitIndexExpression(i, expr, loopnest.SymbolTable{i: {Value: sym("i")}})
	assert.Equal(t, sym("(2 + (i * 4))"), got)
}

// TestRunMatMul runs C = A x B through a tiled, parallel, unrolled
// schedule and checks the result.
func TestRunMatMul(t *testing.T) {
	const m, n, p = 5, 7, 3
	a := make([]int, m*p)
	b := make([]int, p*n)
	for x := range a {
		a[x] = x%7 - 3
	}
	for x := range b {
		b[x] = x%5 + 1
	}
	c := make([]int, m*n)

	issuer := loopnest.NewIndexIssuer()
	i, j, k := issuer.New("i"), issuer.New("j"), issuer.New("k")
	nest := newNest(t, issuer,
		loopnest.IndexRange{Index: i, Range: loopnest.NewRange(0, m)},
		loopnest.IndexRange{Index: j, Range: loopnest.NewRange(0, n)},
		loopnest.IndexRange{Index: k, Range: loopnest.NewRange(0, p)},
	)
	_, err := nest.Split(j, 4)
	require.NoError(t, err)
	require.NoError(t, nest.Parallelize(i))
	require.NoError(t, nest.Unroll(k))

	val := func(s loopnest.Scalar) int { v, _ := emit.ConstValue(s); return v }
	args := []loopnest.Value{loopnest.Symbol("A"), loopnest.Symbol("B"), loopnest.Symbol("C")}
	initC := loopnest.NewKernel("init", args[2:], []loopnest.Index{i, j}, func(_ []loopnest.Value, idx []loopnest.Scalar) {
		c[val(idx[0])*n+val(idx[1])] = 0
	})
	accumulate := loopnest.NewKernel("accumulate", args, []loopnest.Index{i, j, k}, func(_ []loopnest.Value, idx []loopnest.Scalar) {
		x, y, z := val(idx[0]), val(idx[1]), val(idx[2])
		c[x*n+y] += a[x*p+z] * b[z*n+y]
	})
	require.NoError(t, nest.AddKernel(initC, loopnest.WithPredicate(loopnest.First(k))))
	require.NoError(t, nest.AddKernel(accumulate))

	pool := workerpool.New(3)
	defer pool.Close()
	ctx := interp.New(interp.WithPool(pool))
	require.NoError(t, New(ctx).Run(nest))

	for x := range m {
		for y := range n {
			want := 0
			for z := range p {
				want += a[x*p+z] * b[z*n+y]
			}
			assert.Equal(t, want, c[x*n+y], "C[%d][%d]", x, y)
		}
	}
	assert.Equal(t, int64(m*n+m*n*p), ctx.Calls())
}

func TestRunParallelBoundarySplit(t *testing.T) {
	issuer := loopnest.NewIndexIssuer()
	i := issuer.New("i")
	nest := newNest(t, issuer, loopnest.IndexRange{Index: i, Range: loopnest.NewRange(0, 10)})
	_, err := nest.ParallelizeBy(i, 4)
	require.NoError(t, err)

	var counts [10]atomic.Int32
	require.NoError(t, nest.AddKernel(loopnest.NewKernel("count", nil, []loopnest.Index{i}, func(_ []loopnest.Value, idx []loopnest.Scalar) {
		v, _ := emit.ConstValue(idx[0])
		counts[v].Add(1)
	})))

	pool := workerpool.New(4)
	defer pool.Close()
	require.NoError(t, New(interp.New(interp.WithPool(pool))).Run(nest))
	for v := range counts {
		assert.Equal(t, int32(1), counts[v].Load(), "element %d", v)
	}
}

func TestRunFused(t *testing.T) {
	issuer := loopnest.NewIndexIssuer()
	i, j := issuer.New("i"), issuer.New("j")
	rangeI := loopnest.IndexRange{Index: i, Range: loopnest.NewRange(0, 3)}
	rangeJ := loopnest.IndexRange{Index: j, Range: loopnest.NewRange(0, 2)}

	var calls []string
	record := func(name string) loopnest.KernelFunc {
		return func(_ []loopnest.Value, idx []loopnest.Scalar) {
			calls = append(calls, name+fmt.Sprint(lo.Map(idx, func(s loopnest.Scalar, _ int) string { return s.String() })))
		}
	}
	nest1 := newNest(t, issuer, rangeI)
	require.NoError(t, nest1.AddKernel(loopnest.NewKernel("K1", nil, []loopnest.Index{i}, record("K1"))))
	nest2 := newNest(t, issuer, rangeI, rangeJ)
	require.NoError(t, nest2.AddKernel(loopnest.NewKernel("K2", nil, []loopnest.Index{i, j}, record("K2"))))

	fused, err := loopnest.Fuse(nest1, nest2, nil, nil)
	require.NoError(t, err)
	require.NoError(t, New(interp.New()).Run(fused))
	assert.Equal(t, []string{
		"K1[0]", "K2[0 0]", "K2[0 1]",
		"K1[1]", "K2[1 0]", "K2[1 1]",
		"K1[2]", "K2[2 0]", "K2[2 1]",
	}, calls)
}
