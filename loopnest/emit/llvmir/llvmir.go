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

// Package llvmir is an emit.Context that builds LLVM IR with
// github.com/llir/llvm.
//
// A Context builds one void function whose parameters are the kernel
// arguments (as i8* buffers). Loop indices are i64. Kernels become calls to
// external functions taking the arguments followed by the index values.
// Parallel loops are emitted as sequential loops over the worker number,
// bracketed by calls to @loopnest_parallel_begin and @loopnest_parallel_end
// so a runtime can outline them.
package llvmir

import (
	"fmt"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/ajroetker/go-loopnest/loopnest"
	"github.com/ajroetker/go-loopnest/loopnest/emit"
)

const (
	parallelBegin = "loopnest_parallel_begin"
	parallelEnd   = "loopnest_parallel_end"
)

// bufferType is the type of kernel argument parameters.
var bufferType = types.NewPointer(types.I8)

// Reg is an SSA value produced by the builder.
type Reg struct {
	value.Value
}

// String implements loopnest.Scalar.
func (r Reg) String() string { return r.Ident() }

// Context builds a single LLVM function. It is not safe for concurrent use.
type Context struct {
	module *ir.Module
	fn     *ir.Func
	cur    *ir.Block

	params  map[string]*ir.Param
	callees map[string]*ir.Func
	labels  map[string]int
}

var _ emit.Context = (*Context)(nil)

// New returns a Context building function name with one parameter per
// argument.
func New(name string, args []loopnest.Value) *Context {
	c := &Context{
		module:  ir.NewModule(),
		params:  make(map[string]*ir.Param),
		callees: make(map[string]*ir.Func),
		labels:  make(map[string]int),
	}
	params := make([]*ir.Param, 0, len(args))
	for _, a := range args {
		if _, ok := c.params[a.Name()]; ok {
			continue
		}
		p := ir.NewParam(a.Name(), bufferType)
		c.params[a.Name()] = p
		params = append(params, p)
	}
	c.fn = c.module.NewFunc(name, types.Void, params...)
	c.cur = c.fn.NewBlock(c.label("entry"))
	return c
}

// Module returns the module under construction.
func (c *Context) Module() *ir.Module { return c.module }

// Finish terminates the function and returns the module's textual IR.
func (c *Context) Finish() string {
	if c.cur.Term == nil {
		c.cur.NewRet(nil)
	}
	return c.module.String()
}

func (c *Context) label(prefix string) string {
	n := c.labels[prefix]
	c.labels[prefix] = n + 1
	if n == 0 {
		return prefix
	}
	return fmt.Sprintf("%s.%d", prefix, n)
}

func (c *Context) block(prefix string) *ir.Block {
	return c.fn.NewBlock(c.label(prefix))
}

// i64 converts s to an i64 value.
func (c *Context) i64(s loopnest.Scalar) value.Value {
	switch s := s.(type) {
	case loopnest.Const:
		return constant.NewInt(types.I64, int64(s))
	case Reg:
		return s.Value
	}
	panic(fmt.Sprintf("llvmir: unexpected scalar %v (%T)", s, s))
}

// i1 converts s to an i1 value.
func (c *Context) i1(s loopnest.Scalar) value.Value {
	switch s := s.(type) {
	case loopnest.Const:
		return constant.NewBool(s != 0)
	case Reg:
		if s.Type().Equal(types.I1) {
			return s.Value
		}
		return c.cur.NewICmp(enum.IPredNE, s.Value, constant.NewInt(types.I64, 0))
	}
	panic(fmt.Sprintf("llvmir: unexpected scalar %v (%T)", s, s))
}

// Add implements emit.Context.
func (c *Context) Add(a, b loopnest.Scalar) loopnest.Scalar {
	return Reg{c.cur.NewAdd(c.i64(a), c.i64(b))}
}

// Mul implements emit.Context.
func (c *Context) Mul(a, b loopnest.Scalar) loopnest.Scalar {
	return Reg{c.cur.NewMul(c.i64(a), c.i64(b))}
}

// Equal implements emit.Context.
func (c *Context) Equal(a, b loopnest.Scalar) loopnest.Scalar {
	return Reg{c.cur.NewICmp(enum.IPredEQ, c.i64(a), c.i64(b))}
}

// NotEqual implements emit.Context.
func (c *Context) NotEqual(a, b loopnest.Scalar) loopnest.Scalar {
	return Reg{c.cur.NewICmp(enum.IPredNE, c.i64(a), c.i64(b))}
}

// And implements emit.Context.
func (c *Context) And(a, b loopnest.Scalar) loopnest.Scalar {
	return Reg{c.cur.NewAnd(c.i1(a), c.i1(b))}
}

// Or implements emit.Context.
func (c *Context) Or(a, b loopnest.Scalar) loopnest.Scalar {
	return Reg{c.cur.NewOr(c.i1(a), c.i1(b))}
}

// ForRange implements emit.Context:
//
//	header: %i = phi [start, pred], [%i.next, latch]
//	        br (%i < stop), body, exit
//	body:   ...
//	        %i.next = %i + step
//	        br header
func (c *Context) ForRange(name string, start, stop, step int, body func(loopnest.Scalar) error) error {
	if step <= 0 {
		return fmt.Errorf("%w: loop %s has step %d", loopnest.ErrInput, name, step)
	}
	header := c.block(name + ".header")
	loop := c.block(name + ".body")
	exit := c.block(name + ".exit")

	pred := c.cur
	pred.NewBr(header)

	iv := header.NewPhi(ir.NewIncoming(constant.NewInt(types.I64, int64(start)), pred))
	iv.SetName(c.label(name))
	cmp := header.NewICmp(enum.IPredSLT, iv, constant.NewInt(types.I64, int64(stop)))
	header.NewCondBr(cmp, loop, exit)

	c.cur = loop
	if err := body(Reg{iv}); err != nil {
		return err
	}
	next := c.cur.NewAdd(iv, constant.NewInt(types.I64, int64(step)))
	iv.Incs = append(iv.Incs, ir.NewIncoming(next, c.cur))
	c.cur.NewBr(header)

	c.cur = exit
	return nil
}

// Parallelize implements emit.Context.
func (c *Context) Parallelize(name string, count int, captured []loopnest.Value, body func(loopnest.Scalar, []loopnest.Value) error) error {
	begin := c.callee(parallelBegin, types.I64)
	end := c.callee(parallelEnd)
	c.cur.NewCall(begin, constant.NewInt(types.I64, int64(count)))
	err := c.ForRange(name+".worker", 0, count, 1, func(worker loopnest.Scalar) error {
		return body(worker, captured)
	})
	if err != nil {
		return err
	}
	c.cur.NewCall(end)
	return nil
}

// If implements emit.Context.
func (c *Context) If(cond loopnest.Scalar, body func() error) emit.IfContext {
	ic := &ifContext{c: c, end: c.block("if.end")}
	return ic.branch(cond, body)
}

// Call implements emit.Context.
func (c *Context) Call(k loopnest.Kernel, args []loopnest.Value, indices []loopnest.Scalar) error {
	operands := make([]value.Value, 0, len(args)+len(indices))
	params := make([]types.Type, 0, len(args)+len(indices))
	for _, a := range args {
		p, ok := c.params[a.Name()]
		if !ok {
			return fmt.Errorf("%w: kernel %s: argument %s is not a parameter of @%s",
				loopnest.ErrInput, k.DisplayName(), a.Name(), c.fn.Name())
		}
		operands = append(operands, p)
		params = append(params, bufferType)
	}
	for _, s := range indices {
		operands = append(operands, c.i64(s))
		params = append(params, types.I64)
	}
	c.cur.NewCall(c.callee(symbolName(k.DisplayName()), params...), operands...)
	return nil
}

// callee returns the external declaration of name, declaring it on first
// use.
func (c *Context) callee(name string, params ...types.Type) *ir.Func {
	if f, ok := c.callees[name]; ok {
		return f
	}
	ps := make([]*ir.Param, len(params))
	for n, t := range params {
		ps[n] = ir.NewParam("", t)
	}
	f := c.module.NewFunc(name, types.Void, ps...)
	c.callees[name] = f
	return f
}

func symbolName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
}

type ifContext struct {
	c    *Context
	end  *ir.Block
	err  error
	done bool
}

// branch emits "br cond, then, else" and leaves the builder in the else
// block.
func (ic *ifContext) branch(cond loopnest.Scalar, body func() error) *ifContext {
	if ic.err != nil || ic.done {
		return ic
	}
	c := ic.c
	then := c.block("if.then")
	next := c.block("if.else")
	c.cur.NewCondBr(c.i1(cond), then, next)

	c.cur = then
	if err := body(); err != nil {
		ic.err = err
		return ic
	}
	c.cur.NewBr(ic.end)
	c.cur = next
	return ic
}

func (ic *ifContext) ElseIf(cond loopnest.Scalar, body func() error) emit.IfContext {
	return ic.branch(cond, body)
}

func (ic *ifContext) Else(body func() error) error {
	if ic.err != nil || ic.done {
		return ic.err
	}
	if err := body(); err != nil {
		return err
	}
	return ic.End()
}

func (ic *ifContext) End() error {
	if ic.err != nil || ic.done {
		return ic.err
	}
	ic.done = true
	ic.c.cur.NewBr(ic.end)
	ic.c.cur = ic.end
	return nil
}
