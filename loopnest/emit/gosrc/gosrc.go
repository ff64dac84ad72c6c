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

// Package gosrc is an emit.Context that writes a Go function.
//
// The generated function takes a *workerpool.Pool followed by one parameter
// per kernel argument. Kernels become calls to functions of the same name,
// which the surrounding package must provide, with the arguments followed
// by the int index values. Parallel loops are dispatched with
// Pool.ParallelFor.
package gosrc

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/tools/imports"

	"github.com/ajroetker/go-loopnest/loopnest"
	"github.com/ajroetker/go-loopnest/loopnest/emit"
)

const workerpoolImport = "github.com/ajroetker/go-loopnest/loopnest/contrib/workerpool"

// Expr is a Go expression.
type Expr string

// String implements loopnest.Scalar.
func (e Expr) String() string { return string(e) }

// Context writes the body of one Go function. It is not safe for
// concurrent use.
type Context struct {
	pkg       string
	name      string
	paramType string
	params    []string

	buf    bytes.Buffer
	indent int
}

var _ emit.Context = (*Context)(nil)

// Option configures a Context.
type Option func(*Context)

// WithParamType sets the Go type of every kernel argument parameter.
// Defaults to []float32.
func WithParamType(t string) Option {
	return func(c *Context) {
		if t != "" {
			c.paramType = t
		}
	}
}

// New returns a Context writing function name of package pkg, with one
// parameter per argument.
func New(pkg, name string, args []loopnest.Value, opts ...Option) *Context {
	c := &Context{
		pkg:       pkg,
		name:      name,
		paramType: "[]float32",
		indent:    1,
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, a := range args {
		id := identifier(a.Name())
		if !slices.Contains(c.params, id) {
			c.params = append(c.params, id)
		}
	}
	return c
}

// Source returns the generated file, formatted.
func (c *Context) Source() ([]byte, error) {
	var out bytes.Buffer
	fmt.Fprintf(&out, "// Code generated by loopnestc. DO NOT EDIT.\n\n")
	fmt.Fprintf(&out, "package %s\n\n", c.pkg)
	fmt.Fprintf(&out, "import %q\n\n", workerpoolImport)
	params := []string{"pool *workerpool.Pool"}
	if len(c.params) > 0 {
		params = append(params, strings.Join(c.params, ", ")+" "+c.paramType)
	}
	fmt.Fprintf(&out, "func %s(%s) {\n", c.name, strings.Join(params, ", "))
	out.Write(c.buf.Bytes())
	fmt.Fprintf(&out, "}\n")

	formatted, err := imports.Process(c.name+".go", out.Bytes(), &imports.Options{
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
		FormatOnly: true,
	})
	if err != nil {
		return out.Bytes(), fmt.Errorf("gosrc: formatting %s: %w", c.name, err)
	}
	return formatted, nil
}

func (c *Context) line(format string, args ...any) {
	c.buf.WriteString(strings.Repeat("\t", c.indent))
	fmt.Fprintf(&c.buf, format, args...)
	c.buf.WriteByte('\n')
}

func identifier(name string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
	if id == "" || (id[0] >= '0' && id[0] <= '9') {
		id = "_" + id
	}
	return id
}

func binary(a loopnest.Scalar, op string, b loopnest.Scalar) loopnest.Scalar {
	return Expr("(" + a.String() + " " + op + " " + b.String() + ")")
}

// cond renders s as a Go boolean expression. Constants are ints.
func cond(s loopnest.Scalar) string {
	if v, ok := emit.ConstValue(s); ok {
		if v != 0 {
			return "true"
		}
		return "false"
	}
	return s.String()
}

// Add implements emit.Context.
func (c *Context) Add(a, b loopnest.Scalar) loopnest.Scalar { return binary(a, "+", b) }

// Mul implements emit.Context.
func (c *Context) Mul(a, b loopnest.Scalar) loopnest.Scalar { return binary(a, "*", b) }

// Equal implements emit.Context.
func (c *Context) Equal(a, b loopnest.Scalar) loopnest.Scalar { return binary(a, "==", b) }

// NotEqual implements emit.Context.
func (c *Context) NotEqual(a, b loopnest.Scalar) loopnest.Scalar { return binary(a, "!=", b) }

// And implements emit.Context.
func (c *Context) And(a, b loopnest.Scalar) loopnest.Scalar {
	return Expr("(" + cond(a) + " && " + cond(b) + ")")
}

// Or implements emit.Context.
func (c *Context) Or(a, b loopnest.Scalar) loopnest.Scalar {
	return Expr("(" + cond(a) + " || " + cond(b) + ")")
}

// ForRange implements emit.Context.
func (c *Context) ForRange(name string, start, stop, step int, body func(loopnest.Scalar) error) error {
	if step <= 0 {
		return fmt.Errorf("%w: loop %s has step %d", loopnest.ErrInput, name, step)
	}
	v := identifier(name)
	if step == 1 {
		c.line("for %s := %d; %s < %d; %s++ {", v, start, v, stop, v)
	} else {
		c.line("for %s := %d; %s < %d; %s += %d {", v, start, v, stop, v, step)
	}
	c.indent++
	err := body(Expr(v))
	c.indent--
	c.line("}")
	return err
}

// Parallelize implements emit.Context.
func (c *Context) Parallelize(name string, count int, captured []loopnest.Value, body func(loopnest.Scalar, []loopnest.Value) error) error {
	start, end := identifier(name+"_start"), identifier(name+"_end")
	w := identifier(name + "_w")
	c.line("pool.ParallelFor(%d, func(%s, %s int) {", count, start, end)
	c.indent++
	c.line("for %s := %s; %s < %s; %s++ {", w, start, w, end, w)
	c.indent++
	err := body(Expr(w), captured)
	c.indent--
	c.line("}")
	c.indent--
	c.line("})")
	return err
}

// If implements emit.Context.
func (c *Context) If(cond loopnest.Scalar, body func() error) emit.IfContext {
	ic := &ifContext{c: c}
	return ic.branch("if", cond, body)
}

// Call implements emit.Context.
func (c *Context) Call(k loopnest.Kernel, args []loopnest.Value, indices []loopnest.Scalar) error {
	operands := make([]string, 0, len(args)+len(indices))
	for _, a := range args {
		id := identifier(a.Name())
		if !slices.Contains(c.params, id) {
			return fmt.Errorf("%w: kernel %s: argument %s is not a parameter of %s", loopnest.ErrInput, k.DisplayName(), a.Name(), c.name)
		}
		operands = append(operands, id)
	}
	for _, s := range indices {
		operands = append(operands, s.String())
	}
	c.line("%s(%s)", identifier(k.DisplayName()), strings.Join(operands, ", "))
	return nil
}

type ifContext struct {
	c      *Context
	opened bool
	closed bool
	err    error
}

func (ic *ifContext) branch(keyword string, s loopnest.Scalar, body func() error) *ifContext {
	if ic.err != nil || ic.closed {
		return ic
	}
	c := ic.c
	if ic.opened {
		c.indent--
		c.line("} %s %s {", keyword, cond(s))
	} else {
		c.line("%s %s {", keyword, cond(s))
	}
	ic.opened = true
	c.indent++
	ic.err = body()
	return ic
}

func (ic *ifContext) ElseIf(cond loopnest.Scalar, body func() error) emit.IfContext {
	return ic.branch("else if", cond, body)
}

func (ic *ifContext) Else(body func() error) error {
	if ic.err != nil || ic.closed {
		return ic.err
	}
	c := ic.c
	c.indent--
	c.line("} else {")
	c.indent++
	if err := body(); err != nil {
		ic.err = err
	}
	return ic.End()
}

func (ic *ifContext) End() error {
	if ic.closed {
		return ic.err
	}
	ic.closed = true
	ic.c.indent--
	ic.c.line("}")
	return ic.err
}
