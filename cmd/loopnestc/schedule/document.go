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

// Package schedule reads loop nest schedules from YAML documents:
//
//	name: tiled
//	domain: [{index: i, begin: 0, end: 10}, {index: j, begin: 0, end: 8}]
//	splits: [{index: i, size: 4}, {index: j, size: vector}]
//	order: [i, j, i, j]
//	parallel: [i_1]
//	kernels:
//	  - {id: init, indices: [i, j], args: [C], predicate: "first(j)"}
//	  - {id: body, indices: [i, j], args: [A, C]}
//
// Splits apply in order; "vector" sizes resolve through a target. Order,
// parallel, unroll and predicate entries name indices: a dimension, or a
// split index by its generated name ("i_1"). In order, a repeated
// dimension name stands for its next loop.
package schedule

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/ajroetker/go-loopnest/loopnest"
	"github.com/ajroetker/go-loopnest/loopnest/contrib/target"
	"github.com/ajroetker/go-loopnest/loopnest/nest"
)

// Document is a schedule file.
type Document struct {
	Name string `yaml:"name"`

	// ElementSize is the size in bytes of the elements the kernels work
	// on, used to resolve vector split sizes. Defaults to 4.
	ElementSize int `yaml:"element_size,omitempty"`

	Domain   []Dimension `yaml:"domain"`
	Splits   []Split     `yaml:"splits,omitempty"`
	Order    []string    `yaml:"order,omitempty"`
	Parallel []string    `yaml:"parallel,omitempty"`
	Unroll   []string    `yaml:"unroll,omitempty"`
	Kernels  []Kernel    `yaml:"kernels"`
	Renames  []Rename    `yaml:"renames,omitempty"`
}

// Dimension is one dimension of the iteration domain, [Begin, End).
type Dimension struct {
	Index string `yaml:"index"`
	Begin int    `yaml:"begin"`
	End   int    `yaml:"end"`
}

// Split splits an index (its right-most loop, for a dimension) by Size: a
// number, "vector" or "vector*N".
type Split struct {
	Index string `yaml:"index"`
	Size  string `yaml:"size"`
}

// Kernel schedules one kernel. Kernels sharing an ID are alternatives.
//
// Placement may be given with Predicate and Placement expressions, or with
// Fragment (prologue, body, boundary, epilogue) plus optional Required and
// Boundary index lists.
type Kernel struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name,omitempty"`
	Indices   []string `yaml:"indices,omitempty"`
	Args      []string `yaml:"args,omitempty"`
	Predicate string   `yaml:"predicate,omitempty"`
	Placement string   `yaml:"placement,omitempty"`
	Fragment  string   `yaml:"fragment,omitempty"`
	Required  []string `yaml:"required,omitempty"`
	Boundary  []string `yaml:"boundary,omitempty"`
}

// Rename substitutes New for Old in kernel arguments once all of Where
// are defined.
type Rename struct {
	Old      string   `yaml:"old"`
	New      string   `yaml:"new"`
	Where    []string `yaml:"where,omitempty"`
	Excluded []string `yaml:"excluded,omitempty"`
}

// Parse decodes the documents in r. A file may hold several documents
// separated by "---".
func Parse(r io.Reader) ([]Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var docs []Document
	for {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("schedule: %w", err)
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, errors.New("schedule: no documents")
	}
	return docs, nil
}

// Load parses the schedule file at path.
func Load(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	docs, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return docs, nil
}

// Marshal encodes doc as YAML.
func (doc Document) Marshal() ([]byte, error) {
	return yaml.Marshal(doc)
}

// Schedule is a document turned into a loop nest.
type Schedule struct {
	Nest *loopnest.LoopNest

	// Args are the distinct kernel arguments, in order of appearance.
	Args []loopnest.Value
}

// Build creates the loop nest described by doc through the nest builder.
// Kernels get body, which may be nil for code generation.
func (doc Document) Build(t target.Target, body func(k loopnest.Kernel) loopnest.KernelFunc) (*Schedule, error) {
	issuer := loopnest.NewIndexIssuer()
	n := nest.New(issuer, nest.WithName(doc.Name))
	for _, d := range doc.Domain {
		n.ForAll(issuer.New(d.Index), d.Begin, d.End)
	}
	ln, err := n.LoopNest()
	if err != nil {
		return nil, doc.errorf("%w", err)
	}
	b := &builder{doc: doc, nest: ln}
	s := n.Schedule()

	elemSize := doc.ElementSize
	if elemSize == 0 {
		elemSize = 4
	}
	for _, sp := range doc.Splits {
		index, err := b.index(sp.Index)
		if err != nil {
			return nil, err
		}
		size, err := t.ResolveSize(sp.Size, elemSize)
		if err != nil {
			return nil, doc.errorf("split %s: %w", sp.Index, err)
		}
		if _, err := s.Split(index, size); err != nil {
			return nil, doc.errorf("split %s: %w", sp.Index, err)
		}
	}

	if len(doc.Order) > 0 {
		order, err := b.indices(doc.Order)
		if err != nil {
			return nil, err
		}
		if err := s.SetOrder(order...); err != nil {
			return nil, doc.errorf("%w", err)
		}
	}
	for _, name := range doc.Parallel {
		index, err := b.index(name)
		if err != nil {
			return nil, err
		}
		if err := s.Parallelize(index); err != nil {
			return nil, doc.errorf("%w", err)
		}
	}
	for _, name := range doc.Unroll {
		index, err := b.index(name)
		if err != nil {
			return nil, err
		}
		if err := s.Unroll(index); err != nil {
			return nil, doc.errorf("%w", err)
		}
	}

	sched := &Schedule{Nest: ln}
	for _, k := range doc.Kernels {
		kernel, opts, err := b.kernel(k)
		if err != nil {
			return nil, err
		}
		if body != nil {
			kernel.Body = body(kernel)
		}
		if err := n.DoKernel(kernel, opts...).Err(); err != nil {
			return nil, doc.errorf("%w", err)
		}
		for _, a := range kernel.Args {
			if !lo.ContainsBy(sched.Args, a.Equal) {
				sched.Args = append(sched.Args, a)
			}
		}
	}

	for _, r := range doc.Renames {
		where, err := b.indices(r.Where)
		if err != nil {
			return nil, err
		}
		if err := s.Rename(loopnest.Symbol(r.Old), loopnest.Symbol(r.New), where, r.Excluded...); err != nil {
			return nil, doc.errorf("%w", err)
		}
	}
	return sched, nil
}

func (doc Document) errorf(format string, args ...any) error {
	return fmt.Errorf("schedule %s: %w", doc.Name, fmt.Errorf(format, args...))
}

type builder struct {
	doc  Document
	nest *loopnest.LoopNest
}

func (b *builder) lookup(name string) (loopnest.Index, bool) {
	return lo.Find(b.nest.Domain().AllIndices(), func(i loopnest.Index) bool { return i.Name() == name })
}

func (b *builder) index(name string) (loopnest.Index, error) {
	index, ok := b.lookup(name)
	if !ok {
		return loopnest.Index{}, b.doc.errorf("%w: unknown index %q", loopnest.ErrInput, name)
	}
	return index, nil
}

func (b *builder) indices(names []string) ([]loopnest.Index, error) {
	result := make([]loopnest.Index, len(names))
	for n, name := range names {
		index, err := b.index(name)
		if err != nil {
			return nil, err
		}
		result[n] = index
	}
	return result, nil
}

func (b *builder) kernel(k Kernel) (loopnest.Kernel, []loopnest.KernelOption, error) {
	indices, err := b.indices(k.Indices)
	if err != nil {
		return loopnest.Kernel{}, nil, err
	}
	kernel := loopnest.Kernel{
		ID:      k.ID,
		Name:    k.Name,
		Args:    lo.Map(k.Args, func(a string, _ int) loopnest.Value { return loopnest.Symbol(a) }),
		Indices: indices,
	}

	var opts []loopnest.KernelOption
	if k.Fragment != "" {
		ft, ok := lo.Find([]loopnest.FragmentType{
			loopnest.FragmentPrologue, loopnest.FragmentBody, loopnest.FragmentBoundary, loopnest.FragmentEpilogue,
		}, func(ft loopnest.FragmentType) bool { return ft.String() == k.Fragment })
		if !ok {
			return loopnest.Kernel{}, nil, b.doc.errorf("%w: kernel %s: unknown fragment %q", loopnest.ErrInput, k.ID, k.Fragment)
		}
		required := indices
		if len(k.Required) > 0 {
			if required, err = b.indices(k.Required); err != nil {
				return loopnest.Kernel{}, nil, err
			}
		}
		boundary, err := b.indices(k.Boundary)
		if err != nil {
			return loopnest.Kernel{}, nil, err
		}
		opts = append(opts, loopnest.WithConstraints(loopnest.CodePositionConstraints{
			Placement:       ft,
			RequiredIndices: required,
			BoundaryIndices: boundary,
		}))
	}
	if k.Predicate != "" {
		p, err := ParsePredicate(k.Predicate, b.lookup)
		if err != nil {
			return loopnest.Kernel{}, nil, b.doc.errorf("kernel %s: %w", k.ID, err)
		}
		opts = append(opts, loopnest.WithPredicate(p))
	}
	if k.Placement != "" {
		p, err := ParsePredicate(k.Placement, b.lookup)
		if err != nil {
			return loopnest.Kernel{}, nil, b.doc.errorf("kernel %s: %w", k.ID, err)
		}
		opts = append(opts, loopnest.WithPlacement(p))
	}
	return kernel, opts, nil
}
