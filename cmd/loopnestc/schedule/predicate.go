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

package schedule

import (
	"fmt"
	"strings"
	"text/scanner"

	"github.com/ajroetker/go-loopnest/loopnest"
)

// ParsePredicate parses a predicate written the way Predicate.String
// prints it:
//
//	first(i) && (last(j_1) || endBoundary(j_1))
//	before(k)  after()  IsDefined(i)  all(i)  true  false  {}
//
// Index names are resolved with lookup.
func ParsePredicate(src string, lookup func(name string) (loopnest.Index, bool)) (loopnest.Predicate, error) {
	p := &parser{lookup: lookup, src: src}
	p.s.Init(strings.NewReader(src))
	p.s.Mode = scanner.ScanIdents
	p.s.Whitespace = 1<<' ' | 1<<'\t' | 1<<'\n' | 1<<'\r'
	p.s.Error = func(_ *scanner.Scanner, msg string) { p.fail("%s", msg) }
	p.next()

	pred := p.parseOr()
	if p.err == nil && p.tok != scanner.EOF {
		p.fail("unexpected %q", p.s.TokenText())
	}
	if p.err != nil {
		return loopnest.Predicate{}, p.err
	}
	return pred, nil
}

type parser struct {
	s      scanner.Scanner
	tok    rune
	src    string
	lookup func(string) (loopnest.Index, bool)
	err    error
}

func (p *parser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf("predicate %q: %s at column %d", p.src, fmt.Sprintf(format, args...), p.s.Position.Column)
	}
}

func (p *parser) next() { p.tok = p.s.Scan() }

func (p *parser) expect(tok rune) {
	if p.tok != tok {
		p.fail("expected %q", string(tok))
		return
	}
	p.next()
}

// parseOr parses a && chain joined by "||".
func (p *parser) parseOr() loopnest.Predicate {
	terms := []loopnest.Predicate{p.parseAnd()}
	for p.err == nil && p.tok == '|' {
		p.next()
		p.expect('|')
		terms = append(terms, p.parseAnd())
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return loopnest.Or(terms...)
}

func (p *parser) parseAnd() loopnest.Predicate {
	terms := []loopnest.Predicate{p.parseTerm()}
	for p.err == nil && p.tok == '&' {
		p.next()
		p.expect('&')
		terms = append(terms, p.parseTerm())
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return loopnest.And(terms...)
}

func (p *parser) parseTerm() loopnest.Predicate {
	if p.err != nil {
		return loopnest.Predicate{}
	}
	switch p.tok {
	case '(':
		p.next()
		pred := p.parseOr()
		p.expect(')')
		return pred
	case '{':
		p.next()
		p.expect('}')
		return loopnest.Empty()
	case scanner.Ident:
	default:
		p.fail("unexpected %q", p.s.TokenText())
		return loopnest.Predicate{}
	}

	name := p.s.TokenText()
	p.next()
	switch name {
	case "true":
		return loopnest.True()
	case "false":
		return loopnest.False()
	}

	p.expect('(')
	var (
		index    loopnest.Index
		hasIndex bool
	)
	if p.tok == scanner.Ident {
		indexName := p.s.TokenText()
		var ok bool
		if index, ok = p.lookup(indexName); !ok {
			p.fail("unknown index %s", indexName)
			return loopnest.Predicate{}
		}
		hasIndex = true
		p.next()
	}
	p.expect(')')
	if p.err != nil {
		return loopnest.Predicate{}
	}

	switch name {
	case "before", "after":
		if !hasIndex {
			if name == "before" {
				return loopnest.BeforeNext()
			}
			return loopnest.AfterNext()
		}
		if name == "before" {
			return loopnest.Before(index)
		}
		return loopnest.After(index)
	}
	if !hasIndex {
		p.fail("%s needs an index", name)
		return loopnest.Predicate{}
	}
	switch name {
	case "first":
		return loopnest.First(index)
	case "last":
		return loopnest.Last(index)
	case "endBoundary":
		return loopnest.EndBoundary(index)
	case "all":
		return loopnest.All(index)
	case "IsDefined":
		return loopnest.IsDefined(index)
	}
	p.fail("unknown predicate %s", name)
	return loopnest.Predicate{}
}
