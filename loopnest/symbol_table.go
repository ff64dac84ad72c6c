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
	"maps"
	"slices"
	"strings"
)

// IndexState tracks a loop index during traversal.
type IndexState int

const (
	NotVisited IndexState = iota
	InProgress
	Done
)

// String implements fmt.Stringer.
func (s IndexState) String() string {
	switch s {
	case NotVisited:
		return "notVisited"
	case InProgress:
		return "inProgress"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("IndexState(%d)", int(s))
	}
}

// SymbolEntry is what the traversal knows about one index.
type SymbolEntry struct {
	// LoopIndex is the loop that defined the entry. For a computed index
	// it is the loop at which its expression was emitted.
	LoopIndex Index

	// Value is the backend handle for the index's current value.
	Value Scalar

	// Range is the active range of a loop index: the partition being
	// generated while InProgress, the full loop range once Done. Computed
	// indices have a zero Range.
	Range Range

	State IndexState

	// Renames are scoped to the current iteration of a loop index while it
	// is InProgress.
	Renames []RenameAction
}

// SymbolTable maps indices to what the traversal knows about them. Each
// partition works on its own copy.
type SymbolTable map[Index]SymbolEntry

// Lookup returns the entry for index.
func (t SymbolTable) Lookup(index Index) (SymbolEntry, bool) {
	e, ok := t[index]
	return e, ok
}

// State returns the state of index, NotVisited if absent.
func (t SymbolTable) State(index Index) IndexState {
	if e, ok := t[index]; ok {
		return e.State
	}
	return NotVisited
}

// Clone returns a shallow copy; entries are values.
func (t SymbolTable) Clone() SymbolTable {
	if t == nil {
		return SymbolTable{}
	}
	return maps.Clone(t)
}

// String lists the entries ordered by index id.
func (t SymbolTable) String() string {
	keys := slices.SortedFunc(maps.Keys(t), Index.Compare)
	var sb strings.Builder
	for n, k := range keys {
		if n > 0 {
			sb.WriteString(", ")
		}
		e := t[k]
		fmt.Fprintf(&sb, "%s=%v %v %s", k, e.Value, e.Range, e.State)
	}
	return sb.String()
}
