// Copyright 2024 The Cockroach Authors
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

package tiered

import (
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"
)

type slotKind uint8

const (
	slotEmpty slotKind = iota
	slotLeaf
	slotNode
)

// trieSlot holds nothing, a single entry (key, value), or the handle of a
// nested node, depending on kind.
type trieSlot[V any] struct {
	kind  slotKind
	key   string
	value V
	node  int
}

type trieNode[V any] struct {
	// level is the distance from the root and the key byte this node
	// indexes by.
	level int
	// count is the number of entries held directly in slots. Entries of
	// nested nodes are not included.
	count int
	slots []trieSlot[V]
}

// rootNode is the handle of the root node. It is never freed.
const rootNode = 0

// Trie is an unbounded-depth table from string keys to values. A node at
// level L places a key in the slot chosen by the key's byte at position L;
// keys shorter than L+1 bytes go to the node's last slot. When two keys land
// in the same slot the slot is replaced by a node one level deeper holding
// both, and a nested node is collapsed back into a plain entry as soon as it
// holds a single entry and no nested nodes. The depth of the trie is thus the
// minimum needed to tell the current keys apart.
//
// Nodes live in an arena and refer to their children by index, so the
// structure contains no pointers between nodes. Freed nodes are recycled.
//
// A Trie is NOT goroutine-safe.
type Trie[V any] struct {
	config
	nodes []trieNode[V]
	// free holds the handles of released nodes available for reuse.
	free []int
}

// trieStep is one slot on the path from the root to a key.
type trieStep struct {
	node int
	pos  int
}

// NewTrie constructs an empty Trie. WithWidth and WithLogger apply; other
// options are ignored.
func NewTrie[V any](options ...option) *Trie[V] {
	t := &Trie[V]{config: makeConfig(options)}
	t.nodes = []trieNode[V]{{slots: make([]trieSlot[V], t.width)}}
	return t
}

// slotIndex returns the slot for key in a node at level.
func (t *Trie[V]) slotIndex(key string, level int) int {
	if level < len(key) {
		return int(key[level]) % (t.width - 1)
	}
	return t.width - 1
}

// separable reports whether keys a and b land in different slots at some
// level at or below level.
func (t *Trie[V]) separable(a, b string, level int) bool {
	for n := max(len(a), len(b)); level < n; level++ {
		if t.slotIndex(a, level) != t.slotIndex(b, level) {
			return true
		}
	}
	return false
}

func (t *Trie[V]) newNode(level int) int {
	if n := len(t.free); n > 0 {
		h := t.free[n-1]
		t.free = t.free[:n-1]
		t.nodes[h].level = level
		return h
	}
	t.nodes = append(t.nodes, trieNode[V]{level: level, slots: make([]trieSlot[V], t.width)})
	return len(t.nodes) - 1
}

func (t *Trie[V]) freeNode(h int) {
	n := &t.nodes[h]
	clear(n.slots)
	n.count = 0
	t.free = append(t.free, h)
}

// lookup returns the slot holding key, or nil.
func (t *Trie[V]) lookup(key string) *trieSlot[V] {
	n := rootNode
	for {
		s := &t.nodes[n].slots[t.slotIndex(key, t.nodes[n].level)]
		switch s.kind {
		case slotNode:
			n = s.node
			continue
		case slotLeaf:
			if s.key == key {
				return s
			}
		}
		return nil
	}
}

// find returns the slots visited from the root toward key. The last step is
// the slot where key is stored, or would be stored.
func (t *Trie[V]) find(key string) []trieStep {
	var path []trieStep
	n := rootNode
	for {
		pos := t.slotIndex(key, t.nodes[n].level)
		path = append(path, trieStep{node: n, pos: pos})
		s := &t.nodes[n].slots[pos]
		if s.kind != slotNode {
			return path
		}
		n = s.node
	}
}

// Put inserts an entry into the trie, overwriting an existing value if an
// entry with the same key already exists. It returns ErrFull, leaving the
// trie unchanged, if key shares a slot with an existing key at every level.
func (t *Trie[V]) Put(key string, value V) error {
	n := rootNode
	for {
		level := t.nodes[n].level
		pos := t.slotIndex(key, level)
		s := &t.nodes[n].slots[pos]
		switch s.kind {
		case slotEmpty:
			*s = trieSlot[V]{kind: slotLeaf, key: key, value: value}
			t.nodes[n].count++
			t.checkInvariants()
			return nil

		case slotLeaf:
			if s.key == key {
				s.value = value
				return nil
			}
			if !t.separable(s.key, key, level+1) {
				t.logger.Debug("trie keys inseparable", zap.String("key", key), zap.String("other", s.key))
				return fmt.Errorf("%w: %q and %q share a slot at every level", ErrFull, key, s.key)
			}
			// Push the existing entry down into a new node and retry the
			// insert there. NB: newNode may grow the arena, so s must not be
			// used past this point.
			old := *s
			child := t.newNode(level + 1)
			t.nodes[child].slots[t.slotIndex(old.key, level+1)] = old
			t.nodes[child].count++
			t.nodes[n].count--
			t.nodes[n].slots[pos] = trieSlot[V]{kind: slotNode, node: child}
			t.logger.Debug("trie nest",
				zap.String("key", old.key), zap.Int("level", level+1), zap.Int("slot", pos))
			n = child

		case slotNode:
			n = s.node
		}
	}
}

// Get retrieves the value for key, returning ErrNotFound if it is not
// present.
func (t *Trie[V]) Get(key string) (value V, _ error) {
	s := t.lookup(key)
	if s == nil {
		return value, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return s.value, nil
}

// Contains reports whether key is present.
func (t *Trie[V]) Contains(key string) bool {
	return t.lookup(key) != nil
}

// Locate returns the slot index at each level on the way to key, starting at
// the root. It returns ErrNotFound if key is not present.
func (t *Trie[V]) Locate(key string) ([]int, error) {
	path := t.find(key)
	last := path[len(path)-1]
	if s := &t.nodes[last.node].slots[last.pos]; s.kind != slotLeaf || s.key != key {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	positions := make([]int, len(path))
	for i := range path {
		positions[i] = path[i].pos
	}
	return positions, nil
}

// Delete removes the entry for key, returning ErrNotFound if it is not
// present. Nested nodes on the way to key that no longer disambiguate
// anything are collapsed.
func (t *Trie[V]) Delete(key string) error {
	path := t.find(key)
	last := path[len(path)-1]
	s := &t.nodes[last.node].slots[last.pos]
	if s.kind != slotLeaf || s.key != key {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	*s = trieSlot[V]{}
	t.nodes[last.node].count--

	// A node that keeps a nested child can never collapse, so we stop at the
	// first level that does not change.
	for i := len(path) - 2; i >= 0; i-- {
		if !t.collapse(path[i]) {
			break
		}
	}
	t.checkInvariants()
	return nil
}

// collapse inspects the nested node referenced by the slot at step. An empty
// node is dropped and a node holding a single entry is replaced by that
// entry. It reports whether the slot changed.
func (t *Trie[V]) collapse(at trieStep) bool {
	child := t.nodes[at.node].slots[at.pos].node
	slots := t.nodes[child].slots
	leaf, leaves := -1, 0
	for i := range slots {
		switch slots[i].kind {
		case slotNode:
			return false
		case slotLeaf:
			if leaves++; leaves > 1 {
				return false
			}
			leaf = i
		}
	}

	if leaves == 0 {
		t.nodes[at.node].slots[at.pos] = trieSlot[V]{}
	} else {
		t.nodes[at.node].slots[at.pos] = slots[leaf]
		t.nodes[at.node].count++
	}
	t.logger.Debug("trie collapse",
		zap.Int("level", t.nodes[child].level), zap.Int("slot", at.pos), zap.Int("entries", leaves))
	t.freeNode(child)
	return true
}

// Len returns the number of entries in the trie.
func (t *Trie[V]) Len() int {
	return t.size(rootNode)
}

func (t *Trie[V]) size(n int) int {
	total := t.nodes[n].count
	slots := t.nodes[n].slots
	for i := range slots {
		if slots[i].kind == slotNode {
			total += t.size(slots[i].node)
		}
	}
	return total
}

// Depth returns the number of levels currently in use. A trie without
// nested nodes has depth 1.
func (t *Trie[V]) Depth() int {
	return t.depth(rootNode)
}

func (t *Trie[V]) depth(n int) int {
	var deepest int
	slots := t.nodes[n].slots
	for i := range slots {
		if slots[i].kind == slotNode {
			deepest = max(deepest, t.depth(slots[i].node))
		}
	}
	return deepest + 1
}

// All calls yield sequentially for each key and value present in the trie,
// depth first in slot order. If yield returns false, iteration stops. The
// trie must not be mutated during iteration.
func (t *Trie[V]) All(yield func(key string, value V) bool) {
	t.walk(rootNode, yield)
}

func (t *Trie[V]) walk(n int, yield func(key string, value V) bool) bool {
	slots := t.nodes[n].slots
	for i := range slots {
		switch s := &slots[i]; s.kind {
		case slotLeaf:
			if !yield(s.key, s.value) {
				return false
			}
		case slotNode:
			if !t.walk(s.node, yield) {
				return false
			}
		}
	}
	return true
}

// Keys returns the keys of the trie in the order of All.
func (t *Trie[V]) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		t.All(func(key string, _ V) bool {
			return yield(key)
		})
	}
}

func (t *Trie[V]) checkInvariants() {
	if invariants {
		live := t.checkNode(rootNode)
		if live+len(t.free) != len(t.nodes) {
			panic(fmt.Sprintf("invariant failed: %d live and %d free nodes, but arena holds %d\n%s",
				live, len(t.free), len(t.nodes), t.debugString()))
		}
	}
}

// checkNode verifies the node n and its descendants and returns the number of
// nodes visited.
func (t *Trie[V]) checkNode(n int) int {
	node := &t.nodes[n]
	live, leaves, nested := 1, 0, 0
	for i := range node.slots {
		s := &node.slots[i]
		switch s.kind {
		case slotLeaf:
			leaves++
			if pos := t.slotIndex(s.key, node.level); pos != i {
				panic(fmt.Sprintf("invariant failed: node(%d) slot(%d): %q belongs in slot %d\n%s",
					n, i, s.key, pos, t.debugString()))
			}
			if t.lookup(s.key) != s {
				panic(fmt.Sprintf("invariant failed: node(%d) slot(%d): %q not found\n%s",
					n, i, s.key, t.debugString()))
			}
		case slotNode:
			nested++
			if lvl := t.nodes[s.node].level; lvl != node.level+1 {
				panic(fmt.Sprintf("invariant failed: node(%d) at level %d nested under level %d\n%s",
					s.node, lvl, node.level, t.debugString()))
			}
			live += t.checkNode(s.node)
		}
	}
	if leaves != node.count {
		panic(fmt.Sprintf("invariant failed: node(%d): found %d entries, but count is %d\n%s",
			n, leaves, node.count, t.debugString()))
	}
	if n != rootNode && nested == 0 && leaves <= 1 {
		panic(fmt.Sprintf("invariant failed: node(%d) should have been collapsed\n%s", n, t.debugString()))
	}
	return live
}

func (t *Trie[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "width=%d  nodes=%d  free=%d\n", t.width, len(t.nodes), len(t.free))
	t.debugNode(&buf, rootNode, "  ")
	return buf.String()
}

func (t *Trie[V]) debugNode(buf *strings.Builder, n int, indent string) {
	node := &t.nodes[n]
	fmt.Fprintf(buf, "%snode(%d) level=%d count=%d\n", indent, n, node.level, node.count)
	for i := range node.slots {
		switch s := &node.slots[i]; s.kind {
		case slotLeaf:
			fmt.Fprintf(buf, "%s  %4d: %q\n", indent, i, s.key)
		case slotNode:
			fmt.Fprintf(buf, "%s  %4d:\n", indent, i)
			t.debugNode(buf, s.node, indent+"    ")
		}
	}
}
