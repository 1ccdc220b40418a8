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

// package tiered implements hierarchical hash tables built on open
// addressing with linear probing. See
// https://en.wikipedia.org/wiki/Linear_probing.
//
// # Tables
//
// ProbeTable is the building block: a single array of slots mapping a string
// key to a value. A key is stored in the first slot at or after hash(key)
// that is free or already holds the key. Capacities are taken from a fixed
// ascending sequence of primes and the table moves to the next one as soon
// as more than half of its slots are in use.
//
// Map is a two-level table addressed by a pair of keys. The first key picks a
// group in an outer array, probed linearly like a ProbeTable, and each group
// owns a private ProbeTable keyed by the second key. Groups are created on
// the first insert under a first key and released when their last entry is
// deleted. Growing the outer array moves the group tables by reference.
//
// Trie is an unbounded-depth table addressed by a single key. Each node has a
// fixed number of slots and indexes them with the key byte at the node's
// level. A slot holds nothing, a single entry, or a nested node one level
// deeper. Nodes are created when two keys land in the same slot and are
// collapsed back into a single entry as soon as they no longer have to
// disambiguate anything.
//
// # Deletion
//
// Open addressing cannot simply clear a slot on deletion: a later key whose
// probe sequence passed through that slot would no longer be found. Rather
// than leaving tombstones, deletion walks forward from the vacated slot and
// reinserts every entry of the contiguous run that follows it. Entries that
// depended on the vacated slot move back into it and every probe chain stays
// unbroken.
//
// Tables never shrink. Once the largest configured capacity is reached growth
// becomes a noop and an insert that finds no free slot fails with ErrFull.
package tiered

import (
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"
)

// group is a slot of the outer array of a Map. A nil table marks an empty
// slot.
type group[V any] struct {
	key   string
	table *ProbeTable[V]
}

// Map is a two-level table from (first, second) key pairs to values. All
// entries sharing a first key live in the same group, which makes it cheap to
// enumerate or count the entries of one group.
//
// A Map is NOT goroutine-safe.
type Map[V any] struct {
	config
	// sizeIndex is the position of len(slots) in config.sizes. It only ever
	// increases.
	sizeIndex int
	slots     []group[V]
	// The number of (first, second) entries across all groups.
	used int
	// The number of occupied outer slots.
	groups int
}

// New constructs an empty Map. The outer array starts at the first of the
// configured sizes.
func New[V any](options ...option) *Map[V] {
	m := &Map[V]{config: makeConfig(options)}
	m.slots = make([]group[V], m.sizes[0])
	m.checkInvariants()
	return m
}

// newGroupTable creates the sub-table for a new group. The second-key hash is
// injected here, and hashes against the sub-table's own capacity.
func (m *Map[V]) newGroupTable() *ProbeTable[V] {
	return newProbeTable[V](m.groupSizes, m.groupHash, m.logger)
}

// probeGroups returns the outer slot for first. On insert an empty slot on
// the probe sequence is claimed for a new group, in which case created is
// true.
func (m *Map[V]) probeGroups(first string, insert bool) (pos int, created bool, _ error) {
	capacity := len(m.slots)
	pos = m.hash(first, capacity)
	for i := 0; i < capacity; i++ {
		g := &m.slots[pos]
		if g.table == nil {
			if !insert {
				return 0, false, fmt.Errorf("%w: group %q", ErrNotFound, first)
			}
			g.key = first
			g.table = m.newGroupTable()
			m.groups++
			return pos, true, nil
		}
		if g.key == first {
			return pos, false, nil
		}
		pos = (pos + 1) % capacity
	}
	if insert {
		m.logger.Debug("map full", zap.String("first", first), zap.Int("capacity", capacity))
		return 0, false, fmt.Errorf("%w: no slot for group %q at capacity %d", ErrFull, first, capacity)
	}
	return 0, false, fmt.Errorf("%w: group %q", ErrNotFound, first)
}

// Put inserts an entry into the map, overwriting an existing value if an
// entry with the same key pair already exists. It returns ErrFull if either
// level has no room left at its largest capacity, in which case the map is
// unchanged.
func (m *Map[V]) Put(first, second string, value V) error {
	pos, created, err := m.probeGroups(first, true)
	if err != nil {
		return err
	}
	added, err := m.slots[pos].table.put(second, value)
	if err != nil {
		if created {
			m.release(pos)
		}
		return err
	}
	if added {
		m.used++
	}
	if 2*m.groups > len(m.slots) {
		m.grow()
	}
	m.checkInvariants()
	return nil
}

// Get retrieves the value for the key pair, returning ErrNotFound if it is
// not present.
func (m *Map[V]) Get(first, second string) (value V, _ error) {
	pos, _, err := m.probeGroups(first, false)
	if err != nil {
		return value, err
	}
	return m.slots[pos].table.Get(second)
}

// Contains reports whether the key pair is present.
func (m *Map[V]) Contains(first, second string) bool {
	_, err := m.Get(first, second)
	return err == nil
}

// Delete removes the entry for the key pair, returning ErrNotFound if it is
// not present. Deleting the last entry of a group releases the group's outer
// slot.
func (m *Map[V]) Delete(first, second string) error {
	pos, _, err := m.probeGroups(first, false)
	if err != nil {
		return err
	}
	t := m.slots[pos].table
	if err := t.Delete(second); err != nil {
		return err
	}
	m.used--
	if t.IsEmpty() {
		m.release(pos)
	}
	m.checkInvariants()
	return nil
}

// release clears the outer slot at pos and repairs the cluster behind it.
func (m *Map[V]) release(pos int) {
	m.slots[pos] = group[V]{}
	m.groups--

	capacity := len(m.slots)
	for i := (pos + 1) % capacity; m.slots[i].table != nil; i = (i + 1) % capacity {
		g := m.slots[i]
		m.slots[i] = group[V]{}
		to := m.freeSlot(g.key)
		m.slots[to] = g
		if to != i {
			m.logger.Debug("map repair", zap.String("first", g.key), zap.Int("from", i), zap.Int("to", to))
		}
	}
}

// freeSlot returns the first empty outer slot on first's probe sequence. The
// caller guarantees that first is absent and that a slot is free.
func (m *Map[V]) freeSlot(first string) int {
	capacity := len(m.slots)
	pos := m.hash(first, capacity)
	for m.slots[pos].table != nil {
		pos = (pos + 1) % capacity
	}
	return pos
}

// grow moves the outer array to the next configured capacity and reinserts
// every group. The group tables are carried over as is. It is a noop once the
// largest capacity is reached.
func (m *Map[V]) grow() {
	if m.sizeIndex+1 >= len(m.sizes) {
		m.logger.Debug("map at maximum capacity", zap.Int("capacity", len(m.slots)))
		return
	}
	m.sizeIndex++
	old := m.slots
	m.slots = make([]group[V], m.sizes[m.sizeIndex])
	for i := range old {
		if old[i].table != nil {
			m.slots[m.freeSlot(old[i].key)] = old[i]
		}
	}
	m.logger.Debug("map grow",
		zap.Int("from", len(old)), zap.Int("to", len(m.slots)), zap.Int("groups", m.groups))
}

// Len returns the number of entries in the map.
func (m *Map[V]) Len() int {
	return m.used
}

// Capacity returns the current capacity of the outer array.
func (m *Map[V]) Capacity() int {
	return len(m.slots)
}

// Groups returns the number of distinct first keys in the map.
func (m *Map[V]) Groups() int {
	return m.groups
}

// GroupLen returns the number of entries stored under first, or 0 if the
// group does not exist.
func (m *Map[V]) GroupLen(first string) int {
	pos, _, err := m.probeGroups(first, false)
	if err != nil {
		return 0
	}
	return m.slots[pos].table.Len()
}

// groupTable returns the sub-table for first.
func (m *Map[V]) groupTable(first string) (*ProbeTable[V], error) {
	pos, _, err := m.probeGroups(first, false)
	if err != nil {
		return nil, err
	}
	return m.slots[pos].table, nil
}

// groupTables calls yield for each group in outer slot order. Iteration walks
// the outer array the map had when it started, so the map can grow during
// iteration without invalidating it.
func (m *Map[V]) groupTables(yield func(g *group[V]) bool) {
	slots := m.slots
	for i := range slots {
		if slots[i].table != nil && !yield(&slots[i]) {
			return
		}
	}
}

// All calls yield sequentially for each key pair and value present in the
// map, group by group in outer slot order. If yield returns false, iteration
// stops. The map can be mutated during iteration, though there is no
// guarantee that the mutations will be visible to the iteration.
func (m *Map[V]) All(yield func(first, second string, value V) bool) {
	m.groupTables(func(g *group[V]) bool {
		cont := true
		g.table.All(func(second string, value V) bool {
			cont = yield(g.key, second, value)
			return cont
		})
		return cont
	})
}

// Keys returns the first keys of the map in outer slot order.
func (m *Map[V]) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		m.groupTables(func(g *group[V]) bool {
			return yield(g.key)
		})
	}
}

// Values returns every value of the map. Groups are visited in outer slot
// order and each group's values in its own slot order.
func (m *Map[V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		m.All(func(_, _ string, value V) bool {
			return yield(value)
		})
	}
}

// GroupKeys returns the second keys stored under first, or ErrNotFound if the
// group does not exist.
func (m *Map[V]) GroupKeys(first string) (iter.Seq[string], error) {
	t, err := m.groupTable(first)
	if err != nil {
		return nil, err
	}
	return t.Keys(), nil
}

// GroupValues returns the values stored under first, or ErrNotFound if the
// group does not exist.
func (m *Map[V]) GroupValues(first string) (iter.Seq[V], error) {
	t, err := m.groupTable(first)
	if err != nil {
		return nil, err
	}
	return t.Values(), nil
}

func (m *Map[V]) checkInvariants() {
	if invariants {
		if m.sizes[m.sizeIndex] != len(m.slots) {
			panic(fmt.Sprintf("invariant failed: capacity %d does not match size index %d",
				len(m.slots), m.sizeIndex))
		}

		var used, groups int
		seen := make(map[string]int)
		for i := range m.slots {
			g := &m.slots[i]
			if g.table == nil {
				continue
			}
			if j, ok := seen[g.key]; ok {
				panic(fmt.Sprintf("invariant failed: group %q in slots %d and %d\n%s", g.key, j, i, m.debugString()))
			}
			seen[g.key] = i
			if g.table.IsEmpty() {
				panic(fmt.Sprintf("invariant failed: slot(%d): group %q is empty\n%s", i, g.key, m.debugString()))
			}
			if pos, _, err := m.probeGroups(g.key, false); err != nil || pos != i {
				panic(fmt.Sprintf("invariant failed: slot(%d): group %q not found\n%s", i, g.key, m.debugString()))
			}
			groups++
			used += g.table.Len()
		}

		if groups != m.groups {
			panic(fmt.Sprintf("invariant failed: found %d groups, but group count is %d\n%s",
				groups, m.groups, m.debugString()))
		}
		if used != m.used {
			panic(fmt.Sprintf("invariant failed: found %d entries, but used count is %d\n%s",
				used, m.used, m.debugString()))
		}
	}
}

func (m *Map[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  groups=%d\n", len(m.slots), m.used, m.groups)
	for i := range m.slots {
		g := &m.slots[i]
		if g.table == nil {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
			continue
		}
		fmt.Fprintf(&buf, "  %4d: %q [h=%d len=%d capacity=%d]\n",
			i, g.key, m.hash(g.key, len(m.slots)), g.table.Len(), g.table.Capacity())
	}
	return buf.String()
}
