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

type probeSlot[V any] struct {
	key   string
	value V
	used  bool
}

// ProbeTable is an open-addressed map from string keys to values. Collisions
// are resolved by linear probing: a key lives in the first slot at or after
// hash(key) that is either free or already holds the key. The table grows
// through its configured size sequence once more than half of the slots are
// in use, and deletion repairs the probe cluster in place rather than leaving
// tombstones.
//
// A ProbeTable is NOT goroutine-safe.
type ProbeTable[V any] struct {
	hash   HashFunc
	sizes  []int
	logger *zap.Logger
	// sizeIndex is the position of len(slots) in sizes.
	sizeIndex int
	slots     []probeSlot[V]
	// The number of filled slots.
	used int
}

// NewProbeTable constructs an empty ProbeTable. WithSizes, WithHash and
// WithLogger apply; other options are ignored.
func NewProbeTable[V any](options ...option) *ProbeTable[V] {
	c := makeConfig(options)
	return newProbeTable[V](c.sizes, c.hash, c.logger)
}

func newProbeTable[V any](sizes []int, hash HashFunc, logger *zap.Logger) *ProbeTable[V] {
	return &ProbeTable[V]{
		hash:   hash,
		sizes:  sizes,
		logger: logger,
		slots:  make([]probeSlot[V], sizes[0]),
	}
}

// probe returns the slot holding key, or on insert the first free slot on
// key's probe sequence.
func (t *ProbeTable[V]) probe(key string, insert bool) (int, error) {
	capacity := len(t.slots)
	pos := t.hash(key, capacity)
	for i := 0; i < capacity; i++ {
		s := &t.slots[pos]
		if !s.used {
			if insert {
				return pos, nil
			}
			return 0, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		if s.key == key {
			return pos, nil
		}
		pos = (pos + 1) % capacity
	}
	if insert {
		t.logger.Debug("probe table full", zap.String("key", key), zap.Int("capacity", capacity))
		return 0, fmt.Errorf("%w: no slot for %q at capacity %d", ErrFull, key, capacity)
	}
	return 0, fmt.Errorf("%w: %q", ErrNotFound, key)
}

// Put inserts an entry into the table, overwriting an existing value if an
// entry with the same key already exists.
func (t *ProbeTable[V]) Put(key string, value V) error {
	_, err := t.put(key, value)
	return err
}

// put is Put that also reports whether key was newly added.
func (t *ProbeTable[V]) put(key string, value V) (added bool, _ error) {
	pos, err := t.probe(key, true)
	if err != nil {
		return false, err
	}
	s := &t.slots[pos]
	if !s.used {
		s.key = key
		s.used = true
		t.used++
		added = true
	}
	s.value = value
	if 2*t.used > len(t.slots) {
		t.grow()
	}
	t.checkInvariants()
	return added, nil
}

// Get retrieves the value for the specified key, returning ErrNotFound if
// the key is not present.
func (t *ProbeTable[V]) Get(key string) (value V, _ error) {
	pos, err := t.probe(key, false)
	if err != nil {
		return value, err
	}
	return t.slots[pos].value, nil
}

// Contains reports whether key is present.
func (t *ProbeTable[V]) Contains(key string) bool {
	_, err := t.probe(key, false)
	return err == nil
}

// Delete removes the entry for key, returning ErrNotFound if the key is not
// present.
func (t *ProbeTable[V]) Delete(key string) error {
	pos, err := t.probe(key, false)
	if err != nil {
		return err
	}
	t.slots[pos] = probeSlot[V]{}
	t.used--
	t.repair(pos)
	t.checkInvariants()
	return nil
}

// repair walks forward from a freshly vacated slot and reinserts every entry
// of the contiguous run that follows it. An entry whose probe sequence passed
// through the hole moves back into it, so lookups never stop early at the
// hole.
func (t *ProbeTable[V]) repair(hole int) {
	capacity := len(t.slots)
	for pos := (hole + 1) % capacity; t.slots[pos].used; pos = (pos + 1) % capacity {
		s := t.slots[pos]
		t.slots[pos] = probeSlot[V]{}
		to := t.freeSlot(s.key)
		t.slots[to] = s
		if to != pos {
			t.logger.Debug("probe table repair", zap.String("key", s.key), zap.Int("from", pos), zap.Int("to", to))
		}
	}
}

// freeSlot returns the first free slot on key's probe sequence. The caller
// guarantees that key is absent and that at least one slot is free.
func (t *ProbeTable[V]) freeSlot(key string) int {
	capacity := len(t.slots)
	pos := t.hash(key, capacity)
	for t.slots[pos].used {
		pos = (pos + 1) % capacity
	}
	return pos
}

// grow moves the table to the next capacity in its size sequence and
// reinserts every entry. It is a noop once the largest size is reached.
func (t *ProbeTable[V]) grow() {
	if t.sizeIndex+1 >= len(t.sizes) {
		t.logger.Debug("probe table at maximum capacity", zap.Int("capacity", len(t.slots)))
		return
	}
	t.sizeIndex++
	old := t.slots
	t.slots = make([]probeSlot[V], t.sizes[t.sizeIndex])
	for i := range old {
		if old[i].used {
			t.slots[t.freeSlot(old[i].key)] = old[i]
		}
	}
	t.logger.Debug("probe table grow",
		zap.Int("from", len(old)), zap.Int("to", len(t.slots)), zap.Int("used", t.used))
}

// IsEmpty reports whether the table holds no entries.
func (t *ProbeTable[V]) IsEmpty() bool {
	return t.used == 0
}

// Len returns the number of entries in the table.
func (t *ProbeTable[V]) Len() int {
	return t.used
}

// Capacity returns the current number of slots.
func (t *ProbeTable[V]) Capacity() int {
	return len(t.slots)
}

// All calls yield sequentially for each key and value present in the table,
// in slot order. If yield returns false, iteration stops. Iteration walks the
// slots the table had when it started, so a resize during iteration is not
// observed.
func (t *ProbeTable[V]) All(yield func(key string, value V) bool) {
	slots := t.slots
	for i := range slots {
		if slots[i].used && !yield(slots[i].key, slots[i].value) {
			return
		}
	}
}

// Keys returns the keys of the table in slot order.
func (t *ProbeTable[V]) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		t.All(func(key string, _ V) bool {
			return yield(key)
		})
	}
}

// Values returns the values of the table in slot order.
func (t *ProbeTable[V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		t.All(func(_ string, value V) bool {
			return yield(value)
		})
	}
}

func (t *ProbeTable[V]) checkInvariants() {
	if invariants {
		var used int
		for i := range t.slots {
			s := &t.slots[i]
			if !s.used {
				continue
			}
			if pos, err := t.probe(s.key, false); err != nil || pos != i {
				panic(fmt.Sprintf("invariant failed: slot(%d): %q not found\n%s", i, s.key, t.debugString()))
			}
			used++
		}
		if used != t.used {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, t.used, t.debugString()))
		}
		if t.sizes[t.sizeIndex] != len(t.slots) {
			panic(fmt.Sprintf("invariant failed: capacity %d does not match size index %d",
				len(t.slots), t.sizeIndex))
		}
	}
}

func (t *ProbeTable[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d\n", len(t.slots), t.used)
	for i := range t.slots {
		if s := &t.slots[i]; s.used {
			fmt.Fprintf(&buf, "  %4d: %q [h=%d]\n", i, s.key, t.hash(s.key, len(t.slots)))
		} else {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		}
	}
	return buf.String()
}
