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
	"math/rand"
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// toBuiltinMap returns the entries as a map[string]V. Useful for testing.
func (t *Trie[V]) toBuiltinMap() map[string]V {
	r := make(map[string]V)
	t.All(func(k string, v V) bool {
		r[k] = v
		return true
	})
	return r
}

// requireCollapsed verifies that no nested node holds a single entry and no
// nested nodes, regardless of whether invariant checking is compiled in.
func requireCollapsed[V any](t *testing.T, tr *Trie[V]) {
	var check func(n int)
	check = func(n int) {
		var leaves, nested int
		for _, s := range tr.nodes[n].slots {
			switch s.kind {
			case slotLeaf:
				leaves++
			case slotNode:
				nested++
				check(s.node)
			}
		}
		require.Equal(t, leaves, tr.nodes[n].count)
		if n != rootNode && nested == 0 {
			require.Greater(t, leaves, 1, "node(%d) should have been collapsed\n%s", n, tr.debugString())
		}
	}
	check(rootNode)
}

func TestTrieBasic(t *testing.T) {
	tr := NewTrie[int]()
	keys := []string{"", "a", "aa", "aaa", "ab", "b", "ba", "zebra", "{", "[", "cat", "car", "dog"}
	e := make(map[string]int)

	for _, k := range keys {
		_, err := tr.Get(k)
		require.ErrorIs(t, err, ErrNotFound)
	}

	for i, k := range keys {
		err := tr.Put(k, i)
		if k == "{" {
			// '{' and 'a' share a slot and both keys end at level 1.
			require.ErrorIs(t, err, ErrFull)
			continue
		}
		require.NoError(t, err)
		e[k] = i
		require.Equal(t, len(e), tr.Len())
		require.Equal(t, e, tr.toBuiltinMap())
	}
	requireCollapsed(t, tr)

	// Update.
	for k := range e {
		require.NoError(t, tr.Put(k, e[k]*10))
		e[k] *= 10
	}
	require.Equal(t, e, tr.toBuiltinMap())
	require.Equal(t, len(e), tr.Len())

	// Delete.
	for _, k := range keys {
		if _, ok := e[k]; !ok {
			require.ErrorIs(t, tr.Delete(k), ErrNotFound)
			continue
		}
		require.NoError(t, tr.Delete(k))
		delete(e, k)
		require.False(t, tr.Contains(k))
		require.ErrorIs(t, tr.Delete(k), ErrNotFound)
		require.Equal(t, e, tr.toBuiltinMap())
		require.Equal(t, len(e), tr.Len())
		requireCollapsed(t, tr)
	}
	require.Equal(t, 1, tr.Depth())
}

func TestTrieNest(t *testing.T) {
	tr := NewTrie[string]()
	for _, k := range []string{"cat", "car", "dog"} {
		require.NoError(t, tr.Put(k, strings.ToUpper(k)))
	}
	require.Equal(t, 3, tr.Len())
	require.Equal(t, 3, tr.Depth())

	// 'c' = 99 and 'a' = 97 collide on levels 0 and 1; 't' = 116 and
	// 'r' = 114 tell them apart on level 2.
	path, err := tr.Locate("cat")
	require.NoError(t, err)
	require.Equal(t, []int{99 % 26, 97 % 26, 116 % 26}, path)
	path, err = tr.Locate("car")
	require.NoError(t, err)
	require.Equal(t, []int{99 % 26, 97 % 26, 114 % 26}, path)
	path, err = tr.Locate("dog")
	require.NoError(t, err)
	require.Equal(t, []int{100 % 26}, path)

	for _, k := range []string{"cat", "car", "dog"} {
		v, err := tr.Get(k)
		require.NoError(t, err)
		require.Equal(t, strings.ToUpper(k), v)
	}
	require.False(t, tr.Contains("cab"))
	_, err = tr.Locate("cab")
	require.ErrorIs(t, err, ErrNotFound)

	// The root holds only "dog" directly.
	require.Equal(t, 1, tr.nodes[rootNode].count)
	requireCollapsed(t, tr)
}

func TestTrieCollapse(t *testing.T) {
	tr := NewTrie[int]()
	require.NoError(t, tr.Put("ab", 1))
	require.NoError(t, tr.Put("abc", 2))

	// "ab" runs out of bytes on level 2 and lands in the last slot.
	path, err := tr.Locate("ab")
	require.NoError(t, err)
	require.Equal(t, []int{97 % 26, 98 % 26, 26}, path)
	require.Equal(t, 3, tr.Depth())
	require.Len(t, tr.nodes, 3)

	require.NoError(t, tr.Delete("abc"))
	path, err = tr.Locate("ab")
	require.NoError(t, err)
	require.Equal(t, []int{97 % 26}, path)
	require.Equal(t, 1, tr.Depth())
	require.Equal(t, 1, tr.Len())
	require.Equal(t, 1, tr.nodes[rootNode].count)
	require.Len(t, tr.free, 2)
	requireCollapsed(t, tr)

	v, err := tr.Get("ab")
	require.NoError(t, err)
	require.Equal(t, 1, v)

	// Released nodes are reused.
	require.NoError(t, tr.Put("abc", 3))
	require.Len(t, tr.nodes, 3)
	require.Empty(t, tr.free)
	require.Equal(t, 3, tr.Depth())

	// Deleting the shorter key collapses just the same.
	require.NoError(t, tr.Delete("ab"))
	path, err = tr.Locate("abc")
	require.NoError(t, err)
	require.Equal(t, []int{97 % 26}, path)
	requireCollapsed(t, tr)
}

func TestTrieCollapsePartial(t *testing.T) {
	tr := NewTrie[int]()
	for i, k := range []string{"cat", "car", "cab"} {
		require.NoError(t, tr.Put(k, i))
	}
	require.Equal(t, 3, tr.Depth())

	// Two keys remain in the level 2 node, so nothing collapses.
	require.NoError(t, tr.Delete("cab"))
	require.Equal(t, 3, tr.Depth())
	requireCollapsed(t, tr)

	require.NoError(t, tr.Delete("car"))
	require.Equal(t, 1, tr.Depth())
	requireCollapsed(t, tr)
}

func TestTrieInseparable(t *testing.T) {
	tr := NewTrie[int]()
	require.NoError(t, tr.Put("xa", 1))
	require.NoError(t, tr.Put("xb", 2))
	before := tr.toBuiltinMap()
	nodes := len(tr.nodes)

	// 'a' = 97 and '{' = 123 are equal modulo 26.
	err := tr.Put("x{", 3)
	require.ErrorIs(t, err, ErrFull)
	require.Equal(t, before, tr.toBuiltinMap())
	require.Len(t, tr.nodes, nodes)
	require.Equal(t, 2, tr.Len())

	// A wider node tells them apart.
	tr = NewTrie[int](WithWidth(257))
	require.NoError(t, tr.Put("xa", 1))
	require.NoError(t, tr.Put("x{", 3))
	require.Equal(t, 2, tr.Len())
}

func TestTrieRandom(t *testing.T) {
	tr := NewTrie[int]()
	e := make(map[string]int)
	var keys []string
	for i := 0; i < 5000; i++ {
		switch r := rand.Float64(); {
		case r < 0.6 || len(keys) == 0: // 60% inserts
			// Short prefixes of a uuid collide often.
			k := uuid.NewString()[:1+rand.Intn(6)]
			v := rand.Int()
			if err := tr.Put(k, v); err != nil {
				require.ErrorIs(t, err, ErrFull)
				continue
			}
			if _, ok := e[k]; !ok {
				keys = append(keys, k)
			}
			e[k] = v
		default: // 40% deletes
			j := rand.Intn(len(keys))
			require.NoError(t, tr.Delete(keys[j]))
			delete(e, keys[j])
			keys = slices.Delete(keys, j, j+1)
		}
		require.Equal(t, len(e), tr.Len())
	}
	require.Equal(t, e, tr.toBuiltinMap())
	requireCollapsed(t, tr)

	for _, k := range keys {
		require.NoError(t, tr.Delete(k))
	}
	require.Equal(t, 0, tr.Len())
	require.Equal(t, 1, tr.Depth())
	require.Len(t, tr.free, len(tr.nodes)-1)
}

func TestTrieIterateStop(t *testing.T) {
	tr := NewTrie[int]()
	for i, k := range []string{"cat", "car", "dog", "emu"} {
		require.NoError(t, tr.Put(k, i))
	}
	var seen []string
	for k := range tr.Keys() {
		seen = append(seen, k)
		if len(seen) == 2 {
			break
		}
	}
	require.Len(t, seen, 2)
	require.ElementsMatch(t, []string{"cat", "car", "dog", "emu"}, slices.Collect(tr.Keys()))
}

func TestTrieLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tr := NewTrie[int](WithLogger(zap.New(core)))
	require.NoError(t, tr.Put("ab", 1))
	require.NoError(t, tr.Put("abc", 2))
	require.Equal(t, 2, logs.FilterMessage("trie nest").Len())
	require.NoError(t, tr.Delete("abc"))
	require.Equal(t, 2, logs.FilterMessage("trie collapse").Len())
}
