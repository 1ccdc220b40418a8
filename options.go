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

	"go.uber.org/zap"
)

// defaultSizes is the ascending sequence of prime capacities a table walks
// through as it grows. No table is expected to exceed about a million
// entries.
var defaultSizes = []int{
	5, 13, 29, 53, 97, 193, 389, 769, 1543, 3079, 6151, 12289, 24593, 49157,
	98317, 196613, 393241, 786433, 1572869,
}

// defaultWidth is the number of slots in each Trie node: one slot per
// residue of a byte modulo 26 plus the terminator slot.
const defaultWidth = 27

// config holds the settings shared by Map, ProbeTable and Trie. Each
// structure reads only the fields relevant to it.
type config struct {
	sizes      []int
	groupSizes []int
	hash       HashFunc
	groupHash  HashFunc
	width      int
	logger     *zap.Logger
}

func makeConfig(options []option) config {
	c := config{
		sizes:     defaultSizes,
		hash:      PolynomialHash,
		groupHash: PolynomialHash,
		width:     defaultWidth,
		logger:    zap.NewNop(),
	}
	for _, op := range options {
		op.apply(&c)
	}
	if c.groupSizes == nil {
		c.groupSizes = c.sizes
	}
	return c
}

// option provide an interface to do work on a table's config while the table
// is being created.
type option interface {
	apply(c *config)
}

type sizesOption struct {
	sizes []int
	group bool
}

func (op sizesOption) apply(c *config) {
	if op.group {
		c.groupSizes = op.sizes
	} else {
		c.sizes = op.sizes
	}
}

func checkSizes(sizes []int) []int {
	if len(sizes) == 0 {
		panic("tiered: empty size sequence")
	}
	for i, n := range sizes {
		if n <= 0 {
			panic(fmt.Sprintf("tiered: size %d at index %d must be positive", n, i))
		}
		if i > 0 && n <= sizes[i-1] {
			panic(fmt.Sprintf("tiered: sizes must be strictly ascending: %v", sizes))
		}
	}
	// Copy so the caller cannot mutate the sequence under a live table.
	return append([]int(nil), sizes...)
}

// WithSizes is an option to specify the ascending capacity sequence of a Map's
// outer array or of a standalone ProbeTable. The first size is the initial
// capacity and the last one is the maximum.
func WithSizes(sizes ...int) option {
	return sizesOption{sizes: checkSizes(sizes)}
}

// WithGroupSizes is an option to specify the capacity sequence of the
// sub-tables a Map creates for each first key. It defaults to the outer
// sequence.
func WithGroupSizes(sizes ...int) option {
	return sizesOption{sizes: checkSizes(sizes), group: true}
}

type hashOption struct {
	hash  HashFunc
	group bool
}

func (op hashOption) apply(c *config) {
	if op.group {
		c.groupHash = op.hash
	} else {
		c.hash = op.hash
	}
}

// WithHash is an option to specify the hash function used for first keys of
// a Map, or for the keys of a standalone ProbeTable.
func WithHash(hash HashFunc) option {
	return hashOption{hash: hash}
}

// WithGroupHash is an option to specify the hash function a Map hands to each
// of its sub-tables for second keys.
func WithGroupHash(hash HashFunc) option {
	return hashOption{hash: hash, group: true}
}

type widthOption int

func (op widthOption) apply(c *config) {
	c.width = int(op)
}

// WithWidth is an option to specify the number of slots in each Trie node.
// The last slot is reserved for keys shorter than the node's level.
func WithWidth(width int) option {
	if width < 2 {
		panic(fmt.Sprintf("tiered: width %d must be at least 2", width))
	}
	return widthOption(width)
}

type loggerOption struct {
	logger *zap.Logger
}

func (op loggerOption) apply(c *config) {
	if op.logger != nil {
		c.logger = op.logger
	}
}

// WithLogger is an option to specify the logger that receives debug entries
// for structural events: growth, cluster repair, nesting and collapse.
func WithLogger(logger *zap.Logger) option {
	return loggerOption{logger}
}
