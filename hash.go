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

import "github.com/cespare/xxhash/v2"

const (
	hashSeed = 31415
	hashBase = 31
)

// HashFunc maps a key to a slot index in [0, capacity). It must be
// deterministic for a given key and capacity.
type HashFunc func(key string, capacity int) int

// PolynomialHash is a rolling hash over the bytes of key. The multiplier is
// advanced by hashBase and reduced modulo capacity-1 on every step so the
// intermediate products stay small.
func PolynomialHash(key string, capacity int) int {
	if capacity <= 1 {
		return 0
	}
	value, a := 0, hashSeed
	for i := 0; i < len(key); i++ {
		value = (int(key[i]) + a*value) % capacity
		a = a * hashBase % (capacity - 1)
	}
	return value
}

// XXHash hashes key with xxHash64 and reduces the result modulo capacity.
// It spreads similar keys better than PolynomialHash at the cost of ignoring
// the capacity while mixing.
func XXHash(key string, capacity int) int {
	if capacity <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(capacity))
}
