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

import "errors"

var (
	// ErrNotFound is returned when a lookup or delete addresses a key that
	// is not present.
	ErrNotFound = errors.New("tiered: key not found")

	// ErrFull is returned when an insert cannot find a free slot. A Map or
	// ProbeTable reports it once its largest configured capacity is
	// exhausted. A Trie reports it when two keys share a slot at every level
	// and can never be told apart.
	ErrFull = errors.New("tiered: table is full")
)
