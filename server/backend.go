// Copyright 2022 Google LLC. All Rights Reserved.
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

// Package server implements the append-only log operations on top of a
// pluggable storage Backend: append, latest root, record lookup, and proof
// fetching.
package server

import (
	"context"

	"github.com/transparentlog/tlog/tree"
)

// Backend is the storage primitive a Server is built on. Implementations
// live in store/memory, store/file, and store/boltstore; a Server never
// reaches into a backend's internals, only through these six methods.
type Backend interface {
	// Size returns the number of records appended so far.
	Size(ctx context.Context) (uint64, error)

	// Get returns the raw encoded record stored at id. It returns an error
	// if id is out of range; Server.Get wraps that error in an *Error with
	// Kind InvalidIndex.
	Get(ctx context.Context, id uint64) ([]byte, error)

	// AddRecord appends a raw encoded record and returns its id, which is
	// always the prior Size().
	AddRecord(ctx context.Context, data []byte) (uint64, error)

	// AddHash appends a hash at the given tree level and returns its index
	// within that level, which is always the prior count of hashes stored
	// at that level.
	AddHash(ctx context.Context, level uint, hash tree.Digest) (uint64, error)

	// GetHash returns the hash stored at (level, index).
	GetHash(ctx context.Context, level uint, index uint64) (tree.Digest, error)

	// Proof returns the hash stored at every requested position. A backend
	// that cannot find one of the positions returns an error rather than a
	// partial map.
	Proof(ctx context.Context, positions map[tree.Position[uint64]]struct{}) (map[tree.Position[uint64]]tree.Digest, error)
}
