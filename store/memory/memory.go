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

// Package memory implements server.Backend entirely in process memory. It
// is the "mechanical" reference backend (spec.md §6): a direct port of the
// original InMemoryLog, with records and per-level hashes kept in plain
// slices behind a mutex.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/transparentlog/tlog/tree"
)

// Backend is an in-memory server.Backend. The zero value is not usable;
// construct with New. Safe for concurrent use.
type Backend struct {
	mu     sync.Mutex
	data   [][]byte
	levels [][]tree.Digest
}

// New returns an empty in-memory Backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Size(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.data)), nil
}

func (b *Backend) Get(ctx context.Context, id uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id >= uint64(len(b.data)) {
		return nil, fmt.Errorf("record %d out of range (size %d)", id, len(b.data))
	}
	return b.data[id], nil
}

func (b *Backend) AddRecord(ctx context.Context, data []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uint64(len(b.data))
	b.data = append(b.data, data)
	return id, nil
}

func (b *Backend) AddHash(ctx context.Context, level uint, hash tree.Digest) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for uint(len(b.levels)) <= level {
		b.levels = append(b.levels, nil)
	}
	idx := uint64(len(b.levels[level]))
	b.levels[level] = append(b.levels[level], hash)
	return idx, nil
}

func (b *Backend) GetHash(ctx context.Context, level uint, index uint64) (tree.Digest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if level >= uint(len(b.levels)) || index >= uint64(len(b.levels[level])) {
		return "", fmt.Errorf("hash at level %d index %d out of range", level, index)
	}
	return b.levels[level][index], nil
}

func (b *Backend) Proof(ctx context.Context, positions map[tree.Position[uint64]]struct{}) (map[tree.Position[uint64]]tree.Digest, error) {
	out := make(map[tree.Position[uint64]]tree.Digest, len(positions))
	for p := range positions {
		h, err := b.GetHash(ctx, p.Level, p.Index)
		if err != nil {
			return nil, err
		}
		out[p] = h
	}
	return out, nil
}
