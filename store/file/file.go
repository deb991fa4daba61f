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

// Package file implements server.Backend as a directory of flat files
// (spec.md §6.2): data.bin holds concatenated encoded records, index.bin
// holds a fixed-width (offset, length) pair per record, and hash{L}.bin
// holds the concatenated hex digests for tree level L, created lazily as
// levels come into existence. This is a direct port of the original
// FileLog, except the index record width is a fixed 16 bytes (two
// big-endian uint64s) rather than the original's platform-dependent
// usize-width length field, so the on-disk format does not vary across
// 32-bit and 64-bit builds.
package file

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/transparentlog/tlog/tree"
)

// indexEntrySize is the width in bytes of one index.bin record: an
// 8-byte big-endian offset into data.bin followed by an 8-byte big-endian
// length.
const indexEntrySize = 16

// hashSize is the width in bytes of one hash{L}.bin record: the lowercase
// hex rendering of a SHA-256 digest.
const hashSize = 64

// Backend is a flat-file server.Backend rooted at a directory. Construct
// with Open, which creates the directory's files if they do not already
// exist and reopens any hash level files already present.
type Backend struct {
	mu     sync.Mutex
	dir    string
	data   *os.File
	index  *os.File
	levels []*os.File
}

// Open opens (creating if necessary) a flat-file backend rooted at dir.
func Open(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, "create backend directory")
	}
	data, err := os.OpenFile(filepath.Join(dir, "data.bin"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open data.bin")
	}
	index, err := os.OpenFile(filepath.Join(dir, "index.bin"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open index.bin")
	}

	var levels []*os.File
	for level := 0; ; level++ {
		path := filepath.Join(dir, fmt.Sprintf("hash%d.bin", level))
		if _, err := os.Stat(path); err != nil {
			break
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "open %s", path)
		}
		levels = append(levels, f)
	}

	return &Backend{dir: dir, data: data, index: index, levels: levels}, nil
}

// Close closes all open files.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	errs := []error{b.data.Close(), b.index.Close()}
	for _, f := range b.levels {
		errs = append(errs, f.Close())
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Size(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, err := b.index.Stat()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "stat index.bin")
	}
	return uint64(info.Size()) / indexEntrySize, nil
}

func (b *Backend) Get(ctx context.Context, id uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := make([]byte, indexEntrySize)
	if _, err := b.index.ReadAt(entry, int64(id)*indexEntrySize); err != nil {
		return nil, pkgerrors.Wrapf(err, "read index entry %d", id)
	}
	offset := binary.BigEndian.Uint64(entry[:8])
	length := binary.BigEndian.Uint64(entry[8:])

	data := make([]byte, length)
	if _, err := b.data.ReadAt(data, int64(offset)); err != nil {
		return nil, pkgerrors.Wrapf(err, "read record %d", id)
	}
	return data, nil
}

func (b *Backend) AddRecord(ctx context.Context, data []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dataInfo, err := b.data.Stat()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "stat data.bin")
	}
	offset := uint64(dataInfo.Size())
	if _, err := b.data.WriteAt(data, int64(offset)); err != nil {
		return 0, pkgerrors.Wrap(err, "write data.bin")
	}

	indexInfo, err := b.index.Stat()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "stat index.bin")
	}
	id := uint64(indexInfo.Size()) / indexEntrySize

	entry := make([]byte, indexEntrySize)
	binary.BigEndian.PutUint64(entry[:8], offset)
	binary.BigEndian.PutUint64(entry[8:], uint64(len(data)))
	if _, err := b.index.WriteAt(entry, int64(indexInfo.Size())); err != nil {
		return 0, pkgerrors.Wrap(err, "write index.bin")
	}
	return id, nil
}

func (b *Backend) levelFile(level uint) (*os.File, error) {
	for uint(len(b.levels)) <= level {
		path := filepath.Join(b.dir, fmt.Sprintf("hash%d.bin", len(b.levels)))
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "create %s", path)
		}
		b.levels = append(b.levels, f)
	}
	return b.levels[level], nil
}

func (b *Backend) AddHash(ctx context.Context, level uint, hash tree.Digest) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := b.levelFile(level)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "stat hash%d.bin", level)
	}
	if len(hash) != hashSize {
		return 0, fmt.Errorf("digest %q is %d bytes, want %d", hash, len(hash), hashSize)
	}
	idx := uint64(info.Size()) / hashSize
	if _, err := f.WriteAt([]byte(hash), info.Size()); err != nil {
		return 0, pkgerrors.Wrapf(err, "write hash%d.bin", level)
	}
	return idx, nil
}

func (b *Backend) GetHash(ctx context.Context, level uint, index uint64) (tree.Digest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if level >= uint(len(b.levels)) {
		return "", fmt.Errorf("level %d has no hash file", level)
	}
	buf := make([]byte, hashSize)
	if _, err := b.levels[level].ReadAt(buf, int64(index)*hashSize); err != nil {
		return "", pkgerrors.Wrapf(err, "read hash level %d index %d", level, index)
	}
	return tree.Digest(buf), nil
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
