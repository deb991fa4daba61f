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

// Package boltstore implements server.Backend on top of a single bbolt
// database file, the Go analogue of the original implementation's RocksDB
// backend (spec.md §6.3): a "data" bucket keyed by big-endian record id, and
// a "hash" bucket keyed by big-endian (level, index). Unlike RocksDB,
// bbolt has no native column families, so the two keyspaces are ordinary
// top-level buckets instead.
package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"

	pkgerrors "github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/transparentlog/tlog/tree"
)

var (
	dataBucket = []byte("data")
	hashBucket = []byte("hash")
)

// Backend is a bbolt-backed server.Backend.
type Backend struct {
	db *bolt.DB
}

// Open opens (creating if necessary) a bbolt database file at path as a
// Backend. Open itself does not compute the size: every Size call recovers
// it by seeking to the highest key present in the data bucket, as the
// original's RocksDB backend recovers size by scanning to its data column
// family's maximum key.
func Open(path string) (*Backend, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open bbolt database")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(dataBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(hashBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create buckets")
	}
	return &Backend{db: db}, nil
}

// Close closes the underlying database file.
func (b *Backend) Close() error {
	return b.db.Close()
}

func recordKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

func hashKey(level uint, index uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(level))
	binary.BigEndian.PutUint64(key[8:], index)
	return key
}

func (b *Backend) Size(ctx context.Context) (uint64, error) {
	var size uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(dataBucket).Cursor()
		key, _ := c.Last()
		if key == nil {
			size = 0
			return nil
		}
		size = binary.BigEndian.Uint64(key) + 1
		return nil
	})
	if err != nil {
		return 0, pkgerrors.Wrap(err, "scan data bucket for size")
	}
	return size, nil
}

func (b *Backend) Get(ctx context.Context, id uint64) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(recordKey(id))
		if v == nil {
			return fmt.Errorf("record %d not found", id)
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *Backend) AddRecord(ctx context.Context, data []byte) (uint64, error) {
	var id uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(dataBucket)
		c := bucket.Cursor()
		key, _ := c.Last()
		if key == nil {
			id = 0
		} else {
			id = binary.BigEndian.Uint64(key) + 1
		}
		return bucket.Put(recordKey(id), data)
	})
	if err != nil {
		return 0, pkgerrors.Wrap(err, "put record")
	}
	return id, nil
}

func (b *Backend) AddHash(ctx context.Context, level uint, hash tree.Digest) (uint64, error) {
	var idx uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(hashBucket)
		prefix := make([]byte, 8)
		binary.BigEndian.PutUint64(prefix, uint64(level))
		c := bucket.Cursor()
		var last uint64
		found := false
		for k, _ := c.Seek(prefix); k != nil && len(k) == 16 && string(k[:8]) == string(prefix); k, _ = c.Next() {
			last = binary.BigEndian.Uint64(k[8:])
			found = true
		}
		if found {
			idx = last + 1
		} else {
			idx = 0
		}
		return bucket.Put(hashKey(level, idx), []byte(hash))
	})
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "put hash at level %d", level)
	}
	return idx, nil
}

func (b *Backend) GetHash(ctx context.Context, level uint, index uint64) (tree.Digest, error) {
	var hash tree.Digest
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(hashBucket).Get(hashKey(level, index))
		if v == nil {
			return fmt.Errorf("hash at level %d index %d not found", level, index)
		}
		hash = tree.Digest(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (b *Backend) Proof(ctx context.Context, positions map[tree.Position[uint64]]struct{}) (map[tree.Position[uint64]]tree.Digest, error) {
	out := make(map[tree.Position[uint64]]tree.Digest, len(positions))
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(hashBucket)
		for p := range positions {
			v := bucket.Get(hashKey(p.Level, p.Index))
			if v == nil {
				return fmt.Errorf("hash at level %d index %d not found", p.Level, p.Index)
			}
			out[p] = tree.Digest(append([]byte(nil), v...))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
