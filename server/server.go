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

package server

import (
	"context"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/transparentlog/tlog/proof"
	"github.com/transparentlog/tlog/record"
	"github.com/transparentlog/tlog/tree"
)

// Record is a stored record's id and leaf hash, returned by Append.
type Record struct {
	ID   uint64
	Hash tree.Digest
}

// LogTree is a log's size and root hash at some point in time, as returned
// by Latest.
type LogTree struct {
	Size uint64
	Hash tree.Digest
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithHasher overrides the default SHA-256 hex-concatenation hasher. Only
// useful for tests; a live log's hasher must never change once records have
// been appended under a different one.
func WithHasher(h tree.Hasher) Option {
	return func(s *Server) { s.hasher = h }
}

// WithLogger overrides the default logrus logger.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Server) { s.log = l }
}

// Server implements the log operations of spec.md §4.2-§4.4 on top of a
// Backend. It holds no state of its own beyond the hasher and logger; all
// durable state lives in the Backend.
type Server struct {
	backend Backend
	hasher  tree.Hasher
	log     *logrus.Entry
}

// New returns a Server backed by b, using the default hasher and a
// logrus logger tagged with component=tlog-server unless overridden.
func New(b Backend, opts ...Option) *Server {
	s := &Server{
		backend: b,
		hasher:  tree.DefaultHasher,
		log:     logrus.WithField("component", "tlog-server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) fail(op string, kind Kind, err error) error {
	wrapped := &Error{Kind: kind, Op: op, Err: err}
	s.log.WithFields(logrus.Fields{"op": op, "kind": kind.String()}).WithError(err).Error("tlog operation failed")
	return wrapped
}

// Size returns the number of records appended so far.
func (s *Server) Size(ctx context.Context) (uint64, error) {
	n, err := s.backend.Size(ctx)
	if err != nil {
		return 0, s.fail("Size", BackendIO, pkgerrors.Wrap(err, "backend size"))
	}
	return n, nil
}

// Append encodes and stores a new record, then folds its leaf hash into the
// tree via the push_hash cascade (spec.md §4.2). It returns the record's id
// (its index, always the log's size before this call) and leaf hash, not
// the post-append size: a client that wants the new size calls Latest.
func (s *Server) Append(ctx context.Context, v any) (Record, error) {
	data, err := record.Encode(v)
	if err != nil {
		return Record{}, s.fail("Append", Codec, pkgerrors.Wrap(err, "encode record"))
	}
	leaf := record.LeafHash(data)

	id, err := s.backend.AddRecord(ctx, data)
	if err != nil {
		return Record{}, s.fail("Append", BackendIO, pkgerrors.Wrap(err, "store record"))
	}
	if _, err := s.pushHash(ctx, 0, leaf); err != nil {
		return Record{}, err
	}
	return Record{ID: id, Hash: leaf}, nil
}

// pushHash stores hash at the given level and, if doing so completed a
// pair (its new index within the level is odd), recursively combines it
// with its now-complete sibling and pushes the result one level up. This
// is the only place interior node hashes are ever created, and it creates
// exactly one per completed pair: a tree of n leaves materializes at most
// ceil(lg n) new interior hashes per append.
func (s *Server) pushHash(ctx context.Context, level uint, hash tree.Digest) (uint64, error) {
	id, err := s.backend.AddHash(ctx, level, hash)
	if err != nil {
		return 0, s.fail("Append", BackendIO, pkgerrors.Wrapf(err, "store hash at level %d", level))
	}
	if id%2 == 1 {
		sibling, err := s.backend.GetHash(ctx, level, id-1)
		if err != nil {
			return 0, s.fail("Append", BackendIO, pkgerrors.Wrapf(err, "fetch sibling at level %d index %d", level, id-1))
		}
		parent := s.hasher.HashChildren(sibling, hash)
		if _, err := s.pushHash(ctx, level+1, parent); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// Latest returns the log's current size and root hash, computed from the
// frontier of odd-count levels (spec.md §4.3): O(log n) backend reads and
// no recursion, unlike recomputing the root from a full Proof.
func (s *Server) Latest(ctx context.Context) (LogTree, error) {
	size, err := s.backend.Size(ctx)
	if err != nil {
		return LogTree{}, s.fail("Latest", BackendIO, pkgerrors.Wrap(err, "backend size"))
	}
	root, err := s.latestRoot(ctx, size)
	if err != nil {
		return LogTree{}, err
	}
	return LogTree{Size: size, Hash: root}, nil
}

func (s *Server) latestRoot(ctx context.Context, size uint64) (tree.Digest, error) {
	sizes := tree.LevelSizes(size)
	if len(sizes) == 0 {
		return "", nil
	}

	var stack []tree.Digest
	for level := len(sizes) - 1; level >= 0; level-- {
		sz := sizes[level]
		if sz%2 == 1 {
			h, err := s.backend.GetHash(ctx, uint(level), sz-1)
			if err != nil {
				return "", s.fail("Latest", BackendIO, pkgerrors.Wrapf(err, "fetch frontier hash at level %d", level))
			}
			stack = append(stack, h)
		}
	}

	for len(stack) > 1 {
		top := stack[len(stack)-1]
		next := stack[len(stack)-2]
		stack = stack[:len(stack)-2]
		stack = append(stack, s.hasher.HashChildren(next, top))
	}
	if len(stack) == 0 {
		return "", nil
	}
	return stack[0], nil
}

// Get returns the raw encoded record stored at id.
func (s *Server) Get(ctx context.Context, id uint64) ([]byte, error) {
	data, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, s.fail("Get", InvalidIndex, pkgerrors.Wrapf(err, "fetch record %d", id))
	}
	return data, nil
}

// Proof fetches the hash at every requested position.
func (s *Server) Proof(ctx context.Context, positions map[tree.Position[uint64]]struct{}) (proof.Proof, error) {
	nodes, err := s.backend.Proof(ctx, positions)
	if err != nil {
		return nil, s.fail("Proof", InvalidHeight, pkgerrors.Wrap(err, "fetch proof positions"))
	}
	return proof.Proof(nodes), nil
}

// InclusionProof returns the inclusion proof for record i in the tree of
// the given size, ready to pass to proof.VerifyInclusion.
func (s *Server) InclusionProof(ctx context.Context, i, size uint64) (proof.Proof, error) {
	return s.Proof(ctx, tree.InclusionPositions(i, size))
}

// ConsistencyProof returns the consistency proof between tree sizes m and
// n, ready to pass to proof.VerifyConsistency. Requires 0 < m < n.
func (s *Server) ConsistencyProof(ctx context.Context, m, n uint64) (proof.Proof, error) {
	positions, err := tree.ConsistencyPositions(m, n)
	if err != nil {
		return nil, s.fail("ConsistencyProof", Precondition, err)
	}
	return s.Proof(ctx, positions)
}

// Verify recomputes the root of the tree of the given size from a full
// proof over every materialized position and checks it against the
// frontier-computed root from Latest. It is a server-side self-check for
// catching backend corruption that the append path's own bookkeeping would
// not notice on its own (e.g. after reopening a persisted backend).
func (s *Server) Verify(ctx context.Context, size uint64) error {
	sizes := tree.LevelSizes(size)
	positions := map[tree.Position[uint64]]struct{}{}
	for level, sz := range sizes {
		for idx := uint64(0); idx < sz; idx++ {
			positions[tree.Position[uint64]{Level: uint(level), Index: idx}] = struct{}{}
		}
	}
	nodes, err := s.backend.Proof(ctx, positions)
	if err != nil {
		return s.fail("Verify", BackendIO, pkgerrors.Wrap(err, "fetch full proof"))
	}
	recomputed := tree.ComputeRoot(s.hasher, nodes, size)

	want, err := s.latestRoot(ctx, size)
	if err != nil {
		return err
	}
	if recomputed != want {
		return s.fail("Verify", BackendIO, pkgerrors.Errorf("recomputed root %s does not match frontier root %s at size %d", recomputed, want, size))
	}
	return nil
}
