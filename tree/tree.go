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

// Package tree implements the position algebra of an unbalanced binary
// Merkle tree over an append-only log: which node hashes an inclusion or
// consistency proof needs, and how to recompute a root from a sparse bag of
// them. It has no notion of records, storage, or transport; it is pure,
// total, integer math, generic over the integer type used to count log
// entries.
package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/exp/constraints"
)

// Digest is the lowercase hex rendering of a fixed-width hash output. The
// empty string is a distinguished sentinel meaning "no node here" or "root
// of the empty tree".
type Digest string

// ErrPrecondition is returned by ConsistencyPositions when called outside
// its documented domain (0 < m < n).
var ErrPrecondition = errors.New("tree: consistency positions require 0 < m < n")

// Hasher computes the hash of an interior node from its children. The
// reference hasher concatenates the *hex renderings* of the children before
// hashing, not their raw bytes; this is a deliberate, permanent wire-format
// decision (see DefaultHasher) and any substitute must preserve it to stay
// compatible with a persisted tree.
type Hasher interface {
	HashChildren(left, right Digest) Digest
}

// DefaultHasher is SHA-256 over the concatenation of the two children's hex
// renderings: H(hex(left) || hex(right)).
var DefaultHasher Hasher = sha256HexHasher{}

type sha256HexHasher struct{}

func (sha256HexHasher) HashChildren(left, right Digest) Digest {
	h := sha256.New()
	h.Write([]byte(left))
	h.Write([]byte(right))
	return Digest(hex.EncodeToString(h.Sum(nil)))
}

// Position identifies a node in the tree: level 0 holds leaf hashes in
// append order, level k+1 holds pairwise combinations of level k.
type Position[S constraints.Unsigned] struct {
	Level uint
	Index S
}

// LevelSizes returns the count of nodes present at each level of a log of
// size n. The first element is n; each subsequent element is the floor of
// half the previous one. The list stops at the first level k with 2^k >= n
// (the level holding the root), so it has ceil(log2(n))+1 entries and its
// last entry is 0 whenever n is not a power of two: that level's sole subtree
// isn't "closed" and holds no materialized node, but the level still
// exists in the tree's geometry and callers must tolerate it.
func LevelSizes[S constraints.Unsigned](n S) []S {
	var zero S
	if n == zero {
		return nil
	}
	one := S(1)
	two := S(2)
	sizes := []S{n}
	sz := n
	height := one
	for height < n && sz > zero {
		if sz == one {
			sz = zero
		} else {
			sz = sz / two
		}
		sizes = append(sizes, sz)
		height = height * two
	}
	return sizes
}

// InclusionPositions returns the minimal set of node positions whose hashes,
// together with the leaf at (0, i), suffice to recompute the root of a
// size-n tree. Requires 0 <= i < n.
func InclusionPositions[S constraints.Unsigned](i, n S) map[Position[S]]struct{} {
	sizes := LevelSizes(n)
	proof := map[Position[S]]struct{}{}
	if len(sizes) == 0 {
		return proof
	}
	inclusionStep(0, i, n, sizes, proof)
	return proof
}

func inclusionStep[S constraints.Unsigned](level uint, index, size S, sizes []S, proof map[Position[S]]struct{}) {
	one := S(1)
	two := S(2)
	if index%two == 0 {
		if index+one < size {
			proof[Position[S]{Level: level, Index: index + one}] = struct{}{}
		} else {
			newLevel := level
			newIndex := index + one
			for newLevel > 0 {
				newLevel--
				newIndex = newIndex * two
				if newIndex < sizes[newLevel] {
					proof[Position[S]{Level: newLevel, Index: newIndex}] = struct{}{}
					break
				}
			}
		}
	} else {
		proof[Position[S]{Level: level, Index: index - one}] = struct{}{}
	}
	if int(level)+1 < len(sizes) {
		inclusionStep(level+1, index/two, size/two, sizes, proof)
	}
}

// ConsistencyPositions returns the positions sufficient to prove that the
// tree of size m is a prefix of the tree of size n. Requires 0 < m < n;
// returns ErrPrecondition otherwise.
func ConsistencyPositions[S constraints.Unsigned](m, n S) (map[Position[S]]struct{}, error) {
	var zero S
	if m == zero || m >= n {
		return nil, ErrPrecondition
	}

	proof := InclusionPositions(m, n)
	for p := range InclusionPositions(m-1, n) {
		proof[p] = struct{}{}
	}

	sizes2 := LevelSizes(n)
	two := S(2)
	last := len(sizes2) - 1
	for level, sz := range sizes2 {
		if level < last && sz%two == 1 {
			proof[Position[S]{Level: uint(level), Index: sz - 1}] = struct{}{}
			break
		}
	}
	return proof, nil
}

// ComputeRoot recomputes the root hash of a size-n tree from a sparse bag of
// node hashes, recursing top-down from the highest level. It returns "" if
// n is 0. Positions absent from nodes (and not coverable by combining known
// descendants) contribute "", which ComputeRoot treats as "subtree not
// present" rather than as a zero hash: a lone left child with no right
// sibling propagates its hash unchanged up the levels it has not yet met a
// sibling at (the RFC 6962 "dangling right child" rule).
func ComputeRoot[S constraints.Unsigned](h Hasher, nodes map[Position[S]]Digest, n S) Digest {
	sizes := LevelSizes(n)
	if len(sizes) == 0 {
		return ""
	}
	return computeHash(h, Position[S]{Level: uint(len(sizes) - 1), Index: 0}, nodes, sizes)
}

func computeHash[S constraints.Unsigned](h Hasher, pos Position[S], nodes map[Position[S]]Digest, sizes []S) Digest {
	if pos.Index < sizes[pos.Level] {
		if d, ok := nodes[pos]; ok {
			return d
		}
	}
	if pos.Level == 0 {
		return ""
	}
	two := S(2)
	left := computeHash(h, Position[S]{Level: pos.Level - 1, Index: pos.Index * two}, nodes, sizes)
	right := computeHash(h, Position[S]{Level: pos.Level - 1, Index: pos.Index*two + 1}, nodes, sizes)
	if right == "" {
		return left
	}
	return h.HashChildren(left, right)
}
