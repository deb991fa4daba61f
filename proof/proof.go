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

// Package proof verifies inclusion and consistency proofs for a log Merkle
// tree built from tree.Position node hashes, independently of how those
// hashes were fetched or stored.
package proof

import (
	"fmt"

	"github.com/transparentlog/tlog/tree"
)

// RootMismatchError is returned when a proof's recomputed root does not
// match the expected one. Unlike a bare boolean, it lets a caller log why a
// proof failed.
type RootMismatchError struct {
	Size     uint64      // The tree size at which the mismatch was detected.
	Computed tree.Digest // The root hash recomputed from the proof.
	Expected tree.Digest // The root hash the caller expected.
}

func (e RootMismatchError) Error() string {
	return fmt.Sprintf("root hash at size %d mismatched: computed %s, expected %s", e.Size, e.Computed, e.Expected)
}

// Proof is a flat bag of node hashes, keyed by their tree position, as
// returned by a backend's Proof primitive for a set of requested positions.
type Proof map[tree.Position[uint64]]tree.Digest

// VerifyInclusion checks that the leaf hash at index i is included in the
// tree of the given size and root, using the supplied proof. Requires
// 0 <= i < size.
func VerifyInclusion(h tree.Hasher, i, size uint64, leaf tree.Digest, p Proof, root tree.Digest) error {
	if i >= size {
		return fmt.Errorf("index %d out of range for size %d", i, size)
	}
	nodes := make(map[tree.Position[uint64]]tree.Digest, len(p)+1)
	for pos, d := range p {
		nodes[pos] = d
	}
	nodes[tree.Position[uint64]{Level: 0, Index: i}] = leaf
	got := tree.ComputeRoot(h, nodes, size)
	return verifyMatch(size, got, root)
}

// VerifyConsistency checks that the tree of size m is a prefix of the tree
// of size n, given their respective roots and a consistency proof between
// them. Requires 0 < m < n; for m == n it only requires root1 == root2 and
// does not look at the proof, and for m == 0 any n and proof verify (the
// empty tree is a prefix of everything).
func VerifyConsistency(h tree.Hasher, m, n uint64, p Proof, root1, root2 tree.Digest) error {
	if m > n {
		return fmt.Errorf("tree size %d > %d", m, n)
	}
	if m == 0 {
		return nil
	}
	if m == n {
		return verifyMatch(m, root1, root2)
	}
	nodes := make(map[tree.Position[uint64]]tree.Digest, len(p))
	for pos, d := range p {
		nodes[pos] = d
	}
	if got := tree.ComputeRoot(h, nodes, m); got != root1 {
		return verifyMatch(m, got, root1)
	}
	if got := tree.ComputeRoot(h, nodes, n); got != root2 {
		return verifyMatch(n, got, root2)
	}
	return nil
}

func verifyMatch(size uint64, computed, expected tree.Digest) error {
	if computed != expected {
		return RootMismatchError{Size: size, Computed: computed, Expected: expected}
	}
	return nil
}
