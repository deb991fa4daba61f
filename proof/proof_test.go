package proof

import (
	"testing"

	"github.com/transparentlog/tlog/tree"
)

// buildTree takes n leaf labels ("leaf-a", "leaf-b", ...) as leaf hashes and
// combines them bottom-up exactly the way server.Server.Append does, and
// returns every node hash it produced plus the leaf hashes, so tests can
// build proofs by hand without the server package.
func buildTree(n int) (map[tree.Position[uint64]]tree.Digest, []tree.Digest) {
	h := tree.DefaultHasher
	nodes := map[tree.Position[uint64]]tree.Digest{}
	leaves := make([]tree.Digest, n)
	levelCount := map[uint]uint64{}
	for i := 0; i < n; i++ {
		leaves[i] = tree.Digest(leafLabel(i))
	}
	for i := 0; i < n; i++ {
		level := uint(0)
		hash := leaves[i]
		idx := levelCount[level]
		nodes[tree.Position[uint64]{Level: level, Index: idx}] = hash
		levelCount[level] = idx + 1
		for idx%2 == 1 {
			siblingIdx := idx - 1
			sibling := nodes[tree.Position[uint64]{Level: level, Index: siblingIdx}]
			hash = h.HashChildren(sibling, hash)
			level++
			idx = levelCount[level]
			nodes[tree.Position[uint64]{Level: level, Index: idx}] = hash
			levelCount[level] = idx + 1
		}
	}
	return nodes, leaves
}

func leafLabel(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	return "leaf-" + string(alphabet[i%len(alphabet)])
}

func proofFor(nodes map[tree.Position[uint64]]tree.Digest, positions map[tree.Position[uint64]]struct{}) Proof {
	p := make(Proof, len(positions))
	for pos := range positions {
		p[pos] = nodes[pos]
	}
	return p
}

func TestVerifyInclusionRoundTrip(t *testing.T) {
	const n = 13
	nodes, leaves := buildTree(n)
	root := tree.ComputeRoot[uint64](tree.DefaultHasher, nodes, n)

	for i := 0; i < n; i++ {
		positions := tree.InclusionPositions(uint64(i), uint64(n))
		p := proofFor(nodes, positions)
		if err := VerifyInclusion(tree.DefaultHasher, uint64(i), n, leaves[i], p, root); err != nil {
			t.Errorf("VerifyInclusion(%d): %v", i, err)
		}
	}
}

func TestVerifyInclusionRejectsWrongLeaf(t *testing.T) {
	const n = 13
	nodes, _ := buildTree(n)
	root := tree.ComputeRoot[uint64](tree.DefaultHasher, nodes, n)
	positions := tree.InclusionPositions(uint64(3), uint64(n))
	p := proofFor(nodes, positions)

	err := VerifyInclusion(tree.DefaultHasher, 3, n, tree.Digest("not-the-real-leaf"), p, root)
	if _, ok := err.(RootMismatchError); !ok {
		t.Fatalf("VerifyInclusion with wrong leaf: err = %v, want RootMismatchError", err)
	}
}

func TestVerifyInclusionOutOfRange(t *testing.T) {
	err := VerifyInclusion(tree.DefaultHasher, 5, 5, tree.Digest("x"), nil, tree.Digest("r"))
	if err == nil {
		t.Fatal("VerifyInclusion(index==size) should fail")
	}
}

func TestVerifyConsistencyRoundTrip(t *testing.T) {
	const n = 13
	nodes, _ := buildTree(n)
	root13 := tree.ComputeRoot[uint64](tree.DefaultHasher, nodes, n)

	for m := uint64(1); m < n; m++ {
		root := tree.ComputeRoot[uint64](tree.DefaultHasher, nodes, m)
		positions, err := tree.ConsistencyPositions(m, n)
		if err != nil {
			t.Fatalf("ConsistencyPositions(%d, %d): %v", m, n, err)
		}
		p := proofFor(nodes, positions)
		if err := VerifyConsistency(tree.DefaultHasher, m, n, p, root, root13); err != nil {
			t.Errorf("VerifyConsistency(%d, %d): %v", m, n, err)
		}
	}
}

func TestVerifyConsistencyEqualSizes(t *testing.T) {
	root := tree.Digest("same-root")
	if err := VerifyConsistency(tree.DefaultHasher, 5, 5, nil, root, root); err != nil {
		t.Errorf("VerifyConsistency(m == n, same root): %v", err)
	}
	if err := VerifyConsistency(tree.DefaultHasher, 5, 5, nil, root, tree.Digest("other")); err == nil {
		t.Error("VerifyConsistency(m == n, different roots) should fail")
	}
}

func TestVerifyConsistencyEmptyPrefix(t *testing.T) {
	if err := VerifyConsistency(tree.DefaultHasher, 0, 13, nil, tree.Digest(""), tree.Digest("anything")); err != nil {
		t.Errorf("VerifyConsistency(m == 0): %v", err)
	}
}
