package server_test

import (
	"context"
	"testing"

	"github.com/transparentlog/tlog/proof"
	"github.com/transparentlog/tlog/server"
	"github.com/transparentlog/tlog/store/memory"
	"github.com/transparentlog/tlog/tree"
)

func appendN(t *testing.T, s *server.Server, n int) []server.Record {
	t.Helper()
	ctx := context.Background()
	recs := make([]server.Record, n)
	for i := 0; i < n; i++ {
		r, err := s.Append(ctx, map[string]any{"n": i})
		if err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
		recs[i] = r
	}
	return recs
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	s := server.New(memory.New())
	recs := appendN(t, s, 13)
	for i, r := range recs {
		if r.ID != uint64(i) {
			t.Errorf("record %d: ID = %d, want %d", i, r.ID, i)
		}
	}
}

func TestLatestSizeTracksAppends(t *testing.T) {
	ctx := context.Background()
	s := server.New(memory.New())
	appendN(t, s, 13)
	lt, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if lt.Size != 13 {
		t.Errorf("Latest().Size = %d, want 13", lt.Size)
	}
	if lt.Hash == "" {
		t.Error("Latest().Hash is empty for a non-empty log")
	}
}

func TestLatestOfEmptyLog(t *testing.T) {
	ctx := context.Background()
	s := server.New(memory.New())
	lt, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if lt.Size != 0 || lt.Hash != "" {
		t.Errorf("Latest() of empty log = %+v, want size 0 and empty hash", lt)
	}
}

func TestInclusionProofVerifiesAgainstLatest(t *testing.T) {
	ctx := context.Background()
	s := server.New(memory.New())
	recs := appendN(t, s, 13)
	lt, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	for _, r := range recs {
		p, err := s.InclusionProof(ctx, r.ID, lt.Size)
		if err != nil {
			t.Fatalf("InclusionProof(%d): %v", r.ID, err)
		}
		if err := proof.VerifyInclusion(tree.DefaultHasher, r.ID, lt.Size, r.Hash, p, lt.Hash); err != nil {
			t.Errorf("VerifyInclusion(%d): %v", r.ID, err)
		}
	}
}

// rootAtSize recomputes the root at an arbitrary prior size from a full
// proof over every position materialized by that size, independently of
// Server.Latest (which only ever reports the current size's root).
func rootAtSize(t *testing.T, ctx context.Context, s *server.Server, size uint64) tree.Digest {
	t.Helper()
	sizes := tree.LevelSizes(size)
	positions := map[tree.Position[uint64]]struct{}{}
	for level, sz := range sizes {
		for idx := uint64(0); idx < sz; idx++ {
			positions[tree.Position[uint64]{Level: uint(level), Index: idx}] = struct{}{}
		}
	}
	p, err := s.Proof(ctx, positions)
	if err != nil {
		t.Fatalf("Proof at size %d: %v", size, err)
	}
	return tree.ComputeRoot(tree.DefaultHasher, p, size)
}

func TestConsistencyProofVerifiesAcrossGrowth(t *testing.T) {
	ctx := context.Background()
	s := server.New(memory.New())
	appendN(t, s, 13)

	for m := uint64(1); m < 13; m++ {
		rootM := rootAtSize(t, ctx, s, m)
		lt13, err := s.Latest(ctx)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		p, err := s.ConsistencyProof(ctx, m, 13)
		if err != nil {
			t.Fatalf("ConsistencyProof(%d, 13): %v", m, err)
		}
		if err := proof.VerifyConsistency(tree.DefaultHasher, m, 13, p, rootM, lt13.Hash); err != nil {
			t.Errorf("VerifyConsistency(%d, 13): %v", m, err)
		}
	}
}

func TestConsistencyProofRejectsBadPrecondition(t *testing.T) {
	ctx := context.Background()
	s := server.New(memory.New())
	appendN(t, s, 5)
	if _, err := s.ConsistencyProof(ctx, 0, 5); err == nil {
		t.Error("ConsistencyProof(0, 5) should fail (m must be > 0)")
	}
	if _, err := s.ConsistencyProof(ctx, 5, 5); err == nil {
		t.Error("ConsistencyProof(5, 5) should fail (m must be < n)")
	}
}

func TestVerifySelfCheckSucceeds(t *testing.T) {
	ctx := context.Background()
	s := server.New(memory.New())
	appendN(t, s, 13)
	if err := s.Verify(ctx, 13); err != nil {
		t.Errorf("Verify(13): %v", err)
	}
}

func TestGetReturnsStoredRecord(t *testing.T) {
	ctx := context.Background()
	s := server.New(memory.New())
	appendN(t, s, 3)
	data, err := s.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if len(data) == 0 {
		t.Error("Get(1) returned no data")
	}
}

func TestGetOutOfRangeFails(t *testing.T) {
	ctx := context.Background()
	s := server.New(memory.New())
	appendN(t, s, 3)
	if _, err := s.Get(ctx, 99); err == nil {
		t.Error("Get(99) on a 3-record log should fail")
	}
}
