package memory_test

import (
	"context"
	"testing"

	"github.com/transparentlog/tlog/record"
	"github.com/transparentlog/tlog/server"
	"github.com/transparentlog/tlog/store/memory"
)

func TestBackendSatisfiesServerInterface(t *testing.T) {
	var _ server.Backend = memory.New()
}

func TestAppendAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	s := server.New(b)

	r, err := s.Append(ctx, "hello")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if r.ID != 0 {
		t.Errorf("first record ID = %d, want 0", r.ID)
	}

	data, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var out string
	if err := record.Decode(data, &out); err != nil {
		t.Fatalf("record.Decode: %v", err)
	}
	if out != "hello" {
		t.Errorf("Get returned %q, want %q", out, "hello")
	}
}
