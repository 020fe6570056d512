package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/and161185/paircloud/internal/errs"
	"github.com/and161185/paircloud/internal/repository/memory"
)

func TestDataService_Validation(t *testing.T) {
	t.Parallel()
	s := NewDataService(memory.NewDataRepo())
	ctx := context.Background()

	if _, err := s.Save(ctx, 0, "k", nil); err == nil {
		t.Fatalf("want error on empty userID")
	}
	if _, err := s.Save(ctx, 1, "", nil); err == nil {
		t.Fatalf("want error on empty key")
	}
	if _, err := s.Save(ctx, 1, strings.Repeat("k", MaxKeyLen+1), nil); err == nil {
		t.Fatalf("want error on long key")
	}
	if _, err := s.Save(ctx, 1, "k", make([]byte, MaxValueLen+1)); err == nil {
		t.Fatalf("want error on large value")
	}
	if _, err := s.LoadAll(ctx, 0); err == nil {
		t.Fatalf("want error on empty userID")
	}
	if err := s.Delete(ctx, 1, ""); err == nil {
		t.Fatalf("want error on empty key")
	}
}

func TestDataService_Roundtrip(t *testing.T) {
	t.Parallel()
	s := NewDataService(memory.NewDataRepo())
	ctx := context.Background()

	r1, err := s.Save(ctx, 7, "b", []byte("one"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	r2, err := s.Save(ctx, 7, "b", []byte("two"))
	if err != nil || r2.Ver <= r1.Ver {
		t.Fatalf("version did not grow: %d -> %d (%v)", r1.Ver, r2.Ver, err)
	}
	if _, err := s.Save(ctx, 7, "a", []byte("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save(ctx, 8, "a", []byte("other user")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, 7, "b")
	if err != nil || string(got.Value) != "two" {
		t.Fatalf("Load: %+v %v", got, err)
	}
	all, err := s.LoadAll(ctx, 7)
	if err != nil || len(all) != 2 || all[0].Key != "a" {
		t.Fatalf("LoadAll: %+v %v", all, err)
	}

	if err := s.Delete(ctx, 7, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, 7, "b"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
