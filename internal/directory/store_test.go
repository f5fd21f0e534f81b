package directory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/threadgate/internal/storage"
	"github.com/mattjoyce/threadgate/internal/thread"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "threadgate.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestAddAndLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	alice, err := s.Add(ctx, AddRequest{Login: "alice", Name: "Alice", Code: "ALC"})
	if err != nil {
		t.Fatalf("Add alice: %v", err)
	}
	boss, err := s.Add(ctx, AddRequest{Login: "boss", Permissions: thread.Permissions(0).With(thread.CanViewThreads)})
	if err != nil {
		t.Fatalf("Add boss: %v", err)
	}

	got, err := s.OperatorByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("OperatorByID: %v", err)
	}
	if *got != *alice {
		t.Fatalf("OperatorByID = %+v, want %+v", got, alice)
	}

	byCode, err := s.OperatorByCode(ctx, "ALC")
	if err != nil {
		t.Fatalf("OperatorByCode: %v", err)
	}
	if byCode.ID != alice.ID {
		t.Fatalf("OperatorByCode id = %d, want %d", byCode.ID, alice.ID)
	}

	gotBoss, err := s.OperatorByID(ctx, boss.ID)
	if err != nil || !gotBoss.Can(thread.CanViewThreads) {
		t.Fatalf("boss should hold view_threads: %+v, %v", gotBoss, err)
	}
	if got.Can(thread.CanViewThreads) {
		t.Fatal("alice should not hold view_threads")
	}

	ops, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ops) != 2 || ops[0].Login != "alice" || ops[1].Code != "" {
		t.Fatalf("unexpected list: %+v", ops)
	}
}

func TestLookupMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	if _, err := s.OperatorByID(ctx, 42); !errors.Is(err, ErrOperatorNotFound) {
		t.Fatalf("OperatorByID err = %v, want ErrOperatorNotFound", err)
	}
	if _, err := s.OperatorByCode(ctx, ""); !errors.Is(err, ErrOperatorNotFound) {
		t.Fatalf("OperatorByCode err = %v, want ErrOperatorNotFound", err)
	}
}

func TestAddRejectsDuplicateCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	if _, err := s.Add(ctx, AddRequest{Login: "a", Code: "X"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(ctx, AddRequest{Login: "b", Code: "X"}); err == nil {
		t.Fatal("expected unique code violation")
	}
	if _, err := s.Add(ctx, AddRequest{Login: "  "}); err == nil {
		t.Fatal("expected empty login error")
	}
}
