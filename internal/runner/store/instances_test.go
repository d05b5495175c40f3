package store_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/bdobrica/lcsm/internal/runner/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "lcsm-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	s, err := store.Open(f.Name())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndFindInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inst := &store.Instance{
		ID:            99,
		Name:          "web",
		LaunchCommand: "nginx -g 'daemon off;'",
	}
	if err := s.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}
	if inst.ID != 1 {
		t.Errorf("ID: got %d, want 1 (caller id must be ignored)", inst.ID)
	}

	got, err := s.FindInstanceByID(ctx, inst.ID)
	if err != nil {
		t.Fatalf("FindInstanceByID: %v", err)
	}
	if got.Name != "web" {
		t.Errorf("Name: got %q, want %q", got.Name, "web")
	}
	if got.LaunchCommand != "nginx -g 'daemon off;'" {
		t.Errorf("LaunchCommand: got %q", got.LaunchCommand)
	}
	if got.WorkingDirectory.Valid {
		t.Errorf("WorkingDirectory: got %q, want NULL", got.WorkingDirectory.String)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestFindInstanceNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindInstanceByID(context.Background(), 999)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got, want := err.Error(), "instance 999 not found"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestUpdateInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inst := &store.Instance{Name: "old", LaunchCommand: "sleep 1"}
	if err := s.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}

	inst.Name = "new"
	inst.WorkingDirectory = sql.NullString{String: "/srv/new", Valid: true}
	changed, err := s.UpdateInstance(ctx, inst)
	if err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}
	if !changed {
		t.Fatal("expected a row to change")
	}

	got, err := s.FindInstanceByID(ctx, inst.ID)
	if err != nil {
		t.Fatalf("FindInstanceByID: %v", err)
	}
	if got.Name != "new" || got.WorkingDirectory.String != "/srv/new" {
		t.Errorf("got %+v", got)
	}
}

func TestUpdateUnknownInstanceIsNoop(t *testing.T) {
	s := newTestStore(t)
	changed, err := s.UpdateInstance(context.Background(), &store.Instance{ID: 42, Name: "ghost"})
	if err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}
	if changed {
		t.Fatal("expected no row to change")
	}
	list, _ := s.ListInstances(context.Background())
	if len(list) != 0 {
		t.Fatalf("update must not insert, got %d rows", len(list))
	}
}

func TestDeleteInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inst := &store.Instance{Name: "doomed"}
	if err := s.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("InsertInstance: %v", err)
	}
	if err := s.DeleteInstance(ctx, inst.ID); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	if _, err := s.FindInstanceByID(ctx, inst.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteInstance(ctx, inst.ID); err != nil {
		t.Fatalf("second DeleteInstance: %v", err)
	}
}

func TestListInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if err := s.InsertInstance(ctx, &store.Instance{Name: name, LaunchCommand: "x"}); err != nil {
			t.Fatalf("InsertInstance: %v", err)
		}
	}
	list, err := s.ListInstances(ctx)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d instances, want 3", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID != i+1 || list[i].Name != want {
			t.Errorf("list[%d] = %d/%q, want %d/%q", i, list[i].ID, list[i].Name, i+1, want)
		}
		if list[i].LaunchCommand != "" {
			t.Errorf("list rows carry only id and name, got launch command %q", list[i].LaunchCommand)
		}
	}
}

func TestStoreSurfacesDriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := store.New(sqlx.NewDb(db, "sqlmock"))
	ctx := context.Background()
	boom := errors.New("disk on fire")

	mock.ExpectExec("INSERT INTO instances").WillReturnError(boom)
	if err := s.InsertInstance(ctx, &store.Instance{Name: "x"}); !errors.Is(err, boom) {
		t.Errorf("InsertInstance: expected driver error, got %v", err)
	}

	mock.ExpectQuery("SELECT id, name, launch_command").WithArgs(3).WillReturnError(boom)
	if _, err := s.FindInstanceByID(ctx, 3); !errors.Is(err, boom) || errors.Is(err, store.ErrNotFound) {
		t.Errorf("FindInstanceByID: expected driver error, got %v", err)
	}

	mock.ExpectExec("UPDATE instances").WillReturnResult(sqlmock.NewErrorResult(boom))
	if _, err := s.UpdateInstance(ctx, &store.Instance{ID: 3}); !errors.Is(err, boom) {
		t.Errorf("UpdateInstance: expected rows-affected error, got %v", err)
	}

	mock.ExpectQuery("SELECT id, name FROM instances").WillReturnError(boom)
	if _, err := s.ListInstances(ctx); !errors.Is(err, boom) {
		t.Errorf("ListInstances: expected driver error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
