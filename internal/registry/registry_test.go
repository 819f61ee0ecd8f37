package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/oakhost/selfcheckin/internal/db"
	"gorm.io/gorm"
)

var testDBSeq int

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:registry_test_%d?mode=memory&cache=shared", testDBSeq)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestRegisterAndResolve(t *testing.T) {
	reg := New(openTestDB(t))
	ctx := context.Background()

	if err := reg.Register(ctx, "res-1", "cred-1", []byte{1, 2, 3}, 0, []string{"internal"}, true, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	cred, err := reg.FindByCredentialID(ctx, "cred-1")
	if err != nil {
		t.Fatalf("find by credential id: %v", err)
	}
	if cred.ReservationID != "res-1" {
		t.Fatalf("expected reservation res-1, got %q", cred.ReservationID)
	}
	if cred.SignCount != 0 {
		t.Fatalf("expected initial counter 0, got %d", cred.SignCount)
	}

	byRes, err := reg.FindByReservation(ctx, "res-1")
	if err != nil {
		t.Fatalf("find by reservation: %v", err)
	}
	if byRes.CredentialID != "cred-1" {
		t.Fatalf("expected credential cred-1, got %q", byRes.CredentialID)
	}
}

func TestRegister_AlreadyBound(t *testing.T) {
	reg := New(openTestDB(t))
	ctx := context.Background()

	if err := reg.Register(ctx, "res-1", "cred-1", []byte{1}, 0, nil, false, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(ctx, "res-1", "cred-2", []byte{2}, 0, nil, false, false); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}
}

func TestRegister_DuplicateCredential(t *testing.T) {
	reg := New(openTestDB(t))
	ctx := context.Background()

	if err := reg.Register(ctx, "res-1", "cred-1", []byte{1}, 0, nil, false, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(ctx, "res-2", "cred-1", []byte{2}, 0, nil, false, false); !errors.Is(err, ErrDuplicateCredential) {
		t.Fatalf("expected ErrDuplicateCredential, got %v", err)
	}
}

func TestFindByCredentialID_Unknown(t *testing.T) {
	reg := New(openTestDB(t))
	if _, err := reg.FindByCredentialID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateCounter_Advances(t *testing.T) {
	reg := New(openTestDB(t))
	ctx := context.Background()

	if err := reg.Register(ctx, "res-1", "cred-1", []byte{1}, 1, nil, false, false); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.UpdateCounter(ctx, "cred-1", 2); err != nil {
		t.Fatalf("update counter: %v", err)
	}

	cred, err := reg.FindByCredentialID(ctx, "cred-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if cred.SignCount != 2 {
		t.Fatalf("expected counter 2, got %d", cred.SignCount)
	}
	if cred.LastUsedAt == nil {
		t.Fatal("expected last used timestamp to be set")
	}
}

func TestUpdateCounter_Regression(t *testing.T) {
	reg := New(openTestDB(t))
	ctx := context.Background()

	if err := reg.Register(ctx, "res-1", "cred-1", []byte{1}, 5, nil, false, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, counter := range []uint32{5, 4, 0} {
		if err := reg.UpdateCounter(ctx, "cred-1", counter); !errors.Is(err, ErrCounterRegression) {
			t.Fatalf("counter %d: expected ErrCounterRegression, got %v", counter, err)
		}
	}
}

func TestUpdateCounter_ZeroCounterAuthenticator(t *testing.T) {
	reg := New(openTestDB(t))
	ctx := context.Background()

	if err := reg.Register(ctx, "res-1", "cred-1", []byte{1}, 0, nil, false, false); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Authenticators without counters report 0 forever; repeated zeros pass.
	for i := 0; i < 3; i++ {
		if err := reg.UpdateCounter(ctx, "cred-1", 0); err != nil {
			t.Fatalf("round %d: expected zero counter accepted, got %v", i, err)
		}
	}
}

func TestUpdateCounter_Unknown(t *testing.T) {
	reg := New(openTestDB(t))
	if err := reg.UpdateCounter(context.Background(), "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
