package challenge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/oakhost/selfcheckin/internal/db"
	"github.com/oakhost/selfcheckin/internal/models"
	"gorm.io/gorm"
)

var testDBSeq int

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:challenge_test_%d?mode=memory&cache=shared", testDBSeq)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func testSession(challenge string) *webauthn.SessionData {
	return &webauthn.SessionData{Challenge: challenge, UserID: []byte("res-1")}
}

func TestIssueAndRedeem(t *testing.T) {
	store := NewStore(openTestDB(t), 5*time.Minute)
	ctx := context.Background()

	handle, err := store.Issue(ctx, models.CeremonyRegistration, "res-1", testSession("abc"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if handle == "" {
		t.Fatal("expected non-empty handle")
	}

	session, reservationID, err := store.Redeem(ctx, handle, models.CeremonyRegistration)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if session.Challenge != "abc" {
		t.Fatalf("expected stored challenge, got %q", session.Challenge)
	}
	if reservationID != "res-1" {
		t.Fatalf("expected reservation id res-1, got %q", reservationID)
	}
}

func TestRedeem_ExactlyOnce(t *testing.T) {
	store := NewStore(openTestDB(t), 5*time.Minute)
	ctx := context.Background()

	handle, err := store.Issue(ctx, models.CeremonyAuthentication, "", testSession("abc"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, _, err := store.Redeem(ctx, handle, models.CeremonyAuthentication); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	if _, _, err := store.Redeem(ctx, handle, models.CeremonyAuthentication); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second redeem, got %v", err)
	}
}

func TestRedeem_ConcurrentSingleWinner(t *testing.T) {
	store := NewStore(openTestDB(t), 5*time.Minute)
	ctx := context.Background()

	handle, err := store.Issue(ctx, models.CeremonyAuthentication, "", testSession("abc"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errRedeem := store.Redeem(ctx, handle, models.CeremonyAuthentication)
			results <- errRedeem
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for errRedeem := range results {
		switch errRedeem {
		case nil:
			wins++
		case ErrNotFound:
			losses++
		default:
			t.Fatalf("unexpected redeem error: %v", errRedeem)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d (losses %d)", wins, losses)
	}
}

func TestRedeem_WrongKind(t *testing.T) {
	store := NewStore(openTestDB(t), 5*time.Minute)
	ctx := context.Background()

	handle, err := store.Issue(ctx, models.CeremonyRegistration, "res-1", testSession("abc"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := store.Redeem(ctx, handle, models.CeremonyAuthentication); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for kind mismatch, got %v", err)
	}
}

func TestRedeem_Expired(t *testing.T) {
	store := NewStore(openTestDB(t), 5*time.Minute)
	ctx := context.Background()

	handle, err := store.Issue(ctx, models.CeremonyAuthentication, "", testSession("abc"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	store.now = func() time.Time { return time.Now().Add(6 * time.Minute) }
	if _, _, err := store.Redeem(ctx, handle, models.CeremonyAuthentication); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRedeem_Unknown(t *testing.T) {
	store := NewStore(openTestDB(t), 5*time.Minute)
	if _, _, err := store.Redeem(context.Background(), "no-such-handle", models.CeremonyAuthentication); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestRedeem_SurvivesConcurrentPurge hammers redemptions while a purger keeps
// deleting consumed rows. Every redemption must still return its session data:
// a purge racing the consume must never fail the winning redeemer.
func TestRedeem_SurvivesConcurrentPurge(t *testing.T) {
	store := NewStore(openTestDB(t), 5*time.Minute)
	ctx := context.Background()

	stop := make(chan struct{})
	var purger sync.WaitGroup
	purger.Add(1)
	go func() {
		defer purger.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if _, err := store.PurgeStale(ctx); err != nil {
					return
				}
			}
		}
	}()

	for i := 0; i < 50; i++ {
		challenge := fmt.Sprintf("challenge-%d", i)
		handle, err := store.Issue(ctx, models.CeremonyAuthentication, "", testSession(challenge))
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		session, _, errRedeem := store.Redeem(ctx, handle, models.CeremonyAuthentication)
		if errRedeem != nil {
			t.Fatalf("redeem %d: %v", i, errRedeem)
		}
		if session.Challenge != challenge {
			t.Fatalf("redeem %d: expected challenge %q, got %q", i, challenge, session.Challenge)
		}
	}

	close(stop)
	purger.Wait()
}

func TestPurgeStale(t *testing.T) {
	store := NewStore(openTestDB(t), 5*time.Minute)
	ctx := context.Background()

	consumed, err := store.Issue(ctx, models.CeremonyAuthentication, "", testSession("a"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := store.Redeem(ctx, consumed, models.CeremonyAuthentication); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := store.Issue(ctx, models.CeremonyAuthentication, "", testSession("b")); err != nil {
		t.Fatalf("issue: %v", err)
	}

	purged, err := store.PurgeStale(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged row, got %d", purged)
	}
}
