package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/oakhost/selfcheckin/internal/config"
	"github.com/oakhost/selfcheckin/internal/db"
	"github.com/oakhost/selfcheckin/internal/models"
	"github.com/oakhost/selfcheckin/internal/security"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

var testJWT = config.JWTConfig{Secret: "test-secret", Expiry: time.Hour}

var testDBSeq int

func newTestServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDBSeq++
	dsn := fmt.Sprintf("file:admin_api_test_%d?mode=memory&cache=shared", testDBSeq)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	engine := gin.New()
	RegisterAdminRoutes(engine, conn, testJWT, 6)
	return engine, conn
}

func seedAdmin(t *testing.T, conn *gorm.DB, username, password string) {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	admin := models.Admin{Username: username, Password: hash, Active: true}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func login(t *testing.T, engine *gin.Engine, username, password string) string {
	t.Helper()
	rec := doJSON(t, engine, http.MethodPost, "/v0/admin/login", "", gin.H{"username": username, "password": password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &out)
	if out.Token == "" {
		t.Fatalf("expected token, got %s", rec.Body.String())
	}
	return out.Token
}

func TestAdminAPI_LoginRejectsBadCredentials(t *testing.T) {
	engine, conn := newTestServer(t)
	seedAdmin(t, conn, "admin", "correct-horse")

	rec := doJSON(t, engine, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "admin", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, engine, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "ghost", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown admin, got %d", rec.Code)
	}
}

func TestAdminAPI_RoutesRequireToken(t *testing.T) {
	engine, _ := newTestServer(t)

	rec := doJSON(t, engine, http.MethodGet, "/v0/admin/reservations", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doJSON(t, engine, http.MethodGet, "/v0/admin/reservations", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestAdminAPI_ReservationLifecycle(t *testing.T) {
	engine, conn := newTestServer(t)
	seedAdmin(t, conn, "admin", "correct-horse")
	token := login(t, engine, "admin", "correct-horse")

	rec := doJSON(t, engine, http.MethodPost, "/v0/admin/reservations", token, gin.H{"guest_name": "Ada Lovelace"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID         string `json:"id"`
		SecretCode string `json:"secret_code"`
		DoorPIN    string `json:"door_pin"`
	}
	decodeBody(t, rec, &created)
	if created.ID == "" {
		t.Fatal("expected reservation id")
	}
	if len(created.SecretCode) != 11 {
		t.Fatalf("expected XXX-XXX-XXX secret code, got %q", created.SecretCode)
	}
	if len(created.DoorPIN) != 6 {
		t.Fatalf("expected 6-digit door pin, got %q", created.DoorPIN)
	}

	rec = doJSON(t, engine, http.MethodGet, "/v0/admin/reservations", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d: %s", rec.Code, rec.Body.String())
	}
	var listed struct {
		Reservations []map[string]any `json:"reservations"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Reservations) != 1 {
		t.Fatalf("expected 1 reservation, got %d", len(listed.Reservations))
	}

	rec = doJSON(t, engine, http.MethodPut, "/v0/admin/reservations/"+created.ID, token, gin.H{"guest_contact": "ada@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodGet, "/v0/admin/reservations/"+created.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d: %s", rec.Code, rec.Body.String())
	}
	var fetched map[string]any
	decodeBody(t, rec, &fetched)
	if fetched["guest_contact"] != "ada@example.com" {
		t.Fatalf("expected updated contact, got %v", fetched["guest_contact"])
	}

	rec = doJSON(t, engine, http.MethodDelete, "/v0/admin/reservations/"+created.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, engine, http.MethodGet, "/v0/admin/reservations/"+created.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestAdminAPI_SuppliedDoorPINKept(t *testing.T) {
	engine, conn := newTestServer(t)
	seedAdmin(t, conn, "admin", "correct-horse")
	token := login(t, engine, "admin", "correct-horse")

	rec := doJSON(t, engine, http.MethodPost, "/v0/admin/reservations", token, gin.H{"door_pin": "90210"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		DoorPIN string `json:"door_pin"`
	}
	decodeBody(t, rec, &created)
	if created.DoorPIN != "90210" {
		t.Fatalf("expected supplied door pin, got %q", created.DoorPIN)
	}
}

func TestAdminAPI_UpdateCannotChangeDoorPIN(t *testing.T) {
	engine, conn := newTestServer(t)
	seedAdmin(t, conn, "admin", "correct-horse")
	token := login(t, engine, "admin", "correct-horse")

	rec := doJSON(t, engine, http.MethodPost, "/v0/admin/reservations", token, gin.H{"door_pin": "111111"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID         string `json:"id"`
		SecretCode string `json:"secret_code"`
	}
	decodeBody(t, rec, &created)

	rec = doJSON(t, engine, http.MethodPut, "/v0/admin/reservations/"+created.ID, token, gin.H{
		"guest_name": "Ada Lovelace",
		"door_pin":   "222222",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", rec.Code, rec.Body.String())
	}

	var reservation models.Reservation
	if err := conn.First(&reservation, "id = ?", created.ID).Error; err != nil {
		t.Fatalf("reload reservation: %v", err)
	}
	if reservation.DoorPIN != "111111" {
		t.Fatalf("door pin changed after update: %q", reservation.DoorPIN)
	}
	if reservation.SecretCode != created.SecretCode {
		t.Fatalf("secret code changed after update: %q", reservation.SecretCode)
	}
	if reservation.GuestName != "Ada Lovelace" {
		t.Fatalf("expected guest name update to apply, got %q", reservation.GuestName)
	}
}

func TestAdminAPI_TOTPEnrollmentAndLogin(t *testing.T) {
	engine, conn := newTestServer(t)
	seedAdmin(t, conn, "admin", "correct-horse")
	token := login(t, engine, "admin", "correct-horse")

	rec := doJSON(t, engine, http.MethodGet, "/v0/admin/mfa/status", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var status struct {
		Enrolled bool `json:"totp_enrolled"`
	}
	decodeBody(t, rec, &status)
	if status.Enrolled {
		t.Fatal("expected totp not enrolled")
	}

	rec = doJSON(t, engine, http.MethodPost, "/v0/admin/mfa/totp/prepare", token, gin.H{})
	if rec.Code != http.StatusOK {
		t.Fatalf("prepare status %d: %s", rec.Code, rec.Body.String())
	}
	var prepared struct {
		Secret string `json:"secret"`
		URL    string `json:"url"`
	}
	decodeBody(t, rec, &prepared)
	if prepared.Secret == "" || prepared.URL == "" {
		t.Fatalf("expected secret and url, got %s", rec.Body.String())
	}

	code, err := totp.GenerateCode(prepared.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	rec = doJSON(t, engine, http.MethodPost, "/v0/admin/mfa/totp/confirm", token, gin.H{"secret": prepared.Secret, "code": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status %d: %s", rec.Code, rec.Body.String())
	}

	// Password alone now yields an MFA challenge instead of a token.
	rec = doJSON(t, engine, http.MethodPost, "/v0/admin/login", "", gin.H{"username": "admin", "password": "correct-horse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}
	var challenge struct {
		MFA   string `json:"mfa"`
		Token string `json:"token"`
	}
	decodeBody(t, rec, &challenge)
	if challenge.MFA != "totp" || challenge.Token != "" {
		t.Fatalf("expected totp challenge, got %s", rec.Body.String())
	}

	code, err = totp.GenerateCode(prepared.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	rec = doJSON(t, engine, http.MethodPost, "/v0/admin/login/totp", "", gin.H{
		"username": "admin", "password": "correct-horse", "code": code,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("totp login status %d: %s", rec.Code, rec.Body.String())
	}
	var final struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &final)
	if final.Token == "" {
		t.Fatalf("expected token after totp login, got %s", rec.Body.String())
	}
}

func TestAdminAPI_Healthz(t *testing.T) {
	engine, _ := newTestServer(t)
	rec := doJSON(t, engine, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d: %s", rec.Code, rec.Body.String())
	}
}
