package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oakhost/selfcheckin/internal/ceremony"
	"github.com/oakhost/selfcheckin/internal/models"
	"github.com/oakhost/selfcheckin/internal/registry"
	"gorm.io/gorm"
)

// WebAuthnHandler serves the passkey ceremony endpoints.
type WebAuthnHandler struct {
	db       *gorm.DB
	verifier *ceremony.Verifier
}

// NewWebAuthnHandler constructs a WebAuthnHandler.
func NewWebAuthnHandler(db *gorm.DB, verifier *ceremony.Verifier) *WebAuthnHandler {
	return &WebAuthnHandler{db: db, verifier: verifier}
}

// registerOptionsRequest defines the request body for registration options.
type registerOptionsRequest struct {
	ReservationID string `json:"reservation_id"`
}

// RegisterOptions begins passkey registration for a reservation.
func (h *WebAuthnHandler) RegisterOptions(c *gin.Context) {
	var body registerOptionsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	reservationID := strings.TrimSpace(body.ReservationID)
	if reservationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing reservation_id"})
		return
	}

	var reservation models.Reservation
	errFind := h.db.WithContext(c.Request.Context()).
		Where("id = ?", reservationID).First(&reservation).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "reservation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	creation, handle, errBegin := h.verifier.BeginRegistration(c.Request.Context(), reservation.ID, reservation.GuestName)
	if errBegin != nil {
		if errors.Is(errBegin, registry.ErrAlreadyBound) {
			c.JSON(http.StatusConflict, gin.H{"error": "passkey already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "begin registration failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge_id": handle, "options": creation})
}

// ceremonyVerifyRequest defines the request body for ceremony verification.
// Credential is passed through verbatim; the verifier owns its decoding.
type ceremonyVerifyRequest struct {
	ChallengeID string          `json:"challenge_id"`
	Credential  json.RawMessage `json:"credential"`
}

// RegisterVerify finishes passkey registration.
func (h *WebAuthnHandler) RegisterVerify(c *gin.Context) {
	var body ceremonyVerifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	handle := strings.TrimSpace(body.ChallengeID)
	if handle == "" || len(body.Credential) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing challenge_id or credential"})
		return
	}

	credentialID, errFinish := h.verifier.FinishRegistration(c.Request.Context(), handle, body.Credential)
	if errFinish != nil {
		status, message := ceremonyErrorResponse(errFinish)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"credential_id": credentialID})
}

// AuthenticateOptions begins a discoverable passkey assertion.
func (h *WebAuthnHandler) AuthenticateOptions(c *gin.Context) {
	assertion, handle, errBegin := h.verifier.BeginAuthentication(c.Request.Context())
	if errBegin != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "begin authentication failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge_id": handle, "options": assertion})
}

// AuthenticateVerify finishes a passkey assertion and returns the reservation
// the credential belongs to.
func (h *WebAuthnHandler) AuthenticateVerify(c *gin.Context) {
	var body ceremonyVerifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	handle := strings.TrimSpace(body.ChallengeID)
	if handle == "" || len(body.Credential) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing challenge_id or credential"})
		return
	}

	reservationID, errFinish := h.verifier.FinishAuthentication(c.Request.Context(), handle, body.Credential)
	if errFinish != nil {
		status, message := ceremonyErrorResponse(errFinish)
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reservation_id": reservationID})
}

// ceremonyErrorResponse maps ceremony failures to HTTP responses. Security
// failures share one generic message so responses do not reveal which check
// rejected the attempt.
func ceremonyErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, ceremony.ErrChallengeInvalid):
		return http.StatusBadRequest, "challenge invalid or expired"
	case errors.Is(err, ceremony.ErrMalformedResponse):
		return http.StatusBadRequest, "malformed response"
	case errors.Is(err, ceremony.ErrUserVerificationRequired):
		return http.StatusForbidden, "user verification required"
	case errors.Is(err, registry.ErrAlreadyBound):
		return http.StatusConflict, "passkey already registered"
	case errors.Is(err, registry.ErrDuplicateCredential):
		return http.StatusConflict, "credential already registered"
	case errors.Is(err, ceremony.ErrChallengeMismatch),
		errors.Is(err, ceremony.ErrOriginMismatch),
		errors.Is(err, ceremony.ErrTypeMismatch),
		errors.Is(err, ceremony.ErrUnknownCredential),
		errors.Is(err, ceremony.ErrSignatureInvalid),
		errors.Is(err, registry.ErrCounterRegression):
		return http.StatusUnauthorized, "verification failed"
	default:
		return http.StatusInternalServerError, "verification error"
	}
}
