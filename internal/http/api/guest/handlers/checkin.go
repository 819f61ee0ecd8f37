package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oakhost/selfcheckin/internal/checkin"
	"github.com/oakhost/selfcheckin/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// CheckinHandler serves the secret-code step of check-in.
type CheckinHandler struct {
	svc     *checkin.Service
	limiter ratelimit.Limiter
	limit   int
}

// NewCheckinHandler constructs a CheckinHandler.
func NewCheckinHandler(svc *checkin.Service, limiter ratelimit.Limiter, limit int) *CheckinHandler {
	return &CheckinHandler{svc: svc, limiter: limiter, limit: limit}
}

// checkinRequest defines the request body for check-in completion.
type checkinRequest struct {
	ReservationID string `json:"reservation_id"`
	SecretCode    string `json:"secret_code"`
}

// Complete verifies the secret code and discloses the door PIN. Attempts are
// throttled per reservation so the code cannot be brute-forced.
func (h *CheckinHandler) Complete(c *gin.Context) {
	var body checkinRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	reservationID := strings.TrimSpace(body.ReservationID)
	if reservationID == "" || strings.TrimSpace(body.SecretCode) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing reservation_id or secret_code"})
		return
	}

	if h.limiter != nil {
		result, errAllow := h.limiter.Allow(c.Request.Context(), "checkin:"+reservationID, h.limit, time.Now().UTC())
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit check failed, allowing request")
		} else if !result.Allowed {
			c.Header("Retry-After", result.Reset.UTC().Format(http.TimeFormat))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
			return
		}
	}

	pin, errComplete := h.svc.CompleteCheckIn(c.Request.Context(), reservationID, body.SecretCode)
	if errComplete != nil {
		switch {
		case errors.Is(errComplete, checkin.ErrReservationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "reservation not found"})
		case errors.Is(errComplete, checkin.ErrSecretCodeMismatch):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "secret code mismatch"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "check-in failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"door_pin": pin})
}
