package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oakhost/selfcheckin/internal/models"
	"gorm.io/gorm"
)

// ReservationHandler serves the guest view of a reservation.
type ReservationHandler struct {
	db *gorm.DB
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(db *gorm.DB) *ReservationHandler {
	return &ReservationHandler{db: db}
}

// Get returns the guest-visible reservation state. The secret code never
// appears here, and the door PIN only after check-in completed.
func (h *ReservationHandler) Get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var reservation models.Reservation
	errFind := h.db.WithContext(c.Request.Context()).Preload("Credential").
		Where("id = ?", id).First(&reservation).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	out := gin.H{
		"id":                   reservation.ID,
		"guest_name":           reservation.GuestName,
		"guest_info_submitted": reservation.GuestInfoSubmitted,
		"passkey_bound":        reservation.Credential != nil,
		"checked_in":           reservation.CheckedIn,
		"checked_in_at":        reservation.CheckedInAt,
	}
	if reservation.CheckedIn {
		out["door_pin"] = reservation.DoorPIN
	}
	c.JSON(http.StatusOK, out)
}

// guestInfoRequest defines the request body for guest detail submission.
type guestInfoRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Contact string `json:"contact"`
}

// SubmitGuestInfo records the guest's details ahead of arrival. Submission is
// one-shot; corrections go through the operator.
func (h *ReservationHandler) SubmitGuestInfo(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var body guestInfoRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	address := strings.TrimSpace(body.Address)
	contact := strings.TrimSpace(body.Contact)
	if name == "" || address == "" || contact == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name, address, or contact"})
		return
	}

	var reservation models.Reservation
	errFind := h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&reservation).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if reservation.GuestInfoSubmitted {
		c.JSON(http.StatusConflict, gin.H{"error": "guest info already submitted"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Reservation{}).
		Where("id = ? AND guest_info_submitted = ?", id, false).
		Updates(map[string]any{
			"guest_name":           name,
			"guest_address":        address,
			"guest_contact":        contact,
			"guest_info_submitted": true,
			"updated_at":           time.Now().UTC(),
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "guest info already submitted"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
