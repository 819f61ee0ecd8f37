package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oakhost/selfcheckin/internal/models"
	"github.com/oakhost/selfcheckin/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReservationHandler manages reservation lifecycle endpoints.
type ReservationHandler struct {
	db        *gorm.DB
	pinLength int
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(db *gorm.DB, pinLength int) *ReservationHandler {
	return &ReservationHandler{db: db, pinLength: pinLength}
}

// createReservationRequest defines the request body for reservation creation.
type createReservationRequest struct {
	GuestName string `json:"guest_name"`
	DoorPIN   string `json:"door_pin"`
}

// Create issues a new reservation with a fresh secret code. The door PIN can
// be supplied for properties with fixed locks, otherwise one is generated.
func (h *ReservationHandler) Create(c *gin.Context) {
	var body createReservationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	secretCode, errCode := security.GenerateSecretCode()
	if errCode != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate secret code failed"})
		return
	}

	doorPIN := strings.TrimSpace(body.DoorPIN)
	if doorPIN == "" {
		pin, errPIN := security.GenerateDoorPIN(h.pinLength)
		if errPIN != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "generate door pin failed"})
			return
		}
		doorPIN = pin
	}

	reservation := models.Reservation{
		ID:         uuid.NewString(),
		GuestName:  strings.TrimSpace(body.GuestName),
		SecretCode: secretCode,
		DoorPIN:    doorPIN,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&reservation).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create reservation failed"})
		return
	}

	log.WithField("reservation", reservation.ID).Info("reservation created")
	c.JSON(http.StatusCreated, gin.H{
		"id":          reservation.ID,
		"guest_name":  reservation.GuestName,
		"secret_code": reservation.SecretCode,
		"door_pin":    reservation.DoorPIN,
		"created_at":  reservation.CreatedAt,
	})
}

// List returns reservations, newest first, with optional filters.
func (h *ReservationHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Reservation{})

	if name := strings.TrimSpace(c.Query("guest_name")); name != "" {
		q = q.Where("guest_name LIKE ?", "%"+name+"%")
	}
	switch strings.TrimSpace(c.Query("checked_in")) {
	case "true":
		q = q.Where("checked_in = ?", true)
	case "false":
		q = q.Where("checked_in = ?", false)
	}

	var rows []models.Reservation
	if errFind := q.Preload("Credential").Order("created_at DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list reservations failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, reservationJSON(&row))
	}
	c.JSON(http.StatusOK, gin.H{"reservations": out})
}

// Get returns a reservation by id, including passkey binding state.
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
	c.JSON(http.StatusOK, reservationJSON(&reservation))
}

// updateReservationRequest defines the request body for reservation updates.
// The secret code and door PIN are immutable after creation and cannot appear
// here.
type updateReservationRequest struct {
	GuestName    *string `json:"guest_name"`
	GuestAddress *string `json:"guest_address"`
	GuestContact *string `json:"guest_contact"`
}

// Update modifies reservation guest details.
func (h *ReservationHandler) Update(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updateReservationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.GuestName != nil {
		updates["guest_name"] = strings.TrimSpace(*body.GuestName)
	}
	if body.GuestAddress != nil {
		updates["guest_address"] = strings.TrimSpace(*body.GuestAddress)
	}
	if body.GuestContact != nil {
		updates["guest_contact"] = strings.TrimSpace(*body.GuestContact)
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Reservation{}).
		Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a reservation along with its credential and any pending
// ceremony sessions.
func (h *ReservationHandler) Delete(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	ctx := c.Request.Context()

	var reservation models.Reservation
	if errFind := h.db.WithContext(ctx).Where("id = ?", id).First(&reservation).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	errTx := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDelSessions := tx.Where("reservation_id = ?", id).Delete(&models.CeremonySession{}).Error; errDelSessions != nil {
			return errDelSessions
		}
		if errDelCred := tx.Where("reservation_id = ?", id).Delete(&models.PasskeyCredential{}).Error; errDelCred != nil {
			return errDelCred
		}
		if errDelRes := tx.Where("id = ?", id).Delete(&models.Reservation{}).Error; errDelRes != nil {
			return errDelRes
		}
		return nil
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}

	log.WithField("reservation", id).Info("reservation deleted")
	c.Status(http.StatusNoContent)
}

// reservationJSON renders the admin view of a reservation. The secret code
// and door PIN are included so operators can relay them to guests.
func reservationJSON(r *models.Reservation) gin.H {
	out := gin.H{
		"id":                   r.ID,
		"guest_name":           r.GuestName,
		"guest_address":        r.GuestAddress,
		"guest_contact":        r.GuestContact,
		"guest_info_submitted": r.GuestInfoSubmitted,
		"secret_code":          r.SecretCode,
		"door_pin":             r.DoorPIN,
		"checked_in":           r.CheckedIn,
		"checked_in_at":        r.CheckedInAt,
		"passkey_bound":        r.Credential != nil,
		"created_at":           r.CreatedAt,
		"updated_at":           r.UpdatedAt,
	}
	if r.Credential != nil {
		out["passkey_registered_at"] = r.Credential.CreatedAt
	}
	return out
}
