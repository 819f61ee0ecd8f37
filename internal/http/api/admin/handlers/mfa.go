package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oakhost/selfcheckin/internal/models"
	"github.com/pquerna/otp/totp"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// totpIssuer is the issuer shown in authenticator apps.
const totpIssuer = "Self Check-in"

// MFAHandler manages admin TOTP enrollment endpoints.
type MFAHandler struct {
	db *gorm.DB
}

// NewMFAHandler constructs an MFAHandler.
func NewMFAHandler(db *gorm.DB) *MFAHandler {
	return &MFAHandler{db: db}
}

func (h *MFAHandler) currentAdmin(c *gin.Context) (*models.Admin, bool) {
	id, ok := c.Get("adminID")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, false
	}
	adminID, ok := id.(uint64)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, false
	}
	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).First(&admin, adminID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &admin, true
}

// Status reports whether TOTP is enrolled for the current admin.
func (h *MFAHandler) Status(c *gin.Context) {
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"totp_enrolled": admin.TOTPSecret != ""})
}

// PrepareTOTP generates a fresh TOTP secret for enrollment. Nothing is
// persisted until Confirm proves the authenticator produces valid codes.
func (h *MFAHandler) PrepareTOTP(c *gin.Context) {
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}
	if admin.TOTPSecret != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "totp already enrolled"})
		return
	}

	key, errGen := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: admin.Username,
	})
	if errGen != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate totp failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"secret": key.Secret(),
		"url":    key.URL(),
	})
}

// confirmTOTPRequest defines the request body for TOTP confirmation.
type confirmTOTPRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// ConfirmTOTP enrolls the prepared secret after validating one code from it.
func (h *MFAHandler) ConfirmTOTP(c *gin.Context) {
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}
	if admin.TOTPSecret != "" {
		c.JSON(http.StatusConflict, gin.H{"error": "totp already enrolled"})
		return
	}

	var body confirmTOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	secret := strings.TrimSpace(body.Secret)
	code := strings.TrimSpace(body.Code)
	if secret == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing secret or code"})
		return
	}
	if !totp.Validate(code, secret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ? AND (totp_secret IS NULL OR totp_secret = '')", admin.ID).
		Update("totp_secret", secret)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enroll failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "totp already enrolled"})
		return
	}
	log.WithField("username", admin.Username).Info("admin enrolled totp")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// disableTOTPRequest defines the request body for TOTP removal.
type disableTOTPRequest struct {
	Code string `json:"code"`
}

// DisableTOTP removes enrollment after validating a current code.
func (h *MFAHandler) DisableTOTP(c *gin.Context) {
	admin, ok := h.currentAdmin(c)
	if !ok {
		return
	}
	if admin.TOTPSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "totp not enrolled"})
		return
	}

	var body disableTOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !totp.Validate(strings.TrimSpace(body.Code), admin.TOTPSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Update("totp_secret", "").Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disable failed"})
		return
	}
	log.WithField("username", admin.Username).Info("admin disabled totp")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
