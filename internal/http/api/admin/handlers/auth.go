package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oakhost/selfcheckin/internal/config"
	"github.com/oakhost/selfcheckin/internal/models"
	"github.com/oakhost/selfcheckin/internal/security"
	"github.com/pquerna/otp/totp"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AuthHandler manages admin login endpoints.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg}
}

// loginRequest defines the request body for password login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login verifies admin credentials. When TOTP is enrolled the response asks
// for a second step instead of issuing a token.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing credentials"})
		return
	}

	var admin models.Admin
	errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&admin).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !admin.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}
	if !security.CheckPassword(admin.Password, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if admin.TOTPSecret != "" {
		c.JSON(http.StatusOK, gin.H{"mfa": "totp"})
		return
	}

	token, errSign := security.SignAdminToken(h.jwtCfg.Secret, admin.ID, admin.Username, h.jwtCfg.Expiry)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	log.WithField("username", admin.Username).Info("admin logged in")
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// loginTOTPRequest defines the request body for the TOTP login step.
type loginTOTPRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

// LoginTOTP completes login for TOTP-enrolled admins. The password is
// re-verified so the code alone never grants a session.
func (h *AuthHandler) LoginTOTP(c *gin.Context) {
	var body loginTOTPRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	code := strings.TrimSpace(body.Code)
	if username == "" || body.Password == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing credentials"})
		return
	}

	var admin models.Admin
	errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&admin).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !admin.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}
	if !security.CheckPassword(admin.Password, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if admin.TOTPSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "totp not enrolled"})
		return
	}
	if !totp.Validate(code, admin.TOTPSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	}

	token, errSign := security.SignAdminToken(h.jwtCfg.Secret, admin.ID, admin.Username, h.jwtCfg.Expiry)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	log.WithField("username", admin.Username).Info("admin logged in with totp")
	c.JSON(http.StatusOK, gin.H{"token": token})
}
