package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oakhost/selfcheckin/internal/config"
	handlers "github.com/oakhost/selfcheckin/internal/http/api/admin/handlers"
	"github.com/oakhost/selfcheckin/internal/models"
	"github.com/oakhost/selfcheckin/internal/security"
	"gorm.io/gorm"
)

// Context keys set by the auth middleware.
const (
	// CtxAdminID carries the authenticated admin's id.
	CtxAdminID = "adminID"
	// CtxAdminUsername carries the authenticated admin's username.
	CtxAdminUsername = "adminUsername"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, pinLength int) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	adminGroup.POST("/login", authHandler.Login)
	adminGroup.POST("/login/totp", authHandler.LoginTOTP)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	mfaHandler := handlers.NewMFAHandler(db)
	authed.GET("/mfa/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)

	reservationHandler := handlers.NewReservationHandler(db, pinLength)
	authed.POST("/reservations", reservationHandler.Create)
	authed.GET("/reservations", reservationHandler.List)
	authed.GET("/reservations/:id", reservationHandler.Get)
	authed.PUT("/reservations/:id", reservationHandler.Update)
	authed.DELETE("/reservations/:id", reservationHandler.Delete)
}

// adminAuthMiddleware validates admin JWTs and loads admin context. The
// verified identity travels in the request context, never in ambient state.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set(CtxAdminID, admin.ID)
		c.Set(CtxAdminUsername, admin.Username)
		c.Next()
	}
}
