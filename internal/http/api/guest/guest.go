package guest

import (
	"github.com/gin-gonic/gin"
	"github.com/oakhost/selfcheckin/internal/checkin"
	handlers "github.com/oakhost/selfcheckin/internal/http/api/guest/handlers"
	"github.com/oakhost/selfcheckin/internal/ratelimit"
	"gorm.io/gorm"
)

// RegisterGuestRoutes registers the unauthenticated guest-facing API. Guests
// prove themselves with the passkey ceremony, not with bearer tokens.
func RegisterGuestRoutes(r *gin.Engine, db *gorm.DB, svc *checkin.Service, limiter ratelimit.Limiter, attemptLimit int) {
	if r == nil || db == nil || svc == nil {
		return
	}

	api := r.Group("/api")

	webauthnHandler := handlers.NewWebAuthnHandler(db, svc.Verifier())
	api.POST("/webauthn/register/options", webauthnHandler.RegisterOptions)
	api.POST("/webauthn/register/verify", webauthnHandler.RegisterVerify)
	api.POST("/webauthn/authenticate/options", webauthnHandler.AuthenticateOptions)
	api.POST("/webauthn/authenticate/verify", webauthnHandler.AuthenticateVerify)

	checkinHandler := handlers.NewCheckinHandler(svc, limiter, attemptLimit)
	api.POST("/checkin", checkinHandler.Complete)

	reservationHandler := handlers.NewReservationHandler(db)
	api.GET("/reservations/:id", reservationHandler.Get)
	api.POST("/reservations/:id/guest", reservationHandler.SubmitGuestInfo)
}
