// Package app wires configuration, storage, ceremonies, and HTTP surfaces
// into a runnable check-in server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oakhost/selfcheckin/internal/ceremony"
	"github.com/oakhost/selfcheckin/internal/challenge"
	"github.com/oakhost/selfcheckin/internal/checkin"
	"github.com/oakhost/selfcheckin/internal/config"
	"github.com/oakhost/selfcheckin/internal/db"
	admin "github.com/oakhost/selfcheckin/internal/http/api/admin"
	guest "github.com/oakhost/selfcheckin/internal/http/api/guest"
	"github.com/oakhost/selfcheckin/internal/models"
	"github.com/oakhost/selfcheckin/internal/ratelimit"
	"github.com/oakhost/selfcheckin/internal/registry"
	"github.com/oakhost/selfcheckin/internal/security"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the check-in server with database-backed components.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	jwtCfg, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return err
	}
	if jwtCfg.Secret == "" {
		return fmt.Errorf("app: jwt secret not configured (set %s or jwt.secret in config)", config.EnvJWTSecret)
	}
	rpCfg, err := config.LoadRelyingParty(configPath)
	if err != nil {
		return err
	}
	adminCfg, err := config.LoadAdmin(configPath)
	if err != nil {
		return err
	}
	checkinCfg, err := config.LoadCheckin(configPath)
	if err != nil {
		return err
	}

	if errSeed := seedAdmin(conn, adminCfg); errSeed != nil {
		return errSeed
	}

	web, err := security.NewWebAuthn(rpCfg)
	if err != nil {
		return err
	}
	sessions := challenge.NewStore(conn, checkinCfg.ChallengeTTL)
	creds := registry.New(conn)
	verifier := ceremony.NewVerifier(web, sessions, creds, rpCfg)
	svc := checkin.NewService(conn, verifier)

	limiter, errLimiter := buildLimiter(checkinCfg)
	if errLimiter != nil {
		return errLimiter
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	admin.RegisterAdminRoutes(engine, conn, jwtCfg, checkinCfg.DoorPINLength)
	guest.RegisterGuestRoutes(engine, conn, svc, limiter, checkinCfg.AttemptLimit)

	go purgeLoop(ctx, sessions, checkinCfg.ChallengeTTL)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"addr": server.Addr, "rp_id": rpCfg.ID}).Info("check-in server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// seedAdmin creates the bootstrap admin account when no admins exist yet.
func seedAdmin(conn *gorm.DB, adminCfg config.AdminConfig) error {
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("app: count admins: %w", errCount)
	}
	if count > 0 {
		return nil
	}
	if adminCfg.Password == "" {
		log.Warn("no admin accounts and no bootstrap password configured, admin api unusable")
		return nil
	}

	hash, errHash := security.HashPassword(adminCfg.Password)
	if errHash != nil {
		return errHash
	}
	record := models.Admin{Username: adminCfg.Username, Password: hash, Active: true}
	if errCreate := conn.Create(&record).Error; errCreate != nil {
		return fmt.Errorf("app: seed admin: %w", errCreate)
	}
	log.WithField("username", adminCfg.Username).Info("bootstrap admin created")
	return nil
}

// buildLimiter picks the attempt limiter backend: Redis when configured,
// otherwise in-process memory.
func buildLimiter(checkinCfg config.CheckinConfig) (ratelimit.Limiter, error) {
	if checkinCfg.RedisURL == "" {
		return ratelimit.NewMemoryLimiter(checkinCfg.AttemptWindow), nil
	}
	opts, errParse := redis.ParseURL(checkinCfg.RedisURL)
	if errParse != nil {
		return nil, fmt.Errorf("app: parse redis url: %w", errParse)
	}
	client := redis.NewClient(opts)
	return ratelimit.NewRedisLimiter(client, "selfcheckin", checkinCfg.AttemptWindow), nil
}

// purgeLoop deletes consumed and expired ceremony sessions on an interval
// tied to the challenge TTL.
func purgeLoop(ctx context.Context, sessions *challenge.Store, ttl time.Duration) {
	interval := ttl
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, errPurge := sessions.PurgeStale(ctx)
			if errPurge != nil {
				log.WithError(errPurge).Warn("purge stale ceremony sessions failed")
				continue
			}
			if purged > 0 {
				log.WithField("count", purged).Debug("purged stale ceremony sessions")
			}
		}
	}
}
