package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath    = "CONFIG_PATH"
	EnvDBConnection  = "DB_CONNECTION"
	EnvJWTSecret     = "JWT_SECRET"
	EnvJWTExpiry     = "JWT_EXPIRY"
	EnvRPID          = "RP_ID"
	EnvRPOrigin      = "RP_ORIGIN"
	EnvAdminPassword = "ADMIN_PASSWORD"
	EnvRedisURL      = "REDIS_URL"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// RelyingPartyConfig identifies the WebAuthn relying party. ID must match the
// serving domain; Origin is the full origin the browser reports.
type RelyingPartyConfig struct {
	ID          string `yaml:"id"`
	Origin      string `yaml:"origin"`
	DisplayName string `yaml:"display-name"`
}

// AdminConfig holds the bootstrap admin account created on first start.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CheckinConfig holds check-in tuning knobs.
type CheckinConfig struct {
	ChallengeTTL  time.Duration `yaml:"challenge-ttl"`
	AttemptLimit  int           `yaml:"attempt-limit"`
	AttemptWindow time.Duration `yaml:"attempt-window"`
	DoorPINLength int           `yaml:"door-pin-length"`
	RedisURL      string        `yaml:"redis-url"`
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file. A missing file
// falls back to defaults and env overrides; a malformed one is an error.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return JWTConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
		result = cfg.JWT
	case !errors.Is(errRead, os.ErrNotExist):
		return JWTConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// Relying-party defaults for local development.
const (
	defaultRPID          = "localhost"
	defaultRPOrigin      = "http://localhost:3000"
	defaultRPDisplayName = "Self Check-in"
)

// LoadRelyingParty loads the WebAuthn relying-party identity from the YAML
// config file with env overrides.
func LoadRelyingParty(configPath string) (RelyingPartyConfig, error) {
	// fileConfig maps the YAML fields for the relying party.
	type fileConfig struct {
		RelyingParty RelyingPartyConfig `yaml:"relying-party"`
	}

	var result RelyingPartyConfig

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return RelyingPartyConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
		result = cfg.RelyingParty
	case !errors.Is(errRead, os.ErrNotExist):
		return RelyingPartyConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	if id := strings.TrimSpace(os.Getenv(EnvRPID)); id != "" {
		result.ID = id
	}
	if origin := strings.TrimSpace(os.Getenv(EnvRPOrigin)); origin != "" {
		result.Origin = origin
	}

	if strings.TrimSpace(result.ID) == "" {
		result.ID = defaultRPID
	}
	if strings.TrimSpace(result.Origin) == "" {
		result.Origin = defaultRPOrigin
	}
	if strings.TrimSpace(result.DisplayName) == "" {
		result.DisplayName = defaultRPDisplayName
	}
	return result, nil
}

// LoadAdmin loads the bootstrap admin account settings.
func LoadAdmin(configPath string) (AdminConfig, error) {
	// fileConfig maps the YAML fields for the admin account.
	type fileConfig struct {
		Admin AdminConfig `yaml:"admin"`
	}

	result := AdminConfig{Username: "admin"}

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return AdminConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
		if strings.TrimSpace(cfg.Admin.Username) != "" {
			result.Username = strings.TrimSpace(cfg.Admin.Username)
		}
		result.Password = cfg.Admin.Password
	case !errors.Is(errRead, os.ErrNotExist):
		return AdminConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	if pw := strings.TrimSpace(os.Getenv(EnvAdminPassword)); pw != "" {
		result.Password = pw
	}
	return result, nil
}

// Check-in defaults.
const (
	defaultChallengeTTL  = 5 * time.Minute
	defaultAttemptLimit  = 10
	defaultAttemptWindow = time.Minute
	defaultDoorPINLength = 6
)

// LoadCheckin loads check-in tuning settings with defaults applied.
func LoadCheckin(configPath string) (CheckinConfig, error) {
	// fileConfig maps the YAML fields for check-in settings.
	type fileConfig struct {
		Checkin CheckinConfig `yaml:"checkin"`
	}

	var result CheckinConfig

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		var cfg fileConfig
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return CheckinConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
		result = cfg.Checkin
	case !errors.Is(errRead, os.ErrNotExist):
		return CheckinConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	if url := strings.TrimSpace(os.Getenv(EnvRedisURL)); url != "" {
		result.RedisURL = url
	}

	if result.ChallengeTTL <= 0 {
		result.ChallengeTTL = defaultChallengeTTL
	}
	if result.AttemptLimit <= 0 {
		result.AttemptLimit = defaultAttemptLimit
	}
	if result.AttemptWindow <= 0 {
		result.AttemptWindow = defaultAttemptWindow
	}
	if result.DoorPINLength <= 0 {
		result.DoorPINLength = defaultDoorPINLength
	}
	return result, nil
}
