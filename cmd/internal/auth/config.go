package auth

import (
	"os"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config defines the token settings.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of issued access tokens.
	AccessTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string

	// DevInsecure trusts the X-Inbox-User header instead of tokens. Never enable in production.
	DevInsecure bool
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:         "inbox",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// Required unless INBOX_AUTH_DEV_INSECURE=true:
//   - INBOX_PASETO_V4_SECRET_KEY_HEX
//
// Optional:
//   - INBOX_AUTH_ISSUER
//   - INBOX_ACCESS_TOKEN_TTL
//   - INBOX_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("INBOX_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("INBOX_ACCESS_TOKEN_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := strings.TrimSpace(os.Getenv("INBOX_AUTH_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := strings.TrimSpace(os.Getenv("INBOX_AUTH_DEV_INSECURE")); v != "" {
		cfg.DevInsecure = v == "1" || strings.EqualFold(v, "true")
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("INBOX_PASETO_V4_SECRET_KEY_HEX"))
	if cfg.PasetoV4SecretKeyHex == "" && !cfg.DevInsecure {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

// GenerateSecretKeyHex returns a fresh Ed25519 secret key for INBOX_PASETO_V4_SECRET_KEY_HEX.
func GenerateSecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}
