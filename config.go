package diauth

import (
	"errors"
	"time"
)

// Config carries the issuance parameters of the engine. Configure it once
// during initialization; it is treated as immutable afterwards.
type Config struct {
	// Issuer is the value of the "iss" claim in every issued token.
	Issuer string
	// TokenEndpoint is the audience client assertions must be addressed to.
	TokenEndpoint string
	// TrustMarkURI is the value of the "vtm" claim in issued ID tokens.
	TrustMarkURI string

	AccessTokenTTL   time.Duration
	IDTokenTTL       time.Duration
	RefreshTokenTTL  time.Duration
	AuthCodeTTL      time.Duration
	SessionTTL       time.Duration
	CallbackStateTTL time.Duration

	// AssertionLeeway bounds acceptable clock skew when validating client
	// assertions. Must be within [0, 2m].
	AssertionLeeway time.Duration
	// StoreTimeout bounds each call to the ephemeral store.
	StoreTimeout time.Duration

	Audit   AuditConfig
	Metrics MetricsConfig
}

// AuditConfig controls asynchronous audit dispatch.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		AccessTokenTTL:   3 * time.Minute,
		IDTokenTTL:       2 * time.Minute,
		RefreshTokenTTL:  12 * time.Hour,
		AuthCodeTTL:      5 * time.Minute,
		SessionTTL:       time.Hour,
		CallbackStateTTL: time.Hour,
		AssertionLeeway:  30 * time.Second,
		StoreTimeout:     5 * time.Second,
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("Issuer is required")
	}
	if c.TokenEndpoint == "" {
		return errors.New("TokenEndpoint is required")
	}

	if c.AccessTokenTTL <= 0 {
		return errors.New("AccessTokenTTL must be > 0")
	}
	if c.IDTokenTTL <= 0 {
		return errors.New("IDTokenTTL must be > 0")
	}
	if c.RefreshTokenTTL <= 0 {
		return errors.New("RefreshTokenTTL must be > 0")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return errors.New("RefreshTokenTTL must exceed AccessTokenTTL")
	}
	if c.AuthCodeTTL <= 0 {
		return errors.New("AuthCodeTTL must be > 0")
	}
	if c.SessionTTL <= 0 {
		return errors.New("SessionTTL must be > 0")
	}
	if c.CallbackStateTTL <= 0 {
		return errors.New("CallbackStateTTL must be > 0")
	}

	if c.AssertionLeeway < 0 || c.AssertionLeeway > 2*time.Minute {
		return errors.New("AssertionLeeway must be within [0, 2m]")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("StoreTimeout must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
