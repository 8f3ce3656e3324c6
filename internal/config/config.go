// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":9000"`

	RedisURL         string        `env:"REDIS_URL"          envDefault:"redis://localhost:6379/0"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT"      envDefault:"2s"`
	StoreReadRetries uint          `env:"STORE_READ_RETRIES" envDefault:"3"`

	AccessSecret  string        `env:"JWT_ACCESS_SECRET,required"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET,required"`
	Issuer        string        `env:"JWT_ISSUER"   envDefault:"auth.genobank.app"`
	Audience      string        `env:"JWT_AUDIENCE" envDefault:"genobank.app"`
	AccessTTL     time.Duration `env:"ACCESS_TTL"   envDefault:"1h"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL"  envDefault:"720h"`

	ChallengeMessage string        `env:"CHALLENGE_MESSAGE"   envDefault:"I want to proceed"`
	EmailProofTTL    time.Duration `env:"EMAIL_PROOF_TTL"     envDefault:"15m"`
	MagicLinkBaseURL string        `env:"MAGIC_LINK_BASE_URL" envDefault:"https://auth.genobank.app/auth/verify-email"`
	MailerMode       string        `env:"MAILER_MODE"         envDefault:"events"`

	AuthorityURL    string        `env:"AUTHORITY_URL"     envDefault:"https://genobank.app"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT"  envDefault:"5s"`

	EventsEnabled  bool `env:"EVENTS_ENABLED"  envDefault:"true"`
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Development    bool `env:"DEVELOPMENT"     envDefault:"false"`
}

// Mailer modes.
const (
	MailerEvents = "events"
	MailerLog    = "log"
)

// Load reads PASSPORT_* variables and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "PASSPORT_"})
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would weaken token separation or
// produce tokens that never expire.
func (c Config) Validate() error {
	var errs []error
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		errs = append(errs, errors.New("access and refresh secrets are required"))
	} else if c.AccessSecret == c.RefreshSecret {
		errs = append(errs, errors.New("access and refresh secrets must differ"))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.EmailProofTTL <= 0 {
		errs = append(errs, errors.New("token ttls must be positive"))
	}
	if c.AccessTTL > c.RefreshTTL {
		errs = append(errs, errors.New("access ttl must not exceed refresh ttl"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("store timeout must be positive"))
	}
	switch c.MailerMode {
	case MailerEvents, MailerLog:
	default:
		errs = append(errs, fmt.Errorf("unknown mailer mode %q", c.MailerMode))
	}
	if c.MailerMode == MailerEvents && !c.EventsEnabled {
		errs = append(errs, errors.New("mailer mode events requires events to be enabled"))
	}
	return errors.Join(errs...)
}
