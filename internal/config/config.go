package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port         string   `mapstructure:"PORT"`
	Env          string   `mapstructure:"ENV"`
	DatabaseURL  string   `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer   string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string   `mapstructure:"AUTH_AUDIENCE"`
	JWTSecret    string   `mapstructure:"JWT_SECRET"`
	CORSOrigins  []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS          float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int     `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit             string  `mapstructure:"BODY_LIMIT"`
	RequestTimeoutSeconds int     `mapstructure:"REQUEST_TIMEOUT_SECONDS"`

	// Practice hours and slot grid used by availability search.
	ScheduleDayOpen       string `mapstructure:"SCHEDULE_DAY_OPEN"`
	ScheduleDayClose      string `mapstructure:"SCHEDULE_DAY_CLOSE"`
	ScheduleSlotMinutes   int    `mapstructure:"SCHEDULE_SLOT_MINUTES"`
	ScheduleBufferMinutes int    `mapstructure:"SCHEDULE_BUFFER_MINUTES"`
	SlotCacheSize         int    `mapstructure:"SLOT_CACHE_SIZE"`
	SlotCacheTTLSeconds   int    `mapstructure:"SLOT_CACHE_TTL_SECONDS"`

	// NotifyRecipient, when set, receives appointment lifecycle notices.
	// Deployments with a patient directory wire per-patient resolution in
	// its place.
	NotifyRecipient string `mapstructure:"NOTIFY_RECIPIENT"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("SCHEDULE_DAY_OPEN", "08:00")
	v.SetDefault("SCHEDULE_DAY_CLOSE", "18:00")
	v.SetDefault("SCHEDULE_SLOT_MINUTES", 30)
	v.SetDefault("SCHEDULE_BUFFER_MINUTES", 15)
	v.SetDefault("SLOT_CACHE_SIZE", 256)
	v.SetDefault("SLOT_CACHE_TTL_SECONDS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("REQUEST_TIMEOUT_SECONDS")
	v.BindEnv("SCHEDULE_DAY_OPEN")
	v.BindEnv("SCHEDULE_DAY_CLOSE")
	v.BindEnv("SCHEDULE_SLOT_MINUTES")
	v.BindEnv("SCHEDULE_BUFFER_MINUTES")
	v.BindEnv("SLOT_CACHE_SIZE")
	v.BindEnv("SLOT_CACHE_TTL_SECONDS")
	v.BindEnv("NOTIFY_RECIPIENT")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseClock converts an "HH:MM" wall-clock string into an offset from
// midnight, e.g. "08:30" -> 8h30m expressed in minutes.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return hh*60 + mm, nil
}

// Validate checks that the configuration is safe to run. In non-development
// modes either AUTH_ISSUER (external JWT with JWKS) or JWT_SECRET (HMAC)
// must be set so that real authentication is enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.JWTSecret == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or JWT_SECRET must be set when ENV is %q. "+
				"Refusing to start without authentication configuration", c.Env)
	}

	openMin, err := ParseClock(c.ScheduleDayOpen)
	if err != nil {
		return fmt.Errorf("SCHEDULE_DAY_OPEN: %w", err)
	}
	closeMin, err := ParseClock(c.ScheduleDayClose)
	if err != nil {
		return fmt.Errorf("SCHEDULE_DAY_CLOSE: %w", err)
	}
	if openMin >= closeMin {
		return fmt.Errorf("SCHEDULE_DAY_OPEN %q must be before SCHEDULE_DAY_CLOSE %q", c.ScheduleDayOpen, c.ScheduleDayClose)
	}
	if c.ScheduleSlotMinutes <= 0 {
		return fmt.Errorf("SCHEDULE_SLOT_MINUTES must be positive, got %d", c.ScheduleSlotMinutes)
	}
	if c.ScheduleBufferMinutes < 0 {
		return fmt.Errorf("SCHEDULE_BUFFER_MINUTES must not be negative, got %d", c.ScheduleBufferMinutes)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
