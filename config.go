package staffauth

import (
	"errors"
	"time"
)

// Config carries every tunable of the engine. Builders start from
// DefaultConfig and validate the result; a Config is immutable once the
// engine is built.
type Config struct {
	// Production tightens failure handling: synchronous notifier errors abort
	// code issuance instead of being logged, and codes are never echoed to
	// the log.
	Production bool

	JWT       JWTConfig
	Password  PasswordConfig
	Lockout   LockoutConfig
	OTP       OTPConfig
	Recovery  RecoveryConfig
	Refresh   RefreshConfig
	RateLimit RateLimitConfig
	Notifier  NotifierConfig
	Session   SessionConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// JWTConfig controls access token issuance and validation.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// PasswordConfig controls argon2id hashing and the acceptance policy for
// new passwords.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength       int
	RequireUpper    bool
	RequireLower    bool
	RequireDigit    bool
	RequireSymbol   bool
	BlocklistPath   string // optional newline-delimited banned passwords file
	RejectBlocklist bool
}

// LockoutConfig controls the progressive lockout on password failures.
type LockoutConfig struct {
	Threshold int           // consecutive failures before locking
	Duration  time.Duration // lockout window length
}

// OTPConfig controls one-time code issuance.
type OTPConfig struct {
	Digits      int
	LoginTTL    time.Duration
	RecoveryTTL time.Duration

	// ExpiredRetention keeps expired code records around so verification can
	// distinguish "expired" from "never existed" in audit records. Records
	// older than TTL+ExpiredRetention are garbage-collected by the store.
	ExpiredRetention time.Duration
}

// RecoveryConfig controls recovery (password reset) tokens.
type RecoveryConfig struct {
	TokenTTL time.Duration
}

// RefreshConfig controls refresh tokens.
type RefreshConfig struct {
	TTL time.Duration
}

// RateLimitConfig controls the two-layer budget on one-time-code requests.
type RateLimitConfig struct {
	// Origin layer: fixed window per source address.
	OriginWindow time.Duration
	OriginMax    int

	// Identity layer: cooldown between consecutive requests plus rolling
	// hourly and daily caps, accounted against a durable ledger.
	IdentityCooldown time.Duration
	HourlyMax        int
	DailyMax         int

	// CacheSweep is the eviction interval of the non-authoritative in-process
	// fast path in front of the ledger.
	CacheSweep time.Duration
}

// NotifierConfig controls one-time-code delivery.
type NotifierConfig struct {
	// Timeout bounds a single delivery attempt. Deliveries are
	// fire-and-forget beyond this point.
	Timeout time.Duration
}

// SessionConfig controls post-login routing.
type SessionConfig struct {
	// RoleLandingPaths maps a credential role to the path the client should
	// navigate to after login. Roles without an entry fall back to
	// DefaultLandingPath.
	RoleLandingPaths   map[string]string
	DefaultLandingPath string
}

// AuditConfig controls the asynchronous audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration a fresh Builder starts from.
// Callers that only need to override a few fields start here instead of
// filling in a Config from scratch.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     10 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "staffauth",
		},
		Password: PasswordConfig{
			Memory:          65536,
			Time:            3,
			Parallelism:     2,
			SaltLength:      16,
			KeyLength:       32,
			MinLength:       10,
			RequireUpper:    true,
			RequireLower:    true,
			RequireDigit:    true,
			RequireSymbol:   true,
			RejectBlocklist: true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		OTP: OTPConfig{
			Digits:           6,
			LoginTTL:         5 * time.Minute,
			RecoveryTTL:      15 * time.Minute,
			ExpiredRetention: time.Hour,
		},
		Recovery: RecoveryConfig{
			TokenTTL: 15 * time.Minute,
		},
		Refresh: RefreshConfig{
			TTL: 7 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			OriginWindow:     time.Minute,
			OriginMax:        2,
			IdentityCooldown: time.Minute,
			HourlyMax:        5,
			DailyMax:         10,
			CacheSweep:       5 * time.Minute,
		},
		Notifier: NotifierConfig{
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			DefaultLandingPath: "/dashboard",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.Session.RoleLandingPaths != nil {
		out.Session.RoleLandingPaths = make(map[string]string, len(cfg.Session.RoleLandingPaths))
		for k, v := range cfg.Session.RoleLandingPaths {
			out.Session.RoleLandingPaths[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks internal consistency. Builder.Build calls this before
// constructing the engine.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
		if c.Production && len(c.JWT.PrivateKey) < 32 {
			return errors.New("production requires hs256 key length >= 256 bits")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.Production && c.JWT.AccessTTL > 15*time.Minute {
		return errors.New("production requires JWT AccessTTL <= 15m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.LoginTTL <= 0 || c.OTP.RecoveryTTL <= 0 {
		return errors.New("OTP TTLs must be > 0")
	}
	if c.OTP.RecoveryTTL > 15*time.Minute {
		return errors.New("OTP RecoveryTTL must be <= 15m")
	}
	if c.OTP.ExpiredRetention < 0 {
		return errors.New("OTP ExpiredRetention must be >= 0")
	}

	// Recovery
	if c.Recovery.TokenTTL <= 0 {
		return errors.New("Recovery TokenTTL must be > 0")
	}
	if c.Recovery.TokenTTL < c.OTP.RecoveryTTL {
		return errors.New("Recovery TokenTTL must cover OTP RecoveryTTL")
	}

	// Refresh
	if c.Refresh.TTL <= 0 {
		return errors.New("Refresh TTL must be > 0")
	}
	if c.Production && c.Refresh.TTL > 30*24*time.Hour {
		return errors.New("production requires Refresh TTL <= 30d")
	}

	// Rate limiting
	if c.RateLimit.OriginWindow <= 0 {
		return errors.New("RateLimit OriginWindow must be > 0")
	}
	if c.RateLimit.OriginMax <= 0 {
		return errors.New("RateLimit OriginMax must be > 0")
	}
	if c.RateLimit.IdentityCooldown <= 0 {
		return errors.New("RateLimit IdentityCooldown must be > 0")
	}
	if c.RateLimit.HourlyMax <= 0 {
		return errors.New("RateLimit HourlyMax must be > 0")
	}
	if c.RateLimit.DailyMax < c.RateLimit.HourlyMax {
		return errors.New("RateLimit DailyMax must be >= HourlyMax")
	}
	if c.RateLimit.CacheSweep <= 0 {
		return errors.New("RateLimit CacheSweep must be > 0")
	}

	// Notifier
	if c.Notifier.Timeout <= 0 {
		return errors.New("Notifier Timeout must be > 0")
	}

	// Session
	if c.Session.DefaultLandingPath == "" {
		return errors.New("Session DefaultLandingPath is required")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
