package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (BOOKSTORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BOOKSTORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
	Cache       CacheConfig
	Checkout    CheckoutConfig
	Payment     PaymentConfig
	Carrier     CarrierConfig
	Storage     StorageConfig
	SMTP        SMTPConfig
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Rate  float64 `default:"5"  usage:"Sustained requests per second per client"`
	Burst int     `default:"20" usage:"Requests a client may send at once"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// CacheConfig selects the pending order cache.
type CacheConfig struct {
	// Backend is "memory" for a single instance or "redis" when several
	// instances serve verify calls.
	Backend       string        `default:"memory" usage:"Order cache backend: memory or redis"`
	RedisURL      string        `usage:"Redis URL (BOOKSTORE_CACHE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Prefix        string        `default:"checkout" usage:"Redis key prefix"`
	Retention     time.Duration `default:"1h"  usage:"How long a placed order waits for verify"`
	SweepInterval time.Duration `default:"30m" usage:"Memory cache sweep interval"`
	LockTTL       time.Duration `default:"2m"  usage:"Verify lock lifetime in Redis"`
}

// CheckoutConfig holds payment session defaults.
type CheckoutConfig struct {
	Currency  string `default:"INR" usage:"Currency of payment sessions"`
	ReturnURL string `usage:"Where the gateway redirects after payment" flag:"return-url"`
}

// PaymentConfig holds Cashfree credentials.
type PaymentConfig struct {
	ClientID     string        `usage:"Cashfree client id"`
	ClientSecret string        `usage:"Cashfree client secret"`
	Environment  string        `default:"sandbox" usage:"Cashfree environment: sandbox or production"`
	BaseURL      string        `usage:"Cashfree API base URL override"`
	Timeout      time.Duration `default:"15s" usage:"Cashfree request timeout"`
}

// CarrierConfig holds Shiprocket credentials and the fixed parcel size.
type CarrierConfig struct {
	Email         string        `usage:"Shiprocket account email"`
	Password      string        `usage:"Shiprocket account password"`
	BaseURL       string        `usage:"Shiprocket API base URL override"`
	Timeout       time.Duration `default:"20s" usage:"Shiprocket request timeout"`
	PickupPincode string        `usage:"Pickup postcode for shipping quotes" flag:"pickup-pincode"`
	Package       PackageConfig
}

// PackageConfig is the parcel size sent with every shipment.
type PackageConfig struct {
	Length  float64 `default:"10"  usage:"Parcel length in cm"`
	Breadth float64 `default:"10"  usage:"Parcel breadth in cm"`
	Height  float64 `default:"5"   usage:"Parcel height in cm"`
	Weight  float64 `default:"0.5" usage:"Parcel weight in kg"`
}

// StorageConfig locates the ebook bucket.
type StorageConfig struct {
	Bucket          string `usage:"S3 bucket holding ebook files"`
	Region          string `default:"ap-south-1" usage:"S3 region"`
	Endpoint        string `usage:"S3-compatible endpoint override"`
	AccessKeyID     string `usage:"S3 access key id"`
	SecretAccessKey string `usage:"S3 secret access key"`
	UsePathStyle    bool   `default:"false" usage:"Use path-style bucket addressing"`
}

// SMTPConfig configures the delivery mail relay. Mail is logged instead of
// sent when Host is empty.
type SMTPConfig struct {
	Host     string        `usage:"SMTP host"`
	Port     int           `default:"587" usage:"SMTP port"`
	Username string        `usage:"SMTP username"`
	Password string        `usage:"SMTP password"`
	From     string        `default:"orders@bookstore.local" usage:"Sender address"`
	TLS      string        `default:"mandatory" usage:"TLS policy: mandatory, opportunistic or none"`
	Timeout  time.Duration `default:"15s" usage:"SMTP dial and send timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BOOKSTORE",
		Files:     []string{"config.yaml", "/etc/bookstore/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set BOOKSTORE_DATABASE_URL or DATABASE_URL")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("redis cache requires BOOKSTORE_CACHE_REDIS_URL or REDIS_URL")
		}
	default:
		return errors.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Retention <= 0 {
		return errors.New("cache retention must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's BOOKSTORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Cache.RedisURL == "" {
		c.Cache.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
