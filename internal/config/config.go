// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	JWTIssuer      string `mapstructure:"JWT_ISSUER"`
	JWTAudience    string `mapstructure:"JWT_AUDIENCE"`
	Port           string `mapstructure:"PORT"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	DBReadHost     string `mapstructure:"DB_READ_HOST"`
	DBReadPort     string `mapstructure:"DB_READ_PORT"`
	DBReadUser     string `mapstructure:"DB_READ_USER"`
	DBReadPassword string `mapstructure:"DB_READ_PASSWORD"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	Env            string `mapstructure:"APP_ENV"`

	DBSchemaMode                  string `mapstructure:"DB_SCHEMA_MODE"`
	DBAutoMigrateAllowDestructive bool   `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`
	DBMaxOpenConns                int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns                int    `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes      int    `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	BcryptCost int `mapstructure:"BCRYPT_COST"`

	QuotaDefaultVideo    int     `mapstructure:"QUOTA_DEFAULT_VIDEO"`
	QuotaDefaultDocument int     `mapstructure:"QUOTA_DEFAULT_DOCUMENT"`
	QuotaDefaultImage    int     `mapstructure:"QUOTA_DEFAULT_IMAGE"`
	QuotaDefaultOther    int     `mapstructure:"QUOTA_DEFAULT_OTHER"`
	QuotaWarningRatio    float64 `mapstructure:"QUOTA_WARNING_RATIO"`

	// TenantAliases maps alternate tenant names onto canonical ones, e.g.
	// "addis=Addis Ababa Chapter;toronto=Toronto Chapter".
	TenantAliases string `mapstructure:"TENANT_ALIASES"`

	UploadMaxSizeMB int    `mapstructure:"UPLOAD_MAX_SIZE_MB"`
	BlobBackend     string `mapstructure:"BLOB_BACKEND"`
	BlobDir         string `mapstructure:"BLOB_DIR"`
	OSSEndpoint     string `mapstructure:"OSS_ENDPOINT"`
	OSSBucket       string `mapstructure:"OSS_BUCKET"`
	OSSAccessKeyID  string `mapstructure:"OSS_ACCESS_KEY_ID"`
	OSSAccessSecret string `mapstructure:"OSS_ACCESS_KEY_SECRET"`
	OSSPrefix       string `mapstructure:"OSS_PREFIX"`

	SnapshotMaxAgeHours     int `mapstructure:"SNAPSHOT_MAX_AGE_HOURS"`
	SnapshotIntervalMinutes int `mapstructure:"SNAPSHOT_INTERVAL_MINUTES"`
	FlagSLOMinutes          int `mapstructure:"FLAG_SLO_MINUTES"`

	OutboxPollIntervalMS int `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	OutboxBatchSize      int `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts    int `mapstructure:"OUTBOX_MAX_ATTEMPTS"`

	MediaWorkerEnabled bool `mapstructure:"MEDIA_WORKER_ENABLED"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`

	SeedBuiltInTenants bool `mapstructure:"SEED_BUILT_IN_TENANTS"`

	DevBootstrapRoot        bool   `mapstructure:"DEV_BOOTSTRAP_ROOT"`
	DevRootEmail            string `mapstructure:"DEV_ROOT_EMAIL"`
	DevRootPassword         string `mapstructure:"DEV_ROOT_PASSWORD"`
	DevRootForceCredentials bool   `mapstructure:"DEV_ROOT_FORCE_CREDENTIALS"`
}

// LoadConfig loads application configuration from .env, config files and environment variables.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "chapterhub")
	viper.SetDefault("DB_READ_HOST", "")
	viper.SetDefault("DB_READ_PORT", "5432")
	viper.SetDefault("DB_READ_USER", "user")
	viper.SetDefault("DB_READ_PASSWORD", "password")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE", false)
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("JWT_ISSUER", "chapterhub-api")
	viper.SetDefault("JWT_AUDIENCE", "chapterhub-admin")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("FEATURE_FLAGS", "admin_self_publish=on,admin_live_feed=on")
	viper.SetDefault("APP_ENV", "development")

	viper.SetDefault("BCRYPT_COST", 12)

	viper.SetDefault("QUOTA_DEFAULT_VIDEO", 50)
	viper.SetDefault("QUOTA_DEFAULT_DOCUMENT", 100)
	viper.SetDefault("QUOTA_DEFAULT_IMAGE", 200)
	viper.SetDefault("QUOTA_DEFAULT_OTHER", 100)
	viper.SetDefault("QUOTA_WARNING_RATIO", 0.8)
	viper.SetDefault("TENANT_ALIASES", "")

	viper.SetDefault("UPLOAD_MAX_SIZE_MB", 100)
	viper.SetDefault("BLOB_BACKEND", "local")
	viper.SetDefault("BLOB_DIR", "/tmp/chapterhub/blobs")
	viper.SetDefault("OSS_PREFIX", "uploads")

	viper.SetDefault("SNAPSHOT_MAX_AGE_HOURS", 24)
	viper.SetDefault("SNAPSHOT_INTERVAL_MINUTES", 60)
	viper.SetDefault("FLAG_SLO_MINUTES", 120)

	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 500)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("OUTBOX_MAX_ATTEMPTS", 8)
	viper.SetDefault("MEDIA_WORKER_ENABLED", true)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	viper.SetDefault("SEED_BUILT_IN_TENANTS", true)
	viper.SetDefault("DEV_BOOTSTRAP_ROOT", false)
	viper.SetDefault("DEV_ROOT_EMAIL", "root@chapterhub.local")
}

func (c *Config) normalize() {
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.BlobBackend = strings.ToLower(strings.TrimSpace(c.BlobBackend))
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
}

// IsProduction reports whether the configured environment is a production profile.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.BcryptCost != 0 && (c.BcryptCost < 4 || c.BcryptCost > 31) {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	for name, v := range map[string]int{
		"QUOTA_DEFAULT_VIDEO":    c.QuotaDefaultVideo,
		"QUOTA_DEFAULT_DOCUMENT": c.QuotaDefaultDocument,
		"QUOTA_DEFAULT_IMAGE":    c.QuotaDefaultImage,
		"QUOTA_DEFAULT_OTHER":    c.QuotaDefaultOther,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.QuotaWarningRatio < 0 || c.QuotaWarningRatio > 1 {
		return errors.New("QUOTA_WARNING_RATIO must be within [0,1]")
	}
	switch c.BlobBackend {
	case "", "local", "memory":
	case "oss":
		if c.OSSEndpoint == "" || c.OSSBucket == "" || c.OSSAccessKeyID == "" || c.OSSAccessSecret == "" {
			return errors.New("OSS_ENDPOINT, OSS_BUCKET, OSS_ACCESS_KEY_ID and OSS_ACCESS_KEY_SECRET are required when BLOB_BACKEND=oss")
		}
	default:
		return fmt.Errorf("unsupported BLOB_BACKEND %q", c.BlobBackend)
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
		if c.BlobBackend == "memory" {
			return errors.New("BLOB_BACKEND=memory is not allowed in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// QuotaDefaults returns the per-kind monthly limits applied when a quota row is first created.
func (c *Config) QuotaDefaults() map[string]int {
	return map[string]int{
		"video":    c.QuotaDefaultVideo,
		"document": c.QuotaDefaultDocument,
		"image":    c.QuotaDefaultImage,
		"other":    c.QuotaDefaultOther,
	}
}

// ParsedTenantAliases parses TENANT_ALIASES into a lower-cased alias -> canonical name map.
func (c *Config) ParsedTenantAliases() map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(c.TenantAliases, ";") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		alias := strings.ToLower(strings.TrimSpace(parts[0]))
		canonical := strings.TrimSpace(parts[1])
		if alias == "" || canonical == "" {
			continue
		}
		out[alias] = canonical
	}
	return out
}
