package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// EnvConfig lists the environment variables WithEnv reads. Unset variables
// leave the current value unchanged.
type EnvConfig struct {
	Port        string `env:"PORT" env-description:"HTTP port"`
	Environment string `env:"ENVIRONMENT" env-description:"development, production or testing"`

	DatabaseURL string `env:"DATABASE_URL" env-description:"postgres connection string; empty or memory uses the in-memory store"`
	DBSchema    string `env:"DB_SCHEMA" env-description:"postgres schema"`

	StorageBackend  string `env:"STORAGE_BACKEND" env-description:"memory, s3 or cloudinary"`
	DeliveryBaseURL string `env:"DELIVERY_BASE_URL" env-description:"base of object URLs for memory and s3 storage"`

	S3Region                 string `env:"S3_REGION"`
	S3Bucket                 string `env:"S3_BUCKET"`
	S3AccessKeyID            string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey        string `env:"S3_SECRET_ACCESS_KEY"`
	S3Endpoint               string `env:"S3_ENDPOINT" env-description:"custom endpoint for MinIO or R2"`
	S3UsePathStyle           bool   `env:"S3_USE_PATH_STYLE"`
	S3EnableSSE              bool   `env:"S3_ENABLE_SSE"`
	S3SSEAlgorithm           string `env:"S3_SSE_ALGORITHM"`
	S3SSEKMSKeyID            string `env:"S3_SSE_KMS_KEY_ID"`
	S3CreateBucketIfNotExist bool   `env:"S3_CREATE_BUCKET_IF_NOT_EXIST"`

	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`

	RedisURL          string        `env:"REDIS_URL" env-description:"enables the transformation cache"`
	TransformCacheTTL time.Duration `env:"TRANSFORM_CACHE_TTL"`

	JWTSecret string `env:"JWT_SECRET" env-description:"HS256 secret; empty trusts X-User-ID headers"`

	CleanupSchedule string `env:"CLEANUP_SCHEDULE" env-description:"cron expression for unused image cleanup"`
	CleanupDays     int    `env:"CLEANUP_DAYS"`

	DefaultFolder  string `env:"DEFAULT_FOLDER"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES"`
	MaxUploadFiles int    `env:"MAX_UPLOAD_FILES"`

	MaxSourcePixels int64 `env:"MAX_SOURCE_PIXELS" env-description:"largest stored image, in pixels, decoded for transformations"`

	LogLevel  string `env:"LOG_LEVEL" env-description:"debug, info, warn or error"`
	LogFormat string `env:"LOG_FORMAT" env-description:"text or json"`
}

// WithEnv applies environment variable overrides.
//
// DATABASE_URL selects the record store: a postgres:// or postgresql:// URL
// uses Postgres, empty or "memory" keeps the in-memory store.
// STORAGE_BACKEND selects the remote store and is inferred from S3_BUCKET or
// CLOUDINARY_CLOUD_NAME when unset.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env EnvConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return env.apply(c)
	}
}

// EnvUsage describes the environment variables read by WithEnv
func EnvUsage(header string) string {
	text, err := cleanenv.GetDescription(&EnvConfig{}, &header)
	if err != nil {
		return header
	}
	return text
}

func (e EnvConfig) apply(c *ServerConfig) error {
	setString(&c.Port, e.Port)
	setString(&c.Environment, e.Environment)

	switch {
	case e.DatabaseURL == "" || e.DatabaseURL == "memory":
	case strings.HasPrefix(e.DatabaseURL, "postgres://"), strings.HasPrefix(e.DatabaseURL, "postgresql://"):
		c.DatabaseType = "postgres"
		c.DatabaseURL = e.DatabaseURL
	default:
		return fmt.Errorf("unsupported DATABASE_URL format (use 'memory' or 'postgresql://...')")
	}
	setString(&c.DBSchema, e.DBSchema)

	backend := e.StorageBackend
	if backend == "" {
		switch {
		case e.S3Bucket != "":
			backend = "s3"
		case e.CloudinaryCloudName != "":
			backend = "cloudinary"
		}
	}
	setString(&c.StorageBackend, backend)
	setString(&c.DeliveryBaseURL, e.DeliveryBaseURL)

	setString(&c.S3.Region, e.S3Region)
	setString(&c.S3.Bucket, e.S3Bucket)
	setString(&c.S3.AccessKeyID, e.S3AccessKeyID)
	setString(&c.S3.SecretAccessKey, e.S3SecretAccessKey)
	setString(&c.S3.Endpoint, e.S3Endpoint)
	setString(&c.S3.SSEAlgorithm, e.S3SSEAlgorithm)
	setString(&c.S3.SSEKMSKeyID, e.S3SSEKMSKeyID)
	c.S3.UsePathStyle = c.S3.UsePathStyle || e.S3UsePathStyle
	c.S3.EnableSSE = c.S3.EnableSSE || e.S3EnableSSE
	c.S3.CreateBucketIfNotExist = c.S3.CreateBucketIfNotExist || e.S3CreateBucketIfNotExist

	setString(&c.Cloudinary.CloudName, e.CloudinaryCloudName)
	setString(&c.Cloudinary.APIKey, e.CloudinaryAPIKey)
	setString(&c.Cloudinary.APISecret, e.CloudinaryAPISecret)

	setString(&c.RedisURL, e.RedisURL)
	if e.TransformCacheTTL > 0 {
		c.TransformCacheTTL = e.TransformCacheTTL
	}

	setString(&c.JWTSecret, e.JWTSecret)
	setString(&c.CleanupSchedule, e.CleanupSchedule)
	if e.CleanupDays > 0 {
		c.CleanupDays = e.CleanupDays
	}

	setString(&c.DefaultFolder, e.DefaultFolder)
	if e.MaxUploadBytes > 0 {
		c.MaxUploadBytes = e.MaxUploadBytes
	}
	if e.MaxUploadFiles > 0 {
		c.MaxUploadFiles = e.MaxUploadFiles
	}
	if e.MaxSourcePixels > 0 {
		c.MaxSourcePixels = e.MaxSourcePixels
	}

	setString(&c.LogLevel, e.LogLevel)
	setString(&c.LogFormat, e.LogFormat)
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
