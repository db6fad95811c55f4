package config

import (
	"errors"
	"time"
)

// WithPort sets the HTTP port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return errors.New("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the runtime environment
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		c.Environment = env
		return nil
	}
}

// WithDatabase selects the record store
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the Postgres schema used as search_path
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithMemoryStorage keeps objects in process memory, served from baseURL
func WithMemoryStorage(baseURL string) Option {
	return func(c *ServerConfig) error {
		c.StorageBackend = "memory"
		if baseURL != "" {
			c.DeliveryBaseURL = baseURL
		}
		return nil
	}
}

// WithS3Storage stores objects in an S3 bucket, served from deliveryBaseURL
func WithS3Storage(s3 S3Config, deliveryBaseURL string) Option {
	return func(c *ServerConfig) error {
		c.StorageBackend = "s3"
		c.S3 = s3
		if deliveryBaseURL != "" {
			c.DeliveryBaseURL = deliveryBaseURL
		}
		return nil
	}
}

// WithCloudinaryStorage stores objects on Cloudinary
func WithCloudinaryStorage(cld CloudinaryConfig) Option {
	return func(c *ServerConfig) error {
		c.StorageBackend = "cloudinary"
		c.Cloudinary = cld
		return nil
	}
}

// WithRedisCache enables the Redis transformation cache
func WithRedisCache(url string, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		c.RedisURL = url
		if ttl > 0 {
			c.TransformCacheTTL = ttl
		}
		return nil
	}
}

// WithJWTSecret enables bearer token authentication
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.JWTSecret = secret
		return nil
	}
}

// WithCleanup schedules CleanupUnused; an empty schedule disables it
func WithCleanup(schedule string, daysOld int) Option {
	return func(c *ServerConfig) error {
		c.CleanupSchedule = schedule
		if daysOld > 0 {
			c.CleanupDays = daysOld
		}
		return nil
	}
}

// WithDefaultFolder sets the folder used when uploads name none
func WithDefaultFolder(folder string) Option {
	return func(c *ServerConfig) error {
		if folder == "" {
			return errors.New("default folder cannot be empty")
		}
		c.DefaultFolder = folder
		return nil
	}
}

// WithUploadLimits bounds file size and files per multi-file upload
func WithUploadLimits(maxBytes int64, maxFiles int) Option {
	return func(c *ServerConfig) error {
		if maxBytes > 0 {
			c.MaxUploadBytes = maxBytes
		}
		if maxFiles > 0 {
			c.MaxUploadFiles = maxFiles
		}
		return nil
	}
}

// WithLogging sets the log level and format
func WithLogging(level, format string) Option {
	return func(c *ServerConfig) error {
		if level != "" {
			c.LogLevel = level
		}
		if format != "" {
			c.LogFormat = format
		}
		return nil
	}
}
