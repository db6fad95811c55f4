package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/api"
	"github.com/tendant/simple-image/pkg/simpleimage/delivery"
	"github.com/tendant/simple-image/pkg/simpleimage/janitor"
	"github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
	repopg "github.com/tendant/simple-image/pkg/simpleimage/repo/postgres"
	cldstorage "github.com/tendant/simple-image/pkg/simpleimage/storage/cloudinary"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
	s3storage "github.com/tendant/simple-image/pkg/simpleimage/storage/s3"
	"github.com/tendant/simple-image/pkg/simpleimage/transformcache"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:              "8080",
		Environment:       "development",
		DatabaseType:      "memory",
		DBSchema:          "simpleimage",
		StorageBackend:    "memory",
		DeliveryBaseURL:   memorystorage.DefaultBaseURL,
		TransformCacheTTL: 24 * time.Hour,
		CleanupDays:       simpleimage.DefaultCleanupDays,
		DefaultFolder:     simpleimage.DefaultFolder,
		MaxUploadBytes:    api.DefaultMaxUploadBytes,
		MaxUploadFiles:    api.DefaultMaxFiles,
		MaxSourcePixels:   delivery.DefaultMaxSourcePixels,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// ServerConfig represents server configuration for the simple-image service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: simpleimage)

	// Remote store configuration
	StorageBackend  string // "memory", "s3", "cloudinary"
	DeliveryBaseURL string // base of object URLs for memory and s3
	S3              S3Config
	Cloudinary      CloudinaryConfig

	// Optional Redis cache in front of transformation lookups
	RedisURL          string
	TransformCacheTTL time.Duration

	// Authentication; empty JWTSecret trusts the development identity headers
	JWTSecret string

	// Scheduled cleanup; empty schedule disables it
	CleanupSchedule string
	CleanupDays     int

	DefaultFolder  string
	MaxUploadBytes int64
	MaxUploadFiles int

	// Largest stored image, in pixels, the delivery renderer will decode
	MaxSourcePixels int64

	LogLevel  string
	LogFormat string
}

// S3Config holds the S3 remote store settings
type S3Config struct {
	Region                 string
	Bucket                 string
	AccessKeyID            string
	SecretAccessKey        string
	Endpoint               string
	UsePathStyle           bool
	EnableSSE              bool
	SSEAlgorithm           string
	SSEKMSKeyID            string
	CreateBucketIfNotExist bool
}

// CloudinaryConfig holds the Cloudinary account credentials
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.StorageBackend {
	case "memory":
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("s3 bucket is required when using s3 storage")
		}
	case "cloudinary":
		if c.Cloudinary.CloudName == "" || c.Cloudinary.APIKey == "" || c.Cloudinary.APISecret == "" {
			return errors.New("cloudinary cloud name, api key and api secret are required")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s (use memory, s3 or cloudinary)", c.StorageBackend)
	}

	if c.StorageBackend != "cloudinary" {
		u, err := url.Parse(c.DeliveryBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("delivery_base_url must be an absolute url, got %q", c.DeliveryBaseURL)
		}
	}

	if c.CleanupSchedule != "" {
		if _, err := janitor.New(noopCleaner{}, c.CleanupSchedule, c.CleanupDays); err != nil {
			return err
		}
	}

	if c.Environment == "production" && c.JWTSecret == "" {
		return errors.New("jwt_secret is required in production")
	}

	return nil
}

// DeliveryPath is the router path the delivery handler is mounted at
func (c *ServerConfig) DeliveryPath() string {
	u, err := url.Parse(c.DeliveryBaseURL)
	if err != nil || strings.Trim(u.Path, "/") == "" {
		return "/"
	}
	return "/" + strings.Trim(u.Path, "/")
}

// Runtime holds the built service and the resources that must be released
// on shutdown
type Runtime struct {
	Service simpleimage.Service
	// Fetcher is nil when the remote store delivers its own URLs
	Fetcher simpleimage.Fetcher

	closers []func()
}

// Close releases pools and clients opened by Build
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// BuildService creates a Service instance from the server configuration.
// Resources it opens live until the process exits; use Build to release them.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (simpleimage.Service, error) {
	rt, err := c.Build(ctx, logger)
	if err != nil {
		return nil, err
	}
	return rt.Service, nil
}

// Build creates the service and its supporting resources
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	repo, err := c.buildRepository(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	store, err := c.buildRemoteStore()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.StorageBackend, err)
	}
	if fetcher, ok := store.(simpleimage.Fetcher); ok {
		rt.Fetcher = fetcher
	}

	options := []simpleimage.Option{
		simpleimage.WithRepository(repo),
		simpleimage.WithRemoteStore(c.StorageBackend, store),
		simpleimage.WithLogger(logger),
		simpleimage.WithDefaultFolder(c.DefaultFolder),
	}

	if c.RedisURL != "" {
		cache, err := transformcache.NewFromURL("", c.RedisURL, c.TransformCacheTTL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to build transform cache: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = cache.Close() })
		options = append(options, simpleimage.WithTransformCache(cache))
	}

	svc, err := simpleimage.New(options...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

// BuildHandler mounts the image API under /images, the delivery renderer at
// the delivery path when the store can stream objects, and health checks.
func (c *ServerConfig) BuildHandler(rt *Runtime, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	c.MountRoutes(r, rt, logger)
	return r
}

// MountRoutes registers the service routes on an existing router
func (c *ServerConfig) MountRoutes(r chi.Router, rt *Runtime, logger *slog.Logger) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})

	opts := []api.HandlerOption{
		api.WithLogger(logger),
		api.WithMaxUploadBytes(c.MaxUploadBytes),
		api.WithMaxFiles(c.MaxUploadFiles),
	}
	if c.JWTSecret != "" {
		opts = append(opts, api.WithAuthenticator(api.JWTAuthenticator(api.NewJWTAuth(c.JWTSecret))))
	}
	r.Mount("/images", api.NewImageHandler(rt.Service, opts...).Routes())

	if rt.Fetcher != nil {
		r.Mount(c.DeliveryPath(), delivery.NewHandler(rt.Fetcher,
			delivery.WithLogger(logger),
			delivery.WithMaxSourcePixels(c.MaxSourcePixels),
		).Routes())
	}
}

// BuildJanitor returns the scheduled cleanup runner, or nil when no
// schedule is configured
func (c *ServerConfig) BuildJanitor(svc simpleimage.Service, logger *slog.Logger) (*janitor.Janitor, error) {
	if c.CleanupSchedule == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return janitor.New(svc, c.CleanupSchedule, c.CleanupDays, janitor.WithLogger(logger))
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (simpleimage.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pool, err := NewPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// NewPool opens a pgx pool whose sessions use schema as search_path
func NewPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres. It fails if the schema
// (when provided) does not exist.
func PingPostgres(ctx context.Context, databaseURL, schema string) error {
	pool, err := NewPool(ctx, databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildRemoteStore creates the RemoteStore based on the configuration
func (c *ServerConfig) buildRemoteStore() (simpleimage.RemoteStore, error) {
	switch c.StorageBackend {
	case "memory":
		return memorystorage.New(memorystorage.WithBaseURL(c.DeliveryBaseURL)), nil

	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.S3.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			DeliveryBaseURL:        c.DeliveryBaseURL,
			EnableSSE:              c.S3.EnableSSE,
			SSEAlgorithm:           c.S3.SSEAlgorithm,
			SSEKMSKeyID:            c.S3.SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3.CreateBucketIfNotExist,
		})

	case "cloudinary":
		return cldstorage.New(cldstorage.Config{
			CloudName: c.Cloudinary.CloudName,
			APIKey:    c.Cloudinary.APIKey,
			APISecret: c.Cloudinary.APISecret,
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", c.StorageBackend)
	}
}

type noopCleaner struct{}

func (noopCleaner) CleanupUnused(context.Context, int) (int, error) { return 0, nil }
