package presets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/config"
	memoryrepo "github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
)

// Configuration Presets
//
// Presets assemble a ready service for common situations so callers do not
// have to wire repositories and remote stores by hand.

// Testing bundles a test service with the in-memory backends behind it, so
// tests can inspect stored objects and destroy calls directly.
type Testing struct {
	Service simpleimage.Service
	Repo    *memoryrepo.Repository
	Store   *memorystorage.Backend
	// Fixtures holds the images seeded by WithTestFixtures
	Fixtures []*simpleimage.ImageAsset
}

type testConfig struct {
	fixtures int
	logger   *slog.Logger
}

// TestingOption is a functional option for NewTesting
type TestingOption func(*testConfig)

// WithTestFixtures seeds n distinct PNG images uploaded by "fixture"
func WithTestFixtures(n int) TestingOption {
	return func(cfg *testConfig) {
		cfg.fixtures = n
	}
}

// WithTestLogger sets the service logger; the default discards output
func WithTestLogger(logger *slog.Logger) TestingOption {
	return func(cfg *testConfig) {
		cfg.logger = logger
	}
}

// NewTesting creates a service on in-memory backends, isolated per test.
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    env := presets.NewTesting(t, presets.WithTestFixtures(3))
//	    img, err := env.Service.GetImage(ctx, env.Fixtures[0].ID)
//	}
func NewTesting(t testing.TB, opts ...TestingOption) *Testing {
	t.Helper()

	cfg := &testConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(cfg)
	}

	repo := memoryrepo.New()
	store := memorystorage.New()

	svc, err := simpleimage.New(
		simpleimage.WithRepository(repo),
		simpleimage.WithRemoteStore("memory", store),
		simpleimage.WithLogger(cfg.logger),
	)
	if err != nil {
		t.Fatalf("failed to create test service: %v", err)
	}

	env := &Testing{Service: svc, Repo: repo, Store: store}
	for i := 0; i < cfg.fixtures; i++ {
		img, err := svc.Upload(context.Background(), simpleimage.UploadRequest{
			Data:       FixturePNG(i),
			FileName:   fmt.Sprintf("fixture-%d.png", i),
			UploaderID: "fixture",
		})
		if err != nil {
			t.Fatalf("failed to seed fixture %d: %v", i, err)
		}
		env.Fixtures = append(env.Fixtures, img)
	}
	return env
}

// FixturePNG returns a small PNG whose bytes differ for every seed
func FixturePNG(seed int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 8))
	for x := 0; x < 16; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(x * y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// NewDevelopment builds a runtime for local development: in-memory database
// and remote store served from baseURL, no authentication secret. Extra
// config options are applied on top.
func NewDevelopment(ctx context.Context, baseURL string, opts ...config.Option) (*config.ServerConfig, *config.Runtime, error) {
	all := append([]config.Option{
		config.WithEnvironment("development"),
		config.WithDatabase("memory", ""),
		config.WithMemoryStorage(baseURL),
		config.WithLogging("debug", "text"),
	}, opts...)
	return build(ctx, all)
}

// NewProduction builds a runtime from the environment and refuses settings
// that lose data on restart.
func NewProduction(ctx context.Context, opts ...config.Option) (*config.ServerConfig, *config.Runtime, error) {
	all := append([]config.Option{
		config.WithEnvironment("production"),
		config.WithEnv(),
	}, opts...)
	cfg, err := config.Load(all...)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseType == "memory" {
		return nil, nil, errors.New("production preset requires DATABASE_URL to point at postgres")
	}
	if cfg.StorageBackend == "memory" {
		return nil, nil, errors.New("production preset requires s3 or cloudinary storage")
	}
	rt, err := cfg.Build(ctx, cfg.Logger())
	if err != nil {
		return nil, nil, err
	}
	return cfg, rt, nil
}

func build(ctx context.Context, opts []config.Option) (*config.ServerConfig, *config.Runtime, error) {
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, nil, err
	}
	rt, err := cfg.Build(ctx, cfg.Logger())
	if err != nil {
		return nil, nil, err
	}
	return cfg, rt, nil
}
