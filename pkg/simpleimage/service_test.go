package simpleimage_test

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
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     simpleimage.Service
	repo    *memory.Repository
	backend *memorystorage.Backend
	clock   *fakeClock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...simpleimage.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:    memory.New(),
		backend: memorystorage.New(memorystorage.WithBaseURL("https://media.test")),
		clock:   &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	base := []simpleimage.Option{
		simpleimage.WithRepository(f.repo),
		simpleimage.WithRemoteStore("memory", f.backend),
		simpleimage.WithLogger(discardLogger()),
		simpleimage.WithClock(f.clock.Now),
	}
	svc, err := simpleimage.New(append(base, opts...)...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func pngBytes(t *testing.T, w, h int, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: seed, G: 10, B: 20, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func blog(id, field string) simpleimage.UsageReference {
	return simpleimage.UsageReference{EntityType: simpleimage.EntityTypeBlog, EntityID: id, Field: field}
}

func blogMatch(id, field string) simpleimage.ReferenceMatch {
	return simpleimage.ReferenceMatch{EntityType: simpleimage.EntityTypeBlog, EntityID: id, Field: field}
}

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name        string
		options     []simpleimage.Option
		expectError bool
	}{
		{
			name:        "no options should fail",
			options:     []simpleimage.Option{},
			expectError: true,
		},
		{
			name:        "repository without remote store should fail",
			options:     []simpleimage.Option{simpleimage.WithRepository(memory.New())},
			expectError: true,
		},
		{
			name: "with repository and remote store should succeed",
			options: []simpleimage.Option{
				simpleimage.WithRepository(memory.New()),
				simpleimage.WithRemoteStore("memory", memorystorage.New()),
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := simpleimage.New(tt.options...)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, svc)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, svc)
			}
		})
	}
}

func TestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("creates asset with probed metadata", func(t *testing.T) {
		f := newFixture(t)
		data := pngBytes(t, 8, 6, 1)

		img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
			Data:       data,
			FileName:   "photo.png",
			UploaderID: "user-1",
			Options:    simpleimage.UploadOptions{Tags: []string{"a"}, Description: "first"},
		})
		require.NoError(t, err)

		assert.Equal(t, simpleimage.ContentDigest(data), img.ContentDigest)
		assert.Equal(t, "image/png", img.MimeType)
		assert.Equal(t, "png", img.Format)
		assert.Equal(t, simpleimage.DefaultFolder, img.Folder)
		assert.Equal(t, int64(len(data)), img.FileSizeBytes)
		require.NotNil(t, img.Width)
		assert.Equal(t, 8, *img.Width)
		assert.Equal(t, 0, img.ReferenceCount)
		assert.Empty(t, img.UsedBy)
		assert.Equal(t, []string{"a"}, img.Tags)
		assert.Equal(t, f.clock.Now(), img.CreatedAt)
		assert.True(t, f.backend.Has(img.RemoteID))
	})

	t.Run("seeds reference when triple is complete", func(t *testing.T) {
		f := newFixture(t)
		img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
			Data:    pngBytes(t, 2, 2, 2),
			Options: simpleimage.UploadOptions{EntityType: simpleimage.EntityTypeUser, EntityID: "u1", Field: "avatar", Folder: "avatars"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, img.ReferenceCount)
		require.Len(t, img.UsedBy, 1)
		assert.Equal(t, simpleimage.EntityTypeUser, img.UsedBy[0].EntityType)
		assert.Equal(t, f.clock.Now(), img.UsedBy[0].AddedAt)
		assert.Equal(t, "avatars", img.Folder)
	})

	t.Run("partial reference is ignored", func(t *testing.T) {
		f := newFixture(t)
		img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
			Data:    pngBytes(t, 2, 2, 3),
			Options: simpleimage.UploadOptions{EntityType: simpleimage.EntityTypeBlog, EntityID: "b1"},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, img.ReferenceCount)
	})

	t.Run("unknown entity type is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
			Data:    pngBytes(t, 2, 2, 4),
			Options: simpleimage.UploadOptions{EntityType: "product", EntityID: "p1", Field: "hero"},
		})
		assert.ErrorIs(t, err, simpleimage.ErrInvalidEntityType)
		assert.Equal(t, 0, f.backend.Len())
	})

	t.Run("empty upload is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Upload(ctx, simpleimage.UploadRequest{})
		assert.ErrorIs(t, err, simpleimage.ErrEmptyUpload)
		assert.True(t, simpleimage.IsValidation(err))
	})

	t.Run("remote failure creates no record", func(t *testing.T) {
		f := newFixture(t)
		f.backend.FailUploads(errors.New("provider down"))

		_, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 5)})
		require.Error(t, err)
		assert.ErrorIs(t, err, simpleimage.ErrUploadFailed)
		assert.True(t, simpleimage.IsUpstream(err))

		list, err := f.svc.GetAllImages(ctx, simpleimage.ListImagesRequest{})
		require.NoError(t, err)
		assert.Equal(t, int64(0), list.Total)
	})
}

func TestUpload_Dedup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := pngBytes(t, 4, 4, 9)

	first, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: data, UploaderID: "a"})
	require.NoError(t, err)
	second, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: data, UploaderID: "b"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0, second.ReferenceCount)
	assert.Equal(t, 1, f.backend.Len())

	third, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
		Data:    data,
		Options: simpleimage.UploadOptions{EntityType: simpleimage.EntityTypeBlog, EntityID: "b1", Field: "cover"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, 1, third.ReferenceCount)

	list, err := f.svc.GetAllImages(ctx, simpleimage.ListImagesRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.Total)
}

// racingRepository hides the first digest lookup so the service takes the
// create path and loses the unique-digest race.
type racingRepository struct {
	*memory.Repository
	mu     sync.Mutex
	hidden bool
}

func (r *racingRepository) GetImageByDigest(ctx context.Context, digest string) (*simpleimage.ImageAsset, error) {
	r.mu.Lock()
	hide := !r.hidden
	r.hidden = true
	r.mu.Unlock()
	if hide {
		return nil, simpleimage.ErrImageNotFound
	}
	return r.Repository.GetImageByDigest(ctx, digest)
}

func TestUpload_LosingDigestRaceFallsBackToExisting(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	backend := memorystorage.New()
	data := pngBytes(t, 3, 3, 7)

	winner, err := simpleimage.New(simpleimage.WithRepository(repo), simpleimage.WithRemoteStore("memory", backend), simpleimage.WithLogger(discardLogger()))
	require.NoError(t, err)
	existing, err := winner.Upload(ctx, simpleimage.UploadRequest{Data: data})
	require.NoError(t, err)

	loser, err := simpleimage.New(
		simpleimage.WithRepository(&racingRepository{Repository: repo}),
		simpleimage.WithRemoteStore("memory", backend),
		simpleimage.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	got, err := loser.Upload(ctx, simpleimage.UploadRequest{
		Data:    data,
		Options: simpleimage.UploadOptions{EntityType: simpleimage.EntityTypeBlog, EntityID: "b1", Field: "cover"},
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.Equal(t, 1, got.ReferenceCount)

	// the loser's own object was destroyed, the winner's survives
	assert.Equal(t, 1, backend.Len())
	assert.True(t, backend.Has(existing.RemoteID))
	assert.Len(t, backend.DestroyCalls(), 1)
}

func TestUploadMultiple_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	images, err := f.svc.UploadMultiple(ctx, simpleimage.UploadMultipleRequest{
		Files: []simpleimage.UploadFile{
			{Data: pngBytes(t, 2, 2, 11), FileName: "one.png"},
			{Data: nil, FileName: "empty.png"},
			{Data: pngBytes(t, 2, 2, 12), FileName: "two.png"},
		},
		UploaderID: "u1",
	})
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "one.png", images[0].FileName)
	assert.Equal(t, "two.png", images[1].FileName)
}

func TestReferenceLifecycle_DedupAttachAndRelease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := pngBytes(t, 5, 5, 42)

	a1, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: data})
	require.NoError(t, err)
	assert.Equal(t, 0, a1.ReferenceCount)

	got, err := f.svc.AddReference(ctx, a1.ID, blog("b1", "cover"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReferenceCount)

	got, err = f.svc.Upload(ctx, simpleimage.UploadRequest{
		Data:    data,
		Options: simpleimage.UploadOptions{EntityType: simpleimage.EntityTypeBlog, EntityID: "b2", Field: "cover"},
	})
	require.NoError(t, err)
	assert.Equal(t, a1.ID, got.ID)
	assert.Equal(t, 2, got.ReferenceCount)

	res, err := f.svc.RemoveReference(ctx, a1.ID, blogMatch("b1", "cover"))
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	require.NotNil(t, res.Image)
	assert.Equal(t, 1, res.Image.ReferenceCount)

	res, err = f.svc.RemoveReference(ctx, a1.ID, blogMatch("b2", "cover"))
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.Nil(t, res.Image)

	_, err = f.svc.GetImage(ctx, a1.ID)
	assert.True(t, simpleimage.IsNotFound(err))
	assert.Equal(t, []string{a1.RemoteID}, f.backend.DestroyCalls())
}

func TestAddReference(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent", func(t *testing.T) {
		f := newFixture(t)
		img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 20)})
		require.NoError(t, err)

		_, err = f.svc.AddReference(ctx, img.ID, blog("b1", "cover"))
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
		again, err := f.svc.AddReference(ctx, img.ID, blog("b1", "cover"))
		require.NoError(t, err)

		assert.Equal(t, 1, again.ReferenceCount)
		assert.Len(t, again.UsedBy, 1)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		tests := []struct {
			name string
			ref  simpleimage.UsageReference
			want error
		}{
			{"unknown type", simpleimage.UsageReference{EntityType: "page", EntityID: "1", Field: "f"}, simpleimage.ErrInvalidEntityType},
			{"missing id", simpleimage.UsageReference{EntityType: simpleimage.EntityTypeBlog, Field: "f"}, simpleimage.ErrInvalidReference},
			{"missing field", simpleimage.UsageReference{EntityType: simpleimage.EntityTypeBlog, EntityID: "1"}, simpleimage.ErrInvalidReference},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.AddReference(ctx, uuid.New(), tt.ref)
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.AddReference(ctx, uuid.New(), blog("b1", "cover"))
		assert.True(t, simpleimage.IsNotFound(err))

		var imageErr *simpleimage.ImageError
		require.ErrorAs(t, err, &imageErr)
		assert.Equal(t, "add_reference", imageErr.Op)
	})
}

func TestRemoveReference(t *testing.T) {
	ctx := context.Background()

	t.Run("without field detaches every field of the entity", func(t *testing.T) {
		f := newFixture(t)
		img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 30)})
		require.NoError(t, err)
		for _, ref := range []simpleimage.UsageReference{blog("b1", "cover"), blog("b1", "gallery"), blog("b2", "cover")} {
			_, err := f.svc.AddReference(ctx, img.ID, ref)
			require.NoError(t, err)
		}

		res, err := f.svc.RemoveReference(ctx, img.ID, blogMatch("b1", ""))
		require.NoError(t, err)
		assert.False(t, res.Deleted)
		assert.Equal(t, 1, res.Image.ReferenceCount)
		assert.Equal(t, "b2", res.Image.UsedBy[0].EntityID)
	})

	t.Run("non-matching removal keeps the asset", func(t *testing.T) {
		f := newFixture(t)
		img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 31)})
		require.NoError(t, err)
		_, err = f.svc.AddReference(ctx, img.ID, blog("b1", "cover"))
		require.NoError(t, err)

		res, err := f.svc.RemoveReference(ctx, img.ID, blogMatch("b1", "gallery"))
		require.NoError(t, err)
		assert.False(t, res.Deleted)
		assert.Equal(t, 1, res.Image.ReferenceCount)
		assert.Empty(t, f.backend.DestroyCalls())
	})

	t.Run("destroy failure is not fatal", func(t *testing.T) {
		f := newFixture(t)
		img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
			Data:    pngBytes(t, 2, 2, 32),
			Options: simpleimage.UploadOptions{EntityType: simpleimage.EntityTypeBlog, EntityID: "b1", Field: "cover"},
		})
		require.NoError(t, err)
		f.backend.FailDestroys(errors.New("provider down"))

		res, err := f.svc.RemoveReference(ctx, img.ID, blogMatch("b1", "cover"))
		require.NoError(t, err)
		assert.True(t, res.Deleted)

		_, err = f.svc.GetImage(ctx, img.ID)
		assert.True(t, simpleimage.IsNotFound(err))
		assert.Len(t, f.backend.DestroyCalls(), 1)
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.RemoveReference(ctx, uuid.New(), blogMatch("b1", ""))
		assert.True(t, simpleimage.IsNotFound(err))
	})
}

func TestReferenceCountInvariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
		Data:    pngBytes(t, 2, 2, 40),
		Options: simpleimage.UploadOptions{EntityType: simpleimage.EntityTypeOther, EntityID: "anchor", Field: "keep"},
	})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	entities := []string{"b1", "b2", "b3"}
	fields := []string{"cover", "body", ""}

	for i := 0; i < 200; i++ {
		entity := entities[rng.Intn(len(entities))]
		field := fields[rng.Intn(len(fields))]
		if rng.Intn(2) == 0 {
			if field == "" {
				field = "cover"
			}
			got, err := f.svc.AddReference(ctx, img.ID, blog(entity, field))
			require.NoError(t, err)
			require.Equal(t, len(got.UsedBy), got.ReferenceCount)
		} else {
			res, err := f.svc.RemoveReference(ctx, img.ID, blogMatch(entity, field))
			require.NoError(t, err)
			require.False(t, res.Deleted)
			require.Equal(t, len(res.Image.UsedBy), res.Image.ReferenceCount)
		}
	}
}

func TestConcurrentReferenceUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
		Data:    pngBytes(t, 2, 2, 41),
		Options: simpleimage.UploadOptions{EntityType: simpleimage.EntityTypeOther, EntityID: "anchor", Field: "keep"},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.AddReference(ctx, img.ID, blog(fmt.Sprintf("keep-%d", i), "cover"))
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.AddReference(ctx, img.ID, blog(fmt.Sprintf("drop-%d", i), "cover"))
			assert.NoError(t, err)
			_, err = f.svc.RemoveReference(ctx, img.ID, blogMatch(fmt.Sprintf("drop-%d", i), ""))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.svc.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, 21, got.ReferenceCount)
	assert.Len(t, got.UsedBy, 21)
}

func TestTransform(t *testing.T) {
	ctx := context.Background()

	t.Run("cache is stable by name", func(t *testing.T) {
		f := newFixture(t)
		img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 50)})
		require.NoError(t, err)

		first, err := f.svc.Transform(ctx, img.ID, simpleimage.TransformSpec{Name: "thumb", Width: 100})
		require.NoError(t, err)
		assert.False(t, first.Cached)
		assert.Equal(t, "https://media.test/upload/w_100,c_fill/"+img.RemoteID, first.URL)

		second, err := f.svc.Transform(ctx, img.ID, simpleimage.TransformSpec{Name: "thumb", Width: 100})
		require.NoError(t, err)
		assert.True(t, second.Cached)
		assert.Equal(t, first.URL, second.URL)

		// a different spec under the same name still returns the stored URL
		third, err := f.svc.Transform(ctx, img.ID, simpleimage.TransformSpec{Name: "thumb", Width: 300, Format: "webp"})
		require.NoError(t, err)
		assert.Equal(t, first.URL, third.URL)

		got, err := f.svc.GetImage(ctx, img.ID)
		require.NoError(t, err)
		require.Len(t, got.Transformations, 1)
		assert.Equal(t, "thumb", got.Transformations[0].Name)
		assert.Equal(t, "w_100,c_fill", got.Transformations[0].TransformSpec)
		require.NotNil(t, got.Transformations[0].Width)
		assert.Equal(t, 100, *got.Transformations[0].Width)
		assert.Nil(t, got.Transformations[0].Height)
	})

	t.Run("invalid spec", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Transform(ctx, uuid.New(), simpleimage.TransformSpec{Name: "x", Quality: 101})
		assert.ErrorIs(t, err, simpleimage.ErrInvalidTransform)
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Transform(ctx, uuid.New(), simpleimage.TransformSpec{Name: "thumb"})
		assert.True(t, simpleimage.IsNotFound(err))
	})
}

type memoryCache struct {
	mu            sync.Mutex
	entries       map[string]string
	gets          int
	invalidateErr error
}

func (c *memoryCache) key(id uuid.UUID, name string) string { return id.String() + "/" + name }

func (c *memoryCache) Get(ctx context.Context, id uuid.UUID, name string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	url, ok := c.entries[c.key(id, name)]
	return url, ok, nil
}

func (c *memoryCache) Set(ctx context.Context, id uuid.UUID, name, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(id, name)] = url
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalidateErr != nil {
		return c.invalidateErr
	}
	for k := range c.entries {
		if len(k) > 36 && k[:36] == id.String() {
			delete(c.entries, k)
		}
	}
	return nil
}

func TestTransform_FrontCache(t *testing.T) {
	ctx := context.Background()
	cache := &memoryCache{entries: map[string]string{}}
	f := newFixture(t, simpleimage.WithTransformCache(cache))

	img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 51)})
	require.NoError(t, err)

	first, err := f.svc.Transform(ctx, img.ID, simpleimage.TransformSpec{Name: "card", Width: 40, Height: 30, Crop: "thumb", Gravity: "face"})
	require.NoError(t, err)
	assert.Equal(t, "https://media.test/upload/w_40,h_30,c_thumb/g_face/"+img.RemoteID, first.URL)

	second, err := f.svc.Transform(ctx, img.ID, simpleimage.TransformSpec{Name: "card"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.URL, second.URL)

	require.NoError(t, f.svc.DeleteImage(ctx, img.ID))
	assert.Empty(t, cache.entries)
}

func TestTransform_StaleCacheAfterDelete(t *testing.T) {
	ctx := context.Background()
	cache := &memoryCache{entries: map[string]string{}, invalidateErr: errors.New("redis down")}
	f := newFixture(t, simpleimage.WithTransformCache(cache))

	img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 52)})
	require.NoError(t, err)
	_, err = f.svc.Transform(ctx, img.ID, simpleimage.TransformSpec{Name: "card", Width: 40})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteImage(ctx, img.ID))
	require.NotEmpty(t, cache.entries)

	_, err = f.svc.Transform(ctx, img.ID, simpleimage.TransformSpec{Name: "card"})
	assert.True(t, simpleimage.IsNotFound(err))
}

// transformRacingRepository stores a transformation for every name right after the
// image is loaded, as a concurrent caller would.
type transformRacingRepository struct {
	*memory.Repository
	entry simpleimage.CachedTransformation
}

func (r *transformRacingRepository) GetImage(ctx context.Context, id uuid.UUID) (*simpleimage.ImageAsset, error) {
	image, err := r.Repository.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, _, err := r.Repository.AddTransformation(ctx, id, r.entry, time.Now()); err != nil {
		return nil, err
	}
	return image, nil
}

func TestTransform_ConcurrentSameSpecReportsCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 53)})
	require.NoError(t, err)

	racing := &transformRacingRepository{
		Repository: f.repo,
		entry: simpleimage.CachedTransformation{
			Name:          "thumb",
			URL:           "https://media.test/upload/w_100,c_fill/" + img.RemoteID,
			Width:         simpleimage.IntPtr(100),
			TransformSpec: "w_100,c_fill",
		},
	}
	svc, err := simpleimage.New(
		simpleimage.WithRepository(racing),
		simpleimage.WithRemoteStore("memory", f.backend),
		simpleimage.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	result, err := svc.Transform(ctx, img.ID, simpleimage.TransformSpec{Name: "thumb", Width: 100})
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Equal(t, racing.entry.URL, result.URL)

	got, err := f.repo.GetImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Len(t, got.Transformations, 1)
}

func TestDeleteImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
		Data:    pngBytes(t, 2, 2, 60),
		Options: simpleimage.UploadOptions{EntityType: simpleimage.EntityTypeInformation, EntityID: "i1", Field: "banner"},
	})
	require.NoError(t, err)

	err = f.svc.DeleteImage(ctx, img.ID)
	require.Error(t, err)
	assert.True(t, simpleimage.IsConflict(err))
	var conflict *simpleimage.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.ReferenceCount)
	assert.Contains(t, err.Error(), "used by 1 entities")
	assert.Empty(t, f.backend.DestroyCalls())

	_, err = f.svc.RemoveReference(ctx, img.ID, simpleimage.ReferenceMatch{EntityType: simpleimage.EntityTypeInformation, EntityID: "i1"})
	require.NoError(t, err)
	_, err = f.svc.GetImage(ctx, img.ID)
	assert.True(t, simpleimage.IsNotFound(err))

	unused, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 61)})
	require.NoError(t, err)
	f.backend.FailDestroys(errors.New("provider down"))
	require.NoError(t, f.svc.DeleteImage(ctx, unused.ID))
	_, err = f.svc.GetImage(ctx, unused.ID)
	assert.True(t, simpleimage.IsNotFound(err))

	err = f.svc.DeleteImage(ctx, uuid.New())
	assert.True(t, simpleimage.IsNotFound(err))
}

func TestCleanupUnused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	old, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 70)})
	require.NoError(t, err)
	oldUsed, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
		Data:    pngBytes(t, 2, 2, 71),
		Options: simpleimage.UploadOptions{EntityType: simpleimage.EntityTypeBlog, EntityID: "b1", Field: "cover"},
	})
	require.NoError(t, err)

	f.clock.Advance(40 * 24 * time.Hour)
	recent, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, 72)})
	require.NoError(t, err)

	cleaned, err := f.svc.CleanupUnused(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	_, err = f.svc.GetImage(ctx, old.ID)
	assert.True(t, simpleimage.IsNotFound(err))
	_, err = f.svc.GetImage(ctx, oldUsed.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetImage(ctx, recent.ID)
	assert.NoError(t, err)
	assert.Equal(t, []string{old.RemoteID}, f.backend.DestroyCalls())

	f.backend.FailDestroys(errors.New("provider down"))
	f.clock.Advance(2 * 24 * time.Hour)
	cleaned, err = f.svc.CleanupUnused(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)
	_, err = f.svc.GetImage(ctx, recent.ID)
	assert.True(t, simpleimage.IsNotFound(err))
}

func TestGetAllImagesAndByEntity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 25; i++ {
		f.clock.Advance(time.Second)
		_, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, uint8(100+i)), FileName: fmt.Sprintf("img-%02d.png", i)})
		require.NoError(t, err)
	}

	list, err := f.svc.GetAllImages(ctx, simpleimage.ListImagesRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(25), list.Total)
	assert.Equal(t, 2, list.TotalPages)
	assert.Equal(t, 1, list.CurrentPage)
	assert.Len(t, list.Items, 20)
	assert.Equal(t, "img-24.png", list.Items[0].FileName)

	list, err = f.svc.GetAllImages(ctx, simpleimage.ListImagesRequest{Pagination: simpleimage.Pagination{Page: 2, Limit: 500}})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	assert.Equal(t, 1, list.TotalPages)

	_, err = f.svc.GetAllImages(ctx, simpleimage.ListImagesRequest{Filters: simpleimage.ImageListFilters{EntityType: "nope"}})
	assert.ErrorIs(t, err, simpleimage.ErrInvalidEntityType)

	first, err := f.svc.GetAllImages(ctx, simpleimage.ListImagesRequest{Pagination: simpleimage.Pagination{Limit: 1}})
	require.NoError(t, err)
	target := first.Items[0]
	_, err = f.svc.AddReference(ctx, target.ID, blog("b7", "cover"))
	require.NoError(t, err)
	_, err = f.svc.AddReference(ctx, target.ID, blog("b7", "body"))
	require.NoError(t, err)

	byEntity, err := f.svc.GetImagesByEntity(ctx, simpleimage.EntityTypeBlog, "b7")
	require.NoError(t, err)
	require.Len(t, byEntity, 1)
	assert.Equal(t, target.ID, byEntity[0].ID)

	none, err := f.svc.GetImagesByEntity(ctx, simpleimage.EntityTypeUser, "b7")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.GetImagesByEntity(ctx, "unknown", "b7")
	assert.ErrorIs(t, err, simpleimage.ErrInvalidEntityType)
}

func TestUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{
		Data:    pngBytes(t, 2, 2, 80),
		Options: simpleimage.UploadOptions{Tags: []string{"old"}, Description: "before"},
	})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	desc := "after"
	got, err := f.svc.UpdateMetadata(ctx, simpleimage.UpdateMetadataRequest{ImageID: img.ID, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "after", got.Description)
	assert.Equal(t, []string{"old"}, got.Tags)
	assert.Equal(t, f.clock.Now(), got.UpdatedAt)

	tags := []string{"new", "tags"}
	got, err = f.svc.UpdateMetadata(ctx, simpleimage.UpdateMetadataRequest{ImageID: img.ID, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "tags"}, got.Tags)
	assert.Equal(t, "after", got.Description)

	_, err = f.svc.UpdateMetadata(ctx, simpleimage.UpdateMetadataRequest{ImageID: uuid.New(), Tags: &tags})
	assert.True(t, simpleimage.IsNotFound(err))
}

func TestSyncReferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		img, err := f.svc.Upload(ctx, simpleimage.UploadRequest{Data: pngBytes(t, 2, 2, uint8(90+i))})
		require.NoError(t, err)
		ids = append(ids, img.ID)
	}

	res, err := f.svc.SyncReferences(ctx, simpleimage.SyncReferencesRequest{
		EntityType: simpleimage.EntityTypeBlog, EntityID: "b1", Field: "content",
		NewIDs: []uuid.UUID{ids[0], ids[1], ids[1], uuid.New()},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[0], ids[1]}, res.Added)

	res, err = f.svc.SyncReferences(ctx, simpleimage.SyncReferencesRequest{
		EntityType: simpleimage.EntityTypeBlog, EntityID: "b1", Field: "content",
		OldIDs: []uuid.UUID{ids[0], ids[1]},
		NewIDs: []uuid.UUID{ids[1], ids[2]},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[2]}, res.Added)
	assert.Equal(t, []uuid.UUID{ids[0]}, res.Removed)
	assert.Equal(t, []uuid.UUID{ids[0]}, res.Deleted)

	_, err = f.svc.GetImage(ctx, ids[0])
	assert.True(t, simpleimage.IsNotFound(err))

	_, err = f.svc.SyncReferences(ctx, simpleimage.SyncReferencesRequest{EntityType: simpleimage.EntityTypeBlog, EntityID: "b1"})
	assert.ErrorIs(t, err, simpleimage.ErrInvalidReference)
}

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) Upload(ctx context.Context, data []byte, params simpleimage.RemoteUploadParams) (*simpleimage.RemoteObject, error) {
	args := m.Called(ctx, data, params)
	obj, _ := args.Get(0).(*simpleimage.RemoteObject)
	return obj, args.Error(1)
}

func (m *mockRemote) Destroy(ctx context.Context, remoteID string) error {
	args := m.Called(ctx, remoteID)
	return args.Error(0)
}

func TestRemoteStoreContract(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, err := simpleimage.New(
		simpleimage.WithRepository(memory.New()),
		simpleimage.WithRemoteStore("mock", remote),
		simpleimage.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	data := []byte("GIF89a-not-really")
	remote.On("Upload", mock.Anything, data, mock.MatchedBy(func(p simpleimage.RemoteUploadParams) bool {
		return p.Folder == "blogs" && p.FileName == "x.gif" && p.Digest == simpleimage.ContentDigest(data)
	})).Return(&simpleimage.RemoteObject{RemoteID: "blogs/x", URL: "https://res.example.com/demo/image/upload/v1/blogs/x.gif", Format: "gif"}, nil).Once()
	remote.On("Destroy", mock.Anything, "blogs/x").Return(errors.New("rate limited")).Once()

	img, err := svc.Upload(ctx, simpleimage.UploadRequest{
		Data: data, FileName: "x.gif",
		Options: simpleimage.UploadOptions{Folder: "blogs", EntityType: simpleimage.EntityTypeBlog, EntityID: "b1", Field: "cover"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gif", img.Format)

	tr, err := svc.Transform(ctx, img.ID, simpleimage.TransformSpec{Name: "small", Width: 50, Quality: 80, Format: "webp"})
	require.NoError(t, err)
	assert.Equal(t, "https://res.example.com/demo/image/upload/w_50,c_fill/q_80/f_webp/v1/blogs/x.gif", tr.URL)

	res, err := svc.RemoveReference(ctx, img.ID, blogMatch("b1", ""))
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	remote.AssertExpectations(t)
	remote.AssertNumberOfCalls(t, "Destroy", 1)
}
