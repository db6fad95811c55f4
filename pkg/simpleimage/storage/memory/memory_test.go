package memory_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestMemoryBackend_UploadOpenDestroy(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(memory.WithBaseURL("http://media.test/"))
	data := pngBytes(t, 4, 3)

	obj, err := backend.Upload(ctx, data, simpleimage.RemoteUploadParams{Folder: "uploads", FileName: "a.png", MimeType: "image/png"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.RemoteID, "uploads/"))
	assert.Equal(t, "http://media.test/upload/"+obj.RemoteID, obj.URL)
	require.NotNil(t, obj.Width)
	require.NotNil(t, obj.Height)
	assert.Equal(t, 4, *obj.Width)
	assert.Equal(t, 3, *obj.Height)
	assert.Equal(t, "png", obj.Format)

	rc, err := backend.Open(ctx, obj.RemoteID)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	mime, ok := backend.MimeType(obj.RemoteID)
	assert.True(t, ok)
	assert.Equal(t, "image/png", mime)

	require.NoError(t, backend.Destroy(ctx, obj.RemoteID))
	assert.False(t, backend.Has(obj.RemoteID))
	assert.Equal(t, []string{obj.RemoteID}, backend.DestroyCalls())

	err = backend.Destroy(ctx, obj.RemoteID)
	assert.ErrorIs(t, err, memory.ErrObjectNotFound)
	assert.Len(t, backend.DestroyCalls(), 2)
}

func TestMemoryBackend_SameBytesGetDistinctKeys(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	data := []byte("not an image")

	a, err := backend.Upload(ctx, data, simpleimage.RemoteUploadParams{Folder: "uploads"})
	require.NoError(t, err)
	b, err := backend.Upload(ctx, data, simpleimage.RemoteUploadParams{Folder: "uploads"})
	require.NoError(t, err)

	assert.NotEqual(t, a.RemoteID, b.RemoteID)
	assert.Nil(t, a.Width)
	assert.Equal(t, 2, backend.Len())
}

func TestMemoryBackend_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	boom := errors.New("boom")

	backend.FailUploads(boom)
	_, err := backend.Upload(ctx, []byte("x"), simpleimage.RemoteUploadParams{})
	assert.ErrorIs(t, err, boom)

	backend.FailUploads(nil)
	obj, err := backend.Upload(ctx, []byte("x"), simpleimage.RemoteUploadParams{})
	require.NoError(t, err)

	backend.FailDestroys(boom)
	assert.ErrorIs(t, backend.Destroy(ctx, obj.RemoteID), boom)
	assert.True(t, backend.Has(obj.RemoteID))
}
