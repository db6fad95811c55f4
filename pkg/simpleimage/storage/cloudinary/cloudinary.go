package cloudinary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Config options for the Cloudinary backend
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
}

// uploadAPI is the part of the Cloudinary upload API the backend uses
type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, uploadParams uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
}

// Backend stores images on Cloudinary. Its delivery URLs contain the
// /upload/ marker natively, so transformation URLs are served by the CDN.
type Backend struct {
	api uploadAPI
}

var _ simpleimage.RemoteStore = (*Backend)(nil)

// New creates a Cloudinary backend from account credentials
func New(config Config) (*Backend, error) {
	if config.CloudName == "" || config.APIKey == "" || config.APISecret == "" {
		return nil, errors.New("cloud name, api key and api secret are required")
	}
	cld, err := cloudinary.NewFromParams(config.CloudName, config.APIKey, config.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudinary client: %w", err)
	}
	return &Backend{api: &cld.Upload}, nil
}

// Upload sends data to Cloudinary with a unique public id inside the folder
func (b *Backend) Upload(ctx context.Context, data []byte, params simpleimage.RemoteUploadParams) (*simpleimage.RemoteObject, error) {
	uploadParams := uploader.UploadParams{
		Folder:         params.Folder,
		UseFilename:    api.Bool(params.FileName != ""),
		UniqueFilename: api.Bool(true),
		ResourceType:   "image",
	}
	if params.FileName != "" {
		uploadParams.FilenameOverride = strings.TrimSuffix(params.FileName, path.Ext(params.FileName))
	}

	result, err := b.api.Upload(ctx, bytes.NewReader(data), uploadParams)
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: %w", err)
	}
	if result.Error.Message != "" {
		return nil, fmt.Errorf("cloudinary upload: %s", result.Error.Message)
	}
	if result.PublicID == "" || result.SecureURL == "" {
		return nil, errors.New("cloudinary upload: empty response")
	}

	obj := &simpleimage.RemoteObject{
		RemoteID: result.PublicID,
		URL:      result.SecureURL,
		Format:   result.Format,
	}
	if result.Width > 0 {
		obj.Width = simpleimage.IntPtr(result.Width)
	}
	if result.Height > 0 {
		obj.Height = simpleimage.IntPtr(result.Height)
	}
	return obj, nil
}

// Destroy removes the image. An already missing image counts as destroyed.
func (b *Backend) Destroy(ctx context.Context, remoteID string) error {
	result, err := b.api.Destroy(ctx, uploader.DestroyParams{PublicID: remoteID, ResourceType: "image"})
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if result.Error.Message != "" {
		return fmt.Errorf("cloudinary destroy: %s", result.Error.Message)
	}
	switch result.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("cloudinary destroy: unexpected result %q", result.Result)
	}
}
