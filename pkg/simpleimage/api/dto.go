package api

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// UploadForm holds the non-file fields of an upload
type UploadForm struct {
	Tags        []string `form:"tags" validate:"max=50,dive,max=100"`
	Description string   `form:"description" validate:"max=1000"`
	Folder      string   `form:"folder" validate:"omitempty,max=255"`
	EntityType  string   `form:"entity_type" validate:"omitempty,oneof=blog user information other"`
	EntityID    string   `form:"entity_id" validate:"omitempty,max=255"`
	Field       string   `form:"field" validate:"omitempty,max=100"`
}

func (f UploadForm) options() simpleimage.UploadOptions {
	return simpleimage.UploadOptions{
		Tags:        f.Tags,
		Description: f.Description,
		Folder:      f.Folder,
		EntityType:  simpleimage.EntityType(f.EntityType),
		EntityID:    f.EntityID,
		Field:       f.Field,
	}
}

// UpdateImageRequest is the body of PUT /{id}. Absent fields are unchanged.
type UpdateImageRequest struct {
	Tags        *[]string `json:"tags" validate:"omitempty,max=50,dive,max=100"`
	Description *string   `json:"description" validate:"omitempty,max=1000"`
}

// ReferenceRequest is the body of POST /{id}/reference
type ReferenceRequest struct {
	EntityType string `json:"entity_type" validate:"required,oneof=blog user information other"`
	EntityID   string `json:"entity_id" validate:"required,max=255"`
	Field      string `json:"field" validate:"required,max=100"`
}

// RemoveReferenceRequest is the body of DELETE /{id}/reference; an empty
// field removes every reference of the entity
type RemoveReferenceRequest struct {
	EntityType string `json:"entity_type" validate:"required,oneof=blog user information other"`
	EntityID   string `json:"entity_id" validate:"required,max=255"`
	Field      string `json:"field" validate:"omitempty,max=100"`
}

// TransformRequest is the body of POST /{id}/transform
type TransformRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	Width   int    `json:"width" validate:"omitempty,gt=0"`
	Height  int    `json:"height" validate:"omitempty,gt=0"`
	Crop    string `json:"crop" validate:"omitempty,oneof=fill fit scale limit pad thumb"`
	Quality int    `json:"quality" validate:"omitempty,min=1,max=100"`
	Format  string `json:"format" validate:"omitempty,oneof=jpg png webp avif"`
	Gravity string `json:"gravity" validate:"omitempty,oneof=auto face center north south east west"`
}

func (t TransformRequest) spec() simpleimage.TransformSpec {
	return simpleimage.TransformSpec{
		Name:    t.Name,
		Width:   t.Width,
		Height:  t.Height,
		Crop:    t.Crop,
		Quality: t.Quality,
		Format:  t.Format,
		Gravity: t.Gravity,
	}
}

// SyncReferencesRequest is the body of POST /references/sync
type SyncReferencesRequest struct {
	EntityType string      `json:"entity_type" validate:"required,oneof=blog user information other"`
	EntityID   string      `json:"entity_id" validate:"required,max=255"`
	Field      string      `json:"field" validate:"required,max=100"`
	OldIDs     []uuid.UUID `json:"old_ids"`
	NewIDs     []uuid.UUID `json:"new_ids"`
}

// newValidator reports field errors under their json or form names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
	return v
}
