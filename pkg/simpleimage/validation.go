package simpleimage

import (
	"fmt"
	"strings"
)

// IsValid reports whether t is one of the known entity types.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeBlog, EntityTypeUser, EntityTypeInformation, EntityTypeOther:
		return true
	default:
		return false
	}
}

// ParseEntityType converts a boundary string into an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q (must be blog, user, information, or other)", ErrInvalidEntityType, s)
	}
	return t, nil
}

// ValidateReference checks that ref names a known entity type, an entity id
// and a field.
func ValidateReference(ref UsageReference) error {
	if !ref.EntityType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, ref.EntityType)
	}
	if strings.TrimSpace(ref.EntityID) == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidReference)
	}
	if strings.TrimSpace(ref.Field) == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidReference)
	}
	return nil
}

// ValidateMatch checks a removal selector. Field may be empty.
func ValidateMatch(m ReferenceMatch) error {
	if !m.EntityType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, m.EntityType)
	}
	if strings.TrimSpace(m.EntityID) == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidReference)
	}
	return nil
}

var (
	validCrops     = []string{"fill", "fit", "scale", "limit", "pad", "thumb"}
	validFormats   = []string{"jpg", "png", "webp", "avif"}
	validGravities = []string{"auto", "face", "center", "north", "south", "east", "west"}
)

// ValidateTransformSpec checks a transformation request.
func ValidateTransformSpec(spec TransformSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTransform)
	}
	if spec.Width < 0 {
		return fmt.Errorf("%w: width must be positive", ErrInvalidTransform)
	}
	if spec.Height < 0 {
		return fmt.Errorf("%w: height must be positive", ErrInvalidTransform)
	}
	if spec.Quality != 0 && (spec.Quality < 1 || spec.Quality > 100) {
		return fmt.Errorf("%w: quality must be between 1 and 100", ErrInvalidTransform)
	}
	if spec.Crop != "" && !contains(validCrops, spec.Crop) {
		return fmt.Errorf("%w: unknown crop mode %q", ErrInvalidTransform, spec.Crop)
	}
	if spec.Format != "" && !contains(validFormats, spec.Format) {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidTransform, spec.Format)
	}
	if spec.Gravity != "" && !contains(validGravities, spec.Gravity) {
		return fmt.Errorf("%w: unknown gravity %q", ErrInvalidTransform, spec.Gravity)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
