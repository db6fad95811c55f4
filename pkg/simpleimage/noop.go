package simpleimage

import (
	"context"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ImageCreated(ctx context.Context, image *ImageAsset) error {
	return nil
}

func (n *NoopEventSink) ImageDeleted(ctx context.Context, imageID uuid.UUID) error {
	return nil
}

func (n *NoopEventSink) ReferenceAdded(ctx context.Context, image *ImageAsset, ref UsageReference) error {
	return nil
}

func (n *NoopEventSink) ReferenceRemoved(ctx context.Context, imageID uuid.UUID, match ReferenceMatch) error {
	return nil
}

// NoopTransformCache never hits and never stores
type NoopTransformCache struct{}

func (NoopTransformCache) Get(ctx context.Context, imageID uuid.UUID, name string) (string, bool, error) {
	return "", false, nil
}

func (NoopTransformCache) Set(ctx context.Context, imageID uuid.UUID, name, url string) error {
	return nil
}

func (NoopTransformCache) Invalidate(ctx context.Context, imageID uuid.UUID) error {
	return nil
}
