package simpleimage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// DefaultCleanupDays is used by CleanupUnused when daysOld is not positive.
const DefaultCleanupDays = 30

// service implements the Service interface
type service struct {
	repository    Repository
	remote        RemoteStore
	backendName   string
	cache         TransformCache
	eventSink     EventSink
	logger        *slog.Logger
	defaultFolder string
	now           func() time.Time
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithRemoteStore sets the remote object store and the backend name used in
// upstream errors and logs
func WithRemoteStore(name string, store RemoteStore) Option {
	return func(s *service) {
		s.backendName = name
		s.remote = store
	}
}

// WithTransformCache sets a front cache for transformation URLs
func WithTransformCache(cache TransformCache) Option {
	return func(s *service) {
		s.cache = cache
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithDefaultFolder sets the folder used when an upload names none
func WithDefaultFolder(folder string) Option {
	return func(s *service) {
		s.defaultFolder = folder
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		cache:         NoopTransformCache{},
		eventSink:     NewNoopEventSink(),
		defaultFolder: DefaultFolder,
		now:           func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.remote == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("service", "simpleimage"))
	if s.backendName == "" {
		s.backendName = "default"
	}

	return s, nil
}

// Upload operations

func (s *service) Upload(ctx context.Context, req UploadRequest) (*ImageAsset, error) {
	if len(req.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	if req.Options.EntityType != "" && !req.Options.EntityType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntityType, req.Options.EntityType)
	}
	ref, hasRef := req.Options.Reference()

	digest := ContentDigest(req.Data)

	existing, err := s.repository.GetImageByDigest(ctx, digest)
	if err == nil {
		s.logger.Debug("upload deduplicated", "image_id", existing.ID, "digest", digest)
		if hasRef {
			return s.AddReference(ctx, existing.ID, ref)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrImageNotFound) {
		return nil, fmt.Errorf("lookup digest %s: %w", digest, err)
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(req.Data).String()
	}
	folder := req.Options.Folder
	if folder == "" {
		folder = s.defaultFolder
	}

	obj, err := s.remote.Upload(ctx, req.Data, RemoteUploadParams{
		Folder:   folder,
		FileName: req.FileName,
		MimeType: mimeType,
		Digest:   digest,
	})
	if err != nil {
		return nil, &UpstreamError{
			Backend: s.backendName,
			Op:      "upload",
			Err:     fmt.Errorf("%w: %w", ErrUploadFailed, err),
		}
	}

	now := s.now()
	image := &ImageAsset{
		ID:              uuid.New(),
		RemoteID:        obj.RemoteID,
		RemoteURL:       obj.URL,
		ContentDigest:   digest,
		FileName:        req.FileName,
		FileSizeBytes:   int64(len(req.Data)),
		MimeType:        mimeType,
		Width:           cloneInt(obj.Width),
		Height:          cloneInt(obj.Height),
		Format:          obj.Format,
		Folder:          folder,
		UsedBy:          []UsageReference{},
		UploaderID:      req.UploaderID,
		Tags:            append([]string{}, req.Options.Tags...),
		Description:     req.Options.Description,
		Transformations: []CachedTransformation{},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if image.Format == "" {
		image.Format = formatFromMime(mimeType)
	}
	if hasRef {
		ref.AddedAt = now
		image.UsedBy = append(image.UsedBy, ref)
	}
	image.ReferenceCount = len(image.UsedBy)

	if err := s.repository.CreateImage(ctx, image); err != nil {
		// Our remote object is not referenced by any record.
		s.destroyRemote(ctx, image.ID, obj.RemoteID)

		if errors.Is(err, ErrDuplicateDigest) {
			winner, getErr := s.repository.GetImageByDigest(ctx, digest)
			if getErr != nil {
				return nil, fmt.Errorf("lookup digest %s after race: %w", digest, getErr)
			}
			if hasRef {
				return s.AddReference(ctx, winner.ID, ref)
			}
			return winner, nil
		}
		return nil, &ImageError{ImageID: image.ID, Op: "upload", Err: err}
	}

	s.logger.Info("image uploaded", "image_id", image.ID, "remote_id", image.RemoteID, "references", image.ReferenceCount)
	if err := s.eventSink.ImageCreated(ctx, image); err != nil {
		s.logger.Warn("event sink failed", "event", "image_created", "image_id", image.ID, "error", err)
	}

	return image, nil
}

func (s *service) UploadMultiple(ctx context.Context, req UploadMultipleRequest) ([]*ImageAsset, error) {
	uploaded := make([]*ImageAsset, 0, len(req.Files))
	for _, file := range req.Files {
		if err := ctx.Err(); err != nil {
			return uploaded, err
		}
		image, err := s.Upload(ctx, UploadRequest{
			Data:       file.Data,
			FileName:   file.FileName,
			MimeType:   file.MimeType,
			UploaderID: req.UploaderID,
			Options:    req.Options,
		})
		if err != nil {
			s.logger.Error("upload failed, skipping file", "file_name", file.FileName, "error", err)
			continue
		}
		uploaded = append(uploaded, image)
	}
	return uploaded, nil
}

// Query operations

func (s *service) GetAllImages(ctx context.Context, req ListImagesRequest) (*ImageList, error) {
	if req.Filters.EntityType != "" && !req.Filters.EntityType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntityType, req.Filters.EntityType)
	}
	page := req.Pagination.Normalize()

	items, total, err := s.repository.ListImages(ctx, req.Filters, page)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	if items == nil {
		items = []*ImageAsset{}
	}

	return &ImageList{
		Items:       items,
		Total:       total,
		TotalPages:  TotalPages(total, page.Limit),
		CurrentPage: page.Page,
	}, nil
}

func (s *service) GetImage(ctx context.Context, id uuid.UUID) (*ImageAsset, error) {
	image, err := s.repository.GetImage(ctx, id)
	if err != nil {
		return nil, &ImageError{ImageID: id, Op: "get", Err: err}
	}
	return image, nil
}

func (s *service) GetImagesByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*ImageAsset, error) {
	if !entityType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntityType, entityType)
	}
	if strings.TrimSpace(entityID) == "" {
		return nil, fmt.Errorf("%w: entity id is required", ErrInvalidReference)
	}
	images, err := s.repository.ListImagesByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list images for %s %s: %w", entityType, entityID, err)
	}
	if images == nil {
		images = []*ImageAsset{}
	}
	return images, nil
}

// Metadata

func (s *service) UpdateMetadata(ctx context.Context, req UpdateMetadataRequest) (*ImageAsset, error) {
	image, err := s.repository.UpdateMetadata(ctx, req.ImageID, req.Tags, req.Description, s.now())
	if err != nil {
		return nil, &ImageError{ImageID: req.ImageID, Op: "update_metadata", Err: err}
	}
	return image, nil
}

// Reference tracking

func (s *service) AddReference(ctx context.Context, id uuid.UUID, ref UsageReference) (*ImageAsset, error) {
	if err := ValidateReference(ref); err != nil {
		return nil, err
	}
	ref.AddedAt = s.now()

	image, err := s.repository.AddReference(ctx, id, ref)
	if err != nil {
		return nil, &ImageError{ImageID: id, Op: "add_reference", Err: err}
	}

	s.logger.Debug("reference added", "image_id", id, "entity_type", ref.EntityType, "entity_id", ref.EntityID, "field", ref.Field, "references", image.ReferenceCount)
	if err := s.eventSink.ReferenceAdded(ctx, image, ref); err != nil {
		s.logger.Warn("event sink failed", "event", "reference_added", "image_id", id, "error", err)
	}
	return image, nil
}

func (s *service) RemoveReference(ctx context.Context, id uuid.UUID, match ReferenceMatch) (*RemoveReferenceResult, error) {
	if err := ValidateMatch(match); err != nil {
		return nil, err
	}

	image, err := s.repository.RemoveReferences(ctx, id, match, s.now())
	if err != nil {
		return nil, &ImageError{ImageID: id, Op: "remove_reference", Err: err}
	}
	if err := s.eventSink.ReferenceRemoved(ctx, id, match); err != nil {
		s.logger.Warn("event sink failed", "event", "reference_removed", "image_id", id, "error", err)
	}

	if image.ReferenceCount > 0 {
		return &RemoveReferenceResult{Deleted: false, Image: image}, nil
	}

	deleted, err := s.deleteUnreferenced(ctx, image)
	if err != nil {
		return nil, &ImageError{ImageID: id, Op: "remove_reference", Err: err}
	}
	if deleted {
		return &RemoveReferenceResult{Deleted: true}, nil
	}

	// A concurrent AddReference revived the image before it could be deleted.
	current, err := s.repository.GetImage(ctx, id)
	if err != nil {
		return nil, &ImageError{ImageID: id, Op: "remove_reference", Err: err}
	}
	return &RemoveReferenceResult{Deleted: false, Image: current}, nil
}

func (s *service) SyncReferences(ctx context.Context, req SyncReferencesRequest) (*SyncReferencesResult, error) {
	target := UsageReference{EntityType: req.EntityType, EntityID: req.EntityID, Field: req.Field}
	if err := ValidateReference(target); err != nil {
		return nil, err
	}

	toAdd, toRemove := DiffImageIDs(req.OldIDs, req.NewIDs)
	result := &SyncReferencesResult{Added: []uuid.UUID{}, Removed: []uuid.UUID{}, Deleted: []uuid.UUID{}}

	for _, id := range toAdd {
		if _, err := s.AddReference(ctx, id, target); err != nil {
			if IsNotFound(err) {
				s.logger.Warn("sync skipped missing image", "image_id", id, "entity_type", req.EntityType, "entity_id", req.EntityID)
				continue
			}
			return result, err
		}
		result.Added = append(result.Added, id)
	}

	match := ReferenceMatch{EntityType: req.EntityType, EntityID: req.EntityID, Field: req.Field}
	for _, id := range toRemove {
		res, err := s.RemoveReference(ctx, id, match)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return result, err
		}
		result.Removed = append(result.Removed, id)
		if res.Deleted {
			result.Deleted = append(result.Deleted, id)
		}
	}

	return result, nil
}

// Transformations

func (s *service) Transform(ctx context.Context, id uuid.UUID, spec TransformSpec) (*TransformResult, error) {
	if err := ValidateTransformSpec(spec); err != nil {
		return nil, err
	}

	// Cache entries can outlive an image whose Invalidate failed.
	exists, err := s.repository.ImageExists(ctx, id)
	if err != nil {
		return nil, &ImageError{ImageID: id, Op: "transform", Err: err}
	}
	if !exists {
		return nil, &ImageError{ImageID: id, Op: "transform", Err: ErrImageNotFound}
	}

	if url, ok, err := s.cache.Get(ctx, id, spec.Name); err != nil {
		s.logger.Warn("transform cache read failed", "image_id", id, "name", spec.Name, "error", err)
	} else if ok {
		return &TransformResult{URL: url, Cached: true}, nil
	}

	image, err := s.repository.GetImage(ctx, id)
	if err != nil {
		return nil, &ImageError{ImageID: id, Op: "transform", Err: err}
	}

	if existing, ok := image.Transformation(spec.Name); ok {
		s.remember(ctx, id, existing.Name, existing.URL)
		return &TransformResult{URL: existing.URL, Cached: true}, nil
	}

	path := BuildTransformPath(spec)
	url, err := SpliceTransformURL(image.RemoteURL, path)
	if err != nil {
		return nil, &ImageError{ImageID: id, Op: "transform", Err: err}
	}

	entry := CachedTransformation{
		Name:          spec.Name,
		URL:           url,
		TransformSpec: path,
	}
	if spec.Width > 0 {
		entry.Width = IntPtr(spec.Width)
	}
	if spec.Height > 0 {
		entry.Height = IntPtr(spec.Height)
	}

	stored, inserted, err := s.repository.AddTransformation(ctx, id, entry, s.now())
	if err != nil {
		return nil, &ImageError{ImageID: id, Op: "transform", Err: err}
	}
	s.remember(ctx, id, stored.Name, stored.URL)

	// Another caller may have stored the name first.
	return &TransformResult{URL: stored.URL, Cached: !inserted}, nil
}

func (s *service) remember(ctx context.Context, id uuid.UUID, name, url string) {
	if err := s.cache.Set(ctx, id, name, url); err != nil {
		s.logger.Warn("transform cache write failed", "image_id", id, "name", name, "error", err)
	}
}

// Deletion

func (s *service) DeleteImage(ctx context.Context, id uuid.UUID) error {
	image, err := s.repository.GetImage(ctx, id)
	if err != nil {
		return &ImageError{ImageID: id, Op: "delete", Err: err}
	}
	if image.ReferenceCount > 0 {
		return &ConflictError{ImageID: id, ReferenceCount: image.ReferenceCount}
	}

	deleted, err := s.deleteUnreferenced(ctx, image)
	if err != nil {
		return &ImageError{ImageID: id, Op: "delete", Err: err}
	}
	if !deleted {
		current, err := s.repository.GetImage(ctx, id)
		if err != nil {
			return &ImageError{ImageID: id, Op: "delete", Err: err}
		}
		return &ConflictError{ImageID: id, ReferenceCount: current.ReferenceCount}
	}
	return nil
}

func (s *service) CleanupUnused(ctx context.Context, daysOld int) (int, error) {
	if daysOld <= 0 {
		daysOld = DefaultCleanupDays
	}
	cutoff := s.now().Add(-time.Duration(daysOld) * 24 * time.Hour)

	candidates, err := s.repository.ListUnusedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list unused images: %w", err)
	}

	cleaned := 0
	for _, image := range candidates {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}
		deleted, err := s.deleteUnreferenced(ctx, image)
		if err != nil {
			s.logger.Error("cleanup failed, skipping image", "image_id", image.ID, "error", err)
			continue
		}
		if deleted {
			cleaned++
		}
	}

	s.logger.Info("cleanup finished", "days_old", daysOld, "candidates", len(candidates), "cleaned", cleaned)
	return cleaned, nil
}

// deleteUnreferenced removes the record while it has no references, then
// destroys the remote object. Destroy failures are logged only.
func (s *service) deleteUnreferenced(ctx context.Context, image *ImageAsset) (bool, error) {
	deleted, err := s.repository.DeleteImageIfUnreferenced(ctx, image.ID)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	s.destroyRemote(ctx, image.ID, image.RemoteID)

	if err := s.cache.Invalidate(ctx, image.ID); err != nil {
		s.logger.Warn("transform cache invalidate failed", "image_id", image.ID, "error", err)
	}
	if err := s.eventSink.ImageDeleted(ctx, image.ID); err != nil {
		s.logger.Warn("event sink failed", "event", "image_deleted", "image_id", image.ID, "error", err)
	}
	s.logger.Info("image deleted", "image_id", image.ID, "remote_id", image.RemoteID)
	return true, nil
}

func (s *service) destroyRemote(ctx context.Context, imageID uuid.UUID, remoteID string) {
	if err := s.remote.Destroy(ctx, remoteID); err != nil {
		upstream := &UpstreamError{Backend: s.backendName, Op: "destroy", RemoteID: remoteID, Err: err}
		s.logger.Error("remote destroy failed, object may be orphaned", "image_id", imageID, "error", upstream)
	}
}

func formatFromMime(mimeType string) string {
	mt := mimetype.Lookup(mimeType)
	if mt == nil {
		return ""
	}
	ext := strings.TrimPrefix(mt.Extension(), ".")
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}
