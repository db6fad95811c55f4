package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// DBTX is an interface that allows us to use either a connection pool or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements simpleimage.Repository using PostgreSQL.
//
// References live in image_usage with a unique (image_id, entity_type,
// entity_id, field) constraint. Every mutator locks the image_asset row,
// changes the child rows and recomputes reference_count in one transaction.
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

var _ simpleimage.Repository = (*Repository)(nil)

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return simpleimage.ErrImageNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "digest") {
				return simpleimage.ErrDuplicateDigest
			}
			return fmt.Errorf("duplicate entry in %s: %s", operation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return simpleimage.ErrImageNotFound
		case "23514": // check_violation
			if strings.Contains(pgErr.ConstraintName, "entity_type") {
				return simpleimage.ErrInvalidEntityType
			}
			return fmt.Errorf("check constraint %s failed in %s", pgErr.ConstraintName, operation)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) withTx(ctx context.Context, operation string, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return r.handlePostgresError(operation, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return r.handlePostgresError(operation, err)
	}
	return nil
}

const imageColumns = `
	a.id, a.remote_id, a.remote_url, a.content_digest, a.file_name, a.file_size_bytes,
	a.mime_type, a.width, a.height, a.format, a.folder, a.reference_count,
	a.uploader_id, a.tags, a.description, a.version, a.created_at, a.updated_at`

func scanImage(row pgx.Row) (*simpleimage.ImageAsset, error) {
	var img simpleimage.ImageAsset
	err := row.Scan(
		&img.ID, &img.RemoteID, &img.RemoteURL, &img.ContentDigest, &img.FileName, &img.FileSizeBytes,
		&img.MimeType, &img.Width, &img.Height, &img.Format, &img.Folder, &img.ReferenceCount,
		&img.UploaderID, &img.Tags, &img.Description, &img.Version, &img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if img.Tags == nil {
		img.Tags = []string{}
	}
	img.UsedBy = []simpleimage.UsageReference{}
	img.Transformations = []simpleimage.CachedTransformation{}
	return &img, nil
}

// loadRelations fills UsedBy and Transformations for images in two queries.
func (r *Repository) loadRelations(ctx context.Context, db DBTX, images []*simpleimage.ImageAsset) error {
	if len(images) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(images))
	byID := make(map[uuid.UUID]*simpleimage.ImageAsset, len(images))
	for i, img := range images {
		ids[i] = img.ID
		byID[img.ID] = img
	}

	rows, err := db.Query(ctx, `
		SELECT image_id, entity_type, entity_id, field, added_at
		FROM image_usage WHERE image_id = ANY($1)
		ORDER BY image_id, id`, ids)
	if err != nil {
		return r.handlePostgresError("load usage", err)
	}
	for rows.Next() {
		var (
			imageID    uuid.UUID
			entityType string
			ref        simpleimage.UsageReference
		)
		if err := rows.Scan(&imageID, &entityType, &ref.EntityID, &ref.Field, &ref.AddedAt); err != nil {
			rows.Close()
			return r.handlePostgresError("scan usage", err)
		}
		ref.EntityType = simpleimage.EntityType(entityType)
		if img := byID[imageID]; img != nil {
			img.UsedBy = append(img.UsedBy, ref)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return r.handlePostgresError("load usage", err)
	}

	rows, err = db.Query(ctx, `
		SELECT image_id, name, url, width, height, transform_spec
		FROM image_transformation WHERE image_id = ANY($1)
		ORDER BY image_id, id`, ids)
	if err != nil {
		return r.handlePostgresError("load transformations", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			imageID uuid.UUID
			t       simpleimage.CachedTransformation
		)
		if err := rows.Scan(&imageID, &t.Name, &t.URL, &t.Width, &t.Height, &t.TransformSpec); err != nil {
			return r.handlePostgresError("scan transformation", err)
		}
		if img := byID[imageID]; img != nil {
			img.Transformations = append(img.Transformations, t)
		}
	}
	return rows.Err()
}

func (r *Repository) getImage(ctx context.Context, db DBTX, where string, arg interface{}) (*simpleimage.ImageAsset, error) {
	img, err := scanImage(db.QueryRow(ctx, `SELECT `+imageColumns+` FROM image_asset a WHERE `+where, arg))
	if err != nil {
		return nil, r.handlePostgresError("get image", err)
	}
	if err := r.loadRelations(ctx, db, []*simpleimage.ImageAsset{img}); err != nil {
		return nil, err
	}
	return img, nil
}

func (r *Repository) queryImages(ctx context.Context, operation, query string, args ...interface{}) ([]*simpleimage.ImageAsset, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	var images []*simpleimage.ImageAsset
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			rows.Close()
			return nil, r.handlePostgresError(operation, err)
		}
		images = append(images, img)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	if err := r.loadRelations(ctx, r.db, images); err != nil {
		return nil, err
	}
	return images, nil
}

// lockImage takes the row lock every reference mutation serializes on.
func (r *Repository) lockImage(ctx context.Context, tx pgx.Tx, id uuid.UUID, operation string) error {
	var locked uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM image_asset WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		return r.handlePostgresError(operation, err)
	}
	return nil
}

func (r *Repository) recount(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time, operation string) error {
	_, err := tx.Exec(ctx, `
		UPDATE image_asset SET
			reference_count = (SELECT COUNT(*) FROM image_usage WHERE image_id = $1),
			version = version + 1,
			updated_at = $2
		WHERE id = $1`, id, now)
	if err != nil {
		return r.handlePostgresError(operation, err)
	}
	return nil
}

// Image operations

func (r *Repository) CreateImage(ctx context.Context, image *simpleimage.ImageAsset) error {
	return r.withTx(ctx, "create image", func(tx pgx.Tx) error {
		tags := image.Tags
		if tags == nil {
			tags = []string{}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO image_asset (
				id, remote_id, remote_url, content_digest, file_name, file_size_bytes,
				mime_type, width, height, format, folder, reference_count,
				uploader_id, tags, description, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $17)`,
			image.ID, image.RemoteID, image.RemoteURL, image.ContentDigest, image.FileName, image.FileSizeBytes,
			image.MimeType, image.Width, image.Height, image.Format, image.Folder, len(image.UsedBy),
			image.UploaderID, tags, image.Description, image.CreatedAt, image.UpdatedAt)
		if err != nil {
			return r.handlePostgresError("create image", err)
		}

		for _, ref := range image.UsedBy {
			_, err := tx.Exec(ctx, `
				INSERT INTO image_usage (image_id, entity_type, entity_id, field, added_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (image_id, entity_type, entity_id, field) DO NOTHING`,
				image.ID, string(ref.EntityType), ref.EntityID, ref.Field, ref.AddedAt)
			if err != nil {
				return r.handlePostgresError("create image usage", err)
			}
		}
		for _, t := range image.Transformations {
			_, err := tx.Exec(ctx, `
				INSERT INTO image_transformation (image_id, name, url, width, height, transform_spec, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (image_id, name) DO NOTHING`,
				image.ID, t.Name, t.URL, t.Width, t.Height, t.TransformSpec, image.CreatedAt)
			if err != nil {
				return r.handlePostgresError("create image transformation", err)
			}
		}
		if len(image.UsedBy) > 0 {
			return r.recount(ctx, tx, image.ID, image.UpdatedAt, "create image")
		}
		return nil
	})
}

func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (*simpleimage.ImageAsset, error) {
	return r.getImage(ctx, r.db, "a.id = $1", id)
}

func (r *Repository) ImageExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM image_asset WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, r.handlePostgresError("image exists", err)
	}
	return exists, nil
}

func (r *Repository) GetImageByDigest(ctx context.Context, digest string) (*simpleimage.ImageAsset, error) {
	return r.getImage(ctx, r.db, "a.content_digest = $1", digest)
}

func (r *Repository) ListImages(ctx context.Context, filters simpleimage.ImageListFilters, page simpleimage.Pagination) ([]*simpleimage.ImageAsset, int64, error) {
	page = page.Normalize()
	where, args := buildFilters(filters)

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM image_asset a`+where, args...).Scan(&total); err != nil {
		return nil, 0, r.handlePostgresError("count images", err)
	}

	args = append(args, page.Limit, page.Offset())
	query := fmt.Sprintf(`SELECT %s FROM image_asset a%s ORDER BY a.created_at DESC, a.id LIMIT $%d OFFSET $%d`,
		imageColumns, where, len(args)-1, len(args))

	images, err := r.queryImages(ctx, "list images", query, args...)
	if err != nil {
		return nil, 0, err
	}
	return images, total, nil
}

// buildFilters renders filters as a WHERE clause over alias a.
func buildFilters(f simpleimage.ImageListFilters) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if search := strings.TrimSpace(f.Search); search != "" {
		p := arg("%" + escapeLike(search) + "%")
		conds = append(conds, fmt.Sprintf(
			"(a.file_name ILIKE %[1]s OR a.description ILIKE %[1]s OR EXISTS (SELECT 1 FROM unnest(a.tags) t WHERE t ILIKE %[1]s))", p))
	}
	if len(f.Tags) > 0 {
		conds = append(conds, "a.tags && "+arg(f.Tags)+"::text[]")
	}
	if f.Folder != "" {
		conds = append(conds, "a.folder = "+arg(f.Folder))
	}
	if f.UploaderID != "" {
		conds = append(conds, "a.uploader_id = "+arg(f.UploaderID))
	}
	if f.EntityType != "" {
		usage := "u.image_id = a.id AND u.entity_type = " + arg(string(f.EntityType))
		if f.EntityID != "" {
			usage += " AND u.entity_id = " + arg(f.EntityID)
		}
		conds = append(conds, "EXISTS (SELECT 1 FROM image_usage u WHERE "+usage+")")
	}
	if f.UnusedOnly {
		conds = append(conds, "a.reference_count = 0")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *Repository) ListUnusedBefore(ctx context.Context, cutoff time.Time) ([]*simpleimage.ImageAsset, error) {
	return r.queryImages(ctx, "list unused images", `
		SELECT `+imageColumns+` FROM image_asset a
		WHERE a.reference_count = 0 AND a.created_at < $1
		ORDER BY a.created_at DESC, a.id`, cutoff)
}

func (r *Repository) ListImagesByEntity(ctx context.Context, entityType simpleimage.EntityType, entityID string) ([]*simpleimage.ImageAsset, error) {
	return r.queryImages(ctx, "list images by entity", `
		SELECT `+imageColumns+` FROM image_asset a
		WHERE EXISTS (
			SELECT 1 FROM image_usage u
			WHERE u.image_id = a.id AND u.entity_type = $1 AND u.entity_id = $2)
		ORDER BY a.created_at DESC, a.id`, string(entityType), entityID)
}

func (r *Repository) UpdateMetadata(ctx context.Context, id uuid.UUID, tags *[]string, description *string, now time.Time) (*simpleimage.ImageAsset, error) {
	var tagsArg, descArg interface{}
	if tags != nil {
		t := *tags
		if t == nil {
			t = []string{}
		}
		tagsArg = t
	}
	if description != nil {
		descArg = *description
	}

	var image *simpleimage.ImageAsset
	err := r.withTx(ctx, "update metadata", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE image_asset SET
				tags = COALESCE($2::text[], tags),
				description = COALESCE($3::text, description),
				version = version + 1,
				updated_at = $4
			WHERE id = $1`, id, tagsArg, descArg, now)
		if err != nil {
			return r.handlePostgresError("update metadata", err)
		}
		if tag.RowsAffected() == 0 {
			return simpleimage.ErrImageNotFound
		}
		image, err = r.getImage(ctx, tx, "a.id = $1", id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}

func (r *Repository) AddReference(ctx context.Context, id uuid.UUID, ref simpleimage.UsageReference) (*simpleimage.ImageAsset, error) {
	var image *simpleimage.ImageAsset
	err := r.withTx(ctx, "add reference", func(tx pgx.Tx) error {
		if err := r.lockImage(ctx, tx, id, "add reference"); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO image_usage (image_id, entity_type, entity_id, field, added_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (image_id, entity_type, entity_id, field) DO NOTHING`,
			id, string(ref.EntityType), ref.EntityID, ref.Field, ref.AddedAt)
		if err != nil {
			return r.handlePostgresError("add reference", err)
		}
		if tag.RowsAffected() > 0 {
			if err := r.recount(ctx, tx, id, ref.AddedAt, "add reference"); err != nil {
				return err
			}
		}
		image, err = r.getImage(ctx, tx, "a.id = $1", id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}

func (r *Repository) RemoveReferences(ctx context.Context, id uuid.UUID, match simpleimage.ReferenceMatch, now time.Time) (*simpleimage.ImageAsset, error) {
	var image *simpleimage.ImageAsset
	err := r.withTx(ctx, "remove references", func(tx pgx.Tx) error {
		if err := r.lockImage(ctx, tx, id, "remove references"); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM image_usage
			WHERE image_id = $1 AND entity_type = $2 AND entity_id = $3
			  AND ($4 = '' OR field = $4)`,
			id, string(match.EntityType), match.EntityID, match.Field)
		if err != nil {
			return r.handlePostgresError("remove references", err)
		}
		if tag.RowsAffected() > 0 {
			if err := r.recount(ctx, tx, id, now, "remove references"); err != nil {
				return err
			}
		}
		image, err = r.getImage(ctx, tx, "a.id = $1", id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}

func (r *Repository) AddTransformation(ctx context.Context, id uuid.UUID, t simpleimage.CachedTransformation, now time.Time) (*simpleimage.CachedTransformation, bool, error) {
	var (
		stored   simpleimage.CachedTransformation
		inserted bool
	)
	err := r.withTx(ctx, "add transformation", func(tx pgx.Tx) error {
		if err := r.lockImage(ctx, tx, id, "add transformation"); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO image_transformation (image_id, name, url, width, height, transform_spec, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (image_id, name) DO NOTHING`,
			id, t.Name, t.URL, t.Width, t.Height, t.TransformSpec, now)
		if err != nil {
			return r.handlePostgresError("add transformation", err)
		}
		inserted = tag.RowsAffected() > 0
		if inserted {
			if _, err := tx.Exec(ctx, `UPDATE image_asset SET version = version + 1, updated_at = $2 WHERE id = $1`, id, now); err != nil {
				return r.handlePostgresError("add transformation", err)
			}
		}
		err = tx.QueryRow(ctx, `
			SELECT name, url, width, height, transform_spec
			FROM image_transformation WHERE image_id = $1 AND name = $2`, id, t.Name).
			Scan(&stored.Name, &stored.URL, &stored.Width, &stored.Height, &stored.TransformSpec)
		if err != nil {
			return r.handlePostgresError("add transformation", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, inserted, nil
}

func (r *Repository) DeleteImage(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM image_asset WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete image", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleimage.ErrImageNotFound
	}
	return nil
}

// DeleteImageIfUnreferenced re-checks the count under the row lock taken by
// DELETE, so a concurrent AddReference that commits first wins.
func (r *Repository) DeleteImageIfUnreferenced(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM image_asset a
		WHERE a.id = $1 AND a.reference_count = 0
		  AND NOT EXISTS (SELECT 1 FROM image_usage u WHERE u.image_id = a.id)`, id)
	if err != nil {
		return false, r.handlePostgresError("delete unreferenced image", err)
	}
	return tag.RowsAffected() == 1, nil
}
