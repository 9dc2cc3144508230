package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"medsnap-backend/internal/extract"
)

// PGRepo implements Repo using Postgres. Rows live in the guidelines table.
// Tags are passed as JSON and expanded server-side so the driver never has to
// encode a Go slice.
type PGRepo struct {
	DB *sql.DB
}

const guidelineColumns = `id, user_id, title, category, COALESCE(array_to_json(tags), '[]')::text, notes, source_url,
    file_path, file_type, mime_type, size_bytes, page_count, created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, doc Document) error {
	const query = `
INSERT INTO guidelines (
    id,
    user_id,
    title,
    category,
    tags,
    notes,
    source_url,
    file_path,
    file_type,
    mime_type,
    size_bytes,
    page_count,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, ARRAY(SELECT jsonb_array_elements_text($5::jsonb)), $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	tags, err := encodeTags(doc.Tags)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.UserID,
		doc.Title,
		doc.EffectiveCategory(),
		tags,
		nullableString(doc.Notes),
		nullableString(doc.SourceURL),
		doc.FilePath,
		string(doc.FileType),
		doc.MimeType,
		doc.SizeBytes,
		nullableInt(doc.PageCount),
		doc.CreatedAt,
	)
	return err
}

func (r *PGRepo) Get(ctx context.Context, userID, id string) (Document, error) {
	query := `SELECT ` + guidelineColumns + `
FROM guidelines
WHERE user_id = $1 AND id = $2
LIMIT 1`
	return scanDocument(r.DB.QueryRowContext(ctx, query, userID, id))
}

func (r *PGRepo) ListByOwner(ctx context.Context, userID string) ([]Document, error) {
	query := `SELECT ` + guidelineColumns + `
FROM guidelines
WHERE user_id = $1
ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (r *PGRepo) CountByOwner(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM guidelines WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

func (r *PGRepo) Update(ctx context.Context, doc Document) error {
	const query = `
UPDATE guidelines SET
    title = $3,
    category = $4,
    tags = ARRAY(SELECT jsonb_array_elements_text($5::jsonb)),
    notes = $6,
    source_url = $7,
    file_path = $8,
    file_type = $9,
    mime_type = $10,
    size_bytes = $11,
    page_count = $12,
    updated_at = now()
WHERE user_id = $1 AND id = $2`

	tags, err := encodeTags(doc.Tags)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(
		ctx,
		query,
		doc.UserID,
		doc.ID,
		doc.Title,
		doc.EffectiveCategory(),
		tags,
		nullableString(doc.Notes),
		nullableString(doc.SourceURL),
		doc.FilePath,
		string(doc.FileType),
		doc.MimeType,
		doc.SizeBytes,
		nullableInt(doc.PageCount),
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *PGRepo) UpdateCategory(ctx context.Context, userID, id, category string) (Document, error) {
	query := `
UPDATE guidelines SET category = $3, updated_at = now()
WHERE user_id = $1 AND id = $2
RETURNING ` + guidelineColumns
	return scanDocument(r.DB.QueryRowContext(ctx, query, userID, id, category))
}

func (r *PGRepo) Delete(ctx context.Context, userID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM guidelines WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r *PGRepo) ListAllPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT file_path FROM guidelines`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		out[path] = struct{}{}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		doc       Document
		tagsJSON  string
		notes     sql.NullString
		sourceURL sql.NullString
		fileType  string
		pageCount sql.NullInt64
	)
	err := row.Scan(
		&doc.ID,
		&doc.UserID,
		&doc.Title,
		&doc.Category,
		&tagsJSON,
		&notes,
		&sourceURL,
		&doc.FilePath,
		&fileType,
		&doc.MimeType,
		&doc.SizeBytes,
		&pageCount,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return Document{}, fmt.Errorf("decode tags for %s: %w", doc.ID, err)
	}
	doc.Notes = notes.String
	doc.SourceURL = sourceURL.String
	doc.FileType = extract.Kind(fileType)
	if pageCount.Valid {
		n := int(pageCount.Int64)
		doc.PageCount = &n
	}
	return doc, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(raw), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return int64(*value)
}

var _ Repo = (*PGRepo)(nil)
