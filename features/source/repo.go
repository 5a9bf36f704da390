package source

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, src *Source) error {
	query := `
		INSERT INTO sources (type, title, organization, location, start_date, end_date,
			summary, achievements, skills, tags, content_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query,
		src.Type, src.Title, src.Organization, src.Location,
		nullTime(src.StartDate), nullTime(src.EndDate),
		src.Summary, pq.Array(src.Achievements), pq.Array(src.Skills), pq.Array(src.Tags),
		src.ContentHash, src.Status,
	).Scan(&src.ID)
}

func (r *PostgresRepository) Update(ctx context.Context, src *Source) error {
	query := `
		UPDATE sources
		SET type = $1, title = $2, organization = $3, location = $4,
			start_date = $5, end_date = $6, summary = $7,
			achievements = $8, skills = $9, tags = $10,
			content_hash = $11, status = $12, updated_at = NOW()
		WHERE id = $13 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query,
		src.Type, src.Title, src.Organization, src.Location,
		nullTime(src.StartDate), nullTime(src.EndDate),
		src.Summary, pq.Array(src.Achievements), pq.Array(src.Skills), pq.Array(src.Tags),
		src.ContentHash, src.Status, src.ID,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM sources WHERE content_hash = $1 AND deleted_at IS NULL)`
	err := r.db.QueryRowContext(ctx, query, hash).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Source, error) {
	query := `
		SELECT id, type, title, organization, location, start_date, end_date,
			summary, achievements, skills, tags, content_hash, status
		FROM sources
		WHERE id = $1 AND deleted_at IS NULL`

	return scanSource(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) List(ctx context.Context) ([]Source, error) {
	query := `
		SELECT id, type, title, organization, location, start_date, end_date,
			summary, achievements, skills, tags, content_hash, status
		FROM sources
		WHERE deleted_at IS NULL
		ORDER BY start_date DESC NULLS LAST, created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE sources SET status = $1, updated_at = NOW() WHERE id = $2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE sources SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources WHERE deleted_at IS NULL`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*Source, error) {
	var src Source
	var start, end sql.NullTime
	err := row.Scan(
		&src.ID, &src.Type, &src.Title, &src.Organization, &src.Location,
		&start, &end, &src.Summary,
		pq.Array(&src.Achievements), pq.Array(&src.Skills), pq.Array(&src.Tags),
		&src.ContentHash, &src.Status,
	)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		src.StartDate = &start.Time
	}
	if end.Valid {
		src.EndDate = &end.Time
	}
	return &src, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
