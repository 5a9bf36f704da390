package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresRepo persists the active scoring profile as a single JSONB
// row. Profiles are replaced whole; there is no partial merge on the
// write path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Profile, error) {
	var raw []byte
	query := `SELECT profile FROM scoring_profiles WHERE id = 1`
	if err := r.db.QueryRowContext(ctx, query).Scan(&raw); err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed stored profile: %w", err)
	}
	p = Merged(p)
	return &p, nil
}

func (r *PostgresRepo) Update(ctx context.Context, p *Profile) error {
	merged := Merged(*p)
	if err := merged.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	query := `UPDATE scoring_profiles SET profile = $1, updated_at = NOW() WHERE id = 1`
	_, err = r.db.ExecContext(ctx, query, raw)
	return err
}
