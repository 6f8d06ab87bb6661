package recipientrepo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanqian/weathercards/internal/domain/recipient"
)

const recipientColumns = `id, display_name, nickname, relation, avatar, city, lat, lon, time_zone, updated_at`

// PostgresRepository persists recipients in Postgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// List returns recipients ordered by updated_at desc, then id.
func (r *PostgresRepository) List(ctx context.Context) ([]recipient.Recipient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recipientColumns+`
		FROM recipients
		ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []recipient.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get fetches by primary key.
func (r *PostgresRepository) Get(ctx context.Context, id string) (recipient.Recipient, bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recipientColumns+`
		FROM recipients
		WHERE id = $1
		LIMIT 1
	`, id)
	if err != nil {
		return recipient.Recipient{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return recipient.Recipient{}, false, rows.Err()
	}
	rec, err := scanRecipient(rows)
	if err != nil {
		return recipient.Recipient{}, false, err
	}
	return rec, true, rows.Err()
}

// Save upserts the recipient row.
func (r *PostgresRepository) Save(ctx context.Context, rec recipient.Recipient) (recipient.Recipient, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO recipients (`+recipientColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			nickname = EXCLUDED.nickname,
			relation = EXCLUDED.relation,
			avatar = EXCLUDED.avatar,
			city = EXCLUDED.city,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			time_zone = EXCLUDED.time_zone,
			updated_at = EXCLUDED.updated_at
		RETURNING `+recipientColumns,
		rec.ID, rec.DisplayName, rec.Nickname, string(rec.Relation), rec.Avatar,
		rec.City, rec.Lat, rec.Lon, rec.TimeZone, rec.UpdatedAt,
	)
	return scanRecipient(row)
}

// Delete removes the row, reporting whether it existed.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recipients WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipient(row rowScanner) (recipient.Recipient, error) {
	var (
		rec      recipient.Recipient
		relation string
		updated  time.Time
	)
	if err := row.Scan(
		&rec.ID, &rec.DisplayName, &rec.Nickname, &relation, &rec.Avatar,
		&rec.City, &rec.Lat, &rec.Lon, &rec.TimeZone, &updated,
	); err != nil {
		return recipient.Recipient{}, err
	}
	rec.Relation = recipient.Relation(relation)
	rec.UpdatedAt = updated.UTC()
	return rec, nil
}

var _ recipient.Repository = (*PostgresRepository)(nil)
