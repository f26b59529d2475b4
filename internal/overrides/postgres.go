package overrides

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresStore keeps overrides in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the tables if needed and returns the store.
// The store owns pool and closes it on Close.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("create override tables: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

const overrideColumns = `item_id, hidden, hidden_fields, image_url, note, updated_at, updated_by`

func scanOverride(row pgx.Row) (Override, error) {
	var o Override
	err := row.Scan(&o.ItemID, &o.Hidden, &o.HiddenFields, &o.ImageURL, &o.Note, &o.UpdatedAt, &o.UpdatedBy)
	if o.HiddenFields == nil {
		o.HiddenFields = []string{}
	}
	return o, err
}

func (s *PostgresStore) List(ctx context.Context) ([]Override, error) {
	return listOverrides(ctx, s.pool)
}

func listOverrides(ctx context.Context, db DBTX) ([]Override, error) {
	rows, err := db.Query(ctx, `SELECT `+overrideColumns+` FROM item_overrides ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	out := []Override{}
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, itemID string) (Override, error) {
	o, err := scanOverride(s.pool.QueryRow(ctx,
		`SELECT `+overrideColumns+` FROM item_overrides WHERE item_id = $1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Override{}, ErrNotFound
	}
	if err != nil {
		return Override{}, fmt.Errorf("get override %s: %w", itemID, err)
	}
	return o, nil
}

// Put upserts the override. UpdatedAt is set by the database.
func (s *PostgresStore) Put(ctx context.Context, o Override) (Override, error) {
	if err := o.Validate(); err != nil {
		return Override{}, err
	}
	if o.HiddenFields == nil {
		o.HiddenFields = []string{}
	}

	saved, err := scanOverride(s.pool.QueryRow(ctx, `
		INSERT INTO item_overrides (item_id, hidden, hidden_fields, image_url, note, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, now(), $6)
		ON CONFLICT (item_id) DO UPDATE SET
			hidden = EXCLUDED.hidden,
			hidden_fields = EXCLUDED.hidden_fields,
			image_url = EXCLUDED.image_url,
			note = EXCLUDED.note,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
		RETURNING `+overrideColumns,
		o.ItemID, o.Hidden, o.HiddenFields, o.ImageURL, o.Note, o.UpdatedBy))
	if err != nil {
		return Override{}, fmt.Errorf("put override %s: %w", o.ItemID, err)
	}
	return saved, nil
}

func (s *PostgresStore) Delete(ctx context.Context, itemID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM item_overrides WHERE item_id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete override %s: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LoadColumnMapping(ctx context.Context) (inventory.Mapping, error) {
	rows, err := s.pool.Query(ctx, `SELECT role, letter FROM column_mappings`)
	if err != nil {
		return nil, fmt.Errorf("load column mapping: %w", err)
	}
	defer rows.Close()

	m := inventory.Mapping{}
	for rows.Next() {
		var role, letter string
		if err := rows.Scan(&role, &letter); err != nil {
			return nil, fmt.Errorf("scan column mapping: %w", err)
		}
		m[role] = letter
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load column mapping: %w", err)
	}
	return m, nil
}

// SaveColumnMapping replaces the stored mapping in one transaction.
func (s *PostgresStore) SaveColumnMapping(ctx context.Context, m inventory.Mapping, updatedBy string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	canonical := inventory.Mapping{}.Merge(m)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM column_mappings`); err != nil {
			return fmt.Errorf("clear column mapping: %w", err)
		}
		for role, letter := range canonical {
			if _, err := tx.Exec(ctx,
				`INSERT INTO column_mappings (role, letter, updated_by) VALUES ($1, $2, $3)`,
				role, letter, updatedBy); err != nil {
				return fmt.Errorf("save column %s: %w", role, err)
			}
		}
		return nil
	})
}

// Ping checks the database connection for /healthz.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
