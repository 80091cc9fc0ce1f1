package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const schema = `CREATE TABLE IF NOT EXISTS carpool_rows (
	table_name TEXT NOT NULL,
	row_key    TEXT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (table_name, row_key)
)`

// Row is one persisted table row.
type Row struct {
	Table string `db:"table_name"`
	Key   string `db:"row_key"`
	Body  []byte `db:"body"`
}

// PostgresPersister writes every committed change set in one SQL
// transaction, so the database never holds a partially applied operation.
type PostgresPersister struct {
	db *sqlx.DB
}

func NewPostgresPersister(ctx context.Context, dsn string) (*PostgresPersister, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresPersister{db: db}, nil
}

func (p *PostgresPersister) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresPersister) Persist(ctx context.Context, changes []Change) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range changes {
		if c.Deleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM carpool_rows WHERE table_name=$1 AND row_key=$2`, c.Table, c.Key); err != nil {
				return fmt.Errorf("delete %s/%s: %w", c.Table, c.Key, err)
			}
			continue
		}
		body, err := json.Marshal(c.Value)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", c.Table, c.Key, err)
		}
		_, err = tx.NamedExecContext(ctx, `INSERT INTO carpool_rows(table_name, row_key, body) VALUES(:table_name, :row_key, :body)
			ON CONFLICT (table_name, row_key) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
			Row{Table: c.Table, Key: c.Key, Body: body})
		if err != nil {
			return fmt.Errorf("upsert %s/%s: %w", c.Table, c.Key, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresPersister) Rows(ctx context.Context) ([]Row, error) {
	var rows []Row
	if err := p.db.SelectContext(ctx, &rows, `SELECT table_name, row_key, body FROM carpool_rows ORDER BY table_name, row_key`); err != nil {
		return nil, err
	}
	return rows, nil
}

func (p *PostgresPersister) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
