package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/speedrun-hq/offramp-settler/pkg/models"
)

// PostgresStore persists records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS settlement_records (
    account TEXT PRIMARY KEY,
    intent_hash TEXT NOT NULL,
    status TEXT NOT NULL,
    record JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Get(ctx context.Context, account string) (*models.SettlementRecord, error) {
	row := p.pool.QueryRow(ctx, `SELECT record FROM settlement_records WHERE account = $1`, key(account))

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var rec models.SettlementRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode settlement record: %w", err)
	}
	return &rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, record models.SettlementRecord) error {
	if err := validate(record); err != nil {
		return err
	}
	blob, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO settlement_records (account, intent_hash, status, record, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (account) DO UPDATE
SET intent_hash = EXCLUDED.intent_hash,
    status = EXCLUDED.status,
    record = EXCLUDED.record,
    updated_at = EXCLUDED.updated_at
`, key(record.Account), record.IntentHash, string(record.Status), blob, record.UpdatedAt)
	return err
}

func (p *PostgresStore) Clear(ctx context.Context, account string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM settlement_records WHERE account = $1`, key(account))
	return err
}
