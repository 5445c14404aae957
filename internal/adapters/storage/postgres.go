package storage

// postgres.go — mismo journal que sqlite.go sobre Postgres (pgxpool).
// Para despliegues con más de un proceso leyendo el outbox.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alejandrodnm/binex/internal/domain"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS fills (
    id             TEXT PRIMARY KEY,
    market_id      TEXT             NOT NULL,
    outcome        TEXT             NOT NULL,
    maker_order_id TEXT             NOT NULL,
    taker_order_id TEXT             NOT NULL,
    maker_user_id  TEXT             NOT NULL,
    taker_user_id  TEXT             NOT NULL,
    maker_side     TEXT             NOT NULL,
    taker_side     TEXT             NOT NULL,
    price          DOUBLE PRECISION NOT NULL,
    size           DOUBLE PRECISION NOT NULL,
    maker_fee      TEXT             NOT NULL DEFAULT '0',
    taker_fee      TEXT             NOT NULL DEFAULT '0',
    aggregated     INTEGER          NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ      NOT NULL,
    seq            INTEGER          NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS positions (
    user_id    TEXT             NOT NULL,
    market_id  TEXT             NOT NULL,
    yes_shares DOUBLE PRECISION NOT NULL DEFAULT 0,
    no_shares  DOUBLE PRECISION NOT NULL DEFAULT 0,
    yes_cost   DOUBLE PRECISION NOT NULL DEFAULT 0,
    no_cost    DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ      NOT NULL,
    PRIMARY KEY (user_id, market_id)
);

CREATE TABLE IF NOT EXISTS settlement_intents (
    id          TEXT PRIMARY KEY,
    kind        TEXT        NOT NULL,
    status      TEXT        NOT NULL,
    market_ref  TEXT        NOT NULL,
    fill_json   TEXT        NOT NULL,
    maker_addr  TEXT        NOT NULL DEFAULT '',
    taker_addr  TEXT        NOT NULL DEFAULT '',
    buyer_addr  TEXT        NOT NULL DEFAULT '',
    seller_addr TEXT        NOT NULL DEFAULT '',
    attempts    INTEGER     NOT NULL DEFAULT 0,
    last_error  TEXT        NOT NULL DEFAULT '',
    tx_ref      TEXT        NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_market    ON fills(market_id, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_intents_pending ON settlement_intents(status, updated_at);
`

// PostgresStorage implementa ports.TradeStore y ports.IntentStore sobre pgxpool.
type PostgresStorage struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStorage conecta, verifica la conexión y aplica el schema.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewPostgresStorage: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage.NewPostgresStorage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage.NewPostgresStorage: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage.NewPostgresStorage: apply schema: %w", err)
	}
	return &PostgresStorage{pool: pool, now: time.Now}, nil
}

// SaveFills implementa ports.TradeStore con un batch en una transacción.
func (s *PostgresStorage) SaveFills(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, f := range fills {
		batch.Queue(`
			INSERT INTO fills (`+fillColumns+`, seq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (id) DO NOTHING
		`, append(fillArgs(f), i)...)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range fills {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage.SaveFills: %w", err)
	}
	return nil
}

// SavePosition implementa ports.TradeStore.
func (s *PostgresStorage) SavePosition(ctx context.Context, p domain.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (`+positionColumns+`, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, market_id) DO UPDATE SET
			yes_shares = EXCLUDED.yes_shares,
			no_shares  = EXCLUDED.no_shares,
			yes_cost   = EXCLUDED.yes_cost,
			no_cost    = EXCLUDED.no_cost,
			updated_at = EXCLUDED.updated_at
	`, append(positionArgs(p), s.now().UTC())...)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: %s/%s: %w", p.UserID, p.MarketID, err)
	}
	return nil
}

// GetPosition implementa ports.TradeStore.
func (s *PostgresStorage) GetPosition(ctx context.Context, userID, marketID string) (domain.Position, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 AND market_id = $2`, userID, marketID)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, false, nil
	}
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("storage.GetPosition: %w", err)
	}
	return p, true, nil
}

// FillsByMarket implementa ports.TradeStore.
func (s *PostgresStorage) FillsByMarket(ctx context.Context, marketID string) ([]domain.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fillColumns+` FROM fills WHERE market_id = $1 ORDER BY created_at, seq`, marketID)
	if err != nil {
		return nil, fmt.Errorf("storage.FillsByMarket: query: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		f, err := scanFill(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.FillsByMarket: scan: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// SaveIntent implementa ports.IntentStore.
func (s *PostgresStorage) SaveIntent(ctx context.Context, in domain.SettlementIntent) error {
	args, err := intentArgs(in)
	if err != nil {
		return fmt.Errorf("storage.SaveIntent: %s: %w", in.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO settlement_intents (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status     = EXCLUDED.status,
			attempts   = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			tx_ref     = EXCLUDED.tx_ref,
			updated_at = EXCLUDED.updated_at
	`, args...)
	if err != nil {
		return fmt.Errorf("storage.SaveIntent: %s: %w", in.ID, err)
	}
	return nil
}

// PendingIntents implementa ports.IntentStore, los más viejos primero.
func (s *PostgresStorage) PendingIntents(ctx context.Context, olderThan time.Time, limit int) ([]domain.SettlementIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM settlement_intents
		WHERE status = $1 AND updated_at <= $2 ORDER BY created_at`
	args := []any{string(domain.IntentPending), olderThan.UTC()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.PendingIntents: query: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.PendingIntents: scan: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// Close cierra el pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}
