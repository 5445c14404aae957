package storage

// sqlite.go — journal de fills, posiciones y outbox de settlement en SQLite.
//
// La memoria del exchange es la fuente de verdad; esto es lo que sobrevive a
// un reinicio:
//   - `fills`: append-only, una fila por fill (sin agregar).
//   - `positions`: una fila por (usuario, mercado), UPSERT.
//   - `settlement_intents`: outbox. Los SETTLED se podan al arrancar.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/binex/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
    id             TEXT PRIMARY KEY,
    market_id      TEXT     NOT NULL,
    outcome        TEXT     NOT NULL,
    maker_order_id TEXT     NOT NULL,
    taker_order_id TEXT     NOT NULL,
    maker_user_id  TEXT     NOT NULL,
    taker_user_id  TEXT     NOT NULL,
    maker_side     TEXT     NOT NULL,
    taker_side     TEXT     NOT NULL,
    price          REAL     NOT NULL,
    size           REAL     NOT NULL,
    maker_fee      TEXT     NOT NULL DEFAULT '0',
    taker_fee      TEXT     NOT NULL DEFAULT '0',
    aggregated     INTEGER  NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL,
    seq            INTEGER  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS positions (
    user_id    TEXT NOT NULL,
    market_id  TEXT NOT NULL,
    yes_shares REAL NOT NULL DEFAULT 0,
    no_shares  REAL NOT NULL DEFAULT 0,
    yes_cost   REAL NOT NULL DEFAULT 0,
    no_cost    REAL NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, market_id)
);

CREATE TABLE IF NOT EXISTS settlement_intents (
    id          TEXT PRIMARY KEY,
    kind        TEXT     NOT NULL,
    status      TEXT     NOT NULL,
    market_ref  TEXT     NOT NULL,
    fill_json   TEXT     NOT NULL,
    maker_addr  TEXT     NOT NULL DEFAULT '',
    taker_addr  TEXT     NOT NULL DEFAULT '',
    buyer_addr  TEXT     NOT NULL DEFAULT '',
    seller_addr TEXT     NOT NULL DEFAULT '',
    attempts    INTEGER  NOT NULL DEFAULT 0,
    last_error  TEXT     NOT NULL DEFAULT '',
    tx_ref      TEXT     NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_market    ON fills(market_id, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_intents_pending ON settlement_intents(status, updated_at);
`

const retentionSettled = 7 * 24 * time.Hour // intents liquidados: 7 días

// SQLiteStorage implementa ports.TradeStore y ports.IntentStore usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y poda los intents liquidados antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveFills implementa ports.TradeStore. Un fill repetido se ignora.
func (s *SQLiteStorage) SaveFills(ctx context.Context, fills []domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveFills: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fills (`+fillColumns+`, seq) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("storage.SaveFills: prepare: %w", err)
	}
	defer stmt.Close()

	for i, f := range fills {
		args := append(fillArgs(f), i)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("storage.SaveFills: insert %s: %w", f.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveFills: commit: %w", err)
	}
	return nil
}

// SavePosition implementa ports.TradeStore.
func (s *SQLiteStorage) SavePosition(ctx context.Context, p domain.Position) error {
	args := append(positionArgs(p), s.now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (`+positionColumns+`, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, market_id) DO UPDATE SET
			yes_shares = excluded.yes_shares,
			no_shares  = excluded.no_shares,
			yes_cost   = excluded.yes_cost,
			no_cost    = excluded.no_cost,
			updated_at = excluded.updated_at`,
		args...)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: %s/%s: %w", p.UserID, p.MarketID, err)
	}
	return nil
}

// GetPosition implementa ports.TradeStore.
func (s *SQLiteStorage) GetPosition(ctx context.Context, userID, marketID string) (domain.Position, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = ? AND market_id = ?`, userID, marketID)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, false, nil
	}
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("storage.GetPosition: %w", err)
	}
	return p, true, nil
}

// FillsByMarket implementa ports.TradeStore.
func (s *SQLiteStorage) FillsByMarket(ctx context.Context, marketID string) ([]domain.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fillColumns+` FROM fills WHERE market_id = ? ORDER BY created_at, seq`, marketID)
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

// SaveIntent implementa ports.IntentStore (insert o reemplazo).
func (s *SQLiteStorage) SaveIntent(ctx context.Context, in domain.SettlementIntent) error {
	args, err := intentArgs(in)
	if err != nil {
		return fmt.Errorf("storage.SaveIntent: %s: %w", in.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settlement_intents (`+intentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status     = excluded.status,
			attempts   = excluded.attempts,
			last_error = excluded.last_error,
			tx_ref     = excluded.tx_ref,
			updated_at = excluded.updated_at`,
		args...)
	if err != nil {
		return fmt.Errorf("storage.SaveIntent: %s: %w", in.ID, err)
	}
	return nil
}

// PendingIntents implementa ports.IntentStore, los más viejos primero.
func (s *SQLiteStorage) PendingIntents(ctx context.Context, olderThan time.Time, limit int) ([]domain.SettlementIntent, error) {
	if limit <= 0 {
		limit = -1 // sin límite en SQLite
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM settlement_intents
		WHERE status = ? AND updated_at <= ?
		ORDER BY created_at LIMIT ?`,
		string(domain.IntentPending), olderThan.UTC(), limit)
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

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld borra intents liquidados fuera de la ventana de retención.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := s.now().UTC().Add(-retentionSettled)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM settlement_intents WHERE status = ? AND updated_at < ?`,
		string(domain.IntentSettled), cutoff)
	if err != nil {
		slog.Warn("storage: prune failed", "err", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("storage: pruned settled intents", "rows", n)
	}
}
