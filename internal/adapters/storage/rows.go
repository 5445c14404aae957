package storage

// rows.go — mapeo fila ↔ dominio compartido por SQLite y Postgres.

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/binex/internal/domain"
)

// rowScanner lo cumplen *sql.Row, *sql.Rows, pgx.Row y pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const fillColumns = `id, market_id, outcome, maker_order_id, taker_order_id, maker_user_id, taker_user_id,
	maker_side, taker_side, price, size, maker_fee, taker_fee, aggregated, created_at`

const positionColumns = `user_id, market_id, yes_shares, no_shares, yes_cost, no_cost`

const intentColumns = `id, kind, status, market_ref, fill_json, maker_addr, taker_addr, buyer_addr, seller_addr,
	attempts, last_error, tx_ref, created_at, updated_at`

// fillArgs devuelve los valores en el orden de fillColumns. Las fees van como
// texto para no perder precisión.
func fillArgs(f domain.Fill) []any {
	return []any{
		f.ID, f.MarketID, string(f.Outcome), f.MakerOrderID, f.TakerOrderID, f.MakerUserID, f.TakerUserID,
		string(f.MakerSide), string(f.TakerSide), f.Price, f.Size,
		f.MakerFee.String(), f.TakerFee.String(), f.Aggregated, f.CreatedAt.UTC(),
	}
}

func scanFill(r rowScanner) (domain.Fill, error) {
	var (
		f                  domain.Fill
		outcome, mk, tk    string
		makerFee, takerFee string
	)
	if err := r.Scan(&f.ID, &f.MarketID, &outcome, &f.MakerOrderID, &f.TakerOrderID, &f.MakerUserID, &f.TakerUserID,
		&mk, &tk, &f.Price, &f.Size, &makerFee, &takerFee, &f.Aggregated, &f.CreatedAt); err != nil {
		return domain.Fill{}, err
	}
	f.Outcome, f.MakerSide, f.TakerSide = domain.Outcome(outcome), domain.Side(mk), domain.Side(tk)

	var err error
	if f.MakerFee, err = decimal.NewFromString(makerFee); err != nil {
		return domain.Fill{}, fmt.Errorf("fill %s maker fee: %w", f.ID, err)
	}
	if f.TakerFee, err = decimal.NewFromString(takerFee); err != nil {
		return domain.Fill{}, fmt.Errorf("fill %s taker fee: %w", f.ID, err)
	}
	f.CreatedAt = f.CreatedAt.UTC()
	return f, nil
}

func positionArgs(p domain.Position) []any {
	return []any{p.UserID, p.MarketID, p.YesShares, p.NoShares, p.YesCost, p.NoCost}
}

func scanPosition(r rowScanner) (domain.Position, error) {
	var p domain.Position
	err := r.Scan(&p.UserID, &p.MarketID, &p.YesShares, &p.NoShares, &p.YesCost, &p.NoCost)
	return p, err
}

// intentArgs devuelve los valores en el orden de intentColumns. El fill va
// serializado: el intent se relee entero para el redrive.
func intentArgs(in domain.SettlementIntent) ([]any, error) {
	fillJSON, err := json.Marshal(in.Fill)
	if err != nil {
		return nil, fmt.Errorf("marshal fill: %w", err)
	}
	return []any{
		in.ID, string(in.Kind), string(in.Status), in.MarketRef, string(fillJSON),
		in.MakerAddr, in.TakerAddr, in.BuyerAddr, in.SellerAddr,
		in.Attempts, in.LastError, in.TxRef, in.CreatedAt.UTC(), in.UpdatedAt.UTC(),
	}, nil
}

func scanIntent(r rowScanner) (domain.SettlementIntent, error) {
	var (
		in               domain.SettlementIntent
		kind, status     string
		fillJSON         string
		created, updated time.Time
	)
	if err := r.Scan(&in.ID, &kind, &status, &in.MarketRef, &fillJSON,
		&in.MakerAddr, &in.TakerAddr, &in.BuyerAddr, &in.SellerAddr,
		&in.Attempts, &in.LastError, &in.TxRef, &created, &updated); err != nil {
		return domain.SettlementIntent{}, err
	}
	if err := json.Unmarshal([]byte(fillJSON), &in.Fill); err != nil {
		return domain.SettlementIntent{}, fmt.Errorf("intent %s fill: %w", in.ID, err)
	}
	in.Kind, in.Status = domain.SettlementKind(kind), domain.IntentStatus(status)
	in.CreatedAt, in.UpdatedAt = created.UTC(), updated.UTC()
	return in, nil
}
