package repository

import (
	"context"
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"

	"leadlag/internal/models"
)

var tradeJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// TradeSummary - агрегаты журнала сделок
type TradeSummary struct {
	TotalTrades   int     `json:"total_trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	TotalNetPnl   float64 `json:"total_net_pnl"`
	TotalGrossPnl float64 `json:"total_gross_pnl"`
	TotalFees     float64 `json:"total_fees"`
}

// TradeRepository - журнал закрытых бумажных сделок в таблице trades
//
// Запись best-effort: торговый цикл не зависит от доступности БД
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// EnsureSchema создает таблицу журнала если её нет
func (r *TradeRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_mid DOUBLE PRECISION NOT NULL,
			exit_mid DOUBLE PRECISION NOT NULL,
			notional DOUBLE PRECISION NOT NULL,
			qty DOUBLE PRECISION NOT NULL,
			gross_pnl DOUBLE PRECISION NOT NULL,
			fees DOUBLE PRECISION NOT NULL,
			slippage DOUBLE PRECISION NOT NULL,
			net_pnl DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL,
			hold_bars INT NOT NULL,
			r_multiple DOUBLE PRECISION NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`

	_, err := r.db.ExecContext(ctx, query)
	return err
}

// SaveTrade записывает закрытую сделку в журнал
func (r *TradeRepository) SaveTrade(ctx context.Context, trade *models.Trade) error {
	query := `
		INSERT INTO trades (symbol, side, entry_mid, exit_mid, notional, qty, gross_pnl, fees, slippage, net_pnl, reason, opened_at, closed_at, hold_bars, r_multiple, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	metadata := "{}"
	if len(trade.Metadata) > 0 {
		raw, err := tradeJSON.Marshal(trade.Metadata)
		if err == nil {
			metadata = string(raw)
		}
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		trade.Symbol,
		trade.Side,
		trade.EntryMid,
		trade.ExitMid,
		trade.Notional,
		trade.Qty,
		trade.GrossPnl,
		trade.Fees,
		trade.Slippage,
		trade.NetPnl,
		trade.Reason,
		trade.OpenedAt,
		trade.ClosedAt,
		trade.HoldBars,
		trade.RMultiple,
		metadata,
	)
	return err
}

// GetRecent возвращает последние N сделок
func (r *TradeRepository) GetRecent(ctx context.Context, limit int) ([]*models.Trade, error) {
	query := `
		SELECT symbol, side, entry_mid, exit_mid, notional, qty, gross_pnl, fees, slippage, net_pnl, reason, opened_at, closed_at, hold_bars, r_multiple, metadata
		FROM trades
		ORDER BY closed_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		trade := &models.Trade{}
		var metadata string
		err := rows.Scan(
			&trade.Symbol,
			&trade.Side,
			&trade.EntryMid,
			&trade.ExitMid,
			&trade.Notional,
			&trade.Qty,
			&trade.GrossPnl,
			&trade.Fees,
			&trade.Slippage,
			&trade.NetPnl,
			&trade.Reason,
			&trade.OpenedAt,
			&trade.ClosedAt,
			&trade.HoldBars,
			&trade.RMultiple,
			&metadata,
		)
		if err != nil {
			return nil, err
		}
		if metadata != "" && metadata != "{}" {
			_ = tradeJSON.UnmarshalFromString(metadata, &trade.Metadata)
		}
		trades = append(trades, trade)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// GetBySymbol возвращает сделки по символу
func (r *TradeRepository) GetBySymbol(ctx context.Context, symbol string, limit int) ([]*models.Trade, error) {
	query := `
		SELECT symbol, side, entry_mid, exit_mid, notional, qty, gross_pnl, fees, slippage, net_pnl, reason, opened_at, closed_at, hold_bars, r_multiple, metadata
		FROM trades
		WHERE symbol = $1
		ORDER BY closed_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		trade := &models.Trade{}
		var metadata string
		err := rows.Scan(
			&trade.Symbol,
			&trade.Side,
			&trade.EntryMid,
			&trade.ExitMid,
			&trade.Notional,
			&trade.Qty,
			&trade.GrossPnl,
			&trade.Fees,
			&trade.Slippage,
			&trade.NetPnl,
			&trade.Reason,
			&trade.OpenedAt,
			&trade.ClosedAt,
			&trade.HoldBars,
			&trade.RMultiple,
			&metadata,
		)
		if err != nil {
			return nil, err
		}
		if metadata != "" && metadata != "{}" {
			_ = tradeJSON.UnmarshalFromString(metadata, &trade.Metadata)
		}
		trades = append(trades, trade)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// Summary возвращает агрегаты журнала
func (r *TradeRepository) Summary(ctx context.Context) (*TradeSummary, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE net_pnl > 0),
			COUNT(*) FILTER (WHERE net_pnl < 0),
			COALESCE(SUM(net_pnl), 0),
			COALESCE(SUM(gross_pnl), 0),
			COALESCE(SUM(fees), 0)
		FROM trades`

	summary := &TradeSummary{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&summary.TotalTrades,
		&summary.Wins,
		&summary.Losses,
		&summary.TotalNetPnl,
		&summary.TotalGrossPnl,
		&summary.TotalFees,
	)
	if err != nil {
		return nil, err
	}

	return summary, nil
}

// Count возвращает общее количество записей журнала
func (r *TradeRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteOlderThan удаляет записи старше указанной даты
func (r *TradeRepository) DeleteOlderThan(ctx context.Context, timestamp time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trades WHERE closed_at < $1`, timestamp)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
