package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"leadlag/internal/models"
)

func sampleTrade() *models.Trade {
	opened := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	return &models.Trade{
		Symbol:    "BTCUSDT",
		Side:      models.SideBuy,
		EntryMid:  100,
		ExitMid:   101,
		Notional:  100,
		Qty:       1,
		GrossPnl:  1.0,
		Fees:      0.12,
		Slippage:  0,
		NetPnl:    0.88,
		Reason:    models.CloseReasonTP2,
		OpenedAt:  opened,
		ClosedAt:  opened.Add(30 * time.Second),
		HoldBars:  60,
		RMultiple: 2.5,
		Metadata:  map[string]string{"leader": "BTCUSDT@BNB"},
	}
}

func TestNewTradeRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewTradeRepository(db)
	if repo == nil {
		t.Fatal("NewTradeRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestTradeRepositorySaveTrade(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO trades`).
					WithArgs("BTCUSDT", models.SideBuy, 100.0, 101.0, 100.0, 1.0, 1.0, 0.12, 0.0, 0.88,
						models.CloseReasonTP2, sqlmock.AnyArg(), sqlmock.AnyArg(), 60, 2.5, `{"leader":"BTCUSDT@BNB"}`).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			expectError: false,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO trades`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewTradeRepository(db)
			err = repo.SaveTrade(context.Background(), sampleTrade())

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestTradeRepositoryGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	want := sampleTrade()
	rows := sqlmock.NewRows([]string{
		"symbol", "side", "entry_mid", "exit_mid", "notional", "qty",
		"gross_pnl", "fees", "slippage", "net_pnl", "reason",
		"opened_at", "closed_at", "hold_bars", "r_multiple", "metadata",
	}).AddRow(
		want.Symbol, want.Side, want.EntryMid, want.ExitMid, want.Notional, want.Qty,
		want.GrossPnl, want.Fees, want.Slippage, want.NetPnl, want.Reason,
		want.OpenedAt, want.ClosedAt, want.HoldBars, want.RMultiple, `{"leader":"BTCUSDT@BNB"}`,
	)

	mock.ExpectQuery(`SELECT (.+) FROM trades ORDER BY closed_at DESC`).
		WithArgs(10).
		WillReturnRows(rows)

	repo := NewTradeRepository(db)
	trades, err := repo.GetRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("GetRecent() returned %d trades, want 1", len(trades))
	}
	got := trades[0]
	if got.Symbol != want.Symbol || got.NetPnl != want.NetPnl || got.Reason != want.Reason {
		t.Errorf("trade = %+v, want %+v", got, want)
	}
	if got.Metadata["leader"] != "BTCUSDT@BNB" {
		t.Errorf("metadata = %v, want leader entry", got.Metadata)
	}
}

func TestTradeRepositoryGetBySymbol(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM trades WHERE symbol`).
		WithArgs("ETHUSDT", 5).
		WillReturnRows(sqlmock.NewRows([]string{
			"symbol", "side", "entry_mid", "exit_mid", "notional", "qty",
			"gross_pnl", "fees", "slippage", "net_pnl", "reason",
			"opened_at", "closed_at", "hold_bars", "r_multiple", "metadata",
		}))

	repo := NewTradeRepository(db)
	trades, err := repo.GetBySymbol(context.Background(), "ETHUSDT", 5)
	if err != nil {
		t.Fatalf("GetBySymbol() error = %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("GetBySymbol() returned %d trades, want 0", len(trades))
	}
}

func TestTradeRepositorySummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM trades`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "wins", "losses", "net", "gross", "fees"}).
			AddRow(10, 6, 4, 5.5, 8.3, 2.8))

	repo := NewTradeRepository(db)
	summary, err := repo.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.TotalTrades != 10 || summary.Wins != 6 || summary.Losses != 4 {
		t.Errorf("Summary() = %+v, want 10/6/4", summary)
	}
	if summary.TotalNetPnl != 5.5 {
		t.Errorf("TotalNetPnl = %v, want 5.5", summary.TotalNetPnl)
	}
}

func TestTradeRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM trades WHERE closed_at`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	repo := NewTradeRepository(db)
	deleted, err := repo.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 7 {
		t.Errorf("DeleteOlderThan() = %d, want 7", deleted)
	}
}
