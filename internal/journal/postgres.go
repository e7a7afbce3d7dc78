package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"levels-trading-bot/internal/position"
)

const closedTradesSchema = `
CREATE TABLE IF NOT EXISTS closed_trades (
	id           BIGSERIAL PRIMARY KEY,
	symbol       TEXT NOT NULL,
	direction    TEXT NOT NULL,
	entry_price  DOUBLE PRECISION NOT NULL,
	stop_loss    DOUBLE PRECISION NOT NULL,
	take_profit  DOUBLE PRECISION NOT NULL,
	size         DOUBLE PRECISION NOT NULL,
	risk_amount  DOUBLE PRECISION NOT NULL,
	setup        TEXT NOT NULL DEFAULT '',
	session      TEXT NOT NULL DEFAULT '',
	opened_at    TIMESTAMPTZ NOT NULL,
	close_price  DOUBLE PRECISION NOT NULL,
	close_reason TEXT NOT NULL,
	closed_at    TIMESTAMPTZ NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL,
	r_multiple   DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_closed_trades_closed_at ON closed_trades(closed_at);
CREATE INDEX IF NOT EXISTS idx_closed_trades_symbol ON closed_trades(symbol);
`

// PostgresLog is an append-only closed-trade journal backed by Postgres
type PostgresLog struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresLog connects to the database and ensures the schema exists
func NewPostgresLog(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresLog, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	cfg.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, closedTradesSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating closed_trades schema: %w", err)
	}

	logger.Info().Msg("trade journal connected to postgres")
	return &PostgresLog{pool: pool, logger: logger}, nil
}

// AppendClosedTrade inserts one closed position
func (l *PostgresLog) AppendClosedTrade(ctx context.Context, p position.Position) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO closed_trades (
			symbol, direction, entry_price, stop_loss, take_profit,
			size, risk_amount, setup, session, opened_at,
			close_price, close_reason, closed_at, realized_pnl, r_multiple
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		p.Symbol, string(p.Direction), p.Entry, p.StopLoss, p.TakeProfit,
		p.Size, p.RiskAmount, p.Setup, string(p.Session), p.OpenedAt,
		p.ClosePrice, p.CloseReason, p.ClosedAt, p.RealizedPnL, p.RMultiple,
	)
	if err != nil {
		return fmt.Errorf("inserting closed trade for %s: %w", p.Symbol, err)
	}
	l.logger.Debug().
		Str("symbol", p.Symbol).
		Str("reason", p.CloseReason).
		Float64("pnl", p.RealizedPnL).
		Msg("closed trade journaled")
	return nil
}

// Summary aggregates trades closed at or after since
func (l *PostgresLog) Summary(ctx context.Context, since time.Time) (position.Summary, error) {
	var s position.Summary
	err := l.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE realized_pnl > 0),
			COUNT(*) FILTER (WHERE realized_pnl < 0),
			COALESCE(SUM(realized_pnl), 0),
			COALESCE(SUM(r_multiple), 0)
		FROM closed_trades
		WHERE closed_at >= $1`, since,
	).Scan(&s.Trades, &s.Wins, &s.Losses, &s.NetPnL, &s.TotalR)
	if err != nil {
		return position.Summary{}, fmt.Errorf("querying trade summary: %w", err)
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	return s, nil
}

// Close releases the connection pool
func (l *PostgresLog) Close() {
	l.pool.Close()
}
