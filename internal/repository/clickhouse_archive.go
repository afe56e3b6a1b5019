package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/domain/repository"
	pkgch "StockPulse/pkg/clickhouse"
)

const candleSchemaTmpl = `
CREATE TABLE IF NOT EXISTS %s (
    symbol LowCardinality(String),
    date Date,
    open Float64,
    high Float64,
    low Float64,
    close Float64,
    volume Int64,
    fetched_at DateTime
) ENGINE = ReplacingMergeTree(fetched_at)
PARTITION BY toYYYYMM(date)
ORDER BY (symbol, date)`

// ClickHouseArchive persists fetched candles for later historical queries.
// The ReplacingMergeTree keyed on (symbol, date) deduplicates re-fetches of
// the same bar.
type ClickHouseArchive struct {
	client *pkgch.Client
	table  string
}

// NewClickHouseArchive creates a candle archive on the given client.
func NewClickHouseArchive(client *pkgch.Client, table string) *ClickHouseArchive {
	if table == "" {
		table = "ohlcv_daily"
	}
	return &ClickHouseArchive{client: client, table: table}
}

func (a *ClickHouseArchive) Init(ctx context.Context) error {
	return a.client.InitSchema(ctx, []string{fmt.Sprintf(candleSchemaTmpl, a.table)})
}

func (a *ClickHouseArchive) StoreBatch(ctx context.Context, symbol string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	fetchedAt := time.Now().UTC()

	// Multi-row VALUES insert, chunked to keep statements bounded.
	const chunkSize = 2000
	for start := 0; start < len(candles); start += chunkSize {
		end := start + chunkSize
		if end > len(candles) {
			end = len(candles)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, c := range candles[start:end] {
			if c.Date.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				symbol,
				c.Date,
				c.Open,
				c.High,
				c.Low,
				c.Close,
				c.Volume,
				fetchedAt,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (symbol, date, open, high, low, close, volume, fetched_at) VALUES %s",
			a.table, strings.Join(values, ","))
		if _, err := a.client.DB().ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("archive candles %s: %w", symbol, err)
		}
	}
	return nil
}

func (a *ClickHouseArchive) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.Candle, error) {
	q := fmt.Sprintf("SELECT date, open, high, low, close, volume FROM %s FINAL WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date DESC LIMIT ?", a.table)
	rows, err := a.client.DB().QueryContext(ctx, q, symbol, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Date, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (a *ClickHouseArchive) Health(ctx context.Context) error {
	return a.client.Health(ctx)
}

func (a *ClickHouseArchive) Close() error {
	return a.client.Close()
}

var _ repository.OHLCVArchive = (*ClickHouseArchive)(nil)
