package models

import "time"

// MarketDataKind namespaces market-data cache entries per symbol.
type MarketDataKind string

const (
	DataOHLCV MarketDataKind = "ohlcv"
)

// Candle is one OHLCV bar.
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// OHLCV is the fetched price history for a symbol, cached across tasks and
// consumed by every analysis kind.
type OHLCV struct {
	Symbol    string    `json:"symbol"`
	Candles   []Candle  `json:"candles"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SymbolMeta holds instrument metadata returned by the upstream fetch.
type SymbolMeta struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Sector   string `json:"sector,omitempty"`
	Currency string `json:"currency,omitempty"`
}
