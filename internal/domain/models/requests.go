package models

// AnalyzeRequest is the submit payload.
type AnalyzeRequest struct {
	Symbol            string   `json:"symbol" validate:"required,max=12"`
	Analyses          []string `json:"analyses" validate:"required,min=1,dive,oneof=sentiment technical forecast"`
	ForecastTimeframe string   `json:"forecast_timeframe" validate:"omitempty,oneof=6m 12m 3y"`
}

// HistoryRequest queries the candle archive.
type HistoryRequest struct {
	From  string `query:"from" validate:"omitempty,datetime=2006-01-02"`
	To    string `query:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit int    `query:"limit" validate:"omitempty,min=1,max=10000" default:"500"`
}
