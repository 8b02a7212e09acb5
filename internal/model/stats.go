package model

import "github.com/shopspring/decimal"

// StateBucket holds the count and summed amount of tickets in one state
// for a single currency.
type StateBucket struct {
	Count int64           `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// CurrencyStats aggregates tickets of one currency across all states.
// Total sums every ticket regardless of state.
type CurrencyStats struct {
	ByState map[string]StateBucket `json:"by_state"`
	Count   int64                  `json:"count"`
	Total   decimal.Decimal        `json:"total"`
}

// StatsSnapshot is the result of a single aggregate read over the ledger.
// It is computed fresh on every request; nothing here is cached, so
// concurrent stations always observe current figures.
type StatsSnapshot struct {
	ByCurrency map[string]CurrencyStats `json:"by_currency"`
	Tickets    int64                    `json:"tickets"`
}

// NewStatsSnapshot returns an empty snapshot with the map initialized.
func NewStatsSnapshot() StatsSnapshot {
	return StatsSnapshot{ByCurrency: make(map[string]CurrencyStats)}
}
