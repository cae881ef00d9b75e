package nats

import (
	"time"

	"github.com/alien88ted/presale-monitor/service/presale"
)

// DepositEvent is published for every newly observed countable deposit.
// Subject: "presale.deposits.{wallet}".
type DepositEvent struct {
	Wallet    string    `json:"wallet"`
	Signature string    `json:"signature"`
	Kind      string    `json:"kind"`
	Asset     string    `json:"asset"`
	Amount    float64   `json:"amount"`
	USDValue  float64   `json:"usd_value"`
	From      string    `json:"from"`
	BlockTime time.Time `json:"block_time"`
	Slot      uint64    `json:"slot"`

	PublishedAt time.Time `json:"published_at"`
}

// FromTransaction builds a DepositEvent from a classified transaction.
func FromTransaction(wallet string, tx *presale.Transaction) *DepositEvent {
	return &DepositEvent{
		Wallet:      wallet,
		Signature:   tx.Signature,
		Kind:        string(tx.Kind),
		Asset:       string(tx.Asset),
		Amount:      tx.Amount,
		USDValue:    tx.USDValue,
		From:        tx.From,
		BlockTime:   tx.BlockTime,
		Slot:        tx.Slot,
		PublishedAt: time.Now().UTC(),
	}
}

// MetricsEvent announces a completed metrics recomputation.
// Subject: "presale.metrics.{wallet}".
type MetricsEvent struct {
	Wallet             string    `json:"wallet"`
	TotalRaisedUSD     float64   `json:"total_raised_usd"`
	UniqueContributors int       `json:"unique_contributors"`
	TransactionCount   int       `json:"transaction_count"`
	LastUpdated        time.Time `json:"last_updated"`

	PublishedAt time.Time `json:"published_at"`
}

// FromMetrics builds a MetricsEvent from a computed snapshot.
func FromMetrics(wallet string, m *presale.Metrics) *MetricsEvent {
	return &MetricsEvent{
		Wallet:             wallet,
		TotalRaisedUSD:     m.TotalRaised.TotalUSD,
		UniqueContributors: m.UniqueContributors,
		TransactionCount:   m.TransactionCount,
		LastUpdated:        m.LastUpdated,
		PublishedAt:        time.Now().UTC(),
	}
}
