package presale

import (
	"time"
)

// Asset classifies what was transferred in a transaction.
type Asset string

const (
	AssetNative Asset = "NATIVE" // SOL
	AssetStable Asset = "STABLE" // USDC/USDT
	AssetOther  Asset = "OTHER"  // any other SPL token
)

// TxType is the financial direction of a transaction relative to the
// presale wallet.
type TxType string

const (
	TxTypeDeposit    TxType = "deposit"
	TxTypeWithdrawal TxType = "withdrawal"
	TxTypeUnknown    TxType = "unknown"
)

// Status is the on-chain outcome of a transaction.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// EventKind is the classified shape of a transaction. The classifier
// produces exactly one kind per transaction; anything it cannot attribute
// a significant balance change to is KindUnclassified.
type EventKind string

const (
	KindNativeDeposit    EventKind = "native-deposit"
	KindNativeWithdrawal EventKind = "native-withdrawal"
	KindTokenDeposit     EventKind = "token-deposit"
	KindTokenWithdrawal  EventKind = "token-withdrawal"
	KindUnclassified     EventKind = "unclassified"
)

// Type returns the financial direction implied by the kind.
func (k EventKind) Type() TxType {
	switch k {
	case KindNativeDeposit, KindTokenDeposit:
		return TxTypeDeposit
	case KindNativeWithdrawal, KindTokenWithdrawal:
		return TxTypeWithdrawal
	default:
		return TxTypeUnknown
	}
}

// Transaction is a parsed presale transaction. It is immutable once
// parsed: a signature's on-chain outcome never changes, so transactions
// are cached indefinitely keyed by signature.
type Transaction struct {
	Signature string    `json:"signature" bson:"signature"`
	Kind      EventKind `json:"kind" bson:"kind"`
	Type      TxType    `json:"type" bson:"type"`
	Asset     Asset     `json:"asset" bson:"asset"`
	Amount    float64   `json:"amount" bson:"amount"` // UI units (SOL or token units)
	From      string    `json:"from" bson:"from"`
	To        string    `json:"to" bson:"to"`
	BlockTime time.Time `json:"block_time" bson:"blockTime"`
	Slot      uint64    `json:"slot" bson:"slot"`
	Status    Status    `json:"status" bson:"status"`
	USDValue  float64   `json:"usd_value" bson:"usdValue"`
	TokenMint *string   `json:"token_mint,omitempty" bson:"tokenMint,omitempty"` // nil for native SOL
}

// IsCountableDeposit reports whether the transaction counts toward
// financial totals: a successful deposit with a classified kind.
func (t *Transaction) IsCountableDeposit() bool {
	return t.Status == StatusSuccess && t.Type == TxTypeDeposit
}

// Contributor is the derived per-address ledger entry. It is always
// recomputable by folding over the contributor's successful deposits.
type Contributor struct {
	Address    string    `json:"address" bson:"address"`
	TotalUSD   float64   `json:"total_usd" bson:"totalUsd"`
	TxCount    int       `json:"transaction_count" bson:"txCount"`
	FirstSeen  time.Time `json:"first_contribution" bson:"firstSeen"`
	LastSeen   time.Time `json:"last_contribution" bson:"lastSeen"`
	AverageUSD float64   `json:"average_usd" bson:"averageUsd"`
}

// WalletInfo is a point-in-time view of the presale wallet's balance.
type WalletInfo struct {
	Address    string  `json:"address" bson:"address"`
	Lamports   uint64  `json:"lamports" bson:"lamports"`
	BalanceSOL float64 `json:"balance_sol" bson:"balanceSol"`
	BalanceUSD float64 `json:"balance_usd" bson:"balanceUsd"`
	Slot       uint64  `json:"slot" bson:"slot"`
}

// WalletSnapshot is an append-only point-in-time record used for trend
// analysis. Snapshots are never expired or rewritten.
type WalletSnapshot struct {
	Wallet         string    `json:"wallet" bson:"wallet"`
	BalanceSOL     float64   `json:"balance_sol" bson:"balanceSol"`
	BalanceUSD     float64   `json:"balance_usd" bson:"balanceUsd"`
	TotalRaisedUSD float64   `json:"total_raised_usd" bson:"totalRaisedUsd"`
	Contributors   int       `json:"contributors" bson:"contributors"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
}

// TotalRaised breaks the raised amount down by asset class.
type TotalRaised struct {
	NativeSOL float64 `json:"native_sol" bson:"nativeSol"` // SOL units
	NativeUSD float64 `json:"native_usd" bson:"nativeUsd"`
	StableUSD float64 `json:"stable_usd" bson:"stableUsd"`
	OtherUSD  float64 `json:"other_usd" bson:"otherUsd"`
	TotalUSD  float64 `json:"total_usd" bson:"totalUsd"`
}

// WindowStats aggregates deposit activity over a rolling time window.
type WindowStats struct {
	VolumeUSD   float64 `json:"volume_usd" bson:"volumeUsd"`
	Deposits    int     `json:"deposits" bson:"deposits"`
	Withdrawals int     `json:"withdrawals" bson:"withdrawals"`
}

// HistogramBucket is one bucket of the contribution-size distribution.
type HistogramBucket struct {
	Label  string  `json:"label" bson:"label"`
	MinUSD float64 `json:"min_usd" bson:"minUsd"`
	MaxUSD float64 `json:"max_usd" bson:"maxUsd"` // 0 means unbounded
	Count  int     `json:"count" bson:"count"`
}

// Metrics is the aggregate presale snapshot. It is a pure function of
// (transactions, wallet info, threshold config): recomputing from the
// same inputs yields identical totals, counts and buckets.
type Metrics struct {
	Wallet              WalletInfo        `json:"wallet" bson:"wallet"`
	TotalRaised         TotalRaised       `json:"total_raised" bson:"totalRaised"`
	Volume24h           WindowStats       `json:"volume_24h" bson:"volume24h"`
	Volume7d            WindowStats       `json:"volume_7d" bson:"volume7d"`
	Volume30d           WindowStats       `json:"volume_30d" bson:"volume30d"`
	TransactionCount    int               `json:"transaction_count" bson:"transactionCount"`
	DepositCount        int               `json:"deposit_count" bson:"depositCount"`
	WithdrawalCount     int               `json:"withdrawal_count" bson:"withdrawalCount"`
	FailedCount         int               `json:"failed_count" bson:"failedCount"`
	UniqueContributors  int               `json:"unique_contributors" bson:"uniqueContributors"`
	AverageContribution float64           `json:"average_contribution" bson:"averageContribution"`
	TopContributors     []Contributor     `json:"top_contributors" bson:"topContributors"`
	Histogram           []HistogramBucket `json:"histogram" bson:"histogram"`
	LastUpdated         time.Time         `json:"last_updated" bson:"lastUpdated"`
}
