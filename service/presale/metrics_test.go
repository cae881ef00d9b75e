package presale

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func depositTx(sig, from string, amountSOL, usd float64, at time.Time) *Transaction {
	return &Transaction{
		Signature: sig,
		Kind:      KindNativeDeposit,
		Type:      TxTypeDeposit,
		Asset:     AssetNative,
		Amount:    amountSOL,
		From:      from,
		To:        "presale",
		BlockTime: at,
		Status:    StatusSuccess,
		USDValue:  usd,
	}
}

// TestBuildMetrics_ThreeDeposits covers the canonical scenario: three
// successful native deposits of 1.0, 2.0 and 0.5 SOL from three distinct
// addresses at a fixed $100 unit price.
func TestBuildMetrics_ThreeDeposits(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	txs := []*Transaction{
		depositTx("sig1", "alice", 1.0, 100, now.Add(-time.Hour)),
		depositTx("sig2", "bob", 2.0, 200, now.Add(-2*time.Hour)),
		depositTx("sig3", "carol", 0.5, 50, now.Add(-3*time.Hour)),
	}

	m := BuildMetrics(BuildMetricsParams{
		Wallet:          WalletInfo{Address: "presale"},
		Transactions:    txs,
		LeaderboardSize: 10,
		Now:             now,
	})

	assert.InDelta(t, 350.0, m.TotalRaised.TotalUSD, 1e-9)
	assert.InDelta(t, 3.5, m.TotalRaised.NativeSOL, 1e-9)
	assert.Equal(t, 3, m.UniqueContributors)
	assert.InDelta(t, 116.67, m.AverageContribution, 0.01)
	assert.Equal(t, 3, m.DepositCount)
	assert.Equal(t, 0, m.FailedCount)

	// $100 and $200 land in the 100-500 bucket, $50 in <100.
	assert.Equal(t, 1, m.Histogram[0].Count)
	assert.Equal(t, 2, m.Histogram[1].Count)
	for _, b := range m.Histogram[2:] {
		assert.Zero(t, b.Count)
	}

	// All three within 24h.
	assert.InDelta(t, 350.0, m.Volume24h.VolumeUSD, 1e-9)
	assert.Equal(t, 3, m.Volume24h.Deposits)
}

// TestBuildMetrics_FailedExcluded checks that a failed transaction is
// excluded from totals and the contributor count but still visible in the
// raw transaction count.
func TestBuildMetrics_FailedExcluded(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	failed := depositTx("sig2", "bob", 2.0, 200, now.Add(-time.Hour))
	failed.Status = StatusFailed
	failed.Kind = KindUnclassified
	failed.Type = TxTypeUnknown

	txs := []*Transaction{
		depositTx("sig1", "alice", 1.0, 100, now.Add(-time.Hour)),
		failed,
		depositTx("sig3", "carol", 0.5, 50, now.Add(-time.Hour)),
	}

	m := BuildMetrics(BuildMetricsParams{Transactions: txs, Now: now})

	assert.InDelta(t, 150.0, m.TotalRaised.TotalUSD, 1e-9)
	assert.Equal(t, 2, m.UniqueContributors)
	assert.Equal(t, 3, m.TransactionCount)
	assert.Equal(t, 1, m.FailedCount)
}

// TestBuildMetrics_PureFunction verifies that reordering and duplicating
// the input does not change the snapshot.
func TestBuildMetrics_PureFunction(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	base := []*Transaction{
		depositTx("sig1", "alice", 1.0, 100, now.Add(-time.Hour)),
		depositTx("sig2", "bob", 2.0, 200, now.Add(-30*24*time.Hour+time.Hour)),
		depositTx("sig3", "carol", 12.0, 1200, now.Add(-2*24*time.Hour)),
		depositTx("sig4", "alice", 60.0, 6000, now.Add(-10*24*time.Hour)),
	}

	params := func(txs []*Transaction) BuildMetricsParams {
		return BuildMetricsParams{
			Wallet:          WalletInfo{Address: "presale"},
			Transactions:    txs,
			MinLeaderboard:  100,
			LeaderboardSize: 10,
			Now:             now,
		}
	}

	want := BuildMetrics(params(base))

	shuffled := make([]*Transaction, len(base))
	copy(shuffled, base)
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := BuildMetrics(params(shuffled))
		assert.Equal(t, want, got)
	}

	// Duplicated signatures fold exactly once.
	doubled := append(append([]*Transaction{}, base...), base...)
	got := BuildMetrics(params(doubled))
	assert.Equal(t, want.TotalRaised, got.TotalRaised)
	assert.Equal(t, want.TransactionCount, got.TransactionCount)
	assert.Equal(t, want.Histogram, got.Histogram)
}

func TestBuildMetrics_Windows(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	txs := []*Transaction{
		depositTx("sig1", "alice", 1.0, 100, now.Add(-time.Hour)),          // 24h, 7d, 30d
		depositTx("sig2", "bob", 2.0, 200, now.Add(-3*24*time.Hour)),       // 7d, 30d
		depositTx("sig3", "carol", 0.5, 50, now.Add(-20*24*time.Hour)),     // 30d
		depositTx("sig4", "dave", 0.5, 50, now.Add(-40*24*time.Hour)),      // none
	}

	m := BuildMetrics(BuildMetricsParams{Transactions: txs, Now: now})

	assert.InDelta(t, 100.0, m.Volume24h.VolumeUSD, 1e-9)
	assert.InDelta(t, 300.0, m.Volume7d.VolumeUSD, 1e-9)
	assert.InDelta(t, 350.0, m.Volume30d.VolumeUSD, 1e-9)
	assert.InDelta(t, 400.0, m.TotalRaised.TotalUSD, 1e-9)
}

func TestLeaderboard_ThresholdAndOrder(t *testing.T) {
	ledger := map[string]*Contributor{
		"alice": {Address: "alice", TotalUSD: 500, TxCount: 2},
		"bob":   {Address: "bob", TotalUSD: 50, TxCount: 1},
		"carol": {Address: "carol", TotalUSD: 500, TxCount: 5},
		"dave":  {Address: "dave", TotalUSD: 9000, TxCount: 3},
	}

	top := Leaderboard(ledger, 100, 10)
	require.Len(t, top, 3)
	assert.Equal(t, "dave", top[0].Address)
	// Equal totals order deterministically by address.
	assert.Equal(t, "alice", top[1].Address)
	assert.Equal(t, "carol", top[2].Address)
	assert.InDelta(t, 250.0, top[1].AverageUSD, 1e-9)
}

func TestContributorLedger_Invariants(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	txs := []*Transaction{
		depositTx("sig1", "alice", 1.0, 100, now.Add(-2*time.Hour)),
		depositTx("sig2", "alice", 2.0, 200, now.Add(-time.Hour)),
		depositTx("sig2", "alice", 2.0, 200, now.Add(-time.Hour)), // duplicate signature
	}

	ledger := ContributorLedger(txs)
	require.Len(t, ledger, 1)

	alice := ledger["alice"]
	assert.Equal(t, 2, alice.TxCount)
	assert.InDelta(t, 300.0, alice.TotalUSD, 1e-9)
	assert.InDelta(t, alice.TotalUSD/float64(alice.TxCount), alice.AverageUSD, 1e-9)
	assert.True(t, alice.FirstSeen.Before(alice.LastSeen))
}
