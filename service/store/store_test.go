package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alien88ted/presale-monitor/service/presale"
)

func testTransaction(sig, from string, usd float64, blockTime time.Time) presale.Transaction {
	return presale.Transaction{
		Signature: sig,
		Kind:      presale.KindNativeDeposit,
		Type:      presale.TxTypeDeposit,
		Asset:     presale.AssetNative,
		Amount:    usd / 100,
		From:      from,
		To:        "treasury",
		BlockTime: blockTime,
		Slot:      1000,
		Status:    presale.StatusSuccess,
		USDValue:  usd,
	}
}

func TestStore_TransactionRoundTrip(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	txs := []presale.Transaction{
		testTransaction("sig-1", "alice", 150, now.Add(-time.Hour)),
		testTransaction("sig-2", "bob", 600, now),
	}
	require.NoError(t, s.UpsertTransactions(ctx, txs, time.Hour))

	got, err := s.GetTransaction(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, 150.0, got.USDValue)

	_, err = s.GetTransaction(ctx, "sig-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Newest first.
	list, err := s.ListTransactions(ctx, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "sig-2", list[0].Signature)

	// Before cursor excludes the newer transaction.
	list, err = s.ListTransactions(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sig-1", list[0].Signature)
}

func TestStore_ExpiredDocumentsNotServed(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()

	tx := testTransaction("sig-expired", "alice", 100, time.Now())
	// Negative TTL yields an expiresAt in the past; the read path must
	// refuse it even before the mongo reaper removes the document.
	require.NoError(t, s.UpsertTransactions(ctx, []presale.Transaction{tx}, -time.Second))

	_, err := s.GetTransaction(ctx, "sig-expired")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_MetricsFreshness(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()

	m := &presale.Metrics{
		TransactionCount:   42,
		UniqueContributors: 7,
		LastUpdated:        time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.SaveMetrics(ctx, "treasury", m, time.Hour))

	got, fresh, err := s.GetMetrics(ctx, "treasury")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, 42, got.TransactionCount)

	// An expired snapshot is still returned, flagged stale.
	require.NoError(t, s.SaveMetrics(ctx, "treasury", m, -time.Second))
	got, fresh, err = s.GetMetrics(ctx, "treasury")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, 42, got.TransactionCount)

	_, _, err = s.GetMetrics(ctx, "unknown-wallet")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_TopContributors(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	contributors := []presale.Contributor{
		{Address: "alice", TotalUSD: 500, TxCount: 2, FirstSeen: now, LastSeen: now, AverageUSD: 250},
		{Address: "bob", TotalUSD: 2000, TxCount: 1, FirstSeen: now, LastSeen: now, AverageUSD: 2000},
		{Address: "carol", TotalUSD: 50, TxCount: 1, FirstSeen: now, LastSeen: now, AverageUSD: 50},
	}
	require.NoError(t, s.UpsertContributors(ctx, contributors, time.Hour))

	top, err := s.TopContributors(ctx, 100, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "bob", top[0].Address)
	assert.Equal(t, "alice", top[1].Address)
}

func TestStore_WalletSnapshots(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	older := presale.WalletSnapshot{Wallet: "treasury", BalanceSOL: 10, Timestamp: now.Add(-time.Hour)}
	newer := presale.WalletSnapshot{Wallet: "treasury", BalanceSOL: 12, Timestamp: now}
	require.NoError(t, s.AppendWalletSnapshot(ctx, older))
	require.NoError(t, s.AppendWalletSnapshot(ctx, newer))

	latest, err := s.LatestWalletSnapshot(ctx, "treasury")
	require.NoError(t, err)
	assert.Equal(t, 12.0, latest.BalanceSOL)

	_, err = s.LatestWalletSnapshot(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)
}
