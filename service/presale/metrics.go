package presale

import (
	"sort"
	"time"
)

// Histogram bucket boundaries in USD. Fixed so snapshots from different
// refresh cycles stay comparable.
var histogramBounds = []struct {
	label string
	min   float64
	max   float64 // 0 = unbounded
}{
	{"<100", 0, 100},
	{"100-500", 100, 500},
	{"500-1000", 500, 1000},
	{"1000-5000", 1000, 5000},
	{"5000-10000", 5000, 10000},
	{">=10000", 10000, 0},
}

// BuildMetricsParams are the inputs to BuildMetrics. Metrics are a pure
// function of these inputs: the same transactions (in any order) with the
// same wallet info and thresholds produce an identical snapshot.
type BuildMetricsParams struct {
	Wallet          WalletInfo
	Transactions    []*Transaction
	MinLeaderboard  float64 // USD threshold for the leaderboard
	LeaderboardSize int
	Now             time.Time
}

// BuildMetrics folds a transaction set into an aggregate snapshot.
// Duplicate signatures are dropped before folding (pagination can return
// a signature twice when new transactions land mid-fetch). Failed and
// unclassified transactions are counted in the raw totals but never in
// financial sums.
func BuildMetrics(p BuildMetricsParams) *Metrics {
	if p.LeaderboardSize <= 0 {
		p.LeaderboardSize = 20
	}
	if p.Now.IsZero() {
		p.Now = time.Now().UTC()
	}

	m := &Metrics{
		Wallet:      p.Wallet,
		LastUpdated: p.Now,
	}
	m.Histogram = make([]HistogramBucket, len(histogramBounds))
	for i, b := range histogramBounds {
		m.Histogram[i] = HistogramBucket{Label: b.label, MinUSD: b.min, MaxUSD: b.max}
	}

	seen := make(map[string]struct{}, len(p.Transactions))
	ledger := make(map[string]*Contributor)

	cut24h := p.Now.Add(-24 * time.Hour)
	cut7d := p.Now.Add(-7 * 24 * time.Hour)
	cut30d := p.Now.Add(-30 * 24 * time.Hour)

	for _, tx := range p.Transactions {
		if tx == nil {
			continue
		}
		if _, dup := seen[tx.Signature]; dup {
			continue
		}
		seen[tx.Signature] = struct{}{}

		m.TransactionCount++
		if tx.Status == StatusFailed {
			m.FailedCount++
			continue
		}

		switch tx.Type {
		case TxTypeWithdrawal:
			m.WithdrawalCount++
			addWindow(&m.Volume24h, &m.Volume7d, &m.Volume30d, tx, cut24h, cut7d, cut30d)
			continue
		case TxTypeDeposit:
			m.DepositCount++
		default:
			continue
		}

		// Successful deposit: the only thing that raises money.
		switch tx.Asset {
		case AssetNative:
			m.TotalRaised.NativeSOL += tx.Amount
			m.TotalRaised.NativeUSD += tx.USDValue
		case AssetStable:
			m.TotalRaised.StableUSD += tx.USDValue
		default:
			m.TotalRaised.OtherUSD += tx.USDValue
		}
		m.TotalRaised.TotalUSD += tx.USDValue

		addWindow(&m.Volume24h, &m.Volume7d, &m.Volume30d, tx, cut24h, cut7d, cut30d)

		for i := range m.Histogram {
			b := &m.Histogram[i]
			if tx.USDValue >= b.MinUSD && (b.MaxUSD == 0 || tx.USDValue < b.MaxUSD) {
				b.Count++
				break
			}
		}

		c, ok := ledger[tx.From]
		if !ok {
			c = &Contributor{Address: tx.From, FirstSeen: tx.BlockTime, LastSeen: tx.BlockTime}
			ledger[tx.From] = c
		}
		c.TotalUSD += tx.USDValue
		c.TxCount++
		if tx.BlockTime.Before(c.FirstSeen) {
			c.FirstSeen = tx.BlockTime
		}
		if tx.BlockTime.After(c.LastSeen) {
			c.LastSeen = tx.BlockTime
		}
	}

	m.UniqueContributors = len(ledger)
	if m.UniqueContributors > 0 {
		m.AverageContribution = m.TotalRaised.TotalUSD / float64(m.UniqueContributors)
	}

	m.TopContributors = Leaderboard(ledger, p.MinLeaderboard, p.LeaderboardSize)
	return m
}

// Leaderboard filters a contributor ledger by a minimum-USD threshold and
// returns the top n by total contributed. Ties break on address so the
// output is deterministic regardless of input order.
func Leaderboard(ledger map[string]*Contributor, minUSD float64, n int) []Contributor {
	out := make([]Contributor, 0, len(ledger))
	for _, c := range ledger {
		if c.TotalUSD < minUSD {
			continue
		}
		cc := *c
		if cc.TxCount > 0 {
			cc.AverageUSD = cc.TotalUSD / float64(cc.TxCount)
		}
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalUSD != out[j].TotalUSD {
			return out[i].TotalUSD > out[j].TotalUSD
		}
		return out[i].Address < out[j].Address
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// ContributorLedger folds transactions into the full per-address ledger,
// including entries below the leaderboard threshold.
func ContributorLedger(txs []*Transaction) map[string]*Contributor {
	seen := make(map[string]struct{}, len(txs))
	ledger := make(map[string]*Contributor)
	for _, tx := range txs {
		if tx == nil || !tx.IsCountableDeposit() {
			continue
		}
		if _, dup := seen[tx.Signature]; dup {
			continue
		}
		seen[tx.Signature] = struct{}{}

		c, ok := ledger[tx.From]
		if !ok {
			c = &Contributor{Address: tx.From, FirstSeen: tx.BlockTime, LastSeen: tx.BlockTime}
			ledger[tx.From] = c
		}
		c.TotalUSD += tx.USDValue
		c.TxCount++
		if tx.BlockTime.Before(c.FirstSeen) {
			c.FirstSeen = tx.BlockTime
		}
		if tx.BlockTime.After(c.LastSeen) {
			c.LastSeen = tx.BlockTime
		}
		c.AverageUSD = c.TotalUSD / float64(c.TxCount)
	}
	return ledger
}

func addWindow(w24, w7, w30 *WindowStats, tx *Transaction, cut24h, cut7d, cut30d time.Time) {
	add := func(w *WindowStats) {
		switch tx.Type {
		case TxTypeDeposit:
			w.Deposits++
			w.VolumeUSD += tx.USDValue
		case TxTypeWithdrawal:
			w.Withdrawals++
		}
	}
	if tx.BlockTime.After(cut24h) {
		add(w24)
	}
	if tx.BlockTime.After(cut7d) {
		add(w7)
	}
	if tx.BlockTime.After(cut30d) {
		add(w30)
	}
}
