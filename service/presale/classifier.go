package presale

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrParse indicates a transaction whose structure could not be
// classified. It is never fatal: the transaction is excluded from
// financial totals but kept in the raw history.
var ErrParse = errors.New("unparseable transaction")

// Well-known stablecoin mints on mainnet.
var (
	USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	USDTMint = solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
)

// Classification thresholds. Balance changes below the dust threshold are
// treated as noise (fees, rent, rounding) rather than real transfers.
const (
	DefaultDustLamports = uint64(10_000)
	DefaultDustToken    = 1e-6
	lamportsPerSOL      = 1e9
)

// ClassifyConfig tunes the balance-delta classifier.
type ClassifyConfig struct {
	DustLamports uint64
	DustToken    float64
	StableMints  map[string]struct{} // mints treated as USD-pegged
}

// DefaultClassifyConfig returns the mainnet defaults.
func DefaultClassifyConfig() ClassifyConfig {
	return ClassifyConfig{
		DustLamports: DefaultDustLamports,
		DustToken:    DefaultDustToken,
		StableMints: map[string]struct{}{
			USDCMint.String(): {},
			USDTMint.String(): {},
		},
	}
}

// Classify turns a raw transaction result into a typed presale event by
// inspecting pre/post balances for the watched wallet.
//
// Native SOL balance changes above the dust threshold win over token
// changes. If neither yields a significant delta for the wallet, or the
// transaction failed on chain, the result is KindUnclassified and the
// transaction is dropped from financial totals.
func Classify(wallet solana.PublicKey, sig *rpc.TransactionSignature, result *rpc.GetTransactionResult, cfg ClassifyConfig) (*Transaction, error) {
	if cfg.DustLamports == 0 {
		cfg.DustLamports = DefaultDustLamports
	}
	if cfg.DustToken == 0 {
		cfg.DustToken = DefaultDustToken
	}

	txn := &Transaction{
		Signature: sig.Signature.String(),
		Kind:      KindUnclassified,
		Type:      TxTypeUnknown,
		Asset:     AssetOther,
		To:        wallet.String(),
		Slot:      sig.Slot,
		Status:    StatusSuccess,
	}
	if sig.BlockTime != nil {
		txn.BlockTime = sig.BlockTime.Time()
	} else {
		txn.BlockTime = time.Time{}
	}

	// Failed transactions keep their identity but never count financially.
	if sig.Err != nil {
		txn.Status = StatusFailed
		return txn, nil
	}

	if result == nil || result.Meta == nil {
		return txn, fmt.Errorf("%w: %s: missing transaction meta", ErrParse, txn.Signature)
	}
	meta := result.Meta
	if meta.Err != nil {
		txn.Status = StatusFailed
		return txn, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return txn, fmt.Errorf("%w: %s: decode: %v", ErrParse, txn.Signature, err)
	}

	// Full account list: static message keys plus any address-table lookups.
	// The pre/post balance arrays index into this combined list.
	keys := make([]solana.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	keys = append(keys, meta.LoadedAddresses.Writable...)
	keys = append(keys, meta.LoadedAddresses.ReadOnly...)

	if classified := classifyNative(txn, wallet, keys, meta, cfg); classified {
		return txn, nil
	}
	if classified := classifyToken(txn, wallet, keys, meta, cfg); classified {
		return txn, nil
	}

	// No significant balance change for the watched wallet. Not an error:
	// the wallet may only have been a fee payer or a passive account.
	return txn, nil
}

// classifyNative checks the wallet's lamport delta. Returns true if the
// transaction was classified as a native transfer.
func classifyNative(txn *Transaction, wallet solana.PublicKey, keys []solana.PublicKey, meta *rpc.TransactionMeta, cfg ClassifyConfig) bool {
	idx := -1
	for i, k := range keys {
		if k.Equals(wallet) {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
		return false
	}

	delta := int64(meta.PostBalances[idx]) - int64(meta.PreBalances[idx])
	if absInt64(delta) <= int64(cfg.DustLamports) {
		return false
	}

	txn.Asset = AssetNative
	txn.Amount = float64(absInt64(delta)) / lamportsPerSOL
	txn.TokenMint = nil

	if delta > 0 {
		txn.Kind = KindNativeDeposit
	} else {
		txn.Kind = KindNativeWithdrawal
	}
	txn.Type = txn.Kind.Type()

	// Counterparty: the account whose lamport delta has the opposite sign
	// and the largest magnitude. Best effort when several accounts moved.
	var (
		best    int64
		bestKey string
	)
	for i, k := range keys {
		if i == idx || i >= len(meta.PreBalances) || i >= len(meta.PostBalances) {
			continue
		}
		d := int64(meta.PostBalances[i]) - int64(meta.PreBalances[i])
		if d == 0 || (d > 0) == (delta > 0) {
			continue
		}
		if absInt64(d) > best {
			best = absInt64(d)
			bestKey = k.String()
		}
	}
	if delta > 0 {
		txn.From = bestKey
		txn.To = wallet.String()
	} else {
		txn.From = wallet.String()
		txn.To = bestKey
	}
	return true
}

// tokenDelta is the net token balance change for one (owner, mint) pair.
type tokenDelta struct {
	owner string
	mint  string
	delta float64
}

// classifyToken nets pre/post token balances per owner and classifies the
// watched wallet's largest-magnitude delta. Returns true if classified.
func classifyToken(txn *Transaction, wallet solana.PublicKey, keys []solana.PublicKey, meta *rpc.TransactionMeta, cfg ClassifyConfig) bool {
	deltas := netTokenDeltas(meta)
	if len(deltas) == 0 {
		return false
	}

	walletAddr := wallet.String()
	var own *tokenDelta
	for i := range deltas {
		d := &deltas[i]
		if d.owner != walletAddr || math.Abs(d.delta) <= cfg.DustToken {
			continue
		}
		if own == nil || math.Abs(d.delta) > math.Abs(own.delta) {
			own = d
		}
	}
	if own == nil {
		return false
	}

	mint := own.mint
	txn.TokenMint = &mint
	txn.Amount = math.Abs(own.delta)
	if _, ok := cfg.StableMints[mint]; ok {
		txn.Asset = AssetStable
	} else {
		txn.Asset = AssetOther
	}
	if own.delta > 0 {
		txn.Kind = KindTokenDeposit
	} else {
		txn.Kind = KindTokenWithdrawal
	}
	txn.Type = txn.Kind.Type()

	// Counterparty: the opposite-sign delta on the same mint with the
	// largest magnitude. Known limitation: with three or more changed
	// accounts on one mint this heuristic can misattribute the party.
	var (
		best     float64
		bestAddr string
	)
	for i := range deltas {
		d := &deltas[i]
		if d.owner == walletAddr || d.mint != mint {
			continue
		}
		if (d.delta > 0) == (own.delta > 0) {
			continue
		}
		if math.Abs(d.delta) > best {
			best = math.Abs(d.delta)
			bestAddr = d.owner
		}
	}
	if own.delta > 0 {
		txn.From = bestAddr
		txn.To = walletAddr
	} else {
		txn.From = walletAddr
		txn.To = bestAddr
	}
	return true
}

// netTokenDeltas folds pre and post token balances into net per-owner,
// per-mint changes.
func netTokenDeltas(meta *rpc.TransactionMeta) []tokenDelta {
	type key struct{ owner, mint string }
	net := make(map[key]float64)

	for i := range meta.PreTokenBalances {
		tb := &meta.PreTokenBalances[i]
		if tb.Owner == nil {
			continue
		}
		net[key{tb.Owner.String(), tb.Mint.String()}] -= uiTokenAmount(tb.UiTokenAmount)
	}
	for i := range meta.PostTokenBalances {
		tb := &meta.PostTokenBalances[i]
		if tb.Owner == nil {
			continue
		}
		net[key{tb.Owner.String(), tb.Mint.String()}] += uiTokenAmount(tb.UiTokenAmount)
	}

	deltas := make([]tokenDelta, 0, len(net))
	for k, d := range net {
		if d == 0 {
			continue
		}
		deltas = append(deltas, tokenDelta{owner: k.owner, mint: k.mint, delta: d})
	}
	return deltas
}

// uiTokenAmount extracts the UI-unit amount from a token balance entry.
func uiTokenAmount(a *rpc.UiTokenAmount) float64 {
	if a == nil {
		return 0
	}
	if a.UiAmount != nil {
		return *a.UiAmount
	}
	if a.UiAmountString != "" {
		if v, err := strconv.ParseFloat(a.UiAmountString, 64); err == nil {
			return v
		}
	}
	if a.Amount != "" {
		if raw, err := strconv.ParseFloat(a.Amount, 64); err == nil {
			return raw / math.Pow10(int(a.Decimals))
		}
	}
	return 0
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
