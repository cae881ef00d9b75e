package presale

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testWallet   = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	testSender   = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	testTreasury = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")
	testSig      = solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	testSystem   = solana.MustPublicKeyFromBase58("11111111111111111111111111111112")
)

// makeTransactionEnvelope builds an rpc.TransactionResultEnvelope from a
// solana.Transaction. The envelope has unexported fields, so we round-trip
// through JSON the way the RPC layer would.
func makeTransactionEnvelope(t *testing.T, tx *solana.Transaction) *rpc.TransactionResultEnvelope {
	t.Helper()

	txJSON, err := json.Marshal(tx)
	require.NoError(t, err)

	var temp struct {
		Transaction json.RawMessage `json:"transaction"`
	}
	temp.Transaction = txJSON

	envelopeJSON, err := json.Marshal(temp)
	require.NoError(t, err)

	var result rpc.GetTransactionResult
	require.NoError(t, json.Unmarshal(envelopeJSON, &result))
	return result.Transaction
}

func makeSignature(t *testing.T, failed bool) *rpc.TransactionSignature {
	t.Helper()
	now := solana.UnixTimeSeconds(time.Now().Unix())
	sig := &rpc.TransactionSignature{
		Signature: testSig,
		Slot:      100,
		BlockTime: &now,
	}
	if failed {
		sig.Err = map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}
	}
	return sig
}

// nativeResult builds a transaction result where the watched wallet's
// lamport balance changed by delta.
func nativeResult(t *testing.T, keys []solana.PublicKey, pre, post []uint64) *rpc.GetTransactionResult {
	t.Helper()
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: keys,
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: uint16(len(keys) - 1), Accounts: []uint16{0, 1}},
			},
		},
	}
	return &rpc.GetTransactionResult{
		Transaction: makeTransactionEnvelope(t, tx),
		Meta: &rpc.TransactionMeta{
			PreBalances:  pre,
			PostBalances: post,
		},
	}
}

func TestClassify_NativeDeposit(t *testing.T) {
	keys := []solana.PublicKey{testSender, testWallet, testSystem}
	// Sender pays 1 SOL (+fee), wallet receives 1 SOL.
	result := nativeResult(t, keys,
		[]uint64{2_000_005_000, 500_000_000, 1},
		[]uint64{1_000_000_000, 1_500_000_000, 1},
	)

	txn, err := Classify(testWallet, makeSignature(t, false), result, DefaultClassifyConfig())
	require.NoError(t, err)

	assert.Equal(t, KindNativeDeposit, txn.Kind)
	assert.Equal(t, TxTypeDeposit, txn.Type)
	assert.Equal(t, AssetNative, txn.Asset)
	assert.InDelta(t, 1.0, txn.Amount, 1e-9)
	assert.Equal(t, testSender.String(), txn.From)
	assert.Equal(t, testWallet.String(), txn.To)
	assert.Equal(t, StatusSuccess, txn.Status)
	assert.Nil(t, txn.TokenMint)
}

func TestClassify_NativeWithdrawal(t *testing.T) {
	keys := []solana.PublicKey{testWallet, testTreasury, testSystem}
	result := nativeResult(t, keys,
		[]uint64{3_000_000_000, 0, 1},
		[]uint64{1_000_000_000, 2_000_000_000, 1},
	)

	txn, err := Classify(testWallet, makeSignature(t, false), result, DefaultClassifyConfig())
	require.NoError(t, err)

	assert.Equal(t, KindNativeWithdrawal, txn.Kind)
	assert.Equal(t, TxTypeWithdrawal, txn.Type)
	assert.Equal(t, testWallet.String(), txn.From)
	assert.Equal(t, testTreasury.String(), txn.To)
	assert.InDelta(t, 2.0, txn.Amount, 1e-9)
}

func TestClassify_DustIgnored(t *testing.T) {
	keys := []solana.PublicKey{testSender, testWallet, testSystem}
	// Only a fee-sized wobble on the watched wallet.
	result := nativeResult(t, keys,
		[]uint64{1_000_000_000, 500_005_000, 1},
		[]uint64{999_995_000, 500_000_000, 1},
	)

	txn, err := Classify(testWallet, makeSignature(t, false), result, DefaultClassifyConfig())
	require.NoError(t, err)

	assert.Equal(t, KindUnclassified, txn.Kind)
	assert.Equal(t, TxTypeUnknown, txn.Type)
	assert.False(t, txn.IsCountableDeposit())
}

func TestClassify_FailedTransaction(t *testing.T) {
	keys := []solana.PublicKey{testSender, testWallet, testSystem}
	result := nativeResult(t, keys,
		[]uint64{2_000_000_000, 500_000_000, 1},
		[]uint64{1_000_000_000, 1_500_000_000, 1},
	)

	txn, err := Classify(testWallet, makeSignature(t, true), result, DefaultClassifyConfig())
	require.NoError(t, err)

	// Failed transactions keep their identity but never count financially,
	// even when balances appear to have moved.
	assert.Equal(t, StatusFailed, txn.Status)
	assert.Equal(t, KindUnclassified, txn.Kind)
	assert.False(t, txn.IsCountableDeposit())
}

func TestClassify_TokenDeposit(t *testing.T) {
	keys := []solana.PublicKey{testSender, testWallet, testSystem}
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: keys,
		},
	}

	pre := []float64{250.0, 0.0}
	post := []float64{150.0, 100.0}
	owners := []solana.PublicKey{testSender, testWallet}

	meta := &rpc.TransactionMeta{
		PreBalances:  []uint64{1_000_005_000, 500_000_000, 1},
		PostBalances: []uint64{1_000_000_000, 500_000_000, 1},
	}
	for i := range owners {
		owner := owners[i]
		preAmt := pre[i]
		postAmt := post[i]
		meta.PreTokenBalances = append(meta.PreTokenBalances, rpc.TokenBalance{
			AccountIndex:  uint16(i),
			Mint:          USDCMint,
			Owner:         &owner,
			UiTokenAmount: &rpc.UiTokenAmount{UiAmount: &preAmt, Decimals: 6},
		})
		meta.PostTokenBalances = append(meta.PostTokenBalances, rpc.TokenBalance{
			AccountIndex:  uint16(i),
			Mint:          USDCMint,
			Owner:         &owner,
			UiTokenAmount: &rpc.UiTokenAmount{UiAmount: &postAmt, Decimals: 6},
		})
	}

	result := &rpc.GetTransactionResult{
		Transaction: makeTransactionEnvelope(t, tx),
		Meta:        meta,
	}

	txn, err := Classify(testWallet, makeSignature(t, false), result, DefaultClassifyConfig())
	require.NoError(t, err)

	assert.Equal(t, KindTokenDeposit, txn.Kind)
	assert.Equal(t, AssetStable, txn.Asset)
	assert.InDelta(t, 100.0, txn.Amount, 1e-9)
	require.NotNil(t, txn.TokenMint)
	assert.Equal(t, USDCMint.String(), *txn.TokenMint)
	assert.Equal(t, testSender.String(), txn.From)
}

func TestClassify_TokenCounterpartyLargestMagnitude(t *testing.T) {
	keys := []solana.PublicKey{testSender, testTreasury, testWallet}
	tx := &solana.Transaction{Message: solana.Message{AccountKeys: keys}}

	owners := []solana.PublicKey{testSender, testTreasury, testWallet}
	pre := []float64{80.0, 40.0, 0.0}
	post := []float64{10.0, 10.0, 100.0}

	meta := &rpc.TransactionMeta{
		PreBalances:  []uint64{1, 1, 1},
		PostBalances: []uint64{1, 1, 1},
	}
	for i := range owners {
		owner := owners[i]
		preAmt := pre[i]
		postAmt := post[i]
		meta.PreTokenBalances = append(meta.PreTokenBalances, rpc.TokenBalance{
			AccountIndex:  uint16(i),
			Mint:          USDCMint,
			Owner:         &owner,
			UiTokenAmount: &rpc.UiTokenAmount{UiAmount: &preAmt, Decimals: 6},
		})
		meta.PostTokenBalances = append(meta.PostTokenBalances, rpc.TokenBalance{
			AccountIndex:  uint16(i),
			Mint:          USDCMint,
			Owner:         &owner,
			UiTokenAmount: &rpc.UiTokenAmount{UiAmount: &postAmt, Decimals: 6},
		})
	}

	result := &rpc.GetTransactionResult{
		Transaction: makeTransactionEnvelope(t, tx),
		Meta:        meta,
	}

	txn, err := Classify(testWallet, makeSignature(t, false), result, DefaultClassifyConfig())
	require.NoError(t, err)

	// testSender lost 70, testTreasury lost 30: the heuristic attributes the
	// deposit to the largest opposite-sign delta.
	assert.Equal(t, KindTokenDeposit, txn.Kind)
	assert.Equal(t, testSender.String(), txn.From)
	assert.InDelta(t, 100.0, txn.Amount, 1e-9)
}

func TestClassify_MissingMeta(t *testing.T) {
	txn, err := Classify(testWallet, makeSignature(t, false), &rpc.GetTransactionResult{}, DefaultClassifyConfig())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
	// The transaction is still usable as an unclassified history entry.
	require.NotNil(t, txn)
	assert.Equal(t, KindUnclassified, txn.Kind)
}
