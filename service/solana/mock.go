package solana

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MockRPCClient implements RPCClient with configurable function fields
// for testing. Unset fields return zero values.
type MockRPCClient struct {
	GetSignaturesForAddressFunc func(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransactionFunc          func(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetBalanceFunc              func(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetSlotFunc                 func(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
}

func (m *MockRPCClient) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	if m.GetSignaturesForAddressFunc != nil {
		return m.GetSignaturesForAddressFunc(ctx, address, opts)
	}
	return nil, nil
}

func (m *MockRPCClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if m.GetTransactionFunc != nil {
		return m.GetTransactionFunc(ctx, signature, opts)
	}
	return nil, nil
}

func (m *MockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, account, commitment)
	}
	return &rpc.GetBalanceResult{}, nil
}

func (m *MockRPCClient) GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	if m.GetSlotFunc != nil {
		return m.GetSlotFunc(ctx, commitment)
	}
	return 0, nil
}
