package core

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEthClient struct {
	callContract       func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	pendingNonceAt     func(ctx context.Context, account common.Address) (uint64, error)
	suggestGasTipCap   func(ctx context.Context) (*big.Int, error)
	headerByNumber     func(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	estimateGas        func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	sendTransaction    func(ctx context.Context, tx *ethtypes.Transaction) error
	transactionReceipt func(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

func (m *mockEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if m.callContract != nil {
		return m.callContract(ctx, msg, blockNumber)
	}
	return nil, nil
}

func (m *mockEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if m.pendingNonceAt != nil {
		return m.pendingNonceAt(ctx, account)
	}
	return 0, nil
}

func (m *mockEthClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if m.suggestGasTipCap != nil {
		return m.suggestGasTipCap(ctx)
	}
	return big.NewInt(1000000000), nil
}

func (m *mockEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	if m.headerByNumber != nil {
		return m.headerByNumber(ctx, number)
	}
	return &ethtypes.Header{
		BaseFee: big.NewInt(20000000000),
	}, nil
}

func (m *mockEthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if m.estimateGas != nil {
		return m.estimateGas(ctx, msg)
	}
	return 21000, nil
}

func (m *mockEthClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if m.sendTransaction != nil {
		return m.sendTransaction(ctx, tx)
	}
	return nil
}

func (m *mockEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	if m.transactionReceipt != nil {
		return m.transactionReceipt(ctx, txHash)
	}
	return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: txHash}, nil
}

func TestEVMChainSimulateAndSubmit(t *testing.T) {
	key, address := generateKey(t)
	token := common.HexToAddress(testToken)
	nonce := [32]byte{9}
	sig := make([]byte, 65)

	var sent *ethtypes.Transaction
	var simulated bool
	client := &mockEthClient{
		callContract: func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			simulated = true
			assert.Equal(t, address, msg.From)
			return nil, nil
		},
		pendingNonceAt: func(_ context.Context, account common.Address) (uint64, error) {
			assert.Equal(t, address, account)
			return 7, nil
		},
		sendTransaction: func(_ context.Context, tx *ethtypes.Transaction) error {
			sent = tx
			return nil
		},
	}

	chain := NewEVMChain(client, 84532, key)
	hash, err := chain.SimulateAndSubmit(context.Background(), token, DirectABI, "transferWithAuthorization",
		address, common.HexToAddress(testPayTo), big.NewInt(1000), big.NewInt(0), big.NewInt(1900000000), nonce, sig)
	require.NoError(t, err)
	require.True(t, simulated)
	require.NotNil(t, sent)

	assert.Equal(t, sent.Hash(), hash)
	assert.Equal(t, uint64(7), sent.Nonce())
	assert.Equal(t, uint64(21000*120/100), sent.Gas())
	assert.Equal(t, big.NewInt(41000000000), sent.GasFeeCap())
	assert.Equal(t, big.NewInt(1000000000), sent.GasTipCap())
	assert.Equal(t, token, *sent.To())
	assert.Equal(t, big.NewInt(84532), sent.ChainId())

	signer, err := ethtypes.Sender(ethtypes.NewLondonSigner(big.NewInt(84532)), sent)
	require.NoError(t, err)
	assert.Equal(t, address, signer)

	method, err := DirectABI.MethodById(sent.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "transferWithAuthorization", method.Name)
}

func TestEVMChainSimulationRevertSendsNothing(t *testing.T) {
	key, _ := generateKey(t)
	client := &mockEthClient{
		callContract: func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
			return nil, errors.New("execution reverted: FiatTokenV2: authorization is used or canceled")
		},
		sendTransaction: func(context.Context, *ethtypes.Transaction) error {
			t.Fatal("transaction must not be sent after a failed simulation")
			return nil
		},
	}

	chain := NewEVMChain(client, 84532, key)
	_, err := chain.SimulateAndSubmit(context.Background(), common.HexToAddress(testToken), DirectABI, "authorizationState",
		common.HexToAddress(testPayTo), [32]byte{})
	assert.ErrorContains(t, err, "authorization is used")
}

func TestEVMChainSendErrorKeepsHash(t *testing.T) {
	key, address := generateKey(t)

	var sent *ethtypes.Transaction
	client := &mockEthClient{
		sendTransaction: func(_ context.Context, tx *ethtypes.Transaction) error {
			sent = tx
			return context.DeadlineExceeded
		},
	}

	chain := NewEVMChain(client, 84532, key)
	hash, err := chain.SimulateAndSubmit(context.Background(), common.HexToAddress(testToken), DirectABI, "transferWithAuthorization",
		address, common.HexToAddress(testPayTo), big.NewInt(1000), big.NewInt(0), big.NewInt(1900000000), [32]byte{1}, make([]byte, 65))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, sent)
	assert.Equal(t, sent.Hash(), hash)
	assert.NotEqual(t, common.Hash{}, hash)
}

func TestEVMChainMissingBaseFee(t *testing.T) {
	key, _ := generateKey(t)
	client := &mockEthClient{
		headerByNumber: func(context.Context, *big.Int) (*ethtypes.Header, error) {
			return &ethtypes.Header{}, nil
		},
	}

	chain := NewEVMChain(client, 84532, key)
	_, err := chain.SimulateAndSubmit(context.Background(), common.HexToAddress(testToken), DirectABI, "authorizationState",
		common.HexToAddress(testPayTo), [32]byte{})
	assert.ErrorContains(t, err, "base fee")
}

func TestEVMChainReadContract(t *testing.T) {
	encoded, err := DirectABI.Methods["authorizationState"].Outputs.Pack(true)
	require.NoError(t, err)

	client := &mockEthClient{
		callContract: func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
			method, err := DirectABI.MethodById(msg.Data[:4])
			require.NoError(t, err)
			assert.Equal(t, "authorizationState", method.Name)
			return encoded, nil
		},
	}

	chain := NewEVMChain(client, 84532, nil)
	out, err := chain.ReadContract(context.Background(), common.HexToAddress(testToken), DirectABI, "authorizationState",
		common.HexToAddress(testPayTo), [32]byte{1})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, true, out[0])
}

func TestEVMChainWaitForReceipt(t *testing.T) {
	t.Run("polls until mined", func(t *testing.T) {
		calls := 0
		client := &mockEthClient{
			transactionReceipt: func(_ context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
				calls++
				if calls < 3 {
					return nil, ethereum.NotFound
				}
				return &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, TxHash: txHash}, nil
			},
		}
		chain := NewEVMChain(client, 84532, nil)
		chain.PollInterval = time.Millisecond

		receipt, err := chain.WaitForReceipt(context.Background(), common.Hash{1})
		require.NoError(t, err)
		assert.Equal(t, common.Hash{1}, receipt.TxHash)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		client := &mockEthClient{
			transactionReceipt: func(context.Context, common.Hash) (*ethtypes.Receipt, error) {
				return nil, ethereum.NotFound
			},
		}
		chain := NewEVMChain(client, 84532, nil)
		chain.PollInterval = time.Millisecond

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := chain.WaitForReceipt(ctx, common.Hash{1})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("returns rpc errors", func(t *testing.T) {
		client := &mockEthClient{
			transactionReceipt: func(context.Context, common.Hash) (*ethtypes.Receipt, error) {
				return nil, errors.New("connection refused")
			},
		}
		chain := NewEVMChain(client, 84532, nil)
		_, err := chain.WaitForReceipt(context.Background(), common.Hash{1})
		assert.ErrorContains(t, err, "connection refused")
	})
}
