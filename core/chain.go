package core

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClientInterface is the subset of the Ethereum RPC client used for settlement.
type EthClientInterface interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// NewEthClient creates a new Ethereum client. This function can be overridden in tests.
var NewEthClient = func(rpcURL string) (EthClientInterface, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Chain is the blockchain capability the settlement engine submits through.
type Chain interface {
	ReadContract(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error)
	SimulateAndSubmit(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...any) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// DefaultReceiptPollInterval is how often WaitForReceipt asks the node for a receipt.
const DefaultReceiptPollInterval = 2 * time.Second

// EVMChain implements Chain over an Ethereum JSON-RPC client, signing with one key.
type EVMChain struct {
	client       EthClientInterface
	chainID      *big.Int
	key          *ecdsa.PrivateKey
	PollInterval time.Duration
}

// NewEVMChain returns a Chain submitting transactions signed by key on chainID.
func NewEVMChain(client EthClientInterface, chainID int64, key *ecdsa.PrivateKey) *EVMChain {
	return &EVMChain{
		client:       client,
		chainID:      big.NewInt(chainID),
		key:          key,
		PollInterval: DefaultReceiptPollInterval,
	}
}

// ReadContract performs a read-only eth_call and unpacks the outputs of method.
func (c *EVMChain) ReadContract(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// SimulateAndSubmit simulates the call with eth_call, then signs and sends it as an
// EIP-1559 transaction. It sends at most one transaction. A non-zero hash returned
// with an error means the signed transaction was handed to the node.
func (c *EVMChain) SimulateAndSubmit(ctx context.Context, address common.Address, contractABI abi.ABI, method string, args ...any) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, errors.New("no settlement key")
	}

	// Pack the function call data
	txData, err := contractABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	// Get the settlement address
	from := crypto.PubkeyToAddress(c.key.PublicKey)
	msg := ethereum.CallMsg{From: from, To: &address, Data: txData}

	// Simulate the call so a revert surfaces before anything is broadcast
	if _, err := c.client.CallContract(ctx, msg, nil); err != nil {
		return common.Hash{}, fmt.Errorf("simulate %s: %w", method, err)
	}

	// Get the pending nonce for the settlement account
	txNonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get pending nonce: %w", err)
	}

	// Get the suggested gas tip cap
	gasTipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas tip cap: %w", err)
	}

	// Get the latest block header to get the base fee
	blockHeader, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get block header: %w", err)
	}
	if blockHeader.BaseFee == nil {
		return common.Hash{}, errors.New("block header missing base fee: network may not support EIP-1559")
	}

	// Determine the gas fee cap (2x base fee + gas tip cap)
	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(blockHeader.BaseFee, big.NewInt(2)),
		gasTipCap,
	)

	gasLimit, err := c.client.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	// Add 20% buffer to the gas estimate
	gasLimit = gasLimit * 120 / 100

	transaction := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     txNonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &address,
		Value:     big.NewInt(0),
		Data:      txData,
	})

	signedTx, err := ethtypes.SignTx(transaction, ethtypes.NewLondonSigner(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	// The hash is returned with a send error, the transaction may still have reached the node
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return signedTx.Hash(), fmt.Errorf("send transaction: %w", err)
	}

	return signedTx.Hash(), nil
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
func (c *EVMChain) WaitForReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultReceiptPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("get receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
