package core

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/raid-guild/x402-gateway-go/types"
	"github.com/raid-guild/x402-gateway-go/utils"
)

var (
	ErrMissingSettlementKey    = errors.New("missing-settlement-key")
	ErrAuthorizationUsed       = errors.New("authorization already used")
	ErrTransactionReverted     = errors.New("transaction reverted")
	ErrSettlementFailed        = errors.New("settlement failed")
	ErrSettlementIndeterminate = errors.New("settlement indeterminate")
)

// DefaultConfirmationTimeout bounds the receipt wait when none is configured.
const DefaultConfirmationTimeout = 60 * time.Second

// Token contract, signature passed as bytes.
const directContractJSON = `[{
	"type": "function",
	"name": "transferWithAuthorization",
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "validAfter", "type": "uint256"},
		{"name": "validBefore", "type": "uint256"},
		{"name": "nonce", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": [],
	"stateMutability": "nonpayable"
}, {
	"type": "function",
	"name": "authorizationState",
	"inputs": [
		{"name": "authorizer", "type": "address"},
		{"name": "nonce", "type": "bytes32"}
	],
	"outputs": [{"name": "", "type": "bool"}],
	"stateMutability": "view"
}]`

// Forwarder contract, signature split into v, r and s.
const forwarderContractJSON = `[{
	"type": "function",
	"name": "transferWithAuthorization",
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "validAfter", "type": "uint256"},
		{"name": "validBefore", "type": "uint256"},
		{"name": "nonce", "type": "bytes32"},
		{"name": "v", "type": "uint8"},
		{"name": "r", "type": "bytes32"},
		{"name": "s", "type": "bytes32"}
	],
	"outputs": [],
	"stateMutability": "nonpayable"
}]`

var (
	DirectABI    = mustParseABI(directContractJSON)
	ForwarderABI = mustParseABI(forwarderContractJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse contract ABI: %v", err))
	}
	return parsed
}

// EngineConfig are the configuration parameters for the settlement engine.
type EngineConfig struct {
	PrivateKey          string
	RPCURLs             map[types.Network]string
	ConfirmationTimeout time.Duration
}

// Settlement is a transaction that was submitted on-chain.
type Settlement struct {
	Network types.Network
	TxHash  common.Hash
	Receipt *ethtypes.Receipt
}

// Engine submits verified transfer authorizations on-chain.
type Engine struct {
	key     *ecdsa.PrivateKey
	rpcURLs map[types.Network]string
	timeout time.Duration

	mu     sync.Mutex
	chains map[types.Network]Chain

	// Dial opens the chain for a network. It can be overridden in tests.
	Dial func(c ChainConfig, rpcURL string, key *ecdsa.PrivateKey) (Chain, error)
}

// NewEngine creates a settlement engine. An empty private key yields an engine that
// refuses to settle.
func NewEngine(c EngineConfig) (*Engine, error) {
	e := &Engine{
		rpcURLs: make(map[types.Network]string, len(c.RPCURLs)),
		timeout: c.ConfirmationTimeout,
		chains:  make(map[types.Network]Chain),
		Dial:    dialEVMChain,
	}
	for network, url := range c.RPCURLs {
		e.rpcURLs[network] = url
	}
	if e.timeout <= 0 {
		e.timeout = DefaultConfirmationTimeout
	}

	if c.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x"))
		if err != nil {
			return nil, utils.NewConfigurationError(fmt.Errorf("parse settlement private key: %w", err))
		}
		e.key = key
	}
	return e, nil
}

// HasKey reports whether a settlement key is configured.
func (e *Engine) HasKey() bool {
	return e.key != nil
}

// Address returns the settlement account, or the zero address without a key.
func (e *Engine) Address() common.Address {
	if e.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(e.key.PublicKey)
}

// SetChain installs the chain used for a network instead of dialing one.
func (e *Engine) SetChain(network types.Network, chain Chain) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chains[network] = chain
}

// Settle submits the authorization on its chain and waits for the receipt. A
// non-empty network must agree with the authorization's chain id. Exactly one
// transaction is submitted per call; a failure after submission is reported as
// ErrSettlementIndeterminate with the transaction hash in the returned Settlement.
func (e *Engine) Settle(ctx context.Context, auth types.Authorization, network types.Network) (Settlement, error) {
	if e.key == nil {
		return Settlement{}, utils.NewConfigurationError(ErrMissingSettlementKey)
	}

	switch a := auth.(type) {
	case types.DirectAuthorization:
		return e.settleDirect(ctx, a, network)
	case types.ForwarderAuthorization:
		return e.settleForwarder(ctx, a, network)
	case types.ChannelPayment:
		return Settlement{}, utils.NewValidationError(errors.New("channel payments are settled through the channel ledger"))
	default:
		return Settlement{}, utils.NewValidationError(fmt.Errorf("unsupported authorization %T", auth))
	}
}

func (e *Engine) settleDirect(ctx context.Context, a types.DirectAuthorization, network types.Network) (Settlement, error) {
	cfg, chain, err := e.resolve(a.ChainID, network)
	if err != nil {
		return Settlement{}, err
	}

	if !common.IsHexAddress(a.VerifyingContract) {
		return Settlement{}, utils.NewValidationError(fmt.Errorf("invalid verifying contract %q", a.VerifyingContract))
	}
	token := common.HexToAddress(a.VerifyingContract)

	args, err := parseTransferArgs(a.From, a.To, a.Value, a.ValidAfter, a.ValidBefore)
	if err != nil {
		return Settlement{}, err
	}

	nonce, reason := parseBytes32Nonce(a.Nonce)
	if reason != "" {
		return Settlement{}, utils.NewValidationError(fmt.Errorf("invalid nonce: %s", reason))
	}

	signature, err := parseSignature(a.Signature)
	if err != nil {
		return Settlement{}, err
	}

	// Check the authorization has not already been consumed on the token
	state, err := chain.ReadContract(ctx, token, DirectABI, "authorizationState", args.from, nonce)
	if err != nil {
		return Settlement{}, utils.NewOnchainError(fmt.Errorf("%w: read authorization state: %v", ErrSettlementFailed, err))
	}
	if len(state) == 1 {
		if used, ok := state[0].(bool); ok && used {
			return Settlement{}, utils.NewValidationError(ErrAuthorizationUsed)
		}
	}

	return e.submit(ctx, cfg, chain, token, DirectABI,
		args.from, args.to, args.value, args.validAfter, args.validBefore, nonce, signature)
}

func (e *Engine) settleForwarder(ctx context.Context, a types.ForwarderAuthorization, network types.Network) (Settlement, error) {
	cfg, chain, err := e.resolve(a.ChainID, network)
	if err != nil {
		return Settlement{}, err
	}

	if !common.IsHexAddress(a.ForwarderAddress) {
		return Settlement{}, utils.NewValidationError(fmt.Errorf("invalid forwarder address %q", a.ForwarderAddress))
	}
	forwarder := common.HexToAddress(a.ForwarderAddress)

	args, err := parseTransferArgs(a.From, a.To, a.Value, a.ValidAfter, a.ValidBefore)
	if err != nil {
		return Settlement{}, err
	}

	nonce, err := NormalizeForwarderNonce(a.Nonce)
	if err != nil {
		return Settlement{}, utils.NewValidationError(err)
	}

	signature, err := parseSignature(a.Signature)
	if err != nil {
		return Settlement{}, err
	}

	// Extract R, S, and V from the signature
	var r, s [32]byte
	copy(r[:], signature[0:32])
	copy(s[:], signature[32:64])
	v := signature[64]

	// Convert the V value of the signature if necessary (0/1 → 27/28)
	if v == 0 || v == 1 {
		v += 27
	}

	return e.submit(ctx, cfg, chain, forwarder, ForwarderABI,
		args.from, args.to, args.value, args.validAfter, args.validBefore, nonce, v, r, s)
}

func (e *Engine) submit(ctx context.Context, cfg ChainConfig, chain Chain, address common.Address, contractABI abi.ABI, args ...any) (Settlement, error) {
	txHash, err := chain.SimulateAndSubmit(ctx, address, contractABI, "transferWithAuthorization", args...)
	if err != nil {
		if txHash == (common.Hash{}) || sendRejected(err) {
			return Settlement{}, utils.NewOnchainError(fmt.Errorf("%w: %v", ErrSettlementFailed, err))
		}
		// The signed transaction may be in the mempool
		return Settlement{Network: cfg.Network, TxHash: txHash},
			utils.NewIndeterminateError(fmt.Errorf("%w: tx %s: %v", ErrSettlementIndeterminate, txHash.Hex(), err))
	}
	settlement := Settlement{Network: cfg.Network, TxHash: txHash}

	waitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	receipt, err := chain.WaitForReceipt(waitCtx, txHash)
	if err != nil {
		return settlement, utils.NewIndeterminateError(fmt.Errorf("%w: tx %s: %v", ErrSettlementIndeterminate, txHash.Hex(), err))
	}
	settlement.Receipt = receipt

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return settlement, utils.NewOnchainError(fmt.Errorf("%w: tx %s", ErrTransactionReverted, txHash.Hex()))
	}
	return settlement, nil
}

func (e *Engine) resolve(chainID int64, network types.Network) (ChainConfig, Chain, error) {
	cfg, ok := ChainByID(chainID)
	if !ok {
		return ChainConfig{}, nil, utils.NewConfigurationError(fmt.Errorf("unsupported chain id %d", chainID))
	}
	if network != "" && network != cfg.Network {
		return ChainConfig{}, nil, utils.NewValidationError(fmt.Errorf("chain id %d is not network %s", chainID, network))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if chain, ok := e.chains[cfg.Network]; ok {
		return cfg, chain, nil
	}

	rpcURL := e.rpcURLs[cfg.Network]
	if rpcURL == "" {
		return ChainConfig{}, nil, utils.NewConfigurationError(fmt.Errorf("no RPC URL configured for %s", cfg.Network))
	}

	chain, err := e.Dial(cfg, rpcURL, e.key)
	if err != nil {
		return ChainConfig{}, nil, utils.NewOnchainError(fmt.Errorf("dial %s: %w", cfg.Network, err))
	}
	e.chains[cfg.Network] = chain
	return cfg, chain, nil
}

// sendRejected reports whether a send failed with a JSON-RPC error answer, which
// means the node refused the transaction. Timeouts and transport errors do not.
func sendRejected(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

func dialEVMChain(c ChainConfig, rpcURL string, key *ecdsa.PrivateKey) (Chain, error) {
	client, err := NewEthClient(rpcURL)
	if err != nil {
		return nil, err
	}
	return NewEVMChain(client, c.ChainID, key), nil
}

type transferArgs struct {
	from        common.Address
	to          common.Address
	value       *big.Int
	validAfter  *big.Int
	validBefore *big.Int
}

func parseTransferArgs(from, to, value, validAfter, validBefore string) (transferArgs, error) {
	if !common.IsHexAddress(from) {
		return transferArgs{}, utils.NewValidationError(fmt.Errorf("invalid from address %q", from))
	}
	if !common.IsHexAddress(to) {
		return transferArgs{}, utils.NewValidationError(fmt.Errorf("invalid to address %q", to))
	}
	args := transferArgs{from: common.HexToAddress(from), to: common.HexToAddress(to)}

	var ok bool
	if args.value, ok = parseUint256(value); !ok {
		return transferArgs{}, utils.NewValidationError(fmt.Errorf("invalid value %q", value))
	}
	if args.validAfter, ok = parseUint256(validAfter); !ok {
		return transferArgs{}, utils.NewValidationError(fmt.Errorf("invalid validAfter %q", validAfter))
	}
	if args.validBefore, ok = parseUint256(validBefore); !ok {
		return transferArgs{}, utils.NewValidationError(fmt.Errorf("invalid validBefore %q", validBefore))
	}
	return args, nil
}

func parseSignature(sig string) ([]byte, error) {
	signature, err := common.ParseHexOrString(sig)
	if err != nil || !strings.HasPrefix(sig, "0x") {
		return nil, utils.NewValidationError(fmt.Errorf("invalid signature %q", sig))
	}
	if len(signature) != 65 {
		return nil, utils.NewValidationError(fmt.Errorf("signature is %d bytes, want 65", len(signature)))
	}
	return signature, nil
}
