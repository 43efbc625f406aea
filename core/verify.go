package core

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/raid-guild/x402-gateway-go/types"
)

// Default typed-data domains used when an authorization does not name its own.
const (
	DirectDomainName       = "USD Coin"
	DirectDomainVersion    = "2"
	ForwarderDomainName    = "USDC Forwarder"
	ForwarderDomainVersion = "1"
)

// Domain is the EIP-712 domain a transfer authorization is signed against.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// TransferMessage is the TransferWithAuthorization message.
type TransferMessage struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// VerifyResult is the outcome of a signature check.
type VerifyResult struct {
	Valid  bool
	Reason types.InvalidReason
	Signer common.Address
}

func invalid(reason types.InvalidReason) VerifyResult {
	return VerifyResult{Valid: false, Reason: reason}
}

var transferWithAuthorizationTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// TransferAuthorizationDigest returns the EIP-712 digest
// keccak256(0x19 0x01 ‖ domainSeparator ‖ hashStruct(message)).
func TransferAuthorizationDigest(d Domain, m TransferMessage) (digest []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hash typed data: %v", r)
		}
	}()

	if m.Value == nil || m.ValidAfter == nil || m.ValidBefore == nil {
		return nil, errors.New("hash typed data: missing integer field")
	}

	// Convert the chain ID to hex or decimal
	hexChainID := math.HexOrDecimal256(*big.NewInt(d.ChainID))

	typedData := apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           &hexChainID,
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        m.From.Hex(),
			"to":          m.To.Hex(),
			"value":       m.Value,
			"validAfter":  m.ValidAfter,
			"validBefore": m.ValidBefore,
			"nonce":       m.Nonce,
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}

	rawData := append(append([]byte("\x19\x01"), domainSeparator...), typedDataHash...)
	return crypto.Keccak256(rawData), nil
}

// SignTransferAuthorization signs a transfer authorization the way a wallet does,
// returning a 65-byte signature with v in {27, 28}.
func SignTransferAuthorization(key *ecdsa.PrivateKey, d Domain, m TransferMessage) ([]byte, error) {
	digest, err := TransferAuthorizationDigest(d, m)
	if err != nil {
		return nil, err
	}
	signature, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	signature[64] += 27
	return signature, nil
}

// VerifyDirect checks a direct authorization signed against the token contract.
func VerifyDirect(a types.DirectAuthorization) VerifyResult {

	// Verify the verifying contract is a valid address
	if !common.IsHexAddress(a.VerifyingContract) {
		return invalid(types.InvalidReasonInvalidVerifyingContract)
	}

	// Decode the nonce, which must already be 32 bytes
	nonce, reason := parseBytes32Nonce(a.Nonce)
	if reason != "" {
		return invalid(reason)
	}

	domain := Domain{
		Name:              valueOr(a.Name, DirectDomainName),
		Version:           valueOr(a.Version, DirectDomainVersion),
		ChainID:           a.ChainID,
		VerifyingContract: common.HexToAddress(a.VerifyingContract),
	}

	return verifyTransferAuthorization(domain, transferFields{
		from:        a.From,
		to:          a.To,
		value:       a.Value,
		validAfter:  a.ValidAfter,
		validBefore: a.ValidBefore,
		signature:   a.Signature,
	}, nonce)
}

// VerifyForwarder checks an authorization signed against a forwarder contract.
func VerifyForwarder(a types.ForwarderAuthorization) VerifyResult {

	// Verify the forwarder is a valid address, it is the verifying contract
	if !common.IsHexAddress(a.ForwarderAddress) {
		return invalid(types.InvalidReasonInvalidVerifyingContract)
	}

	// Normalize the numeric nonce to 32 bytes
	nonce, err := NormalizeForwarderNonce(a.Nonce)
	if err != nil {
		return invalid(types.InvalidReasonInvalidAuthorizationNonce)
	}

	domain := Domain{
		Name:              valueOr(a.Name, ForwarderDomainName),
		Version:           valueOr(a.Version, ForwarderDomainVersion),
		ChainID:           a.ChainID,
		VerifyingContract: common.HexToAddress(a.ForwarderAddress),
	}

	return verifyTransferAuthorization(domain, transferFields{
		from:        a.From,
		to:          a.To,
		value:       a.Value,
		validAfter:  a.ValidAfter,
		validBefore: a.ValidBefore,
		signature:   a.Signature,
	}, nonce)
}

// NormalizeForwarderNonce parses a decimal or 0x-prefixed hexadecimal nonce and
// left-pads it to 32 bytes.
func NormalizeForwarderNonce(s string) ([32]byte, error) {
	var out [32]byte

	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = n.SetString(s[2:], 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return out, fmt.Errorf("invalid forwarder nonce %q", s)
	}

	n.FillBytes(out[:])
	return out, nil
}

type transferFields struct {
	from        string
	to          string
	value       string
	validAfter  string
	validBefore string
	signature   string
}

func verifyTransferAuthorization(domain Domain, f transferFields, nonce [32]byte) VerifyResult {

	// Verify the chain is supported
	if _, ok := ChainByID(domain.ChainID); !ok {
		return invalid(types.InvalidReasonInvalidNetwork)
	}

	// Verify authorization from is a valid address
	if !common.IsHexAddress(f.from) {
		return invalid(types.InvalidReasonInvalidAuthorizationFromAddress)
	}
	fromAddress := common.HexToAddress(f.from)

	// Verify authorization to is a valid address
	if !common.IsHexAddress(f.to) {
		return invalid(types.InvalidReasonInvalidAuthorizationToAddress)
	}

	value, ok := parseUint256(f.value)
	if !ok {
		return invalid(types.InvalidReasonInvalidAuthorizationValue)
	}
	validAfter, ok := parseUint256(f.validAfter)
	if !ok {
		return invalid(types.InvalidReasonInvalidAuthorizationValidAfter)
	}
	validBefore, ok := parseUint256(f.validBefore)
	if !ok {
		return invalid(types.InvalidReasonInvalidAuthorizationValidBefore)
	}

	digest, err := TransferAuthorizationDigest(domain, TransferMessage{
		From:        fromAddress,
		To:          common.HexToAddress(f.to),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	})
	if err != nil {
		return invalid(types.InvalidReasonInvalidTypedData)
	}

	sender, reason := recoverSigner(digest, f.signature)
	if reason != "" {
		return invalid(reason)
	}

	// Verify the sender matches the authorization from
	if sender != fromAddress {
		return invalid(types.InvalidReasonInvalidAuthorizationSenderMismatch)
	}

	return VerifyResult{Valid: true, Signer: sender}
}

// recoverSigner recovers the address that produced a 65-byte signature over digest.
func recoverSigner(digest []byte, sig string) (common.Address, types.InvalidReason) {

	// Parse the payload signature
	signature, err := common.ParseHexOrString(sig)
	if err != nil || !strings.HasPrefix(sig, "0x") {
		return common.Address{}, types.InvalidReasonInvalidAuthorizationSignature
	}

	// Verify the signature is exactly 65 bytes (32 bytes r + 32 bytes s + 1 byte v)
	if len(signature) != 65 {
		return common.Address{}, types.InvalidReasonInvalidAuthorizationSignatureLength
	}

	// Convert the V value of the signature if necessary (27/28 → 0/1)
	if signature[64] == 27 || signature[64] == 28 {
		signature[64] -= 27
	}

	pubkey, err := crypto.Ecrecover(digest, signature)
	if err != nil {
		return common.Address{}, types.InvalidReasonInvalidAuthorizationSignature
	}

	recoveredPubkey, err := crypto.UnmarshalPubkey(pubkey)
	if err != nil {
		return common.Address{}, types.InvalidReasonInvalidAuthorizationPubkey
	}

	return crypto.PubkeyToAddress(*recoveredPubkey), ""
}

func parseBytes32Nonce(s string) ([32]byte, types.InvalidReason) {
	var nonce [32]byte

	// Decode the nonce from hex to bytes
	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nonce, types.InvalidReasonInvalidAuthorizationNonce
	}

	// Validate the nonce is exactly 32 bytes
	if len(nonceBytes) != 32 {
		return nonce, types.InvalidReasonInvalidAuthorizationNonceLength
	}

	copy(nonce[:], nonceBytes)
	return nonce, ""
}

func parseUint256(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return nil, false
	}
	return n, true
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
