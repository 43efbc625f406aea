package ledger

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ChannelID derives a channel id as keccak256(sender ‖ receiver ‖ seed), the
// solidity-packed encoding of (address, address, string).
func ChannelID(sender, receiver common.Address, seed string) common.Hash {
	return crypto.Keccak256Hash(sender.Bytes(), receiver.Bytes(), []byte(seed))
}

// PaymentDigest is keccak256(channelID ‖ uint256(amount) ‖ uint256(nonce)). Senders sign
// it as a personal message.
func PaymentDigest(channelID common.Hash, amount *big.Int, nonce uint64) []byte {
	return crypto.Keccak256(
		channelID.Bytes(),
		common.LeftPadBytes(amount.Bytes(), 32),
		common.LeftPadBytes(new(big.Int).SetUint64(nonce).Bytes(), 32),
	)
}

// SignPayment signs a channel payment and returns the 0x-encoded signature.
func SignPayment(key *ecdsa.PrivateKey, channelID common.Hash, amount *big.Int, nonce uint64) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(PaymentDigest(channelID, amount, nonce)), key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// VerifyPayment reports whether signature was produced by signer over the payment.
func VerifyPayment(channelID common.Hash, amount *big.Int, nonce uint64, signature string, signer common.Address) bool {
	if amount == nil || amount.Sign() < 0 || amount.BitLen() > 256 {
		return false
	}

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return false
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubkey, err := crypto.SigToPub(accounts.TextHash(PaymentDigest(channelID, amount, nonce)), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pubkey) == signer
}
