package types

// Scheme is the scheme enum.
type Scheme string

const (
	SchemeExact Scheme = "exact"
	SchemeUpto  Scheme = "upto"
)

// Network is the network enum.
type Network string

const (
	NetworkBaseSepolia        Network = "base-sepolia"
	NetworkSkaleEuropaTestnet Network = "skale-europa-testnet"
	NetworkSepolia            Network = "sepolia"
)

// PaymentType is the discriminant carried in the "type" field of an authorization.
type PaymentType string

const (
	PaymentTypeEIP3009          PaymentType = "eip3009"
	PaymentTypeEIP3009Forwarder PaymentType = "eip3009-forwarder"
)

// Mode is the verification mode reported back to callers.
type Mode string

const (
	ModeDirect    Mode = "direct"
	ModeForwarder Mode = "forwarder"
	ModeChannel   Mode = "channel"
)

// InvalidReason is the invalid reason enum.
type InvalidReason string

const (
	InvalidReasonInvalidPaymentPayload               InvalidReason = "invalid_payment_payload"
	InvalidReasonInvalidNetwork                      InvalidReason = "invalid_network"
	InvalidReasonInvalidAuthorizationTimeWindow      InvalidReason = "invalid_authorization_time_window"
	InvalidReasonInvalidAuthorizationValidAfter      InvalidReason = "invalid_authorization_valid_after"
	InvalidReasonInvalidAuthorizationValidBefore     InvalidReason = "invalid_authorization_valid_before"
	InvalidReasonInvalidAuthorizationValue           InvalidReason = "invalid_authorization_value"
	InvalidReasonInvalidAuthorizationFromAddress     InvalidReason = "invalid_authorization_from_address"
	InvalidReasonInvalidAuthorizationToAddress       InvalidReason = "invalid_authorization_to_address"
	InvalidReasonInvalidVerifyingContract            InvalidReason = "invalid_verifying_contract"
	InvalidReasonInvalidAuthorizationNonce           InvalidReason = "invalid_authorization_nonce"
	InvalidReasonInvalidAuthorizationNonceLength     InvalidReason = "invalid_authorization_nonce_length"
	InvalidReasonInvalidTypedData                    InvalidReason = "invalid_typed_data"
	InvalidReasonInvalidAuthorizationSignature       InvalidReason = "invalid_authorization_signature"
	InvalidReasonInvalidAuthorizationSignatureLength InvalidReason = "invalid_authorization_signature_length"
	InvalidReasonInvalidAuthorizationPubkey          InvalidReason = "invalid_authorization_pubkey"
	InvalidReasonInvalidAuthorizationSenderMismatch  InvalidReason = "invalid_authorization_sender_mismatch"
	InvalidReasonChannelNotFound                     InvalidReason = "channel_not_found"
	InvalidReasonChannelExpired                      InvalidReason = "channel_expired"
	InvalidReasonNonceReplay                         InvalidReason = "nonce_replay"
	InvalidReasonInsufficientBalance                 InvalidReason = "insufficient_balance"
	InvalidReasonInvalidChannelSignature             InvalidReason = "invalid_channel_signature"
	InvalidReasonInvalidChannelAmount                InvalidReason = "invalid_channel_amount"
)

// ErrorReason is the error reason enum.
type ErrorReason string

const (
	ErrorReasonInvalidPaymentPayload         ErrorReason = "invalid_payment_payload"
	ErrorReasonInvalidScheme                 ErrorReason = "invalid_scheme"
	ErrorReasonInvalidNetwork                ErrorReason = "invalid_network"
	ErrorReasonInvalidAuthorizationSignature ErrorReason = "invalid_authorization_signature"
	ErrorReasonMissingSettlementKey          ErrorReason = "missing-settlement-key"
	ErrorReasonAuthorizationUsed             ErrorReason = "authorization_already_used"
	ErrorReasonTransactionReverted           ErrorReason = "transaction_reverted"
	ErrorReasonSettlementFailed              ErrorReason = "settlement_failed"
	ErrorReasonSettlementIndeterminate       ErrorReason = "settlement_indeterminate"
)
