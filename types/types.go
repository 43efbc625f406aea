package types

import "encoding/json"

// VerifyResponse is the response of the verify operation.
type VerifyResponse struct {
	Valid  bool          `json:"valid"`
	Mode   Mode          `json:"mode,omitempty"`
	Payer  string        `json:"payer,omitempty"`
	Reason InvalidReason `json:"reason,omitempty"`

	// Channel carries the ledger outcome of an accepted channel payment.
	Channel *ChannelReceipt `json:"channel,omitempty"`
}

// ChannelReceipt is the ledger state after an accepted channel payment.
type ChannelReceipt struct {
	ChannelID string `json:"channelId"`
	Amount    string `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Withdrawn string `json:"withdrawn"`
	Remaining string `json:"remaining"`
}

// SettleResponse is the response of the settle operation.
type SettleResponse struct {
	Success bool        `json:"success"`
	Mode    Mode        `json:"mode,omitempty"`
	Network Network     `json:"network,omitempty"`
	TxHash  string      `json:"txHash,omitempty"`
	Error   ErrorReason `json:"error,omitempty"`
	Detail  string      `json:"detail,omitempty"`
}

// Capabilities is the response of the capability advertisement operation.
type Capabilities struct {
	Networks []NetworkCapability `json:"networks"`
	Limits   Limits              `json:"limits"`
}

// NetworkCapability describes one network the facilitator can verify and settle on.
type NetworkCapability struct {
	ID        Network           `json:"id"`
	ChainID   int64             `json:"chainId"`
	Asset     string            `json:"asset"`
	Decimals  int               `json:"decimals"`
	Contracts map[string]string `json:"contracts"`
	Schemes   []Scheme          `json:"schemes"`
	Methods   []PaymentType     `json:"methods"`
}

// Limits are the advertised payment amount bounds in atomic units.
type Limits struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// RouteConfig is the payment configuration of one priced route.
type RouteConfig struct {
	Price       string      `json:"price"`
	Network     Network     `json:"network"`
	Scheme      Scheme      `json:"scheme,omitempty"`
	Asset       string      `json:"asset,omitempty"`
	Description string      `json:"description,omitempty"`
	Extra       *RouteExtra `json:"extra,omitempty"`
}

// RouteExtra carries the typed-data domain hints clients need to sign.
type RouteExtra struct {
	Name              string      `json:"name,omitempty"`
	Version           string      `json:"version,omitempty"`
	VerifyingContract string      `json:"verifyingContract,omitempty"`
	Method            PaymentType `json:"method,omitempty"`
	Token             string      `json:"token,omitempty"`
}

// Challenge is the body of a 402 Payment Required response.
type Challenge struct {
	Version      string          `json:"version"`
	Network      Network         `json:"network"`
	Asset        string          `json:"asset"`
	Scheme       Scheme          `json:"scheme"`
	Price        string          `json:"price"`
	Receiver     string          `json:"receiver"`
	Facilitator  string          `json:"facilitator,omitempty"`
	Timeout      int             `json:"timeout"`
	Resource     string          `json:"resource,omitempty"`
	Description  string          `json:"description,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Extra        *RouteExtra     `json:"extra,omitempty"`
	Reason       string          `json:"reason,omitempty"`
}

// ChannelOpen is the request to open a payment channel.
type ChannelOpen struct {
	Sender         string `json:"sender"`
	Receiver       string `json:"receiver"`
	InitialDeposit string `json:"initialDeposit"`
	Duration       int64  `json:"duration,omitempty"`
}

// ChannelSettlement closes a payment channel at a final amount signed by the sender.
type ChannelSettlement struct {
	ChannelID   string `json:"channelId"`
	FinalAmount string `json:"finalAmount"`
	Nonce       uint64 `json:"nonce"`
	Signature   string `json:"signature"`
}
