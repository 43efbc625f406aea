package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/raid-guild/x402-gateway-go/utils"
)

// Authorization is a signed payment presented by a client. It is one of
// DirectAuthorization, ForwarderAuthorization or ChannelPayment.
type Authorization interface {
	Mode() Mode
	isAuthorization()
}

// DirectAuthorization is an EIP-3009 transfer authorization signed against the token contract.
type DirectAuthorization struct {
	From              string `json:"from"`
	To                string `json:"to"`
	Value             string `json:"value"`
	ValidAfter        string `json:"validAfter"`
	ValidBefore       string `json:"validBefore"`
	Nonce             string `json:"nonce"`
	Signature         string `json:"signature"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
	Name              string `json:"name,omitempty"`
	Version           string `json:"version,omitempty"`
}

// ForwarderAuthorization is an EIP-3009 transfer authorization signed against a forwarder
// contract that relays it to the underlying token.
type ForwarderAuthorization struct {
	From             string `json:"from"`
	To               string `json:"to"`
	Value            string `json:"value"`
	ValidAfter       string `json:"validAfter"`
	ValidBefore      string `json:"validBefore"`
	Nonce            string `json:"nonce"`
	Signature        string `json:"signature"`
	ChainID          int64  `json:"chainId"`
	ForwarderAddress string `json:"forwarderAddress"`
	Token            string `json:"token"`
	Name             string `json:"name,omitempty"`
	Version          string `json:"version,omitempty"`
}

// ChannelPayment is a legacy off-chain payment against an open payment channel.
type ChannelPayment struct {
	ChannelID string `json:"channelId"`
	Amount    string `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

func (DirectAuthorization) Mode() Mode    { return ModeDirect }
func (ForwarderAuthorization) Mode() Mode { return ModeForwarder }
func (ChannelPayment) Mode() Mode         { return ModeChannel }

func (DirectAuthorization) isAuthorization()    {}
func (ForwarderAuthorization) isAuthorization() {}
func (ChannelPayment) isAuthorization()         {}

// MarshalJSON adds the "eip3009" discriminant.
func (a DirectAuthorization) MarshalJSON() ([]byte, error) {
	type alias DirectAuthorization
	return json.Marshal(struct {
		Type PaymentType `json:"type"`
		alias
	}{PaymentTypeEIP3009, alias(a)})
}

// MarshalJSON adds the "eip3009-forwarder" discriminant.
func (a ForwarderAuthorization) MarshalJSON() ([]byte, error) {
	type alias ForwarderAuthorization
	return json.Marshal(struct {
		Type PaymentType `json:"type"`
		alias
	}{PaymentTypeEIP3009Forwarder, alias(a)})
}

// ErrInvalidPayload is returned for any payload that does not match one of the accepted shapes.
var ErrInvalidPayload = errors.New("invalid payment payload")

const authorizationSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"definitions": {
		"uint": {"type": "string", "pattern": "^[0-9]+$"},
		"hex": {"type": "string", "pattern": "^0x[0-9a-fA-F]+$"}
	},
	"oneOf": [
		{
			"type": "object",
			"required": ["channelId", "amount", "nonce", "signature"],
			"not": {"required": ["type"]},
			"properties": {
				"channelId": {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"},
				"amount": {"$ref": "#/definitions/uint"},
				"nonce": {"type": "integer", "minimum": 0},
				"signature": {"$ref": "#/definitions/hex"}
			}
		},
		{
			"type": "object",
			"required": ["type", "from", "to", "value", "validAfter", "validBefore", "nonce", "signature", "chainId", "verifyingContract"],
			"properties": {
				"type": {"enum": ["eip3009"]},
				"from": {"type": "string"},
				"to": {"type": "string"},
				"value": {"$ref": "#/definitions/uint"},
				"validAfter": {"$ref": "#/definitions/uint"},
				"validBefore": {"$ref": "#/definitions/uint"},
				"nonce": {"type": "string"},
				"signature": {"type": "string"},
				"chainId": {"type": "integer", "minimum": 1},
				"verifyingContract": {"type": "string"},
				"name": {"type": "string"},
				"version": {"type": "string"}
			}
		},
		{
			"type": "object",
			"required": ["type", "from", "to", "value", "validAfter", "validBefore", "nonce", "signature", "chainId", "forwarderAddress", "token"],
			"properties": {
				"type": {"enum": ["eip3009-forwarder"]},
				"from": {"type": "string"},
				"to": {"type": "string"},
				"value": {"$ref": "#/definitions/uint"},
				"validAfter": {"$ref": "#/definitions/uint"},
				"validBefore": {"$ref": "#/definitions/uint"},
				"nonce": {"type": "string"},
				"signature": {"type": "string"},
				"chainId": {"type": "integer", "minimum": 1},
				"forwarderAddress": {"type": "string"},
				"token": {"type": "string"},
				"name": {"type": "string"},
				"version": {"type": "string"}
			}
		}
	]
}`

var authorizationSchema = mustCompileSchema(authorizationSchemaJSON)

func mustCompileSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("compile authorization schema: %v", err))
	}
	return schema
}

// AuthorizationSchema returns the JSON Schema accepted by ParseAuthorization.
func AuthorizationSchema() string {
	return authorizationSchemaJSON
}

// ParseAuthorization validates data against the accepted union of authorization shapes
// and decodes it into the variant named by its "type" discriminant. Payloads without a
// discriminant are legacy channel payments.
func ParseAuthorization(data []byte) (Authorization, error) {

	// Validate the raw document against the union schema
	result, err := authorizationSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, utils.NewValidationError(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return nil, utils.NewValidationError(fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(details, "; ")))
	}

	// Read the discriminant
	var head struct {
		Type *PaymentType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, utils.NewValidationError(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	if head.Type == nil {
		var p ChannelPayment
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, utils.NewValidationError(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
		}
		return p, nil
	}

	switch *head.Type {
	case PaymentTypeEIP3009:
		var a DirectAuthorization
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, utils.NewValidationError(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
		}
		return a, nil
	case PaymentTypeEIP3009Forwarder:
		var a ForwarderAuthorization
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, utils.NewValidationError(fmt.Errorf("%w: %v", ErrInvalidPayload, err))
		}
		return a, nil
	default:
		return nil, utils.NewValidationError(fmt.Errorf("%w: unknown type %q", ErrInvalidPayload, *head.Type))
	}
}
