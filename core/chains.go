package core

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/raid-guild/x402-gateway-go/types"
)

// ChainConfig is the static configuration of a supported EVM network.
type ChainConfig struct {
	Network   types.Network
	ChainID   int64
	Asset     string
	Decimals  int
	Token     common.Address
	Forwarder common.Address
	Schemes   []types.Scheme
	Methods   []types.PaymentType
}

// HasForwarder reports whether a forwarder contract is deployed on the chain.
func (c ChainConfig) HasForwarder() bool {
	return c.Forwarder != (common.Address{})
}

// Chains lists the networks the facilitator can verify and settle on.
var Chains = []ChainConfig{
	{
		Network:  types.NetworkBaseSepolia,
		ChainID:  84532,
		Asset:    "USDC",
		Decimals: 6,
		Token:    common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		Schemes:  []types.Scheme{types.SchemeExact, types.SchemeUpto},
		Methods:  []types.PaymentType{types.PaymentTypeEIP3009},
	},
	{
		Network:   types.NetworkSkaleEuropaTestnet,
		ChainID:   2046399126,
		Asset:     "USDC",
		Decimals:  6,
		Token:     common.HexToAddress("0x9eAb55199f4481eCD7659540A17Af618766b07C4"),
		Forwarder: common.HexToAddress("0x7779B0d1766e6305E5f8081E3C0CDF58FcA24330"),
		Schemes:   []types.Scheme{types.SchemeExact, types.SchemeUpto},
		Methods:   []types.PaymentType{types.PaymentTypeEIP3009, types.PaymentTypeEIP3009Forwarder},
	},
	{
		Network:  types.NetworkSepolia,
		ChainID:  11155111,
		Asset:    "USDC",
		Decimals: 6,
		Token:    common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
		Schemes:  []types.Scheme{types.SchemeExact},
		Methods:  []types.PaymentType{types.PaymentTypeEIP3009},
	},
}

// ChainByID returns the chain configuration for a chain id.
func ChainByID(chainID int64) (ChainConfig, bool) {
	for _, c := range Chains {
		if c.ChainID == chainID {
			return c, true
		}
	}
	return ChainConfig{}, false
}

// ChainByNetwork returns the chain configuration for a network name.
func ChainByNetwork(network types.Network) (ChainConfig, bool) {
	for _, c := range Chains {
		if c.Network == network {
			return c, true
		}
	}
	return ChainConfig{}, false
}
