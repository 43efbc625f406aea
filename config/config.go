// Package config reads service configuration from the process environment.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/raid-guild/x402-gateway-go/core"
	"github.com/raid-guild/x402-gateway-go/facilitator"
	"github.com/raid-guild/x402-gateway-go/ledger"
	"github.com/raid-guild/x402-gateway-go/types"
)

// Defaults.
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 3000
	DefaultRateLimitPerMinute = 120
)

// rpcEnv maps each supported network to the variable holding its RPC URL.
var rpcEnv = map[types.Network]string{
	types.NetworkBaseSepolia:        "RPC_BASE_SEPOLIA_URL",
	types.NetworkSkaleEuropaTestnet: "RPC_SKALE_EUROPA_TESTNET_URL",
	types.NetworkSepolia:            "RPC_SEPOLIA_URL",
}

// Config is the facilitator configuration.
type Config struct {
	Host string
	Port int

	MinPayment *big.Int
	MaxPayment *big.Int

	RedisURL     string
	DatabaseURL  string
	StaticAPIKey string

	SettlementPrivateKey string
	RPCURLs              map[types.Network]string
	SettlementTimeout    time.Duration

	ChannelDuration    time.Duration
	RateLimitPerMinute int
}

// Addr is the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads the facilitator configuration.
func Load() (Config, error) {
	c := Config{
		Host:                 getenv("HOST", DefaultHost),
		RedisURL:             os.Getenv("REDIS_URL"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		StaticAPIKey:         os.Getenv("STATIC_API_KEY"),
		SettlementPrivateKey: getenv("EVM_SETTLEMENT_PRIVATE_KEY", os.Getenv("EVM_PRIVATE_KEY")),
		RPCURLs:              make(map[types.Network]string),
	}

	var err error
	if c.Port, err = intEnv("PORT", DefaultPort); err != nil {
		return Config{}, err
	}
	if c.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", DefaultRateLimitPerMinute); err != nil {
		return Config{}, err
	}
	if c.MinPayment, err = weiEnv("MIN_PAYMENT_WEI", facilitator.DefaultMinPayment); err != nil {
		return Config{}, err
	}
	if c.MaxPayment, err = weiEnv("MAX_PAYMENT_WEI", facilitator.DefaultMaxPayment); err != nil {
		return Config{}, err
	}
	if c.MinPayment.Cmp(c.MaxPayment) > 0 {
		return Config{}, fmt.Errorf("MIN_PAYMENT_WEI %s exceeds MAX_PAYMENT_WEI %s", c.MinPayment, c.MaxPayment)
	}
	if c.SettlementTimeout, err = secondsEnv("SETTLEMENT_TIMEOUT_SECONDS", core.DefaultConfirmationTimeout); err != nil {
		return Config{}, err
	}
	if c.ChannelDuration, err = secondsEnv("CHANNEL_DURATION_SECONDS", ledger.DefaultChannelDuration); err != nil {
		return Config{}, err
	}

	for network, key := range rpcEnv {
		if url := os.Getenv(key); url != "" {
			c.RPCURLs[network] = url
		}
	}

	return c, nil
}

// ResourceServer is the example resource server configuration.
type ResourceServer struct {
	Host             string
	Port             int
	FacilitatorURL   string
	FacilitatorKey   string
	ReceivingAddress string
}

// Addr is the listen address.
func (c ResourceServer) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadResourceServer reads the resource server configuration.
func LoadResourceServer() (ResourceServer, error) {
	c := ResourceServer{
		Host:             getenv("HOST", DefaultHost),
		FacilitatorURL:   os.Getenv("FACILITATOR_URL"),
		FacilitatorKey:   os.Getenv("STATIC_API_KEY"),
		ReceivingAddress: os.Getenv("EVM_RECEIVING_ADDRESS"),
	}

	var err error
	if c.Port, err = intEnv("PORT", 4021); err != nil {
		return ResourceServer{}, err
	}
	if c.FacilitatorURL == "" {
		return ResourceServer{}, fmt.Errorf("FACILITATOR_URL is required")
	}
	if c.ReceivingAddress == "" {
		return ResourceServer{}, fmt.Errorf("EVM_RECEIVING_ADDRESS is required")
	}
	return c, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func secondsEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive number of seconds, got %q", key, v)
	}
	return time.Duration(n) * time.Second, nil
}

func weiEnv(key string, fallback *big.Int) (*big.Int, error) {
	v := os.Getenv(key)
	if v == "" {
		return new(big.Int).Set(fallback), nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}
