// Package facilitator verifies and settles payment authorizations and keeps the
// payment channel ledger.
package facilitator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raid-guild/x402-gateway-go/audit"
	"github.com/raid-guild/x402-gateway-go/core"
	"github.com/raid-guild/x402-gateway-go/ledger"
	"github.com/raid-guild/x402-gateway-go/types"
	"github.com/raid-guild/x402-gateway-go/utils"
)

// Default advertised payment bounds in wei.
var (
	DefaultMinPayment = big.NewInt(1_000_000_000_000_000)
	DefaultMaxPayment = new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))
)

// Settler submits verified authorizations on-chain.
type Settler interface {
	HasKey() bool
	Settle(ctx context.Context, auth types.Authorization, network types.Network) (core.Settlement, error)
}

// Config are the dependencies of a Service.
type Config struct {
	Ledger     *ledger.Ledger
	Settler    Settler
	Audit      audit.Store
	Logger     *slog.Logger
	MinPayment *big.Int
	MaxPayment *big.Int
	Now        func() time.Time
}

// Service is the facilitator.
type Service struct {
	ledger     *ledger.Ledger
	settler    Settler
	audit      audit.Store
	logger     *slog.Logger
	minPayment *big.Int
	maxPayment *big.Int
	now        func() time.Time
}

// New creates a facilitator service.
func New(c Config) *Service {
	s := &Service{
		ledger:     c.Ledger,
		settler:    c.Settler,
		audit:      c.Audit,
		logger:     c.Logger,
		minPayment: c.MinPayment,
		maxPayment: c.MaxPayment,
		now:        c.Now,
	}
	if s.ledger == nil {
		s.ledger = ledger.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.minPayment == nil {
		s.minPayment = DefaultMinPayment
	}
	if s.maxPayment == nil {
		s.maxPayment = DefaultMaxPayment
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Ledger returns the channel ledger.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// Verify checks an authorization. Direct and forwarder authorizations must be inside
// their validity window and carry a signature from their sender. Channel payments are
// applied to the ledger. Every outcome is written to the audit log.
func (s *Service) Verify(ctx context.Context, auth types.Authorization) (types.VerifyResponse, error) {
	var resp types.VerifyResponse

	switch a := auth.(type) {
	case types.DirectAuthorization:
		resp = s.verifyTransfer(types.ModeDirect, a.ValidAfter, a.ValidBefore, func() core.VerifyResult {
			return core.VerifyDirect(a)
		})
	case types.ForwarderAuthorization:
		resp = s.verifyTransfer(types.ModeForwarder, a.ValidAfter, a.ValidBefore, func() core.VerifyResult {
			return core.VerifyForwarder(a)
		})
	case types.ChannelPayment:
		var err error
		resp, err = s.verifyChannelPayment(ctx, a)
		if err != nil {
			return types.VerifyResponse{}, err
		}
	default:
		return types.VerifyResponse{}, utils.NewValidationError(fmt.Errorf("%w: %T", types.ErrInvalidPayload, auth))
	}

	s.record(ctx, audit.KindAuthorization, resp.Mode, auth, resp, "")
	return resp, nil
}

func (s *Service) verifyTransfer(mode types.Mode, validAfter, validBefore string, verify func() core.VerifyResult) types.VerifyResponse {

	// Verify the authorization is inside its validity window
	if reason := s.checkWindow(validAfter, validBefore); reason != "" {
		return types.VerifyResponse{Valid: false, Mode: mode, Reason: reason}
	}

	result := verify()
	if !result.Valid {
		return types.VerifyResponse{Valid: false, Mode: mode, Reason: result.Reason}
	}
	return types.VerifyResponse{Valid: true, Mode: mode, Payer: result.Signer.Hex()}
}

// checkWindow requires validAfter < now < validBefore.
func (s *Service) checkWindow(validAfter, validBefore string) types.InvalidReason {
	after, ok := new(big.Int).SetString(validAfter, 10)
	if !ok {
		return types.InvalidReasonInvalidAuthorizationValidAfter
	}
	before, ok := new(big.Int).SetString(validBefore, 10)
	if !ok {
		return types.InvalidReasonInvalidAuthorizationValidBefore
	}

	now := big.NewInt(s.now().Unix())
	if after.Cmp(now) >= 0 {
		return types.InvalidReasonInvalidAuthorizationValidAfter
	}
	if before.Cmp(now) <= 0 {
		return types.InvalidReasonInvalidAuthorizationValidBefore
	}
	return ""
}

func (s *Service) verifyChannelPayment(ctx context.Context, p types.ChannelPayment) (types.VerifyResponse, error) {
	result, err := s.applyChannelPayment(ctx, p)
	if err != nil {
		reason, ok := channelReason(err)
		if !ok {
			return types.VerifyResponse{}, err
		}
		return types.VerifyResponse{Valid: false, Mode: types.ModeChannel, Reason: reason}, nil
	}

	return types.VerifyResponse{
		Valid:   true,
		Mode:    types.ModeChannel,
		Payer:   result.Sender.Hex(),
		Channel: receipt(result),
	}, nil
}

func (s *Service) applyChannelPayment(_ context.Context, p types.ChannelPayment) (ledger.PaymentResult, error) {
	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok {
		return ledger.PaymentResult{}, ledger.ErrInvalidAmount
	}
	return s.ledger.ApplyPayment(p.ChannelID, amount, p.Nonce, p.Signature)
}

// Settle submits an authorization on-chain. Without a settlement key nothing is
// attempted. The signature is verified again before submission.
func (s *Service) Settle(ctx context.Context, auth types.Authorization) (types.SettleResponse, error) {
	mode := auth.Mode()

	// Fail closed without a settlement key
	if s.settler == nil || !s.settler.HasKey() {
		resp := types.SettleResponse{
			Success: false,
			Mode:    mode,
			Error:   types.ErrorReasonMissingSettlementKey,
		}
		s.record(ctx, audit.KindSettlement, mode, auth, resp, "")
		return resp, utils.NewConfigurationError(core.ErrMissingSettlementKey)
	}

	resp, err := s.settle(ctx, auth)
	s.record(ctx, audit.KindSettlement, mode, auth, resp, resp.TxHash)
	return resp, err
}

func (s *Service) settle(ctx context.Context, auth types.Authorization) (types.SettleResponse, error) {
	mode := auth.Mode()

	var result core.VerifyResult
	switch a := auth.(type) {
	case types.DirectAuthorization:
		result = core.VerifyDirect(a)
	case types.ForwarderAuthorization:
		result = core.VerifyForwarder(a)
	case types.ChannelPayment:
		return types.SettleResponse{
			Success: false,
			Mode:    mode,
			Error:   types.ErrorReasonInvalidScheme,
			Detail:  "channel payments settle through /api/channels/{id}/settle",
		}, utils.NewValidationError(errors.New("channel payments cannot be settled on-chain"))
	default:
		return types.SettleResponse{Success: false, Error: types.ErrorReasonInvalidPaymentPayload},
			utils.NewValidationError(fmt.Errorf("%w: %T", types.ErrInvalidPayload, auth))
	}

	if !result.Valid {
		return types.SettleResponse{
			Success: false,
			Mode:    mode,
			Error:   types.ErrorReasonInvalidAuthorizationSignature,
			Detail:  string(result.Reason),
		}, utils.NewValidationError(fmt.Errorf("authorization is invalid: %s", result.Reason))
	}

	settlement, err := s.settler.Settle(ctx, auth, "")
	resp := types.SettleResponse{
		Success: err == nil,
		Mode:    mode,
		Network: settlement.Network,
	}
	if settlement.TxHash != (common.Hash{}) {
		resp.TxHash = settlement.TxHash.Hex()
	}
	if err != nil {
		resp.Error = settleReason(err)
		resp.Detail = utils.PublicMessage(err)
		s.logger.Error("settlement failed", "mode", mode, "txHash", resp.TxHash, "error", err)
		return resp, err
	}

	s.logger.Info("settlement confirmed", "mode", mode, "network", resp.Network, "txHash", resp.TxHash)
	return resp, nil
}

// Capabilities advertises the supported networks and payment bounds.
func (s *Service) Capabilities() types.Capabilities {
	networks := make([]types.NetworkCapability, 0, len(core.Chains))
	for _, c := range core.Chains {
		contracts := map[string]string{"token": c.Token.Hex()}
		if c.HasForwarder() {
			contracts["forwarder"] = c.Forwarder.Hex()
		}
		networks = append(networks, types.NetworkCapability{
			ID:        c.Network,
			ChainID:   c.ChainID,
			Asset:     c.Asset,
			Decimals:  c.Decimals,
			Contracts: contracts,
			Schemes:   append([]types.Scheme(nil), c.Schemes...),
			Methods:   append([]types.PaymentType(nil), c.Methods...),
		})
	}
	return types.Capabilities{
		Networks: networks,
		Limits: types.Limits{
			Min: s.minPayment.String(),
			Max: s.maxPayment.String(),
		},
	}
}

func (s *Service) record(ctx context.Context, kind audit.Kind, mode types.Mode, payload, result any, txHash string) {
	if s.audit == nil {
		return
	}
	r, err := audit.NewRecord(kind, mode, payload, result)
	if err != nil {
		s.logger.Warn("audit record failed", "type", kind, "error", err)
		return
	}
	r.TxHash = txHash
	audit.Append(ctx, s.audit, s.logger, r)
}

func channelReason(err error) (types.InvalidReason, bool) {
	switch {
	case errors.Is(err, ledger.ErrChannelNotFound):
		return types.InvalidReasonChannelNotFound, true
	case errors.Is(err, ledger.ErrChannelExpired):
		return types.InvalidReasonChannelExpired, true
	case errors.Is(err, ledger.ErrNonceReplay):
		return types.InvalidReasonNonceReplay, true
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return types.InvalidReasonInsufficientBalance, true
	case errors.Is(err, ledger.ErrInvalidSignature):
		return types.InvalidReasonInvalidChannelSignature, true
	case errors.Is(err, ledger.ErrInvalidAmount):
		return types.InvalidReasonInvalidChannelAmount, true
	}
	return "", false
}

func settleReason(err error) types.ErrorReason {
	switch {
	case errors.Is(err, core.ErrMissingSettlementKey):
		return types.ErrorReasonMissingSettlementKey
	case errors.Is(err, core.ErrAuthorizationUsed):
		return types.ErrorReasonAuthorizationUsed
	case errors.Is(err, core.ErrTransactionReverted):
		return types.ErrorReasonTransactionReverted
	case errors.Is(err, core.ErrSettlementIndeterminate):
		return types.ErrorReasonSettlementIndeterminate
	}
	return types.ErrorReasonSettlementFailed
}

func receipt(r ledger.PaymentResult) *types.ChannelReceipt {
	return &types.ChannelReceipt{
		ChannelID: r.ChannelID.Hex(),
		Amount:    r.Amount.String(),
		Nonce:     r.Nonce,
		Withdrawn: r.Withdrawn.String(),
		Remaining: r.Remaining.String(),
	}
}
