package facilitator

import (
	"context"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/raid-guild/x402-gateway-go/audit"
	"github.com/raid-guild/x402-gateway-go/ledger"
	"github.com/raid-guild/x402-gateway-go/types"
)

// maxChannelDuration is the longest duration in seconds that fits a time.Duration.
const maxChannelDuration = math.MaxInt64 / int64(time.Second)

// CreateChannel opens a payment channel. A zero duration uses the ledger default.
func (s *Service) CreateChannel(_ context.Context, req types.ChannelOpen) (ledger.Channel, error) {
	if !common.IsHexAddress(req.Sender) || !common.IsHexAddress(req.Receiver) {
		return ledger.Channel{}, ledger.ErrInvalidAddress
	}
	deposit, ok := new(big.Int).SetString(req.InitialDeposit, 10)
	if !ok || deposit.Sign() < 0 || req.Duration < 0 || req.Duration > maxChannelDuration {
		return ledger.Channel{}, ledger.ErrInvalidAmount
	}

	ch, err := s.ledger.Create(
		common.HexToAddress(req.Sender),
		common.HexToAddress(req.Receiver),
		deposit,
		time.Duration(req.Duration)*time.Second,
	)
	if err != nil {
		return ledger.Channel{}, err
	}
	s.logger.Info("channel opened", "channelId", ch.ID.Hex(), "sender", ch.Sender.Hex(), "balance", ch.Balance.String())
	return ch, nil
}

// GetChannel returns one channel.
func (s *Service) GetChannel(id string) (ledger.Channel, error) {
	ch, ok := s.ledger.Get(id)
	if !ok {
		return ledger.Channel{}, ledger.ErrChannelNotFound
	}
	return ch, nil
}

// ListChannels returns open channels, optionally filtered by sender and receiver.
func (s *Service) ListChannels(sender, receiver string) ([]ledger.Channel, error) {
	for _, addr := range []string{sender, receiver} {
		if addr != "" && !common.IsHexAddress(addr) {
			return nil, ledger.ErrInvalidAddress
		}
	}

	var channels []ledger.Channel
	switch {
	case sender != "":
		channels = s.ledger.ListBySender(common.HexToAddress(sender))
	case receiver != "":
		return s.ledger.ListByReceiver(common.HexToAddress(receiver)), nil
	default:
		return s.ledger.List(), nil
	}

	if receiver == "" {
		return channels, nil
	}
	r := common.HexToAddress(receiver)
	filtered := channels[:0]
	for _, ch := range channels {
		if ch.Receiver == r {
			filtered = append(filtered, ch)
		}
	}
	return filtered, nil
}

// PayChannel applies a payment to the channel named by id.
func (s *Service) PayChannel(ctx context.Context, id string, p types.ChannelPayment) (*types.ChannelReceipt, error) {
	if err := ledger.MatchID(id, p.ChannelID); err != nil {
		return nil, err
	}

	result, err := s.applyChannelPayment(ctx, p)
	if err != nil {
		return nil, err
	}

	r := receipt(result)
	s.record(ctx, audit.KindAuthorization, types.ModeChannel, p, r, "")
	return r, nil
}

// SettleChannel closes the channel named by id and returns the sender refund.
func (s *Service) SettleChannel(ctx context.Context, id string, req types.ChannelSettlement) (ledger.SettleResult, error) {
	if err := ledger.MatchID(id, req.ChannelID); err != nil {
		return ledger.SettleResult{}, err
	}

	final, ok := new(big.Int).SetString(req.FinalAmount, 10)
	if !ok {
		return ledger.SettleResult{}, ledger.ErrInvalidAmount
	}

	result, err := s.ledger.Settle(req.ChannelID, final, req.Nonce, req.Signature)
	if err != nil {
		return ledger.SettleResult{}, err
	}

	s.record(ctx, audit.KindSettlement, types.ModeChannel, req, map[string]string{
		"channelId":   result.ChannelID.Hex(),
		"finalAmount": result.FinalAmount.String(),
		"refund":      result.Refund.String(),
	}, "")
	s.logger.Info("channel settled", "channelId", result.ChannelID.Hex(), "refund", result.Refund.String())
	return result, nil
}
