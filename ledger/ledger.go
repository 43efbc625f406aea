// Package ledger keeps off-chain payment channels: a pre-committed balance that a sender
// spends down with signed, nonce-ordered payments before settling.
package ledger

import (
	"encoding/json"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultChannelDuration applies when a channel is created without a duration.
const DefaultChannelDuration = 7 * 24 * time.Hour

// Channel is a payment channel. Withdrawn never exceeds Balance and Nonce is the last
// accepted payment nonce.
type Channel struct {
	ID        common.Hash
	Sender    common.Address
	Receiver  common.Address
	Balance   *big.Int
	Withdrawn *big.Int
	Nonce     uint64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Remaining is Balance minus Withdrawn.
func (c Channel) Remaining() *big.Int {
	return new(big.Int).Sub(c.Balance, c.Withdrawn)
}

func (c Channel) clone() Channel {
	c.Balance = new(big.Int).Set(c.Balance)
	c.Withdrawn = new(big.Int).Set(c.Withdrawn)
	return c
}

type channelJSON struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Balance   string `json:"balance"`
	Withdrawn string `json:"withdrawn"`
	Nonce     uint64 `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
	CreatedAt int64  `json:"createdAt"`
}

// MarshalJSON renders amounts as decimal strings and times as unix seconds.
func (c Channel) MarshalJSON() ([]byte, error) {
	return json.Marshal(channelJSON{
		ID:        c.ID.Hex(),
		Sender:    c.Sender.Hex(),
		Receiver:  c.Receiver.Hex(),
		Balance:   c.Balance.String(),
		Withdrawn: c.Withdrawn.String(),
		Nonce:     c.Nonce,
		ExpiresAt: c.ExpiresAt.Unix(),
		CreatedAt: c.CreatedAt.Unix(),
	})
}

// PaymentResult is the channel state after an accepted payment.
type PaymentResult struct {
	ChannelID common.Hash
	Sender    common.Address
	Amount    *big.Int
	Nonce     uint64
	Withdrawn *big.Int
	Remaining *big.Int
}

// SettleResult is the outcome of closing a channel.
type SettleResult struct {
	ChannelID   common.Hash
	FinalAmount *big.Int
	Refund      *big.Int
}

type entry struct {
	mu      sync.Mutex
	channel Channel
	closed  bool
}

// Ledger owns the channel store. Operations on one channel are serialized; distinct
// channels proceed concurrently.
type Ledger struct {
	mu              sync.RWMutex
	channels        map[common.Hash]*entry
	now             func() time.Time
	defaultDuration time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithDefaultDuration sets the lifetime of channels created without a duration.
func WithDefaultDuration(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.defaultDuration = d
		}
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		channels:        make(map[common.Hash]*entry),
		now:             time.Now,
		defaultDuration: DefaultChannelDuration,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create opens a channel. A zero duration uses the ledger default.
func (l *Ledger) Create(sender, receiver common.Address, initialBalance *big.Int, duration time.Duration) (Channel, error) {
	if initialBalance == nil || initialBalance.Sign() < 0 || initialBalance.BitLen() > 256 {
		return Channel{}, ErrInvalidAmount
	}
	if duration <= 0 {
		duration = l.defaultDuration
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	// The seed is the creation time in milliseconds, bumped until the id is unused
	seed := now.UnixMilli()
	id := ChannelID(sender, receiver, strconv.FormatInt(seed, 10))
	for l.channels[id] != nil {
		seed++
		id = ChannelID(sender, receiver, strconv.FormatInt(seed, 10))
	}

	ch := Channel{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Balance:   new(big.Int).Set(initialBalance),
		Withdrawn: new(big.Int),
		Nonce:     0,
		ExpiresAt: now.Add(duration),
		CreatedAt: now,
	}
	l.channels[id] = &entry{channel: ch}
	return ch.clone(), nil
}

// Get returns a copy of the channel.
func (l *Ledger) Get(id string) (Channel, bool) {
	e := l.lookup(id)
	if e == nil {
		return Channel{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return Channel{}, false
	}
	return e.channel.clone(), true
}

// List returns every open channel ordered by creation time.
func (l *Ledger) List() []Channel {
	return l.filter(func(Channel) bool { return true })
}

// ListBySender returns the open channels funded by sender.
func (l *Ledger) ListBySender(sender common.Address) []Channel {
	return l.filter(func(c Channel) bool { return c.Sender == sender })
}

// ListByReceiver returns the open channels paying receiver.
func (l *Ledger) ListByReceiver(receiver common.Address) []Channel {
	return l.filter(func(c Channel) bool { return c.Receiver == receiver })
}

// ApplyPayment spends value from the channel. The payment is accepted only when the
// channel exists and has not expired, nonce is above the last accepted nonce, the
// signature recovers to the sender, and the new withdrawn total stays within the
// balance. Rejected payments leave the channel unchanged.
func (l *Ledger) ApplyPayment(id string, value *big.Int, nonce uint64, signature string) (PaymentResult, error) {
	if value == nil || value.Sign() < 0 || value.BitLen() > 256 {
		return PaymentResult{}, ErrInvalidAmount
	}

	e := l.lookup(id)
	if e == nil {
		return PaymentResult{}, ErrChannelNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return PaymentResult{}, ErrChannelNotFound
	}
	ch := &e.channel

	if !l.now().Before(ch.ExpiresAt) {
		return PaymentResult{}, ErrChannelExpired
	}
	if nonce <= ch.Nonce {
		return PaymentResult{}, ErrNonceReplay
	}
	if !VerifyPayment(ch.ID, value, nonce, signature, ch.Sender) {
		return PaymentResult{}, ErrInvalidSignature
	}

	withdrawn := new(big.Int).Add(ch.Withdrawn, value)
	if withdrawn.Cmp(ch.Balance) > 0 {
		return PaymentResult{}, ErrInsufficientBalance
	}

	ch.Withdrawn = withdrawn
	ch.Nonce = nonce

	return PaymentResult{
		ChannelID: ch.ID,
		Sender:    ch.Sender,
		Amount:    new(big.Int).Set(value),
		Nonce:     nonce,
		Withdrawn: new(big.Int).Set(withdrawn),
		Remaining: ch.Remaining(),
	}, nil
}

// Settle closes the channel at finalValue and removes it. The sender's signature must
// cover (id, finalValue, nonce).
func (l *Ledger) Settle(id string, finalValue *big.Int, nonce uint64, signature string) (SettleResult, error) {
	if finalValue == nil || finalValue.Sign() < 0 || finalValue.BitLen() > 256 {
		return SettleResult{}, ErrInvalidAmount
	}

	e := l.lookup(id)
	if e == nil {
		return SettleResult{}, ErrChannelNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return SettleResult{}, ErrChannelNotFound
	}
	ch := e.channel

	if !VerifyPayment(ch.ID, finalValue, nonce, signature, ch.Sender) {
		return SettleResult{}, ErrInvalidSignature
	}
	if finalValue.Cmp(ch.Balance) > 0 {
		return SettleResult{}, ErrInsufficientBalance
	}

	// Tombstone before removal so waiters on this entry see it closed
	e.closed = true
	l.mu.Lock()
	delete(l.channels, ch.ID)
	l.mu.Unlock()

	return SettleResult{
		ChannelID:   ch.ID,
		FinalAmount: new(big.Int).Set(finalValue),
		Refund:      new(big.Int).Sub(ch.Balance, finalValue),
	}, nil
}

// MatchID returns ErrChannelIDMismatch unless both ids name the same channel.
func MatchID(pathID, bodyID string) error {
	a, ok := parseID(pathID)
	if !ok {
		return ErrChannelIDMismatch
	}
	b, ok := parseID(bodyID)
	if !ok || a != b {
		return ErrChannelIDMismatch
	}
	return nil
}

func (l *Ledger) lookup(id string) *entry {
	key, ok := parseID(id)
	if !ok {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.channels[key]
}

func (l *Ledger) filter(keep func(Channel) bool) []Channel {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.channels))
	for _, e := range l.channels {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	channels := make([]Channel, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.closed && keep(e.channel) {
			channels = append(channels, e.channel.clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(channels, func(i, j int) bool {
		if !channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].CreatedAt.Before(channels[j].CreatedAt)
		}
		return channels[i].ID.Hex() < channels[j].ID.Hex()
	})
	return channels
}

func parseID(id string) (common.Hash, bool) {
	if !strings.HasPrefix(id, "0x") || len(id) != 66 {
		return common.Hash{}, false
	}
	for _, r := range id[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return common.Hash{}, false
		}
	}
	return common.HexToHash(id), true
}
