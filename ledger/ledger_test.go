package ledger

import (
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raid-guild/x402-gateway-go/utils"
)

type fixture struct {
	ledger   *Ledger
	key      *ecdsa.PrivateKey
	sender   common.Address
	receiver common.Address
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		key:      key,
		sender:   crypto.PubkeyToAddress(key.PublicKey),
		receiver: common.HexToAddress("0x209693Bc6afc0C5328bA36FaF03C514EF312287C"),
		now:      time.Unix(1_700_000_000, 0),
	}
	f.ledger = New(WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) sign(t *testing.T, id common.Hash, amount int64, nonce uint64) string {
	t.Helper()
	sig, err := SignPayment(f.key, id, big.NewInt(amount), nonce)
	require.NoError(t, err)
	return sig
}

func TestScenarioCreatePayReplaySettle(t *testing.T) {
	f := newFixture(t)

	ch, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(1000), 86400*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1000", ch.Balance.String())
	assert.Equal(t, "0", ch.Withdrawn.String())
	assert.Equal(t, uint64(0), ch.Nonce)
	assert.Equal(t, f.now.Add(24*time.Hour), ch.ExpiresAt)
	id := ch.ID.Hex()

	res, err := f.ledger.ApplyPayment(id, big.NewInt(100), 1, f.sign(t, ch.ID, 100, 1))
	require.NoError(t, err)
	assert.Equal(t, "100", res.Withdrawn.String())
	assert.Equal(t, "900", res.Remaining.String())

	_, err = f.ledger.ApplyPayment(id, big.NewInt(50), 1, f.sign(t, ch.ID, 50, 1))
	assert.ErrorIs(t, err, ErrNonceReplay)

	got, ok := f.ledger.Get(id)
	require.True(t, ok)
	assert.Equal(t, "100", got.Withdrawn.String())
	assert.Equal(t, uint64(1), got.Nonce)

	settled, err := f.ledger.Settle(id, big.NewInt(600), 2, f.sign(t, ch.ID, 600, 2))
	require.NoError(t, err)
	assert.Equal(t, "400", settled.Refund.String())

	_, ok = f.ledger.Get(id)
	assert.False(t, ok)
	_, err = f.ledger.ApplyPayment(id, big.NewInt(1), 3, f.sign(t, ch.ID, 1, 3))
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestChannelIDDerivation(t *testing.T) {
	f := newFixture(t)
	ch, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(1), 0)
	require.NoError(t, err)

	want := crypto.Keccak256Hash(f.sender.Bytes(), f.receiver.Bytes(), []byte("1700000000000"))
	assert.Equal(t, want, ch.ID)
	assert.Equal(t, f.now.Add(DefaultChannelDuration), ch.ExpiresAt)

	// Same parties in the same millisecond get a distinct id
	again, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(1), 0)
	require.NoError(t, err)
	assert.NotEqual(t, ch.ID, again.ID)
	assert.Equal(t, ChannelID(f.sender, f.receiver, "1700000000001"), again.ID)
}

func TestApplyPaymentRejections(t *testing.T) {
	f := newFixture(t)
	ch, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(100), time.Hour)
	require.NoError(t, err)
	id := ch.ID.Hex()

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	forged, err := SignPayment(other, ch.ID, big.NewInt(10), 1)
	require.NoError(t, err)

	tests := []struct {
		name      string
		id        string
		amount    *big.Int
		nonce     uint64
		signature string
		want      error
	}{
		{"unknown channel", common.Hash{1}.Hex(), big.NewInt(10), 1, f.sign(t, ch.ID, 10, 1), ErrChannelNotFound},
		{"malformed id", "0x1234", big.NewInt(10), 1, f.sign(t, ch.ID, 10, 1), ErrChannelNotFound},
		{"zero nonce", id, big.NewInt(10), 0, f.sign(t, ch.ID, 10, 0), ErrNonceReplay},
		{"wrong signer", id, big.NewInt(10), 1, forged, ErrInvalidSignature},
		{"signature over other amount", id, big.NewInt(10), 1, f.sign(t, ch.ID, 11, 1), ErrInvalidSignature},
		{"garbage signature", id, big.NewInt(10), 1, "0xdeadbeef", ErrInvalidSignature},
		{"over balance", id, big.NewInt(101), 1, f.sign(t, ch.ID, 101, 1), ErrInsufficientBalance},
		{"negative amount", id, big.NewInt(-1), 1, f.sign(t, ch.ID, 1, 1), ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.ApplyPayment(tt.id, tt.amount, tt.nonce, tt.signature)
			assert.ErrorIs(t, err, tt.want)

			got, ok := f.ledger.Get(id)
			require.True(t, ok)
			assert.Equal(t, "0", got.Withdrawn.String())
			assert.Equal(t, uint64(0), got.Nonce)
		})
	}
}

func TestApplyPaymentExpired(t *testing.T) {
	f := newFixture(t)
	ch, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(100), time.Minute)
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	_, err = f.ledger.ApplyPayment(ch.ID.Hex(), big.NewInt(1), 1, f.sign(t, ch.ID, 1, 1))
	assert.ErrorIs(t, err, ErrChannelExpired)
}

func TestNoncesMayJump(t *testing.T) {
	f := newFixture(t)
	ch, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(100), time.Hour)
	require.NoError(t, err)
	id := ch.ID.Hex()

	_, err = f.ledger.ApplyPayment(id, big.NewInt(10), 5, f.sign(t, ch.ID, 10, 5))
	require.NoError(t, err)
	_, err = f.ledger.ApplyPayment(id, big.NewInt(10), 4, f.sign(t, ch.ID, 10, 4))
	assert.ErrorIs(t, err, ErrNonceReplay)
	res, err := f.ledger.ApplyPayment(id, big.NewInt(90), 6, f.sign(t, ch.ID, 90, 6))
	require.NoError(t, err)
	assert.Equal(t, "0", res.Remaining.String())
}

func TestConcurrentPaymentsNeverOverspend(t *testing.T) {
	f := newFixture(t)
	ch, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(50), time.Hour)
	require.NoError(t, err)
	id := ch.ID.Hex()

	const workers = 100
	sigs := make([]string, workers+1)
	for n := 1; n <= workers; n++ {
		sigs[n] = f.sign(t, ch.ID, 1, uint64(n))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []uint64
	)
	for n := 1; n <= workers; n++ {
		wg.Add(1)
		go func(nonce uint64) {
			defer wg.Done()
			res, err := f.ledger.ApplyPayment(id, big.NewInt(1), nonce, sigs[nonce])
			if err != nil {
				return
			}
			mu.Lock()
			accepted = append(accepted, res.Nonce)
			mu.Unlock()
		}(uint64(n))
	}
	wg.Wait()

	got, ok := f.ledger.Get(id)
	require.True(t, ok)
	assert.LessOrEqual(t, got.Withdrawn.Cmp(got.Balance), 0)
	assert.Equal(t, int64(len(accepted)), got.Withdrawn.Int64())
	assert.LessOrEqual(t, len(accepted), 50)

	// The stored nonce is the highest accepted one
	var highest uint64
	for _, n := range accepted {
		if n > highest {
			highest = n
		}
	}
	assert.Equal(t, highest, got.Nonce)
}

func TestConcurrentSettleAndPay(t *testing.T) {
	f := newFixture(t)
	ch, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(100), time.Hour)
	require.NoError(t, err)
	id := ch.ID.Hex()

	paySig := f.sign(t, ch.ID, 10, 1)
	settleSig := f.sign(t, ch.ID, 0, 1)

	var wg sync.WaitGroup
	var payErr, settleErr error
	var settled SettleResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, payErr = f.ledger.ApplyPayment(id, big.NewInt(10), 1, paySig)
	}()
	go func() {
		defer wg.Done()
		settled, settleErr = f.ledger.Settle(id, big.NewInt(0), 1, settleSig)
	}()
	wg.Wait()

	require.NoError(t, settleErr)
	assert.Equal(t, "100", settled.Refund.String())
	if payErr != nil {
		assert.ErrorIs(t, payErr, ErrChannelNotFound)
	}
	_, ok := f.ledger.Get(id)
	assert.False(t, ok)
}

func TestSettleRejections(t *testing.T) {
	f := newFixture(t)
	ch, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(100), time.Hour)
	require.NoError(t, err)
	id := ch.ID.Hex()

	_, err = f.ledger.Settle(id, big.NewInt(101), 1, f.sign(t, ch.ID, 101, 1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = f.ledger.Settle(id, big.NewInt(50), 1, f.sign(t, ch.ID, 40, 1))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, ok := f.ledger.Get(id)
	assert.True(t, ok)
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	other := common.HexToAddress("0x1111111111111111111111111111111111111111")

	a, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(1), time.Hour)
	require.NoError(t, err)
	f.now = f.now.Add(time.Second)
	b, err := f.ledger.Create(other, f.receiver, big.NewInt(1), time.Hour)
	require.NoError(t, err)

	all := f.ledger.List()
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, b.ID, all[1].ID)

	bySender := f.ledger.ListBySender(other)
	require.Len(t, bySender, 1)
	assert.Equal(t, b.ID, bySender[0].ID)

	assert.Len(t, f.ledger.ListByReceiver(f.receiver), 2)
	assert.Empty(t, f.ledger.ListByReceiver(other))
}

func TestMatchID(t *testing.T) {
	id := common.Hash{0xab}.Hex()
	assert.NoError(t, MatchID(id, id))
	assert.NoError(t, MatchID(id, "0xAB"+id[4:]))
	assert.ErrorIs(t, MatchID(id, common.Hash{0xcd}.Hex()), ErrChannelIDMismatch)
	assert.ErrorIs(t, MatchID(id, ""), ErrChannelIDMismatch)
}

func TestErrorStatuses(t *testing.T) {
	assert.Equal(t, 404, utils.StatusOf(ErrChannelNotFound))
	assert.Equal(t, 400, utils.StatusOf(ErrNonceReplay))
	assert.Equal(t, 401, utils.StatusOf(ErrInvalidSignature))
}

func TestChannelJSON(t *testing.T) {
	f := newFixture(t)
	ch, err := f.ledger.Create(f.sender, f.receiver, big.NewInt(1000), time.Hour)
	require.NoError(t, err)

	data, err := ch.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "`+ch.ID.Hex()+`",
		"sender": "`+f.sender.Hex()+`",
		"receiver": "`+f.receiver.Hex()+`",
		"balance": "1000",
		"withdrawn": "0",
		"nonce": 0,
		"expiresAt": 1700003600,
		"createdAt": 1700000000
	}`, string(data))
}
