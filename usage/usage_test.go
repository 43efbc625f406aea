package usage

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewMemoryCounter()
	c.now = func() time.Time { return now }

	for i := int64(1); i <= 3; i++ {
		w, err := c.Incr(context.Background(), "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, w.Count)
		assert.Equal(t, now.Add(time.Minute), w.ResetAt)
	}

	now = now.Add(time.Minute)
	w, err := c.Incr(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Count)

	other, err := c.Incr(context.Background(), "other", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.Count)
}

func TestLimiter(t *testing.T) {
	l := NewLimiter(NewMemoryCounter(), 2, time.Minute, nil)

	d := l.Allow(context.Background(), "1.2.3.4")
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Remaining)

	d = l.Allow(context.Background(), "1.2.3.4")
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)

	d = l.Allow(context.Background(), "1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)

	assert.True(t, l.Allow(context.Background(), "5.6.7.8").Allowed)
}

func TestLimiterFailsOpenWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewLimiter(NewRedisCounter(client, "x402:"), 1, time.Minute, nil)
	for range 3 {
		d := l.Allow(context.Background(), "1.2.3.4")
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(1), d.Remaining)
	}
}

func TestTracker(t *testing.T) {
	c := NewMemoryCounter()
	tr := NewTracker(c, time.Minute, nil)
	tr.Track(context.Background(), "POST", "/verify", "1.2.3.4")
	tr.Track(context.Background(), "POST", "/verify", "1.2.3.4")

	w, err := c.Incr(context.Background(), "usage:POST:/verify", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), w.Count)

	w, err = c.Incr(context.Background(), "usage:ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), w.Count)
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ClientKey(r))

	r.Header.Set("CF-Connecting-IP", "9.9.9.9")
	assert.Equal(t, "9.9.9.9", ClientKey(r))

	r.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
	assert.Equal(t, "1.1.1.1", ClientKey(r))
}
