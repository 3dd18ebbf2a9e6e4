package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter() *Limiter {
	l := New([]ModelLimit{
		{Name: "test-model", MaxTokensPerMinute: 1000, DailyBudgetUSD: 1.0},
	})
	l.Close() // no midnight reset during tests
	return l
}

func TestReserveWithinLimit(t *testing.T) {
	l := newTestLimiter()

	require.NoError(t, l.Reserve("test-model", 400))
	require.NoError(t, l.Reserve("test-model", 600))

	err := l.Reserve("test-model", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimit)
}

func TestUnconfiguredModelIsUnrestricted(t *testing.T) {
	l := newTestLimiter()

	assert.NoError(t, l.Reserve("other-model", 1_000_000))
	assert.NoError(t, l.RecordSpend("other-model", 99999))
}

func TestBudgetEnforced(t *testing.T) {
	l := newTestLimiter()

	require.NoError(t, l.RecordSpend("test-model", 0.6))

	// The spend that crosses the line is still recorded; the error tells
	// the caller to stop issuing requests.
	err := l.RecordSpend("test-model", 0.6)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	// An exhausted budget blocks further reservations.
	err = l.Reserve("test-model", 1)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestResetDaily(t *testing.T) {
	l := newTestLimiter()

	require.NoError(t, l.Reserve("test-model", 1000))
	require.Error(t, l.Reserve("test-model", 1))
	require.NoError(t, l.RecordSpend("test-model", 0.9))

	l.ResetDaily()

	assert.NoError(t, l.Reserve("test-model", 1000))
	tokens, spent, err := l.Status("test-model")
	require.NoError(t, err)
	assert.Equal(t, 0, tokens)
	assert.Equal(t, 0.0, spent)
}

func TestRefillAfterElapsedMinute(t *testing.T) {
	l := newTestLimiter()
	require.NoError(t, l.Reserve("test-model", 1000))

	// Backdate the refill marker instead of sleeping.
	ml := l.lookup("test-model")
	ml.mu.Lock()
	ml.lastRefill = time.Now().Add(-90 * time.Second)
	ml.mu.Unlock()

	assert.NoError(t, l.Reserve("test-model", 1000))
}
