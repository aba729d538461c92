package translate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tren/am"
	"github.com/teranos/tren/errors"
)

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 3 * time.Second}
	assert.Equal(t, 500*time.Millisecond, p.Backoff(1))
	assert.Equal(t, time.Second, p.Backoff(2))
	assert.Equal(t, 2*time.Second, p.Backoff(3))
	assert.Equal(t, 3*time.Second, p.Backoff(4))
	assert.Equal(t, 3*time.Second, p.Backoff(30))
	assert.Equal(t, time.Duration(0), RetryPolicy{}.Backoff(2))
}

func TestRetryPolicyDo(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	ctx := context.Background()

	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		attempts, err := p.Do(ctx, func(attempt int) error {
			calls++
			if attempt < 2 {
				return Transient(errors.New("429"))
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, 2, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		attempts, err := p.Do(ctx, func(int) error { return Transient(errors.New("503")) })
		assert.True(t, IsTransient(err))
		assert.Equal(t, 3, attempts)
	})

	t.Run("fatal is not retried", func(t *testing.T) {
		attempts, err := p.Do(ctx, func(int) error { return Fatal(errors.New("401")) })
		assert.Error(t, err)
		assert.False(t, IsTransient(err))
		assert.Equal(t, 1, attempts)
	})

	t.Run("plain errors are not retried", func(t *testing.T) {
		attempts, err := p.Do(ctx, func(int) error { return errors.New("boom") })
		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})
}

func TestRetryPolicyDoHonorsCancellation(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var attempts int
	var err error
	go func() {
		defer close(done)
		attempts, err = p.Do(ctx, func(int) error { return Transient(errors.New("timeout")) })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("backoff wait ignored cancellation")
	}
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(am.TranslateConfig{MaxAttempts: 4, InitialBackoffMS: 100, MaxBackoffMS: 2000})
	assert.Equal(t, RetryPolicy{MaxAttempts: 4, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second}, p)

	assert.Equal(t, 1, RetryPolicyFromConfig(am.TranslateConfig{}).MaxAttempts)
}

func TestCheckSpecialTokens(t *testing.T) {
	tokens := []string{"𐑣", "<x/>"}

	assert.NoError(t, CheckSpecialTokens("a 𐑣 b <x/>", "A <x/> 𐑣 B", tokens))
	assert.NoError(t, CheckSpecialTokens("plain", "schlicht", tokens))
	assert.NoError(t, CheckSpecialTokens("a 𐑣", "A", nil))

	err := CheckSpecialTokens("a 𐑣 b 𐑣", "A 𐑣 B", tokens)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "source has 2, translation has 1")
}

func TestModelErrorMessage(t *testing.T) {
	err := &ModelError{Transient: true, StatusCode: 429, Err: errors.New("slow down")}
	assert.Equal(t, "model error (transient, status 429): slow down", err.Error())
	assert.Equal(t, "model error (fatal): bad key", Fatal(errors.New("bad key")).Error())
}

func amTranslate(history string, tokens []string) am.TranslateConfig {
	return am.TranslateConfig{History: history, SpecialTokens: tokens, MaxAttempts: 3, InitialBackoffMS: 500, MaxBackoffMS: 10000}
}
