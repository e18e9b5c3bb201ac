package api

import (
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevealRateLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl := newRevealRateLimiter()

	for i := 0; i < maxFailures-1; i++ {
		rl.recordFailure("ws/k1")
		blocked, _ := rl.check("ws/k1")
		assert.False(t, blocked, "should not block before reaching maxFailures")
	}
}

func TestRevealRateLimiter_BlocksAfterThreshold(t *testing.T) {
	rl := newRevealRateLimiter()
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("ws/k1")
	}

	blocked, retryAfter := rl.check("ws/k1")
	require.True(t, blocked)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestRevealRateLimiter_ExponentialBackoff(t *testing.T) {
	rl := newRevealRateLimiter()
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("ws/k1")
	}
	_, first := rl.check("ws/k1")

	rl.recordFailure("ws/k1")
	_, second := rl.check("ws/k1")
	assert.Greater(t, second, first, "lockout should grow with more failures")
}

func TestRevealRateLimiter_MaxLockoutCap(t *testing.T) {
	rl := newRevealRateLimiter()
	for i := 0; i < maxFailures+20; i++ {
		rl.recordFailure("ws/k1")
	}
	_, retryAfter := rl.check("ws/k1")
	assert.LessOrEqual(t, retryAfter, maxLockout+time.Second)
}

func TestRevealRateLimiter_SuccessResets(t *testing.T) {
	rl := newRevealRateLimiter()
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure("ws/k1")
	}
	rl.recordSuccess("ws/k1")

	blocked, _ := rl.check("ws/k1")
	assert.False(t, blocked)
}

func TestRevealRateLimiter_IsolatesKeys(t *testing.T) {
	rl := newRevealRateLimiter()
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure(revealLimiterKey("ws", "k1"))
	}
	blocked, _ := rl.check(revealLimiterKey("ws", "k2"))
	assert.False(t, blocked)
	blocked, _ = rl.check(revealLimiterKey("other", "k1"))
	assert.False(t, blocked)
}

func TestRevealRateLimiter_Forget(t *testing.T) {
	rl := newRevealRateLimiter()
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure(revealLimiterKey("ws", "k1"))
		rl.recordFailure(revealLimiterKey("ws-2", "k1"))
	}
	rl.forget("ws")

	blocked, _ := rl.check(revealLimiterKey("ws", "k1"))
	assert.False(t, blocked)
	blocked, _ = rl.check(revealLimiterKey("ws-2", "k1"))
	assert.True(t, blocked, "forget must not match workspace ID prefixes")
}

func TestRevealRateLimiter_InFlightAttemptsCountAgainstBudget(t *testing.T) {
	rl := newRevealRateLimiter()
	key := revealLimiterKey("ws", "k1")

	for i := 0; i < maxFailures; i++ {
		ok, _ := rl.acquire(key)
		require.True(t, ok, "attempt %d should be admitted", i+1)
	}
	ok, retryAfter := rl.acquire(key)
	assert.False(t, ok, "no attempt beyond the budget while others are in flight")
	assert.Equal(t, busyRetryAfter, retryAfter)

	// All in-flight attempts fail: the key locks.
	for i := 0; i < maxFailures; i++ {
		rl.recordFailure(key)
		rl.release(key)
	}
	blocked, _ := rl.check(key)
	assert.True(t, blocked)
	ok, _ = rl.acquire(key)
	assert.False(t, ok)
}

func TestRevealRateLimiter_BudgetShrinksWithFailures(t *testing.T) {
	rl := newRevealRateLimiter()
	key := revealLimiterKey("ws", "k1")
	for i := 0; i < maxFailures-2; i++ {
		rl.recordFailure(key)
	}

	ok, _ := rl.acquire(key)
	require.True(t, ok)
	ok, _ = rl.acquire(key)
	require.True(t, ok)
	ok, _ = rl.acquire(key)
	assert.False(t, ok)

	rl.release(key)
	ok, _ = rl.acquire(key)
	assert.True(t, ok)
}

func TestRevealRateLimiter_SingleAttemptAfterLockoutExpires(t *testing.T) {
	rl := newRevealRateLimiter()
	key := revealLimiterKey("ws", "k1")
	rl.mu.Lock()
	rl.attempts[key] = &attemptRecord{
		failures:    maxFailures,
		lastFailure: time.Now().Add(-2 * baseLockout),
		lockedUntil: time.Now().Add(-baseLockout),
	}
	rl.mu.Unlock()

	ok, _ := rl.acquire(key)
	require.True(t, ok)
	ok, _ = rl.acquire(key)
	assert.False(t, ok, "only one attempt at a time once the budget is spent")
}

func TestRevealRateLimiter_ReleaseAndSuccessClearState(t *testing.T) {
	rl := newRevealRateLimiter()
	key := revealLimiterKey("ws", "k1")

	ok, _ := rl.acquire(key)
	require.True(t, ok)
	rl.recordSuccess(key)
	rl.release(key)

	rl.mu.Lock()
	_, exists := rl.attempts[key]
	rl.mu.Unlock()
	assert.False(t, exists)
}

func TestRevealRateLimiter_SweepKeepsInFlight(t *testing.T) {
	rl := newRevealRateLimiter()
	rl.mu.Lock()
	rl.attempts["busy"] = &attemptRecord{
		failures:    1,
		inFlight:    1,
		lastFailure: time.Now().Add(-2 * attemptExpiry),
	}
	rl.mu.Unlock()

	rl.sweep()

	rl.mu.Lock()
	_, exists := rl.attempts["busy"]
	rl.mu.Unlock()
	assert.True(t, exists)
}

func TestRevealRateLimiter_SweepRemovesExpired(t *testing.T) {
	rl := newRevealRateLimiter()
	rl.mu.Lock()
	rl.attempts["old"] = &attemptRecord{
		failures:    maxFailures + 1,
		lastFailure: time.Now().Add(-2 * attemptExpiry),
		lockedUntil: time.Now().Add(-attemptExpiry),
	}
	rl.mu.Unlock()

	rl.sweep()

	rl.mu.Lock()
	_, exists := rl.attempts["old"]
	rl.mu.Unlock()
	assert.False(t, exists)
}

func TestIPRateLimiter_TokenBucket(t *testing.T) {
	rl := newIPRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		ok, _ := rl.allow("198.51.100.1")
		require.True(t, ok, "burst request %d", i)
	}
	ok, retryAfter := rl.allow("198.51.100.1")
	require.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Second)

	ok, _ = rl.allow("198.51.100.2")
	assert.True(t, ok, "other IPs have their own bucket")
}

func TestIPRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := newIPRateLimiter(1, 1)
	rl.allow("198.51.100.1")

	rl.mu.Lock()
	rl.limiters["198.51.100.1"].lastAccess = time.Now().Add(-2 * ipIdleExpiry)
	rl.lastSweep = time.Now().Add(-2 * ipSweepInterval)
	rl.mu.Unlock()

	rl.allow("198.51.100.2")

	rl.mu.Lock()
	_, exists := rl.limiters["198.51.100.1"]
	rl.mu.Unlock()
	assert.False(t, exists)
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "1", retryAfterString(300*time.Millisecond))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}

func TestWithTrustedProxies(t *testing.T) {
	t.Run("valid CIDRs", func(t *testing.T) {
		opt, err := WithTrustedProxies([]string{"10.0.0.0/8", "172.16.0.0/12"})
		require.NoError(t, err)
		a := &API{}
		opt(a)
		assert.Len(t, a.trustedProxies, 2)
	})

	t.Run("bare IP treated as single host", func(t *testing.T) {
		opt, err := WithTrustedProxies([]string{"10.0.0.1", "::1"})
		require.NoError(t, err)
		a := &API{}
		opt(a)
		require.Len(t, a.trustedProxies, 2)
		assert.Equal(t, 32, a.trustedProxies[0].Bits())
		assert.Equal(t, 128, a.trustedProxies[1].Bits())
	})

	t.Run("invalid entry returns error", func(t *testing.T) {
		_, err := WithTrustedProxies([]string{"10.0.0.0/8", "garbage"})
		require.Error(t, err)
	})
}

func TestExtractClientIPWithProxies(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trusted    []netip.Prefix
		want       string
	}{
		{name: "remote ipv4", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "remote ipv6", remoteAddr: "[::1]:8080", want: "::1"},
		{
			name:       "headers ignored without trusted proxies",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25"},
			want:       "10.0.0.1",
		},
		{
			name:       "trusted proxy honors first valid xff",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "unknown, 198.51.100.25, 203.0.113.9"},
			trusted:    trusted,
			want:       "198.51.100.25",
		},
		{
			name:       "trusted proxy forwarded fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"Forwarded": `for="[2001:db8::1]:4711";proto=https`},
			trusted:    trusted,
			want:       "2001:db8::1",
		},
		{
			name:       "trusted proxy x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "203.0.113.11"},
			trusted:    trusted,
			want:       "203.0.113.11",
		},
		{
			name:       "untrusted peer cannot spoof",
			remoteAddr: "203.0.113.99:12345",
			headers: map[string]string{
				"X-Forwarded-For": "10.0.0.1",
				"X-Real-IP":       "10.0.0.3",
			},
			trusted: trusted,
			want:    "203.0.113.99",
		},
		{name: "empty when nothing parseable", remoteAddr: "not-a-hostport", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.trusted))
		})
	}
}
