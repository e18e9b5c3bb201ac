package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// revealRateLimiter tracks failed reveal attempts per key and enforces
// exponential backoff. It bounds online passphrase guessing against a
// single bundle regardless of how many clients take part.
type revealRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	inFlight    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures = 5
	// baseLockout is the initial lockout duration after maxFailures is reached.
	baseLockout = 1 * time.Minute
	// maxLockout caps the exponential backoff.
	maxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure before the record is
	// garbage-collected.
	attemptExpiry = 1 * time.Hour
	// busyRetryAfter is the Retry-After sent when a key's attempt budget is
	// taken by requests still in flight.
	busyRetryAfter = 1 * time.Second
)

func newRevealRateLimiter() *revealRateLimiter {
	return &revealRateLimiter{
		attempts: make(map[string]*attemptRecord),
	}
}

func revealLimiterKey(workspaceID, keyID string) string {
	return workspaceID + "/" + keyID
}

// check returns true if the key is currently locked, along with how long the
// caller should wait.
func (rl *revealRateLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	if rec.inFlight == 0 && time.Since(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if time.Now().Before(rec.lockedUntil) {
		return true, time.Until(rec.lockedUntil)
	}
	return false, 0
}

// acquire reserves an attempt on key. Attempts in flight count against the
// failure budget, so concurrent guesses cannot all pass before the first
// failure is recorded. Once the budget is spent only one attempt at a time
// is admitted between lockouts. Every successful acquire must be paired
// with release.
func (rl *revealRateLimiter) acquire(key string) (ok bool, retryAfter time.Duration) {
	if blocked, retryAfter := rl.check(key); blocked {
		return false, retryAfter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, exists := rl.attempts[key]
	if !exists {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	if time.Now().Before(rec.lockedUntil) {
		return false, time.Until(rec.lockedUntil)
	}
	if rec.inFlight >= max(1, maxFailures-rec.failures) {
		return false, busyRetryAfter
	}
	rec.inFlight++
	return true, 0
}

// release returns an attempt reserved by acquire.
func (rl *revealRateLimiter) release(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return
	}
	if rec.inFlight > 0 {
		rec.inFlight--
	}
	if rec.inFlight == 0 && rec.failures == 0 {
		delete(rl.attempts, key)
	}
}

// recordFailure increments the failure counter and applies exponential
// backoff once maxFailures is reached.
func (rl *revealRateLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	rec.failures++
	rec.lastFailure = time.Now()

	if rec.failures >= maxFailures {
		// baseLockout * 2^(failures - maxFailures), capped.
		lockout := baseLockout
		for i := 0; i < rec.failures-maxFailures; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = time.Now().Add(lockout)
	}
}

// recordSuccess resets the failure counter.
func (rl *revealRateLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rec, ok := rl.attempts[key]
	if !ok {
		return
	}
	if rec.inFlight > 0 {
		rec.failures = 0
		rec.lockedUntil = time.Time{}
		return
	}
	delete(rl.attempts, key)
}

// forget drops state for every key in a workspace.
func (rl *revealRateLimiter) forget(workspaceID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	prefix := workspaceID + "/"
	for k := range rl.attempts {
		if strings.HasPrefix(k, prefix) {
			delete(rl.attempts, k)
		}
	}
}

// sweep removes expired records.
func (rl *revealRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for id, rec := range rl.attempts {
		if rec.inFlight == 0 && now.Sub(rec.lastFailure) > attemptExpiry {
			delete(rl.attempts, id)
		}
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, msg)
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ---------------------------------------------------------------------------
// Per-IP token bucket
// ---------------------------------------------------------------------------

const (
	defaultIPRate  = 5.0
	defaultIPBurst = 10
	// ipIdleExpiry is how long an unused bucket is kept.
	ipIdleExpiry = 1 * time.Hour
	// ipSweepInterval is the minimum spacing between idle-bucket sweeps.
	ipSweepInterval = 5 * time.Minute
)

// ipRateLimiter holds one token bucket per client IP. Every cipher-heavy
// request spends a token whatever its outcome, since each one costs a full
// Argon2id derivation.
type ipRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiterEntry
	rps       rate.Limit
	burst     int
	lastSweep time.Time
}

type ipLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ipRateLimiter{
		limiters:  make(map[string]*ipLimiterEntry),
		rps:       rate.Limit(rps),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// allow spends a token for ip. When the bucket is empty it reports how long
// until the next token is available.
func (rl *ipRateLimiter) allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > ipSweepInterval {
		rl.sweepLocked(now)
	}

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = now

	if entry.limiter.AllowN(now, 1) {
		return true, 0
	}
	reservation := entry.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	reservation.CancelAt(now)
	return false, delay
}

func (rl *ipRateLimiter) sweepLocked(now time.Time) {
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastAccess) > ipIdleExpiry {
			delete(rl.limiters, ip)
		}
	}
	rl.lastSweep = now
}

// RateLimitMiddleware applies the per-IP token bucket.
func (a *API) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.ipLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := a.extractClientIP(r)
		if ok, retryAfter := a.ipLimiter.allow(ip); !ok {
			a.audit.log(AuditIPRateLimited, r, slog.String("client_ip", ip))
			writeRateLimited(w, retryAfter, "too many requests; try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Helper: extract client IP
// ---------------------------------------------------------------------------

// extractClientIP returns the client IP for rate limiting using the API's
// configured trusted proxies.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored
// if the request's RemoteAddr falls within one of trustedProxies. With no
// trusted proxies, RemoteAddr is always used.
//
// Priority when proxy headers are trusted:
// 1. First valid entry in X-Forwarded-For
// 2. First valid "for=" value in Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	proxyTrusted := false
	if len(trustedProxies) > 0 && remoteIP != "" {
		if addr, err := netip.ParseAddr(remoteIP); err == nil {
			for _, prefix := range trustedProxies {
				if prefix.Contains(addr) {
					proxyTrusted = true
					break
				}
			}
		}
	}

	if proxyTrusted {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip, ok := parseIPCandidate(part); ok {
					return ip
				}
			}
		}

		if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
			for _, elem := range strings.Split(fwd, ",") {
				for _, param := range strings.Split(elem, ";") {
					param = strings.TrimSpace(param)
					if !strings.HasPrefix(strings.ToLower(param), "for=") {
						continue
					}
					if ip, ok := parseIPCandidate(param[4:]); ok {
						return ip
					}
				}
			}
		}

		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if ip, ok := parseIPCandidate(xrip); ok {
				return ip
			}
		}
	}

	return remoteIP
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}
