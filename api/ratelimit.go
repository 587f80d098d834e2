package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultRegistrationLimit is the number of registrations an IP may make
	// before lockout begins.
	DefaultRegistrationLimit = 20
	// regIPBaseLockout is the initial lockout once the allowance is spent.
	regIPBaseLockout = 1 * time.Minute
	// regIPMaxLockout caps the exponential backoff.
	regIPMaxLockout = 30 * time.Minute
	// regIPExpiry is how long after the last registration a record is kept.
	regIPExpiry = 10 * time.Minute
)

// registrationIPLimiter throttles registrations per source IP. Every
// registration counts, successful or not, since each one creates a session
// that occupies the store until it expires.
//
// A limiter with a non-positive allowance never blocks.
type registrationIPLimiter struct {
	mu          sync.Mutex
	requests    map[string]*requestRecord
	maxRequests int
	now         func() time.Time
}

type requestRecord struct {
	count       int
	last        time.Time
	lockedUntil time.Time
}

// expired reports whether the record can be forgotten: its last
// registration is old and any lockout has been served.
func (rec *requestRecord) expired(now time.Time) bool {
	return now.Sub(rec.last) > regIPExpiry && !now.Before(rec.lockedUntil)
}

func newRegistrationIPLimiter(maxRequests int) *registrationIPLimiter {
	return &registrationIPLimiter{
		requests:    make(map[string]*requestRecord),
		maxRequests: maxRequests,
		now:         time.Now,
	}
}

// check reports whether ip is locked out and for how long.
func (rl *registrationIPLimiter) check(ip string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.requests[ip]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if rec.expired(now) {
		delete(rl.requests, ip)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// record counts one registration from ip.
func (rl *registrationIPLimiter) record(ip string) {
	if rl.maxRequests <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rec, ok := rl.requests[ip]
	if !ok || rec.expired(now) {
		rec = &requestRecord{}
		rl.requests[ip] = rec
	}
	rec.count++
	rec.last = now

	if rec.count >= rl.maxRequests {
		// baseLockout * 2^(count - max), capped.
		lockout := regIPBaseLockout
		for i := 0; i < rec.count-rl.maxRequests; i++ {
			lockout *= 2
			if lockout > regIPMaxLockout {
				lockout = regIPMaxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

// sweep removes expired records.
func (rl *registrationIPLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	n := 0
	for ip, rec := range rl.requests {
		if rec.expired(now) {
			delete(rl.requests, ip)
			n++
		}
	}
	return n
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// extractClientIP returns the client IP for rate limiting, honouring proxy
// headers only from the configured trusted proxies.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored
// if the request's RemoteAddr falls within one of trustedProxies. With no
// trusted proxies RemoteAddr is always used.
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
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String(), true
	}
	return "", false
}
