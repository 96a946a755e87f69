package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/semdex-go/internal/logging"
)

// Default per-IP token buckets. Ingest walks, embeds and writes whole trees,
// so it gets a much smaller budget than query.
const (
	defaultRateLimit       = 10
	defaultRateBurst       = 20
	defaultIngestRateLimit = 0.5
	defaultIngestRateBurst = 3
)

// Stale limiter entries are evicted after limiterTTL.
const (
	limiterTTL     = 5 * time.Minute
	evictInterval  = time.Minute
	maxRetryAfterS = 60
)

// routeLimit is the token-bucket policy of one rate-limited route.
type routeLimit struct {
	// rps is the sustained request rate allowed per IP.
	rps float64
	// burst is the maximum instantaneous burst per IP.
	burst int
}

// limiterKey scopes a bucket to one route and one client IP, so exhausting
// the ingest budget never blocks searches from the same client.
type limiterKey struct {
	route string
	ip    string
}

// ipLimiter holds a bucket and the last time it was used.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces per-route, per-IP token buckets.
type rateLimiter struct {
	// mu guards limiters.
	mu       sync.Mutex
	limiters map[limiterKey]*ipLimiter
	// routes maps a route name ("query", "ingest") to its policy.
	routes map[string]routeLimit
	// rejected counts 429 responses by route. May be nil.
	rejected *prometheus.CounterVec
}

// newRateLimiter starts a limiter for the given route policies. The returned
// function stops the background eviction goroutine.
func newRateLimiter(routes map[string]routeLimit, rejected *prometheus.CounterVec) (*rateLimiter, func()) {
	rl := &rateLimiter{
		limiters: make(map[limiterKey]*ipLimiter),
		routes:   routes,
		rejected: rejected,
	}

	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	return rl, func() { close(stopCh) }
}

func (rl *rateLimiter) getLimiter(key limiterKey, policy routeLimit) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(policy.rps), policy.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.evict(time.Now().Add(-limiterTTL))
		}
	}
}

// evict removes entries not seen since cutoff.
func (rl *rateLimiter) evict(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// limit returns next guarded by the bucket of route. A route with no policy
// is not limited. Rejected requests get 429 with a JSON error body and a
// Retry-After header giving the seconds until a token is available.
func (rl *rateLimiter) limit(route string, next http.Handler) http.Handler {
	policy, ok := rl.routes[route]
	if !ok {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		res := rl.getLimiter(limiterKey{route: route, ip: ip}, policy).Reserve()
		if delay := res.Delay(); !res.OK() || delay > 0 {
			res.Cancel()
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("route", route),
				slog.String("ip", ip),
				slog.Duration("retry_after", delay),
			)
			if rl.rejected != nil {
				rl.rejected.WithLabelValues(route).Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
			writeJSONError(w, route+" rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds delay up to whole seconds within [1, 60].
func retryAfterSeconds(delay time.Duration) int {
	s := int(math.Ceil(delay.Seconds()))
	if delay == rate.InfDuration || s > maxRetryAfterS {
		return maxRetryAfterS
	}
	return max(s, 1)
}

// clientIP extracts the remote IP from the request, stripping the port.
// It does not trust X-Forwarded-For since this server binds to localhost by
// default.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
