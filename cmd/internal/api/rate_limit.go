package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "podium/shared/contracts/debate/v1"
)

// loginLimiter is a sliding-window limiter on login attempts per client IP.
type loginLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	byIP   map[string][]time.Time
}

func newLoginLimiter(limit int, window time.Duration) *loginLimiter {
	return &loginLimiter{limit: limit, window: window, byIP: make(map[string][]time.Time)}
}

// allow records an attempt and reports whether it is within budget.
// When denied it also returns how long until the oldest attempt expires.
func (l *loginLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	if l == nil || l.limit <= 0 {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	kept := l.byIP[ip][:0]
	for _, t := range l.byIP[ip] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.byIP[ip] = kept
		return false, kept[0].Sub(cut)
	}
	l.byIP[ip] = append(kept, now)
	return true, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, v1.CodeRateLimited, "too many attempts")
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
