package clients

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitState is the transport's view of the upstream quota. It lives in
// memory for one transport and is never persisted.
type RateLimitState struct {
	mu        sync.Mutex
	remaining int
	known     bool      // whether the latest response carried the header
	resetAt   time.Time // zero when no Retry-After has been seen
}

// Observe records the headers of one response. A response without the
// remaining header forgets the previous value.
func (s *RateLimitState) Observe(now time.Time, remaining int, hasRemaining bool, retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remaining = remaining
	s.known = hasRemaining
	if retryAfter > 0 {
		s.resetAt = now.Add(retryAfter)
	}
}

// Remaining returns the last remaining-quota value and whether one was seen.
func (s *RateLimitState) Remaining() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining, s.known
}

// ResetAt returns the reset deadline, zero if none.
func (s *RateLimitState) ResetAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetAt
}

// WaitFor returns how long to wait at now before the next request.
func (s *RateLimitState) WaitFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resetAt.IsZero() || !now.Before(s.resetAt) {
		return 0
	}
	return s.resetAt.Sub(now)
}

// Below reports whether the last known remaining quota is under mark.
func (s *RateLimitState) Below(mark int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known && s.remaining < mark
}

func parseRemaining(h http.Header, name string) (int, bool) {
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
