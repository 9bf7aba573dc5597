// Package backoff computes retry delays with exponential growth and jitter.
package backoff

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Policy defines an exponential backoff schedule.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps the computed delay (before jitter).
	Max time.Duration
	// Factor multiplies the delay on each successive attempt.
	Factor float64
	// JitterMax is the upper bound of the uniform random increment added to
	// the computed delay.
	JitterMax time.Duration
}

// DefaultPolicy matches the provider retry schedule: 1s doubling, capped at
// 10s, with up to 500ms of jitter.
func DefaultPolicy() Policy {
	return Policy{
		Initial:   time.Second,
		Max:       10 * time.Second,
		Factor:    2,
		JitterMax: 500 * time.Millisecond,
	}
}

// Delay returns the sleep duration before retry number attempt (0-based:
// attempt 0 is the delay after the first failure).
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not need crypto randomness
}

// DelayWithRand is Delay with an injected random value in [0, 1), for
// deterministic tests.
func (p Policy) DelayWithRand(attempt int, randomValue float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	base := float64(p.Initial) * math.Pow(factor, float64(attempt))
	if p.Max > 0 && base > float64(p.Max) {
		base = float64(p.Max)
	}
	jitter := randomValue * float64(p.JitterMax)
	return time.Duration(base + jitter)
}

// RetryAfter parses a Retry-After header value in its delay-seconds form.
// Returns zero when the header is absent or not a positive integer; HTTP
// date values are not supported and also yield zero.
func RetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
