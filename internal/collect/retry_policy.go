// Package collect implements the resilient collection pipeline: paginated
// batch fetching with retry, the query command set, and the per-project
// orchestrator that aggregates results and isolates failures.
package collect

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/beaconhq/boardpulse/internal/tracker"
	"github.com/beaconhq/boardpulse/internal/wiql"
)

const (
	ErrorClassValidation  = "validation"
	ErrorClassRateLimited = "rate_limited"
	ErrorClassUpstream5xx = "upstream_5xx"
	ErrorClassNetwork     = "network"
	ErrorClassTerminal    = "terminal"
	ErrorClassTransient   = "transient"
)

type Classification struct {
	Class     string
	Retryable bool
}

// RetryPolicy controls per-page retry of batch fetch calls: a fixed attempt
// cap with exponential backoff. The default is 3 attempts waiting 1s then 2s
// between them; jitter is off unless configured.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
	random         func() float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Minute,
		random:      rand.Float64,
	}
}

func (p RetryPolicy) WithRandom(randomFunc func() float64) RetryPolicy {
	p.random = randomFunc
	return p
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 3
	}
	return p.MaxAttempts
}

// Backoff returns the wait after the given 1-based failed attempt: base,
// 2*base, 4*base, ... capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	randFunc := p.random
	if randFunc == nil {
		randFunc = rand.Float64
	}

	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 5 * time.Minute
	}
	jitter := p.JitterFraction
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}

	return computeBackoff(base, max, attempt, jitter, randFunc())
}

// ClassifyError maps an error to a retry class. Validation failures never
// retry; rate limiting, upstream 5xx, and network errors do.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classification{Class: ErrorClassTransient, Retryable: true}
	}

	var validationErr *wiql.ValidationError
	if errors.As(err, &validationErr) {
		return Classification{Class: ErrorClassValidation, Retryable: false}
	}

	var rateLimitErr *tracker.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return Classification{Class: ErrorClassRateLimited, Retryable: true}
	}

	var pauseErr *tracker.PauseError
	if errors.As(err, &pauseErr) {
		return Classification{Class: ErrorClassRateLimited, Retryable: true}
	}

	var budgetErr *tracker.BudgetExceededError
	if errors.As(err, &budgetErr) {
		return Classification{Class: ErrorClassTerminal, Retryable: false}
	}

	var httpErr *tracker.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode >= 500:
			return Classification{Class: ErrorClassUpstream5xx, Retryable: true}
		case httpErr.StatusCode == 429 || httpErr.StatusCode == 408:
			return Classification{Class: ErrorClassRateLimited, Retryable: true}
		default:
			return Classification{Class: ErrorClassTerminal, Retryable: false}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Class: ErrorClassNetwork, Retryable: true}
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "timeout"),
		strings.Contains(message, "temporary"),
		strings.Contains(message, "connection reset"):
		return Classification{Class: ErrorClassNetwork, Retryable: true}
	case strings.Contains(message, "rate limit"):
		return Classification{Class: ErrorClassRateLimited, Retryable: true}
	default:
		return Classification{Class: ErrorClassTransient, Retryable: true}
	}
}

func computeBackoff(base, max time.Duration, attempt int, jitterFraction, randomFactor float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	exponent := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(base) * exponent)
	if delay > max {
		delay = max
	}

	if jitterFraction <= 0 {
		return delay
	}
	if randomFactor < 0 {
		randomFactor = 0
	}
	if randomFactor > 1 {
		randomFactor = 1
	}

	jitterRange := float64(delay) * jitterFraction
	adjusted := float64(delay) - jitterRange + (2 * jitterRange * randomFactor)
	if adjusted < 0 {
		adjusted = 0
	}
	adjustedDelay := time.Duration(adjusted)
	if adjustedDelay > max {
		return max
	}
	return adjustedDelay
}
