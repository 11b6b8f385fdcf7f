package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Kind buckets a raw publish/login failure into a handling class.
type Kind string

const (
	KindRateLimited      Kind = "rate_limited"
	KindAuthFailure      Kind = "auth_failure"
	KindCaptchaRequired  Kind = "captcha_required"
	KindTransientNetwork Kind = "transient_network"
	KindUnknown          Kind = "unknown"
)

// Retryable reports whether a failure of this kind is worth retrying.
// Auth failures and captcha challenges need external intervention first.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTransientNetwork, KindUnknown:
		return true
	}
	return false
}

// Error is a classified failure. Publishers that know the exact failure class
// (HTTP 401/429, challenge pages) return it so classification is precise
// instead of text-matched.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// NewError builds a pre-classified failure.
func NewError(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

// Classify maps an error to a Kind. Typed *Error and well-known stdlib errors
// win; otherwise the error text is inspected best-effort.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransientNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "rate limit", "too many requests", "too many attempts", "429", "slow down"):
		return KindRateLimited
	case containsAny(msg, "captcha", "challenge", "verification required", "verify your"):
		return KindCaptchaRequired
	case containsAny(msg, "authentication", "unauthorized", "invalid credentials", "login failed", "password", "401", "403", "forbidden", "session expired"):
		return KindAuthFailure
	case containsAny(msg, "timeout", "timed out", "connection", "network", "temporar", "unavailable", "502", "503", "504", "eof", "reset by peer"):
		return KindTransientNetwork
	default:
		return KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Policy holds the retry knobs consulted by the scheduler.
type Policy struct {
	// BaseDelay is the attempt-0 backoff; attempt n waits BaseDelay * 2^n.
	BaseDelay time.Duration
	// MaxRetries is the number of retryable failures tolerated per target
	// after the initial attempt. Exceeding it makes the target terminally
	// failed.
	MaxRetries int
	// UnknownReviewAfter flags a target for operator review once this many
	// unknown-kind failures accumulate over the item's lifetime.
	UnknownReviewAfter int
}

// DefaultPolicy mirrors the production defaults: 5s base, 3 retries,
// review after 3 unknown failures.
func DefaultPolicy() Policy {
	return Policy{BaseDelay: 5 * time.Second, MaxRetries: 3, UnknownReviewAfter: 3}
}

func (p Policy) withDefaults() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 5 * time.Second
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.UnknownReviewAfter <= 0 {
		p.UnknownReviewAfter = 3
	}
	return p
}

// Backoff returns the delay before retrying after the n-th retryable failure
// (0-indexed): BaseDelay * 2^n.
func (p Policy) Backoff(n int) time.Duration {
	p = p.withDefaults()
	if n < 0 {
		n = 0
	}
	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
	}
	return d
}

// Exhausted reports whether attempts (retryable failures so far) has passed
// the retry budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts > p.withDefaults().MaxRetries
}
