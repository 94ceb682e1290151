package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a backend failure
type Kind int

const (
	// KindOther is any failure that must not be retried
	KindOther Kind = iota
	// KindRateLimited is a transient throttle (HTTP 429 or equivalent)
	KindRateLimited
	// KindQuotaExhausted means the account cannot serve more requests
	KindQuotaExhausted
	// KindProtocol means the backend rejected the tool-call pairing
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindProtocol:
		return "protocol"
	default:
		return "other"
	}
}

// Error is a classified backend failure
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	RetryAfter time.Duration // zero when the backend gave no hint
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError returns the classified form of err. Unclassified errors are KindOther.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Kind: KindOther, Err: err}
}

// classify maps an HTTP status plus error text onto a Kind
func classify(provider string, status int, code string, message string, header http.Header, err error) *Error {
	lower := strings.ToLower(code + " " + message)
	e := &Error{Provider: provider, StatusCode: status, Err: err}

	switch {
	case strings.Contains(lower, "insufficient_quota"),
		strings.Contains(lower, "exceeded your current quota"),
		strings.Contains(lower, "credit balance"),
		status == http.StatusPaymentRequired:
		e.Kind = KindQuotaExhausted
	case status == http.StatusTooManyRequests, status == 529, strings.Contains(lower, "rate limit"):
		e.Kind = KindRateLimited
		e.RetryAfter = ParseRetryAfter(header, time.Now())
	case status == http.StatusBadRequest && mentionsToolPairing(lower):
		e.Kind = KindProtocol
	default:
		e.Kind = KindOther
	}
	return e
}

func mentionsToolPairing(lower string) bool {
	return strings.Contains(lower, "tool_call_id") ||
		strings.Contains(lower, "tool_calls") ||
		strings.Contains(lower, "tool_use") ||
		strings.Contains(lower, "tool_result")
}

// ParseRetryAfter reads retry-after-ms or Retry-After (seconds or HTTP date)
func ParseRetryAfter(header http.Header, now time.Time) time.Duration {
	if header == nil {
		return 0
	}
	if v := strings.TrimSpace(header.Get("retry-after-ms")); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
