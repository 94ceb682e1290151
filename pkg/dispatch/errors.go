package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrQuotaExhausted marks a candidate that cannot serve more requests.
var ErrQuotaExhausted = errors.New("provider quota exhausted")

// TransientError is a rate limited failure that used up the retry budget.
type TransientError struct {
	Provider   string
	Attempts   int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: rate limited after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ProviderExhaustedError is returned once every candidate has failed.
type ProviderExhaustedError struct {
	Providers []string
	Last      error
}

func (e *ProviderExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted (%s): %v", strings.Join(e.Providers, ", "), e.Last)
}

func (e *ProviderExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted reports whether err ends dispatch for the current iteration.
func IsExhausted(err error) bool {
	var exhausted *ProviderExhaustedError
	return errors.As(err, &exhausted)
}
