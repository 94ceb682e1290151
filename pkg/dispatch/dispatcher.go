package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/backlogpilot/internal/observability"
	"github.com/harun/backlogpilot/internal/tracing"
	"github.com/harun/backlogpilot/pkg/provider"
	"github.com/harun/backlogpilot/pkg/ratelimit"
	"github.com/harun/backlogpilot/pkg/transcript"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "backlogpilot.dispatch"

// Candidate is one provider backend in priority order.
type Candidate struct {
	Name     string
	Provider provider.LLMProvider
	// Model replaces the request model for this candidate when set.
	Model string
	// RatePerSec <= 0 disables pacing for this candidate.
	RatePerSec     float64
	BucketCapacity int
}

// Config configures retry, backoff and pacing.
type Config struct {
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	Jitter         time.Duration
	PacingInterval time.Duration
	Limiter        *ratelimit.Registry
	Logger         zerolog.Logger
}

// DefaultConfig returns the retry and pacing defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		BackoffBase:    500 * time.Millisecond,
		BackoffMax:     30 * time.Second,
		Jitter:         250 * time.Millisecond,
		PacingInterval: 100 * time.Millisecond,
		Logger:         zerolog.Nop(),
	}
}

// Reply is the assistant turn produced by a successful invoke.
type Reply struct {
	Turn     transcript.Turn
	Usage    *provider.TokenUsage
	Provider string
}

// Dispatcher invokes candidates with pacing, retry and failover.
type Dispatcher struct {
	cfg        Config
	candidates []Candidate
	backoff    Backoff
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a dispatcher. At least one candidate is required.
func New(cfg Config, candidates ...Candidate) (*Dispatcher, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("dispatch: no provider candidates configured")
	}
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.Name == "" {
			return nil, fmt.Errorf("dispatch: candidate name cannot be empty")
		}
		if c.Provider == nil {
			return nil, fmt.Errorf("dispatch: candidate %s has no provider", c.Name)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("dispatch: duplicate candidate %s", c.Name)
		}
		seen[c.Name] = true
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.PacingInterval <= 0 {
		cfg.PacingInterval = DefaultConfig().PacingInterval
	}

	return &Dispatcher{
		cfg:        cfg,
		candidates: append([]Candidate(nil), candidates...),
		backoff:    Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax, Jitter: cfg.Jitter},
		sleep:      sleepContext,
	}, nil
}

// Candidates returns candidate names in priority order.
func (d *Dispatcher) Candidates() []string {
	names := make([]string, len(d.candidates))
	for i, c := range d.candidates {
		names[i] = c.Name
	}
	return names
}

// Invoke asks the candidates, in order, for the next assistant turn. state may be
// nil; when it is mid tool exchange only the pinned candidate is tried.
func (d *Dispatcher) Invoke(ctx context.Context, req provider.LLMRequest, state *ExchangeState) (*Reply, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "dispatch.invoke",
		attribute.Int("turns", len(req.Turns)),
		attribute.Int("tools", len(req.Tools)),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	logger := tracing.LoggerFromContext(ctx, d.cfg.Logger)

	candidates := d.candidates
	if name, ok := state.Pinned(); ok {
		pinned := d.pinned(name)
		candidates = []Candidate{pinned}
		span.SetAttributes(attribute.String("pinned", pinned.Name))
		logger.Debug().Str("provider", pinned.Name).Msg("Tool exchange open, fallback disabled")
	}

	var (
		lastErr error
		tried   []string
	)
	for _, c := range candidates {
		var reply *Reply
		reply, err = d.invokeCandidate(ctx, c, req)
		if err == nil {
			if state.Observe(c.Name, reply.Turn.HasToolCalls()) {
				observability.SetExchangePinned(c.Name, state.InToolExchange)
			}
			return reply, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			return nil, err
		}

		lastErr = err
		tried = append(tried, c.Name)

		var transient *TransientError
		switch {
		case errors.Is(err, ErrQuotaExhausted):
			observability.RecordFailover(c.Name, "quota_exhausted")
			logger.Warn().Str("provider", c.Name).Err(err).Msg("Provider quota exhausted, trying next")
		case errors.As(err, &transient):
			observability.RecordFailover(c.Name, "retries_exhausted")
			logger.Warn().Str("provider", c.Name).Int("attempts", transient.Attempts).Msg("Provider retry budget used, trying next")
		default:
			return nil, err
		}
	}

	logger.Error().Strs("providers", tried).Err(lastErr).Msg("All providers exhausted")
	err = &ProviderExhaustedError{Providers: tried, Last: lastErr}
	return nil, err
}

// pinned returns the candidate holding the open exchange, or the first
// candidate when that name is unknown.
func (d *Dispatcher) pinned(name string) Candidate {
	for _, c := range d.candidates {
		if c.Name == name {
			return c
		}
	}
	return d.candidates[0]
}

// invokeCandidate retries one candidate until success, a non-transient failure,
// or the retry budget runs out.
func (d *Dispatcher) invokeCandidate(ctx context.Context, c Candidate, req provider.LLMRequest) (*Reply, error) {
	ctx = tracing.WithProvider(ctx, c.Name)
	logger := tracing.LoggerFromContext(ctx, d.cfg.Logger)
	if c.Model != "" {
		req.Model = c.Model
	}

	for attempt := 1; ; attempt++ {
		if err := d.acquire(ctx, c); err != nil {
			return nil, err
		}

		resp, err := d.attempt(ctx, c, req, attempt)
		if err == nil {
			return &Reply{
				Turn:     transcript.Assistant(resp.Content, transcript.NormalizeToolCalls(resp.ToolCalls)...),
				Usage:    resp.Usage,
				Provider: c.Name,
			}, nil
		}

		perr := provider.AsError(err)
		switch perr.Kind {
		case provider.KindQuotaExhausted:
			return nil, fmt.Errorf("%s: %w: %w", c.Name, ErrQuotaExhausted, err)

		case provider.KindRateLimited:
			if attempt > d.cfg.MaxRetries {
				return nil, &TransientError{Provider: c.Name, Attempts: attempt, RetryAfter: perr.RetryAfter, Err: err}
			}
			delay := d.backoff.Delay(attempt, perr.RetryAfter)
			observability.RecordBackoff(c.Name, delay)
			logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Dur("retry_after", perr.RetryAfter).
				Msg("Rate limited, backing off")
			if err := d.sleep(ctx, delay); err != nil {
				return nil, err
			}

		case provider.KindProtocol:
			return nil, &transcript.ProtocolViolation{
				Reason: "provider rejected tool-call pairing",
				Index:  -1,
				Err:    err,
			}

		default:
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
	}
}

// acquire waits, in PacingInterval steps, until the candidate's bucket yields a token.
func (d *Dispatcher) acquire(ctx context.Context, c Candidate) error {
	if d.cfg.Limiter == nil || c.RatePerSec <= 0 {
		return nil
	}
	bucket := d.cfg.Limiter.Bucket(c.Name, c.RatePerSec, c.BucketCapacity)
	for !bucket.TryTake(1) {
		observability.RecordPacingWait(c.Name)
		if err := d.sleep(ctx, d.cfg.PacingInterval); err != nil {
			return err
		}
	}
	return nil
}

type callResult struct {
	resp *provider.LLMResponse
	err  error
}

// attempt runs one backend call on its own goroutine so the caller can stop
// waiting when ctx is cancelled.
func (d *Dispatcher) attempt(ctx context.Context, c Candidate, req provider.LLMRequest, attempt int) (*provider.LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "dispatch.attempt",
		attribute.String("provider", c.Name),
		attribute.Int("attempt", attempt),
	)
	start := time.Now()

	resultChan := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChan <- callResult{err: fmt.Errorf("provider %s panicked: %v", c.Name, r)}
			}
		}()
		resp, err := c.Provider.Call(ctx, req)
		if err == nil && resp == nil {
			err = fmt.Errorf("provider %s returned an empty response", c.Name)
		}
		resultChan <- callResult{resp: resp, err: err}
	}()

	var res callResult
	select {
	case res = <-resultChan:
	case <-ctx.Done():
		res = callResult{err: ctx.Err()}
	}

	observability.RecordProviderAttempt(c.Name, outcome(res.err), time.Since(start))
	tracing.EndSpan(span, res.err)
	return res.resp, res.err
}

func outcome(err error) string {
	if err == nil {
		return observability.OutcomeSuccess
	}
	switch provider.AsError(err).Kind {
	case provider.KindRateLimited:
		return observability.OutcomeRateLimited
	case provider.KindQuotaExhausted:
		return observability.OutcomeQuota
	case provider.KindProtocol:
		return observability.OutcomeProtocol
	default:
		return observability.OutcomeError
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
