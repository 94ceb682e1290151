// Package app assembles the configured components into a runnable agent.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/harun/backlogpilot/internal/config"
	"github.com/harun/backlogpilot/internal/logger"
	"github.com/harun/backlogpilot/internal/observability"
	"github.com/harun/backlogpilot/internal/tracing"
	"github.com/harun/backlogpilot/pkg/agent"
	"github.com/harun/backlogpilot/pkg/backlog"
	"github.com/harun/backlogpilot/pkg/dispatch"
	"github.com/harun/backlogpilot/pkg/provider"
	"github.com/harun/backlogpilot/pkg/ratelimit"
	"github.com/harun/backlogpilot/pkg/runlog"
	"github.com/harun/backlogpilot/pkg/toolexecutor"
)

const serviceName = "backlogpilot"

var newProvider = func(p config.ProviderConfig) (provider.LLMProvider, error) {
	factory := &provider.ProviderFactory{}
	return factory.NewProvider(provider.Profile{
		ID:      p.ID,
		Kind:    p.Kind,
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
	})
}

// App owns every long-lived component of one process
type App struct {
	config *config.Config
	logger *logger.Logger

	store      *backlog.Store
	tools      *toolexecutor.ToolExecutor
	limiter    *ratelimit.Registry
	dispatcher *dispatch.Dispatcher
	runLog     *runlog.Store
	runner     *agent.Runner

	metricsServer  *http.Server
	tracingEnabled bool
	closeOnce      sync.Once
}

// New creates an App from a validated configuration
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	observability.EnsureRegistered()
	a := &App{config: cfg, logger: log}

	if cfg.Telemetry.Tracing {
		if err := tracing.InitOpenTelemetry(serviceName, cfg.Telemetry.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			a.tracingEnabled = true
		}
	}

	if err := a.initializeCoreModules(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := a.initializeAgent(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize agent: %w", err)
	}
	a.startMetricsServer()

	return a, nil
}

// initializeCoreModules opens storage and registers tools
func (a *App) initializeCoreModules() error {
	cfg := a.config

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		}
	}

	store, err := backlog.NewStore(backlog.Config{
		Path:   cfg.Store.Path,
		Logger: a.logger.Component("backlog"),
	})
	if err != nil {
		return fmt.Errorf("failed to open backlog store: %w", err)
	}
	a.store = store
	a.logger.Debug().Str("path", cfg.Store.Path).Msg("Backlog store initialized")

	a.tools = toolexecutor.New()
	if err := backlog.RegisterTools(a.tools, store); err != nil {
		return fmt.Errorf("failed to register backlog tools: %w", err)
	}
	a.logger.Debug().Int("tools", a.tools.GetToolCount()).Msg("Tool executor initialized")

	runLog, err := runlog.New(cfg.RunLog.Dir)
	if err != nil {
		return fmt.Errorf("failed to create run log: %w", err)
	}
	a.runLog = runLog

	return nil
}

// initializeAgent builds provider candidates, the dispatcher and the runner
func (a *App) initializeAgent() error {
	cfg := a.config

	candidates := make([]dispatch.Candidate, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		llm, err := newProvider(p)
		if err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
		candidates = append(candidates, dispatch.Candidate{
			Name:           p.ID,
			Provider:       llm,
			Model:          p.Model,
			RatePerSec:     p.RatePerSec,
			BucketCapacity: p.BucketCapacity,
		})
	}

	a.limiter = ratelimit.NewRegistry()
	dispatcher, err := dispatch.New(dispatch.Config{
		MaxRetries:     cfg.Dispatch.MaxRetries,
		BackoffBase:    cfg.Dispatch.BackoffBase,
		BackoffMax:     cfg.Dispatch.BackoffMax,
		Jitter:         cfg.Dispatch.Jitter,
		PacingInterval: cfg.Dispatch.PacingInterval,
		Limiter:        a.limiter,
		Logger:         a.logger.Component("dispatch"),
	}, candidates...)
	if err != nil {
		return err
	}
	a.dispatcher = dispatcher

	runner, err := agent.NewRunner(agent.Config{
		Dispatcher:             dispatcher,
		Tools:                  a.tools,
		Verifier:               a.store,
		Events:                 a.runLog,
		Logger:                 a.logger.Component("agent"),
		Model:                  cfg.Agent.Model,
		SystemPrompt:           cfg.Agent.SystemPrompt,
		Temperature:            cfg.Agent.Temperature,
		MaxTokens:              cfg.Agent.MaxTokens,
		MaxIterations:          cfg.Agent.MaxIterations,
		MaxConsecutiveFailures: cfg.Agent.MaxConsecutiveFailures,
		ToolTimeout:            cfg.Agent.ToolTimeout,
		VerifyRetryDelay:       cfg.Agent.VerifyRetryDelay,
		ToolPolicy: &toolexecutor.ToolPolicy{
			Allow: cfg.Agent.Tools.Allow,
			Deny:  cfg.Agent.Tools.Deny,
		},
	})
	if err != nil {
		return err
	}
	a.runner = runner

	a.logger.Info().
		Strs("providers", dispatcher.Candidates()).
		Int("max_iterations", cfg.Agent.MaxIterations).
		Msg("Agent initialized")
	return nil
}

// startMetricsServer exposes /metrics when an address is configured
func (a *App) startMetricsServer() {
	addr := a.config.Telemetry.MetricsAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	a.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	a.logger.Info().Str("addr", addr).Msg("Metrics server listening")
}

// Run executes one objective
func (a *App) Run(ctx context.Context, params agent.RunParams) (*agent.RunResult, error) {
	return a.runner.Run(ctx, params)
}

// Abort cancels a run started by this process
func (a *App) Abort(runID string) error {
	return a.runner.Abort(runID)
}

// Store returns the backlog store
func (a *App) Store() *backlog.Store {
	return a.store
}

// RunLog returns the run event store
func (a *App) RunLog() *runlog.Store {
	return a.runLog
}

// Tools returns the tool executor
func (a *App) Tools() *toolexecutor.ToolExecutor {
	return a.tools
}

// Close releases storage, telemetry and the metrics listener. It is safe to call twice.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if a.metricsServer != nil {
			if err := a.metricsServer.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server: %w", err))
			}
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("backlog store: %w", err))
			}
		}
		if a.tracingEnabled {
			if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracing: %w", err))
			}
		}
		if err := observability.GetAuditLogger().Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit log: %w", err))
		}
	})
	return errors.Join(errs...)
}
