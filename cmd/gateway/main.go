package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/accounting"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/broadcast"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/config"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/domain"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/http"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/http/middleware"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/observability"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/anthropic"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/echo"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/openai"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/openaicompat"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/provider/registry"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/storage"
	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/tokens"
)

const shutdownTimeout = 30 * time.Second

// ErrNoProviders indicates that no provider is configured.
var ErrNoProviders = errors.New("no providers configured")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container := buildContainer()

	err := container.Invoke(func(
		server *http.Server,
		sweeper *domain.SessionSweeper,
		manager *broadcast.Manager,
		backend *storage.Backend,
		sweepCfg *config.SweeperConfig,
	) error {
		defer func() {
			if closeErr := backend.Close(); closeErr != nil {
				observability.FromContext(ctx).Error("failed to close storage", observability.Error(closeErr))
			}
		}()
		defer manager.Shutdown()

		if sweeper != nil {
			go sweeper.Run(ctx, sweepCfg.Interval)
		}

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err != nil {
		log.Fatalf("Gateway stopped: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}
	if err := container.Provide(func(logger *zap.Logger) domain.EventPublisher {
		return observability.NewEventBus(logger)
	}); err != nil {
		log.Fatalf("Failed to provide event bus: %v", err)
	}

	// Storage
	if err := container.Provide(func(cfg *config.StorageConfig) (*storage.Backend, error) {
		return storage.Open(context.Background(), cfg)
	}); err != nil {
		log.Fatalf("Failed to provide storage: %v", err)
	}

	// Pricing
	if err := container.Provide(func(cfg *config.CreditsConfig) (domain.CostCalculator, error) {
		return config.NewCostCalculator(context.Background(), cfg)
	}); err != nil {
		log.Fatalf("Failed to provide cost calculator: %v", err)
	}

	// Session state machine
	if err := container.Provide(func(
		backend *storage.Backend,
		calculator domain.CostCalculator,
		events domain.EventPublisher,
		cfg *config.CreditsConfig,
	) *domain.SessionManager {
		return domain.NewSessionManager(backend.Ledger, backend.Sessions, calculator, events, domain.SessionManagerOptions{
			Service:          cfg.Service,
			ChargeOverage:    cfg.ChargeOverage,
			RefundExpiryDays: cfg.RefundExpiryDays,
		})
	}); err != nil {
		log.Fatalf("Failed to provide session manager: %v", err)
	}
	if err := container.Provide(provideSessionService); err != nil {
		log.Fatalf("Failed to provide session service: %v", err)
	}
	if err := container.Provide(func(
		backend *storage.Backend,
		sessions *domain.SessionManager,
		cfg *config.SweeperConfig,
		streaming *config.StreamingConfig,
		credits *config.CreditsConfig,
	) (*domain.SessionSweeper, error) {
		// A remote accounting service sweeps its own sessions.
		if !cfg.Enabled || credits.AccountingURL != "" {
			return nil, nil
		}
		return domain.NewSessionSweeper(backend.Sessions, sessions, cfg.MaxAge, streamLifetime(streaming))
	}); err != nil {
		log.Fatalf("Failed to provide session sweeper: %v", err)
	}

	// Provider Registry
	if err := container.Provide(buildRegistry); err != nil {
		log.Fatalf("Failed to provide registry: %v", err)
	}

	// Token estimation
	if err := container.Provide(func(cfg *config.StreamingConfig, logger *zap.Logger) domain.TokenEstimator {
		if cfg.Tokenizer == "tiktoken" {
			return tokens.NewTiktokenEstimator(tokens.DefaultLoader, logger)
		}
		return domain.HeuristicEstimator{}
	}); err != nil {
		log.Fatalf("Failed to provide token estimator: %v", err)
	}

	// Broadcast
	if err := container.Provide(func(cfg *config.ObserverConfig) *broadcast.Manager {
		return broadcast.NewManager(broadcast.Options{
			HistorySize: cfg.HistorySize,
			Grace:       cfg.Grace,
			MailboxSize: cfg.MailboxSize,
		})
	}); err != nil {
		log.Fatalf("Failed to provide broadcast manager: %v", err)
	}

	// Chunk pipeline
	if err := container.Provide(func(
		reg domain.ProviderRegistry,
		sessions domain.SessionService,
		estimator domain.TokenEstimator,
		manager *broadcast.Manager,
		cfg *config.StreamingConfig,
	) *domain.Pipeline {
		return domain.NewPipeline(reg, sessions, estimator, manager, pipelineOptions(cfg))
	}); err != nil {
		log.Fatalf("Failed to provide pipeline: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(func(
		pipeline *domain.Pipeline,
		sessions domain.SessionService,
		backend *storage.Backend,
		manager *broadcast.Manager,
		cfg *config.CreditsConfig,
		observer *config.ObserverConfig,
	) *http.Handler {
		var ledger http.CreditLedger
		if cfg.AccountingURL == "" {
			ledger = backend.Ledger
		}
		return http.NewHandler(pipeline, sessions, ledger, manager, observer.Roles)
	}); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}

func pipelineOptions(cfg *config.StreamingConfig) domain.PipelineOptions {
	return domain.PipelineOptions{
		Timeout:       cfg.Timeout,
		LedgerTimeout: cfg.LedgerTimeout,
		SinkBuffer:    cfg.SinkBuffer,
		SinkStall:     cfg.SinkStall,
		Estimate: domain.EstimateOptions{
			DefaultMaxTokens: cfg.DefaultMaxTokens,
			Margin:           cfg.EstimateMargin,
		},
	}
}

func streamLifetime(cfg *config.StreamingConfig) time.Duration {
	return pipelineOptions(cfg).Lifetime()
}

// provideSessionService meters against the local ledger unless a remote
// accounting service is configured.
func provideSessionService(
	cfg *config.CreditsConfig,
	local *domain.SessionManager,
) (domain.SessionService, error) {
	if cfg.AccountingURL == "" {
		return local, nil
	}

	client, err := accounting.NewClient(accounting.Options{
		BaseURL: cfg.AccountingURL,
		Timeout: cfg.AccountingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create accounting client: %w", err)
	}

	observability.FromContext(context.Background()).Info("metering against remote accounting service",
		observability.String("url", cfg.AccountingURL),
	)
	return client, nil
}

// buildRegistry registers every configured provider in match order. The
// catch-all OpenAI-compatible pattern goes last.
func buildRegistry(
	openaiCfg *openai.Config,
	anthropicCfg *anthropic.Config,
	compatCfg *openaicompat.Config,
	echoCfg *echo.Config,
) (domain.ProviderRegistry, error) {
	ctx := context.Background()
	logger := observability.FromContext(ctx)
	reg := registry.NewRegistry()

	if echoCfg.Enabled {
		if err := reg.Register(ctx, echo.ModelPattern, echo.NewProvider(*echoCfg)); err != nil {
			return nil, fmt.Errorf("failed to register echo provider: %w", err)
		}
	}

	if openaiCfg.APIKey != "" {
		provider, err := openai.NewProvider(*openaiCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI provider: %w", err)
		}
		if err := reg.Register(ctx, openaiCfg.ModelPattern, provider); err != nil {
			return nil, fmt.Errorf("failed to register OpenAI provider: %w", err)
		}
	}

	if anthropicCfg.APIKey != "" {
		provider, err := anthropic.NewProvider(*anthropicCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic provider: %w", err)
		}
		if err := reg.Register(ctx, anthropicCfg.ModelPattern, provider); err != nil {
			return nil, fmt.Errorf("failed to register Anthropic provider: %w", err)
		}
	}

	if compatCfg.BaseURL != "" {
		provider, err := openaicompat.NewProvider(*compatCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI-compatible provider: %w", err)
		}
		if err := reg.Register(ctx, compatCfg.ModelPattern, provider); err != nil {
			return nil, fmt.Errorf("failed to register OpenAI-compatible provider: %w", err)
		}
	}

	names, err := reg.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ErrNoProviders
	}
	logger.Info("providers registered", observability.Strings("providers", names))

	return reg, nil
}
