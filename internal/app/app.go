package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gin-gonic/gin"

	"persona-chat/handler"
	"persona-chat/internal/config"
	"persona-chat/internal/domain"
	"persona-chat/internal/integrations/openai"
	"persona-chat/internal/integrations/paramstore"
	"persona-chat/internal/logger"
	"persona-chat/internal/observability"
	"persona-chat/internal/repository"
	"persona-chat/internal/session"
	"persona-chat/internal/usecase"
)

// Store is everything the services need from a persistence backend.
type Store interface {
	usecase.PersonaStore
	usecase.ConversationStore
	usecase.MessageStore
	SeedPersonas(ctx context.Context, personas []domain.Persona) error
}

type App struct {
	Cfg    *config.Config
	Log    *logger.Logger
	Router *gin.Engine

	closers []func(context.Context) error
}

// New builds stores, clients, services and the router from cfg.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Cfg: cfg, Log: log}

	a.closers = append(a.closers, observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OTelEnabled,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.ServiceVersion,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.OTelSamplerRatio,
	}))

	var awsCfg aws.Config
	if cfg.StoreBackend == config.BackendDynamoDB || cfg.ParamPrefix != "" {
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return a.fail(fmt.Errorf("app: load AWS config: %w", err))
		}
		awsCfg = loaded
	}

	var params paramstore.Getter
	if cfg.ParamPrefix != "" {
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return a.fail(fmt.Errorf("app: create parameter store client: %w", err))
		}
		params = ps
	}

	store, err := a.openStore(cfg, awsCfg)
	if err != nil {
		return a.fail(err)
	}
	if cfg.SeedPredefined {
		if err := seedPredefined(ctx, store); err != nil {
			return a.fail(err)
		}
		log.Info("predefined personas seeded", "backend", cfg.StoreBackend)
	}

	llm, err := newLLMClient(cfg, params)
	if err != nil {
		return a.fail(err)
	}

	secret, err := sessionSecret(ctx, cfg, params)
	if err != nil {
		return a.fail(err)
	}
	sessions, err := session.NewManager(session.Config{
		Secret:       []byte(secret),
		CookieName:   cfg.SessionCookieName,
		TTL:          cfg.SessionTTL,
		SecureCookie: cfg.SessionSecureCookie,
		GuestEnabled: cfg.GuestSessionsEnabled,
	}, log)
	if err != nil {
		return a.fail(fmt.Errorf("app: create session manager: %w", err))
	}
	if cfg.GuestSessionsEnabled && cfg.IsProduction() {
		log.Warn("guest sessions are enabled in production")
	}

	personas, err := usecase.NewPersonaService(store)
	if err != nil {
		return a.fail(err)
	}
	conversations, err := usecase.NewConversationService(store, store, store)
	if err != nil {
		return a.fail(err)
	}
	turns, err := usecase.NewTurnService(store, store, store, llm, usecase.TurnConfig{
		Model:        cfg.OpenAIModel,
		StreamModel:  cfg.OpenAIStreamModel,
		Temperature:  cfg.OpenAITemperature,
		HistoryLimit: cfg.HistoryWindow,
		MaxTextLen:   cfg.MaxMessageLength,
	}, log)
	if err != nil {
		return a.fail(err)
	}

	h, err := handler.NewHandler(personas, conversations, turns, sessions, log)
	if err != nil {
		return a.fail(err)
	}
	a.Router = h.Router(handler.RouterOptions{
		ServiceName:    routerServiceName(cfg),
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	return a, nil
}

// Close releases everything New opened, newest first.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.Log.Sync()
	return errors.Join(errs...)
}

func (a *App) fail(err error) (*App, error) {
	_ = a.Close(context.Background())
	return nil, err
}

func (a *App) openStore(cfg *config.Config, awsCfg aws.Config) (Store, error) {
	switch cfg.StoreBackend {
	case config.BackendDynamoDB:
		s, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := repository.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("app: open sqlite store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}
}

func seedPredefined(ctx context.Context, store Store) error {
	personas, err := repository.PredefinedPersonas()
	if err != nil {
		return fmt.Errorf("app: load predefined personas: %w", err)
	}
	if err := store.SeedPersonas(ctx, personas); err != nil {
		return fmt.Errorf("app: seed predefined personas: %w", err)
	}
	return nil
}

func newLLMClient(cfg *config.Config, params paramstore.Getter) (*openai.Client, error) {
	opts := []openai.Option{
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.LLMTimeout}),
	}
	if cfg.OpenAIAPIKey != "" {
		opts = append(opts, openai.WithAPIKey(cfg.OpenAIAPIKey))
	}
	var getter openai.Getter
	if params != nil {
		getter = params
	}
	client, err := openai.NewClient(getter, cfg.ParamPrefix, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create openai client: %w", err)
	}
	return client, nil
}

func sessionSecret(ctx context.Context, cfg *config.Config, params paramstore.Getter) (string, error) {
	if cfg.SessionSecret != "" {
		return cfg.SessionSecret, nil
	}
	if params == nil {
		return "", errors.New("app: no session secret source configured")
	}
	secret, err := paramstore.GetJSONField(ctx, params, cfg.SessionSecretParam(), "secret")
	if err != nil {
		return "", fmt.Errorf("app: load session secret: %w", err)
	}
	return secret, nil
}

func routerServiceName(cfg *config.Config) string {
	if !cfg.OTelEnabled {
		return ""
	}
	return cfg.ServiceName
}
