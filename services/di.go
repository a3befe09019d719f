package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/krshsl/mockmate/cache"
	"github.com/krshsl/mockmate/llm"
	"github.com/krshsl/mockmate/repository"
	ws "github.com/krshsl/mockmate/websocket"
	"github.com/samber/do/v2"
	"gorm.io/gorm"
)

const redisPingTimeout = 3 * time.Second

// RegisterDI provides every service the HTTP server needs. The injector must
// already hold a *Config.
func RegisterDI(injector do.Injector) {
	registerStorage(injector)
	registerLLM(injector)
	registerInterview(injector)
	registerHTTP(injector)
}

func registerStorage(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*gorm.DB, error) {
		cfg := do.MustInvoke[*Config](i)
		return repository.OpenDatabase(cfg.Database.URL, cfg.Database.LogLevel, cfg.Database.MaxIdleConns, cfg.Database.MaxOpenConns)
	})

	// Health checks ping postgres through a dedicated pgx pool; sqlite has none
	do.Provide(injector, func(i do.Injector) (*pgxpool.Pool, error) {
		cfg := do.MustInvoke[*Config](i)
		if !repository.IsPostgresURL(cfg.Database.URL) {
			return nil, nil
		}
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		return pool, nil
	})

	do.Provide(injector, func(i do.Injector) (*repository.GORMRepository, error) {
		return repository.NewGORMRepository(do.MustInvoke[*gorm.DB](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*repository.ConversationRepository, error) {
		return repository.NewConversationRepository(do.MustInvoke[*gorm.DB](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (cache.Cache, error) {
		cfg := do.MustInvoke[*Config](i)
		if cfg.Redis.URL == "" {
			slog.Info("Redis not configured, using in-memory cache")
			return cache.NewFallback(nil), nil
		}
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			// Keep the client; Fallback serves from memory until redis answers
			slog.Warn("Redis unreachable at startup, falling back to memory", "error", err)
		}
		return cache.NewFallback(rc), nil
	})
}

func registerLLM(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*llm.Gateway, error) {
		cfg := do.MustInvoke[*Config](i)
		params := cfg.AI.GenerationParams()

		var providers []llm.Provider
		if p, err := llm.NewGeminiProvider(context.Background(), cfg.AI.GoogleAPIKey, params); err == nil {
			providers = append(providers, p)
		} else if !llm.IsNotConfigured(err) {
			return nil, err
		}
		if p, err := llm.NewOpenAIProvider(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIBaseURL, params); err == nil {
			providers = append(providers, p)
		} else if !llm.IsNotConfigured(err) {
			return nil, err
		}
		if p, err := llm.NewOllamaProvider(cfg.AI.OllamaURL, params); err == nil {
			providers = append(providers, p)
		} else if !llm.IsNotConfigured(err) {
			return nil, err
		}

		gateway := llm.NewGateway(llm.NewRetryPolicy(cfg.AI.MaxAttempts, cfg.AI.BaseBackoff), providers...)
		if !gateway.Configured(cfg.AI.DefaultProvider) {
			slog.Warn("Default AI provider is not configured, interviews will use fallback questions", "provider", cfg.AI.DefaultProvider)
		}
		return gateway, nil
	})

	do.Provide(injector, func(i do.Injector) (*CompanyResearch, error) {
		cfg := do.MustInvoke[*Config](i)
		gs, err := NewGoogleSearcher(context.Background(), cfg.Search.APIKey, cfg.Search.EngineID)
		if err != nil {
			return nil, err
		}
		var searcher Searcher
		if gs != nil {
			searcher = gs
		} else {
			slog.Info("Company search not configured, research will use the model only")
		}
		return NewCompanyResearch(searcher, do.MustInvoke[*llm.Gateway](i), cfg.AI.DefaultProvider, do.MustInvoke[cache.Cache](i), cfg.Cache.CompanyTTL), nil
	})
}

func registerInterview(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*ws.Hub, error) {
		return ws.NewHub(), nil
	})
	do.Provide(injector, func(i do.Injector) (*SessionStore, error) {
		cfg := do.MustInvoke[*Config](i)
		return NewSessionStore(do.MustInvoke[*repository.GORMRepository](i), do.MustInvoke[cache.Cache](i), cfg.Cache.SessionTTL), nil
	})
	do.Provide(injector, func(i do.Injector) (*ErrorLog, error) {
		return NewErrorLog(do.MustInvoke[*repository.GORMRepository](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*PromptTemplates, error) {
		return NewPromptTemplates(do.MustInvoke[*repository.GORMRepository](i), do.MustInvoke[cache.Cache](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*ReportGenerator, error) {
		cfg := do.MustInvoke[*Config](i)
		return NewReportGenerator(
			do.MustInvoke[*repository.GORMRepository](i),
			do.MustInvoke[*SessionStore](i),
			do.MustInvoke[*repository.ConversationRepository](i),
			do.MustInvoke[*llm.Gateway](i),
			do.MustInvoke[*PromptTemplates](i),
			do.MustInvoke[*ErrorLog](i),
			do.MustInvoke[*ws.Hub](i),
			cfg.AI.DefaultProvider,
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*Interviewer, error) {
		cfg := do.MustInvoke[*Config](i)
		return NewInterviewer(InterviewerDeps{
			Store:           do.MustInvoke[*SessionStore](i),
			Conversations:   do.MustInvoke[*repository.ConversationRepository](i),
			Gateway:         do.MustInvoke[*llm.Gateway](i),
			Templates:       do.MustInvoke[*PromptTemplates](i),
			Research:        do.MustInvoke[*CompanyResearch](i),
			Reports:         do.MustInvoke[*ReportGenerator](i),
			ErrorLog:        do.MustInvoke[*ErrorLog](i),
			Events:          do.MustInvoke[*ws.Hub](i),
			DefaultProvider: cfg.AI.DefaultProvider,
			TotalQuestions:  cfg.Interview.TotalQuestions,
		}), nil
	})
	do.Provide(injector, func(i do.Injector) (*SessionTimeoutService, error) {
		cfg := do.MustInvoke[*Config](i)
		return NewSessionTimeoutService(
			do.MustInvoke[*repository.GORMRepository](i),
			do.MustInvoke[*SessionStore](i),
			do.MustInvoke[*ReportGenerator](i),
			do.MustInvoke[*ErrorLog](i),
			do.MustInvoke[*ws.Hub](i),
			cfg.Interview.IdleTimeout,
			cfg.Interview.SweepSchedule,
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*AuthService, error) {
		cfg := do.MustInvoke[*Config](i)
		if cfg.JWT.Secret == "" {
			slog.Warn("JWT secret not configured, authentication is disabled")
		}
		return NewAuthService(do.MustInvoke[*repository.GORMRepository](i), cfg.JWT.Secret), nil
	})
	do.Provide(injector, func(i do.Injector) (*DatabaseSeeder, error) {
		cfg := do.MustInvoke[*Config](i)
		var users []SeedUser
		if cfg.Database.AdminEmail != "" && cfg.Database.AdminPassword != "" {
			users = append(users, SeedUser{
				Email:    cfg.Database.AdminEmail,
				Password: cfg.Database.AdminPassword,
				FullName: "Administrator",
				Role:     "admin",
			})
		}
		return NewDatabaseSeeder(
			do.MustInvoke[*repository.GORMRepository](i),
			do.MustInvoke[*PromptTemplates](i),
			do.MustInvoke[*AuthService](i),
			users...,
		), nil
	})
}

func registerHTTP(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		cfg := do.MustInvoke[*Config](i)
		interviewer := do.MustInvoke[*Interviewer](i)
		hub := do.MustInvoke[*ws.Hub](i)
		c := do.MustInvoke[cache.Cache](i)
		return NewServer(ServerDeps{
			Config:             cfg,
			DB:                 do.MustInvoke[*gorm.DB](i),
			Pool:               do.MustInvoke[*pgxpool.Pool](i),
			Cache:              c,
			AuthService:        do.MustInvoke[*AuthService](i),
			InterviewEndpoints: NewInterviewEndpoints(interviewer),
			AdminEndpoints:     NewAdminEndpoints(do.MustInvoke[*PromptTemplates](i), do.MustInvoke[*ErrorLog](i), c),
			WebSocketHandler:   NewWebSocketHandler(interviewer, hub, cfg.WebSocket.AllowedOrigins),
			Hub:                hub,
			TimeoutService:     do.MustInvoke[*SessionTimeoutService](i),
			Reports:            do.MustInvoke[*ReportGenerator](i),
		}), nil
	})
}
