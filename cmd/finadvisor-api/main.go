package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/PabloGalante/finadvisor/internal/adapters/http"
	"github.com/PabloGalante/finadvisor/internal/adapters/jobs/local"
	openaijobs "github.com/PabloGalante/finadvisor/internal/adapters/jobs/openai"
	"github.com/PabloGalante/finadvisor/internal/adapters/llm"
	firestorestore "github.com/PabloGalante/finadvisor/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/finadvisor/internal/adapters/storage/memory"
	mongostore "github.com/PabloGalante/finadvisor/internal/adapters/storage/mongo"
	pgstore "github.com/PabloGalante/finadvisor/internal/adapters/storage/postgres"
	redisstore "github.com/PabloGalante/finadvisor/internal/adapters/storage/redis"
	sqlitestore "github.com/PabloGalante/finadvisor/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/finadvisor/internal/app/conversation"
	"github.com/PabloGalante/finadvisor/internal/app/history"
	"github.com/PabloGalante/finadvisor/internal/app/runloop"
	"github.com/PabloGalante/finadvisor/internal/app/tools"
	"github.com/PabloGalante/finadvisor/internal/config"
	"github.com/PabloGalante/finadvisor/internal/domain"
	"github.com/PabloGalante/finadvisor/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := observability.Configure(os.Stdout, cfg.IsDevelopment())
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("finadvisor-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher := tools.NewDispatcher(tools.NewFinancialDataTool(nil))

	jobs, assistant, closeJobs, err := openJobs(ctx, cfg, dispatcher.Specs(), log)
	if err != nil {
		return err
	}
	defer closeJobs()
	log.Info("assistant ready", "assistant_id", assistant.ID, "model", assistant.Model, "job_backend", cfg.JobBackend)

	hist := history.NewService(store, jobs)
	poller := runloop.NewPoller(jobs, hist, dispatcher, runloop.Options{
		MaxAttempts: cfg.PollMaxAttempts,
		Interval:    cfg.PollInterval,
	})
	svc := conversation.NewService(hist, jobs, poller, assistant, conversation.Options{
		SerializeTurns:     cfg.SerializeTurns,
		CancelOnDisconnect: cfg.CancelOnDisconnect,
	})

	handler := httpadapter.NewServer(svc, httpadapter.Options{
		AllowedOrigins:    cfg.AllowedOrigins(),
		ChatRatePerMinute: cfg.ChatRatePerMinute,
		HistoryLimit:      cfg.HistoryLimit,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Event streams clear their own write deadline.
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("finadvisor API listening", "addr", srv.Addr, "mode", cfg.Mode, "storage", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	// Open streams get one full poll budget to finish.
	grace := time.Duration(cfg.PollMaxAttempts)*cfg.PollInterval + 5*time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (domain.ConversationStore, func(), error) {
	noop := func() {}

	switch cfg.StorageBackend {
	case config.StorageFirestore:
		log.Info("using firestore storage", "project", cfg.GCPProjectID)
		s, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.StoragePostgres:
		log.Info("using postgres storage")
		s, err := pgstore.NewStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil

	case config.StorageSQLite:
		log.Info("using sqlite storage", "path", cfg.SQLitePath)
		s, err := sqlitestore.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.StorageRedis:
		log.Info("using redis storage")
		s, err := redisstore.NewStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.StorageMongo:
		log.Info("using mongo storage", "database", cfg.MongoDatabase)
		s, err := mongostore.NewStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, noop, err
		}
		return s, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.Close(closeCtx)
		}, nil

	default:
		log.Info("using in-memory storage")
		return memstore.NewConversationStore(), noop, nil
	}
}

func openJobs(ctx context.Context, cfg *config.Config, specs []domain.ToolSpec, log *slog.Logger) (domain.JobStore, domain.Assistant, func(), error) {
	def := llm.AdvisorAssistant(cfg.ModelName)

	if cfg.JobBackend == config.JobsOpenAI {
		js, err := openaijobs.NewJobStore(openaijobs.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL})
		if err != nil {
			return nil, domain.Assistant{}, nil, err
		}
		a, err := js.EnsureAssistant(ctx, domain.AssistantID(cfg.OpenAIAssistantID), def, specs)
		if err != nil {
			return nil, domain.Assistant{}, nil, fmt.Errorf("provisioning assistant: %w", err)
		}
		return js, a, func() {}, nil
	}

	var client domain.LLMClient
	switch cfg.JobBackend {
	case config.JobsVertex:
		vc, err := llm.NewVertexClient(ctx, llm.VertexConfig{
			Project:  cfg.GCPProjectID,
			Location: cfg.GCPLocation,
			Model:    cfg.ModelName,
		})
		if err != nil {
			return nil, domain.Assistant{}, nil, err
		}
		client = vc
	case config.JobsAnthropic:
		client = llm.NewAnthropicClient(llm.AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Model: cfg.ModelName})
	default:
		log.Warn("using mock LLM; answers are canned")
		client = llm.NewMockLLM()
	}

	js := local.NewJobStore(client, local.Options{
		Assistant:    def,
		Tools:        specs,
		PauseTimeout: cfg.PauseTimeout,
		Logger:       log,
	})
	return js, js.Assistant(), js.Close, nil
}
