// File: internal/service/service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vantor-labs/concierge/api/schemas"
	"github.com/vantor-labs/concierge/internal/agent"
	"github.com/vantor-labs/concierge/internal/audit"
	"github.com/vantor-labs/concierge/internal/browser"
	"github.com/vantor-labs/concierge/internal/config"
	"github.com/vantor-labs/concierge/internal/history"
	"github.com/vantor-labs/concierge/internal/llmclient"
	"github.com/vantor-labs/concierge/internal/tools"
)

// Service is the assembled runtime: one message in, one reply plus a
// side-effect log out. It owns the lifecycle of every component it wires.
type Service struct {
	cfg        *config.Config
	logger     *zap.Logger
	controller *agent.Controller
	manager    *browser.Manager
	profiles   schemas.ProfileStore
	histories  schemas.HistoryStore
	auditSink  *audit.AsyncSink
	dbPool     *pgxpool.Pool

	// turnLocks serializes turns per customer; concurrent requests for the
	// same customer would interleave history writes.
	turnLocks sync.Map // customerID -> *sync.Mutex
}

// New wires the full stack from configuration: LLM client, browser manager,
// tool registry, persistence, audit, and the loop controller.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Service, error) {
	llm, err := llmclient.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build LLM client: %w", err)
	}

	manager, err := browser.NewManager(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser manager: %w", err)
	}

	svc := &Service{
		cfg:     cfg,
		logger:  logger.Named("service"),
		manager: manager,
	}

	if cfg.Database.URL != "" {
		pool, err := newPGXPool(ctx, cfg.Database.URL)
		if err != nil {
			_ = manager.Shutdown(ctx)
			return nil, err
		}
		svc.dbPool = pool

		store, err := history.New(ctx, pool, logger)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.profiles = store
		svc.histories = store

		auditStore, err := audit.New(ctx, pool, logger)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.auditSink = audit.NewAsyncSink(auditStore, cfg.Database.AuditQueueSize, logger)
	} else {
		logger.Warn("No database configured; history and audit are disabled for this process.")
	}

	registry := tools.NewRegistry(logger)

	var sink schemas.AuditSink
	if svc.auditSink != nil {
		sink = svc.auditSink
	}
	svc.controller = agent.NewController(
		llm,
		registry,
		func() schemas.BrowserSession { return manager.NewSession() },
		sink,
		cfg.Agent,
		logger,
	)
	return svc, nil
}

func newPGXPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database is unreachable: %w", err)
	}
	return pool, nil
}

// HandleMessage runs one customer turn end to end: load context, run the
// agent loop, persist the exchange. Turns for the same customer are
// serialized.
func (s *Service) HandleMessage(ctx context.Context, customerID, text string) (*agent.TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &schemas.ValidationError{Field: "text", Reason: "message is empty"}
	}
	if customerID == "" {
		return nil, &schemas.ValidationError{Field: "customer_id", Reason: "required"}
	}

	lock, _ := s.turnLocks.LoadOrStore(customerID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	req := agent.TurnRequest{
		CustomerID: customerID,
		UserText:   text,
	}

	if s.profiles != nil {
		profile, err := s.profiles.LoadProfile(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load customer context: %w", err)
		}
		req.System = buildSystemPrompt(profile)
	} else {
		req.System = buildSystemPrompt(nil)
	}

	if s.histories != nil {
		msgs, err := s.histories.LoadHistory(ctx, customerID, s.cfg.Agent.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		req.History = msgs
	}

	result, err := s.controller.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.histories != nil {
		rec := &schemas.TurnRecord{
			CustomerID:  customerID,
			UserText:    text,
			ReplyText:   result.Reply,
			Invocations: result.Invocations,
			At:          time.Now(),
		}
		if err := s.histories.SaveTurn(ctx, rec); err != nil {
			// The reply already exists; losing one history row is preferable
			// to failing the turn.
			s.logger.Error("Failed to persist turn", zap.String("customer_id", customerID), zap.Error(err))
		}
	}
	return result, nil
}

// buildSystemPrompt assembles the per-turn system prompt from the fixed
// behavioral instructions and the customer's profile.
func buildSystemPrompt(profile *schemas.CustomerProfile) string {
	var sb strings.Builder
	sb.WriteString("You are a personal concierge assistant. You help customers research options, ")
	sb.WriteString("fill in forms, and complete tasks on public websites using the browser tool.\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Never claim an action was completed unless a tool call actually performed it.\n")
	sb.WriteString("- Ask before submitting anything irreversible (payments, final bookings).\n")
	sb.WriteString("- Keep replies short and concrete.\n")

	if profile != nil {
		sb.WriteString("\nCustomer: ")
		sb.WriteString(profile.DisplayName)
		if profile.PreferenceDocument != "" {
			sb.WriteString("\nPreferences:\n")
			sb.WriteString(profile.PreferenceDocument)
		}
	}
	return sb.String()
}

// Close releases everything in dependency order: drain audit, stop the
// browser, close the pool.
func (s *Service) Close() {
	if s.auditSink != nil {
		s.auditSink.Close()
	}
	if s.manager != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.manager.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		}
	}
	if s.dbPool != nil {
		s.dbPool.Close()
	}
}
