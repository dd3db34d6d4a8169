package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-gate/internal/audit"
	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/credential"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/database/postgres"
	"github.com/kozaktomas/face-gate/internal/database/sqlite"
	"github.com/kozaktomas/face-gate/internal/decision"
	"github.com/kozaktomas/face-gate/internal/embedding"
	"github.com/kozaktomas/face-gate/internal/enrollment"
	"github.com/kozaktomas/face-gate/internal/gallery"
	"github.com/kozaktomas/face-gate/internal/matcher"
	"github.com/kozaktomas/face-gate/internal/metrics"
	"github.com/kozaktomas/face-gate/internal/recognition"
)

// services is the wired application shared by serve and the one-shot commands.
type services struct {
	cfg          *config.Config
	backend      *database.Backend
	metrics      *metrics.Metrics
	provider     *embedding.Client
	gallery      *gallery.Store
	matcher      matcher.Matcher
	audit        *audit.Logger
	enrollment   *enrollment.Manager
	orchestrator *recognition.Orchestrator
	issuer       credential.Issuer
}

// openBackend picks PostgreSQL when DATABASE_URL is set and SQLite when SQLITE_PATH is set.
func openBackend(ctx context.Context, cfg *config.DatabaseConfig) (*database.Backend, error) {
	switch {
	case cfg.URL != "":
		fmt.Printf("Connecting to PostgreSQL database...\n")
		return postgres.OpenBackend(ctx, cfg)
	case cfg.SQLitePath != "":
		fmt.Printf("Opening SQLite database %s...\n", cfg.SQLitePath)
		return sqlite.OpenBackend(cfg.SQLitePath)
	default:
		return nil, database.ErrBackendNotConfigured
	}
}

// newServices loads the configuration, opens storage and loads the gallery.
// A nil m disables metrics, which the one-shot commands do not export.
// With refreshIndex an HNSW matcher rebuilds its graph in the background after
// every gallery change; one-shot commands leave it off.
func newServices(ctx context.Context, m *metrics.Metrics, refreshIndex bool) (*services, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	policy, err := decision.NewPolicy(cfg.Recognition.Threshold, cfg.Recognition.MarginEnabled, cfg.Recognition.MarginEpsilon)
	if err != nil {
		return nil, err
	}
	match, err := matcher.New(cfg.Recognition.Matcher, matcher.HNSWOptions{IndexPath: cfg.Database.HNSWIndexPath})
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	opts := gallery.Options{Dim: cfg.Embedding.Dim, Metrics: m}
	if h, ok := match.(*matcher.HNSW); ok && refreshIndex {
		opts.OnPublish = h.Refresh
	}
	store := gallery.NewStore(backend.Templates, opts)
	if err := store.Load(ctx); err != nil {
		backend.Close()
		return nil, err
	}

	provider := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Timeout, cfg.Embedding.MaxSide)
	auditLog := audit.NewLogger(backend.Attempts, store)

	s := &services{
		cfg:        cfg,
		backend:    backend,
		metrics:    m,
		provider:   provider,
		gallery:    store,
		matcher:    match,
		audit:      auditLog,
		enrollment: enrollment.NewManager(provider, store, m),
		orchestrator: recognition.NewOrchestrator(recognition.Config{
			Provider:         provider,
			Gallery:          store,
			Matcher:          match,
			Policy:           policy,
			Audit:            auditLog,
			Metrics:          m,
			EmbeddingTimeout: cfg.Embedding.Timeout,
		}),
	}
	if cfg.Credential.Enabled() {
		s.issuer = credential.NewJWTIssuer(cfg.Credential.SigningKey, cfg.Credential.Issuer, cfg.Credential.Audience, cfg.Credential.TTL)
	}
	return s, nil
}

func (s *services) Close() {
	if h, ok := s.matcher.(*matcher.HNSW); ok {
		h.Wait()
	}
	if err := s.backend.Close(); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}
}
