package api

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JaimeStill/triage/internal/agents"
	"github.com/JaimeStill/triage/internal/audit"
	"github.com/JaimeStill/triage/internal/classify"
	"github.com/JaimeStill/triage/internal/config"
	"github.com/JaimeStill/triage/internal/inference"
	"github.com/JaimeStill/triage/internal/intake"
	"github.com/JaimeStill/triage/internal/pipeline"
	"github.com/JaimeStill/triage/internal/routing"
	"github.com/JaimeStill/triage/internal/sessions"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Sessions sessions.System
	Trail    audit.Trail
	Pipeline *pipeline.Pipeline
}

// NewDomain creates all domain systems from the API runtime. The session
// store backend and audit backend follow the configured store selection.
func NewDomain(cfg *config.Config, runtime *Runtime) (*Domain, error) {
	store, trail, err := newBackends(cfg, runtime)
	if err != nil {
		return nil, err
	}

	store = sessions.WithRetry(store, sessions.RetryConfig{
		MaxRetries:      uint64(cfg.Pipeline.MaxRetries),
		InitialInterval: cfg.Pipeline.RetryIntervalDuration(),
		MaxInterval:     cfg.Pipeline.RetryMaxIntervalDuration(),
	})

	table := routing.DefaultTable()
	classifier := classify.New(
		inference.NewKeywordProvider(),
		cfg.Pipeline.ConfidenceThreshold,
		map[intake.Format]string{
			intake.FormatEmail: routing.AgentEmailParser,
			intake.FormatJSON:  routing.AgentJSON,
			intake.FormatPDF:   routing.AgentPDF,
		},
	)

	registry := agents.NewRegistry(
		agents.NewEmailAgent(),
		agents.NewJSONAgent(),
		agents.NewPDFAgent(),
	)

	pipe := pipeline.New(
		intake.NewNormalizer(cfg.Pipeline.MaxInputSize),
		classifier,
		routing.NewEngine(table),
		registry,
		store,
		trail,
		runtime.Storage,
		pipeline.Options{
			AgentTimeout:  cfg.Pipeline.AgentTimeoutDuration(),
			MaxChainDepth: cfg.Pipeline.MaxChainDepth,
		},
		runtime.Logger,
	)

	return &Domain{
		Sessions: sessions.New(store, runtime.Logger, runtime.Pagination),
		Trail:    trail,
		Pipeline: pipe,
	}, nil
}

func newBackends(cfg *config.Config, runtime *Runtime) (sessions.Store, audit.Trail, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return sessions.NewMemoryStore(), audit.NewMemoryTrail(), nil

	case config.StorePostgres:
		db := runtime.Database.Connection()
		return sessions.NewPostgresStore(db), audit.NewPostgresTrail(db), nil

	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		store := sessions.NewRedisStore(client, cfg.Store.RedisTerminalTTLDuration())
		return store, audit.NewMemoryTrail(), nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
