package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/receivables-ledger/internal/platform/cache"
	"github.com/odyssey-erp/receivables-ledger/internal/platform/db"
	"github.com/odyssey-erp/receivables-ledger/internal/receivables"
	receivablesdb "github.com/odyssey-erp/receivables-ledger/internal/receivables/db"
	"github.com/odyssey-erp/receivables-ledger/internal/receivables/upstream"
)

// Ledger bundles the receivables service with the connections it owns.
type Ledger struct {
	Service   *receivables.Service
	Sequencer receivables.Sequencer
	Readiness map[string]ReadinessCheck

	pool   *pgxpool.Pool
	redis  *redis.Client
	logger *slog.Logger
}

// LedgerOptions tunes BuildLedger.
type LedgerOptions struct {
	Recorder receivables.Recorder
	// WithSequencer builds the request sequencer configured by SEQUENCER_BACKEND.
	WithSequencer bool
}

// BuildLedger connects the configured transaction source and assembles the service.
func BuildLedger(ctx context.Context, cfg *Config, logger *slog.Logger, opts LedgerOptions) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{Readiness: map[string]ReadinessCheck{}, logger: logger}

	var (
		source   receivables.Source
		balances receivables.BalanceSource
	)
	switch cfg.LedgerSource {
	case SourcePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		l.pool = pool
		l.Readiness["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		if cfg.PGMigrate {
			if err := receivablesdb.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		store := receivablesdb.New(pool)
		source, balances = store, store
	default:
		var tokens upstream.TokenSource
		if cfg.UpstreamServiceToken != "" {
			tokens = upstream.StaticToken(cfg.UpstreamServiceToken)
		}
		loc, err := cfg.Location()
		if err != nil {
			return nil, err
		}
		client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, tokens, logger).WithLocation(loc)
		source, balances = client, client
	}
	if !cfg.LedgerAuthoritative {
		balances = nil
	}

	if opts.WithSequencer {
		seq, err := l.sequencer(ctx, cfg)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.Sequencer = seq
	}

	l.Service = receivables.NewService(source, balances, logger, opts.Recorder)
	l.Service.WithAuthoritativeTimeout(cfg.LedgerAuthoritativeTimeout)
	logger.Info("receivables ledger ready",
		slog.String("source", cfg.LedgerSource),
		slog.Bool("authoritative", balances != nil),
		slog.String("sequencer", cfg.SequencerBackend),
	)
	return l, nil
}

func (l *Ledger) sequencer(ctx context.Context, cfg *Config) (receivables.Sequencer, error) {
	switch cfg.SequencerBackend {
	case SequencerRedis:
		client, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("app: connect redis: %w", err)
		}
		l.redis = client
		l.Readiness["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return receivables.NewRedisSequencer(client, cfg.SequencerTTL), nil
	case SequencerNone:
		return nil, nil
	default:
		return receivables.NewMemorySequencer(cfg.SequencerTTL), nil
	}
}

// Close releases the pools opened by BuildLedger.
func (l *Ledger) Close() {
	if l == nil {
		return
	}
	if l.redis != nil {
		if err := l.redis.Close(); err != nil {
			l.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if l.pool != nil {
		l.pool.Close()
	}
}

// RedisClientOpt returns the asynq connection options for the configured Redis.
func (c *Config) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}
