// Package backfill links tokens to the session they were issued under,
// using the hashed session key the tokens stored before the foreign key existed.
//
// A run is three stages: BuildIndex reads every session once, Resolve maps
// each token to a session without writing, and Persist stores the result.
package backfill

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/koyif/sessionlink/internal/logger"
	"github.com/koyif/sessionlink/internal/progress"
	"github.com/koyif/sessionlink/internal/repository"
)

// Config holds the engine settings.
type Config struct {
	Policy   FailurePolicy
	Parallel bool // run the per-table passes concurrently
	Progress progress.Options
	Hash     HashFunc
}

// DefaultConfig returns sequential, continue-on-error settings.
func DefaultConfig() Config {
	return Config{
		Policy:   ContinueOnError,
		Progress: progress.DefaultOptions(),
		Hash:     SHA256Hex,
	}
}

// Summary is the outcome of a full engine run.
type Summary struct {
	Index   IndexStats
	Results []Result
}

// Engine runs the backfill for a set of token tables against one session table.
type Engine struct {
	sessions repository.SessionRepository
	tokens   []repository.TokenRepository
	sink     progress.Sink
	logger   *zap.Logger
	cfg      Config
}

func NewEngine(sessions repository.SessionRepository, tokens []repository.TokenRepository, sink progress.Sink, log *zap.Logger, cfg Config) *Engine {
	if log == nil {
		log = zap.L()
	}
	if sink == nil {
		sink = progress.NewZapSink(log)
	}
	if cfg.Hash == nil {
		cfg.Hash = SHA256Hex
	}

	return &Engine{
		sessions: sessions,
		tokens:   tokens,
		sink:     sink,
		logger:   log,
		cfg:      cfg,
	}
}

// Run builds the session index once and then links every token table.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	index, stats, err := e.buildIndex(ctx)
	if err != nil {
		return summary, err
	}
	summary.Index = stats

	summary.Results = make([]Result, len(e.tokens))

	if !e.cfg.Parallel {
		for i, repo := range e.tokens {
			res, err := e.linkTable(ctx, repo, index)
			summary.Results[i] = res
			if err != nil {
				return summary, err
			}
		}
		return summary, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, repo := range e.tokens {
		g.Go(func() error {
			res, err := e.linkTable(gctx, repo, index)
			summary.Results[i] = res
			return err
		})
	}

	return summary, g.Wait()
}

func (e *Engine) buildIndex(ctx context.Context) (Index, IndexStats, error) {
	log := logger.FromContext(ctx, e.logger)
	log.Info("Fetching session keys, this might take a couple of minutes...")

	total := e.count(ctx, "sessions", e.sessions.Count)
	sessions := progress.Wrap(e.sessions.Scan(ctx), "sessions", total, e.sink, e.cfg.Progress)

	index, stats, err := BuildIndex(sessions, e.cfg.Hash)
	if err != nil {
		return nil, stats, err
	}

	log.Info("Session index built",
		zap.Int64("sessions", stats.Sessions),
		zap.Int("digests", len(index)),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("collisions", stats.Collisions))

	return index, stats, nil
}

func (e *Engine) linkTable(ctx context.Context, repo repository.TokenRepository, index Index) (Result, error) {
	table := repo.Table()
	log := logger.FromContext(ctx, e.logger)
	log.Info(fmt.Sprintf("Adding session to %s, this might take a couple of minutes...", table))

	total := e.count(ctx, table, repo.Count)
	tokens := progress.Wrap(repo.Scan(ctx), table, total, e.sink, e.cfg.Progress)

	res, err := Persist(ctx, table, Resolve(ctx, tokens, index, e.sessions.GetBySessionKey), repo, e.cfg.Policy, log)
	if err != nil {
		return res, fmt.Errorf("failed to link %s: %w", table, err)
	}

	log.Info("Linked tokens to sessions",
		zap.String("table", table),
		zap.Int64("scanned", res.Scanned),
		zap.Int64("resolved", res.Resolved),
		zap.Int64("missed", res.MissedTotal()),
		zap.Int64("failed", res.Failed))

	return res, nil
}

// count returns the row count for progress estimates, or 0 (unknown) if it fails.
func (e *Engine) count(ctx context.Context, what string, fn func(context.Context) (int64, error)) int64 {
	n, err := fn(ctx)
	if err != nil {
		logger.FromContext(ctx, e.logger).Warn("Could not count rows, progress will not show an estimate",
			zap.String("source", what),
			zap.Error(err))
		return 0
	}
	return n
}
