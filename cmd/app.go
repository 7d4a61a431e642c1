package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/gradeblend/internal/config"
	"github.com/abhisek/gradeblend/internal/grader"
	"github.com/abhisek/gradeblend/internal/judge"
	"github.com/abhisek/gradeblend/internal/llm"
	"github.com/abhisek/gradeblend/internal/logging"
	"github.com/abhisek/gradeblend/internal/store"
)

// app bundles everything a command needs. Fields are nil when the
// command did not ask for them.
type app struct {
	cfg    config.Config
	log    *zap.SugaredLogger
	store  *store.Store
	judge  *judge.Judge
	engine *grader.Engine

	// judgeErr explains why the judge has no provider.
	judgeErr error
}

type part int

const (
	withStore part = 1 << iota
	withJudge
	withEngine
)

// open builds the requested components. The engine implies the judge and
// the judge implies the audit store.
func open(ctx context.Context, cmd *cobra.Command, parts part) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &app{cfg: cfg, log: log}

	if parts&withEngine != 0 {
		parts |= withJudge
	}
	if parts&withJudge != 0 {
		parts |= withStore
	}

	if parts&withStore != 0 {
		dbPath, err := store.DBPath(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		rt.store, err = store.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	}

	if parts&withJudge != 0 {
		provider, err := llm.NewProvider(ctx, cfg.LLM(), rt.store.EventRepo(), log)
		if err != nil {
			// Grading still works without a judge.
			rt.judgeErr = err
			log.Debugw("judge provider unavailable", "provider", cfg.Judge.PreferredProvider, "error", err)
			provider = nil
		}
		rt.judge, err = judge.New(provider, cfg.DataDir, cfg.JudgeSettings(), judge.WithLogger(log))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open judge: %w", err)
		}
	}

	if parts&withEngine != 0 {
		rt.engine, err = grader.New(cfg.Engine(),
			grader.WithJudge(rt.judge),
			grader.WithEventRepo(rt.store.EventRepo()),
			grader.WithLogger(log),
		)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open engine: %w", err)
		}
	}
	return rt, nil
}

func (rt *app) Close() error {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.log != nil {
		// Syncing stderr fails on some terminals; nothing to report.
		_ = rt.log.Sync()
	}
	return errors.Join(errs...)
}
