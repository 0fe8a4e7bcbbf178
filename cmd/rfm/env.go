package main

import (
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/bus"
	"github.com/opensource-finance/rfm/internal/cache"
	"github.com/opensource-finance/rfm/internal/domain"
	"github.com/opensource-finance/rfm/internal/job"
	"github.com/opensource-finance/rfm/internal/repository"
)

// environment holds the collaborators a command opened. Members are nil
// when not requested or configured as "none".
type environment struct {
	repo  *repository.SQLRepository
	cache domain.Cache
	bus   domain.EventBus
}

type envOptions struct {
	repository bool
	cache      bool
	bus        bool
}

func openEnv(cfg *domain.Config, opts envOptions) (_ *environment, err error) {
	env := &environment{}
	defer func() {
		if err != nil {
			env.Close()
		}
	}()

	if opts.repository {
		if env.repo, err = repository.New(cfg.Repository); err != nil {
			return nil, err
		}
	}
	if opts.cache {
		if env.cache, err = cache.New(cfg.Cache); err != nil {
			return nil, err
		}
	}
	if opts.bus {
		if env.bus, err = bus.New(cfg.EventBus); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// store keeps a missing repository a nil interface.
func (e *environment) store() domain.Repository {
	if e.repo == nil {
		return nil
	}
	return e.repo
}

func (e *environment) jobDeps() job.Deps {
	return job.Deps{
		Repository: e.store(),
		Cache:      e.cache,
		Bus:        e.bus,
	}
}

// Close releases everything opened, bus first.
func (e *environment) Close() {
	if e.bus != nil {
		if err := e.bus.Close(); err != nil {
			zap.L().Warn("failed to close event bus", zap.Error(err))
		}
	}
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			zap.L().Warn("failed to close cache", zap.Error(err))
		}
	}
	if e.repo != nil {
		if err := e.repo.Close(); err != nil {
			zap.L().Warn("failed to close repository", zap.Error(err))
		}
	}
}
