// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/buke/js-scheduler/config"
	"github.com/buke/js-scheduler/dataprocessor"
	"github.com/prometheus/client_golang/prometheus"
)

// runtimeEnv is a scheduler with every configured pool created.
type runtimeEnv struct {
	cfg       *config.Config
	scheduler *jsscheduler.Scheduler
	registry  *prometheus.Registry
}

// startScheduler loads the configuration and creates its pools. The caller owns the
// returned scheduler and must call Cleanup.
func startScheduler(ctx context.Context, configPath string, logOut io.Writer) (*runtimeEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.Log.Logger(logOut)
	registry := prometheus.NewRegistry()
	s := jsscheduler.New(cfg.SchedulerOptions(logger, registry)...)

	for _, pool := range cfg.Pools {
		factory, err := pool.UnitFactory(engineFactory(pool.Engine, pool.EngineOptions), logger)
		if err != nil {
			s.Cleanup()
			return nil, err
		}
		if _, err := s.CreatePool(ctx, pool.ID, factory, pool.Capacity); err != nil {
			s.Cleanup()
			return nil, err
		}
		logger.Debug("Pool ready", "pool", pool.ID, "engine", pool.Engine, "capacity", pool.Capacity)
	}

	if dp := cfg.DataProcessor; dp.Enabled {
		engine := engineFactory(dp.Engine, dp.EngineOptions)
		if engine == nil {
			s.Cleanup()
			return nil, fmt.Errorf("%s: engine %q is not available", dataprocessor.PoolID, dp.Engine)
		}
		opts := []dataprocessor.Option{
			dataprocessor.WithEngine(engine),
			dataprocessor.WithLogger(logger),
			dataprocessor.WithJobTimeout(dp.JobTimeout),
		}
		if dp.Capacity > 0 {
			opts = append(opts, dataprocessor.WithCapacity(dp.Capacity))
		}
		if _, err := dataprocessor.New(ctx, s, opts...); err != nil {
			s.Cleanup()
			return nil, err
		}
	}

	return &runtimeEnv{cfg: cfg, scheduler: s, registry: registry}, nil
}

// jobOptions returns the configured defaults of poolID.
func (env *runtimeEnv) jobOptions(poolID string) []jsscheduler.JobOption {
	if pool, ok := env.cfg.Pool(poolID); ok {
		return pool.JobOptions()
	}
	if poolID == dataprocessor.PoolID && env.cfg.DataProcessor.JobTimeout > 0 {
		return []jsscheduler.JobOption{jsscheduler.JobTimeout(env.cfg.DataProcessor.JobTimeout)}
	}
	return nil
}
