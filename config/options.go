// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Logger builds the slog logger described by the log section.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SchedulerOptions converts the scheduler section into scheduler options. Metrics are
// registered on reg when enabled and reg is not nil.
func (c *Config) SchedulerOptions(logger *slog.Logger, reg prometheus.Registerer) []func(*jsscheduler.Scheduler) {
	limit := rate.Inf
	if c.Scheduler.ReplaceRate > 0 {
		limit = rate.Limit(c.Scheduler.ReplaceRate)
	}
	opts := []func(*jsscheduler.Scheduler){
		jsscheduler.WithLogger(logger),
		jsscheduler.WithHandshakeTimeout(c.Scheduler.HandshakeTimeout),
		jsscheduler.WithAcquireTimeout(c.Scheduler.AcquireTimeout),
		jsscheduler.WithReplaceRate(limit, c.Scheduler.ReplaceBurst),
	}
	if c.Scheduler.Metrics && reg != nil {
		opts = append(opts, jsscheduler.WithMetrics(reg))
	}
	return opts
}

// LoadScripts reads the scripts of the pool in order.
func (p PoolConfig) LoadScripts() ([]*jsscheduler.JsScript, error) {
	scripts := make([]*jsscheduler.JsScript, 0, len(p.Scripts))
	for _, path := range p.Scripts {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("pool %s: failed to read script: %w", p.ID, err)
		}
		scripts = append(scripts, &jsscheduler.JsScript{
			FileName: filepath.Base(path),
			Content:  string(content),
		})
	}
	return scripts, nil
}

// UnitFactory builds the unit factory of the pool on top of engine.
func (p PoolConfig) UnitFactory(engine jsscheduler.JsEngineFactory, logger *slog.Logger) (jsscheduler.UnitFactory, error) {
	if engine == nil {
		return nil, fmt.Errorf("pool %s: no engine factory for %q", p.ID, p.Engine)
	}
	scripts, err := p.LoadScripts()
	if err != nil {
		return nil, err
	}
	opts := []jsscheduler.EngineUnitOption{
		jsscheduler.WithScripts(scripts...),
		jsscheduler.WithUnitLogger(logger),
	}
	if p.QueueSize > 0 {
		opts = append(opts, jsscheduler.WithQueueSize(p.QueueSize))
	}
	return jsscheduler.NewEngineUnitFactory(engine, opts...), nil
}

// JobOptions returns the per-job defaults of the pool.
func (p PoolConfig) JobOptions() []jsscheduler.JobOption {
	if p.JobTimeout > 0 {
		return []jsscheduler.JobOption{jsscheduler.JobTimeout(p.JobTimeout)}
	}
	return nil
}
