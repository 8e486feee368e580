// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package dataprocessor runs the machine monitoring operations on a dedicated
// scheduler pool. Every unit of the pool loads processor.js and keeps its own
// five minute result cache.
package dataprocessor

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	jsscheduler "github.com/buke/js-scheduler"
	gojaengine "github.com/buke/js-scheduler/engines/goja"
)

// PoolID is the pool created by New.
const PoolID = "dataProcessor"

// Operation names exported by processor.js.
const (
	OpProcessMachineData   = "processMachineData"
	OpProcessChartData     = "processChartData"
	OpCalculateMetrics     = "calculateMetrics"
	OpProcessAlerts        = "processAlerts"
	OpCalculatePerformance = "calculatePerformance"
)

// DefaultTimeRange is used by CalculateMetrics when no range is given.
const DefaultTimeRange = "24h"

//go:embed processor.js
var script string

// Script returns the operations script loaded into every unit of the pool.
func Script() *jsscheduler.JsScript {
	return &jsscheduler.JsScript{FileName: "processor.js", Content: script}
}

// Processor submits the monitoring operations to the dataProcessor pool.
type Processor struct {
	s          *jsscheduler.Scheduler
	jobTimeout time.Duration
	retries    int
	backoff    time.Duration
}

type options struct {
	capacity   int
	jobTimeout time.Duration
	retries    int
	backoff    time.Duration
	engine     jsscheduler.JsEngineFactory
	logger     *slog.Logger
}

// Option configures a Processor.
type Option func(*options)

// WithCapacity sets the number of units of the pool.
func WithCapacity(capacity int) Option {
	return func(o *options) {
		o.capacity = capacity
	}
}

// WithJobTimeout bounds every operation.
func WithJobTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.jobTimeout = timeout
	}
}

// WithRetry resubmits operations that failed with a retryable error.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(o *options) {
		o.retries = retries
		o.backoff = backoff
	}
}

// WithEngine replaces the default goja engine.
func WithEngine(factory jsscheduler.JsEngineFactory) Option {
	return func(o *options) {
		if factory != nil {
			o.engine = factory
		}
	}
}

// WithLogger sets the logger of the pool units. A nil logger discards all output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// DefaultCapacity is the pool size used when WithCapacity is not given.
func DefaultCapacity() int {
	return min(runtime.GOMAXPROCS(0), 4)
}

// New creates the dataProcessor pool on s. If the pool already exists it is reused.
func New(ctx context.Context, s *jsscheduler.Scheduler, opts ...Option) (*Processor, error) {
	if s == nil {
		return nil, errors.New("scheduler cannot be nil")
	}
	o := &options{
		capacity: DefaultCapacity(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.engine == nil {
		o.engine = gojaengine.NewFactory()
	}

	factory := jsscheduler.NewEngineUnitFactory(o.engine,
		jsscheduler.WithScripts(Script()),
		jsscheduler.WithUnitLogger(o.logger))
	if _, err := s.CreatePool(ctx, PoolID, factory, o.capacity); err != nil {
		return nil, fmt.Errorf("failed to create %s pool: %w", PoolID, err)
	}

	return &Processor{
		s:          s,
		jobTimeout: o.jobTimeout,
		retries:    o.retries,
		backoff:    o.backoff,
	}, nil
}

type callOptions struct {
	skipCache bool
	timeout   time.Duration
}

// CallOption configures a single operation call.
type CallOption func(*callOptions)

// SkipCache computes the result even if the unit has it cached.
func SkipCache() CallOption {
	return func(o *callOptions) {
		o.skipCache = true
	}
}

// Timeout overrides the processor job timeout for one call.
func Timeout(timeout time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = timeout
	}
}

// ProcessMachineData summarizes machines by status and computes the sections
// selected by opts.
func (p *Processor) ProcessMachineData(ctx context.Context, machines []Machine, opts ProcessOptions, call ...CallOption) (*jsscheduler.Result, error) {
	return p.execute(ctx, OpProcessMachineData, machineList(machines), opts.params(), call)
}

// ProcessChartData builds chart datasets from data points.
func (p *Processor) ProcessChartData(ctx context.Context, data []map[string]interface{}, config ChartConfig, call ...CallOption) (*jsscheduler.Result, error) {
	if data == nil {
		data = []map[string]interface{}{}
	}
	return p.execute(ctx, OpProcessChartData, data, config.params(), call)
}

// CalculateMetrics aggregates resource usage across machines. An empty timeRange
// means DefaultTimeRange.
func (p *Processor) CalculateMetrics(ctx context.Context, machines []Machine, timeRange string, call ...CallOption) (*jsscheduler.Result, error) {
	if timeRange == "" {
		timeRange = DefaultTimeRange
	}
	return p.execute(ctx, OpCalculateMetrics, machineList(machines), map[string]interface{}{"timeRange": timeRange}, call)
}

// ProcessAlerts buckets the alerts of every machine by severity.
func (p *Processor) ProcessAlerts(ctx context.Context, machines []Machine, call ...CallOption) (*jsscheduler.Result, error) {
	return p.execute(ctx, OpProcessAlerts, machineList(machines), nil, call)
}

// CalculatePerformance computes fleet health and service indicators.
func (p *Processor) CalculatePerformance(ctx context.Context, machines []Machine, call ...CallOption) (*jsscheduler.Result, error) {
	return p.execute(ctx, OpCalculatePerformance, machineList(machines), nil, call)
}

func (p *Processor) execute(ctx context.Context, op string, payload interface{}, params map[string]interface{}, call []CallOption) (*jsscheduler.Result, error) {
	co := &callOptions{timeout: p.jobTimeout}
	for _, opt := range call {
		opt(co)
	}
	if co.skipCache {
		if params == nil {
			params = make(map[string]interface{}, 1)
		}
		params["skipCache"] = true
	}

	jobOpts := []jsscheduler.JobOption{jsscheduler.JobOperationOptions(params)}
	if co.timeout > 0 {
		jobOpts = append(jobOpts, jsscheduler.JobTimeout(co.timeout))
	}
	if p.retries > 0 {
		jobOpts = append(jobOpts, jsscheduler.JobRetry(p.retries, p.backoff))
	}
	return p.s.Execute(ctx, PoolID, op, payload, jobOpts...)
}

// machineList keeps a nil slice from reaching the script as null.
func machineList(machines []Machine) []Machine {
	if machines == nil {
		return []Machine{}
	}
	return machines
}

// Decode converts the value of res into T.
func Decode[T any](res *jsscheduler.Result) (T, error) {
	var out T
	if res == nil {
		return out, errors.New("result cannot be nil")
	}
	raw, err := json.Marshal(res.Value)
	if err != nil {
		return out, fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode result: %w", err)
	}
	return out, nil
}
