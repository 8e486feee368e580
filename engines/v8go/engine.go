//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"encoding/json"
	"fmt"
	"sync"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/tommie/v8go"
)

var (
	// Make these functions variables so they can be mocked in tests.
	v8NewIsolate  = v8go.NewIsolate
	v8NewContext  = v8go.NewContext
	jsonUnmarshal = json.Unmarshal
	v8NewValue    = v8go.NewValue
)

// Engine implements the jsscheduler.JsEngine interface using the V8 engine.
// It encapsulates a V8 Isolate and Context.
type Engine struct {
	// Iso is the V8 Isolate, representing a single-threaded VM instance.
	// It is exposed publicly to allow for advanced custom options.
	Iso *v8go.Isolate

	// Ctx is the V8 Context, representing the execution environment.
	Ctx *v8go.Context

	// Option holds the engine-specific configurations.
	Option *EngineOption

	// RpcScript contains the JavaScript code every request is dispatched through.
	RpcScript string

	isoMu sync.Mutex // guards Iso against Interrupt racing Close
}

// NewFactory creates a new jsscheduler.JsEngineFactory for the V8 engine.
func NewFactory(opts ...jsscheduler.JsEngineOption) jsscheduler.JsEngineFactory {
	return func() (jsscheduler.JsEngine, error) {
		return newEngine(opts...)
	}
}

// newEngine creates the isolate and context, then applies opts.
func newEngine(opts ...jsscheduler.JsEngineOption) (*Engine, error) {
	e := &Engine{
		Option:    &EngineOption{},
		RpcScript: jsscheduler.RpcScript,
	}

	iso := v8NewIsolate()
	if iso == nil {
		return nil, fmt.Errorf("failed to create v8 isolate")
	}
	e.Iso = iso

	ctx := v8NewContext(iso)
	if ctx == nil {
		iso.Dispose()
		return nil, fmt.Errorf("failed to create v8 context")
	}
	e.Ctx = ctx

	for _, opt := range opts {
		if err := opt(e); err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e, nil
}

// Load runs scripts in the V8 context.
func (e *Engine) Load(scripts []*jsscheduler.JsScript) error {
	for _, script := range scripts {
		if _, err := e.Ctx.RunScript(script.Content, script.FileName); err != nil {
			return fmt.Errorf("failed to execute script %s: %w", script.FileName, err)
		}
	}
	return nil
}

// Execute runs a request through the rpc script. The request crosses into JS as
// a JSON string and the promise resolves to a JSON string.
func (e *Engine) Execute(req *jsscheduler.Request) (*jsscheduler.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}

	rpcVal, err := e.Ctx.RunScript(e.RpcScript, "unit_rpc.js")
	if err != nil {
		return nil, fmt.Errorf("failed to run rpc script: %w", err)
	}
	if !rpcVal.IsFunction() {
		return nil, fmt.Errorf("rpc script did not return a function")
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to json marshal request: %w", err)
	}
	jsReq, err := v8NewValue(e.Iso, string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create v8 value from json string: %w", err)
	}

	rpcFn, _ := rpcVal.AsFunction()
	promiseVal, err := rpcFn.Call(e.Ctx.Global(), jsReq)
	if err != nil {
		return nil, fmt.Errorf("rpc function call failed: %w", err)
	}
	promise, err := promiseVal.AsPromise()
	if err != nil {
		return nil, fmt.Errorf("rpc call did not return a promise: %w", err)
	}

	if promise.State() == v8go.Pending {
		e.Ctx.PerformMicrotaskCheckpoint()
	}
	switch promise.State() {
	case v8go.Rejected:
		return nil, fmt.Errorf("js execution error: %s", promise.Result().String())
	case v8go.Pending:
		return nil, fmt.Errorf("rpc promise did not settle")
	}

	out := promise.Result().String()
	if out == "" {
		return nil, fmt.Errorf("rpc promise resolved to an empty response")
	}

	res := &jsscheduler.Response{}
	if err := jsonUnmarshal([]byte(out), res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return res, nil
}

// Interrupt terminates the script currently running in the isolate.
func (e *Engine) Interrupt(reason string) {
	e.isoMu.Lock()
	defer e.isoMu.Unlock()
	if e.Iso != nil {
		e.Iso.TerminateExecution()
	}
}

// Close releases all resources associated with the V8 engine.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	e.isoMu.Lock()
	defer e.isoMu.Unlock()
	if e.Iso != nil {
		e.Iso.Dispose()
		e.Iso = nil
	}
	return nil
}
