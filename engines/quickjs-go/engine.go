// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/buke/quickjs-go"
)

// Engine represents a QuickJS engine instance with its runtime, context, and options.
type Engine struct {
	Runtime   *quickjs.Runtime // QuickJS runtime instance
	Ctx       *quickjs.Context // QuickJS context instance
	Option    *EngineOption    // Engine configuration options
	RpcScript string           // Entry point every request goes through

	interrupted atomic.Bool
}

// Load evaluates the scripts in order. The first failing script aborts the load.
func (e *Engine) Load(scripts []*jsscheduler.JsScript) error {
	for _, script := range scripts {
		ret := e.Ctx.Eval(script.Content, quickjs.EvalFileName(script.FileName), quickjs.EvalAwait(true))
		failed := ret.IsException()
		ret.Free()
		if failed {
			return fmt.Errorf("failed to execute script %s: %w", script.FileName, e.Ctx.Exception())
		}
	}
	return nil
}

// Execute passes the request to the rpc script as a JSON string and decodes
// the JSON string it resolves to.
func (e *Engine) Execute(req *jsscheduler.Request) (*jsscheduler.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	if e.interrupted.Load() {
		return nil, fmt.Errorf("execution interrupted")
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	fn := e.Ctx.Eval(e.RpcScript, quickjs.EvalFileName("unit_rpc.js"))
	defer fn.Free()
	if fn.IsException() {
		return nil, fmt.Errorf("failed to evaluate RPC script: %w", e.Ctx.Exception())
	}
	if !fn.IsFunction() {
		return nil, fmt.Errorf("rpc script did not return a function")
	}

	jsReq, err := e.Ctx.Marshal(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	defer jsReq.Free()

	jsResp, err := e.settle(fn.Execute(e.Ctx.Null(), jsReq))
	if err != nil {
		return nil, err
	}
	defer jsResp.Free()
	if jsResp.IsException() {
		return nil, fmt.Errorf("failed to call function: %w", e.Ctx.Exception())
	}

	res := &jsscheduler.Response{}
	if err := json.Unmarshal([]byte(jsResp.String()), res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return res, nil
}

// settle drains the job queue and unwraps ret when it is a promise. A promise still
// pending once no jobs are left can never settle, so it is released with an error.
func (e *Engine) settle(ret *quickjs.Value) (*quickjs.Value, error) {
	if !ret.IsPromise() {
		return ret, nil
	}
	e.Ctx.Loop()
	if ret.PromiseState() == quickjs.PromisePending {
		ret.Free()
		if e.interrupted.Load() {
			return nil, fmt.Errorf("execution interrupted")
		}
		return nil, fmt.Errorf("rpc promise did not settle")
	}
	return ret.Await(), nil
}

// Interrupt makes the running script throw at its next interrupt check and fails later calls.
// Engines built WithTimeout rely on the execute timeout instead, which replaces the handler.
func (e *Engine) Interrupt(reason string) {
	e.interrupted.Store(true)
}

// Close releases all resources associated with the engine, including context and runtime.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Runtime != nil {
		e.Runtime.Close()
		e.Runtime = nil
	}
	return nil
}

// newEngine creates a new QuickJS engine instance with the given options.
func newEngine(options ...jsscheduler.JsEngineOption) (*Engine, error) {
	rt := quickjs.NewRuntime()
	ctx := rt.NewContext()

	engine := &Engine{
		Runtime: rt,
		Ctx:     ctx,
		Option: &EngineOption{
			GCThreshold: -1, // no threshold
			Strip:       1,
		},
		RpcScript: jsscheduler.RpcScript,
	}
	rt.SetInterruptHandler(func() int {
		if engine.interrupted.Load() {
			return 1
		}
		return 0
	})

	for _, option := range options {
		if err := option(engine); err != nil {
			engine.Close()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return engine, nil
}

// NewFactory returns a JsEngineFactory that creates QuickJS engines with the given options.
// Engines are not safe for concurrent use; each unit owns one.
func NewFactory(options ...jsscheduler.JsEngineOption) jsscheduler.JsEngineFactory {
	return func() (jsscheduler.JsEngine, error) {
		return newEngine(options...)
	}
}
