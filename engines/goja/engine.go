// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"encoding/json"
	"fmt"
	"sync"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// rpcScript is a variable so tests can replace it.
var rpcScript = jsscheduler.RpcScript

// Engine implements the jsscheduler.JsEngine interface using the Goja JS engine.
// It uses an event loop to ensure thread-safe execution of JavaScript.
type Engine struct {
	Loop   *eventloop.EventLoop // The event loop that owns and serializes access to the runtime.
	Option *EngineOption        // Engine configuration options.

	vmMu      sync.Mutex
	vm        *goja.Runtime // Runtime owned by Loop, kept for Interrupt
	aborted   chan struct{} // Closed by Interrupt, releases a pending Execute
	abortOnce sync.Once
	reason    string // Set before aborted is closed
}

// NewFactory returns a jsscheduler.JsEngineFactory for creating Goja engines.
// The factory is configured with the provided options.
func NewFactory(opts ...jsscheduler.JsEngineOption) jsscheduler.JsEngineFactory {
	return func() (jsscheduler.JsEngine, error) {
		return newEngine(opts...)
	}
}

// newEngine creates a new Goja engine instance.
// It initializes a full-featured event loop that supports timers.
func newEngine(opts ...jsscheduler.JsEngineOption) (*Engine, error) {
	// The eventloop creates its own internal goja.Runtime
	loop := eventloop.NewEventLoop()

	e := &Engine{
		Loop:    loop,
		Option:  &EngineOption{},
		aborted: make(chan struct{}),
	}

	// Start the event loop *before* applying options
	loop.Start()

	done := make(chan struct{})
	loop.RunOnLoop(func(vm *goja.Runtime) {
		e.vmMu.Lock()
		e.vm = vm
		e.vmMu.Unlock()
		close(done)
	})
	<-done

	// Apply the default FieldNameMapper first.
	// This can be overridden by user-provided options.
	if err := WithFieldNameMapper(goja.TagFieldNameMapper("json", true))(e); err != nil {
		loop.Stop()
		return nil, err
	}

	// Apply all provided options. Each option will block until it's applied.
	for _, opt := range opts {
		if err := opt(e); err != nil {
			loop.Stop() // Ensure loop is stopped on configuration error
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e, nil
}

// Load runs scripts on the engine's event loop.
func (e *Engine) Load(scripts []*jsscheduler.JsScript) error {
	done := make(chan error, 1)
	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		for _, script := range scripts {
			if _, err := vm.RunScript(script.FileName, script.Content); err != nil {
				done <- fmt.Errorf("failed to execute script %s: %w", script.FileName, err)
				return
			}
		}
		done <- nil // Signal success
	})
	return <-done
}

// Execute runs a request through the rpc script and returns the response.
// It schedules the execution on the event loop and handles async results.
func (e *Engine) Execute(req *jsscheduler.Request) (*jsscheduler.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request cannot be nil")
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resultChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	// Schedule the job on the persistent event loop.
	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		fnValue, err := vm.RunScript("unit_rpc.js", rpcScript)
		if err != nil {
			errorChan <- fmt.Errorf("failed to load rpc script: %w", err)
			return
		}
		fn, ok := goja.AssertFunction(fnValue)
		if !ok {
			errorChan <- fmt.Errorf("rpc script did not return a function")
			return
		}

		resPromise, err := fn(goja.Undefined(), vm.ToValue(string(raw)))
		if err != nil {
			errorChan <- fmt.Errorf("failed to call rpc function: %w", err)
			return
		}

		// Check for null or undefined BEFORE calling ToObject to prevent a panic.
		if goja.IsUndefined(resPromise) || goja.IsNull(resPromise) {
			errorChan <- fmt.Errorf("rpc call did not return a promise-like object")
			return
		}

		promiseObj := resPromise.ToObject(vm)

		then, ok := goja.AssertFunction(promiseObj.Get("then"))
		if !ok {
			errorChan <- fmt.Errorf("rpc call did not return a promise (missing .then method)")
			return
		}

		onSuccess := func(call goja.FunctionCall) goja.Value {
			resultChan <- call.Argument(0).String()
			return goja.Undefined()
		}

		onError := func(call goja.FunctionCall) goja.Value {
			errorChan <- fmt.Errorf("js execution error: %s", call.Argument(0).String())
			return goja.Undefined()
		}

		if _, err := then(promiseObj, vm.ToValue(onSuccess), vm.ToValue(onError)); err != nil {
			errorChan <- fmt.Errorf("failed to invoke promise.then: %w", err)
		}
	})

	// Wait for the result. A promise that never settles leaves only Interrupt to end the wait.
	select {
	case out := <-resultChan:
		res := &jsscheduler.Response{}
		if err := json.Unmarshal([]byte(out), res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return res, nil
	case err := <-errorChan:
		return nil, err
	case <-e.aborted:
		return nil, fmt.Errorf("execution interrupted: %s", e.reason)
	}
}

// Interrupt aborts the script currently running on the loop, if any, and makes the
// pending and every later Execute return an error. It is safe to call from any goroutine.
func (e *Engine) Interrupt(reason string) {
	e.vmMu.Lock()
	if e.vm != nil {
		e.vm.Interrupt(reason)
	}
	e.vmMu.Unlock()

	e.abortOnce.Do(func() {
		e.reason = reason
		close(e.aborted)
	})
}

// Close stops the event loop and releases associated resources.
func (e *Engine) Close() error {
	if e.Loop != nil {
		e.Loop.Stop()
		e.Loop = nil
	}
	e.vmMu.Lock()
	e.vm = nil
	e.vmMu.Unlock()
	return nil
}
