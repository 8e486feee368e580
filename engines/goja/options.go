// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"

	jsscheduler "github.com/buke/js-scheduler"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// EngineOption holds configuration for a Goja engine instance.
type EngineOption struct {
	MaxCallStackSize int
	EnableConsole    bool
	EnableRequire    bool
	FieldNameMapper  goja.FieldNameMapper
}

// onLoop runs fn on the engine loop and waits for it.
func onLoop(engine jsscheduler.JsEngine, fn func(e *Engine, vm *goja.Runtime)) error {
	e, ok := engine.(*Engine)
	if !ok {
		return fmt.Errorf("invalid engine type %T for goja option", engine)
	}
	done := make(chan struct{})
	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		fn(e, vm)
		close(done)
	})
	<-done
	return nil
}

// WithMaxCallStackSize sets the maximum call stack size for the runtime.
// A value of 0 or less means no limit.
func WithMaxCallStackSize(size int) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onLoop(engine, func(e *Engine, vm *goja.Runtime) {
			e.Option.MaxCallStackSize = size
			vm.SetMaxCallStackSize(size)
		})
	}
}

// WithEnableConsole enables the console object (console.log, etc.) in the JS runtime.
func WithEnableConsole() jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onLoop(engine, func(e *Engine, vm *goja.Runtime) {
			e.Option.EnableConsole = true
			console.Enable(vm)
		})
	}
}

// WithRequire enables the require() function for loading CommonJS modules.
func WithRequire() jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onLoop(engine, func(e *Engine, vm *goja.Runtime) {
			e.Option.EnableRequire = true
			new(require.Registry).Enable(vm)
		})
	}
}

// WithFieldNameMapper sets the field name mapper for Go-to-JS struct conversions.
func WithFieldNameMapper(mapper goja.FieldNameMapper) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		if mapper == nil {
			return nil
		}
		return onLoop(engine, func(e *Engine, vm *goja.Runtime) {
			e.Option.FieldNameMapper = mapper
			vm.SetFieldNameMapper(mapper)
		})
	}
}
