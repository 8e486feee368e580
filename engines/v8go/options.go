//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"fmt"

	jsscheduler "github.com/buke/js-scheduler"
)

// EngineOption holds specific configurations for the V8 engine.
type EngineOption struct {
	RpcScript string
	Globals   map[string]string
}

// WithRpcScript sets the RPC script for the engine.
// The script must not be empty.
func WithRpcScript(script string) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		e, ok := engine.(*Engine)
		if !ok {
			return fmt.Errorf("invalid engine type for WithRpcScript")
		}
		if script == "" {
			return fmt.Errorf("rpc script cannot be empty")
		}
		e.Option.RpcScript = script
		e.RpcScript = script
		return nil
	}
}

// WithGlobal defines a string global in the context before any script is loaded.
func WithGlobal(name, value string) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		e, ok := engine.(*Engine)
		if !ok {
			return fmt.Errorf("invalid engine type for WithGlobal")
		}
		if err := e.Ctx.Global().Set(name, value); err != nil {
			return fmt.Errorf("failed to set global %s: %w", name, err)
		}
		if e.Option.Globals == nil {
			e.Option.Globals = make(map[string]string)
		}
		e.Option.Globals[name] = value
		return nil
	}
}
