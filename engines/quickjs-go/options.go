// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"fmt"

	jsscheduler "github.com/buke/js-scheduler"
)

// EngineOption records the runtime settings applied to an engine.
type EngineOption struct {
	Timeout            uint64 `json:"timeout"`      // Seconds, 0 disables; replaces the Interrupt handler
	MemoryLimit        uint64 `json:"memoryLimit"`  // Bytes, 0 disables
	GCThreshold        int64  `json:"gcThreshold"`  // Bytes, -1 disables automatic GC
	MaxStackSize       uint64 `json:"maxStackSize"` // Bytes, 0 keeps the runtime default
	CanBlock           bool   `json:"canBlock"`
	EnableModuleImport bool   `json:"enableModuleImport"`
	Strip              int    `json:"strip"` // 0 keeps debug info, 2 strips everything
}

// onRuntime applies fn to a QuickJS engine and rejects any other engine type.
func onRuntime(name string, engine jsscheduler.JsEngine, fn func(e *Engine) error) error {
	e, ok := engine.(*Engine)
	if !ok {
		return fmt.Errorf("invalid engine type %T for %s", engine, name)
	}
	return fn(e)
}

// WithGCThreshold sets the allocation threshold that triggers garbage collection.
func WithGCThreshold(threshold int64) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onRuntime("WithGCThreshold", engine, func(e *Engine) error {
			if threshold < -1 {
				return fmt.Errorf("invalid GC threshold: %d", threshold)
			}
			e.Option.GCThreshold = threshold
			e.Runtime.SetGCThreshold(threshold)
			return nil
		})
	}
}

// WithMemoryLimit caps the heap of the runtime.
func WithMemoryLimit(limit uint64) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onRuntime("WithMemoryLimit", engine, func(e *Engine) error {
			e.Option.MemoryLimit = limit
			e.Runtime.SetMemoryLimit(limit)
			return nil
		})
	}
}

// WithTimeout bounds each evaluation in seconds. QuickJS implements the timeout with
// the interrupt handler, so Interrupt has no effect on engines built with it.
func WithTimeout(seconds uint64) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onRuntime("WithTimeout", engine, func(e *Engine) error {
			e.Option.Timeout = seconds
			e.Runtime.SetExecuteTimeout(seconds)
			return nil
		})
	}
}

// WithMaxStackSize sets the native stack budget of the runtime.
func WithMaxStackSize(size uint64) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onRuntime("WithMaxStackSize", engine, func(e *Engine) error {
			e.Option.MaxStackSize = size
			e.Runtime.SetMaxStackSize(size)
			return nil
		})
	}
}

// WithCanBlock allows Atomics.wait in the runtime.
func WithCanBlock(canBlock bool) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onRuntime("WithCanBlock", engine, func(e *Engine) error {
			e.Option.CanBlock = canBlock
			e.Runtime.SetCanBlock(canBlock)
			return nil
		})
	}
}

// WithEnableModuleImport installs the file module loader so scripts can import ES modules.
func WithEnableModuleImport(enable bool) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onRuntime("WithEnableModuleImport", engine, func(e *Engine) error {
			e.Option.EnableModuleImport = enable
			e.Runtime.SetModuleImport(enable)
			return nil
		})
	}
}

// WithStrip sets how much debug information compiled scripts keep.
func WithStrip(level int) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onRuntime("WithStrip", engine, func(e *Engine) error {
			if level < 0 || level > 2 {
				return fmt.Errorf("invalid strip level: %d", level)
			}
			e.Option.Strip = level
			e.Runtime.SetStripInfo(level)
			return nil
		})
	}
}

// WithRpcScript replaces the entry point requests are dispatched through.
func WithRpcScript(script string) jsscheduler.JsEngineOption {
	return func(engine jsscheduler.JsEngine) error {
		return onRuntime("WithRpcScript", engine, func(e *Engine) error {
			if script == "" {
				return fmt.Errorf("rpc script cannot be empty")
			}
			e.RpcScript = script
			return nil
		})
	}
}
