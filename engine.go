// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	_ "embed"
)

// RpcScript is the unit-side dispatcher evaluated by every engine for each request.
// It receives the request as a JSON string, calls the global function named by the
// request operation and resolves to the JSON-encoded response.
//
//go:embed unit_rpc.js
var RpcScript string

// JsScript represents a JavaScript script loaded into an engine before it reports ready.
type JsScript struct {
	Content  string // Script content
	FileName string // Script file name for debugging purposes
}

// JsEngine represents a JavaScript execution engine owned by a single execution unit.
type JsEngine interface {
	// Load evaluates the given scripts in the engine's global scope
	Load(scripts []*JsScript) error

	// Execute runs a request through the rpc script and returns the response.
	// A returned error means the engine itself failed, not the operation.
	Execute(req *Request) (*Response, error)

	// Close closes the engine and releases resources
	Close() error
}

// Interrupter is implemented by engines that can abort a running script from another goroutine.
type Interrupter interface {
	Interrupt(reason string)
}

// JsEngineFactory creates a new JavaScript engine instance
type JsEngineFactory func() (JsEngine, error)

// JsEngineOption is a function that configures a JavaScript engine
type JsEngineOption func(JsEngine) error
