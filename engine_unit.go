// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// engineUnitOption contains configuration for JavaScript engine backed units.
type engineUnitOption struct {
	queueSize uint32       // Size of the request queue per unit
	scripts   []*JsScript  // Scripts loaded before the unit reports ready
	logger    *slog.Logger // Logger instance
}

// EngineUnitOption configures units built by NewEngineUnitFactory.
type EngineUnitOption func(*engineUnitOption)

// WithScripts configures the scripts every unit loads before reporting ready.
func WithScripts(scripts ...*JsScript) EngineUnitOption {
	return func(o *engineUnitOption) {
		o.scripts = append(o.scripts, scripts...)
	}
}

// WithQueueSize configures how many requests may wait in a unit. A unit released on
// timeout may still be computing, so requests for its next assignment queue behind.
func WithQueueSize(size uint32) EngineUnitOption {
	return func(o *engineUnitOption) {
		if size > 0 {
			o.queueSize = size
		}
	}
}

// WithUnitLogger configures the logger used by engine units.
func WithUnitLogger(logger *slog.Logger) EngineUnitOption {
	return func(o *engineUnitOption) {
		o.logger = logger
	}
}

// NewEngineUnitFactory returns a UnitFactory whose units each own one engine created by
// engineFactory, running on a dedicated goroutine locked to an OS thread.
func NewEngineUnitFactory(engineFactory JsEngineFactory, opts ...EngineUnitOption) UnitFactory {
	o := &engineUnitOption{
		queueSize: 16,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	scripts := make([]*JsScript, len(o.scripts))
	copy(scripts, o.scripts)

	return func() (Unit, error) {
		if engineFactory == nil {
			return nil, fmt.Errorf("JavaScript engine factory must be provided")
		}
		return newEngineUnit(engineFactory, scripts, o.queueSize, o.logger), nil
	}
}

// engineUnit represents a single JavaScript execution unit.
type engineUnit struct {
	name          string          // Human-readable name for the unit
	engineFactory JsEngineFactory // Creates the engine on the unit goroutine
	scripts       []*JsScript     // Scripts loaded during start-up
	logger        *slog.Logger

	inbox    chan *Request  // Channel for receiving requests
	quit     chan struct{}  // Closed by Terminate
	quitOnce sync.Once      // Guards closing quit
	handler  MessageHandler // Receives ready, response and crash messages
	started  atomic.Bool

	engineMu sync.Mutex // Guards jsEngine for Interrupt
	jsEngine JsEngine   // JavaScript engine instance
}

func newEngineUnit(factory JsEngineFactory, scripts []*JsScript, queueSize uint32, logger *slog.Logger) *engineUnit {
	return &engineUnit{
		name:          "unit-" + uuid.NewString(),
		engineFactory: factory,
		scripts:       scripts,
		logger:        logger,
		inbox:         make(chan *Request, queueSize),
		quit:          make(chan struct{}),
	}
}

// Name returns the unit name used in logs.
func (u *engineUnit) Name() string {
	return u.name
}

// Start registers the handler and launches the unit goroutine.
func (u *engineUnit) Start(handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler cannot be nil")
	}
	if !u.started.CompareAndSwap(false, true) {
		return fmt.Errorf("unit %s already started", u.name)
	}
	u.handler = handler
	go u.run()
	return nil
}

// Send enqueues a request without blocking.
func (u *engineUnit) Send(req *Request) error {
	if req == nil {
		return fmt.Errorf("request cannot be nil")
	}
	select {
	case <-u.quit:
		return ErrUnitTerminated
	default:
	}
	select {
	case u.inbox <- req:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnitQueueFull, u.name)
	}
}

// Terminate stops the unit. A script that is running is interrupted when the engine supports it.
func (u *engineUnit) Terminate() {
	u.quitOnce.Do(func() {
		close(u.quit)
		u.engineMu.Lock()
		if in, ok := u.jsEngine.(Interrupter); ok {
			in.Interrupt("unit terminated")
		}
		u.engineMu.Unlock()
	})
}

func (u *engineUnit) terminated() bool {
	select {
	case <-u.quit:
		return true
	default:
		return false
	}
}

// initEngine creates the engine and loads the configured scripts.
func (u *engineUnit) initEngine() error {
	jsEngine, err := u.engineFactory()
	if err != nil {
		return fmt.Errorf("failed to create JS engine: %w", err)
	}
	u.engineMu.Lock()
	u.jsEngine = jsEngine
	u.engineMu.Unlock()

	if err := jsEngine.Load(u.scripts); err != nil {
		return fmt.Errorf("failed to load JS scripts: %w", err)
	}
	return nil
}

// run is the main unit loop that processes requests.
func (u *engineUnit) run() {
	// Lock this goroutine to an OS thread for consistent execution environment
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer u.closeEngine()

	if err := u.initEngine(); err != nil {
		u.crash(err)
		return
	}
	if u.terminated() {
		return
	}
	u.handler(ReadyMessage{Info: u.name + " initialized"})

	for {
		select {
		case <-u.quit:
			return
		case req := <-u.inbox:
			resp, err := u.execute(req)
			if err != nil {
				u.crash(err)
				return
			}
			if u.terminated() {
				return
			}
			u.handler(&ResponseMessage{Response: resp})
		}
	}
}

// execute runs one request, turning engine panics into errors.
func (u *engineUnit) execute(req *Request) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("panic in unit %s: %v", u.name, r)
		}
	}()

	resp, err = u.jsEngine.Execute(req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("engine returned no response")
	}
	// The engine answers the request it was handed; the generation is stamped here so
	// the scheduler can match it against the unit's current assignment.
	resp.Id = req.Id
	resp.Generation = req.Generation
	return resp, nil
}

// crash reports an abnormal termination unless the unit was terminated on purpose.
func (u *engineUnit) crash(err error) {
	if u.terminated() {
		return
	}
	u.logger.Error("Execution unit crashed", "unit", u.name, "error", err)
	u.quitOnce.Do(func() { close(u.quit) })
	u.handler(CrashMessage{Err: err})
}

func (u *engineUnit) closeEngine() {
	u.engineMu.Lock()
	defer u.engineMu.Unlock()
	if u.jsEngine == nil {
		return
	}
	if err := u.jsEngine.Close(); err != nil {
		u.logger.Error("Failed to close JS engine", "unit", u.name, "error", err)
	}
	u.jsEngine = nil
}
