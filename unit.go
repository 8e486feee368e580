// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	"sync"
)

// Unit is an isolated, message-passing execution context.
//
// Start must register handler before the unit does anything else. A unit emits exactly
// one ReadyMessage when it can accept requests, then one *ResponseMessage per request,
// or a CrashMessage if it terminates abnormally. Terminate must not block.
type Unit interface {
	Start(handler MessageHandler) error
	Send(req *Request) error
	Terminate()
}

// UnitFactory constructs a fresh, not yet started unit.
type UnitFactory func() (Unit, error)

// UnitState represents the lifecycle state of an execution unit.
type UnitState int

const (
	UnitInitializing UnitState = iota // Waiting for the readiness handshake
	UnitAvailable                     // Idle in the pool
	UnitBusy                          // Assigned to a job
	UnitTerminated                    // Retired, never reused
)

// String returns the string representation of a UnitState.
func (s UnitState) String() string {
	switch s {
	case UnitInitializing:
		return "initializing"
	case UnitAvailable:
		return "available"
	case UnitBusy:
		return "busy"
	case UnitTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// execUnit is the scheduler-side record of a unit. All fields except ready are
// guarded by the scheduler mutex.
type execUnit struct {
	name       string
	handle     Unit
	pool       *unitPool
	state      UnitState
	generation uint64 // Incremented on every acquire

	readyOnce sync.Once
	ready     chan error // Receives the handshake outcome exactly once
}

func newExecUnit(name string, handle Unit, p *unitPool) *execUnit {
	return &execUnit{
		name:   name,
		handle: handle,
		pool:   p,
		state:  UnitInitializing,
		ready:  make(chan error, 1),
	}
}

// signalReady delivers the handshake outcome. It reports false if the handshake was
// already resolved, in which case the caller must handle the message itself.
func (u *execUnit) signalReady(err error) bool {
	delivered := false
	u.readyOnce.Do(func() {
		u.ready <- err
		delivered = true
	})
	return delivered
}
