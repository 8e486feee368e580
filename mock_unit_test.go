// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// mockUnit is a controllable Unit. By default it reports ready on Start and keeps
// every request it receives without answering.
type mockUnit struct {
	name string

	mu         sync.Mutex
	handler    MessageHandler
	requests   []*Request
	onSend     func(u *mockUnit, req *Request) // Runs on its own goroutine for each request
	sendErrs   int                             // Number of Send calls that fail before succeeding
	noReady    bool                            // Never report ready
	crashStart bool                            // Crash instead of reporting ready
	readyDelay time.Duration
	startErr   error

	terminated atomic.Bool
}

func (u *mockUnit) Name() string {
	return u.name
}

func (u *mockUnit) Start(handler MessageHandler) error {
	u.mu.Lock()
	if u.startErr != nil {
		u.mu.Unlock()
		return u.startErr
	}
	u.handler = handler
	noReady, crashStart, delay := u.noReady, u.crashStart, u.readyDelay
	u.mu.Unlock()

	switch {
	case crashStart:
		go handler(CrashMessage{Err: errors.New("engine failed to load")})
	case !noReady:
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			handler(ReadyMessage{Info: u.name + " ready"})
		}()
	}
	return nil
}

func (u *mockUnit) Send(req *Request) error {
	if u.terminated.Load() {
		return ErrUnitTerminated
	}
	u.mu.Lock()
	if u.sendErrs > 0 {
		u.sendErrs--
		u.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnitQueueFull, u.name)
	}
	u.requests = append(u.requests, req)
	onSend := u.onSend
	u.mu.Unlock()

	if onSend != nil {
		go onSend(u, req)
	}
	return nil
}

func (u *mockUnit) Terminate() {
	u.terminated.Store(true)
}

func (u *mockUnit) setOnSend(fn func(u *mockUnit, req *Request)) {
	u.mu.Lock()
	u.onSend = fn
	u.mu.Unlock()
}

// received returns a copy of the requests sent so far.
func (u *mockUnit) received() []*Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*Request(nil), u.requests...)
}

// request returns the request with the given id, or nil.
func (u *mockUnit) request(id string) *Request {
	for _, req := range u.received() {
		if req.Id == id {
			return req
		}
	}
	return nil
}

func (u *mockUnit) emit(m Message) {
	u.mu.Lock()
	h := u.handler
	u.mu.Unlock()
	h(m)
}

func (u *mockUnit) reply(req *Request, result interface{}) {
	u.emit(&ResponseMessage{Response: &Response{
		Id:         req.Id,
		Success:    true,
		Result:     result,
		Generation: req.Generation,
	}})
}

func (u *mockUnit) fail(req *Request, msg string) {
	u.emit(&ResponseMessage{Response: &Response{
		Id:         req.Id,
		Success:    false,
		Error:      msg,
		Generation: req.Generation,
	}})
}

func (u *mockUnit) crash(err error) {
	u.emit(CrashMessage{Err: err})
}

// echo answers every request with its payload.
func echo(u *mockUnit, req *Request) {
	u.reply(req, req.Payload)
}

// mockFleet builds mockUnits and remembers every one of them.
type mockFleet struct {
	mu        sync.Mutex
	units     []*mockUnit
	configure func(i int, u *mockUnit)
	failAfter int // Factory fails once this many units exist; zero never fails
}

func newFleet(configure func(i int, u *mockUnit)) *mockFleet {
	return &mockFleet{configure: configure}
}

func (f *mockFleet) factory() UnitFactory {
	return func() (Unit, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		i := len(f.units)
		if f.failAfter > 0 && i >= f.failAfter {
			return nil, errors.New("factory exhausted")
		}
		u := &mockUnit{name: fmt.Sprintf("mock-%d", i)}
		if f.configure != nil {
			f.configure(i, u)
		}
		f.units = append(f.units, u)
		return u, nil
	}
}

func (f *mockFleet) unit(i int) *mockUnit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.units[i]
}

func (f *mockFleet) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.units)
}

func (f *mockFleet) all() []*mockUnit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mockUnit(nil), f.units...)
}

// holder returns the unit a request with the given id was sent to, or nil.
func (f *mockFleet) holder(id string) (*mockUnit, *Request) {
	for _, u := range f.all() {
		if req := u.request(id); req != nil {
			return u, req
		}
	}
	return nil, nil
}
