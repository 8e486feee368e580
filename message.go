// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsscheduler

// Request is the message sent from the scheduler to an execution unit.
type Request struct {
	Id         string                 `json:"id"`         // Correlation id of the job
	Operation  string                 `json:"operation"`  // Operation name, opaque to the scheduler
	Payload    interface{}            `json:"payload"`    // Operation input
	Options    map[string]interface{} `json:"options"`    // Operation options forwarded untouched
	Generation uint64                 `json:"generation"` // Assignment generation of the target unit
}

// Response is the message a unit sends back for exactly one request.
type Response struct {
	Id             string      `json:"id"`                       // Correlation id of the job
	Success        bool        `json:"success"`                  // Whether the operation succeeded
	Result         interface{} `json:"result,omitempty"`         // Operation output
	Error          string      `json:"error,omitempty"`          // Failure text when Success is false
	FromCache      bool        `json:"fromCache,omitempty"`      // Result was served from a unit-side cache
	ProcessingTime float64     `json:"processingTime,omitempty"` // Unit-side processing time in milliseconds
	Generation     uint64      `json:"generation"`               // Echo of the request generation
}

// Message is one of ReadyMessage, *ResponseMessage or CrashMessage.
type Message interface {
	isMessage()
}

// ReadyMessage is sent once by a unit after construction, before it receives any request.
type ReadyMessage struct {
	Info string
}

// ResponseMessage carries a unit's answer to a request.
type ResponseMessage struct {
	*Response
}

// CrashMessage reports an abnormal termination of the unit. No further messages follow it.
type CrashMessage struct {
	Err error
}

func (ReadyMessage) isMessage()     {}
func (*ResponseMessage) isMessage() {}
func (CrashMessage) isMessage()     {}

// MessageHandler receives every message a unit emits.
type MessageHandler func(Message)
