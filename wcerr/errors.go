// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package wcerr implements the driver's error taxonomy (transport, protocol,
// routing, server-side, lifecycle). Every error that crosses a component
// boundary is wrapped with github.com/pkg/errors so a caller can always
// recover the taxonomy sentinel with errors.Cause regardless of how many
// layers of pool/processor context were added on the way out.
package wcerr

import "github.com/pkg/errors"

// Transport errors: local I/O and socket-lifecycle failures.
var (
	// ErrConnectionClosed is returned when a write is attempted on a
	// Connection that is Closing or Closed, or when a pending callback is
	// failed because its connection went away.
	ErrConnectionClosed = errors.New("wcdriver: connection closed")
	// ErrWriteFailed is returned when the transport's Write call itself fails.
	ErrWriteFailed = errors.New("wcdriver: write failed")
	// ErrTimeout is returned when a pending request's deadline elapses
	// before a response arrives.
	ErrTimeout = errors.New("wcdriver: request timeout")
	// ErrCancelled names a caller-initiated cancellation. request.Future has
	// no cancel operation and no component of this module returns it;
	// DefaultRetryPolicy does not retry it.
	ErrCancelled = errors.New("wcdriver: request cancelled")
	// ErrBusy is returned by Connection.Write when no stream id is free.
	ErrBusy = errors.New("wcdriver: connection busy, no free stream id")
)

// Protocol errors. ErrFrameMalformed and ErrUnknownStreamID are unsafe to
// continue a Connection past, and the Connection closes itself on them.
// ErrServerError is what Router reports for an error response frame; the
// Connection that carried it stays open.
var (
	ErrFrameMalformed  = errors.New("wcdriver: malformed frame")
	ErrUnknownStreamID = errors.New("wcdriver: response for unknown stream id")
	ErrServerError     = errors.New("wcdriver: server returned an error frame")
)

// Routing errors: surfaced directly to the caller, never retried internally.
var (
	ErrShutdown = errors.New("wcdriver: processor is shut down")
)

// Lifecycle errors.
var (
	ErrInvalidOption = errors.New("wcdriver: invalid configuration option")
	ErrAlreadyClosed = errors.New("wcdriver: already closed")
)

// Server-side errors, passed through from the coordinator.
var (
	ErrUnavailable  = errors.New("wcdriver: unavailable")
	ErrWriteTimeout = errors.New("wcdriver: write timeout")
	ErrReadTimeout  = errors.New("wcdriver: read timeout")
	ErrOverloaded   = errors.New("wcdriver: overloaded")
	ErrUnprepared   = errors.New("wcdriver: unprepared statement")
)

// WriteType classifies a server WriteTimeout, needed by the retry policy to
// decide whether a non-idempotent request is safe to retry.
type WriteType int

const (
	WriteTypeSimple WriteType = iota
	WriteTypeBatch
	WriteTypeBatchLog
	WriteTypeUnloggedBatch
	WriteTypeCounter
)

// QueueFullError is returned when a processor's request intake is at
// capacity at the moment of enqueue.
type QueueFullError struct {
	ProcessorIndex int
	Capacity       int
}

func (e *QueueFullError) Error() string {
	return "wcdriver: processor queue full"
}

// NoHostAvailableError is returned when a Router's query plan is exhausted
// without a successful attempt.
type NoHostAvailableError struct {
	Tried []string // host addresses already tried, in no particular order
	Last  error    // the error from the last attempt, if any
}

func (e *NoHostAvailableError) Error() string {
	return "wcdriver: no host available"
}

func (e *NoHostAvailableError) Cause() error {
	return e.Last
}

// Wrap wraps err with context, or returns nil if err is nil. Exists so
// every package in this module wraps errors the same way instead of mixing
// fmt.Errorf and errors.Wrap call sites.
func Wrap(err error, context string) error {
	return errors.Wrap(err, context)
}

// Is reports whether err's cause chain contains target, unwrapping through
// github.com/pkg/errors' Cause() as well as the stdlib chain.
func Is(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		type causer interface{ Cause() error }
		c, ok := err.(causer)
		if !ok {
			return errors.Is(err, target)
		}
		err = c.Cause()
	}
	return false
}
