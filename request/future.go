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

// Package request holds RequestFuture: the one-shot result container
// handed from a caller to a RequestProcessor and back. It is a two-owner
// handoff with an atomic terminal-state flag rather than a general
// shared-ownership graph — the caller and exactly one processor ever touch
// it, and the processor drops its reference the instant a terminal state
// is set.
package request

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/veladb/wcdriver/host"
)

// State is a RequestFuture's lifecycle stage.
type State int32

const (
	Pending State = iota
	Succeeded
	Failed
)

// Statement describes what is being executed: a simple query, a prepared
// statement id, or a batch — kept as a thin struct rather than a full
// query-builder surface, matching the core's scope (routing/execution, not
// CQL construction).
type Statement struct {
	Query        string
	PreparedID   []byte
	Values       [][]byte
	Consistency  string
	RoutingKey   []byte
	Keyspace     string
	Idempotent   bool
}

// Future is a one-shot result container. Lifetime: created by the caller,
// handed to a RequestProcessor via ProcessorManager.Submit, and returned to
// the caller; the processor retains no reference once a terminal state is
// set.
type Future struct {
	Statement Statement
	Deadline  time.Time

	state   int32 // atomic, one of State
	mu      sync.Mutex
	result  host.Result
	err     error
	done    chan struct{}

	attempts int32
	tried    map[string]bool
}

// New creates a Pending Future for stmt with an absolute deadline.
func New(stmt Statement, deadline time.Time) *Future {
	return &Future{
		Statement: stmt,
		Deadline:  deadline,
		done:      make(chan struct{}),
		tried:     make(map[string]bool),
	}
}

// State returns the Future's current lifecycle stage.
func (f *Future) State() State {
	return State(atomic.LoadInt32(&f.state))
}

// Attempts returns how many times this Future has been dispatched to a host.
func (f *Future) Attempts() int {
	return int(atomic.LoadInt32(&f.attempts))
}

// RecordAttempt increments the attempt counter and marks addr as tried.
func (f *Future) RecordAttempt(addr string) {
	atomic.AddInt32(&f.attempts, 1)
	f.mu.Lock()
	f.tried[addr] = true
	f.mu.Unlock()
}

// Tried reports whether addr has already been attempted for this Future.
func (f *Future) Tried(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tried[addr]
}

// TriedHosts returns the addresses attempted so far, in no particular order.
func (f *Future) TriedHosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.tried))
	for addr := range f.tried {
		out = append(out, addr)
	}
	return out
}

// Succeed transitions the Future to Succeeded exactly once. A second call
// (from any source — duplicate coordinator reply, programmer error) panics:
// duplicate completion is a bug an assertion must catch, not a condition to
// handle gracefully.
func (f *Future) Succeed(result host.Result) {
	if !atomic.CompareAndSwapInt32(&f.state, int32(Pending), int32(Succeeded)) {
		panic("request: Future completed more than once")
	}
	f.mu.Lock()
	f.result = result
	f.mu.Unlock()
	close(f.done)
}

// Fail transitions the Future to Failed exactly once, with the same
// duplicate-completion assertion as Succeed.
func (f *Future) Fail(err error) {
	if !atomic.CompareAndSwapInt32(&f.state, int32(Pending), int32(Failed)) {
		panic("request: Future completed more than once")
	}
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.done)
}

// Done returns a channel closed when the Future reaches a terminal state.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Future is terminal and returns its outcome.
func (f *Future) Wait() (host.Result, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}
