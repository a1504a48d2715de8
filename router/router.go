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

package router

import (
	"time"

	"github.com/veladb/wcdriver/config"
	"github.com/veladb/wcdriver/frame"
	"github.com/veladb/wcdriver/host"
	"github.com/veladb/wcdriver/pool"
	"github.com/veladb/wcdriver/request"
	"github.com/veladb/wcdriver/wcerr"
)

// unpreparedPrefix marks a simulated "unprepared statement" server error in
// a frame body, standing in for a real wire-encoded server error so Router
// and its tests can exercise the re-prepare-then-retry-once rule without a
// real CQL decoder.
const unpreparedPrefix = "UNPREPARED:"

// unavailablePrefix marks a simulated Unavailable server error; the byte
// immediately following the prefix is '1' if the coordinator is known to
// have accepted the write already, '0' otherwise.
const unavailablePrefix = "UNAVAILABLE:"

// writeTimeoutPrefix marks a simulated WriteTimeout server error; the byte
// immediately following the prefix is a wcerr.WriteType digit ('0'-'4').
const writeTimeoutPrefix = "WRITETIMEOUT:"

// PoolSource is how a Router reaches a processor's Host->HostPool map and
// known-hosts list without owning either itself — implemented by
// processor.RequestProcessor.
type PoolSource interface {
	Hosts() []*host.Host
	PoolFor(addr string) (*pool.HostPool, bool)
}

// Router selects hosts and connections for one request attempt and manages
// failover across retriable errors. A Router is stateless; the per-attempt
// state lives in the request.Future and the QueryPlan.
type Router struct {
	LBPolicy LoadBalancingPolicy
	Retry    RetryPolicy
	Logger   config.Logger
}

// New returns a Router with the given policies.
func New(lb LoadBalancingPolicy, retry RetryPolicy, logger config.Logger) *Router {
	return &Router{LBPolicy: lb, Retry: retry, Logger: logger}
}

// Execute begins routing fut: it builds a query plan and drives attempts
// against it, asynchronously, until fut reaches a terminal state. Execute
// itself returns immediately; completion happens via fut's callbacks,
// possibly on a Connection's own goroutine (see the RequestProcessor doc
// comment in package processor for why this departs from a single
// dedicated loop thread).
func (r *Router) Execute(fut *request.Future, keyspace string, tokenMap *host.TokenMap, src PoolSource, timeout time.Duration) {
	plan := r.LBPolicy.QueryPlan(keyspace, fut.Statement.RoutingKey, tokenMap, src.Hosts())
	r.tryNext(fut, plan, src, timeout, nil)
}

// tryNext advances the plan by one host and attempts the request there.
func (r *Router) tryNext(fut *request.Future, plan QueryPlan, src PoolSource, timeout time.Duration, lastErr error) {
	for {
		h, ok := plan.Next()
		if !ok {
			fut.Fail(&wcerr.NoHostAvailableError{Tried: fut.TriedHosts(), Last: lastErr})
			return
		}

		p, ok := src.PoolFor(h.Key())
		if !ok {
			continue // no pool for this host yet (e.g. AddPool hasn't landed); skip it
		}
		conn, ok := p.Acquire()
		if !ok {
			continue // pool saturated for this attempt; advance to the next host
		}

		fut.RecordAttempt(h.Key())
		body := []byte(fut.Statement.Query)
		f := frame.Frame{Opcode: frame.OpQuery, Body: body}

		writeErr := conn.Write(f, timeout, func(resp frame.Frame, callbackErr error) {
			r.handleResponse(fut, plan, src, timeout, h, resp, callbackErr)
		})
		if writeErr == nil {
			return // response will arrive asynchronously via the callback above
		}

		decision := r.Retry.OnError(AttemptOutcome{Err: writeErr}, fut.Attempts(), fut.Statement.Idempotent)
		if decision == Rethrow {
			fut.Fail(writeErr)
			return
		}
		lastErr = writeErr
		// RetrySame and RetryNext both fall through to trying the plan's
		// next host; the host that just failed is not tried again.
	}
}

func (r *Router) handleResponse(fut *request.Future, plan QueryPlan, src PoolSource, timeout time.Duration, h *host.Host, resp frame.Frame, callbackErr error) {
	if callbackErr != nil {
		// conn.Write already returned nil for this attempt (the pending entry
		// was registered before this callback could ever fire), so the frame
		// reached the wire; callbackErr is a post-write failure (timeout,
		// connection dropped) and must never be treated as "safe to retry
		// blindly" for a non-idempotent request.
		outcome := AttemptOutcome{Err: callbackErr, FrameWritten: true}
		decision := r.Retry.OnError(outcome, fut.Attempts(), fut.Statement.Idempotent)
		if decision == Rethrow {
			fut.Fail(callbackErr)
			return
		}
		r.tryNext(fut, plan, src, timeout, callbackErr)
		return
	}

	if resp.Opcode == frame.OpError {
		if isUnprepared(resp) && fut.Attempts() <= 1 {
			// Transparent re-prepare then a single retry on the same host,
			// ahead of the general RetryPolicy.
			r.reprepareAndRetry(fut, plan, src, timeout, h)
			return
		}

		outcome := AttemptOutcome{Err: wcerr.ErrServerError, FrameWritten: true}
		if accepted, ok := parseUnavailable(resp.Body); ok {
			outcome.Err = wcerr.ErrUnavailable
			outcome.CoordinatorAccepted = accepted
		} else if wt, ok := parseWriteTimeout(resp.Body); ok {
			outcome.Err = wcerr.ErrWriteTimeout
			outcome.WriteType = wt
		}

		decision := r.Retry.OnError(outcome, fut.Attempts(), fut.Statement.Idempotent)
		if decision == Rethrow {
			fut.Fail(outcome.Err)
			return
		}
		r.tryNext(fut, plan, src, timeout, outcome.Err)
		return
	}

	fut.Succeed(host.Result{Rows: []host.Row{{Values: [][]byte{resp.Body}}}})
}

func (r *Router) reprepareAndRetry(fut *request.Future, plan QueryPlan, src PoolSource, timeout time.Duration, h *host.Host) {
	p, ok := src.PoolFor(h.Key())
	if !ok {
		r.tryNext(fut, plan, src, timeout, wcerr.ErrUnprepared)
		return
	}
	conn, ok := p.Acquire()
	if !ok {
		r.tryNext(fut, plan, src, timeout, wcerr.ErrUnprepared)
		return
	}
	prepareErr := conn.Write(frame.Frame{Opcode: frame.OpPrepare, Body: []byte(fut.Statement.Query)}, timeout, func(prepResp frame.Frame, prepErr error) {
		if prepErr != nil || prepResp.Opcode == frame.OpError {
			r.tryNext(fut, plan, src, timeout, wcerr.ErrUnprepared)
			return
		}
		// Count the re-prepared query as an attempt before issuing it, so a
		// coordinator that keeps answering UNPREPARED can't keep this path
		// looping: the Attempts()<=1 guard above sees attempts>=2 on the next
		// pass and falls through to the general RetryPolicy instead.
		fut.RecordAttempt(h.Key())
		retryErr := conn.Write(frame.Frame{Opcode: frame.OpQuery, Body: []byte(fut.Statement.Query)}, timeout, func(resp frame.Frame, cbErr error) {
			r.handleResponse(fut, plan, src, timeout, h, resp, cbErr)
		})
		if retryErr != nil {
			r.tryNext(fut, plan, src, timeout, retryErr)
		}
	})
	if prepareErr != nil {
		r.tryNext(fut, plan, src, timeout, prepareErr)
	}
}

func isUnprepared(resp frame.Frame) bool {
	if len(resp.Body) < len(unpreparedPrefix) {
		return false
	}
	return string(resp.Body[:len(unpreparedPrefix)]) == unpreparedPrefix
}

// parseUnavailable reports whether body carries a simulated Unavailable
// error and, if so, whether it marks the coordinator as having already
// accepted the write.
func parseUnavailable(body []byte) (accepted bool, ok bool) {
	if len(body) < len(unavailablePrefix)+1 || string(body[:len(unavailablePrefix)]) != unavailablePrefix {
		return false, false
	}
	return body[len(unavailablePrefix)] == '1', true
}

// parseWriteTimeout reports whether body carries a simulated WriteTimeout
// error and, if so, which wcerr.WriteType it names.
func parseWriteTimeout(body []byte) (wcerr.WriteType, bool) {
	if len(body) < len(writeTimeoutPrefix)+1 || string(body[:len(writeTimeoutPrefix)]) != writeTimeoutPrefix {
		return 0, false
	}
	switch body[len(writeTimeoutPrefix)] {
	case '1':
		return wcerr.WriteTypeBatch, true
	case '2':
		return wcerr.WriteTypeBatchLog, true
	case '3':
		return wcerr.WriteTypeUnloggedBatch, true
	case '4':
		return wcerr.WriteTypeCounter, true
	default:
		return wcerr.WriteTypeSimple, true
	}
}
