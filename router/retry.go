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
	"github.com/pkg/errors"

	"github.com/veladb/wcdriver/wcerr"
)

// Decision is what a RetryPolicy wants the Router to do after an attempt
// fails.
type Decision int

const (
	// Rethrow surfaces the error to the caller; the attempt is over.
	Rethrow Decision = iota
	// RetrySame asks for a retry on the identical host. Router handles it
	// exactly like RetryNext: it advances to the next host in the query plan
	// and does not retry the same host. (Unprepared re-prepare is a separate
	// path in Router and does not go through this decision.)
	RetrySame
	// RetryNext advances to the next host in the query plan.
	RetryNext
)

// AttemptOutcome carries enough context about one failed attempt for a
// RetryPolicy to decide safely, especially for non-idempotent requests
// where only specific proven-safe failure modes are retriable.
type AttemptOutcome struct {
	Err error
	// WriteType classifies a WriteTimeout's write, when Err wraps one.
	WriteType wcerr.WriteType
	// CoordinatorAccepted is true once the coordinator is known to have
	// accepted the write (so retrying risks duplicate application).
	CoordinatorAccepted bool
	// FrameWritten is true if the request frame was handed to the
	// connection before the failure, so the request may already have
	// reached the coordinator. DefaultRetryPolicy retries a non-idempotent
	// request on ErrConnectionClosed or ErrBusy only when this is false.
	FrameWritten bool
}

// RetryPolicy decides what to do after an attempt fails. Idempotent
// requests may retry on any host; non-idempotent requests retry only on
// errors proven safe.
type RetryPolicy interface {
	OnError(outcome AttemptOutcome, attempts int, idempotent bool) Decision
}

// DefaultRetryPolicy implements the conservative default retry semantics:
// idempotent requests retry broadly, non-idempotent requests retry only
// when the error class proves the coordinator never accepted the write.
type DefaultRetryPolicy struct {
	// MaxRetries bounds RetrySame/RetryNext decisions regardless of error
	// class, as a backstop against infinite failover loops.
	MaxRetries int
}

// NewDefaultRetryPolicy returns a DefaultRetryPolicy with a sane bound.
func NewDefaultRetryPolicy() *DefaultRetryPolicy {
	return &DefaultRetryPolicy{MaxRetries: 10}
}

// OnError implements RetryPolicy.
func (p *DefaultRetryPolicy) OnError(outcome AttemptOutcome, attempts int, idempotent bool) Decision {
	if p.MaxRetries > 0 && attempts >= p.MaxRetries {
		return Rethrow
	}

	cause := errors.Cause(outcome.Err)

	if idempotent {
		switch cause {
		case wcerr.ErrTimeout, wcerr.ErrBusy, wcerr.ErrConnectionClosed,
			wcerr.ErrOverloaded, wcerr.ErrUnavailable, wcerr.ErrReadTimeout:
			return RetryNext
		}
		return Rethrow
	}

	// Non-idempotent: only retry errors proven safe.
	switch cause {
	case wcerr.ErrWriteTimeout:
		if outcome.WriteType == wcerr.WriteTypeBatchLog {
			return RetryNext
		}
	case wcerr.ErrUnavailable:
		if !outcome.CoordinatorAccepted {
			return RetryNext
		}
	case wcerr.ErrConnectionClosed, wcerr.ErrBusy:
		if !outcome.FrameWritten {
			return RetryNext
		}
	}
	return Rethrow
}
