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

package pool

import (
	"math/rand"
	"time"
)

// backoff computes exponential reconnect delays base, 2*base, 4*base, ...
// capped at 10x base, each perturbed by up to +/- jitterFraction.
type backoff struct {
	base    time.Duration
	cap     time.Duration
	attempt int
}

func newBackoff(base time.Duration) *backoff {
	return &backoff{base: base, cap: base * 10}
}

// jitterFraction bounds the +/- perturbation applied to each computed
// delay, so observed delays track base, 2*base, 4*base, 8*base, 10*base
// (capped) closely rather than full-jitter's 0..delay spread.
const jitterFraction = 0.2

// next returns the delay for the current attempt and advances the attempt
// counter.
func (b *backoff) next() time.Duration {
	delay := b.base << uint(b.attempt)
	if delay <= 0 || delay > b.cap {
		delay = b.cap
	}
	if b.attempt < 30 { // guard against overflow from repeated doubling
		b.attempt++
	}
	if delay <= 0 {
		return 0
	}
	jitter := time.Duration(float64(delay) * jitterFraction)
	if jitter <= 0 {
		return delay
	}
	offset := rand.Int63n(int64(2*jitter+1)) - int64(jitter)
	result := delay + time.Duration(offset)
	if result < 0 {
		result = 0
	}
	return result
}

// reset zeroes the attempt counter after a successful connect.
func (b *backoff) reset() {
	b.attempt = 0
}
