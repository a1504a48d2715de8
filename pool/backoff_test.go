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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withinJitter(t *testing.T, got, want time.Duration) {
	t.Helper()
	lo := time.Duration(float64(want) * (1 - jitterFraction))
	hi := time.Duration(float64(want) * (1 + jitterFraction))
	assert.GreaterOrEqual(t, got, lo)
	assert.LessOrEqual(t, got, hi)
}

func TestBackoffDoublesThenCaps(t *testing.T) {
	base := 100 * time.Millisecond
	b := newBackoff(base)

	withinJitter(t, b.next(), base)
	withinJitter(t, b.next(), 2*base)
	withinJitter(t, b.next(), 4*base)
	withinJitter(t, b.next(), 8*base)
	withinJitter(t, b.next(), 10*base) // capped, would otherwise be 16x
	withinJitter(t, b.next(), 10*base) // stays capped on further attempts
}

func TestBackoffResetReturnsToBase(t *testing.T) {
	base := 50 * time.Millisecond
	b := newBackoff(base)
	b.next()
	b.next()
	b.reset()
	withinJitter(t, b.next(), base)
}

func TestBackoffNeverNegative(t *testing.T) {
	b := newBackoff(1)
	for i := 0; i < 40; i++ {
		assert.GreaterOrEqual(t, b.next(), time.Duration(0))
	}
}
