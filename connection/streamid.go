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

package connection

// streamIDAllocator is a free list of stream ids pre-populated 1..N (id 0
// is reserved for events/unsolicited frames). Allocation and release are
// O(1); reuse is LIFO so the most-recently-freed id is hottest in
// server-side caches, and a duplicate reply on a reused id is easy to catch
// via the generation counter below. A reusable free list fits here rather
// than an ever-increasing counter since per-connection concurrency is
// bounded (127 or 32768) rather than open-ended.
type streamIDAllocator struct {
	free       []uint16 // LIFO stack: free[len-1] is popped first
	generation []byte   // one byte per id, index 0 unused, bumped on every release
}

func newStreamIDAllocator(n int) *streamIDAllocator {
	a := &streamIDAllocator{
		free:       make([]uint16, n),
		generation: make([]byte, n+1),
	}
	// Populate so that id 1 ends up on top of the stack first: for a fresh
	// connection the first allocation should be the lowest id.
	for i := 0; i < n; i++ {
		a.free[i] = uint16(n - i)
	}
	return a
}

// allocate pops the most-recently-freed id, or ok=false if none are free.
func (a *streamIDAllocator) allocate() (id uint16, generation byte, ok bool) {
	if len(a.free) == 0 {
		return 0, 0, false
	}
	last := len(a.free) - 1
	id = a.free[last]
	a.free = a.free[:last]
	return id, a.generation[id], true
}

// release pushes id back onto the free list and bumps its generation so a
// late response carrying the old generation is recognizable as stale.
func (a *streamIDAllocator) release(id uint16) {
	a.generation[id]++
	a.free = append(a.free, id)
}

// outstanding returns N - len(free), i.e. the number of ids currently
// allocated (invariant: pending-count + free-count == N at all times).
func (a *streamIDAllocator) outstanding() int {
	return (len(a.generation) - 1) - len(a.free)
}

// capacity returns N, the total stream-id namespace size.
func (a *streamIDAllocator) capacity() int {
	return len(a.generation) - 1
}
