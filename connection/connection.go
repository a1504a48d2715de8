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

// Package connection implements Connection: a single TCP session that
// frames out requests and demultiplexes responses by stream id, using a
// send/recv/deadline goroutine trio. The stream-id bookkeeping (see
// streamid.go) correlates typed request/response pairs rather than
// generic byte streams.
package connection

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/veladb/wcdriver/config"
	"github.com/veladb/wcdriver/frame"
	"github.com/veladb/wcdriver/wcerr"
)

// State is a Connection's lifecycle stage.
type State int

const (
	Connecting State = iota
	Startup
	Ready
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Startup:
		return "startup"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callback is invoked exactly once per Write call, with either a response
// Frame or a terminal error (ErrTimeout, ErrConnectionClosed, ErrWriteFailed,
// ErrFrameMalformed, ErrUnknownStreamID). A server-side error arrives as a
// response Frame with Opcode OpError and a nil error.
type Callback func(frame.Frame, error)

type pendingEntry struct {
	callback   Callback
	generation byte
	deadline   time.Time
}

// EventHandler receives unsolicited frames (stream id 0): topology/schema
// push events from the coordinator.
type EventHandler func(frame.Frame)

// deadlineScanChunks is the minimum number of ids the deadline scanner
// inspects per tick; scanExpired scales the actual chunk size up from this
// floor so a full sweep stays bounded even at the full 32768-wide protocol
// version's id space, rather than amortizing so aggressively that a
// timed-out entry can linger for a full sweep's worth of ticks.
const deadlineScanChunks = 16

// deadlineScanFraction is the divisor applied to the id space when scaling
// the per-tick chunk size: a full sweep takes about deadlineScanFraction
// ticks for large N (exactly 256 at N=32768), and fewer where the
// deadlineScanChunks floor applies (8 ticks at N=127).
const deadlineScanFraction = 256

// deadlineScanPeriod is how often the coarse timer runs: an expired entry is
// caught within one full sweep of the id space, not within a single tick.
const deadlineScanPeriod = 50 * time.Millisecond

// Connection owns one socket, a stream-id ring of slots 1..N, and the
// pending-requests map. Every live stream id is either free or present
// exactly once in the pending map; on transition to Closing/Closed every
// pending slot is failed exactly once.
type Connection struct {
	conn    net.Conn
	codec   *frame.Codec
	onEvent EventHandler
	logger  config.Logger

	mu      sync.Mutex
	state   State
	ids     *streamIDAllocator
	pending map[uint16]*pendingEntry
	scanPos int

	writes chan writeRequest
	die    chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

type writeRequest struct {
	f frame.Frame
}

// New wraps an already-connected net.Conn as a Ready Connection with N
// stream-id slots. The caller performed Startup negotiation (protocol
// version, auth, compression) before calling New; that handshake is not
// implemented here.
func New(conn net.Conn, streamIDSpace int, codec *frame.Codec, onEvent EventHandler, logger config.Logger) *Connection {
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Connection{
		conn:    conn,
		codec:   codec,
		onEvent: onEvent,
		logger:  logger,
		state:   Ready,
		ids:     newStreamIDAllocator(streamIDSpace),
		pending: make(map[uint16]*pendingEntry),
		writes:  make(chan writeRequest, 1),
		die:     make(chan struct{}),
	}
	c.wg.Add(3)
	go c.sendLoop()
	go c.recvLoop()
	go c.deadlineLoop()
	return c
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...interface{}) {}

// State returns the Connection's current lifecycle stage.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InFlight returns the number of stream ids currently allocated.
func (c *Connection) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids.outstanding()
}

// Capacity returns the connection's total stream-id namespace size (N).
func (c *Connection) Capacity() int {
	return c.ids.capacity()
}

// Write allocates a stream id for f, sends it, and arranges for cb to be
// invoked exactly once with the response (or a terminal error). It returns
// ErrBusy if no stream id is free and ErrConnectionClosed if the
// connection is not Ready.
func (c *Connection) Write(f frame.Frame, timeout time.Duration, cb Callback) error {
	c.mu.Lock()
	if c.state != Ready {
		c.mu.Unlock()
		return wcerr.ErrConnectionClosed
	}
	id, generation, ok := c.ids.allocate()
	if !ok {
		c.mu.Unlock()
		return wcerr.ErrBusy
	}
	f.StreamID = id
	f.Generation = generation
	c.pending[id] = &pendingEntry{
		callback:   cb,
		generation: generation,
		deadline:   time.Now().Add(timeout),
	}
	c.mu.Unlock()

	select {
	case c.writes <- writeRequest{f: f}:
		return nil
	case <-c.die:
		c.failAndRelease(id, wcerr.ErrConnectionClosed)
		return wcerr.ErrConnectionClosed
	}
}

// sendLoop is the single writer goroutine: it owns the socket's write side
// exclusively so frame bytes from different callers are never interleaved.
func (c *Connection) sendLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.die:
			return
		case req := <-c.writes:
			body, compressed := c.codec.EncodeBody(req.f)
			req.f.Body = body
			req.f.Compressed = compressed
			if err := frame.Encode(c.conn, req.f); err != nil {
				c.closeWithError(wcerr.ErrWriteFailed)
				return
			}
		}
	}
}

// recvLoop is the single reader goroutine: it demultiplexes inbound frames
// by stream id, routing stream 0 to onEvent and everything else to its
// pending callback.
func (c *Connection) recvLoop() {
	defer c.wg.Done()
	for {
		f, err := frame.Decode(c.conn)
		if err != nil {
			if err == io.EOF {
				c.closeWithError(wcerr.ErrConnectionClosed)
			} else {
				c.closeWithError(wcerr.ErrConnectionClosed)
			}
			return
		}

		body, derr := c.codec.DecodeBody(f.Body, f.Compressed)
		if derr != nil {
			c.logger.Printf("connection: malformed body on stream %d: %v", f.StreamID, derr)
			c.closeWithError(wcerr.ErrFrameMalformed)
			return
		}
		f.Body = body

		if f.StreamID == 0 {
			if c.onEvent != nil {
				c.onEvent(f)
			}
			continue
		}

		c.mu.Lock()
		entry, ok := c.pending[f.StreamID]
		if !ok {
			c.mu.Unlock()
			c.logger.Printf("connection: response for unknown stream id %d", f.StreamID)
			c.closeWithError(wcerr.ErrUnknownStreamID)
			return
		}
		if entry.generation != f.Generation {
			// Late reply against a reused id: drop silently, the allocator's
			// generation counter already told us this isn't the request we
			// think it is.
			c.mu.Unlock()
			continue
		}
		delete(c.pending, f.StreamID)
		c.ids.release(f.StreamID)
		c.mu.Unlock()

		entry.callback(f, nil)
	}
}

// deadlineLoop amortizes expiry checks across the id space instead of
// scanning every pending entry every tick.
func (c *Connection) deadlineLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(deadlineScanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.die:
			return
		case <-ticker.C:
			c.scanExpired()
		}
	}
}

func (c *Connection) scanExpired() {
	now := time.Now()
	n := c.ids.capacity()
	if n == 0 {
		return
	}
	chunk := n / deadlineScanFraction
	if chunk < deadlineScanChunks {
		chunk = deadlineScanChunks
	}
	if chunk > n {
		chunk = n
	}
	var expired []uint16
	c.mu.Lock()
	for i := 0; i < chunk; i++ {
		id := uint16((c.scanPos % n) + 1)
		c.scanPos++
		if entry, ok := c.pending[id]; ok && now.After(entry.deadline) {
			expired = append(expired, id)
		}
	}
	c.mu.Unlock()
	for _, id := range expired {
		c.failAndRelease(id, wcerr.ErrTimeout)
	}
}

// failAndRelease invokes id's callback with err exactly once (if still
// pending) and returns the id to the free list.
func (c *Connection) failAndRelease(id uint16, err error) {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.ids.release(id)
	c.mu.Unlock()
	entry.callback(frame.Frame{}, err)
}

// Close transitions the Connection to Closing, fails every pending entry
// with ErrConnectionClosed exactly once, then transitions to Closed. No
// pending callback is invoked after Closed is observable externally.
// Idempotent. Close blocks until all three loop goroutines have exited;
// callers on one of those loops must use closeWithError instead (see
// sendLoop/recvLoop) to avoid waiting on themselves.
func (c *Connection) Close() error {
	c.closeWithError(wcerr.ErrConnectionClosed)
	c.wg.Wait()
	return nil
}

// closeWithError performs the state transition and pending-entry failure
// exactly once; it never blocks on c.wg, so it is safe to call from one of
// the Connection's own loop goroutines on their way out.
func (c *Connection) closeWithError(reason error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.state = Closing
		pending := c.pending
		c.pending = make(map[uint16]*pendingEntry)
		c.mu.Unlock()

		close(c.die)
		_ = c.conn.Close()

		for id, entry := range pending {
			c.ids.release(id)
			entry.callback(frame.Frame{}, reason)
		}

		c.mu.Lock()
		c.state = Closed
		c.mu.Unlock()
	})
}
