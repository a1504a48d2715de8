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

// Package fakecluster is an in-memory coordinator used only by this
// module's own tests (and cmd/wcbench): it implements transport.Dialer by
// wrapping each dialed "socket" in a github.com/xtaci/smux session over a
// net.Pipe(), then serves the wcdriver frame protocol on the accepted
// stream. (transport.TCPDialer, the production Dialer, hands back a plain
// or TLS-wrapped TCP connection with no smux layer.) Driving a real
// multi-node-shaped harness this way beats mocking Connection/HostPool/
// Manager directly.
package fakecluster

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/xtaci/smux"

	"github.com/veladb/wcdriver/frame"
)

// Host is one simulated coordinator node: configurable latency and failure
// behavior so tests can drive end-to-end scenarios without a real cluster.
type Host struct {
	mu       sync.Mutex
	down     bool
	stall    time.Duration
	sessions []*smux.Session
}

// SetDown makes every future Dial to this host fail immediately, and is
// used to simulate a host leaving the cluster mid-test.
func (h *Host) SetDown(down bool) {
	h.mu.Lock()
	h.down = down
	h.mu.Unlock()
}

// SetStall delays every response by d, used to fill a connection's
// stream-id space for the "stream exhaustion" scenario.
func (h *Host) SetStall(d time.Duration) {
	h.mu.Lock()
	h.stall = d
	h.mu.Unlock()
}

func (h *Host) isDown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.down
}

func (h *Host) stallFor() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stall
}

// Cluster is a set of fake Hosts keyed by address, and implements
// transport.Dialer directly so it can be handed to pool.New/processor.New
// in tests exactly where a *transport.TCPDialer would otherwise go.
type Cluster struct {
	mu    sync.Mutex
	hosts map[string]*Host
}

// New returns an empty Cluster.
func New() *Cluster {
	return &Cluster{hosts: make(map[string]*Host)}
}

// AddHost registers address as a simulated coordinator, Up by default.
func (c *Cluster) AddHost(address string) *Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := &Host{}
	c.hosts[address] = h
	return h
}

// Host returns the Host registered for address, or nil if none.
func (c *Cluster) Host(address string) *Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hosts[address]
}

// Dial implements transport.Dialer: it opens a net.Pipe, wraps one end in a
// server-side smux.Session that serves frames, wraps the other end in a
// client-side smux.Session, opens one stream on it, and hands that stream
// back as the net.Conn the caller's Connection will drive.
func (c *Cluster) Dial(ctx context.Context, address string) (net.Conn, error) {
	c.mu.Lock()
	h, ok := c.hosts[address]
	c.mu.Unlock()
	if !ok {
		return nil, &net.OpError{Op: "dial", Net: "fakecluster", Err: errUnknownHost{address}}
	}
	if h.isDown() {
		return nil, &net.OpError{Op: "dial", Net: "fakecluster", Err: errHostDown{address}}
	}

	serverSide, clientSide := net.Pipe()
	cfg := smux.DefaultConfig()
	if err := smux.VerifyConfig(cfg); err != nil {
		return nil, err
	}

	srvSess, err := smux.Server(serverSide, cfg)
	if err != nil {
		return nil, err
	}
	cliSess, err := smux.Client(clientSide, cfg)
	if err != nil {
		_ = srvSess.Close()
		return nil, err
	}

	h.mu.Lock()
	h.sessions = append(h.sessions, srvSess, cliSess)
	h.mu.Unlock()

	go acceptAndServe(srvSess, h)

	stream, err := cliSess.OpenStream()
	if err != nil {
		_ = srvSess.Close()
		_ = cliSess.Close()
		return nil, err
	}
	return stream, nil
}

// Close tears down every session this Cluster ever opened.
func (c *Cluster) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.hosts {
		h.mu.Lock()
		for _, s := range h.sessions {
			_ = s.Close()
		}
		h.mu.Unlock()
	}
}

func acceptAndServe(srvSess *smux.Session, h *Host) {
	stream, err := srvSess.AcceptStream()
	if err != nil {
		return
	}
	serveStream(stream, h)
}

// serveStream is the fake coordinator's per-connection loop: it decodes
// each request frame, waits out the host's configured stall, and replies
// with a frame that lets tests assert routing/retry behavior
// deterministically. prepared tracks, per connection, which query bodies
// this coordinator has already "prepared" — a query carrying
// unpreparedMarker is rejected once and succeeds after the matching
// OpPrepare, mirroring a real server's per-statement prepare state closely
// enough to exercise router.reprepareAndRetry without looping forever.
func serveStream(conn net.Conn, h *Host) {
	defer conn.Close()
	prepared := make(map[string]bool)
	for {
		f, err := frame.Decode(conn)
		if err != nil {
			return
		}

		if stall := h.stallFor(); stall > 0 {
			time.Sleep(stall)
		}

		resp := respond(f, prepared)
		if err := frame.Encode(conn, resp); err != nil {
			return
		}
	}
}

// unpreparedMarker is the magic body prefix a test uses to make this fake
// coordinator answer an OpQuery/OpExecute with a simulated "unprepared
// statement" server error until the matching OpPrepare arrives, exercising
// router's reprepareAndRetry path without a real CQL decoder.
const unpreparedMarker = "UNPREPARED:"

// unavailableMarker and writeTimeoutMarker mirror router's unavailablePrefix
// and writeTimeoutPrefix: a query body carrying one of these always answers
// OpError (not gated on OpPrepare state like unpreparedMarker), letting tests
// drive the non-idempotent retry-safety rules end to end.
const unavailableMarker = "UNAVAILABLE:"
const writeTimeoutMarker = "WRITETIMEOUT:"

func hasMarker(body []byte, marker string) bool {
	return len(body) >= len(marker) && string(body[:len(marker)]) == marker
}

func respond(f frame.Frame, prepared map[string]bool) frame.Frame {
	switch f.Opcode {
	case frame.OpPrepare:
		prepared[string(f.Body)] = true
		return frame.Frame{StreamID: f.StreamID, Generation: f.Generation, Opcode: frame.OpReady}
	case frame.OpQuery, frame.OpExecute, frame.OpBatch:
		// Echo the body back verbatim (byte-identical, so tests can assert on
		// it) along with whatever Compressed flag it arrived with: this fake
		// coordinator never touches frame.Codec itself, it only forwards
		// already-encoded bytes, so dropping the flag here would hand the
		// client back compressed bytes it thinks are plain.
		if hasMarker(f.Body, unavailableMarker) || hasMarker(f.Body, writeTimeoutMarker) {
			return frame.Frame{StreamID: f.StreamID, Generation: f.Generation, Opcode: frame.OpError, Compressed: f.Compressed, Body: f.Body}
		}
		if hasMarker(f.Body, unpreparedMarker) && !prepared[string(f.Body)] {
			return frame.Frame{StreamID: f.StreamID, Generation: f.Generation, Opcode: frame.OpError, Compressed: f.Compressed, Body: f.Body}
		}
		return frame.Frame{StreamID: f.StreamID, Generation: f.Generation, Opcode: frame.OpResult, Compressed: f.Compressed, Body: f.Body}
	default:
		return frame.Frame{StreamID: f.StreamID, Generation: f.Generation, Opcode: frame.OpResult, Compressed: f.Compressed, Body: f.Body}
	}
}

type errUnknownHost struct{ address string }

func (e errUnknownHost) Error() string { return "fakecluster: unknown host " + e.address }

type errHostDown struct{ address string }

func (e errHostDown) Error() string { return "fakecluster: host down " + e.address }
