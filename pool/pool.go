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

// Package pool implements HostPool: the set of Connections to one
// coordinator host, enforcing core/max connection counts with reconnect
// backoff. Pool state is mutex-guarded; reconnects run from a single
// time.AfterFunc timer and each connection is watched by its own polling
// goroutine.
package pool

import (
	"context"
	"math/rand"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/veladb/wcdriver/config"
	"github.com/veladb/wcdriver/connection"
	"github.com/veladb/wcdriver/frame"
	"github.com/veladb/wcdriver/host"
	"github.com/veladb/wcdriver/transport"
	"github.com/veladb/wcdriver/wcerr"
)

// HostPool is associated with exactly one Host. Invariant:
// ready_count <= open_count <= max, and if open_count < core and the Host is
// Up, a reconnect or connect is either in flight or scheduled.
type HostPool struct {
	host          *host.Host
	dialer        transport.Dialer
	codec         *frame.Codec
	streamIDSpace int
	core, max     int
	logger        config.Logger
	onEvent       connection.EventHandler

	mu         sync.Mutex
	conns      []*connection.Connection
	closed     bool
	backoff    *backoff
	timer      *time.Timer
	timerGen   uint64 // invalidates a stale fired timer after cancel/reschedule
	connecting int     // connect attempts currently in flight, to avoid pile-up
}

// New constructs a HostPool and kicks off enough connects to reach Core.
func New(h *host.Host, dialer transport.Dialer, codec *frame.Codec, streamIDSpace, core, max int, reconnectWait time.Duration, logger config.Logger, onEvent connection.EventHandler) *HostPool {
	p := &HostPool{
		host:          h,
		dialer:        dialer,
		codec:         codec,
		streamIDSpace: streamIDSpace,
		core:          core,
		max:           max,
		logger:        logger,
		onEvent:       onEvent,
		backoff:       newBackoff(reconnectWait),
	}
	p.ensureCore(context.Background())
	return p
}

// Host returns the Host this pool targets.
func (p *HostPool) Host() *host.Host {
	return p.host
}

// SetHost updates the Host snapshot (e.g. a Status change), used by the
// owning RequestProcessor when it applies a topology event.
func (p *HostPool) SetHost(h *host.Host) {
	p.mu.Lock()
	p.host = h
	p.mu.Unlock()
}

// OpenCount returns the number of Connections currently owned, in any state.
func (p *HostPool) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// ReadyCount returns the number of Connections in the Ready state.
func (p *HostPool) ReadyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.conns {
		if c.State() == connection.Ready {
			n++
		}
	}
	return n
}

// Acquire picks the Ready connection with the lowest in-flight count below
// its stream-id capacity, random tie-break, or returns ok=false if the pool
// has no such connection (the caller should advance to the next host in its
// plan). When every Ready connection is at capacity, Acquire kicks off an
// opportunistic connect beyond Core (bounded by Max) before returning
// ok=false, so a later attempt against this host can land on fresh capacity
// instead of the caller only ever failing over.
func (p *HostPool) Acquire() (*connection.Connection, bool) {
	p.mu.Lock()

	var best []*connection.Connection
	bestInFlight := -1
	anyReady := false
	for _, c := range p.conns {
		if c.State() != connection.Ready {
			continue
		}
		anyReady = true
		inFlight := c.InFlight()
		if inFlight >= c.Capacity() {
			continue // saturated: not a candidate, but may justify growing
		}
		switch {
		case bestInFlight == -1 || inFlight < bestInFlight:
			bestInFlight = inFlight
			best = []*connection.Connection{c}
		case inFlight == bestInFlight:
			best = append(best, c)
		}
	}
	growNeeded := len(best) == 0 && anyReady
	p.mu.Unlock()

	if growNeeded {
		p.growOne()
	}
	if len(best) == 0 {
		return nil, false
	}
	return best[rand.Intn(len(best))], true
}

// growOne opens one additional connection beyond Core, up to Max, when
// Acquire finds every Ready connection at full stream-id capacity. Unlike
// ensureCore this never retries on failure: growth above Core is an
// opportunistic capacity increase, not a connectivity guarantee, so a failed
// attempt just leaves the pool at its current size until the next saturated
// Acquire call tries again.
func (p *HostPool) growOne() {
	p.mu.Lock()
	if p.closed || p.host.Status != host.Up || len(p.conns)+p.connecting >= p.max {
		p.mu.Unlock()
		return
	}
	p.connecting++
	p.mu.Unlock()
	go p.connectGrow(context.Background())
}

func (p *HostPool) connectGrow(ctx context.Context) {
	conn, err := p.dialer.Dial(ctx, p.host.Address)
	p.mu.Lock()
	p.connecting--
	closed := p.closed
	p.mu.Unlock()
	if closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		p.logger.Printf("pool[%s]: grow-to-max connect failed: %v", p.host.Address, err)
		return
	}

	c := connection.New(conn, p.streamIDSpace, p.codec, p.onEvent, p.logger)

	p.mu.Lock()
	if p.closed || len(p.conns) >= p.max {
		p.mu.Unlock()
		_ = c.Close()
		return
	}
	p.conns = append(p.conns, c)
	p.mu.Unlock()

	go p.watch(c)
}

// ensureCore connects enough new connections to reach Core, bounded so we
// never have more than (core - open) attempts in flight at once.
func (p *HostPool) ensureCore(ctx context.Context) {
	p.mu.Lock()
	if p.closed || p.host.Status != host.Up {
		p.mu.Unlock()
		return
	}
	need := p.core - len(p.conns) - p.connecting
	if need <= 0 {
		p.mu.Unlock()
		return
	}
	p.connecting += need
	p.mu.Unlock()

	for i := 0; i < need; i++ {
		go p.connectOne(ctx)
	}
}

func (p *HostPool) connectOne(ctx context.Context) {
	conn, err := p.dialer.Dial(ctx, p.host.Address)
	p.mu.Lock()
	p.connecting--
	closed := p.closed
	p.mu.Unlock()
	if closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		p.logger.Printf("pool[%s]: connect failed: %v", p.host.Address, err)
		p.scheduleReconnect()
		return
	}

	c := connection.New(conn, p.streamIDSpace, p.codec, p.onEvent, p.logger)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = c.Close()
		return
	}
	p.conns = append(p.conns, c)
	p.backoff.reset()
	p.mu.Unlock()

	// Detect this connection's eventual closure asynchronously so the pool
	// can remove it and, if still under Core, reconnect.
	go p.watch(c)
}

// watch blocks until c is observably Closed; Connection has no close
// notification channel of its own (by design — its state machine is the
// only externally visible signal), so we poll it at a coarse interval.
func (p *HostPool) watch(c *connection.Connection) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if c.State() == connection.Closed {
			p.onConnectionClosed(c)
			return
		}
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
	}
}

// onConnectionClosed removes conn from the pool and, if the Host is still
// Up and open_count has dropped below Core, schedules a reconnect.
func (p *HostPool) onConnectionClosed(conn *connection.Connection) {
	p.mu.Lock()
	for i, c := range p.conns {
		if c == conn {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			break
		}
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return
	}
	p.scheduleReconnect()
}

// scheduleReconnect arms at most one reconnect timer at a time: concurrent
// callers all see the same non-nil p.timer and skip arming a second one,
// satisfying the "reconnect idempotence" law even under simultaneous
// on_connection_closed calls.
func (p *HostPool) scheduleReconnect() {
	p.mu.Lock()
	if p.closed || p.host.Status != host.Up {
		p.mu.Unlock()
		return
	}
	if len(p.conns)+p.connecting >= p.core {
		p.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.mu.Unlock()
		return
	}
	delay := p.backoff.next()
	p.timerGen++
	gen := p.timerGen
	p.timer = time.AfterFunc(delay, func() { p.fireReconnect(gen) })
	p.mu.Unlock()
}

func (p *HostPool) fireReconnect(gen uint64) {
	p.mu.Lock()
	if p.timerGen != gen {
		p.mu.Unlock()
		return // superseded by CancelReconnect or a newer schedule
	}
	p.timer = nil
	closed := p.closed
	status := p.host.Status
	p.mu.Unlock()

	if closed || status != host.Up {
		return
	}
	p.ensureCore(context.Background())
}

// CancelReconnect cancels any pending reconnect timer, called when the
// Host transitions away from Up before the timer fires.
func (p *HostPool) CancelReconnect() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.timerGen++ // invalidate any timer callback already racing past Stop
	p.mu.Unlock()
}

// Close closes every Connection in the pool and cancels any pending
// reconnect. Errors from individual connection closes are aggregated
// (github.com/hashicorp/go-multierror) rather than the caller only seeing
// the last one.
func (p *HostPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	var result *multierror.Error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		return nil
	}
	return wcerr.Wrap(result, "pool: close")
}
