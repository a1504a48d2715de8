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

// Package processor implements RequestProcessor and Manager: one I/O loop
// per processor owning a Host->HostPool map, a request intake queue, and an
// event intake queue; and a fixed-size array of processors with
// round-robin dispatch across them. Each processor's loop is a single
// goroutine draining its two channels, the Go equivalent of a dedicated
// event-loop thread driven by callbacks.
package processor

import (
	"sync"
	"sync/atomic"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/veladb/wcdriver/config"
	"github.com/veladb/wcdriver/frame"
	"github.com/veladb/wcdriver/host"
	"github.com/veladb/wcdriver/pool"
	"github.com/veladb/wcdriver/request"
	"github.com/veladb/wcdriver/router"
	"github.com/veladb/wcdriver/transport"
	"github.com/veladb/wcdriver/wcerr"
)

// State is a RequestProcessor's lifecycle stage.
type State int32

const (
	Running State = iota
	Draining
	Stopped
)

// tokenMapBox lets us store a *host.TokenMap (which may legitimately be
// nil) in an atomic.Value, which requires every Store to carry the same
// concrete type.
type tokenMapBox struct {
	tm *host.TokenMap
}

// RequestProcessor is one single I/O-loop thread: everything it owns
// (pools, routing hosts) is reachable from multiple goroutines, since a
// Connection's response callback naturally runs on that Connection's own
// recv goroutine rather than the processor's loop, so access is
// mutex-guarded rather than implied exclusive by a single dedicated loop
// thread.
type RequestProcessor struct {
	index  int
	cfg    *config.Config
	dialer transport.Dialer
	codec  *frame.Codec
	router *router.Router
	logger config.Logger

	mu    sync.Mutex
	pools map[string]*pool.HostPool
	hosts map[string]*host.Host

	tokenMap atomic.Value // tokenMapBox
	keyspace atomic.Value // string

	requestCh chan *request.Future
	eventCh   chan Payload

	closedHandles int32 // atomic bool
	state         int32 // atomic State

	inflight sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	exited   chan struct{}
}

// New constructs a RequestProcessor and starts its event loop goroutine.
func New(index int, cfg *config.Config, dialer transport.Dialer, codec *frame.Codec, rtr *router.Router) *RequestProcessor {
	p := &RequestProcessor{
		index:     index,
		cfg:       cfg,
		dialer:    dialer,
		codec:     codec,
		router:    rtr,
		logger:    cfg.Logger,
		pools:     make(map[string]*pool.HostPool),
		hosts:     make(map[string]*host.Host),
		requestCh: make(chan *request.Future, cfg.QueueSizeIO),
		eventCh:   make(chan Payload, cfg.QueueSizeEvent),
		stopCh:    make(chan struct{}),
		exited:    make(chan struct{}),
	}
	p.keyspace.Store("")
	p.tokenMap.Store(tokenMapBox{})
	go p.loop()
	return p
}

// Index returns this processor's position in its ProcessorManager's array.
func (p *RequestProcessor) Index() int {
	return p.index
}

// State returns the processor's current lifecycle stage.
func (p *RequestProcessor) State() State {
	return State(atomic.LoadInt32(&p.state))
}

// Submit hands fut to this processor's request intake. It returns
// QueueFullError iff the intake is at capacity at this instant, and
// ErrShutdown once CloseHandles has been called.
func (p *RequestProcessor) Submit(fut *request.Future) error {
	if atomic.LoadInt32(&p.closedHandles) == 1 {
		return wcerr.ErrShutdown
	}
	p.inflight.Add(1)
	select {
	case p.requestCh <- fut:
		return nil
	default:
		p.inflight.Done()
		return &wcerr.QueueFullError{ProcessorIndex: p.index, Capacity: cap(p.requestCh)}
	}
}

// NotifyEvent delivers a topology/keyspace Payload to this processor's
// event intake. Unlike Submit, this blocks rather than drops: losing a
// topology update would leave routing permanently stale, which is worse
// than a momentary backpressure stall on the (infrequent, control-plane)
// event path.
func (p *RequestProcessor) NotifyEvent(payload Payload) {
	select {
	case p.eventCh <- payload:
	case <-p.stopCh:
	}
}

// Hosts implements router.PoolSource.
func (p *RequestProcessor) Hosts() []*host.Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*host.Host, 0, len(p.hosts))
	for _, h := range p.hosts {
		out = append(out, h)
	}
	return out
}

// PoolFor implements router.PoolSource.
func (p *RequestProcessor) PoolFor(addr string) (*pool.HostPool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hp, ok := p.pools[addr]
	return hp, ok
}

// loop is the single event-loop goroutine: it drains both intake queues on
// every wake-up. A blocked select naturally coalesces repeated wake-ups
// into one pass, so no separate idempotent-wake bookkeeping is needed.
func (p *RequestProcessor) loop() {
	defer close(p.exited)
	for {
		select {
		case <-p.stopCh:
			return
		case payload := <-p.eventCh:
			p.applyPayload(payload)
		case fut := <-p.requestCh:
			p.dispatch(fut)
		}
	}
}

func (p *RequestProcessor) applyPayload(payload Payload) {
	switch payload.Kind {
	case PayloadAddPool:
		p.addPool(payload.Host)
	case PayloadRemovePool:
		p.removePool(payload.Host)
	case PayloadKeyspaceUpdate:
		p.keyspace.Store(payload.Keyspace)
	case PayloadTokenMapUpdate:
		p.tokenMap.Store(tokenMapBox{tm: payload.TokenMap})
	}
}

func (p *RequestProcessor) addPool(h *host.Host) {
	p.mu.Lock()
	if _, exists := p.pools[h.Key()]; exists {
		p.hosts[h.Key()] = h
		p.mu.Unlock()
		return
	}
	p.hosts[h.Key()] = h
	p.mu.Unlock()

	onEvent := func(frame.Frame) {} // schema/topology push events: out of scope here, owned by the control connection
	hp := pool.New(h, p.dialer, p.codec, p.cfg.StreamIDSpace(), p.cfg.CoreConnectionsPerHost,
		p.cfg.MaxConnectionsPerHost, time.Duration(p.cfg.ReconnectWaitMS)*time.Millisecond, p.logger, onEvent)

	p.mu.Lock()
	p.pools[h.Key()] = hp
	p.mu.Unlock()
}

func (p *RequestProcessor) removePool(h *host.Host) {
	p.mu.Lock()
	hp, ok := p.pools[h.Key()]
	if ok {
		delete(p.pools, h.Key())
	}
	delete(p.hosts, h.Key())
	p.mu.Unlock()

	if ok {
		if err := hp.Close(); err != nil {
			p.logger.Printf("processor[%d]: error closing pool for %s: %v", p.index, h.Key(), err)
		}
	}
}

func (p *RequestProcessor) dispatch(fut *request.Future) {
	go func() {
		<-fut.Done()
		p.inflight.Done()
	}()

	var tm *host.TokenMap
	if box, ok := p.tokenMap.Load().(tokenMapBox); ok {
		tm = box.tm
	}
	keyspace, _ := p.keyspace.Load().(string)
	if fut.Statement.Keyspace != "" {
		keyspace = fut.Statement.Keyspace
	}

	timeout := time.Duration(p.cfg.RequestTimeoutMS) * time.Millisecond
	p.router.Execute(fut, keyspace, tm, p, timeout)
}

// CloseHandles stops accepting new work: further Submit calls return
// ErrShutdown. Outstanding requests continue until they complete or time
// out. Idempotent.
func (p *RequestProcessor) CloseHandles() {
	atomic.StoreInt32(&p.closedHandles, 1)
	atomic.CompareAndSwapInt32(&p.state, int32(Running), int32(Draining))
}

// Close tears down every HostPool this processor owns immediately, in
// addition to CloseHandles' effect. Idempotent. Errors closing individual
// pools are aggregated rather than discarded.
func (p *RequestProcessor) Close() error {
	p.CloseHandles()
	p.mu.Lock()
	pools := p.pools
	p.pools = make(map[string]*pool.HostPool)
	p.mu.Unlock()

	var result *multierror.Error
	for _, hp := range pools {
		if err := hp.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Join waits for every outstanding request to reach a terminal state and
// for the loop goroutine to exit, then marks the processor Stopped.
// Idempotent.
func (p *RequestProcessor) Join() {
	p.inflight.Wait()
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.exited
	atomic.StoreInt32(&p.state, int32(Stopped))
}

// readyConnectionCount sums Ready connections across every pool this
// processor owns — used by tests to wait until pools have connected.
func (p *RequestProcessor) readyConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, hp := range p.pools {
		n += hp.ReadyCount()
	}
	return n
}
