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

package processor

import (
	"sync/atomic"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/veladb/wcdriver/config"
	"github.com/veladb/wcdriver/frame"
	"github.com/veladb/wcdriver/host"
	"github.com/veladb/wcdriver/request"
	"github.com/veladb/wcdriver/router"
	"github.com/veladb/wcdriver/transport"
)

// Manager is a fixed-size array of RequestProcessors plus round-robin
// request dispatch and topology/keyspace fan-out. The processor array is
// built once in NewManager and never mutated afterward, so there is no
// one-time-initializer capability to guard separately.
type Manager struct {
	cfg        *config.Config
	processors []*RequestProcessor
	current    uint64 // atomic round-robin cursor
}

// NewManager builds cfg.NumThreads RequestProcessors, all sharing dialer
// and one codec, each with its own Router built from lb/retry, and starts
// their event loops. The processors are not reachable for further mutation afterward —
// see the Manager doc comment above.
func NewManager(cfg *config.Config, dialer transport.Dialer, lb router.LoadBalancingPolicy, retry router.RetryPolicy) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec := frame.NewCodec(cfg.Compression)
	m := &Manager{
		cfg:        cfg,
		processors: make([]*RequestProcessor, cfg.NumThreads),
	}
	for i := 0; i < cfg.NumThreads; i++ {
		rtr := router.New(lb, retry, cfg.Logger)
		m.processors[i] = New(i, cfg, dialer, codec, rtr)
	}
	return m, nil
}

// Submit increments the round-robin cursor and posts fut to
// processors[current mod N]. If that processor's intake is full, Submit
// does not scan the others: a lock-free post beats an O(N) contended scan,
// and the caller can retry.
func (m *Manager) Submit(fut *request.Future) error {
	// AddUint64 returns the post-increment value; subtract 1 so the first
	// dispatch lands on processors[0] instead of skipping it.
	idx := (atomic.AddUint64(&m.current, 1) - 1) % uint64(len(m.processors))
	return m.processors[idx].Submit(fut)
}

// NotifyHostAdd fans an AddPool Payload out to every processor. The caller
// (the control connection) is responsible for serializing a host add
// before any request could target it.
func (m *Manager) NotifyHostAdd(h *host.Host) {
	m.broadcast(Payload{Kind: PayloadAddPool, Host: h})
}

// NotifyHostRemove fans a RemovePool Payload out to every processor. It
// enqueues the Payload unconditionally, so a removed host's pool is always
// torn down on every processor rather than left dangling.
func (m *Manager) NotifyHostRemove(h *host.Host) {
	m.broadcast(Payload{Kind: PayloadRemovePool, Host: h})
}

// NotifyTokenMap fans a TokenMapUpdate Payload out to every processor.
func (m *Manager) NotifyTokenMap(tm *host.TokenMap) {
	m.broadcast(Payload{Kind: PayloadTokenMapUpdate, TokenMap: tm})
}

// NotifyKeyspace fans a KeyspaceUpdate Payload out to every processor.
func (m *Manager) NotifyKeyspace(keyspace string) {
	m.broadcast(Payload{Kind: PayloadKeyspaceUpdate, Keyspace: keyspace})
}

func (m *Manager) broadcast(payload Payload) {
	for _, p := range m.processors {
		p.NotifyEvent(payload)
	}
}

// CloseHandles fans a handle-close signal out to every processor: further
// Submit calls on any of them return ErrShutdown, but outstanding requests
// are left to finish or time out. Idempotent.
func (m *Manager) CloseHandles() {
	for _, p := range m.processors {
		p.CloseHandles()
	}
}

// Close tears down every processor's pools immediately, in addition to
// CloseHandles' effect on all of them. Idempotent. Errors from individual
// processors are aggregated rather than discarded.
func (m *Manager) Close() error {
	var result *multierror.Error
	for _, p := range m.processors {
		if err := p.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Join joins every processor in array order, waiting for each one's
// outstanding requests to reach a terminal state and its loop to exit.
// Idempotent.
func (m *Manager) Join() {
	for _, p := range m.processors {
		p.Join()
	}
}

// NumProcessors returns the number of RequestProcessors this Manager owns.
func (m *Manager) NumProcessors() int {
	return len(m.processors)
}
