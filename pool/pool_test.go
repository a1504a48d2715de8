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
	"github.com/stretchr/testify/require"

	"github.com/veladb/wcdriver/frame"
	"github.com/veladb/wcdriver/host"
	"github.com/veladb/wcdriver/internal/fakecluster"
)

func newTestPool(t *testing.T, addr string, core, max int) (*HostPool, *fakecluster.Cluster, func()) {
	t.Helper()
	cluster := fakecluster.New()
	cluster.AddHost(addr)
	h := host.New(addr, "dc1", "r1", nil)
	p := New(h, cluster, frame.NewCodec(0), 32, core, max, 20*time.Millisecond, nil, func(frame.Frame) {})
	return p, cluster, func() {
		_ = p.Close()
		cluster.Close()
	}
}

func TestNewReachesCoreConnections(t *testing.T) {
	p, _, cleanup := newTestPool(t, "host-a:9042", 2, 4)
	defer cleanup()

	assert.Eventually(t, func() bool { return p.ReadyCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, p.OpenCount())
}

func TestAcquirePicksLeastInFlight(t *testing.T) {
	p, cluster, cleanup := newTestPool(t, "host-b:9042", 2, 2)
	defer cleanup()
	cluster.Host("host-b:9042").SetStall(500 * time.Millisecond)

	assert.Eventually(t, func() bool { return p.ReadyCount() == 2 }, time.Second, 5*time.Millisecond)

	conn1, ok := p.Acquire()
	require.True(t, ok)
	require.NoError(t, conn1.Write(frame.Frame{Opcode: frame.OpQuery}, 5*time.Second, func(frame.Frame, error) {}))

	conn2, ok := p.Acquire()
	require.True(t, ok)
	assert.NotSame(t, conn1, conn2, "the busier connection must not be picked again")
}

func TestAcquireReturnsFalseWhenNoneReady(t *testing.T) {
	p, _, cleanup := newTestPool(t, "host-c:9042", 0, 1)
	defer cleanup()
	_, ok := p.Acquire()
	assert.False(t, ok)
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	p, _, cleanup := newTestPool(t, "host-d:9042", 1, 1)
	defer cleanup()

	assert.Eventually(t, func() bool { return p.ReadyCount() == 1 }, time.Second, 5*time.Millisecond)
	conn, ok := p.Acquire()
	require.True(t, ok)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return p.ReadyCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	newConn, ok := p.Acquire()
	require.True(t, ok)
	assert.NotSame(t, conn, newConn)
}

func TestCloseTearsDownEveryConnection(t *testing.T) {
	p, cluster, _ := newTestPool(t, "host-e:9042", 2, 2)
	defer cluster.Close()

	assert.Eventually(t, func() bool { return p.ReadyCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.OpenCount())
}

func TestAcquireGrowsBeyondCoreWhenSaturated(t *testing.T) {
	cluster := fakecluster.New()
	cluster.AddHost("host-g:9042")
	cluster.Host("host-g:9042").SetStall(time.Hour) // keep the stream id occupied
	h := host.New("host-g:9042", "dc1", "r1", nil)
	// streamIDSpace=1 so a single in-flight write fully saturates the core
	// connection, forcing growth toward max to produce a second one.
	p := New(h, cluster, frame.NewCodec(0), 1, 1, 2, 20*time.Millisecond, nil, func(frame.Frame) {})
	defer func() { _ = p.Close(); cluster.Close() }()

	assert.Eventually(t, func() bool { return p.ReadyCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, p.OpenCount())

	conn, ok := p.Acquire()
	require.True(t, ok)
	require.NoError(t, conn.Write(frame.Frame{Opcode: frame.OpQuery}, time.Hour, func(frame.Frame, error) {}))

	// Every Ready connection is now at capacity; Acquire must report ok=false
	// for this attempt but kick off a grow-to-max connect in the background.
	_, ok = p.Acquire()
	assert.False(t, ok)

	assert.Eventually(t, func() bool { return p.OpenCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return p.ReadyCount() == 2 }, time.Second, 5*time.Millisecond)

	newConn, ok := p.Acquire()
	require.True(t, ok)
	assert.NotSame(t, conn, newConn, "Acquire should now hand back the freshly grown connection")
}

func TestAcquireNeverGrowsPastMax(t *testing.T) {
	cluster := fakecluster.New()
	cluster.AddHost("host-h:9042")
	cluster.Host("host-h:9042").SetStall(time.Hour)
	h := host.New("host-h:9042", "dc1", "r1", nil)
	// core == max: no room to grow, so saturation must just fail Acquire.
	p := New(h, cluster, frame.NewCodec(0), 1, 1, 1, 20*time.Millisecond, nil, func(frame.Frame) {})
	defer func() { _ = p.Close(); cluster.Close() }()

	assert.Eventually(t, func() bool { return p.ReadyCount() == 1 }, time.Second, 5*time.Millisecond)
	conn, ok := p.Acquire()
	require.True(t, ok)
	require.NoError(t, conn.Write(frame.Frame{Opcode: frame.OpQuery}, time.Hour, func(frame.Frame, error) {}))

	_, ok = p.Acquire()
	assert.False(t, ok)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, p.OpenCount(), "core == max leaves no room to grow")
}

func TestReconnectIdempotenceUnderConcurrentClosures(t *testing.T) {
	// Several simultaneous onConnectionClosed calls for the same pool must
	// arm at most one reconnect timer.
	p, _, cleanup := newTestPool(t, "host-f:9042", 1, 3)
	defer cleanup()
	assert.Eventually(t, func() bool { return p.OpenCount() >= 1 }, time.Second, 5*time.Millisecond)

	p.mu.Lock()
	genBefore := p.timerGen
	p.mu.Unlock()

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			p.scheduleReconnect()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	// Every armed timer bumps timerGen, so the delta counts timers armed by
	// the five calls: zero if Core was already satisfied, never more than one.
	p.mu.Lock()
	armed := p.timerGen - genBefore
	p.mu.Unlock()
	assert.LessOrEqual(t, armed, uint64(1), "at most one reconnect timer may be armed")
}
