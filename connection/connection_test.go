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

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veladb/wcdriver/frame"
	"github.com/veladb/wcdriver/wcerr"
)

// serverOpts configures the tiny in-test coordinator behind newTestPair.
type serverOpts struct {
	stall       time.Duration
	dropStream0 bool
}

// newTestPair wires a Connection to an in-process server goroutine that
// echoes OpQuery bodies back as OpResult, optionally stalling every reply
// and/or pushing an unsolicited stream-0 event first.
func newTestPair(t *testing.T, n int, opts serverOpts, onEvent EventHandler) (*Connection, func()) {
	t.Helper()
	clientSide, serverSide := net.Pipe()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		defer serverSide.Close()
		if !opts.dropStream0 {
			_ = frame.Encode(serverSide, frame.Frame{StreamID: 0, Opcode: frame.OpEvent, Body: []byte("topology")})
		}
		for {
			f, err := frame.Decode(serverSide)
			if err != nil {
				return
			}
			if opts.stall > 0 {
				time.Sleep(opts.stall)
			}
			resp := frame.Frame{StreamID: f.StreamID, Generation: f.Generation, Opcode: frame.OpResult, Body: f.Body}
			if err := frame.Encode(serverSide, resp); err != nil {
				return
			}
		}
	}()

	c := New(clientSide, n, frame.NewCodec(0), onEvent, nil)
	cleanup := func() {
		_ = c.Close()
		<-serverDone
	}
	return c, cleanup
}

func TestWriteAndReceiveResponse(t *testing.T) {
	c, cleanup := newTestPair(t, 4, serverOpts{}, nil)
	defer cleanup()

	done := make(chan struct{})
	var gotErr error
	var gotFrame frame.Frame
	err := c.Write(frame.Frame{Opcode: frame.OpQuery, Body: []byte("SELECT 1")}, time.Second, func(f frame.Frame, cbErr error) {
		gotFrame, gotErr = f, cbErr
		close(done)
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked")
	}
	require.NoError(t, gotErr)
	assert.Equal(t, []byte("SELECT 1"), gotFrame.Body)
	assert.Equal(t, 4, c.Capacity())
}

func TestStreamExhaustionReturnsBusy(t *testing.T) {
	c, cleanup := newTestPair(t, 2, serverOpts{stall: 500 * time.Millisecond}, nil)
	defer cleanup()

	for i := 0; i < 2; i++ {
		err := c.Write(frame.Frame{Opcode: frame.OpQuery, Body: []byte("x")}, 5*time.Second, func(frame.Frame, error) {})
		require.NoError(t, err)
	}
	err := c.Write(frame.Frame{Opcode: frame.OpQuery, Body: []byte("y")}, 5*time.Second, func(frame.Frame, error) {})
	assert.Equal(t, wcerr.ErrBusy, err)
}

func TestUnsolicitedFrameRoutesToEventHandler(t *testing.T) {
	var got atomic.Value
	var wg sync.WaitGroup
	wg.Add(1)
	onEvent := func(f frame.Frame) {
		got.Store(f)
		wg.Done()
	}
	c, cleanup := newTestPair(t, 4, serverOpts{}, onEvent)
	defer cleanup()

	wg.Wait()
	f := got.Load().(frame.Frame)
	assert.Equal(t, []byte("topology"), f.Body)
}

func TestTimeoutReleasesStreamID(t *testing.T) {
	c, cleanup := newTestPair(t, 1, serverOpts{stall: time.Hour}, nil)
	defer cleanup()

	done := make(chan error, 1)
	err := c.Write(frame.Frame{Opcode: frame.OpQuery, Body: []byte("x")}, 100*time.Millisecond, func(_ frame.Frame, cbErr error) {
		done <- cbErr
	})
	require.NoError(t, err)

	select {
	case cbErr := <-done:
		assert.Equal(t, wcerr.ErrTimeout, cbErr)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback never fired")
	}

	assert.Eventually(t, func() bool { return c.InFlight() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCloseFailsAllPendingExactlyOnce(t *testing.T) {
	c, cleanup := newTestPair(t, 4, serverOpts{stall: time.Hour}, nil)
	_ = cleanup // Close is driven explicitly by this test

	var mu sync.Mutex
	var calls int
	cb := func(_ frame.Frame, err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		assert.Equal(t, wcerr.ErrConnectionClosed, err)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Write(frame.Frame{Opcode: frame.OpQuery}, time.Minute, cb))
	}

	require.NoError(t, c.Close())
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
	assert.Equal(t, Closed, c.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := newTestPair(t, 2, serverOpts{}, nil)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
}

func TestWriteAfterCloseReturnsConnectionClosed(t *testing.T) {
	c, _ := newTestPair(t, 2, serverOpts{}, nil)
	require.NoError(t, c.Close())
	err := c.Write(frame.Frame{Opcode: frame.OpQuery}, time.Second, func(frame.Frame, error) {})
	assert.Equal(t, wcerr.ErrConnectionClosed, err)
}
