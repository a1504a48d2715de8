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

// Package transport defines the Dialer interface every connection pool
// consumes, plus one concrete net.Dial-based implementation. TLS
// negotiation remains out of scope: Dialer accepts an already-built
// *tls.Config (or nil) and never constructs key material itself.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Dialer opens a new transport-level connection to a coordinator. The hard
// I/O buffering lives behind this interface; everything above it only ever
// sees a net.Conn.
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// TCPDialer dials plain or TLS-wrapped TCP connections.
type TCPDialer struct {
	// TLSConfig, if non-nil, wraps every dialed connection with tls.Client.
	// Building this config (certs, SNI, verification) is the caller's job.
	TLSConfig *tls.Config
	// ConnectTimeout bounds the dial itself; zero means no timeout beyond
	// ctx's own deadline.
	ConnectTimeout time.Duration
}

// NewTCPDialer returns a TCPDialer with no TLS and no extra connect timeout.
func NewTCPDialer() *TCPDialer {
	return &TCPDialer{}
}

// Dial implements Dialer.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: dial %s", address)
	}
	if d.TLSConfig != nil {
		tlsConn := tls.Client(conn, d.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, errors.Wrapf(err, "transport: tls handshake %s", address)
		}
		return tlsConn, nil
	}
	return conn, nil
}
