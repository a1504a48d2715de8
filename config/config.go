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

// Package config holds the driver's configuration surface and the injected
// logging capability every component is handed at construction.
package config

import (
	"log"
	"os"

	"github.com/pkg/errors"
)

// Logger is the logging capability every component is handed at
// construction instead of reaching for a process-wide singleton. A
// *log.Logger satisfies it directly.
type Logger interface {
	Printf(format string, v ...interface{})
}

// nopLogger discards everything; Validate installs it when a Config's
// Logger is nil.
type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

// Config is the recognized configuration surface. Persisted state: none —
// a Config is a plain in-memory value.
type Config struct {
	// NumThreads is the number of RequestProcessors (≥1).
	NumThreads int
	// QueueSizeIO is the request intake capacity per processor.
	QueueSizeIO int
	// QueueSizeEvent is the event intake capacity per processor.
	QueueSizeEvent int
	// CoreConnectionsPerHost is the minimum Ready connections per pool.
	CoreConnectionsPerHost int
	// MaxConnectionsPerHost is the upper bound on connections per pool.
	MaxConnectionsPerHost int
	// ReconnectWaitMS is the base backoff; capped at 10x this value.
	ReconnectWaitMS int
	// RequestTimeoutMS is the per-attempt deadline.
	RequestTimeoutMS int
	// ProtocolVersion determines stream-id width: versions <=2 use 127,
	// everything else uses 32768.
	ProtocolVersion int
	// Port is the default coordinator port, used when a contact point
	// doesn't specify one.
	Port int
	// Compression enables per-frame snappy compression above a size
	// threshold when > 0 (bytes); 0 disables compression.
	Compression int
	// Logger receives every log line this driver emits. Never nil after
	// Default or a successful Validate.
	Logger Logger
}

// Default returns a Config with production-tested defaults.
func Default() *Config {
	return &Config{
		NumThreads:             1,
		QueueSizeIO:            1024,
		QueueSizeEvent:         256,
		CoreConnectionsPerHost: 1,
		MaxConnectionsPerHost:  2,
		ReconnectWaitMS:        2000,
		RequestTimeoutMS:       12000,
		ProtocolVersion:        4,
		Port:                   9042,
		Compression:            0,
		Logger:                 log.New(os.Stderr, "", log.LstdFlags),
	}
}

// StreamIDSpace returns the per-connection concurrency limit implied by
// ProtocolVersion: 127 for version <= 2, 32768 otherwise.
func (c *Config) StreamIDSpace() int {
	if c.ProtocolVersion <= 2 {
		return 127
	}
	return 32768
}

// Validate checks the recognized options for internal consistency before
// they are handed to a Manager.
func (c *Config) Validate() error {
	if c.NumThreads < 1 {
		return errors.New("config: num_threads must be >= 1")
	}
	if c.QueueSizeIO < 1 {
		return errors.New("config: queue_size_io must be >= 1")
	}
	if c.QueueSizeEvent < 1 {
		return errors.New("config: queue_size_event must be >= 1")
	}
	if c.CoreConnectionsPerHost < 1 {
		return errors.New("config: core_connections_per_host must be >= 1")
	}
	if c.MaxConnectionsPerHost < c.CoreConnectionsPerHost {
		return errors.New("config: max_connections_per_host must be >= core_connections_per_host")
	}
	if c.ReconnectWaitMS < 1 {
		return errors.New("config: reconnect_wait_ms must be >= 1")
	}
	if c.RequestTimeoutMS < 1 {
		return errors.New("config: request_timeout_ms must be >= 1")
	}
	switch c.ProtocolVersion {
	case 1, 2, 3, 4, 5:
	default:
		return errors.Errorf("config: unsupported protocol_version %d", c.ProtocolVersion)
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
	return nil
}
