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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesKnownDefaults(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 1, c.NumThreads)
	assert.Equal(t, 1024, c.QueueSizeIO)
	assert.Equal(t, 256, c.QueueSizeEvent)
	assert.Equal(t, 1, c.CoreConnectionsPerHost)
	assert.Equal(t, 2, c.MaxConnectionsPerHost)
	assert.Equal(t, 2000, c.ReconnectWaitMS)
	assert.Equal(t, 12000, c.RequestTimeoutMS)
	assert.Equal(t, 4, c.ProtocolVersion)
	assert.Equal(t, 9042, c.Port)
}

func TestStreamIDSpaceByProtocolVersion(t *testing.T) {
	c := Default()
	c.ProtocolVersion = 2
	assert.Equal(t, 127, c.StreamIDSpace())
	c.ProtocolVersion = 4
	assert.Equal(t, 32768, c.StreamIDSpace())
}

func TestValidateRejectsBadOptions(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.NumThreads = 0 },
		func(c *Config) { c.QueueSizeIO = 0 },
		func(c *Config) { c.QueueSizeEvent = 0 },
		func(c *Config) { c.CoreConnectionsPerHost = 0 },
		func(c *Config) { c.MaxConnectionsPerHost = 0; c.CoreConnectionsPerHost = 1 },
		func(c *Config) { c.ReconnectWaitMS = 0 },
		func(c *Config) { c.RequestTimeoutMS = 0 },
		func(c *Config) { c.ProtocolVersion = 99 },
	}
	for _, mutate := range cases {
		c := Default()
		mutate(c)
		assert.Error(t, c.Validate())
	}
}

func TestValidateFillsNilLogger(t *testing.T) {
	c := Default()
	c.Logger = nil
	require.NoError(t, c.Validate())
	assert.NotNil(t, c.Logger)
}
