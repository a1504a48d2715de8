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

package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{StreamID: 0, Opcode: OpEvent, Body: nil},
		{StreamID: 1, Generation: 3, Opcode: OpQuery, Body: []byte("SELECT 1")},
		{StreamID: 32768, Generation: 255, Opcode: OpResult, Compressed: true, Body: []byte("row data")},
	}
	for _, f := range cases {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, f))
		got, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, f.StreamID, got.StreamID)
		assert.Equal(t, f.Generation, got.Generation)
		assert.Equal(t, f.Opcode, got.Opcode)
		assert.Equal(t, f.Compressed, got.Compressed)
		assert.Equal(t, f.Body, got.Body)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Frame{Opcode: OpQuery}))
	raw := buf.Bytes()
	raw[0] = 99
	_, err := Decode(bytes.NewReader(raw))
	assert.Error(t, err)
}

func TestDecodePropagatesEOF(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestCompressedFlagSurvivesHighGeneration(t *testing.T) {
	// Regression: the compressed flag must never alias with the generation
	// byte's own high bit once the duplicate-detection counter wraps past
	// 128, or two distinct generations would look identical on the wire.
	for _, gen := range []byte{0, 1, 127, 128, 200, 255} {
		var buf bytes.Buffer
		f := Frame{StreamID: 5, Generation: gen, Opcode: OpQuery, Compressed: false, Body: []byte("x")}
		require.NoError(t, Encode(&buf, f))
		got, err := Decode(&buf)
		require.NoError(t, err)
		assert.Equal(t, gen, got.Generation, "generation byte must round-trip untouched regardless of its own bit pattern")
		assert.False(t, got.Compressed)
	}
}
