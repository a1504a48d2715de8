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

import "github.com/golang/snappy"

// Codec optionally snappy-compresses frame bodies above a size threshold.
// Unlike wrapping a whole net.Conn in a continuous snappy stream, each
// frame here is an independent byte slice keyed by stream id, so
// compression is applied per body, and a frame below the threshold is left
// uncompressed (snappy's own framing overhead isn't worth paying for a
// small STARTUP/READY control frame).
type Codec struct {
	// MinCompressSize is the smallest body length Encode will compress.
	// Zero disables compression entirely.
	MinCompressSize int
}

// NewCodec returns a Codec that compresses bodies of at least minSize
// bytes. Pass 0 to disable compression.
func NewCodec(minSize int) *Codec {
	return &Codec{MinCompressSize: minSize}
}

// EncodeBody returns the body to put on the wire for f and whether it was
// snappy-compressed; the caller folds that flag into Frame.Compressed,
// which travels in the opcode byte's high bit (see compressedFlag in
// frame.go) rather than anywhere near the generation counter.
func (c *Codec) EncodeBody(f Frame) (body []byte, compressed bool) {
	if c == nil || c.MinCompressSize <= 0 || len(f.Body) < c.MinCompressSize {
		return f.Body, false
	}
	out := snappy.Encode(nil, f.Body)
	if len(out) >= len(f.Body) {
		// Compression didn't help; send raw rather than pay decode cost for nothing.
		return f.Body, false
	}
	return out, true
}

// DecodeBody reverses EncodeBody given the Compressed flag observed on the wire.
func (c *Codec) DecodeBody(body []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return body, nil
	}
	return snappy.Decode(nil, body)
}
