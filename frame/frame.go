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

// Package frame defines the minimal wire shape the stream-id multiplexer
// needs to know: a frame carries a stream id, an opcode, and a body. The
// header codec here exists so Connection has something concrete to read and
// write, and so tests can drive it without a real coordinator.
package frame

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Opcode identifies the kind of a frame's body.
type Opcode byte

const (
	OpError Opcode = iota
	OpStartup
	OpReady
	OpQuery
	OpPrepare
	OpExecute
	OpBatch
	OpResult
	OpEvent
	OpAuthenticate
	OpCredentials
)

// headerSize is version(1) + opcode(1) + streamID(2) + generation(1) + length(4).
const headerSize = 9

// protocolVersion is the only wire-format version this codec implements.
const protocolVersion = 1

// compressedFlag marks the opcode byte's high bit to record whether a
// frame's body was snappy-compressed. It lives in the opcode byte rather
// than the generation byte: the generation byte is the duplicate-detection
// counter (connection.go compares it verbatim against the pending map), and
// folding a flag into it would alias two different real generations once
// the counter wraps past 128. Opcode has plenty of unused high bits (only
// values 0-10 are defined) so it costs nothing there.
const compressedFlag byte = 0x80

// Frame is one framed message: the unit the Connection multiplexer
// dispatches by StreamID. StreamID 0 is reserved for unsolicited/event
// frames.
type Frame struct {
	StreamID   uint16
	Generation byte
	Opcode     Opcode
	Compressed bool
	Body       []byte
}

// Encode writes f's header and body to w. Callers that negotiated
// compression should pass an already-compressed Body (see Codec).
func Encode(w io.Writer, f Frame) error {
	var hdr [headerSize]byte
	hdr[0] = protocolVersion
	hdr[1] = byte(f.Opcode)
	if f.Compressed {
		hdr[1] |= compressedFlag
	}
	binary.BigEndian.PutUint16(hdr[2:4], f.StreamID)
	hdr[4] = f.Generation
	binary.BigEndian.PutUint32(hdr[5:9], uint32(len(f.Body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "frame: write header")
	}
	if len(f.Body) > 0 {
		if _, err := w.Write(f.Body); err != nil {
			return errors.Wrap(err, "frame: write body")
		}
	}
	return nil
}

// Decode reads one Frame from r, blocking until a full frame is available
// or an error occurs. It is the caller's job to size-limit or otherwise
// police len(Body) before calling Decode on an untrusted reader; Decode
// itself does not check the length. The Connection layer that wraps this
// call closes itself on any Decode error and fails its pending requests
// with ErrConnectionClosed; it does not tell closure from corruption.
func Decode(r io.Reader) (Frame, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err // EOF/closed propagate as-is so callers can tell closure from corruption
	}
	if hdr[0] != protocolVersion {
		return Frame{}, errors.Errorf("frame: unsupported protocol version %d", hdr[0])
	}
	length := binary.BigEndian.Uint32(hdr[5:9])
	f := Frame{
		Opcode:     Opcode(hdr[1] &^ compressedFlag),
		Compressed: hdr[1]&compressedFlag != 0,
		StreamID:   binary.BigEndian.Uint16(hdr[2:4]),
		Generation: hdr[4],
	}
	if length > 0 {
		f.Body = make([]byte, length)
		if _, err := io.ReadFull(r, f.Body); err != nil {
			return Frame{}, errors.Wrap(err, "frame: read body")
		}
	}
	return f, nil
}
