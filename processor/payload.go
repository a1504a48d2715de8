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

import "github.com/veladb/wcdriver/host"

// PayloadKind identifies the variant of a Payload delivered on a
// processor's event queue.
type PayloadKind int

const (
	PayloadAddPool PayloadKind = iota
	PayloadRemovePool
	PayloadKeyspaceUpdate
	PayloadTokenMapUpdate
	// PayloadRequestReady is never constructed: Go channels already give an
	// idempotent, self-coalescing wake-up (a blocked select simply observes
	// the next ready case), so no explicit "work is ready" signal is
	// needed. Kept as a named case for parity with the other Payload kinds.
	PayloadRequestReady
)

// Payload is one event delivered to a RequestProcessor's event intake
// queue: topology or keyspace changes, fanned out by a ProcessorManager.
type Payload struct {
	Kind     PayloadKind
	Host     *host.Host
	Keyspace string
	TokenMap *host.TokenMap
}
