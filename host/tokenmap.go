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

package host

// TokenMap is an immutable snapshot mapping (keyspace, partition key hash) to
// an ordered list of replica Hosts. It is replaced wholesale on schema or
// topology change; a Router holds the snapshot that was current when it
// began routing one request attempt and never observes a partial update —
// swapping the pointer on the processor's event loop is what makes a single
// routing decision see either the old or new snapshot, never a mixture.
type TokenMap struct {
	keyspace string
	replicas map[uint64][]*Host
}

// NewTokenMap builds a TokenMap for one keyspace from a precomputed
// hash-to-replicas table. Construction happens off the processor loop (on
// the control connection); the result is handed to ProcessorManager as a
// single immutable value.
func NewTokenMap(keyspace string, replicas map[uint64][]*Host) *TokenMap {
	cp := make(map[uint64][]*Host, len(replicas))
	for hash, hosts := range replicas {
		cp[hash] = append([]*Host(nil), hosts...)
	}
	return &TokenMap{keyspace: keyspace, replicas: cp}
}

// Keyspace is the keyspace this snapshot was computed for.
func (t *TokenMap) Keyspace() string {
	if t == nil {
		return ""
	}
	return t.keyspace
}

// Replicas returns the ordered replica list for a partition key hash, or nil
// if the hash falls outside any known range (callers fall back to the
// load-balancing policy's non-replica ordering in that case).
func (t *TokenMap) Replicas(partitionKeyHash uint64) []*Host {
	if t == nil {
		return nil
	}
	return t.replicas[partitionKeyHash]
}
