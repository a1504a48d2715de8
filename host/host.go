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

// Package host holds the data model shared read-only across every
// RequestProcessor: host identity and health, the token-to-replica map, and
// the thin typed result view returned to callers.
package host

import "sort"

// Status is a Host's health as observed by the control connection.
type Status int

const (
	// Up means the host accepts new connections and routing candidates.
	Up Status = iota
	// Down means the host is reachable in gossip but not currently usable.
	Down
	// Removed means the host has left the cluster; pools targeting it are torn down.
	Removed
)

func (s Status) String() string {
	switch s {
	case Up:
		return "up"
	case Down:
		return "down"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Host is an endpoint identity plus health. Identity equality is by Address;
// Hosts are created by the control connection and shared read-only with
// every RequestProcessor. Mutating a Host's Status is the control
// connection's responsibility alone — routing code must never write to a
// Host it did not construct.
type Host struct {
	Address    string
	Datacenter string
	Rack       string
	Tokens     []string
	Status     Status
}

// Equal reports identity equality, which is by Address only.
func (h *Host) Equal(other *Host) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.Address == other.Address
}

// Key returns the map key used to index pools and routing structures by host.
func (h *Host) Key() string {
	return h.Address
}

// New constructs a Host in the Up state.
func New(address, datacenter, rack string, tokens []string) *Host {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	return &Host{
		Address:    address,
		Datacenter: datacenter,
		Rack:       rack,
		Tokens:     sorted,
		Status:     Up,
	}
}

// WithStatus returns a shallow copy of h with a different Status. The
// control connection uses this to publish a new Host value rather than
// mutate a shared one in place, so routers holding the old pointer keep
// observing a consistent snapshot.
func (h *Host) WithStatus(s Status) *Host {
	cp := *h
	cp.Status = s
	return &cp
}
