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

// Package router implements per-attempt host and connection selection,
// plus the pluggable LoadBalancingPolicy and RetryPolicy capabilities.
package router

import (
	"math/rand"
	"sync/atomic"

	"github.com/veladb/wcdriver/host"
)

// QueryPlan is a lazily-consumed iterator of candidate hosts, in the order
// the Router should try them.
type QueryPlan interface {
	// Next returns the next candidate host, or ok=false once exhausted.
	Next() (*host.Host, bool)
}

// LoadBalancingPolicy produces a QueryPlan for one request attempt. The
// policy is stateless per query; any rotation state it keeps (e.g. a
// round-robin cursor) must be safe for concurrent use across processors.
type LoadBalancingPolicy interface {
	QueryPlan(keyspace string, routingKey []byte, tokenMap *host.TokenMap, hosts []*host.Host) QueryPlan
}

// slicePlan is the simplest QueryPlan: a precomputed, ordered slice.
type slicePlan struct {
	hosts []*host.Host
	pos   int
}

func (p *slicePlan) Next() (*host.Host, bool) {
	if p.pos >= len(p.hosts) {
		return nil, false
	}
	h := p.hosts[p.pos]
	p.pos++
	return h, true
}

// TokenAwarePolicy is the default LoadBalancingPolicy: token-aware local-DC
// replicas first, then local-DC non-replicas round-robin, then remote DCs.
type TokenAwarePolicy struct {
	LocalDC string
	cursor  uint64 // atomic round-robin cursor shared across calls
}

// NewTokenAwarePolicy returns a TokenAwarePolicy preferring localDC.
func NewTokenAwarePolicy(localDC string) *TokenAwarePolicy {
	return &TokenAwarePolicy{LocalDC: localDC}
}

// QueryPlan implements LoadBalancingPolicy.
func (p *TokenAwarePolicy) QueryPlan(keyspace string, routingKey []byte, tokenMap *host.TokenMap, hosts []*host.Host) QueryPlan {
	var replicas []*host.Host
	if tokenMap != nil && len(routingKey) > 0 {
		replicas = tokenMap.Replicas(hashRoutingKey(routingKey))
	}
	// Only local-DC replicas are promoted to the front of the plan; a
	// remote-DC replica is ordered with the other remote hosts.
	replicaSet := make(map[string]bool, len(replicas))
	for _, h := range replicas {
		if h.Datacenter == p.LocalDC {
			replicaSet[h.Key()] = true
		}
	}

	var localNonReplicas, remote []*host.Host
	for _, h := range hosts {
		if h.Status != host.Up || replicaSet[h.Key()] {
			continue
		}
		if h.Datacenter == p.LocalDC {
			localNonReplicas = append(localNonReplicas, h)
		} else {
			remote = append(remote, h)
		}
	}

	start := int(atomic.AddUint64(&p.cursor, 1))
	rotate(localNonReplicas, start)
	rotate(remote, start)

	plan := make([]*host.Host, 0, len(replicas)+len(localNonReplicas)+len(remote))
	for _, h := range replicas {
		if h.Status == host.Up && replicaSet[h.Key()] {
			plan = append(plan, h)
		}
	}
	plan = append(plan, localNonReplicas...)
	plan = append(plan, remote...)
	return &slicePlan{hosts: plan}
}

// rotate left-rotates hosts in place by start positions, giving each call a
// different starting point for its round-robin slice.
func rotate(hosts []*host.Host, start int) {
	n := len(hosts)
	if n == 0 {
		return
	}
	start %= n
	if start == 0 {
		return
	}
	rotated := make([]*host.Host, n)
	for i := range hosts {
		rotated[i] = hosts[(i+start)%n]
	}
	copy(hosts, rotated)
}

// hashRoutingKey is a placeholder FNV-1a-style hash standing in for a real
// partitioner's token function: it exists only to let TokenAwarePolicy
// exercise TokenMap.Replicas in tests with a stable, deterministic mapping.
func hashRoutingKey(key []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, b := range key {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

// RandomPolicy is a trivial LoadBalancingPolicy used in tests: a random
// permutation of the Up hosts, ignoring token awareness entirely.
type RandomPolicy struct{}

// QueryPlan implements LoadBalancingPolicy.
func (RandomPolicy) QueryPlan(keyspace string, routingKey []byte, tokenMap *host.TokenMap, hosts []*host.Host) QueryPlan {
	up := make([]*host.Host, 0, len(hosts))
	for _, h := range hosts {
		if h.Status == host.Up {
			up = append(up, h)
		}
	}
	rand.Shuffle(len(up), func(i, j int) { up[i], up[j] = up[j], up[i] })
	return &slicePlan{hosts: up}
}
