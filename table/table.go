// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package table implements the Kademlia routing table: a fixed array of
// id.Bits buckets indexed by XOR distance from the table's own id, with
// insertion, exact lookup, and closest-N queries.
//
// Bucket id.Bits-1 holds the identifiers closest to the local id; bucket 0
// holds the farthest (this is the "bucket 255 = closest" convention fixed
// by spec test S1).
package table

import (
	"net"
	"sort"
	"sync"

	"github.com/kadcore/dht/distip"
	"github.com/kadcore/dht/id"
	"github.com/kadcore/dht/metrics"
	"github.com/kadcore/dht/wire"
)

// Config bounds a Table's capacity and IP diversity limits.
type Config struct {
	BucketSize      int // K: live entries kept per bucket
	MaxReplacements int // size of each bucket's standby replacement list

	BucketIPLimit, BucketSubnet uint // at most BucketIPLimit addrs per /BucketSubnet, per bucket
	TableIPLimit, TableSubnet   uint // same, across the whole table
}

// DefaultConfig matches the production values named in spec §6.
func DefaultConfig() Config {
	return Config{
		BucketSize:      20,
		MaxReplacements: 10,
		BucketIPLimit:   2,
		BucketSubnet:    24,
		TableIPLimit:    10,
		TableSubnet:     24,
	}
}

type bucket struct {
	// entries is ordered most-recently-seen first (front) to
	// least-recently-seen last (back), mirroring the teacher's bucket
	// discipline; the back entry is the eviction candidate when the
	// bucket is full.
	entries      []wire.Peer
	replacements []wire.Peer
	ips          distip.DistinctNetSet
}

// Table is a node's view of the network, keyed by its own local id.
type Table struct {
	mu      sync.Mutex
	local   id.ID
	cfg     Config
	buckets [id.Bits]*bucket
	ips     distip.DistinctNetSet
}

// New creates an empty Table owned by local.
func New(local id.ID, cfg Config) *Table {
	t := &Table{
		local: local,
		cfg:   cfg,
		ips:   distip.DistinctNetSet{Subnet: cfg.TableSubnet, Limit: cfg.TableIPLimit},
	}
	for i := range t.buckets {
		t.buckets[i] = &bucket{
			ips: distip.DistinctNetSet{Subnet: cfg.BucketSubnet, Limit: cfg.BucketIPLimit},
		}
	}
	return t
}

// Local returns the table's own identifier.
func (t *Table) Local() id.ID { return t.local }

func (t *Table) bucketFor(other id.ID) *bucket {
	return t.buckets[id.BucketIndex(t.local, other)]
}

func indexOf(entries []wire.Peer, target id.ID) int {
	for i, e := range entries {
		if e.ID == target {
			return i
		}
	}
	return -1
}

// Add places peer in its bucket. It returns true if the peer was newly
// inserted, false if it was already present, the bucket was at capacity, or
// peer is the local id (which must never be inserted). A full bucket does
// not silently discard the peer: it is put at the front of the bucket's bounded
// replacement list so the Service can try to evict a stale incumbent (see
// EvictionCandidate / Evict).
func (t *Table) Add(peer wire.Peer) bool {
	if peer.ID == t.local {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketFor(peer.ID)
	if indexOf(b.entries, peer.ID) >= 0 {
		return false
	}
	ip := net.IP(peer.Endpoint.IP)
	if len(b.entries) < t.cfg.BucketSize {
		if !t.addIP(b, ip) {
			return false
		}
		b.entries = append([]wire.Peer{peer}, b.entries...)
		return true
	}
	t.addReplacement(b, peer)
	return false
}

// Get returns the endpoint stored for id, if any.
func (t *Table) Get(target id.ID) (wire.Peer, bool) {
	if target == t.local {
		return wire.Peer{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bucketFor(target)
	if i := indexOf(b.entries, target); i >= 0 {
		return b.entries[i], true
	}
	return wire.Peer{}, false
}

// Bump moves id to the most-recently-seen position in its bucket. It
// should be called whenever a peer is heard from (a PING, a correlated
// PONG/FOUND_NODE, or an inbound FIND_NODE). Returns false if id is not
// currently in the table.
func (t *Table) Bump(target id.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bucketFor(target)
	i := indexOf(b.entries, target)
	if i < 0 {
		return false
	}
	e := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	b.entries = append([]wire.Peer{e}, b.entries...)
	return true
}

// Remove deletes id from the table, freeing its bucket slot.
func (t *Table) Remove(target id.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bucketFor(target)
	i := indexOf(b.entries, target)
	if i < 0 {
		return false
	}
	removed := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	t.removeIP(b, net.IP(removed.Endpoint.IP))
	return true
}

// EvictionCandidate reports the least-recently-seen entry in the bucket
// that would hold other, if that bucket is currently full and has at least
// one peer waiting on its replacement list. The Service uses this to
// decide whether it's worth pinging the incumbent before admitting other.
func (t *Table) EvictionCandidate(other id.ID) (incumbent wire.Peer, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bucketFor(other)
	if len(b.entries) < t.cfg.BucketSize || len(b.replacements) == 0 {
		return wire.Peer{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// Evict removes staleID from its bucket (failing a liveness check) and
// promotes the most recently seen replacement into the now-free slot. It
// reports whether a promotion occurred.
func (t *Table) Evict(staleID id.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bucketFor(staleID)
	i := indexOf(b.entries, staleID)
	if i < 0 {
		return false
	}
	stale := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	t.removeIP(b, net.IP(stale.Endpoint.IP))

	if len(b.replacements) == 0 {
		return false
	}
	promoted := b.replacements[0]
	b.replacements = b.replacements[1:]
	b.entries = append([]wire.Peer{promoted}, b.entries...)
	return true
}

// Len returns the total number of peers currently held across all buckets.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b.entries)
	}
	return n
}

// Closest returns up to n peers ordered by ascending XOR distance to
// target. It never mutates the table. Distinct identifiers always lie at
// distinct XOR distances from target, so the order is fully determined.
//
// Implementation note: spec §4.C describes gathering candidates by
// scanning outward from bucket(local, target) in alternation. Because
// buckets are keyed by distance-to-local rather than distance-to-target,
// that scan order is only a heuristic for large tables; to satisfy the
// exact-ordering invariant (§8 invariant 3) this implementation collects
// every stored peer and sorts once, exactly the way the teacher's own
// Table.closest() does it.
func (t *Table) Closest(target id.ID, n int) []wire.Peer {
	t.mu.Lock()
	all := make([]wire.Peer, 0, n*2)
	for _, b := range t.buckets {
		all = append(all, b.entries...)
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].ID == all[j].ID {
			return false
		}
		return id.Less(target, all[i].ID, all[j].ID)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func (t *Table) addReplacement(b *bucket, peer wire.Peer) {
	if indexOf(b.replacements, peer.ID) >= 0 {
		return
	}
	ip := net.IP(peer.Endpoint.IP)
	if !t.addIP(b, ip) {
		return
	}
	b.replacements = append([]wire.Peer{peer}, b.replacements...)
	if len(b.replacements) > t.cfg.MaxReplacements {
		removed := b.replacements[len(b.replacements)-1]
		b.replacements = b.replacements[:len(b.replacements)-1]
		t.removeIP(b, net.IP(removed.Endpoint.IP))
	}
}

func (t *Table) addIP(b *bucket, ip net.IP) bool {
	if distip.IsLAN(ip) {
		return true
	}
	if !t.ips.Add(ip) {
		metrics.IPLimitRejections.Inc(1)
		return false
	}
	if !b.ips.Add(ip) {
		t.ips.Remove(ip)
		metrics.IPLimitRejections.Inc(1)
		return false
	}
	return true
}

func (t *Table) removeIP(b *bucket, ip net.IP) {
	if distip.IsLAN(ip) {
		return
	}
	t.ips.Remove(ip)
	b.ips.Remove(ip)
}
