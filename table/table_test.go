package table

import (
	"net"
	"testing"

	"github.com/kadcore/dht/id"
	"github.com/kadcore/dht/wire"
)

func peerWithIP(a, b, c, d byte) wire.Peer {
	ep, _ := wire.NewEndpoint(net.IPv4(a, b, c, d), 30303)
	return wire.Peer{ID: id.Random(), Endpoint: ep}
}

func smallConfig() Config {
	return Config{
		BucketSize:      5,
		MaxReplacements: 3,
		BucketIPLimit:   5,
		BucketSubnet:    24,
		TableIPLimit:    50,
		TableSubnet:     24,
	}
}

func TestAddRejectsLocal(t *testing.T) {
	local := id.Random()
	tab := New(local, smallConfig())
	ep, _ := wire.NewEndpoint(net.IPv4(1, 2, 3, 4), 1)
	if tab.Add(wire.Peer{ID: local, Endpoint: ep}) {
		t.Fatal("Add must reject the local id")
	}
	if tab.Len() != 0 {
		t.Fatal("table should remain empty")
	}
}

func TestAddDuplicateIsNoop(t *testing.T) {
	local := id.Random()
	tab := New(local, smallConfig())
	p := peerWithIP(10, 0, 0, 1)
	if !tab.Add(p) {
		t.Fatal("first Add should succeed")
	}
	if tab.Add(p) {
		t.Fatal("duplicate Add should report false")
	}
	if tab.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tab.Len())
	}
}

func TestGetRoundTrip(t *testing.T) {
	local := id.Random()
	tab := New(local, smallConfig())
	p := peerWithIP(10, 0, 0, 2)
	tab.Add(p)
	got, ok := tab.Get(p.ID)
	if !ok || got.ID != p.ID {
		t.Fatal("Get should return the added peer")
	}
	if _, ok := tab.Get(id.Random()); ok {
		t.Fatal("Get on unknown id should fail")
	}
}

func TestBumpMovesToFront(t *testing.T) {
	local := id.Random()
	tab := New(local, smallConfig())

	var peers []wire.Peer
	for i := 0; i < 3; i++ {
		p := peerWithIP(192, 168, byte(i), 1)
		peers = append(peers, p)
		if !tab.Add(p) {
			t.Fatalf("Add peer %d failed", i)
		}
	}
	if !tab.Bump(peers[0].ID) {
		t.Fatal("Bump on known id should succeed")
	}
	if b := tab.bucketFor(peers[0].ID); b.entries[0].ID != peers[0].ID {
		t.Fatal("Bump should move the peer to the front of its bucket")
	}
	if tab.Bump(id.Random()) {
		t.Fatal("Bump on unknown id should fail")
	}
	if tab.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 after Bump", tab.Len())
	}
}

func TestRemove(t *testing.T) {
	local := id.Random()
	tab := New(local, smallConfig())
	p := peerWithIP(10, 0, 0, 3)
	tab.Add(p)
	if !tab.Remove(p.ID) {
		t.Fatal("Remove should succeed on a present id")
	}
	if tab.Remove(p.ID) {
		t.Fatal("second Remove should fail")
	}
	if _, ok := tab.Get(p.ID); ok {
		t.Fatal("removed peer should no longer be gettable")
	}
}

// samebucketPeer builds a peer guaranteed to land in bucket 0 (the farthest
// bucket from an all-zero local id): setting the top bit of the first
// byte fixes the XOR's leading-zero count at 0 regardless of the remaining
// bytes, which are varied by i to keep the ids distinct.
func samebucketPeer(i int, a, b, c, d byte) wire.Peer {
	var pid id.ID
	pid[0] = 0x80
	pid[id.Size-1] = byte(i + 1)
	ep, _ := wire.NewEndpoint(net.IPv4(a, b, c, d), 30303)
	return wire.Peer{ID: pid, Endpoint: ep}
}

// TestBucketFullQueuesReplacement exercises the bucket-full path: once a
// bucket reaches BucketSize, further Adds targeting the same bucket must
// fail but still populate the replacement list so EvictionCandidate/Evict
// can do their job.
func TestBucketFullQueuesReplacement(t *testing.T) {
	var local id.ID // all-zero
	cfg := smallConfig()
	tab := New(local, cfg)

	var peers []wire.Peer
	for i := 0; i < cfg.BucketSize+2; i++ {
		peers = append(peers, samebucketPeer(i, 172, 16, byte(i), 1))
	}

	inserted, overflowed := 0, 0
	for _, p := range peers {
		if tab.Add(p) {
			inserted++
		} else {
			overflowed++
		}
	}
	if inserted != cfg.BucketSize {
		t.Fatalf("inserted = %d, want %d", inserted, cfg.BucketSize)
	}
	if overflowed == 0 {
		t.Fatal("expected at least one overflowed peer queued as a replacement")
	}

	incumbentWant := peers[0].ID // least-recently-seen: first inserted, never bumped
	incumbent, ok := tab.EvictionCandidate(peers[len(peers)-1].ID)
	if !ok {
		t.Fatal("EvictionCandidate should report a candidate once the bucket is full and a replacement is queued")
	}
	if incumbent.ID != incumbentWant {
		t.Fatalf("EvictionCandidate = %v, want the least-recently-seen entry %v", incumbent.ID, incumbentWant)
	}
	if !tab.Evict(incumbent.ID) {
		t.Fatal("Evict should promote a replacement after removing the stale incumbent")
	}
	if tab.Len() != cfg.BucketSize {
		t.Fatalf("Len() = %d after Evict, want %d (replacement promoted into freed slot)", tab.Len(), cfg.BucketSize)
	}
	if _, ok := tab.Get(incumbent.ID); ok {
		t.Fatal("evicted incumbent should no longer be present")
	}
}

// TestClosestOrdering asserts the sorted, deduplicated, ascending-distance
// contract (spec invariant 3) against a handful of known-distance peers.
func TestClosestOrdering(t *testing.T) {
	var local id.ID
	tab := New(local, DefaultConfig())

	var target id.ID
	var peers []wire.Peer
	// peers at increasing XOR distance from an all-zero target: only the
	// low byte differs, so distance order matches insertion order.
	for i := 1; i <= 6; i++ {
		var pid id.ID
		pid[id.Size-1] = byte(i)
		ep, _ := wire.NewEndpoint(net.IPv4(10, 10, 10, byte(i)), 30303)
		p := wire.Peer{ID: pid, Endpoint: ep}
		peers = append(peers, p)
		if !tab.Add(p) {
			t.Fatalf("Add peer %d failed", i)
		}
	}

	got := tab.Closest(target, 3)
	if len(got) != 3 {
		t.Fatalf("Closest returned %d peers, want 3", len(got))
	}
	wantOrder := []byte{1, 2, 3}
	for i, w := range wantOrder {
		if got[i].ID[id.Size-1] != w {
			t.Fatalf("Closest()[%d] low byte = %d, want %d", i, got[i].ID[id.Size-1], w)
		}
	}

	seen := map[id.ID]bool{}
	for _, p := range got {
		if seen[p.ID] {
			t.Fatalf("Closest returned duplicate id %v", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestClosestBoundsRequestedCount(t *testing.T) {
	var local id.ID
	tab := New(local, DefaultConfig())
	for i := 1; i <= 3; i++ {
		// One address per /24, so the per-bucket IP limit admits all three.
		tab.Add(samebucketPeer(i, 1, 1, byte(i), 1))
	}
	got := tab.Closest(id.Random(), 100)
	if len(got) != 3 {
		t.Fatalf("Closest with n larger than table size returned %d, want 3", len(got))
	}
}
