package kadnode

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kadcore/dht/id"
	"github.com/kadcore/dht/wire"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Svc.RequestTimeout = 2 * time.Second
	n, err := Listen("127.0.0.1:0", id.ID{}, cfg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func TestNodePingSucceeds(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	bPeer := localPeer(t, b)
	if err := a.Ping(bPeer); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestBootstrapPopulatesTable(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	if err := a.Bootstrap([]wire.Peer{localPeer(t, b)}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if a.Table().Len() == 0 {
		t.Fatal("bootstrap should have admitted at least the seed peer")
	}
}

// TestNodeDBSurvivesRestart checks that a peer learned and pinged
// successfully before a node restarts is seeded back into a fresh table
// opened against the same database file.
func TestNodeDBSurvivesRestart(t *testing.T) {
	b := newTestNode(t)
	bPeer := localPeer(t, b)

	dbPath := filepath.Join(t.TempDir(), "nodes.db")
	cfg := DefaultConfig()
	cfg.Svc.RequestTimeout = 2 * time.Second
	cfg.NodeDBPath = dbPath

	a, err := Listen("127.0.0.1:0", id.ID{}, cfg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := a.Ping(bPeer); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restarted, err := Listen("127.0.0.1:0", a.Local(), cfg)
	if err != nil {
		t.Fatalf("Listen (restart): %v", err)
	}
	t.Cleanup(func() { restarted.Close() })

	if _, ok := restarted.Table().Get(bPeer.ID); !ok {
		t.Fatal("restarted node should have seeded the previously-pinged peer from nodedb")
	}
}

// TestPingIDFalseOnEmptyTable checks that PingID never sends a datagram
// when the target isn't already in the routing table: A has an empty
// table, so A.PingID(B.id) must resolve to false immediately rather than
// attempting a probe against an address it doesn't have.
func TestPingIDFalseOnEmptyTable(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	ok, err := a.PingID(b.Local())
	if err != nil {
		t.Fatalf("PingID: %v", err)
	}
	if ok {
		t.Fatal("PingID should be false when the target is unknown to the table")
	}
}

// TestPingIDTrueAfterTableAdd checks that once a peer is in the routing
// table, PingID resolves it and succeeds.
func TestPingIDTrueAfterTableAdd(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	a.Table().Add(localPeer(t, b))
	ok, err := a.PingID(b.Local())
	if err != nil {
		t.Fatalf("PingID: %v", err)
	}
	if !ok {
		t.Fatal("PingID should succeed once the target is seeded into the table")
	}
}

// TestFindNodeIDHitsTableDirectly checks that FindNodeID returns a known
// peer straight from the table without issuing an RPC.
func TestFindNodeIDHitsTableDirectly(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	bPeer := localPeer(t, b)
	a.Table().Add(bPeer)
	// Close b's socket so any RPC attempt would time out; a direct table
	// hit must not depend on b being reachable at all.
	b.Close()

	peers, err := a.FindNodeID(b.Local())
	if err != nil {
		t.Fatalf("FindNodeID: %v", err)
	}
	if len(peers) != 1 || peers[0].ID != bPeer.ID {
		t.Fatalf("FindNodeID = %v, want [%v]", peers, bPeer)
	}
}

// TestFindNodeIDNoHopReturnsNotFound checks that FindNodeID fails cleanly
// when the table has no peer at all to use as a next hop.
func TestFindNodeIDNoHopReturnsNotFound(t *testing.T) {
	a := newTestNode(t)

	if _, err := a.FindNodeID(id.Random()); err == nil {
		t.Fatal("expected an error when the table has no next hop")
	}
}

// localPeer builds a wire.Peer addressed at node n's listening socket,
// using its own advertised identity.
func localPeer(t *testing.T, n *Node) wire.Peer {
	t.Helper()
	addr := n.Addr()
	ep, err := wire.NewEndpoint(addr.IP, uint16(addr.Port))
	if err != nil {
		t.Fatalf("building endpoint: %v", err)
	}
	return wire.Peer{ID: n.Local(), Endpoint: ep}
}
