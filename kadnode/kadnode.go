// Package kadnode assembles the table, service and lookup packages into
// the public façade a caller actually programs against: a single running
// node with Ping, FindNode and NodeLookup operations.
package kadnode

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kadcore/dht/id"
	"github.com/kadcore/dht/kerrors"
	"github.com/kadcore/dht/lookup"
	"github.com/kadcore/dht/nodedb"
	"github.com/kadcore/dht/service"
	"github.com/kadcore/dht/table"
	"github.com/kadcore/dht/wire"
)

// Config groups the sub-package configs a Node wires together.
type Config struct {
	Table  table.Config
	Svc    service.Config
	Lookup lookup.Config

	// NodeDBPath, if non-empty, persists peer liveness metadata (last pong,
	// failure streaks) to a boltdb file across restarts. Empty disables
	// persistence entirely; the node then runs with an in-memory-only table.
	NodeDBPath string
	// SeedMaxAge bounds how stale a persisted peer may be and still be used
	// to repopulate the table on Listen.
	SeedMaxAge time.Duration
}

// DefaultConfig matches the production values named in spec §6.
func DefaultConfig() Config {
	return Config{
		Table:      table.DefaultConfig(),
		Svc:        service.DefaultConfig(),
		Lookup:     lookup.DefaultConfig(),
		SeedMaxAge: 24 * time.Hour,
	}
}

// Node is a running Kademlia participant bound to one local id and socket.
type Node struct {
	local id.ID
	tab   *table.Table
	svc   *service.Service
	db    *nodedb.DB
	cfg   Config
}

// Listen creates a Node listening on addr, or generates a random local id
// if local.IsZero(). If cfg.NodeDBPath is set, the table is repopulated
// from previously-known-good peers before the node starts serving.
func Listen(addr string, local id.ID, cfg Config) (*Node, error) {
	if local.IsZero() {
		local = id.Random()
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("kadnode: listen: %w", err)
	}

	var db *nodedb.DB
	if cfg.NodeDBPath != "" {
		db, err = nodedb.Open(cfg.NodeDBPath)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("kadnode: opening peer db: %w", err)
		}
	}

	tab := table.New(local, cfg.Table)
	if db != nil {
		for _, p := range db.Seeds(cfg.SeedMaxAge) {
			tab.Add(p)
		}
	}

	svc, err := service.New(conn, local, tab, db, cfg.Svc)
	if err != nil {
		conn.Close()
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	svc.Start()
	return &Node{local: local, tab: tab, svc: svc, db: db, cfg: cfg}, nil
}

// Close shuts down the node's socket, background goroutines, and (if
// enabled) its peer database.
func (n *Node) Close() error {
	err := n.svc.Close()
	if n.db != nil {
		if dbErr := n.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
	}
	return err
}

// Local returns the node's own identifier.
func (n *Node) Local() id.ID { return n.local }

// Addr returns the node's bound socket address.
func (n *Node) Addr() *net.UDPAddr { return n.svc.Addr() }

// Table exposes the node's routing table for inspection (e.g. by the CLI's
// `table` command) without handing out mutation access to the service.
func (n *Node) Table() *table.Table { return n.tab }

// Ping checks peer's liveness, bumping it in the routing table on success.
func (n *Node) Ping(peer wire.Peer) error {
	return n.svc.Ping(peer)
}

// FindNode asks peer directly for the peers closest to target that it
// knows of. Unlike NodeLookup this issues exactly one RPC.
func (n *Node) FindNode(peer wire.Peer, target id.ID) ([]wire.Peer, error) {
	return n.svc.FindNode(peer, target)
}

// PingID resolves target against the routing table before probing it: if
// the table has no entry for target, it returns false without sending
// anything (there is no endpoint to send to). Otherwise it pings the
// resolved peer, returning true on PONG and false on timeout or failure.
func (n *Node) PingID(target id.ID) (bool, error) {
	peer, ok := n.tab.Get(target)
	if !ok {
		return false, nil
	}
	if err := n.svc.Ping(peer); err != nil {
		if errors.Is(err, kerrors.Timeout) || errors.Is(err, kerrors.TransportError) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FindNodeID resolves target against the routing table: if the table
// already has an entry for it, that peer is returned directly with no RPC.
// Otherwise it picks the single closest known peer as a next hop and issues
// FIND_NODE(target) to it. It returns kerrors.NotFound if the table has no
// peer at all to use as a next hop.
func (n *Node) FindNodeID(target id.ID) ([]wire.Peer, error) {
	if peer, ok := n.tab.Get(target); ok {
		return []wire.Peer{peer}, nil
	}
	hop := n.tab.Closest(target, 1)
	if len(hop) == 0 {
		return nil, kerrors.NotFound
	}
	return n.svc.FindNode(hop[0], target)
}

// NodeLookup performs the full iterative lookup for target, seeding it
// from the node's own routing table, and admits every peer discovered
// along the way into the table.
func (n *Node) NodeLookup(target id.ID) ([]wire.Peer, error) {
	seed := n.tab.Closest(target, n.cfg.Lookup.K)
	if len(seed) == 0 {
		return nil, kerrors.NotFound
	}
	result := lookup.Run(n.local, target, seed, n.svc, n.cfg.Lookup)
	for _, p := range result {
		n.tab.Add(p)
	}
	return result, nil
}

// Bootstrap seeds the routing table from a set of already-known peers and
// performs a self-lookup, populating buckets the way a freshly started
// node discovers its neighborhood.
func (n *Node) Bootstrap(seeds []wire.Peer) error {
	if len(seeds) == 0 {
		return fmt.Errorf("kadnode: bootstrap requires at least one seed peer")
	}
	for _, p := range seeds {
		n.tab.Add(p)
	}
	_, err := n.NodeLookup(n.local)
	return err
}
