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

// Package nodedb optionally persists per-peer liveness metadata (endpoint,
// last successful pong, consecutive find-node failures) across restarts, so
// a node doesn't have to re-earn its whole routing table on every boot. It
// is an enrichment, not a dependency of the core table: a Node runs fine
// with nodedb absent, falling back to an empty table.
package nodedb

import (
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/kadcore/dht/id"
	"github.com/kadcore/dht/wire"
)

var bucketName = []byte("peers")

// Record is the per-peer metadata kept across restarts.
type Record struct {
	Endpoint  wire.Endpoint
	LastPong  time.Time
	FailCount int
}

// persisted is the on-disk RLP form. time.Time doesn't round-trip through
// RLP (and its zero value's UnixNano is negative, which RLP rejects), so
// LastPong is flattened to a unix-nano uint64, with 0 meaning "never".
type persisted struct {
	Endpoint   wire.Endpoint
	LastPongNs uint64
	FailCount  uint32
}

// DB wraps a bolt.DB file holding Records keyed by peer id.
type DB struct {
	bolt *bolt.DB
}

// Open creates or opens the database file at path.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("nodedb: opening %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("nodedb: creating bucket: %w", err)
	}
	return &DB{bolt: bdb}, nil
}

// Close releases the underlying file handle.
func (db *DB) Close() error { return db.bolt.Close() }

// UpdatePong records a successful liveness check for peer at endpoint,
// resetting its failure streak.
func (db *DB) UpdatePong(peer id.ID, endpoint wire.Endpoint, at time.Time) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		raw, err := rlp.EncodeToBytes(persisted{
			Endpoint:   endpoint,
			LastPongNs: uint64(at.UnixNano()),
			FailCount:  0,
		})
		if err != nil {
			return fmt.Errorf("nodedb: encoding record: %w", err)
		}
		return tx.Bucket(bucketName).Put(peer.Bytes(), raw)
	})
}

// IncrementFailure bumps peer's consecutive find-node/ping failure count
// and returns the new total, so callers can decide when a peer is stale
// enough to evict rather than retry. The peer's last-known endpoint and
// pong time, if any, are preserved.
func (db *DB) IncrementFailure(peer id.ID) (int, error) {
	var failures int
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		rec, _ := decodeRecord(b.Get(peer.Bytes()))
		rec.FailCount++
		failures = int(rec.FailCount)
		raw, err := rlp.EncodeToBytes(rec)
		if err != nil {
			return fmt.Errorf("nodedb: encoding record: %w", err)
		}
		return b.Put(peer.Bytes(), raw)
	})
	return failures, err
}

// Get returns the stored record for peer, if any.
func (db *DB) Get(peer id.ID) (Record, bool) {
	var rec Record
	var found bool
	db.bolt.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get(peer.Bytes())
		if raw == nil {
			return nil
		}
		p, err := decodeRecord(raw)
		if err != nil {
			return nil
		}
		rec, found = toRecord(p), true
		return nil
	})
	return rec, found
}

// Seeds returns every peer whose last successful pong fell within maxAge,
// for use repopulating a freshly started table without waiting to
// rediscover the network from scratch.
func (db *DB) Seeds(maxAge time.Duration) []wire.Peer {
	var peers []wire.Peer
	cutoff := time.Now().Add(-maxAge)
	db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			p, err := decodeRecord(v)
			if err != nil || p.LastPongNs == 0 {
				continue
			}
			if time.Unix(0, int64(p.LastPongNs)).Before(cutoff) {
				continue
			}
			var pid id.ID
			copy(pid[:], k)
			peers = append(peers, wire.Peer{ID: pid, Endpoint: p.Endpoint})
		}
		return nil
	})
	return peers
}

func toRecord(p persisted) Record {
	rec := Record{Endpoint: p.Endpoint, FailCount: int(p.FailCount)}
	if p.LastPongNs != 0 {
		rec.LastPong = time.Unix(0, int64(p.LastPongNs))
	}
	return rec
}

func decodeRecord(buf []byte) (persisted, error) {
	if buf == nil {
		return persisted{}, fmt.Errorf("nodedb: no record")
	}
	var p persisted
	if err := rlp.DecodeBytes(buf, &p); err != nil {
		return persisted{}, fmt.Errorf("nodedb: corrupt record: %w", err)
	}
	return p, nil
}
