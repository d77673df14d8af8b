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

// Package service is the UDP I/O core: it owns the socket, matches inbound
// replies to outstanding requests by (peer id, session tag), times requests
// out, and feeds successful contacts back into the routing table.
package service

import (
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/kadcore/dht/id"
	"github.com/kadcore/dht/kerrors"
	"github.com/kadcore/dht/logger/glog"
	"github.com/kadcore/dht/metrics"
	"github.com/kadcore/dht/nodedb"
	"github.com/kadcore/dht/table"
	"github.com/kadcore/dht/wire"
)

// Config tunes timing and bounds not already carried by the table.
type Config struct {
	RequestTimeout time.Duration
	TickInterval   time.Duration
	BadSenderCache int // capacity of the LRU tracking malformed senders
	QueueDepth     int // capacity of the bounded outbound submit queue
}

// DefaultConfig matches the values named in spec §6/§7.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 3 * time.Second,
		TickInterval:   50 * time.Millisecond,
		BadSenderCache: 1024,
		QueueDepth:     32,
	}
}

type pendingKey struct {
	peer    id.ID
	session uint8
}

type pendingRequest struct {
	key      pendingKey
	addr     *net.UDPAddr
	deadline time.Time
	replyCh  chan wire.Body
	errCh    chan error
}

// outboundItem is one entry in the bounded submit queue: an already-encoded
// datagram plus, for requests expecting a reply, the pending entry send
// failure should be reported against.
type outboundItem struct {
	addr    *net.UDPAddr
	raw     []byte
	pending *pendingRequest // nil for fire-and-forget responses
}

// Service is the transport and request/reply core for one local node.
type Service struct {
	local id.ID
	conn  net.PacketConn
	tab   *table.Table
	cfg   Config
	db    *nodedb.DB // optional; nil disables persistence

	mu      sync.Mutex
	pending map[pendingKey]*pendingRequest
	session uint8

	badSenders *lru.Cache

	outbox chan outboundItem

	closing chan struct{}
	closeWG sync.WaitGroup
	once    sync.Once
}

// New constructs a Service bound to an already-listening socket. db may be
// nil, in which case liveness metadata is not recorded anywhere.
func New(conn net.PacketConn, local id.ID, tab *table.Table, db *nodedb.DB, cfg Config) (*Service, error) {
	cache, err := lru.New(cfg.BadSenderCache)
	if err != nil {
		return nil, fmt.Errorf("service: building bad-sender cache: %w", err)
	}
	return &Service{
		local:      local,
		conn:       conn,
		tab:        tab,
		db:         db,
		cfg:        cfg,
		pending:    make(map[pendingKey]*pendingRequest),
		badSenders: cache,
		outbox:     make(chan outboundItem, cfg.QueueDepth),
		closing:    make(chan struct{}),
	}, nil
}

// Start launches the read loop, the timeout sweeper, and the outbound
// sender. Call Close to stop all three.
func (s *Service) Start() {
	s.closeWG.Add(3)
	go s.readLoop()
	go s.sweepLoop()
	go s.sendLoop()
}

// Addr returns the local address the service's socket is bound to.
func (s *Service) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close shuts the socket and stops the background goroutines. Per spec §5,
// shutting down the service drops every pending reply slot, failing its
// awaiter with kerrors.Cancelled rather than leaving it blocked forever.
func (s *Service) Close() error {
	s.once.Do(func() { close(s.closing) })
	err := s.conn.Close()
	s.closeWG.Wait()

	s.mu.Lock()
	stale := s.pending
	s.pending = make(map[pendingKey]*pendingRequest)
	s.mu.Unlock()
	for _, p := range stale {
		p.errCh <- kerrors.Cancelled
	}
	return err
}

func (s *Service) readLoop() {
	defer s.closeWG.Done()
	buf := make([]byte, wire.MaxPacketSize*4)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
				glog.Infof("service: read error: %v", err)
				return
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		udpAddr, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		s.handlePacket(udpAddr, data)
	}
}

func (s *Service) sweepLoop() {
	defer s.closeWG.Done()
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-s.closing:
			return
		case now := <-t.C:
			s.sweepExpired(now)
		}
	}
}

// sendLoop is the sole writer of the socket: every submit() call hands its
// datagram to this goroutine over the bounded s.outbox queue rather than
// writing directly, so a burst of outbound traffic is throttled by the
// queue's capacity (Config.QueueDepth) instead of the socket itself.
func (s *Service) sendLoop() {
	defer s.closeWG.Done()
	for {
		select {
		case <-s.closing:
			return
		case item := <-s.outbox:
			_, err := s.conn.WriteTo(item.raw, item.addr)
			if err != nil {
				metrics.SendFailures.Inc(1)
				if item.pending != nil {
					s.mu.Lock()
					delete(s.pending, item.pending.key)
					s.mu.Unlock()
					item.pending.errCh <- fmt.Errorf("%w: %v", kerrors.TransportError, err)
				}
			}
		}
	}
}

// submit encodes msg and enqueues it for sendLoop, blocking (cooperatively)
// if the outbound queue is full, per spec §4.D/§5's backpressure contract.
// pending is non-nil only for requests awaiting a reply, so a send failure
// can be reported back to the right awaiter.
func (s *Service) submit(to *net.UDPAddr, msg wire.Message, pending *pendingRequest) error {
	raw, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("service: encoding message: %w", err)
	}
	item := outboundItem{addr: to, raw: raw, pending: pending}
	select {
	case s.outbox <- item:
		return nil
	case <-s.closing:
		return kerrors.Cancelled
	}
}

func (s *Service) sweepExpired(now time.Time) {
	s.mu.Lock()
	var expired []*pendingRequest
	for k, p := range s.pending {
		if !now.Before(p.deadline) {
			expired = append(expired, p)
			delete(s.pending, k)
		}
	}
	s.mu.Unlock()
	for _, p := range expired {
		metrics.RequestTimeouts.Inc(1)
		p.errCh <- kerrors.Timeout
	}
}

func (s *Service) handlePacket(from *net.UDPAddr, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		metrics.DecodeFailures.Inc(1)
		s.noteBadSender(from)
		return
	}

	switch body := msg.Body.(type) {
	case wire.Ping:
		s.admit(wire.Peer{ID: body.RequesterID, Endpoint: endpointFromAddr(from)})
		s.respond(from, body.RequesterID, msg.Session, wire.Pong{ResponderID: s.local})
	case wire.FindNode:
		s.admit(wire.Peer{ID: body.RequesterID, Endpoint: endpointFromAddr(from)})
		// The requester was just admitted above; it is left out of its own
		// answer.
		k := table.DefaultConfig().BucketSize
		closest := make([]wire.Peer, 0, k)
		for _, p := range s.tab.Closest(body.TargetID, k+1) {
			if p.ID != body.RequesterID && len(closest) < k {
				closest = append(closest, p)
			}
		}
		s.respond(from, body.RequesterID, msg.Session, wire.FoundNode{
			ResponderID: s.local,
			Count:       uint8(len(closest)),
			Peers:       closest,
		})
	case wire.Pong:
		s.deliver(from, body.ResponderID, msg.Session, body)
	case wire.FoundNode:
		s.admit(wire.Peer{ID: body.ResponderID, Endpoint: endpointFromAddr(from)})
		// Learn about every peer the responder told us about, not only the
		// responder itself, so a single FIND_NODE round fills several
		// buckets at once.
		for _, p := range body.Peers {
			s.admit(p)
		}
		s.deliver(from, body.ResponderID, msg.Session, body)
	}
}

// admit folds peer into the routing table. If peer is already known, it is
// simply bumped to most-recently-seen. Otherwise it is inserted if its
// bucket has room; if the bucket is full, the least-recently-seen incumbent
// is pinged in the background and evicted in favor of peer only if that
// ping fails, per the bucket-full eviction policy.
func (s *Service) admit(peer wire.Peer) {
	if s.tab.Bump(peer.ID) {
		return
	}
	if s.tab.Add(peer) {
		return
	}
	incumbent, ok := s.tab.EvictionCandidate(peer.ID)
	if !ok {
		return
	}
	go s.challengeAndEvict(incumbent, peer)
}

// challengeAndEvict pings a bucket's least-recently-seen entry; if it fails
// to answer, it is evicted in favor of candidate. Ping itself already
// records the failure in nodedb, so only the table mutation happens here.
func (s *Service) challengeAndEvict(incumbent, candidate wire.Peer) {
	if err := s.Ping(incumbent); err == nil {
		return
	}
	if s.tab.Evict(incumbent.ID) {
		s.tab.Add(candidate)
	}
}

// deliver matches an inbound reply body against a pending request. Replies
// whose sender id and address don't match any outstanding request (a stale
// duplicate, a spoofed sender, or an unsolicited message) are dropped and
// counted, never silently trusted. A reply from the wrong address leaves the
// matching request outstanding.
func (s *Service) deliver(from *net.UDPAddr, sender id.ID, session uint8, body wire.Body) {
	key := pendingKey{peer: sender, session: session}
	s.mu.Lock()
	p, ok := s.pending[key]
	if ok && (!p.addr.IP.Equal(from.IP) || p.addr.Port != from.Port) {
		ok = false
	}
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ok {
		metrics.UnknownCorrelation.Inc(1)
		s.noteBadSender(from)
		return
	}
	p.replyCh <- body
}

func (s *Service) respond(to *net.UDPAddr, target id.ID, session uint8, body wire.Body) {
	msg := wire.Message{
		Target:  wire.Peer{ID: target, Endpoint: endpointFromAddr(to)},
		Session: session,
		Body:    body,
	}
	// A response has no awaiter of its own; a failure here is only worth
	// counting, not reporting back to anyone.
	s.submit(to, msg, nil)
}

func (s *Service) noteBadSender(from *net.UDPAddr) {
	key := from.IP.String()
	n, _ := s.badSenders.Get(key)
	count, _ := n.(int)
	s.badSenders.Add(key, count+1)
}

// nextSession allocates a session tag not already outstanding for peer.
func (s *Service) nextSession(peer id.ID) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < 256; i++ {
		s.session++
		if _, busy := s.pending[pendingKey{peer: peer, session: s.session}]; !busy {
			return s.session
		}
	}
	// Every tag is in use for this peer; reuse the counter's current value,
	// the caller's request will simply queue behind whichever one expires
	// first once its deadline sweeps.
	return s.session
}

// request sends body to peer and blocks until a correlated reply arrives,
// the request times out, the socket errors, or the service is closed.
func (s *Service) request(peer wire.Peer, body wire.Body) (wire.Body, error) {
	session := s.nextSession(peer.ID)
	p := &pendingRequest{
		key:      pendingKey{peer: peer.ID, session: session},
		addr:     peer.Endpoint.UDPAddr(),
		deadline: time.Now().Add(s.cfg.RequestTimeout),
		replyCh:  make(chan wire.Body, 1),
		errCh:    make(chan error, 1),
	}
	s.mu.Lock()
	s.pending[p.key] = p
	s.mu.Unlock()

	msg := wire.Message{
		Target:  peer,
		Session: session,
		Body:    body,
	}
	if err := s.submit(p.addr, msg, p); err != nil {
		s.mu.Lock()
		delete(s.pending, p.key)
		s.mu.Unlock()
		return nil, err
	}

	select {
	case reply := <-p.replyCh:
		return reply, nil
	case err := <-p.errCh:
		return nil, err
	}
}

// Ping sends a liveness probe to peer and blocks for the reply.
func (s *Service) Ping(peer wire.Peer) error {
	metrics.PingsSent.Inc(1)
	_, err := s.request(peer, wire.Ping{RequesterID: s.local})
	if err != nil {
		if s.db != nil {
			s.db.IncrementFailure(peer.ID)
		}
		return err
	}
	metrics.PingsOK.Inc(1)
	s.tab.Bump(peer.ID)
	if s.db != nil {
		s.db.UpdatePong(peer.ID, peer.Endpoint, time.Now())
	}
	return nil
}

// FindNode asks peer for the peers closest to target that it knows of.
func (s *Service) FindNode(peer wire.Peer, target id.ID) ([]wire.Peer, error) {
	metrics.FindNodeSent.Inc(1)
	reply, err := s.request(peer, wire.FindNode{RequesterID: s.local, TargetID: target})
	if err != nil {
		if s.db != nil {
			s.db.IncrementFailure(peer.ID)
		}
		return nil, err
	}
	fn, ok := reply.(wire.FoundNode)
	if !ok {
		return nil, fmt.Errorf("service: peer replied with unexpected message type %T to FIND_NODE", reply)
	}
	metrics.FindNodeOK.Inc(1)
	s.tab.Bump(peer.ID)
	return fn.Peers, nil
}

func endpointFromAddr(addr *net.UDPAddr) wire.Endpoint {
	ep, _ := wire.NewEndpoint(addr.IP, uint16(addr.Port))
	return ep
}
