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

// Package wire implements the length-prefixed, recursive, tagged RLP
// encoding used on the UDP wire: Endpoint, Peer, and the four Message body
// variants (PING, PONG, FIND_NODE, FOUND_NODE).
package wire

import (
	"fmt"
	"io"
	"net"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/kadcore/dht/id"
)

// Family tags an Endpoint's IP address kind.
type Family byte

const (
	IPv4 Family = 0
	IPv6 Family = 1
)

// Endpoint is a transport address: an IP (v4 or v6, tagged) and UDP port.
type Endpoint struct {
	Family Family
	IP     []byte
	Port   uint16
}

// NewEndpoint builds an Endpoint from a standard net.IP and port, choosing
// the family tag from the address's effective length.
func NewEndpoint(ip net.IP, port uint16) (Endpoint, error) {
	if v4 := ip.To4(); v4 != nil {
		return Endpoint{Family: IPv4, IP: []byte(v4), Port: port}, nil
	}
	if v6 := ip.To16(); v6 != nil {
		return Endpoint{Family: IPv6, IP: []byte(v6), Port: port}, nil
	}
	return Endpoint{}, fmt.Errorf("wire: invalid IP %v", ip)
}

// Validate checks that the IP length agrees with the declared family.
func (e Endpoint) Validate() error {
	switch e.Family {
	case IPv4:
		if len(e.IP) != net.IPv4len {
			return fmt.Errorf("wire: family=IPv4 but ip has %d bytes", len(e.IP))
		}
	case IPv6:
		if len(e.IP) != net.IPv6len {
			return fmt.Errorf("wire: family=IPv6 but ip has %d bytes", len(e.IP))
		}
	default:
		return fmt.Errorf("wire: unknown family tag %d", e.Family)
	}
	return nil
}

// UDPAddr converts the Endpoint to a *net.UDPAddr.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(e.IP), Port: int(e.Port)}
}

func (e Endpoint) String() string {
	return e.UDPAddr().String()
}

// Peer is the pair (Identifier, Endpoint). Peers are value-typed and freely
// copied; equality is structural.
type Peer struct {
	ID       id.ID
	Endpoint Endpoint
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%s", p.ID, p.Endpoint)
}

// Body tags are the leading element of the Body list on the wire.
const (
	tagPing      = 0
	tagPong      = 1
	tagFindNode  = 2
	tagFoundNode = 3
)

// Body is implemented by the four message payload variants.
type Body interface {
	tag() byte
}

// Ping requests a liveness check. Carries the sender's own id.
type Ping struct {
	RequesterID id.ID
}

func (Ping) tag() byte { return tagPing }

// Pong answers a Ping.
type Pong struct {
	ResponderID id.ID
}

func (Pong) tag() byte { return tagPong }

// FindNode asks the recipient for the peers closest to TargetID that it
// knows of.
type FindNode struct {
	RequesterID id.ID
	TargetID    id.ID
}

func (FindNode) tag() byte { return tagFindNode }

// FoundNode answers a FindNode with Count peers; Decode rejects a frame
// whose Count differs from the length of Peers.
type FoundNode struct {
	ResponderID id.ID
	Count       uint8
	Peers       []Peer
}

func (FoundNode) tag() byte { return tagFoundNode }

// Message is the top-level envelope: target peer, session tag, and body.
// Request variants (Ping, FindNode) carry a reply slot at runtime; that
// slot is attached out-of-band (see package service) and is never
// serialized.
type Message struct {
	Target  Peer
	Session uint8
	Body    Body
}

// EncodeRLP implements rlp.Encoder. The body is encoded as a nested list
// whose first element is the variant's tag byte.
func (m Message) EncodeRLP(w io.Writer) error {
	var body interface{}
	switch b := m.Body.(type) {
	case Ping:
		body = []interface{}{uint8(tagPing), b.RequesterID}
	case Pong:
		body = []interface{}{uint8(tagPong), b.ResponderID}
	case FindNode:
		body = []interface{}{uint8(tagFindNode), b.RequesterID, b.TargetID}
	case FoundNode:
		body = []interface{}{uint8(tagFoundNode), b.ResponderID, b.Count, b.Peers}
	default:
		return fmt.Errorf("wire: message has no body")
	}
	return rlp.Encode(w, []interface{}{m.Target, m.Session, body})
}

// DecodeRLP implements rlp.Decoder. Unknown body tags are rejected.
func (m *Message) DecodeRLP(s *rlp.Stream) error {
	if _, err := s.List(); err != nil {
		return err
	}
	var target Peer
	if err := s.Decode(&target); err != nil {
		return fmt.Errorf("wire: decoding target: %w", err)
	}
	var session uint8
	if err := s.Decode(&session); err != nil {
		return fmt.Errorf("wire: decoding session: %w", err)
	}
	if _, err := s.List(); err != nil {
		return fmt.Errorf("wire: decoding body: %w", err)
	}
	var tag uint8
	if err := s.Decode(&tag); err != nil {
		return fmt.Errorf("wire: decoding body tag: %w", err)
	}
	var body Body
	switch tag {
	case tagPing:
		var b Ping
		if err := s.Decode(&b.RequesterID); err != nil {
			return err
		}
		body = b
	case tagPong:
		var b Pong
		if err := s.Decode(&b.ResponderID); err != nil {
			return err
		}
		body = b
	case tagFindNode:
		var b FindNode
		if err := s.Decode(&b.RequesterID); err != nil {
			return err
		}
		if err := s.Decode(&b.TargetID); err != nil {
			return err
		}
		body = b
	case tagFoundNode:
		var b FoundNode
		if err := s.Decode(&b.ResponderID); err != nil {
			return err
		}
		if err := s.Decode(&b.Count); err != nil {
			return err
		}
		if err := s.Decode(&b.Peers); err != nil {
			return err
		}
		if int(b.Count) != len(b.Peers) {
			return fmt.Errorf("wire: FOUND_NODE declared count %d but carried %d peers", b.Count, len(b.Peers))
		}
		body = b
	default:
		return fmt.Errorf("wire: unknown body tag %d", tag)
	}
	if err := s.ListEnd(); err != nil {
		return err
	}
	if err := s.ListEnd(); err != nil {
		return err
	}
	m.Target = target
	m.Session = session
	m.Body = body
	return nil
}

// Encode serializes m to its wire form.
func Encode(m Message) ([]byte, error) {
	return rlp.EncodeToBytes(m)
}

// Decode parses a wire frame into a Message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := rlp.DecodeBytes(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// MaxPacketSize is the conservative per-datagram reservation from §6: large
// enough for a PING, small enough to avoid IP fragmentation in practice.
const MaxPacketSize = 1024
