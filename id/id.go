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

// Package id implements the 256-bit node identifier and the XOR distance
// metric used to place peers into the routing table's buckets.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
)

// Size is the width, in bytes, of an ID.
const Size = 32

// Bits is the width, in bits, of an ID.
const Bits = Size * 8

// ID is a 256-bit node identifier, big-endian: byte 0 is most significant.
type ID [Size]byte

// Random returns a new ID drawn from a cryptographically secure source.
func Random() ID {
	var out ID
	if _, err := rand.Read(out[:]); err != nil {
		panic("id: failed to read randomness: " + err.Error())
	}
	return out
}

// FromBytes copies b into an ID. It returns an error if b is not exactly
// Size bytes long.
func FromBytes(b []byte) (ID, error) {
	var out ID
	if len(b) != Size {
		return out, fmt.Errorf("id: want %d bytes, got %d", Size, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Bytes returns the identifier as a byte slice.
func (id ID) Bytes() []byte { return id[:] }

// Hex returns the full hex encoding of the identifier.
func (id ID) Hex() string { return hex.EncodeToString(id[:]) }

// String returns a shortened hex form, suitable for log lines.
func (id ID) String() string {
	h := id.Hex()
	return h[:8]
}

// IsZero reports whether id is the all-zero identifier.
func (id ID) IsZero() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

// xor computes the bytewise XOR of a and b.
func xor(a, b ID) (out ID) {
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Distance returns the XOR distance between a and b as an unsigned 256-bit
// integer, matching the big-endian byte order of ID.
func Distance(a, b ID) *uint256.Int {
	d := xor(a, b)
	return new(uint256.Int).SetBytes(d[:])
}

// leadingZeros returns the number of leading zero bits in d, treating d as a
// 256-bit big-endian integer. The all-zero value reports Bits (256), per the
// convention distance(x, x) has "infinite" leading zeros.
func leadingZeros(d ID) int {
	for i, b := range d {
		if b == 0 {
			continue
		}
		for j := 0; j < 8; j++ {
			if b&(0x80>>uint(j)) != 0 {
				return i*8 + j
			}
		}
	}
	return Bits
}

// BucketIndex returns the index, in [0, Bits-1], of the bucket that other
// belongs in within a routing table owned by local. Bucket Bits-1 holds the
// identifiers closest to local; bucket 0 holds the farthest. The result is
// undefined (and MUST NOT be used) when other == local: the local id has no
// bucket and must never be inserted into the table.
func BucketIndex(local, other ID) int {
	d := xor(local, other)
	return leadingZeros(d)
}

// Less reports whether a is strictly closer to target than b is.
func Less(target, a, b ID) bool {
	da := Distance(target, a)
	db := Distance(target, b)
	return da.Lt(db)
}

// MustHex decodes a hex-encoded identifier, panicking on malformed input.
// Intended for tests and static bootstrap lists.
func MustHex(s string) ID {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("id: invalid hex: " + err.Error())
	}
	out, err := FromBytes(b)
	if err != nil {
		panic(err)
	}
	return out
}
