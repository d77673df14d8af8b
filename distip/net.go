// Package distip guards the routing table against a single host stuffing
// many entries into one bucket: DistinctNetSet bounds how many addresses
// from the same subnet a bucket (or the table as a whole) may hold, and
// IsLAN recognizes local-network addresses so a handful of peers run on one
// test machine don't eat into that same limit.
package distip

import (
	"bytes"
	"fmt"
	"net"
	"sort"
)

// netlist is a small set of CIDR ranges, used only to classify LAN/private
// addresses that are exempt from subnet-diversity accounting.
type netlist []net.IPNet

var lan4, lan6 netlist

func init() {
	// RFC 1918 / RFC 4193 private-use ranges, plus link-local.
	lan4.add("0.0.0.0/8")
	lan4.add("10.0.0.0/8")
	lan4.add("172.16.0.0/12")
	lan4.add("192.168.0.0/16")
	lan6.add("fe80::/10") // Link-Local
	lan6.add("fc00::/7")  // Unique-Local
}

func (l *netlist) add(cidr string) {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	*l = append(*l, *n)
}

func (l netlist) contains(ip net.IP) bool {
	for _, n := range l {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// IsLAN reports whether ip is a loopback or private-network address. The
// table's bucket/table IP-diversity limits (table.Config's BucketIPLimit
// and TableIPLimit) exempt these addresses, so a local multi-node test
// setup doesn't trip the same Sybil-resistance accounting meant for
// addresses reachable over the open network.
func IsLAN(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		return lan4.contains(v4)
	}
	return lan6.contains(ip)
}

// DistinctNetSet tracks IPs, ensuring that at most Limit of them fall into
// the same Subnet-bit prefix. A Table embeds one across the whole table
// (Config.TableSubnet/TableIPLimit) and one per bucket
// (Config.BucketSubnet/BucketIPLimit); both reject an Add once the relevant
// prefix is at capacity rather than evicting anything already tracked.
type DistinctNetSet struct {
	Subnet uint // number of common prefix bits
	Limit  uint // maximum number of IPs in each subnet

	members map[string]uint
	buf     net.IP
}

// Add adds an IP address to the set. It returns false (and doesn't add the
// IP) if the number of existing IPs in the defined range is already at
// Limit.
func (s *DistinctNetSet) Add(ip net.IP) bool {
	key := string(s.key(ip))
	n := s.members[key]
	if n < s.Limit {
		s.members[key] = n + 1
		return true
	}
	return false
}

// Remove removes an IP from the set.
func (s *DistinctNetSet) Remove(ip net.IP) {
	key := string(s.key(ip))
	if n, ok := s.members[key]; ok {
		if n == 1 {
			delete(s.members, key)
		} else {
			s.members[key] = n - 1
		}
	}
}

// Contains reports whether the given IP is tracked in the set.
func (s DistinctNetSet) Contains(ip net.IP) bool {
	_, ok := s.members[string(s.key(ip))]
	return ok
}

// Len returns the number of tracked IPs.
func (s DistinctNetSet) Len() uint {
	n := uint(0)
	for _, i := range s.members {
		n += i
	}
	return n
}

// key encodes the map key for an address: a leading '4' or '6' type tag
// followed by the IP truncated to Subnet bits, so IPv4 and IPv6 addresses
// never collide and only the configured prefix length is compared.
func (s *DistinctNetSet) key(ip net.IP) net.IP {
	if s.members == nil {
		s.members = make(map[string]uint)
		s.buf = make(net.IP, 17)
	}
	typ := byte('6')
	if ip4 := ip.To4(); ip4 != nil {
		typ, ip = '4', ip4
	}
	bits := s.Subnet
	if bits > uint(len(ip)*8) {
		bits = uint(len(ip) * 8)
	}
	nb := int(bits / 8)
	mask := ^byte(0xFF >> (bits % 8))
	s.buf[0] = typ
	buf := append(s.buf[:1], ip[:nb]...)
	if nb < len(ip) && mask != 0 {
		buf = append(buf, ip[nb]&mask)
	}
	return buf
}

// String implements fmt.Stringer, mainly useful when logging a bucket or
// table's current subnet occupancy during debugging.
func (s DistinctNetSet) String() string {
	var buf bytes.Buffer
	buf.WriteString("{")
	keys := make([]string, 0, len(s.members))
	for k := range s.members {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		var ip net.IP
		if k[0] == '4' {
			ip = make(net.IP, 4)
		} else {
			ip = make(net.IP, 16)
		}
		copy(ip, k[1:])
		fmt.Fprintf(&buf, "%v×%d", ip, s.members[k])
		if i != len(keys)-1 {
			buf.WriteString(" ")
		}
	}
	buf.WriteString("}")
	return buf.String()
}
