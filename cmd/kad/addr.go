package main

import (
	"fmt"
	"net"
)

func splitHostPort(s string) (host, port string, err error) {
	return net.SplitHostPort(s)
}

// resolveIP accepts either a literal IP or a hostname, returning the first
// resolved address. DNS lookups let a bootstrap list use hostnames, as the
// teacher's own -bootnodes style flags did.
func resolveIP(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses found for %q", host)
	}
	return ips[0], nil
}
