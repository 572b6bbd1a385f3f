// Package netaddr parses "host", "host:port" and "[v6]:port" strings with
// per-part defaults.
package netaddr

import (
	"net"
	"strings"
)

// ParseAddress splits addr into host and port, substituting the defaults for
// missing parts. IPv6 literals may be given bare or in brackets.
func ParseAddress(addr, defaultHost, defaultPort string) (host, port string) {
	host, port = defaultHost, defaultPort
	if addr == "" {
		return host, port
	}

	if h, p, err := net.SplitHostPort(addr); err == nil {
		if h != "" {
			host = h
		}
		if p != "" {
			port = p
		}
		return host, port
	}

	// No port part. Strip brackets from a bare "[v6]" form.
	h := strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
	if h != "" {
		host = h
	}
	return host, port
}

// JoinHostPort formats host and port, bracketing IPv6 literals.
func JoinHostPort(host, port string) string {
	return net.JoinHostPort(host, port)
}
