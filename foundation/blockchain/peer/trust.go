package peer

import (
	"fmt"
	"net"
	"strings"
)

// TrustFilter decides which peers are exempt from the active peer limit.
type TrustFilter struct {
	nodes    map[NodeID]struct{}
	networks []*net.IPNet
}

// NewTrustFilter parses entries that are either a node id or an IP network in
// CIDR notation. A bare IP is treated as a single host network.
func NewTrustFilter(entries []string) (*TrustFilter, error) {
	tf := TrustFilter{
		nodes: make(map[NodeID]struct{}),
	}

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if ip := net.ParseIP(entry); ip != nil {
			bits := 8 * len(ip.To16())
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			tf.networks = append(tf.networks, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}

		if strings.Contains(entry, "/") {
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("trusted peer %q: %w", entry, err)
			}
			tf.networks = append(tf.networks, network)
			continue
		}

		tf.nodes[NodeID(entry)] = struct{}{}
	}

	return &tf, nil
}

// Accept reports whether the channel is trusted. A nil filter trusts nobody.
func (tf *TrustFilter) Accept(ch Channel) bool {
	if tf == nil {
		return false
	}

	if _, exists := tf.nodes[ch.NodeID()]; exists {
		return true
	}

	ip := net.ParseIP(ch.RemoteIP())
	if ip == nil {
		return false
	}

	for _, network := range tf.networks {
		if network.Contains(ip) {
			return true
		}
	}

	return false
}
