package relay

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/rs/zerolog/log"
)

// ErrNoFreePort means every port in the range is held by a live podcast or
// by some other process.
var ErrNoFreePort = errors.New("no free relay port")

// PortRange is the contiguous block [Start, Start+Count).
type PortRange struct {
	Start uint16
	Count int
}

func (r PortRange) Contains(port uint16) bool {
	return int(port) >= int(r.Start) && int(port) < int(r.Start)+r.Count
}

// Allocate binds a UDP socket on host using the first port of r, in ascending
// order, that is neither in inUse nor refused by the OS.
func Allocate(host string, r PortRange, inUse map[uint16]struct{}) (*net.UDPConn, error) {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return nil, fmt.Errorf("relay bind host %q: %w", host, err)
	}
	network := "udp4"
	if !ip.Unmap().Is4() {
		network = "udp6"
	}
	ip = ip.Unmap()

	for i := 0; i < r.Count; i++ {
		port := uint16(int(r.Start) + i)
		if _, used := inUse[port]; used {
			continue
		}
		conn, err := net.ListenUDP(network, net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, port)))
		if err != nil {
			log.Debug().Err(err).Str("module", "relay").Uint16("port", port).Msg("port unavailable, trying next")
			continue
		}
		return conn, nil
	}
	return nil, ErrNoFreePort
}
