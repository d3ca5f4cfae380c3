// Package relaytest provides helpers for tests that bind relay sockets.
package relaytest

import (
	"net"
	"testing"

	"github.com/dkeye/podcast/internal/app/relay"
)

// FreeRange finds n consecutive loopback UDP ports that are currently
// bindable. The test is skipped when none can be found.
func FreeRange(t testing.TB, n int) relay.PortRange {
	t.Helper()
	for attempt := 0; attempt < 50; attempt++ {
		probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		if err != nil {
			t.Fatalf("probe: %v", err)
		}
		start := probe.LocalAddr().(*net.UDPAddr).Port
		_ = probe.Close()
		if start+n-1 > 65535 {
			continue
		}
		ok := true
		for p := start; p < start+n; p++ {
			c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: p})
			if err != nil {
				ok = false
				break
			}
			_ = c.Close()
		}
		if ok {
			return relay.PortRange{Start: uint16(start), Count: n}
		}
	}
	t.Skip("could not find a free consecutive port range")
	return relay.PortRange{}
}
