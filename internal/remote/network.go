package remote

import (
	"context"
	"net"
)

// NetworkStatus is the device-level half of the reachability probe.
type NetworkStatus interface {
	Connected(ctx context.Context) bool
}

// InterfaceStatus reports connected when any non-loopback interface is up
// and has at least one address.
type InterfaceStatus struct{}

func (InterfaceStatus) Connected(context.Context) bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// StaticStatus always reports the same answer. Useful when the API runs on
// loopback or in tests.
type StaticStatus bool

func (s StaticStatus) Connected(context.Context) bool { return bool(s) }
