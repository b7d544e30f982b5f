// Package tap implements spec.md component M: the abstract L2 device
// interface producing and consuming Ethernet frames, plus a concrete
// Linux TUN/TAP adapter.
//
// The teacher depends on golang.zx2c4.com/wireguard/tun's Device
// interface (device/device.go imports "golang.zx2c4.com/wireguard/tun")
// but that package's implementation was not part of the retrieval pack
// — only the interface boundary is visible in the teacher's source.
// This package plays the same role for the Ethernet-frame (not IP
// packet) case spec.md §4.M describes, adapted onto the flow
// framework's PacketRecv/PacketPass contracts instead of the teacher's
// ring-buffer-based tun.Device methods, and its Linux implementation
// reaches for golang.org/x/sys/unix the way the wider WireGuard
// ecosystem's platform adapters do.
package tap

import "github.com/DavidCox1979/badvpn/flow"

// Device is the abstraction spec.md §4.M names: "a PacketRecvInterface
// that yields Ethernet frames and a PacketPassInterface that writes
// them. The abstraction is platform-agnostic; the core depends only on
// the interfaces and MTU."
type Device interface {
	flow.PacketRecvInterface
	flow.PacketPassInterface
	// Close releases the underlying OS handle. Safe to call once,
	// after the reactor driving this device's Recv/Send calls has
	// stopped.
	Close() error
}
