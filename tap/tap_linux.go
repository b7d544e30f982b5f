//go:build linux

package tap

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/DavidCox1979/badvpn/internal/berr"
	"github.com/DavidCox1979/badvpn/reactor"
)

// ifReq mirrors struct ifreq from linux/if.h closely enough for
// TUNSETIFF: a 16-byte interface name followed by the flags field
// ioctl(2) reads/writes, padded out to the kernel's expected size.
type ifReq struct {
	Name  [unix.IFNAMSIZ]byte
	Flags uint16
	_     [22]byte
}

// linuxDevice implements Device by opening /dev/net/tun in TAP mode.
// Recv/Send are each served by a dedicated goroutine blocked in the
// underlying file's Read/Write syscall — unavoidable, since neither
// can be made non-blocking without epoll-driven readiness the kernel's
// tun driver does support but which this adapter doesn't need, given
// at most one Recv and one Send is ever outstanding per the flow
// framework's invariant. Completion is always marshaled back onto the
// reactor goroutine via reactor.Invoke, never invoked directly from
// the background goroutine, preserving "only the owning goroutine
// touches flow state" (reactor package doc).
type linuxDevice struct {
	r    *reactor.Reactor
	file *os.File
	name string
	mtu  int
}

// Open creates or attaches to a TAP interface named name (empty string
// lets the kernel choose one) with the given Ethernet frame MTU.
func Open(r *reactor.Reactor, name string, mtu int) (*linuxDevice, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, berr.Wrap(berr.ResourceAcquisition, err, "tap: open /dev/net/tun")
	}

	var req ifReq
	copy(req.Name[:], name)
	req.Flags = unix.IFF_TAP | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req))); errno != 0 {
		unix.Close(fd)
		return nil, berr.Wrap(berr.ResourceAcquisition, errno, "tap: TUNSETIFF ioctl")
	}

	actualName := nullTerminatedString(req.Name[:])
	file := os.NewFile(uintptr(fd), actualName)

	return &linuxDevice{r: r, file: file, name: actualName, mtu: mtu}, nil
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Name reports the kernel-assigned or requested interface name.
func (d *linuxDevice) Name() string { return d.name }

func (d *linuxDevice) MTU() int        { return d.mtu }
func (d *linuxDevice) HasCancel() bool { return false }

// Recv reads one Ethernet frame. There is no synchronous cancel path:
// a blocking Read on the tun fd cannot be interrupted except by
// closing it, which is a teardown operation, not a per-call one.
func (d *linuxDevice) Recv(buf []byte, done func(n int)) {
	go func() {
		n, err := d.file.Read(buf)
		if err != nil {
			n = 0
		}
		d.r.Invoke(func() { done(n) })
	}()
}

func (d *linuxDevice) Send(buf []byte, done func()) {
	go func() {
		_, _ = d.file.Write(buf)
		d.r.Invoke(done)
	}()
}

func (d *linuxDevice) Cancel() {} // HasCancel() is false; never called.

func (d *linuxDevice) Close() error {
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("tap: close %s: %w", d.name, err)
	}
	return nil
}
