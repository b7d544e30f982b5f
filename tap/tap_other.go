//go:build !linux

package tap

import (
	"errors"

	"github.com/DavidCox1979/badvpn/reactor"
)

var errUnsupported = errors.New("tap: no TUN/TAP adapter for this platform")

// Open is unimplemented outside Linux; the flow framework and
// dataplane packages are platform-independent, only this adapter is
// not.
func Open(r *reactor.Reactor, name string, mtu int) (Device, error) {
	return nil, errUnsupported
}
