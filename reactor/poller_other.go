//go:build !linux

package reactor

import "errors"

// On non-Linux platforms this repo has no concrete raw-socket/TAP
// adapter (spec.md §1 keeps those out of core scope beyond the
// abstract interfaces), so AddIO simply returns errNoPoller;
// Reactor's timers and pending-job queue remain fully usable.
type nullPoller struct{}

func newPoller() poller { return nullPoller{} }

var errNoPoller = errors.New("reactor: no I/O poller on this platform")

func (nullPoller) add(int, Fder, IOEvents) error    { return errNoPoller }
func (nullPoller) modify(int, Fder, IOEvents) error { return errNoPoller }
func (nullPoller) remove(int)                       {}
func (nullPoller) run(chan<- event)                 {}
func (nullPoller) stop()                            {}
