// Package vpnconfig loads the runtime tunables every dataplane
// component reads at construction time (keep-alive/tolerance
// intervals, frame decider table caps, fragment pool sizing, queue
// depths). This is ambient plumbing for an embedding host process —
// not a CLI, which remains out of scope.
//
// Grounded on other_examples' proxima manifest, the only
// config-loading code in the retrieval pack: it calls package-level
// viper.GetInt/viper.GetString directly against a globally loaded
// config rather than threading a *viper.Viper instance through the
// call graph, and this package follows the same idiom.
package vpnconfig

import (
	"time"

	"github.com/spf13/viper"
)

// Keys, matching spec.md §5's timeout defaults and §4.H's table caps.
const (
	keyKeepAliveMS       = "dataplane.keep_alive_ms"
	keyToleranceMS       = "dataplane.tolerance_ms"
	keyRelayInactivityMS = "dataplane.relay_inactivity_ms"
	keyLocalInactivityMS = "dataplane.local_inactivity_ms"

	keyLocalBufferPackets = "dataplane.local_buffer_packets"
	keyRelayBufferPackets = "dataplane.relay_buffer_packets"

	keyMacsPerPeer   = "decider.macs_per_peer"
	keyPeerMaxGroups = "decider.peer_max_groups"

	keyFragmentNumFrames = "fragment.num_frames"
	keyFragmentNumChunks = "fragment.num_chunks_per_frame"
	keyFragmentMaxFrame  = "fragment.max_frame_size"

	keyFrameMTU = "tap.frame_mtu"
)

func init() {
	viper.SetDefault(keyKeepAliveMS, 10000)
	viper.SetDefault(keyToleranceMS, 22000)
	viper.SetDefault(keyRelayInactivityMS, 60000)
	viper.SetDefault(keyLocalInactivityMS, -1) // disabled by default

	viper.SetDefault(keyLocalBufferPackets, 32)
	viper.SetDefault(keyRelayBufferPackets, 32)

	viper.SetDefault(keyMacsPerPeer, 16)
	viper.SetDefault(keyPeerMaxGroups, 16)

	viper.SetDefault(keyFragmentNumFrames, 4)
	viper.SetDefault(keyFragmentNumChunks, 32)
	viper.SetDefault(keyFragmentMaxFrame, 9000)

	viper.SetDefault(keyFrameMTU, 1500)
}

// Load reads a config file (any format viper supports: YAML, TOML,
// JSON, INI...) from path, merging over the defaults registered above.
// An empty path is not an error and keeps pure-defaults operation; a
// non-empty path whose file cannot be read returns viper's error.
func Load(path string) error {
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	return viper.ReadInConfig()
}

// Dataplane collects the tunables dataplane.DataProtoDest,
// dataplane.LocalSource and dataplane.RelaySource are constructed
// with.
type Dataplane struct {
	KeepAlive       time.Duration
	Tolerance       time.Duration
	RelayInactivity time.Duration
	LocalInactivity time.Duration

	LocalBufferPackets int
	RelayBufferPackets int
}

// LoadDataplane reads the current dataplane.* settings.
func LoadDataplane() Dataplane {
	return Dataplane{
		KeepAlive:          time.Duration(viper.GetInt(keyKeepAliveMS)) * time.Millisecond,
		Tolerance:          time.Duration(viper.GetInt(keyToleranceMS)) * time.Millisecond,
		RelayInactivity:    durationOrNegative(viper.GetInt(keyRelayInactivityMS)),
		LocalInactivity:    durationOrNegative(viper.GetInt(keyLocalInactivityMS)),
		LocalBufferPackets: viper.GetInt(keyLocalBufferPackets),
		RelayBufferPackets: viper.GetInt(keyRelayBufferPackets),
	}
}

func durationOrNegative(ms int) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

// Decider collects the frame decider's table-sizing caps.
type Decider struct {
	MACsPerPeer   int
	PeerMaxGroups int
}

func LoadDecider() Decider {
	return Decider{
		MACsPerPeer:   viper.GetInt(keyMacsPerPeer),
		PeerMaxGroups: viper.GetInt(keyPeerMaxGroups),
	}
}

// Fragment collects FragmentProto assembler pool sizing.
type Fragment struct {
	NumFrames        int
	NumChunksPerFrame int
	MaxFrameSize     int
}

func LoadFragment() Fragment {
	return Fragment{
		NumFrames:         viper.GetInt(keyFragmentNumFrames),
		NumChunksPerFrame: viper.GetInt(keyFragmentNumChunks),
		MaxFrameSize:      viper.GetInt(keyFragmentMaxFrame),
	}
}

// FrameMTU reports the configured TAP frame MTU.
func FrameMTU() int {
	return viper.GetInt(keyFrameMTU)
}
