package vpnconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAreAppliedWithoutLoadingAFile(t *testing.T) {
	require.NoError(t, Load(""))

	dp := LoadDataplane()
	require.Equal(t, 10000*time.Millisecond, dp.KeepAlive)
	require.Equal(t, 22000*time.Millisecond, dp.Tolerance)
	require.Equal(t, time.Duration(-1), dp.LocalInactivity)
	require.Equal(t, 32, dp.LocalBufferPackets)

	dec := LoadDecider()
	require.Equal(t, 16, dec.MACsPerPeer)
	require.Equal(t, 16, dec.PeerMaxGroups)

	frag := LoadFragment()
	require.Equal(t, 4, frag.NumFrames)
	require.Equal(t, 9000, frag.MaxFrameSize)

	require.Equal(t, 1500, FrameMTU())
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "badvpn.yaml")
	contents := []byte("dataplane:\n  keep_alive_ms: 5000\ntap:\n  frame_mtu: 9000\n")
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	require.NoError(t, Load(path))
	dp := LoadDataplane()
	require.Equal(t, 5000*time.Millisecond, dp.KeepAlive)
	require.Equal(t, 9000, FrameMTU())

	// Values not present in the file keep their registered default.
	require.Equal(t, 22000*time.Millisecond, dp.Tolerance)
}

func TestLoadMissingPathIsNotAnError(t *testing.T) {
	require.NoError(t, Load(""))
}
