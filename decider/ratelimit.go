package decider

import (
	"sync"
	"time"
)

// peerRatelimiter is the teacher's ratelimiter.Ratelimiter
// (golang.zx2c4.com/wireguard/ratelimiter), adapted from an
// IP-address-keyed token bucket into a PeerID-keyed one: this module
// guards IGMP report ingestion per source peer (spec.md §5's note that
// "the frame decider's MAC and multicast tables" are a shared resource
// mutated only from the reactor goroutine — a single misbehaving or
// compromised peer flooding Group-Specific Reports must not be able to
// push unbounded churn into MulticastGroups). Token-bucket parameters
// and accounting are unchanged from the teacher's original. Unlike the
// original there is no background garbage-collection goroutine: a
// peer's bucket is dropped only by Forget.
type peerRatelimiter struct {
	mu      sync.Mutex
	table   map[PeerID]*ratelimiterEntry
	timeNow func() time.Time
}

type ratelimiterEntry struct {
	mu       sync.Mutex
	lastTime time.Time
	tokens   int64
}

const (
	igmpReportsPerSecond = 20
	igmpReportsBurstable = 5
	igmpReportCost       = 1_000_000_000 / igmpReportsPerSecond
	igmpMaxTokens        = igmpReportCost * igmpReportsBurstable
)

func newPeerRatelimiter() *peerRatelimiter {
	return &peerRatelimiter{table: make(map[PeerID]*ratelimiterEntry), timeNow: time.Now}
}

// Allow reports whether an IGMP report from peer should be processed,
// same token-bucket accounting as the teacher's Ratelimiter.Allow.
func (rl *peerRatelimiter) Allow(peer PeerID) bool {
	rl.mu.Lock()
	entry := rl.table[peer]
	rl.mu.Unlock()

	if entry == nil {
		entry = &ratelimiterEntry{tokens: igmpMaxTokens - igmpReportCost, lastTime: rl.timeNow()}
		rl.mu.Lock()
		rl.table[peer] = entry
		rl.mu.Unlock()
		return true
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	now := rl.timeNow()
	entry.tokens += now.Sub(entry.lastTime).Nanoseconds()
	entry.lastTime = now
	if entry.tokens > igmpMaxTokens {
		entry.tokens = igmpMaxTokens
	}
	if entry.tokens > igmpReportCost {
		entry.tokens -= igmpReportCost
		return true
	}
	return false
}

// Forget drops a peer's bucket, used when a peer is removed from the
// instance so its entry doesn't linger forever.
func (rl *peerRatelimiter) Forget(peer PeerID) {
	rl.mu.Lock()
	delete(rl.table, peer)
	rl.mu.Unlock()
}
