package sync

import (
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/rawblock/lightwallet/chain"
	"github.com/rawblock/lightwallet/netconfig"
)

func newTestManager() *Manager {
	return New(netconfig.Mainnet, DefaultOptions(), tls.Certificate{})
}

func TestBanThenExpire(t *testing.T) {
	m := newTestManager()
	ip := net.ParseIP("1.2.3.4")

	m.Ban(ip, 50*time.Millisecond, "test")
	if !m.isBanned(ip) {
		t.Fatal("expected ip to be banned immediately")
	}

	time.Sleep(75 * time.Millisecond)
	if m.isBanned(ip) {
		t.Fatal("expected ban to have expired")
	}
}

func TestRankedPeerPicksHighestPeak(t *testing.T) {
	m := newTestManager()
	m.peers["1.1.1.1"] = &PeerInfo{ClaimedPeak: 100}
	m.peers["2.2.2.2"] = &PeerInfo{ClaimedPeak: 500}
	m.peers["3.3.3.3"] = &PeerInfo{ClaimedPeak: 250}

	best := m.RankedPeer()
	if best == nil || best.ClaimedPeak != 500 {
		t.Fatalf("RankedPeer() = %+v, want claimed peak 500", best)
	}
}

func TestAdvancePeakDetectsReorg(t *testing.T) {
	m := newTestManager()
	events := m.Events()

	hashA := chain.Sha256([]byte("a"))
	hashB := chain.Sha256([]byte("b"))

	m.AdvancePeak(100, hashA, nil)
	<-events // peak_advanced

	m.AdvancePeak(100, hashB, &hashA)

	evt := <-events
	if evt.Kind != FleetReorgDetected {
		t.Fatalf("Kind = %v, want FleetReorgDetected", evt.Kind)
	}
}

func TestAdvancePeakNoReorgWhenHashMatches(t *testing.T) {
	m := newTestManager()
	events := m.Events()

	hashA := chain.Sha256([]byte("a"))
	m.AdvancePeak(100, hashA, &hashA)

	evt := <-events
	if evt.Kind != FleetPeakAdvanced {
		t.Fatalf("Kind = %v, want FleetPeakAdvanced", evt.Kind)
	}
}
