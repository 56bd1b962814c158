package mock

import (
	"testing"

	"aqmesh/internal/domain"
	"aqmesh/internal/transport"
)

func TestSendBroadcastReachesEveryOtherPeer(t *testing.T) {
	fabric := NewFabric(domain.RSS(-80))

	var receivedB, receivedC []byte
	a, err := fabric.Open(domain.NodeID(1), transport.ChannelBroadcast, transport.Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = fabric.Open(domain.NodeID(2), transport.ChannelBroadcast, transport.Callbacks{
		OnRecv: func(from domain.NodeID, rss domain.RSS, buf []byte) { receivedB = buf },
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = fabric.Open(domain.NodeID(3), transport.ChannelBroadcast, transport.Callbacks{
		OnRecv: func(from domain.NodeID, rss domain.RSS, buf []byte) { receivedC = buf },
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := a.SendBroadcast([]byte("hello")); err != nil {
		t.Fatalf("SendBroadcast error = %v", err)
	}
	if string(receivedB) != "hello" {
		t.Errorf("peer 2 received %q, want %q", receivedB, "hello")
	}
	if string(receivedC) != "hello" {
		t.Errorf("peer 3 received %q, want %q", receivedC, "hello")
	}
}

func TestSendBroadcastDoesNotLoopback(t *testing.T) {
	fabric := NewFabric(domain.RSS(-80))
	selfReceived := false
	a, _ := fabric.Open(domain.NodeID(1), transport.ChannelBroadcast, transport.Callbacks{
		OnRecv: func(from domain.NodeID, rss domain.RSS, buf []byte) { selfReceived = true },
	})
	a.SendBroadcast([]byte("ping"))
	if selfReceived {
		t.Fatal("sender received its own broadcast")
	}
}

func TestSetRSSIsDirectional(t *testing.T) {
	fabric := NewFabric(domain.RSS(-80))
	var gotRSS domain.RSS

	fabric.SetRSS(domain.NodeID(1), domain.NodeID(2), domain.RSS(-40))
	a, _ := fabric.Open(domain.NodeID(1), transport.ChannelUnicast, transport.Callbacks{})
	_, _ = fabric.Open(domain.NodeID(2), transport.ChannelUnicast, transport.Callbacks{
		OnRecv: func(from domain.NodeID, rss domain.RSS, buf []byte) { gotRSS = rss },
	})

	if err := a.SendUnicast(domain.NodeID(2), []byte("x"), 4); err != nil {
		t.Fatal(err)
	}
	if gotRSS != domain.RSS(-40) {
		t.Errorf("rss at receiver = %d, want -40 (the 1->2 link)", gotRSS)
	}

	// the reverse link (2->1) was never set, so it falls back to defaultRSS.
	var reverseRSS domain.RSS
	b, _ := fabric.Open(domain.NodeID(2), transport.ChannelBroadcast, transport.Callbacks{})
	_, _ = fabric.Open(domain.NodeID(1), transport.ChannelBroadcast, transport.Callbacks{
		OnRecv: func(from domain.NodeID, rss domain.RSS, buf []byte) { reverseRSS = rss },
	})
	b.SendBroadcast([]byte("y"))
	if reverseRSS != domain.RSS(-80) {
		t.Errorf("rss on unset reverse link = %d, want default -80", reverseRSS)
	}
}

func TestSendUnicastDeliversAndAcks(t *testing.T) {
	fabric := NewFabric(domain.RSS(-80))
	var acked domain.NodeID
	var received []byte

	a, _ := fabric.Open(domain.NodeID(1), transport.ChannelUnicast, transport.Callbacks{
		OnSent: func(to domain.NodeID, retransmits int) { acked = to },
	})
	_, _ = fabric.Open(domain.NodeID(2), transport.ChannelUnicast, transport.Callbacks{
		OnRecv: func(from domain.NodeID, rss domain.RSS, buf []byte) { received = buf },
	})

	if err := a.SendUnicast(domain.NodeID(2), []byte("payload"), 4); err != nil {
		t.Fatal(err)
	}
	if string(received) != "payload" {
		t.Errorf("received %q, want payload", received)
	}
	if acked != domain.NodeID(2) {
		t.Errorf("OnSent target = %v, want 2", acked)
	}
}

func TestSendUnicastUnreachableTimesOut(t *testing.T) {
	fabric := NewFabric(domain.RSS(-80))
	timedOut := false

	a, _ := fabric.Open(domain.NodeID(1), transport.ChannelUnicast, transport.Callbacks{
		OnTimeout: func(to domain.NodeID, retransmits int) { timedOut = true },
	})
	_, _ = fabric.Open(domain.NodeID(2), transport.ChannelUnicast, transport.Callbacks{})

	fabric.SetUnreachable(domain.NodeID(1), domain.NodeID(2))
	if err := a.SendUnicast(domain.NodeID(2), []byte("lost"), 4); err != nil {
		t.Fatal(err)
	}
	if !timedOut {
		t.Fatal("OnTimeout was not invoked for an unreachable link")
	}

	fabric.SetReachable(domain.NodeID(1), domain.NodeID(2))
	timedOut = false
	if err := a.SendUnicast(domain.NodeID(2), []byte("ok"), 4); err != nil {
		t.Fatal(err)
	}
	if timedOut {
		t.Fatal("OnTimeout fired after the link was marked reachable again")
	}
}

func TestSendUnicastUnknownPeerTimesOut(t *testing.T) {
	fabric := NewFabric(domain.RSS(-80))
	timedOut := false
	a, _ := fabric.Open(domain.NodeID(1), transport.ChannelUnicast, transport.Callbacks{
		OnTimeout: func(to domain.NodeID, retransmits int) { timedOut = true },
	})
	if err := a.SendUnicast(domain.NodeID(42), []byte("x"), 4); err != nil {
		t.Fatal(err)
	}
	if !timedOut {
		t.Fatal("OnTimeout was not invoked for a peer that was never opened")
	}
}

func TestSendAfterCloseReturnsErrClosed(t *testing.T) {
	fabric := NewFabric(domain.RSS(-80))
	a, _ := fabric.Open(domain.NodeID(1), transport.ChannelBroadcast, transport.Callbacks{})
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.SendBroadcast([]byte("x")); err != transport.ErrClosed {
		t.Errorf("SendBroadcast after Close = %v, want ErrClosed", err)
	}
}
