package peer

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/relay"
	"github.com/tphan267/arqut-relay/pkg/signaling"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, "TEST", logger.DebugLevel)
}

type recordingSignaler struct {
	mu         sync.Mutex
	sdps       []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
}

func (r *recordingSignaler) SendSessionDescription(desc webrtc.SessionDescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sdps = append(r.sdps, desc)
	return nil
}

func (r *recordingSignaler) SendICECandidate(c webrtc.ICECandidateInit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, c)
	return nil
}

func TestICEServers(t *testing.T) {
	servers := iceServers(Options{})
	if len(servers) != 1 || servers[0].URLs[0] != DefaultSTUN[0] {
		t.Errorf("Expected default STUN server, got %+v", servers)
	}

	servers = iceServers(Options{
		STUNURLs: []string{"stun:example.org:3478"},
		Turn:     &TurnCredentials{Username: "u", Password: "p", URLs: []string{"turn:example.org:3478"}},
	})
	if len(servers) != 2 {
		t.Fatalf("Expected STUN and TURN servers, got %d", len(servers))
	}
	if servers[1].Username != "u" || servers[1].Credential != "p" {
		t.Errorf("Expected TURN credentials to be set, got %+v", servers[1])
	}

	if servers := iceServers(Options{NoSTUN: true}); len(servers) != 0 {
		t.Errorf("Expected no ICE servers, got %+v", servers)
	}
}

func TestOffererSendsOffer(t *testing.T) {
	sig := &recordingSignaler{}
	p, err := New(sig, Options{Role: RoleOfferer, NoSTUN: true}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create peer: %v", err)
	}
	defer p.Close()

	if err := p.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.sdps) != 1 || sig.sdps[0].Type != webrtc.SDPTypeOffer {
		t.Fatalf("Expected one offer, got %+v", sig.sdps)
	}
}

func TestAnswererQueuesEarlyCandidates(t *testing.T) {
	sig := &recordingSignaler{}
	p, err := New(sig, Options{Role: RoleAnswerer, NoSTUN: true}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create peer: %v", err)
	}
	defer p.Close()

	mid := "0"
	early := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host", SDPMid: &mid}
	if err := p.HandleSignal(signaling.Signal{SessionID: "remote", Candidate: &early}); err != nil {
		t.Fatalf("Expected early candidate to be queued, got %v", err)
	}

	p.mutex.Lock()
	queued := len(p.pendingCandidates)
	p.mutex.Unlock()
	if queued != 1 {
		t.Errorf("Expected 1 queued candidate, got %d", queued)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Expected answerer Start to be a no-op, got %v", err)
	}
	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.sdps) != 0 {
		t.Errorf("Expected answerer to wait for an offer, got %+v", sig.sdps)
	}
}

func TestSendBeforeOpen(t *testing.T) {
	p, err := New(&recordingSignaler{}, Options{NoSTUN: true}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create peer: %v", err)
	}
	defer p.Close()

	if err := p.SendText("hi"); err != ErrNotOpen {
		t.Errorf("Expected ErrNotOpen, got %v", err)
	}
}

func TestDataChannelOverRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC end-to-end test in short mode")
	}

	srv := relay.NewServer(relay.Options{}, testLogger())
	ts := httptest.NewServer(srv)
	defer func() {
		srv.Close()
		ts.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	newSide := func(role Role) (*Peer, *signaling.Client) {
		client := signaling.NewClient(ts.URL, testLogger())
		if err := client.Connect(ctx); err != nil {
			t.Fatalf("Failed to connect %s: %v", role, err)
		}
		p, err := New(client, Options{Role: role, NoSTUN: true, IncludeLoopback: true}, testLogger())
		if err != nil {
			t.Fatalf("Failed to create %s: %v", role, err)
		}
		go p.Run(ctx, client.Signals())
		return p, client
	}

	answerer, ac := newSide(RoleAnswerer)
	defer ac.Close()
	defer answerer.Close()
	offerer, oc := newSide(RoleOfferer)
	defer oc.Close()
	defer offerer.Close()

	// both clients must be on the relay before the offer goes out
	deadline := time.Now().Add(2 * time.Second)
	for srv.ConnectionCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if err := offerer.Start(); err != nil {
		t.Fatalf("Failed to start offerer: %v", err)
	}

	for _, p := range []*Peer{offerer, answerer} {
		select {
		case <-p.Opened():
		case <-ctx.Done():
			t.Fatal("Timed out waiting for data channel to open")
		}
	}

	if err := offerer.SendText("hello"); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	select {
	case msg := <-answerer.Messages():
		if string(msg) != "hello" {
			t.Errorf("Expected 'hello', got %q", msg)
		}
	case <-ctx.Done():
		t.Fatal("Timed out waiting for message")
	}
}
