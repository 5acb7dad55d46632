package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/tphan267/arqut-relay/pkg/logger"
	"github.com/tphan267/arqut-relay/pkg/signaling"
)

// ErrNotOpen is returned by Send before the data channel opens.
var ErrNotOpen = errors.New("peer: data channel not open")

// Signaler carries session descriptions and candidates to the remote side.
// *signaling.Client satisfies it.
type Signaler interface {
	SendSessionDescription(desc webrtc.SessionDescription) error
	SendICECandidate(candidate webrtc.ICECandidateInit) error
}

// Peer is one end of a WebRTC data channel negotiated over a relay.
type Peer struct {
	opts   Options
	signal Signaler
	pc     *webrtc.PeerConnection
	logger *logger.Logger

	mutex             sync.Mutex
	dataChannel       *webrtc.DataChannel
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit
	connState         webrtc.PeerConnectionState

	opened    chan struct{}
	openOnce  sync.Once
	messages  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a peer connection and wires its callbacks. Nothing is sent
// until Start.
func New(signal Signaler, opts Options, log *logger.Logger) (*Peer, error) {
	pc, err := createPeerConnection(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &Peer{
		opts:     opts,
		signal:   signal,
		pc:       pc,
		logger:   log,
		opened:   make(chan struct{}),
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	p.setupHandlers()
	return p, nil
}

func (p *Peer) setupHandlers() {
	pc := p.pc

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.logger.Info("ICE state: %s", s)
		if s == webrtc.ICEConnectionStateFailed {
			p.logger.Warn("direct connection failed, TURN is used if configured")
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info("connection state: %s", state)

		p.mutex.Lock()
		p.connState = state
		p.mutex.Unlock()

		switch state {
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed:
			p.markDone()
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := p.signal.SendICECandidate(candidate.ToJSON()); err != nil {
			p.logger.Warn("failed to send ICE candidate: %v", err)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.logger.Info("received data channel %q", dc.Label())
		if dc.Label() != p.opts.label() {
			return
		}
		p.attach(dc)
	})
}

func (p *Peer) attach(dc *webrtc.DataChannel) {
	p.mutex.Lock()
	p.dataChannel = dc
	p.mutex.Unlock()

	dc.OnError(func(err error) {
		p.logger.Warn("data channel error: %v", err)
	})

	dc.OnOpen(func() {
		p.logger.Info("data channel %q opened", dc.Label())
		p.openOnce.Do(func() { close(p.opened) })
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case p.messages <- msg.Data:
		case <-p.done:
		default:
			p.logger.Warn("message buffer full, dropping %d bytes", len(msg.Data))
		}
	})

	dc.OnClose(func() {
		p.logger.Info("data channel %q closed", dc.Label())
		p.markDone()
	})
}

// Start begins negotiation. The offerer creates the data channel and sends
// an offer; the answerer waits for one.
func (p *Peer) Start() error {
	if p.opts.Role != RoleOfferer {
		return nil
	}

	dc, err := p.pc.CreateDataChannel(p.opts.label(), nil)
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	p.attach(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return p.signal.SendSessionDescription(offer)
}

// HandleSignal applies one envelope received from the relay.
func (p *Peer) HandleSignal(sig signaling.Signal) error {
	switch {
	case sig.Description != nil:
		return p.handleDescription(*sig.Description)
	case sig.Candidate != nil:
		return p.handleCandidate(*sig.Candidate)
	default:
		return nil
	}
}

func (p *Peer) handleDescription(desc webrtc.SessionDescription) error {
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if p.opts.Role == RoleOfferer {
			p.logger.Warn("ignoring offer, this peer is the offerer")
			return nil
		}
	case webrtc.SDPTypeAnswer:
		if p.opts.Role != RoleOfferer {
			p.logger.Warn("ignoring answer, this peer is the answerer")
			return nil
		}
	default:
		return nil
	}

	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	if err := p.flushCandidates(); err != nil {
		return err
	}

	if desc.Type != webrtc.SDPTypeOffer {
		return nil
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return p.signal.SendSessionDescription(answer)
}

// handleCandidate queues candidates that arrive before the remote description.
func (p *Peer) handleCandidate(candidate webrtc.ICECandidateInit) error {
	p.mutex.Lock()
	if !p.remoteSet {
		p.pendingCandidates = append(p.pendingCandidates, candidate)
		p.mutex.Unlock()
		return nil
	}
	p.mutex.Unlock()

	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (p *Peer) flushCandidates() error {
	p.mutex.Lock()
	p.remoteSet = true
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	p.mutex.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("failed to add ICE candidate: %w", err)
		}
	}
	return nil
}

// Run applies signals until ctx ends, the channel closes or the peer closes.
func (p *Peer) Run(ctx context.Context, signals <-chan signaling.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if err := p.HandleSignal(sig); err != nil {
				p.logger.Warn("signal from %s: %v", sig.SessionID, err)
			}
		}
	}
}

// Opened is closed once the data channel is open.
func (p *Peer) Opened() <-chan struct{} { return p.opened }

// Messages delivers data channel payloads.
func (p *Peer) Messages() <-chan []byte { return p.messages }

// Done is closed when the connection fails or the data channel closes.
func (p *Peer) Done() <-chan struct{} { return p.done }

// ConnectionState returns the last reported peer connection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.connState
}

// SendText sends a text message on the data channel.
func (p *Peer) SendText(s string) error {
	p.mutex.Lock()
	dc := p.dataChannel
	p.mutex.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotOpen
	}
	return dc.SendText(s)
}

func (p *Peer) markDone() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Close tears down the peer connection.
func (p *Peer) Close() error {
	p.markDone()
	return p.pc.Close()
}
