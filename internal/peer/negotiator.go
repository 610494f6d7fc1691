package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// ChatChannel is the label of the data channel opened by the offering side.
const ChatChannel = "confera"

var (
	ErrUnknownPeer    = errors.New("no pending negotiation for peer")
	ErrInvalidSignal  = errors.New("signal is not a session description")
	ErrUnexpectedType = errors.New("unexpected session description type")
)

// StateFunc observes connection state changes per peer.
type StateFunc func(peerID string, state pion.PeerConnectionState)

// Negotiator owns one peer connection per remote participant and
// produces the offer/answer signals the relay forwards. Candidates are
// gathered before a description is returned, so one signal per side is
// enough.
type Negotiator struct {
	log     *slog.Logger
	config  pion.Configuration
	onState StateFunc

	mu    sync.Mutex
	conns map[string]*pion.PeerConnection
}

func NewNegotiator(log *slog.Logger, stunServers []string, onState StateFunc) *Negotiator {
	var iceServers []pion.ICEServer
	if len(stunServers) > 0 {
		iceServers = []pion.ICEServer{{URLs: stunServers}}
	}
	return &Negotiator{
		log:     log,
		config:  pion.Configuration{ICEServers: iceServers},
		onState: onState,
		conns:   make(map[string]*pion.PeerConnection),
	}
}

func (n *Negotiator) newPeerConnection(peerID string) (*pion.PeerConnection, error) {
	pc, err := pion.NewPeerConnection(n.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		n.log.Debug("Peer connection state changed", "peer", peerID, "state", state.String())
		if n.onState != nil {
			n.onState(peerID, state)
		}
	})

	n.mu.Lock()
	if old, ok := n.conns[peerID]; ok {
		old.Close()
	}
	n.conns[peerID] = pc
	n.mu.Unlock()
	return pc, nil
}

// Offer starts a negotiation with peerID and returns the offer signal.
func (n *Negotiator) Offer(ctx context.Context, peerID string) (*pion.SessionDescription, error) {
	pc, err := n.newPeerConnection(peerID)
	if err != nil {
		return nil, err
	}

	ordered := true
	if _, err := pc.CreateDataChannel(ChatChannel, &pion.DataChannelInit{Ordered: &ordered}); err != nil {
		n.Remove(peerID)
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		n.Remove(peerID)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	return n.setLocal(ctx, peerID, pc, offer)
}

// Answer accepts an offer from peerID and returns the answer signal.
func (n *Negotiator) Answer(ctx context.Context, peerID string, offer pion.SessionDescription) (*pion.SessionDescription, error) {
	if offer.Type != pion.SDPTypeOffer {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedType, offer.Type)
	}
	pc, err := n.newPeerConnection(peerID)
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		n.Remove(peerID)
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		n.Remove(peerID)
		return nil, fmt.Errorf("create answer: %w", err)
	}
	return n.setLocal(ctx, peerID, pc, answer)
}

func (n *Negotiator) setLocal(ctx context.Context, peerID string, pc *pion.PeerConnection, desc pion.SessionDescription) (*pion.SessionDescription, error) {
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		n.Remove(peerID)
		return nil, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		n.Remove(peerID)
		return nil, ctx.Err()
	}
	return pc.LocalDescription(), nil
}

// Accept applies the answer peerID returned for our offer.
func (n *Negotiator) Accept(peerID string, answer pion.SessionDescription) error {
	if answer.Type != pion.SDPTypeAnswer {
		return fmt.Errorf("%w: %s", ErrUnexpectedType, answer.Type)
	}
	n.mu.Lock()
	pc, ok := n.conns[peerID]
	n.mu.Unlock()
	if !ok {
		return ErrUnknownPeer
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// SignalingState reports the negotiation state for peerID.
func (n *Negotiator) SignalingState(peerID string) (pion.SignalingState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	pc, ok := n.conns[peerID]
	if !ok {
		return pion.SignalingStateUnknown, false
	}
	return pc.SignalingState(), true
}

// Remove closes the connection to peerID, if any.
func (n *Negotiator) Remove(peerID string) {
	n.mu.Lock()
	pc, ok := n.conns[peerID]
	delete(n.conns, peerID)
	n.mu.Unlock()
	if ok {
		pc.Close()
	}
}

func (n *Negotiator) Close() {
	n.mu.Lock()
	conns := n.conns
	n.conns = make(map[string]*pion.PeerConnection)
	n.mu.Unlock()
	for _, pc := range conns {
		pc.Close()
	}
}

// Signal is the relayed form of a session description. The type is a
// string so the same shape survives both wire codecs.
type Signal struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func EncodeSignal(desc *pion.SessionDescription) Signal {
	return Signal{Type: desc.Type.String(), SDP: desc.SDP}
}

// DecodeSignal converts a relayed signal (a decoded JSON or msgpack map)
// into a session description.
func DecodeSignal(signal any) (pion.SessionDescription, error) {
	data, err := json.Marshal(signal)
	if err != nil {
		return pion.SessionDescription{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil || sig.SDP == "" {
		return pion.SessionDescription{}, ErrInvalidSignal
	}
	desc := pion.SessionDescription{Type: pion.NewSDPType(sig.Type), SDP: sig.SDP}
	if desc.Type == pion.SDPTypeUnknown {
		return desc, fmt.Errorf("%w: type %q", ErrInvalidSignal, sig.Type)
	}
	return desc, nil
}
