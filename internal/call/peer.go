package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/signaling"
	"careconnect-backend/pkg/constants"
	apperrors "careconnect-backend/pkg/errors"
	"careconnect-backend/pkg/logger"
	"careconnect-backend/pkg/metrics"
)

const defaultSTUNURL = "stun:stun.l.google.com:19302"

// PeerConfig carries the collaborators for one call's peer connection.
type PeerConfig struct {
	Session   *domain.CallSession
	SelfID    uuid.UUID
	Initiator bool

	Channel signaling.Channel
	Media   MediaSource

	// ICEServers defaults to a public STUN server when empty.
	ICEServers []webrtc.ICEServer

	// OnRemoteTrack fires for every inbound track. The peer drains the
	// track's RTP itself; the callback is a notification hook and must not
	// read from the track.
	OnRemoteTrack func(*webrtc.TrackRemote)
	// OnConnectionState fires on every underlying state change.
	OnConnectionState func(webrtc.PeerConnectionState)
	// OnCallEnded fires at most once, on remote hangup, terminal
	// connection state, or End.
	OnCallEnded func()
}

// Peer owns exactly one peer connection and one local media acquisition
// for the lifetime of a call. Signals travel through the call's signal
// channel; the channel is at-least-once, so every applied signal id is
// recorded and redeliveries are ignored.
type Peer struct {
	session    *domain.CallSession
	selfID     uuid.UUID
	remoteID   uuid.UUID
	initiator  bool
	channel    signaling.Channel
	media      MediaSource
	iceServers []webrtc.ICEServer

	onRemoteTrack     func(*webrtc.TrackRemote)
	onConnectionState func(webrtc.PeerConnectionState)
	onCallEnded       func()

	mu                sync.Mutex
	pc                *webrtc.PeerConnection
	release           func()
	tracks            []webrtc.TrackLocal
	senders           []*webrtc.RTPSender
	sub               signaling.Subscription
	seen              map[string]struct{}
	connecting        bool
	candidatesApplied int
	started           bool
	closed            bool
	endedFired        bool
}

// NewPeer wires a peer connection manager for one call session. No media
// is acquired and nothing is sent until Start.
func NewPeer(cfg PeerConfig) (*Peer, error) {
	if cfg.Session == nil {
		return nil, apperrors.ValidationError("call session is required")
	}
	if cfg.Channel == nil || cfg.Media == nil {
		return nil, apperrors.ValidationError("signal channel and media source are required")
	}
	remoteID, ok := cfg.Session.OtherParty(cfg.SelfID)
	if !ok {
		return nil, apperrors.CallStateError("user is not a participant in this call")
	}

	iceServers := cfg.ICEServers
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{defaultSTUNURL}}}
	}

	return &Peer{
		session:           cfg.Session,
		selfID:            cfg.SelfID,
		remoteID:          remoteID,
		initiator:         cfg.Initiator,
		channel:           cfg.Channel,
		media:             cfg.Media,
		iceServers:        iceServers,
		onRemoteTrack:     cfg.OnRemoteTrack,
		onConnectionState: cfg.OnConnectionState,
		onCallEnded:       cfg.OnCallEnded,
		seen:              make(map[string]struct{}),
		connecting:        true,
	}, nil
}

// Start acquires local media, builds the connection and begins
// negotiation. The initiator sends the offer; the receiver catches up on
// signals written before its subscription existed and answers. A media
// failure is returned before any signal activity so the call can be
// aborted.
func (p *Peer) Start(ctx context.Context, videoEnabled bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apperrors.CallStateError("call already ended")
	}
	if p.started {
		p.mu.Unlock()
		return apperrors.CallStateError("call already started")
	}
	p.started = true
	p.mu.Unlock()

	tracks, release, err := p.media.Acquire(videoEnabled)
	if err != nil {
		return apperrors.MediaAcquisitionError(err)
	}

	pc, err := p.media.NewPeerConnection(webrtc.Configuration{ICEServers: p.iceServers})
	if err != nil {
		release()
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	senders := make([]*webrtc.RTPSender, 0, len(tracks))
	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			release()
			_ = pc.Close()
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		senders = append(senders, sender)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		p.sendCandidate(c.ToJSON())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.handleRemoteTrack(track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.handleConnectionState(state)
	})

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		release()
		_ = pc.Close()
		return apperrors.CallStateError("call already ended")
	}
	p.pc = pc
	p.release = release
	p.tracks = tracks
	p.senders = senders
	p.mu.Unlock()

	sub, err := p.channel.Subscribe(ctx, p.session.ID, func(signal *domain.CallSignal) {
		if err := p.HandleSignal(context.Background(), signal); err != nil {
			logger.Warn("failed to apply call signal",
				zap.String("session_id", p.session.ID.String()),
				zap.String("signal_type", string(signal.SignalType)),
				zap.Error(err))
		}
	})
	if err != nil {
		p.shutdown()
		return apperrors.TransportError("subscribe signals", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = sub.Close()
		return apperrors.CallStateError("call already ended")
	}
	p.sub = sub
	p.mu.Unlock()

	if p.initiator {
		return p.sendOffer(ctx, pc)
	}

	// The initiator's offer and first candidates may have been written
	// before this subscription existed.
	pending, err := p.channel.FetchPending(ctx, p.session.ID, p.selfID)
	if err != nil {
		logger.Warn("failed to fetch pending signals",
			zap.String("session_id", p.session.ID.String()),
			zap.Error(err))
		return nil
	}
	for _, signal := range pending {
		if err := p.HandleSignal(ctx, signal); err != nil {
			logger.Warn("failed to apply pending signal",
				zap.String("session_id", p.session.ID.String()),
				zap.String("signal_type", string(signal.SignalType)),
				zap.Error(err))
		}
	}
	return nil
}

// HandleSignal applies one inbound signal. Signals this side already
// applied and signals echoed back from this side are ignored. Application
// failures are returned for the caller to log; they never abort the call.
func (p *Peer) HandleSignal(ctx context.Context, signal *domain.CallSignal) error {
	if signal == nil {
		return nil
	}
	if signal.FromUserID == p.selfID {
		metrics.SignalSelfEchoDroppedTotal.Inc()
		return nil
	}
	if signal.CallSessionID != p.session.ID {
		return nil
	}

	p.mu.Lock()
	if p.closed || p.pc == nil {
		p.mu.Unlock()
		return nil
	}
	if _, dup := p.seen[signal.ID]; dup {
		p.mu.Unlock()
		metrics.SignalDuplicateDroppedTotal.Inc()
		return nil
	}
	p.seen[signal.ID] = struct{}{}
	pc := p.pc
	p.mu.Unlock()

	switch signal.SignalType {
	case domain.SignalTypeOffer:
		return p.applyOffer(ctx, pc, signal)
	case domain.SignalTypeAnswer:
		return p.applyAnswer(pc, signal)
	case domain.SignalTypeICECandidate:
		return p.applyCandidate(pc, signal)
	case domain.SignalTypeHangup:
		p.shutdown()
		p.fireEnded()
		return nil
	default:
		logger.Warn("ignoring unknown signal type",
			zap.String("session_id", p.session.ID.String()),
			zap.String("signal_type", string(signal.SignalType)))
		return nil
	}
}

func (p *Peer) applyOffer(ctx context.Context, pc *webrtc.PeerConnection, signal *domain.CallSignal) error {
	if p.initiator {
		// Only the callee answers. A racing offer from the remote side is
		// dropped rather than answered, so negotiation cannot deadlock.
		metrics.SignalRacingOfferDroppedTotal.Inc()
		return nil
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(signal.SignalData, &offer); err != nil {
		return apperrors.SignalApplicationError(err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return apperrors.SignalApplicationError(err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return apperrors.SignalApplicationError(err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return apperrors.SignalApplicationError(err)
	}

	payload, err := json.Marshal(answer)
	if err != nil {
		return apperrors.SignalApplicationError(err)
	}
	if err := p.send(ctx, domain.SignalTypeAnswer, payload); err != nil {
		return apperrors.TransportError("send answer", err)
	}
	return nil
}

func (p *Peer) applyAnswer(pc *webrtc.PeerConnection, signal *domain.CallSignal) error {
	if !p.initiator {
		return nil
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(signal.SignalData, &answer); err != nil {
		return apperrors.SignalApplicationError(err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return apperrors.SignalApplicationError(err)
	}
	return nil
}

func (p *Peer) applyCandidate(pc *webrtc.PeerConnection, signal *domain.CallSignal) error {
	// End-of-candidates markers arrive with an empty payload and carry
	// nothing to add.
	if signal.EmptyPayload() {
		return nil
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(signal.SignalData, &candidate); err != nil {
		return apperrors.SignalApplicationError(err)
	}
	if candidate.Candidate == "" {
		return nil
	}
	if err := pc.AddICECandidate(candidate); err != nil {
		metrics.SignalStaleCandidateDroppedTotal.Inc()
		return apperrors.SignalApplicationError(err)
	}

	p.mu.Lock()
	p.candidatesApplied++
	p.mu.Unlock()
	return nil
}

func (p *Peer) sendOffer(ctx context.Context, pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	payload, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("failed to encode offer: %w", err)
	}
	if err := p.send(ctx, domain.SignalTypeOffer, payload); err != nil {
		return apperrors.TransportError("send offer", err)
	}
	return nil
}

func (p *Peer) sendCandidate(candidate webrtc.ICECandidateInit) {
	if candidate.Candidate == "" {
		return
	}

	payload, err := json.Marshal(candidate)
	if err != nil {
		logger.Warn("failed to encode ICE candidate", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancel()
	if err := p.send(ctx, domain.SignalTypeICECandidate, payload); err != nil {
		logger.Warn("failed to send ICE candidate",
			zap.String("session_id", p.session.ID.String()),
			zap.Error(err))
	}
}

func (p *Peer) send(ctx context.Context, signalType domain.SignalType, payload json.RawMessage) error {
	return p.channel.Send(ctx, &domain.CallSignal{
		ID:            domain.NewSignalID(),
		CallSessionID: p.session.ID,
		FromUserID:    p.selfID,
		ToUserID:      p.remoteID,
		SignalType:    signalType,
		SignalData:    payload,
		CreatedAt:     time.Now().UTC(),
	})
}

func (p *Peer) handleRemoteTrack(track *webrtc.TrackRemote) {
	p.mu.Lock()
	p.connecting = false
	pc := p.pc
	p.mu.Unlock()

	logger.Info("remote track received",
		zap.String("session_id", p.session.ID.String()),
		zap.String("kind", track.Kind().String()))

	if p.onRemoteTrack != nil {
		p.onRemoteTrack(track)
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go p.requestKeyframes(pc, uint32(track.SSRC()))
	}
	go p.drainTrack(track)
}

// drainTrack keeps inbound RTP flowing and counts sequence gaps; rendering
// is the station UI's concern.
func (p *Peer) drainTrack(track *webrtc.TrackRemote) {
	var prev *rtp.Packet
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if prev != nil {
			if gap := pkt.SequenceNumber - prev.SequenceNumber; gap > 1 && gap < 1<<15 {
				metrics.CallInboundPacketGapTotal.Add(float64(gap - 1))
			}
		}
		prev = pkt
	}
}

// requestKeyframes asks the remote encoder for periodic refresh points so
// the station is never stuck on a stale frame after loss.
func (p *Peer) requestKeyframes(pc *webrtc.PeerConnection, ssrc uint32) {
	ticker := time.NewTicker(constants.KeyframeRequestInterval)
	defer ticker.Stop()
	for range ticker.C {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}
		if err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
			return
		}
		metrics.CallKeyframeRequestTotal.Inc()
	}
}

func (p *Peer) handleConnectionState(state webrtc.PeerConnectionState) {
	logger.Debug("call connection state changed",
		zap.String("session_id", p.session.ID.String()),
		zap.String("state", state.String()))

	if p.onConnectionState != nil {
		p.onConnectionState(state)
	}

	switch state {
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			// The remote side went away without a hangup signal.
			p.shutdown()
		}
		p.fireEnded()
	}
}

// End releases the call: it sends a hangup to the remote party, stops
// every local track, closes the connection and fires OnCallEnded. Safe to
// call from any state and more than once.
func (p *Peer) End(ctx context.Context) {
	p.mu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	p.mu.Unlock()

	if !alreadyClosed {
		if err := p.send(ctx, domain.SignalTypeHangup, nil); err != nil {
			logger.Warn("failed to send hangup",
				zap.String("session_id", p.session.ID.String()),
				zap.Error(err))
		}
	}

	p.shutdown()
	p.fireEnded()
}

// shutdown releases the subscription, connection and media. Idempotent;
// every exit path funnels through here so nothing leaks.
func (p *Peer) shutdown() {
	p.mu.Lock()
	sub, pc, release := p.sub, p.pc, p.release
	p.sub, p.pc, p.release = nil, nil, nil
	p.tracks = nil
	p.senders = nil
	p.closed = true
	p.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			logger.Warn("failed to close signal subscription", zap.Error(err))
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			logger.Warn("failed to close peer connection", zap.Error(err))
		}
	}
	if release != nil {
		release()
	}
}

func (p *Peer) fireEnded() {
	p.mu.Lock()
	fired := p.endedFired
	p.endedFired = true
	p.mu.Unlock()

	if !fired && p.onCallEnded != nil {
		p.onCallEnded()
	}
}

// ToggleVideo attaches or detaches the local video track without
// renegotiation. Voice calls have no video sender to toggle.
func (p *Peer) ToggleVideo(enabled bool) error {
	return p.toggleTrack(webrtc.RTPCodecTypeVideo, enabled)
}

// ToggleAudio mutes or unmutes the local audio track without
// renegotiation.
func (p *Peer) ToggleAudio(enabled bool) error {
	return p.toggleTrack(webrtc.RTPCodecTypeAudio, enabled)
}

func (p *Peer) toggleTrack(kind webrtc.RTPCodecType, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.pc == nil {
		return apperrors.CallStateError("no active call")
	}
	for i, sender := range p.senders {
		track := p.tracks[i]
		if track.Kind() != kind {
			continue
		}
		var next webrtc.TrackLocal
		if enabled {
			next = track
		}
		if err := sender.ReplaceTrack(next); err != nil {
			return fmt.Errorf("failed to toggle %s track: %w", kind, err)
		}
		return nil
	}
	return apperrors.CallStateError(fmt.Sprintf("call has no %s track", kind))
}

// ConnectionState reports the underlying connection state, or closed once
// the call has been torn down.
func (p *Peer) ConnectionState() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pc == nil {
		return webrtc.PeerConnectionStateClosed.String()
	}
	return p.pc.ConnectionState().String()
}

// Connecting reports whether the call is still waiting for its first
// remote track.
func (p *Peer) Connecting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connecting
}

// CandidatesApplied reports how many remote ICE candidates the connection
// accepted.
func (p *Peer) CandidatesApplied() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.candidatesApplied
}
