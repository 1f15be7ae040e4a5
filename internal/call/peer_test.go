package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/signaling"
	apperrors "careconnect-backend/pkg/errors"
)

const (
	waitTimeout = 3 * time.Second
	waitTick    = 20 * time.Millisecond
)

// trackingMedia counts acquisitions and releases around a StaticSource so
// tests can assert nothing leaks.
type trackingMedia struct {
	StaticSource

	mu       sync.Mutex
	acquired int
	released int
}

func (m *trackingMedia) Acquire(videoEnabled bool) ([]webrtc.TrackLocal, func(), error) {
	tracks, release, err := m.StaticSource.Acquire(videoEnabled)
	if err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	m.acquired++
	m.mu.Unlock()
	return tracks, func() {
		m.mu.Lock()
		m.released++
		m.mu.Unlock()
		release()
	}, nil
}

func (m *trackingMedia) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.released
}

// failingMedia refuses to open any device.
type failingMedia struct {
	StaticSource
}

func (m *failingMedia) Acquire(videoEnabled bool) ([]webrtc.TrackLocal, func(), error) {
	return nil, nil, errors.New("camera unavailable")
}

func newActiveSession(caller, callee uuid.UUID, callType domain.CallType) *domain.CallSession {
	now := time.Now().UTC()
	return &domain.CallSession{
		ID:        uuid.New(),
		CallerID:  caller,
		CalleeID:  callee,
		CallType:  callType,
		Status:    domain.CallStatusActive,
		StartedAt: &now,
		CreatedAt: now,
	}
}

func newPeerForTest(t *testing.T, feed *signaling.Memory, session *domain.CallSession, selfID uuid.UUID, initiator bool, cfg PeerConfig) *Peer {
	t.Helper()
	cfg.Session = session
	cfg.SelfID = selfID
	cfg.Initiator = initiator
	cfg.Channel = feed
	if cfg.Media == nil {
		cfg.Media = NewStaticSource()
	}
	peer, err := NewPeer(cfg)
	require.NoError(t, err)
	return peer
}

func countSignals(feed *signaling.Memory, sessionID, toUserID uuid.UUID, signalType domain.SignalType) int {
	pending, err := feed.FetchPending(context.Background(), sessionID, toUserID)
	if err != nil {
		return -1
	}
	n := 0
	for _, signal := range pending {
		if signal.SignalType == signalType {
			n++
		}
	}
	return n
}

func remoteDescriptionSet(p *Peer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pc != nil && p.pc.RemoteDescription() != nil
}

// offerSignal builds a realistic offer addressed to `to` without starting
// a full peer for the sending side.
func offerSignal(t *testing.T, session *domain.CallSession, from, to uuid.UUID) *domain.CallSignal {
	t.Helper()

	source := NewStaticSource()
	pc, err := source.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()
	tracks, _, err := source.Acquire(true)
	require.NoError(t, err)
	for _, track := range tracks {
		_, err = pc.AddTrack(track)
		require.NoError(t, err)
	}
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	payload, err := json.Marshal(offer)
	require.NoError(t, err)

	return &domain.CallSignal{
		ID:            domain.NewSignalID(),
		CallSessionID: session.ID,
		FromUserID:    from,
		ToUserID:      to,
		SignalType:    domain.SignalTypeOffer,
		SignalData:    payload,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestPeerNegotiation_OfferAnswer(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVideo)

	callee := newPeerForTest(t, feed, session, calleeID, false, PeerConfig{})
	caller := newPeerForTest(t, feed, session, callerID, true, PeerConfig{})
	ctx := context.Background()

	// Execute: the callee wires up first, then the caller offers.
	require.NoError(t, callee.Start(ctx, true))
	require.NoError(t, caller.Start(ctx, true))

	// Assert: exactly one offer and one answer cross the channel and both
	// sides hold the remote description.
	require.Eventually(t, func() bool {
		return remoteDescriptionSet(caller) && remoteDescriptionSet(callee)
	}, waitTimeout, waitTick, "negotiation did not complete")

	assert.Equal(t, 1, countSignals(feed, session.ID, calleeID, domain.SignalTypeOffer))
	assert.Equal(t, 1, countSignals(feed, session.ID, callerID, domain.SignalTypeAnswer))

	caller.End(ctx)
	callee.End(ctx)
}

func TestPeerCatchUp_ReceiverStartsLate(t *testing.T) {
	// Setup: the caller starts and offers while the callee has no
	// subscription at all.
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVideo)

	caller := newPeerForTest(t, feed, session, callerID, true, PeerConfig{})
	ctx := context.Background()
	require.NoError(t, caller.Start(ctx, true))
	require.Equal(t, 1, countSignals(feed, session.ID, calleeID, domain.SignalTypeOffer))

	// Execute: the callee starts afterwards and must recover the offer
	// through the pending fetch.
	callee := newPeerForTest(t, feed, session, calleeID, false, PeerConfig{})
	require.NoError(t, callee.Start(ctx, true))

	// Assert
	require.Eventually(t, func() bool {
		return remoteDescriptionSet(caller) && remoteDescriptionSet(callee)
	}, waitTimeout, waitTick, "late receiver never negotiated")
	assert.Equal(t, 1, countSignals(feed, session.ID, callerID, domain.SignalTypeAnswer))

	caller.End(ctx)
	callee.End(ctx)
}

func TestPeerHandleSignal_DuplicateDeliveryAppliesOnce(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVideo)

	callee := newPeerForTest(t, feed, session, calleeID, false, PeerConfig{})
	ctx := context.Background()
	require.NoError(t, callee.Start(ctx, true))

	signal := offerSignal(t, session, callerID, calleeID)

	// Execute: the same signal id is delivered twice, as the live feed and
	// the catch-up fetch may both hand it over.
	require.NoError(t, callee.HandleSignal(ctx, signal))
	require.NoError(t, callee.HandleSignal(ctx, signal))

	// Assert: one answer, not two.
	require.Eventually(t, func() bool {
		return countSignals(feed, session.ID, callerID, domain.SignalTypeAnswer) > 0
	}, waitTimeout, waitTick, "no answer sent")
	assert.Equal(t, 1, countSignals(feed, session.ID, callerID, domain.SignalTypeAnswer))

	callee.End(ctx)
}

func TestPeerHandleSignal_SelfEchoNeverApplied(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVideo)

	caller := newPeerForTest(t, feed, session, callerID, true, PeerConfig{})
	ctx := context.Background()
	require.NoError(t, caller.Start(ctx, true))

	// Execute: an answer stamped with the local user as sender comes back
	// around, carrying a payload that would fail to apply.
	echo := &domain.CallSignal{
		ID:            domain.NewSignalID(),
		CallSessionID: session.ID,
		FromUserID:    callerID,
		ToUserID:      calleeID,
		SignalType:    domain.SignalTypeAnswer,
		SignalData:    json.RawMessage(`{"type":"answer","sdp":"garbage"}`),
		CreatedAt:     time.Now().UTC(),
	}
	err := caller.HandleSignal(ctx, echo)

	// Assert
	require.NoError(t, err)
	assert.False(t, remoteDescriptionSet(caller))

	caller.End(ctx)
}

func TestPeerHandleSignal_InitiatorDropsRacingOffer(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVideo)

	caller := newPeerForTest(t, feed, session, callerID, true, PeerConfig{})
	ctx := context.Background()
	require.NoError(t, caller.Start(ctx, true))

	// Execute: an offer arrives at the side that already offered.
	offer := offerSignal(t, session, calleeID, callerID)
	err := caller.HandleSignal(ctx, offer)

	// Assert: dropped without answering, so the exchange cannot deadlock
	// into two open offers.
	require.NoError(t, err)
	assert.False(t, remoteDescriptionSet(caller))
	assert.Equal(t, 0, countSignals(feed, session.ID, calleeID, domain.SignalTypeAnswer))

	caller.End(ctx)
}

func TestPeerHandleSignal_EmptyCandidateSkipped(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVoice)

	callee := newPeerForTest(t, feed, session, calleeID, false, PeerConfig{})
	ctx := context.Background()
	require.NoError(t, callee.Start(ctx, false))

	// Execute: candidates with nothing in them, in every shape the store
	// can hand back.
	for _, payload := range []json.RawMessage{nil, json.RawMessage("null"), json.RawMessage("{}"), json.RawMessage(`""`)} {
		signal := &domain.CallSignal{
			ID:            domain.NewSignalID(),
			CallSessionID: session.ID,
			FromUserID:    callerID,
			ToUserID:      calleeID,
			SignalType:    domain.SignalTypeICECandidate,
			SignalData:    payload,
			CreatedAt:     time.Now().UTC(),
		}
		require.NoError(t, callee.HandleSignal(ctx, signal))
	}

	// Assert
	assert.Equal(t, 0, callee.CandidatesApplied())

	callee.End(ctx)
}

func TestPeerHandleSignal_MalformedPayloadDoesNotAbort(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVideo)

	callee := newPeerForTest(t, feed, session, calleeID, false, PeerConfig{})
	ctx := context.Background()
	require.NoError(t, callee.Start(ctx, true))

	// Execute
	bad := &domain.CallSignal{
		ID:            domain.NewSignalID(),
		CallSessionID: session.ID,
		FromUserID:    callerID,
		ToUserID:      calleeID,
		SignalType:    domain.SignalTypeOffer,
		SignalData:    json.RawMessage(`{broken`),
		CreatedAt:     time.Now().UTC(),
	}
	err := callee.HandleSignal(ctx, bad)

	// Assert: the error is typed so callers log it, and the call stays up.
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSignalApplication))
	assert.NotEqual(t, webrtc.PeerConnectionStateClosed.String(), callee.ConnectionState())

	// A well-formed offer afterwards still negotiates.
	good := offerSignal(t, session, callerID, calleeID)
	require.NoError(t, callee.HandleSignal(ctx, good))
	assert.True(t, remoteDescriptionSet(callee))

	callee.End(ctx)
}

func TestPeerStart_MediaFailureAbortsBeforeSignaling(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVideo)

	caller := newPeerForTest(t, feed, session, callerID, true, PeerConfig{Media: &failingMedia{}})

	// Execute
	err := caller.Start(context.Background(), true)

	// Assert: typed for the UI, and nothing was written to the channel.
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMediaAcquisition))
	pending, fetchErr := feed.FetchPending(context.Background(), session.ID, calleeID)
	require.NoError(t, fetchErr)
	assert.Empty(t, pending)
}

func TestPeerEnd_ReleasesEverythingFromAnyState(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVideo)

	media := &trackingMedia{}
	caller := newPeerForTest(t, feed, session, callerID, true, PeerConfig{Media: media})
	ctx := context.Background()
	require.NoError(t, caller.Start(ctx, true))

	// Execute: twice, because every exit path may race another.
	caller.End(ctx)
	caller.End(ctx)

	// Assert
	acquired, released := media.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released)
	assert.Equal(t, webrtc.PeerConnectionStateClosed.String(), caller.ConnectionState())
	assert.Equal(t, 1, countSignals(feed, session.ID, calleeID, domain.SignalTypeHangup))

	// A peer that never started tears down just as cleanly.
	idle := newPeerForTest(t, feed, session, callerID, true, PeerConfig{Media: &trackingMedia{}})
	idle.End(ctx)
	assert.Equal(t, webrtc.PeerConnectionStateClosed.String(), idle.ConnectionState())
}

func TestPeerEnd_RemoteHangupTearsDownWithoutReply(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVideo)

	endedCh := make(chan struct{}, 1)
	callee := newPeerForTest(t, feed, session, calleeID, false, PeerConfig{
		OnCallEnded: func() { endedCh <- struct{}{} },
	})
	caller := newPeerForTest(t, feed, session, callerID, true, PeerConfig{})
	ctx := context.Background()
	require.NoError(t, callee.Start(ctx, true))
	require.NoError(t, caller.Start(ctx, true))

	// Execute
	caller.End(ctx)

	// Assert: the callee observes the hangup, tears down, and does not
	// hang up back.
	select {
	case <-endedCh:
	case <-time.After(waitTimeout):
		t.Fatal("callee never observed the hangup")
	}
	require.Eventually(t, func() bool {
		return callee.ConnectionState() == webrtc.PeerConnectionStateClosed.String()
	}, waitTimeout, waitTick, "callee connection not closed")
	assert.Equal(t, 1, countSignals(feed, session.ID, calleeID, domain.SignalTypeHangup))
	assert.Equal(t, 0, countSignals(feed, session.ID, callerID, domain.SignalTypeHangup))
}

func TestPeerToggle_SwapsTracksWithoutRenegotiation(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVideo)

	caller := newPeerForTest(t, feed, session, callerID, true, PeerConfig{})
	ctx := context.Background()
	require.NoError(t, caller.Start(ctx, true))
	offersBefore := countSignals(feed, session.ID, calleeID, domain.SignalTypeOffer)

	// Execute / Assert
	require.NoError(t, caller.ToggleVideo(false))
	require.NoError(t, caller.ToggleAudio(false))
	require.NoError(t, caller.ToggleVideo(true))
	require.NoError(t, caller.ToggleAudio(true))
	assert.Equal(t, offersBefore, countSignals(feed, session.ID, calleeID, domain.SignalTypeOffer))

	caller.End(ctx)
}

func TestPeerToggle_VoiceCallHasNoVideoTrack(t *testing.T) {
	// Setup
	feed := signaling.NewMemory()
	callerID := uuid.New()
	calleeID := uuid.New()
	session := newActiveSession(callerID, calleeID, domain.CallTypeVoice)

	caller := newPeerForTest(t, feed, session, callerID, true, PeerConfig{})
	ctx := context.Background()
	require.NoError(t, caller.Start(ctx, false))

	// Execute
	err := caller.ToggleVideo(true)

	// Assert
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallState))
	require.NoError(t, caller.ToggleAudio(false))

	caller.End(ctx)
}

func TestNewPeer_RejectsNonParticipant(t *testing.T) {
	// Setup
	session := newActiveSession(uuid.New(), uuid.New(), domain.CallTypeVideo)

	// Execute
	_, err := NewPeer(PeerConfig{
		Session: session,
		SelfID:  uuid.New(),
		Channel: signaling.NewMemory(),
		Media:   NewStaticSource(),
	})

	// Assert
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallState))
}
