package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MediaSource abstracts local media capture and peer connection
// construction so the call engine can run against real devices on a care
// station or against static tracks in tests and headless deployments.
type MediaSource interface {
	// NewPeerConnection builds a connection whose media engine matches the
	// tracks Acquire produces. Sources that encode in process must register
	// their codecs before the connection exists, which is why construction
	// lives here rather than on the peer.
	NewPeerConnection(config webrtc.Configuration) (*webrtc.PeerConnection, error)

	// Acquire opens the local tracks for one call. Audio is always
	// requested; video only when videoEnabled. The release func stops
	// every track and must be called exactly once when the call ends.
	Acquire(videoEnabled bool) ([]webrtc.TrackLocal, func(), error)
}

// StaticSource serves pre-built static RTP tracks instead of opening
// camera or microphone hardware. Negotiation runs exactly as it would with
// device capture, so tests and signaling-only deployments use this.
type StaticSource struct{}

func NewStaticSource() *StaticSource {
	return &StaticSource{}
}

func (s *StaticSource) NewPeerConnection(config webrtc.Configuration) (*webrtc.PeerConnection, error) {
	return webrtc.NewPeerConnection(config)
}

func (s *StaticSource) Acquire(videoEnabled bool) ([]webrtc.TrackLocal, func(), error) {
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "careconnect",
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	tracks := []webrtc.TrackLocal{audio}

	if videoEnabled {
		video, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "careconnect",
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create video track: %w", err)
		}
		tracks = append(tracks, video)
	}

	return tracks, func() {}, nil
}
