//go:build linux

package call

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"careconnect-backend/pkg/logger"
)

// DeviceSource captures the station's camera and microphone through V4L2
// and ALSA, encoding VP8 and Opus in process.
type DeviceSource struct {
	selector *mediadevices.CodecSelector
}

// NewDeviceSource configures the VP8/Opus encoder pair used for every call
// placed from this station.
func NewDeviceSource() (MediaSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to init VP8 encoder: %w", err)
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to init Opus encoder: %w", err)
	}

	return &DeviceSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *DeviceSource) NewPeerConnection(config webrtc.Configuration) (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	d.selector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	// The default 5s disconnect window is too short for relay paths that
	// blip during re-keying or failover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return api.NewPeerConnection(config)
}

// Acquire opens the microphone and, for video calls, the camera. A video
// call falls back to audio-only when the camera cannot be opened; when
// even audio fails the call cannot proceed and the error is returned.
func (d *DeviceSource) Acquire(videoEnabled bool) ([]webrtc.TrackLocal, func(), error) {
	attempts := []bool{false}
	if videoEnabled {
		attempts = []bool{true, false}
	}

	var lastErr error
	for _, withVideo := range attempts {
		constraints := mediadevices.MediaStreamConstraints{
			Codec: d.selector,
			Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		}
		if withVideo {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Some cameras expose an MJPEG node that emits malformed
				// frames and poisons the VP8 encoder. Raw formats only.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				// Cap resolution to keep VP8 encoding latency down.
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			lastErr = err
			if withVideo {
				logger.Warn("camera capture failed, retrying audio-only", zap.Error(err))
			}
			continue
		}

		tracks := stream.GetTracks()
		locals := make([]webrtc.TrackLocal, 0, len(tracks))
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					logger.Warn("local media track ended", zap.Error(err))
				}
			})
			locals = append(locals, track)
		}
		release := func() {
			for _, track := range tracks {
				track.Close()
			}
		}
		return locals, release, nil
	}

	return nil, nil, fmt.Errorf("failed to open media devices: %w", lastErr)
}
