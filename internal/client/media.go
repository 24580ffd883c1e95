package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrMediaAccess means local capture is unavailable. The join attempt halts;
// there is no retry.
var ErrMediaAccess = errors.New("media access denied")

// MediaSource supplies the local tracks attached to every peer connection.
// Acquisition may suspend (device prompt, container probe), hence the ctx.
type MediaSource interface {
	Tracks(ctx context.Context) ([]webrtc.TrackLocal, error)
	Close() error
}

// SampleMedia is a MediaSource backed by static sample tracks. Headless
// participants use it; Pump keeps the tracks fed with synthetic samples.
type SampleMedia struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample
}

// NewSampleMedia builds one opus audio and one vp8 video track under a
// shared stream id.
func NewSampleMedia() (*SampleMedia, error) {
	streamID := uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}
	return &SampleMedia{audio: audio, video: video}, nil
}

func (m *SampleMedia) Tracks(ctx context.Context) ([]webrtc.TrackLocal, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return []webrtc.TrackLocal{m.audio, m.video}, nil
}

// opusSilence is one 20ms silent opus frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Pump writes synthetic samples until ctx is cancelled: 20ms opus silence on
// the audio track and a small placeholder frame at ~30fps on the video track.
// Writes before any peer connection binds the tracks are no-ops.
func (m *SampleMedia) Pump(ctx context.Context) {
	audioTick := time.NewTicker(20 * time.Millisecond)
	videoTick := time.NewTicker(33 * time.Millisecond)
	defer audioTick.Stop()
	defer videoTick.Stop()

	videoFrame := make([]byte, 160)
	for {
		select {
		case <-ctx.Done():
			return
		case <-audioTick.C:
			_ = m.audio.WriteSample(media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond})
		case <-videoTick.C:
			_ = m.video.WriteSample(media.Sample{Data: videoFrame, Duration: 33 * time.Millisecond})
		}
	}
}

func (m *SampleMedia) Close() error { return nil }
