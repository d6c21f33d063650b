package media

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// opusSilence is a minimal valid Opus frame (DTX-style comfort noise off).
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource produces silent Opus audio and placeholder VP8 video from
// in-process sample tracks. It exists so sessions can be exercised end to end
// without camera or microphone hardware.
type SyntheticSource struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled map[webrtc.RTPCodecType]bool

	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

var _ Source = (*SyntheticSource)(nil)

// NewSyntheticSource builds the source and starts its sample loops.
func NewSyntheticSource() (*SyntheticSource, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "duocall-synthetic",
	)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "duocall-synthetic",
	)
	if err != nil {
		return nil, err
	}

	s := &SyntheticSource{
		audio: audio,
		video: video,
		enabled: map[webrtc.RTPCodecType]bool{
			webrtc.RTPCodecTypeAudio: true,
			webrtc.RTPCodecTypeVideo: true,
		},
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}

	go s.sampleLoop(s.audio, webrtc.RTPCodecTypeAudio, audioFrameInterval, opusSilence)
	go s.sampleLoop(s.video, webrtc.RTPCodecTypeVideo, videoFrameInterval, make([]byte, 16))
	close(s.ready)

	return s, nil
}

// Ready reports track availability; synthetic tracks are ready at birth.
func (s *SyntheticSource) Ready() <-chan struct{} {
	return s.ready
}

// Tracks returns the audio and video tracks.
func (s *SyntheticSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio, s.video}
}

// SetEnabled mutes or unmutes one kind and returns the resulting state.
// Muting stops sample production; the track itself stays attached.
func (s *SyntheticSource) SetEnabled(kind webrtc.RTPCodecType, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enabled[kind]; !ok {
		return false
	}
	s.enabled[kind] = enabled
	return enabled
}

// Enabled reports whether the kind is currently producing samples.
func (s *SyntheticSource) Enabled(kind webrtc.RTPCodecType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[kind]
}

// Close stops the sample loops. Idempotent.
func (s *SyntheticSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *SyntheticSource) sampleLoop(track *webrtc.TrackLocalStaticSample, kind webrtc.RTPCodecType, interval time.Duration, payload []byte) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.Enabled(kind) {
				continue
			}
			// Write errors mean no bound sender yet; samples are disposable.
			_ = track.WriteSample(media.Sample{Data: payload, Duration: interval})
		case <-s.done:
			return
		}
	}
}
