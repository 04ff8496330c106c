package pion

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// Source hands out sample tracks of the configured kinds. Audio tracks carry
// silence; video tracks stay empty until something writes to them.
type Source struct {
	kinds []domain.MediaKind
}

func NewSource(kinds ...domain.MediaKind) *Source {
	return &Source{kinds: kinds}
}

// Acquire fails with domain.ErrMediaDenied when no kind is enabled.
func (s *Source) Acquire(ctx context.Context) (port.LocalMedia, error) {
	if len(s.kinds) == 0 {
		return nil, errors.Wrap(domain.ErrMediaDenied, "no media kinds enabled")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "yacall-" + uuid.NewString()
	m := &Media{done: make(chan struct{})}
	for _, kind := range s.kinds {
		capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		if kind == domain.MediaVideo {
			capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		}
		track, err := webrtc.NewTrackLocalStaticSample(capability, string(kind), streamID)
		if err != nil {
			return nil, errors.Wrapf(err, "new %s track", kind)
		}
		m.tracks = append(m.tracks, localTrack{kind: kind, track: track})
		if kind == domain.MediaAudio {
			m.wg.Add(1)
			go m.writeSilence(track)
		}
	}
	log.Debug().Str("stream_id", streamID).Int("tracks", len(m.tracks)).Msg("Local media acquired")
	return m, nil
}

type localTrack struct {
	kind  domain.MediaKind
	track *webrtc.TrackLocalStaticSample
}

// Media is the LocalMedia produced by Source.
type Media struct {
	tracks []localTrack

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (m *Media) Kinds() []domain.MediaKind {
	kinds := make([]domain.MediaKind, 0, len(m.tracks))
	for _, t := range m.tracks {
		kinds = append(kinds, t.kind)
	}
	return kinds
}

func (m *Media) Stop() error {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
	return nil
}

func (m *Media) writeSilence(track *webrtc.TrackLocalStaticSample) {
	defer m.wg.Done()
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Trace().Err(err).Msg("Silence frame dropped")
			}
		}
	}
}

// LogSink records remote tracks in the log. Headless clients use it in
// place of a renderer.
type LogSink struct {
	mu     sync.Mutex
	tracks []domain.RemoteTrack
}

func (s *LogSink) Attach(track domain.RemoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()
	log.Info().Str("kind", string(track.Kind)).Str("stream_id", track.StreamID).Msg("Remote track attached")
}

func (s *LogSink) Release() {
	s.mu.Lock()
	n := len(s.tracks)
	s.tracks = nil
	s.mu.Unlock()
	if n > 0 {
		log.Info().Int("tracks", n).Msg("Remote media released")
	}
}

func (s *LogSink) Tracks() []domain.RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RemoteTrack(nil), s.tracks...)
}
