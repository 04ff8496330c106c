// Package pion implements the connection capability and local media on top
// of pion/webrtc.
package pion

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

var DefaultICEServers = []string{
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

type Config struct {
	ICEServers        []string
	CandidatePoolSize uint8
	DisconnectedAfter time.Duration
	FailedAfter       time.Duration
	KeepAliveInterval time.Duration
	KeyframeInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers:        DefaultICEServers,
		CandidatePoolSize: 10,
		DisconnectedAfter: 30 * time.Second,
		FailedAfter:       120 * time.Second,
		KeepAliveInterval: 2 * time.Second,
		KeyframeInterval:  3 * time.Second,
	}
}

// Engine builds peer connections that share one media and interceptor setup.
type Engine struct {
	api      *webrtc.API
	config   webrtc.Configuration
	keyframe time.Duration
}

func NewEngine(cfg Config) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, errors.Wrap(err, "register interceptors")
	}

	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(log.Logger)}
	se.SetICETimeouts(cfg.DisconnectedAfter, cfg.FailedAfter, cfg.KeepAliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	config := webrtc.Configuration{ICECandidatePoolSize: cfg.CandidatePoolSize}
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	keyframe := cfg.KeyframeInterval
	if keyframe <= 0 {
		keyframe = 3 * time.Second
	}
	return &Engine{api: api, config: config, keyframe: keyframe}, nil
}

// NewConnection sends every track of media and receives both kinds. Media
// that did not come from a Source is treated as receive only.
func (e *Engine) NewConnection(media port.LocalMedia) (port.Connection, error) {
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, errors.Wrap(err, "new peer connection")
	}
	c := newConnection(pc, e.keyframe)

	sending := map[domain.MediaKind]bool{}
	if m, ok := media.(*Media); ok && m != nil {
		for _, t := range m.tracks {
			sender, err := pc.AddTrack(t.track)
			if err != nil {
				_ = pc.Close()
				return nil, errors.Wrapf(err, "add %s track", t.kind)
			}
			sending[t.kind] = true
			go drainRTCP(sender)
		}
	}

	for _, kind := range []domain.MediaKind{domain.MediaAudio, domain.MediaVideo} {
		if sending[kind] {
			continue
		}
		if _, err := pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, errors.Wrapf(err, "add %s transceiver", kind)
		}
	}
	return c, nil
}

// drainRTCP reads incoming RTCP so interceptors see it.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.MediaVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}
