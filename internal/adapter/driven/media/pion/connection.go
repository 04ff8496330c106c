package pion

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Connection adapts one webrtc.PeerConnection.
type Connection struct {
	pc       *webrtc.PeerConnection
	keyframe time.Duration

	mu        sync.Mutex
	remoteSet bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newConnection(pc *webrtc.PeerConnection, keyframe time.Duration) *Connection {
	return &Connection{pc: pc, keyframe: keyframe, done: make(chan struct{})}
}

func (c *Connection) CreateOffer() (domain.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, errors.Wrap(err, "create offer")
	}
	return toDomainDescription(offer), nil
}

func (c *Connection) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, errors.Wrap(err, "create answer")
	}
	return toDomainDescription(answer), nil
}

func (c *Connection) SetLocalDescription(desc domain.SessionDescription) error {
	sd, err := fromDomainDescription(desc)
	if err != nil {
		return err
	}
	return errors.Wrap(c.pc.SetLocalDescription(sd), "set local description")
}

// SetRemoteDescription accepts exactly one description per connection.
func (c *Connection) SetRemoteDescription(desc domain.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteSet {
		return errors.Wrap(domain.ErrInvalidState, "remote description already set")
	}
	sd, err := fromDomainDescription(desc)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return errors.Wrap(err, "set remote description")
	}
	c.remoteSet = true
	return nil
}

func (c *Connection) AddICECandidate(cand domain.IceCandidate) error {
	c.mu.Lock()
	remoteSet := c.remoteSet
	c.mu.Unlock()
	if !remoteSet {
		return errors.Wrap(domain.ErrInvalidState, "no remote description")
	}
	return errors.Wrap(c.pc.AddICECandidate(toCandidateInit(cand)), "add ice candidate")
}

func (c *Connection) OnICECandidate(fn func(*domain.IceCandidate)) {
	c.pc.OnICECandidate(func(ic *webrtc.ICECandidate) {
		if ic == nil {
			fn(nil)
			return
		}
		cand := fromCandidateInit(ic.ToJSON())
		fn(&cand)
	})
}

// OnTrack reports remote tracks. The connection keeps reading them so the
// receive pipeline never stalls, and asks for keyframes on video.
func (c *Connection) OnTrack(fn func(domain.RemoteTrack)) {
	c.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := domain.MediaAudio
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.MediaVideo
			go c.requestKeyframes(remote)
		}
		go c.drain(remote)

		log.Debug().Str("kind", string(kind)).Str("track_id", remote.ID()).Msg("Received remote track")
		fn(domain.RemoteTrack{ID: remote.ID(), StreamID: remote.StreamID(), Kind: kind})
	})
}

func (c *Connection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(toDomainState(s))
	})
}

func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.pc.Close()
	})
	return c.closeErr
}

func (c *Connection) drain(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	var packets, bytes int
	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			log.Debug().Str("track_id", remote.ID()).Int("packets", packets).Int("bytes", bytes).Msg("Remote track ended")
			return
		}
		packets++
		bytes += n
	}
}

// requestKeyframes sends a PLI right away and then on every tick until the
// connection closes.
func (c *Connection) requestKeyframes(remote *webrtc.TrackRemote) {
	sendPLI := func() {
		if err := c.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
		}); err != nil {
			log.Trace().Err(err).Msg("PLI not sent")
		}
	}
	sendPLI()

	ticker := time.NewTicker(c.keyframe)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			sendPLI()
		}
	}
}

func toDomainDescription(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(sd.Type.String()), SDP: sd.SDP}
}

func fromDomainDescription(d domain.SessionDescription) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(string(d.Type))
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, errors.Wrapf(domain.ErrRemoteDescription, "unknown sdp type %q", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func toCandidateInit(c domain.IceCandidate) webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	mid := c.SDPMid
	index := c.SDPMLineIndex
	init.SDPMid = &mid
	init.SDPMLineIndex = &index
	if c.UsernameFragment != "" {
		ufrag := c.UsernameFragment
		init.UsernameFragment = &ufrag
	}
	return init
}

func fromCandidateInit(init webrtc.ICECandidateInit) domain.IceCandidate {
	c := domain.IceCandidate{Candidate: init.Candidate}
	if init.SDPMid != nil {
		c.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		c.SDPMLineIndex = *init.SDPMLineIndex
	}
	if init.UsernameFragment != nil {
		c.UsernameFragment = *init.UsernameFragment
	}
	return c
}

func toDomainState(s webrtc.PeerConnectionState) domain.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return domain.ConnectionClosed
	default:
		return domain.ConnectionNew
	}
}
