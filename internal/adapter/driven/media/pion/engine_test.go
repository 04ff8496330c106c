package pion

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/core/domain"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ICEServers = nil
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func acquire(t *testing.T, kinds ...domain.MediaKind) *Media {
	t.Helper()
	m, err := NewSource(kinds...).Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop() })
	return m.(*Media)
}

func TestOfferAnswerExchange(t *testing.T) {
	e := newEngine(t)

	caller, err := e.NewConnection(acquire(t, domain.MediaAudio, domain.MediaVideo))
	require.NoError(t, err)
	defer caller.Close()
	callee, err := e.NewConnection(acquire(t, domain.MediaAudio))
	require.NoError(t, err)
	defer callee.Close()

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
	require.NoError(t, caller.SetLocalDescription(offer))

	require.NoError(t, callee.SetRemoteDescription(offer))
	answer, err := callee.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeAnswer, answer.Type)
	require.NoError(t, callee.SetLocalDescription(answer))

	require.NoError(t, caller.SetRemoteDescription(answer))

	err = caller.SetRemoteDescription(answer)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAddCandidateNeedsRemoteDescription(t *testing.T) {
	e := newEngine(t)
	c, err := e.NewConnection(nil)
	require.NoError(t, err)
	defer c.Close()

	err = c.AddICECandidate(domain.IceCandidate{Candidate: "candidate:1 1 udp 2122260223 127.0.0.1 5000 typ host"})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestReceiveOnlyConnectionOffersBothKinds(t *testing.T) {
	e := newEngine(t)
	c, err := e.NewConnection(nil)
	require.NoError(t, err)
	defer c.Close()

	offer, err := c.CreateOffer()
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "a=recvonly")
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newEngine(t)
	c, err := e.NewConnection(nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestRejectsUnknownDescriptionType(t *testing.T) {
	_, err := fromDomainDescription(domain.SessionDescription{Type: "bogus", SDP: "v=0"})
	require.ErrorIs(t, err, domain.ErrRemoteDescription)
}

func TestCandidateMapping(t *testing.T) {
	c := domain.IceCandidate{
		Candidate:        "candidate:1 1 udp 2122260223 10.0.0.1 5000 typ host",
		SDPMid:           "1",
		SDPMLineIndex:    1,
		UsernameFragment: "abcd",
	}
	init := toCandidateInit(c)
	require.NotNil(t, init.SDPMid)
	assert.Equal(t, "1", *init.SDPMid)
	assert.Equal(t, c, fromCandidateInit(init))

	bare := fromCandidateInit(webrtc.ICECandidateInit{Candidate: "candidate:2"})
	assert.Equal(t, domain.IceCandidate{Candidate: "candidate:2"}, bare)
}

func TestStateMapping(t *testing.T) {
	tests := map[webrtc.PeerConnectionState]domain.ConnectionState{
		webrtc.PeerConnectionStateNew:          domain.ConnectionNew,
		webrtc.PeerConnectionStateConnecting:   domain.ConnectionConnecting,
		webrtc.PeerConnectionStateConnected:    domain.ConnectionConnected,
		webrtc.PeerConnectionStateDisconnected: domain.ConnectionDisconnected,
		webrtc.PeerConnectionStateFailed:       domain.ConnectionFailed,
		webrtc.PeerConnectionStateClosed:       domain.ConnectionClosed,
	}
	for in, want := range tests {
		assert.Equal(t, want, toDomainState(in), in.String())
	}
}

func TestSourceWithoutKindsIsDenied(t *testing.T) {
	_, err := NewSource().Acquire(context.Background())
	require.ErrorIs(t, err, domain.ErrMediaDenied)
}

func TestMediaStopIsIdempotent(t *testing.T) {
	m := acquire(t, domain.MediaAudio, domain.MediaVideo)
	assert.Equal(t, []domain.MediaKind{domain.MediaAudio, domain.MediaVideo}, m.Kinds())
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}

func TestLogSink(t *testing.T) {
	s := &LogSink{}
	s.Attach(domain.RemoteTrack{ID: "a", StreamID: "s", Kind: domain.MediaAudio})
	assert.Len(t, s.Tracks(), 1)
	s.Release()
	s.Release()
	assert.Empty(t, s.Tracks())
}

func TestLoggerFactoryBridgesLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	l := NewLoggerFactory(logger).NewLogger("ice")

	l.Tracef("hidden %d", 1)
	l.Debug("hidden")
	l.Infof("pair %s", "selected")
	l.Warn("slow")
	l.Errorf("failed %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"scope":"ice"`)
	assert.Contains(t, out, "pair selected")
	assert.Contains(t, out, "slow")
	assert.Contains(t, out, "failed 2")
	assert.Equal(t, 3, strings.Count(out, "\n"))
}
