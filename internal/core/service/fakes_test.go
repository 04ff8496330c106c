package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type fakeConn struct {
	name string

	mu         sync.Mutex
	local      *domain.SessionDescription
	remote     *domain.SessionDescription
	remoteSets int
	added      []domain.IceCandidate
	closed     bool
	failRemote error
	gather     []domain.IceCandidate

	onCand  func(*domain.IceCandidate)
	onTrack func(domain.RemoteTrack)
	onState func(domain.ConnectionState)
}

func newFakeConn(name string, gather int) *fakeConn {
	c := &fakeConn{name: name}
	for i := 0; i < gather; i++ {
		c.gather = append(c.gather, domain.IceCandidate{
			Candidate: fmt.Sprintf("candidate:%s-%d 1 udp 2122260223 10.0.0.1 %d typ host", name, i, 5000+i),
			SDPMid:    "0",
		})
	}
	return c
}

func (c *fakeConn) CreateOffer() (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 offer " + c.name}, nil
}

func (c *fakeConn) CreateAnswer() (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return domain.SessionDescription{}, domain.ErrInvalidState
	}
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0 answer " + c.name}, nil
}

// SetLocalDescription emits the configured candidates followed by the end
// of gathering, like a real engine would after some delay.
func (c *fakeConn) SetLocalDescription(desc domain.SessionDescription) error {
	c.mu.Lock()
	c.local = &desc
	onCand := c.onCand
	gather := c.gather
	c.mu.Unlock()

	if onCand != nil {
		for i := range gather {
			cand := gather[i]
			onCand(&cand)
		}
		onCand(nil)
	}
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc domain.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote != nil {
		return domain.ErrInvalidState
	}
	if c.failRemote != nil {
		return c.failRemote
	}
	c.remoteSets++
	c.remote = &desc
	return nil
}

func (c *fakeConn) AddICECandidate(cand domain.IceCandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return domain.ErrInvalidState
	}
	c.added = append(c.added, cand)
	return nil
}

func (c *fakeConn) OnICECandidate(fn func(*domain.IceCandidate)) {
	c.mu.Lock()
	c.onCand = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnTrack(fn func(domain.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) emitState(st domain.ConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	fn(st)
}

func (c *fakeConn) emitTrack(t domain.RemoteTrack) {
	c.mu.Lock()
	fn := c.onTrack
	c.mu.Unlock()
	fn(t)
}

func (c *fakeConn) Added() []domain.IceCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.IceCandidate(nil), c.added...)
}

func (c *fakeConn) RemoteSets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSets
}

func (c *fakeConn) Remote() *domain.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeFactory struct {
	name   string
	gather int

	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (f *fakeFactory) NewConnection(port.LocalMedia) (port.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := newFakeConn(fmt.Sprintf("%s%d", f.name, len(f.conns)), f.gather)
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) Last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) At(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

type fakeMedia struct {
	mu    sync.Mutex
	stops int
}

func (m *fakeMedia) Stop() error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

type fakeSource struct {
	media *fakeMedia
	err   error
}

func (s *fakeSource) Acquire(context.Context) (port.LocalMedia, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.media, nil
}

type fakeSink struct {
	mu       sync.Mutex
	tracks   []domain.RemoteTrack
	releases int
}

func (s *fakeSink) Attach(t domain.RemoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

func (s *fakeSink) Release() {
	s.mu.Lock()
	s.releases++
	s.mu.Unlock()
}

func (s *fakeSink) Tracks() []domain.RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RemoteTrack(nil), s.tracks...)
}

func (s *fakeSink) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

type recObserver struct {
	mu     sync.Mutex
	phases []domain.Phase
	bad    []bool
}

func (o *recObserver) PhaseChanged(p domain.Phase) {
	o.mu.Lock()
	o.phases = append(o.phases, p)
	o.mu.Unlock()
}

func (o *recObserver) BadInput(active bool) {
	o.mu.Lock()
	o.bad = append(o.bad, active)
	o.mu.Unlock()
}

func (o *recObserver) Phases() []domain.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Phase(nil), o.phases...)
}

func (o *recObserver) Bad() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]bool(nil), o.bad...)
}

type harness struct {
	svc   *CallService
	conns *fakeFactory
	media *fakeMedia
	src   *fakeSource
	sink  *fakeSink
	obs   *recObserver
}

func newHarness(t *testing.T, name string, ch port.SignalingChannel, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		conns: &fakeFactory{name: name, gather: 2},
		media: &fakeMedia{},
		sink:  &fakeSink{},
		obs:   &recObserver{},
	}
	h.src = &fakeSource{media: h.media}
	opts = append([]Option{WithObserver(h.obs)}, opts...)
	h.svc = NewCallService(ch, h.conns, h.src, h.sink, opts...)
	go h.svc.Run()
	t.Cleanup(func() {
		h.svc.Stop()
		<-h.svc.Done()
	})
	return h
}

// echoChannel delivers every record change twice.
type echoChannel struct {
	port.SignalingChannel
}

func (c echoChannel) SubscribeRecord(ctx context.Context, id domain.CallID, onChange func(domain.CallRecord)) (port.Subscription, error) {
	return c.SignalingChannel.SubscribeRecord(ctx, id, func(rec domain.CallRecord) {
		onChange(rec)
		onChange(rec)
	})
}

// stallChannel never finishes creating a record.
type stallChannel struct {
	port.SignalingChannel
}

func (stallChannel) CreateRecord(ctx context.Context) (domain.CallID, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
