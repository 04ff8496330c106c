package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/mailbox"
)

// CallService is the call lifecycle controller of one client. Every piece of
// call state is owned by the goroutine running Run. The exported methods post
// a command to it and wait for the reply, and store I/O runs on helper
// goroutines that post their result back.
type CallService struct {
	channel     port.SignalingChannel
	connections port.ConnectionFactory
	source      port.MediaSource
	sink        port.MediaSink
	observer    port.Observer

	inbox    *mailbox.Mailbox[event]
	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	phase   atomic.Int32
	badFlag atomic.Bool

	// Owned by Run.
	media     port.LocalMedia
	sess      *session
	seq       uint64
	acquiring bool
	attempt   uint64
	badInput  badInputSignal
}

type Option func(*CallService)

func WithObserver(o port.Observer) Option {
	return func(s *CallService) { s.observer = o }
}

func WithClock(c clock.Clock) Option {
	return func(s *CallService) { s.badInput.clock = c }
}

func WithBadInputInterval(d time.Duration) Option {
	return func(s *CallService) { s.badInput.interval = d }
}

func NewCallService(channel port.SignalingChannel, connections port.ConnectionFactory, source port.MediaSource, sink port.MediaSink, opts ...Option) *CallService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &CallService{
		channel:     channel,
		connections: connections,
		source:      source,
		sink:        sink,
		observer:    nopObserver{},
		inbox:       mailbox.New[event](),
		ctx:         ctx,
		cancel:      cancel,
		quit:        make(chan struct{}),
		stopped:     make(chan struct{}),
		badInput: badInputSignal{
			clock:    clock.New(),
			interval: DefaultBadInputInterval,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Phase is safe to call from any goroutine.
func (s *CallService) Phase() domain.Phase {
	return domain.Phase(s.phase.Load())
}

// BadInput reports whether the bad input signal is currently raised.
func (s *CallService) BadInput() bool {
	return s.badFlag.Load()
}

// Done is closed once Run has returned.
func (s *CallService) Done() <-chan struct{} {
	return s.stopped
}

// Stop quits any active call and makes Run return.
func (s *CallService) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// AcquireMedia moves Idle to MediaReady. It fails with domain.ErrMediaDenied
// when the user declines, leaving the client Idle.
func (s *CallService) AcquireMedia(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := s.post(acquireCmd{reply: reply}); err != nil {
		return err
	}
	err, werr := await(ctx, s, reply)
	if werr != nil {
		return werr
	}
	return err
}

// CreateCall starts a call as caller. It returns the call id once the offer
// is published and the answer is being watched.
func (s *CallService) CreateCall(ctx context.Context) (domain.CallID, error) {
	reply := make(chan callResult, 1)
	if err := s.post(createCmd{reply: reply}); err != nil {
		return "", err
	}
	res, err := await(ctx, s, reply)
	if err != nil {
		return "", err
	}
	return res.id, res.err
}

// JoinCall answers the call identified by input. Blank input raises the bad
// input signal without leaving MediaReady.
func (s *CallService) JoinCall(ctx context.Context, input string) error {
	reply := make(chan callResult, 1)
	if err := s.post(joinCmd{input: input, reply: reply}); err != nil {
		return err
	}
	res, err := await(ctx, s, reply)
	if err != nil {
		return err
	}
	return res.err
}

// QuitCall tears the call down and returns to Idle. Quitting while Idle does
// nothing. Teardown errors are logged, not returned.
func (s *CallService) QuitCall(ctx context.Context) error {
	reply := make(chan struct{}, 1)
	if err := s.post(quitCmd{reply: reply}); err != nil {
		return err
	}
	_, err := await(ctx, s, reply)
	return err
}

func (s *CallService) post(ev event) error {
	select {
	case <-s.quit:
		return domain.ErrStopped
	default:
	}
	if !s.inbox.Push(ev) {
		return domain.ErrStopped
	}
	return nil
}

func await[T any](ctx context.Context, s *CallService, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.stopped:
		return zero, domain.ErrStopped
	}
}

func (s *CallService) Run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.quit:
			log.Info().Msg("Stopping CallService")
			s.teardown()
			s.badInput.stop()
			s.inbox.Close()
			s.cancel()
			return
		case <-s.inbox.Ready():
			for _, ev := range s.inbox.Drain() {
				s.handle(ev)
			}
		}
	}
}

func (s *CallService) handle(ev event) {
	switch ev := ev.(type) {
	case acquireCmd:
		s.handleAcquire(ev)
	case createCmd:
		s.handleCreate(ev)
	case joinCmd:
		s.handleJoin(ev)
	case quitCmd:
		s.teardown()
		ev.reply <- struct{}{}
	case mediaAcquired:
		s.onMediaAcquired(ev)
	case recordCreated:
		s.onRecordCreated(ev)
	case offerPublished:
		s.onOfferPublished(ev)
	case recordFetched:
		s.onRecordFetched(ev)
	case answerPublished:
		s.onAnswerPublished(ev)
	case subscribed:
		s.onSubscribed(ev)
	case recordChanged:
		s.onRecordChanged(ev)
	case remoteCandidate:
		s.onRemoteCandidate(ev)
	case localCandidate:
		if s.live(ev.sess) {
			ev.sess.relay.local(ev.cand)
		}
	case trackReceived:
		if s.live(ev.sess) {
			s.sink.Attach(ev.track)
		}
	case connectionChanged:
		s.onConnectionChanged(ev)
	case badInputExpired:
		if s.badInput.clear(ev.gen) {
			s.badFlag.Store(false)
			s.observer.BadInput(false)
		}
	default:
		log.Warn().Type("event", ev).Msg("Unhandled event")
	}
}

func (s *CallService) live(sess *session) bool {
	return sess != nil && sess == s.sess
}

func (s *CallService) handleAcquire(cmd acquireCmd) {
	if p := s.Phase(); p != domain.PhaseIdle || s.acquiring {
		cmd.reply <- errors.Wrapf(domain.ErrWrongPhase, "acquire media while %s", p)
		return
	}
	s.acquiring = true
	s.attempt++
	attempt := s.attempt
	go func() {
		media, err := s.source.Acquire(s.ctx)
		if !s.inbox.Push(mediaAcquired{attempt: attempt, media: media, err: err, reply: cmd.reply}) && media != nil {
			_ = media.Stop()
		}
	}()
}

func (s *CallService) onMediaAcquired(ev mediaAcquired) {
	if ev.attempt != s.attempt {
		if ev.media != nil {
			if err := ev.media.Stop(); err != nil {
				log.Warn().Err(err).Msg("Failed to stop media acquired after quit")
			}
		}
		ev.reply <- domain.ErrCallQuit
		return
	}
	s.acquiring = false
	if ev.err != nil {
		log.Warn().Err(ev.err).Msg("Media acquisition failed")
		ev.reply <- ev.err
		return
	}

	s.media = ev.media
	sess, err := s.newSession()
	if err != nil {
		log.Error().Err(err).Msg("Cannot prepare connection")
		if serr := s.releaseMedia(); serr != nil {
			log.Warn().Err(serr).Msg("Failed to stop media")
		}
		ev.reply <- err
		return
	}
	s.sess = sess
	s.setPhase(domain.PhaseMediaReady)
	ev.reply <- nil
}

// newSession builds a connection around the held media and routes its
// callbacks into the inbox.
func (s *CallService) newSession() (*session, error) {
	conn, err := s.connections.NewConnection(s.media)
	if err != nil {
		return nil, errors.Wrap(err, "new connection")
	}

	s.seq++
	ctx, cancel := context.WithCancel(s.ctx)
	logger := log.With().Uint64("session", s.seq).Logger()
	sess := &session{
		seq:    s.seq,
		conn:   conn,
		neg:    newNegotiator(conn),
		relay:  newCandidateRelay(conn, s.channel, logger),
		ctx:    ctx,
		cancel: cancel,
		log:    logger,
	}

	conn.OnICECandidate(func(c *domain.IceCandidate) {
		s.inbox.Push(localCandidate{sess: sess, cand: c})
	})
	conn.OnTrack(func(t domain.RemoteTrack) {
		s.inbox.Push(trackReceived{sess: sess, track: t})
	})
	conn.OnConnectionStateChange(func(st domain.ConnectionState) {
		s.inbox.Push(connectionChanged{sess: sess, state: st})
	})
	return sess, nil
}

func (s *CallService) handleCreate(cmd createCmd) {
	if p := s.Phase(); p != domain.PhaseMediaReady {
		cmd.reply <- callResult{err: errors.Wrapf(domain.ErrWrongPhase, "create call while %s", p)}
		return
	}
	sess := s.sess
	sess.role = domain.RoleCaller
	sess.reply = cmd.reply
	s.setPhase(domain.PhaseNegotiating)

	go func() {
		id, err := s.channel.CreateRecord(sess.ctx)
		s.inbox.Push(recordCreated{sess: sess, id: id, err: err})
	}()
}

func (s *CallService) onRecordCreated(ev recordCreated) {
	sess := ev.sess
	if !s.live(sess) {
		return
	}
	if ev.err != nil {
		s.failAttempt(errors.Wrap(ev.err, "create call record"))
		return
	}

	sess.callID = ev.id
	sess.log = sess.log.With().Str("call_id", ev.id.String()).Str("role", sess.role.String()).Logger()
	sess.relay.attach(sess.ctx, ev.id, sess.role.LocalSide())

	offer, err := sess.neg.createOffer()
	if err != nil {
		s.failAttempt(err)
		return
	}
	go func() {
		err := s.channel.SetOffer(sess.ctx, ev.id, offer)
		s.inbox.Push(offerPublished{sess: sess, err: err})
	}()
}

func (s *CallService) onOfferPublished(ev offerPublished) {
	sess := ev.sess
	if !s.live(sess) {
		return
	}
	if ev.err != nil {
		s.failAttempt(errors.Wrap(ev.err, "publish offer"))
		return
	}
	sess.neg.offerPublished()
	sess.log.Info().Msg("Offer published")
	go s.subscribe(sess, true)
}

func (s *CallService) handleJoin(cmd joinCmd) {
	if p := s.Phase(); p != domain.PhaseMediaReady {
		cmd.reply <- callResult{err: errors.Wrapf(domain.ErrWrongPhase, "join call while %s", p)}
		return
	}
	id, err := domain.ParseCallID(cmd.input)
	if err != nil {
		s.raiseBadInput()
		cmd.reply <- callResult{err: err}
		return
	}

	sess := s.sess
	sess.role = domain.RoleCallee
	sess.callID = id
	sess.reply = cmd.reply
	sess.log = sess.log.With().Str("call_id", id.String()).Str("role", sess.role.String()).Logger()
	s.setPhase(domain.PhaseNegotiating)

	go func() {
		rec, err := s.channel.GetRecord(sess.ctx, id)
		s.inbox.Push(recordFetched{sess: sess, rec: rec, err: err})
	}()
}

func (s *CallService) onRecordFetched(ev recordFetched) {
	sess := ev.sess
	if !s.live(sess) {
		return
	}
	if ev.err != nil {
		err := errors.Wrap(ev.err, "fetch call record")
		if errors.Is(ev.err, domain.ErrNotFound) {
			err = errors.Wrapf(domain.ErrInvalidCallID, "call %s not found", sess.callID)
		}
		s.failAttempt(err)
		return
	}

	answer, err := sess.neg.acceptOffer(ev.rec)
	if err != nil {
		s.failAttempt(err)
		return
	}
	sess.relay.remoteDescriptionApplied()

	go func() {
		err := s.channel.SetAnswer(sess.ctx, sess.callID, answer)
		s.inbox.Push(answerPublished{sess: sess, err: err})
	}()
}

func (s *CallService) onAnswerPublished(ev answerPublished) {
	sess := ev.sess
	if !s.live(sess) {
		return
	}
	if ev.err != nil {
		s.failAttempt(errors.Wrap(ev.err, "publish answer"))
		return
	}
	sess.neg.answerPublished()
	sess.log.Info().Msg("Answer published")
	// Only the callee whose answer won may write answer candidates.
	sess.relay.attach(sess.ctx, sess.callID, sess.role.LocalSide())
	s.markPeerJoined()
	go s.subscribe(sess, false)
}

// subscribe watches what the peer writes: the remote candidate side always,
// and the record itself for the caller.
func (s *CallService) subscribe(sess *session, withRecord bool) {
	var subs []port.Subscription
	var err error

	if withRecord {
		var sub port.Subscription
		sub, err = s.channel.SubscribeRecord(sess.ctx, sess.callID, func(rec domain.CallRecord) {
			s.inbox.Push(recordChanged{sess: sess, rec: rec})
		})
		if err == nil {
			subs = append(subs, sub)
		}
	}
	if err == nil {
		var sub port.Subscription
		sub, err = s.channel.SubscribeCandidates(sess.ctx, sess.callID, sess.role.RemoteSide(), func(e domain.CandidateEntry) {
			s.inbox.Push(remoteCandidate{sess: sess, entry: e})
		})
		if err == nil {
			subs = append(subs, sub)
		}
	}

	if !s.inbox.Push(subscribed{sess: sess, subs: subs, err: err}) {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}
}

func (s *CallService) onSubscribed(ev subscribed) {
	sess := ev.sess
	if !s.live(sess) {
		for _, sub := range ev.subs {
			sub.Unsubscribe()
		}
		return
	}
	sess.subs = append(sess.subs, ev.subs...)
	if ev.err != nil {
		s.failAttempt(errors.Wrap(ev.err, "subscribe"))
		return
	}
	sess.resolve(sess.callID, nil)
}

func (s *CallService) onRecordChanged(ev recordChanged) {
	sess := ev.sess
	if !s.live(sess) || !ev.rec.HasAnswer() {
		return
	}
	applied, err := sess.neg.applyAnswer(*ev.rec.Answer)
	if err != nil {
		s.failAttempt(err)
		return
	}
	if !applied {
		return
	}
	sess.log.Info().Msg("Answer applied")
	sess.relay.remoteDescriptionApplied()
	s.markPeerJoined()
}

func (s *CallService) onRemoteCandidate(ev remoteCandidate) {
	sess := ev.sess
	if !s.live(sess) {
		return
	}
	sess.relay.receive(ev.entry)
	s.markPeerJoined()
}

func (s *CallService) onConnectionChanged(ev connectionChanged) {
	if !s.live(ev.sess) {
		return
	}
	ev.sess.log.Debug().Stringer("state", ev.state).Msg("Connection state changed")

	switch ev.state {
	case domain.ConnectionConnected:
		s.markPeerJoined()
		if p := s.Phase(); p == domain.PhasePeerJoined || p == domain.PhaseDisconnected {
			s.setPhase(domain.PhaseConnected)
		}
	case domain.ConnectionDisconnected, domain.ConnectionFailed:
		if p := s.Phase(); p == domain.PhasePeerJoined || p == domain.PhaseConnected {
			s.setPhase(domain.PhaseDisconnected)
		}
	}
}

func (s *CallService) markPeerJoined() {
	if s.Phase() == domain.PhaseNegotiating {
		s.setPhase(domain.PhasePeerJoined)
	}
}

// failAttempt abandons the current call attempt. The client returns to
// MediaReady with a fresh connection and keeps its local media.
func (s *CallService) failAttempt(err error) {
	sess := s.sess
	sess.log.Warn().Err(err).Msg("Call attempt failed")
	if domain.IsBadInput(err) {
		s.raiseBadInput()
	}

	sess.resolve("", err)
	if p := s.Phase(); p != domain.PhaseNegotiating && p != domain.PhasePeerJoined {
		// The peers reached each other anyway; keep the call.
		return
	}

	if derr := sess.dispose(); derr != nil {
		sess.log.Warn().Err(derr).Msg("Failed to dispose call attempt")
	}
	s.sess = nil

	next, nerr := s.newSession()
	if nerr != nil {
		log.Error().Err(nerr).Msg("Cannot prepare a new connection")
		s.teardown()
		return
	}
	s.sess = next
	s.setPhase(domain.PhaseMediaReady)
}

// teardown releases everything and returns to Idle. It also cancels any
// media acquisition in flight.
func (s *CallService) teardown() {
	s.attempt++
	s.acquiring = false
	if s.Phase() == domain.PhaseIdle {
		return
	}
	s.setPhase(domain.PhaseClosed)

	var err error
	if s.sess != nil {
		err = multierr.Append(err, s.sess.dispose())
		s.sess = nil
	}
	err = multierr.Append(err, s.releaseMedia())
	s.sink.Release()
	if err != nil {
		log.Warn().Err(err).Msg("Errors while quitting call")
	}

	s.setPhase(domain.PhaseIdle)
}

func (s *CallService) releaseMedia() error {
	if s.media == nil {
		return nil
	}
	err := s.media.Stop()
	s.media = nil
	return errors.Wrap(err, "stop media")
}

func (s *CallService) raiseBadInput() {
	changed := s.badInput.raise(func(gen uint64) {
		s.inbox.Push(badInputExpired{gen: gen})
	})
	if changed {
		s.badFlag.Store(true)
		s.observer.BadInput(true)
	}
}

func (s *CallService) setPhase(to domain.Phase) {
	from := s.Phase()
	if !from.CanTransition(to) {
		log.Error().Stringer("from", from).Stringer("to", to).Msg("Illegal phase transition")
		return
	}
	s.phase.Store(int32(to))
	log.Debug().Stringer("from", from).Stringer("to", to).Msg("Phase changed")
	s.observer.PhaseChanged(to)
}

type nopObserver struct{}

func (nopObserver) PhaseChanged(domain.Phase) {}
func (nopObserver) BadInput(bool)             {}
