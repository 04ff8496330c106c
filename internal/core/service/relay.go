package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/mailbox"
)

// candidateRelay moves ICE candidates between the connection and the
// signaling channel. All methods run on the controller goroutine; only the
// outbound writer runs elsewhere.
type candidateRelay struct {
	conn    port.Connection
	channel port.SignalingChannel
	log     zerolog.Logger

	attached bool
	pending  []domain.IceCandidate
	out      *mailbox.Mailbox[domain.IceCandidate]

	remoteApplied bool
	buffered      []domain.CandidateEntry
	seenEntries   map[domain.EntryID]struct{}
	seenKeys      map[string]struct{}

	applied int
	dropped int
}

func newCandidateRelay(conn port.Connection, channel port.SignalingChannel, log zerolog.Logger) *candidateRelay {
	return &candidateRelay{
		conn:        conn,
		channel:     channel,
		log:         log,
		out:         mailbox.New[domain.IceCandidate](),
		seenEntries: make(map[domain.EntryID]struct{}),
		seenKeys:    make(map[string]struct{}),
	}
}

// attach starts publishing local candidates to side of call id. Candidates
// gathered earlier are flushed first. The writer stops when ctx ends.
func (r *candidateRelay) attach(ctx context.Context, id domain.CallID, side domain.Side) {
	if r.attached {
		return
	}
	r.attached = true

	go r.out.Run(ctx.Done(), func(c domain.IceCandidate) {
		if _, err := r.channel.AppendCandidate(ctx, id, side, c); err != nil && ctx.Err() == nil {
			r.log.Warn().Err(err).Str("side", string(side)).Msg("Failed to publish local candidate")
		}
	})

	for _, c := range r.pending {
		r.out.Push(c)
	}
	r.pending = nil
}

// local handles a candidate from the connection; nil ends gathering.
func (r *candidateRelay) local(c *domain.IceCandidate) {
	if c == nil {
		r.log.Debug().Msg("Local candidate gathering complete")
		return
	}
	if !r.attached {
		r.pending = append(r.pending, *c)
		return
	}
	r.out.Push(*c)
}

// receive handles a remote candidate delivered by the channel.
func (r *candidateRelay) receive(e domain.CandidateEntry) {
	if _, dup := r.seenEntries[e.ID]; dup && e.ID != "" {
		return
	}
	if _, dup := r.seenKeys[e.Key()]; dup {
		return
	}
	if e.ID != "" {
		r.seenEntries[e.ID] = struct{}{}
	}
	r.seenKeys[e.Key()] = struct{}{}

	if !r.remoteApplied {
		r.buffered = append(r.buffered, e)
		return
	}
	r.apply(e)
}

// remoteDescriptionApplied flushes buffered candidates in arrival order.
func (r *candidateRelay) remoteDescriptionApplied() {
	if r.remoteApplied {
		return
	}
	r.remoteApplied = true
	for _, e := range r.buffered {
		r.apply(e)
	}
	r.buffered = nil
}

func (r *candidateRelay) apply(e domain.CandidateEntry) {
	if err := r.conn.AddICECandidate(e.IceCandidate); err != nil {
		r.dropped++
		r.log.Warn().Err(err).Str("candidate", e.Candidate).Msg("Dropping remote candidate")
		return
	}
	r.applied++
}

func (r *candidateRelay) close() {
	r.out.Close()
	r.log.Debug().
		Int("applied", r.applied).
		Int("dropped", r.dropped).
		Int("buffered", len(r.buffered)).
		Msg("Candidate relay closed")
}
