// Package signalingtest holds behaviour every port.SignalingChannel adapter
// must share.
package signalingtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const waitFor = 2 * time.Second

var (
	offer  = domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 offer"}
	answer = domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0 answer"}
)

// Recorder collects subscription deliveries.
type Recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func (r *Recorder[T]) Add(v T) {
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
}

func (r *Recorder[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}

func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

// Run exercises ch against the store contract. newChannel is called once per
// subtest.
func Run(t *testing.T, newChannel func(t *testing.T) port.SignalingChannel) {
	t.Run("CreateAndGet", func(t *testing.T) {
		ch := newChannel(t)
		ctx := context.Background()

		id, err := ch.CreateRecord(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		rec, err := ch.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, rec.ID)
		assert.False(t, rec.HasOffer())
		assert.False(t, rec.HasAnswer())
	})

	t.Run("GetUnknown", func(t *testing.T) {
		ch := newChannel(t)
		_, err := ch.GetRecord(context.Background(), "doesnotexist")
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	})

	t.Run("SetOfferUnknown", func(t *testing.T) {
		ch := newChannel(t)
		err := ch.SetOffer(context.Background(), "doesnotexist", offer)
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	})

	t.Run("AnswerOnce", func(t *testing.T) {
		ch := newChannel(t)
		ctx := context.Background()
		id, err := ch.CreateRecord(ctx)
		require.NoError(t, err)

		err = ch.SetAnswer(ctx, id, answer)
		assert.True(t, errors.Is(err, domain.ErrConflict), "answer before offer: %v", err)

		require.NoError(t, ch.SetOffer(ctx, id, offer))
		require.NoError(t, ch.SetAnswer(ctx, id, answer))

		err = ch.SetAnswer(ctx, id, answer)
		assert.True(t, errors.Is(err, domain.ErrConflict), "second answer: %v", err)

		rec, err := ch.GetRecord(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec.Offer)
		require.NotNil(t, rec.Answer)
		assert.Equal(t, offer, *rec.Offer)
		assert.Equal(t, answer, *rec.Answer)
	})

	t.Run("SubscribeRecord", func(t *testing.T) {
		ch := newChannel(t)
		ctx := context.Background()
		id, err := ch.CreateRecord(ctx)
		require.NoError(t, err)

		var rec Recorder[domain.CallRecord]
		sub, err := ch.SubscribeRecord(ctx, id, rec.Add)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		require.NoError(t, ch.SetOffer(ctx, id, offer))
		require.NoError(t, ch.SetAnswer(ctx, id, answer))

		require.Eventually(t, func() bool {
			for _, r := range rec.All() {
				if r.HasAnswer() && r.Answer.SDP == answer.SDP {
					return true
				}
			}
			return false
		}, waitFor, 10*time.Millisecond)

		for _, r := range rec.All() {
			assert.Equal(t, id, r.ID)
			if r.HasAnswer() {
				assert.True(t, r.HasOffer(), "answer delivered without offer")
			}
		}
	})

	t.Run("SubscribeCandidates", func(t *testing.T) {
		ch := newChannel(t)
		ctx := context.Background()
		id, err := ch.CreateRecord(ctx)
		require.NoError(t, err)

		early := domain.IceCandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: "0"}
		_, err = ch.AppendCandidate(ctx, id, domain.SideOffer, early)
		require.NoError(t, err)

		var rec Recorder[domain.CandidateEntry]
		sub, err := ch.SubscribeCandidates(ctx, id, domain.SideOffer, rec.Add)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		late := domain.IceCandidate{Candidate: "candidate:2 1 udp 1 10.0.0.2 5000 typ host", SDPMid: "0", SDPMLineIndex: 1}
		_, err = ch.AppendCandidate(ctx, id, domain.SideOffer, late)
		require.NoError(t, err)
		_, err = ch.AppendCandidate(ctx, id, domain.SideAnswer, domain.IceCandidate{Candidate: "candidate:3"})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return rec.Len() >= 2 }, waitFor, 10*time.Millisecond)
		time.Sleep(50 * time.Millisecond)

		got := rec.All()
		require.Len(t, got, 2)
		seen := map[string]bool{}
		for _, e := range got {
			assert.NotEmpty(t, e.ID)
			seen[e.Candidate] = true
		}
		assert.True(t, seen[early.Candidate])
		assert.True(t, seen[late.Candidate])
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		ch := newChannel(t)
		ctx := context.Background()
		id, err := ch.CreateRecord(ctx)
		require.NoError(t, err)

		var rec Recorder[domain.CandidateEntry]
		sub, err := ch.SubscribeCandidates(ctx, id, domain.SideAnswer, rec.Add)
		require.NoError(t, err)

		_, err = ch.AppendCandidate(ctx, id, domain.SideAnswer, domain.IceCandidate{Candidate: "candidate:1"})
		require.NoError(t, err)
		require.Eventually(t, func() bool { return rec.Len() == 1 }, waitFor, 10*time.Millisecond)

		sub.Unsubscribe()
		sub.Unsubscribe()

		_, err = ch.AppendCandidate(ctx, id, domain.SideAnswer, domain.IceCandidate{Candidate: "candidate:2"})
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, 1, rec.Len())
	})
}
