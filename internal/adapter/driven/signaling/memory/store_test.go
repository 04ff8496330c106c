package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/signalingtest"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

func TestStoreContract(t *testing.T) {
	signalingtest.Run(t, func(t *testing.T) port.SignalingChannel {
		s := NewStore()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestCandidatesKeepAppendOrder(t *testing.T) {
	s := NewStore()
	defer s.Close()
	ctx := context.Background()

	id, err := s.CreateRecord(ctx)
	require.NoError(t, err)
	for _, c := range []string{"a", "b", "c"} {
		_, err := s.AppendCandidate(ctx, id, domain.SideOffer, domain.IceCandidate{Candidate: c})
		require.NoError(t, err)
	}

	got := s.Candidates(id, domain.SideOffer)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Candidate)
	assert.Equal(t, "c", got[2].Candidate)
	assert.Empty(t, s.Candidates(id, domain.SideAnswer))
}

func TestOfferIsImmutable(t *testing.T) {
	s := NewStore()
	defer s.Close()
	ctx := context.Background()

	id, err := s.CreateRecord(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetOffer(ctx, id, domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "first"}))

	err = s.SetOffer(ctx, id, domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "second"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	rec, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first", rec.Offer.SDP)
}
