package service

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/core/domain"
)

var answerDesc = domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0 answer"}

func TestNegotiatorAppliesAnswerOnce(t *testing.T) {
	conn := newFakeConn("a", 0)
	n := newNegotiator(conn)

	offer, err := n.createOffer()
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeOffer, offer.Type)

	// Not published yet.
	applied, err := n.applyAnswer(answerDesc)
	require.NoError(t, err)
	assert.False(t, applied)

	n.offerPublished()
	applied, err = n.applyAnswer(answerDesc)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, n.complete())

	applied, err = n.applyAnswer(answerDesc)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 1, conn.RemoteSets())
}

func TestNegotiatorRejectsBadAnswer(t *testing.T) {
	tests := []struct {
		name   string
		answer domain.SessionDescription
		fail   error
	}{
		{"WrongType", domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0"}, nil},
		{"EmptySDP", domain.SessionDescription{Type: domain.SDPTypeAnswer}, nil},
		{"EngineRejects", answerDesc, errors.New("malformed")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn("a", 0)
			conn.failRemote = tt.fail
			n := newNegotiator(conn)
			_, err := n.createOffer()
			require.NoError(t, err)
			n.offerPublished()

			applied, err := n.applyAnswer(tt.answer)
			require.ErrorIs(t, err, domain.ErrRemoteDescription)
			assert.False(t, applied)

			// A failed negotiation never applies a later answer.
			conn.failRemote = nil
			applied, err = n.applyAnswer(answerDesc)
			require.NoError(t, err)
			assert.False(t, applied)
		})
	}
}

func TestNegotiatorAcceptOffer(t *testing.T) {
	offer := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 offer"}

	t.Run("Answers", func(t *testing.T) {
		conn := newFakeConn("b", 0)
		n := newNegotiator(conn)
		answer, err := n.acceptOffer(domain.CallRecord{ID: "c1", Offer: &offer})
		require.NoError(t, err)
		assert.Equal(t, domain.SDPTypeAnswer, answer.Type)
		assert.Equal(t, offer, *conn.Remote())
		assert.False(t, n.complete())

		n.answerPublished()
		assert.True(t, n.complete())

		_, err = n.acceptOffer(domain.CallRecord{ID: "c1", Offer: &offer})
		require.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, 1, conn.RemoteSets())
	})

	t.Run("NoOffer", func(t *testing.T) {
		n := newNegotiator(newFakeConn("b", 0))
		_, err := n.acceptOffer(domain.CallRecord{ID: "c1"})
		require.ErrorIs(t, err, domain.ErrInvalidCallID)
	})

	t.Run("EngineRejects", func(t *testing.T) {
		conn := newFakeConn("b", 0)
		conn.failRemote = errors.New("malformed")
		n := newNegotiator(conn)
		_, err := n.acceptOffer(domain.CallRecord{ID: "c1", Offer: &offer})
		require.ErrorIs(t, err, domain.ErrRemoteDescription)
	})
}

func TestNegotiatorCreateOfferOnce(t *testing.T) {
	n := newNegotiator(newFakeConn("a", 0))
	_, err := n.createOffer()
	require.NoError(t, err)
	_, err = n.createOffer()
	require.ErrorIs(t, err, domain.ErrInvalidState)
}
