package service

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/memory"
	"github.com/Wyydra/yacall/internal/core/domain"
)

func cand(s string) domain.IceCandidate {
	return domain.IceCandidate{Candidate: s, SDPMid: "0"}
}

func TestRelayPublishesPendingInOrder(t *testing.T) {
	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id, err := store.CreateRecord(ctx)
	require.NoError(t, err)

	r := newCandidateRelay(newFakeConn("a", 0), store, zerolog.Nop())
	defer r.close()

	for _, s := range []string{"candidate:1", "candidate:2"} {
		c := cand(s)
		r.local(&c)
	}
	r.local(nil)
	assert.Empty(t, store.Candidates(id, domain.SideOffer))

	r.attach(ctx, id, domain.SideOffer)
	c := cand("candidate:3")
	r.local(&c)

	require.Eventually(t, func() bool { return len(store.Candidates(id, domain.SideOffer)) == 3 }, waitFor, tick)
	var got []string
	for _, e := range store.Candidates(id, domain.SideOffer) {
		got = append(got, e.Candidate)
	}
	assert.Equal(t, []string{"candidate:1", "candidate:2", "candidate:3"}, got)
	assert.Empty(t, store.Candidates(id, domain.SideAnswer))
}

func TestRelayBuffersUntilRemoteApplied(t *testing.T) {
	conn := newFakeConn("a", 0)
	r := newCandidateRelay(conn, memory.NewStore(), zerolog.Nop())
	defer r.close()

	r.receive(domain.CandidateEntry{ID: "e1", IceCandidate: cand("candidate:1")})
	r.receive(domain.CandidateEntry{ID: "e2", IceCandidate: cand("candidate:2")})
	assert.Empty(t, conn.Added())

	require.NoError(t, conn.SetRemoteDescription(answerDesc))
	r.remoteDescriptionApplied()
	r.receive(domain.CandidateEntry{ID: "e3", IceCandidate: cand("candidate:3")})

	assert.Equal(t, []domain.IceCandidate{cand("candidate:1"), cand("candidate:2"), cand("candidate:3")}, conn.Added())
	assert.Equal(t, 3, r.applied)
}

func TestRelayDropsDuplicates(t *testing.T) {
	conn := newFakeConn("a", 0)
	require.NoError(t, conn.SetRemoteDescription(answerDesc))
	r := newCandidateRelay(conn, memory.NewStore(), zerolog.Nop())
	defer r.close()
	r.remoteDescriptionApplied()

	r.receive(domain.CandidateEntry{ID: "e1", IceCandidate: cand("candidate:1")})
	r.receive(domain.CandidateEntry{ID: "e1", IceCandidate: cand("candidate:1")})
	// Same candidate under another entry, e.g. written twice by a retrying peer.
	r.receive(domain.CandidateEntry{ID: "e2", IceCandidate: cand("candidate:1")})

	assert.Len(t, conn.Added(), 1)
}

func TestRelayDropsRejectedCandidates(t *testing.T) {
	conn := newFakeConn("a", 0)
	r := newCandidateRelay(conn, memory.NewStore(), zerolog.Nop())
	defer r.close()

	// Marking applied without a remote description makes the fake reject.
	r.remoteDescriptionApplied()
	r.receive(domain.CandidateEntry{ID: "e1", IceCandidate: cand("candidate:1")})

	assert.Empty(t, conn.Added())
	assert.Equal(t, 1, r.dropped)
}

func TestRelayLogsTotalsOnClose(t *testing.T) {
	var buf bytes.Buffer
	conn := newFakeConn("a", 0)
	require.NoError(t, conn.SetRemoteDescription(answerDesc))
	r := newCandidateRelay(conn, memory.NewStore(), zerolog.New(&buf))
	r.remoteDescriptionApplied()

	r.receive(domain.CandidateEntry{ID: "e1", IceCandidate: cand("candidate:1")})
	r.receive(domain.CandidateEntry{ID: "e2", IceCandidate: cand("candidate:2")})
	buf.Reset()
	r.close()

	var line struct {
		Message string `json:"message"`
		Applied int    `json:"applied"`
		Dropped int    `json:"dropped"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Candidate relay closed", line.Message)
	assert.Equal(t, 2, line.Applied)
	assert.Equal(t, 0, line.Dropped)
}
