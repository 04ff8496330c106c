package redis

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/signalingtest"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

func open(t *testing.T, mr *miniredis.Miniredis) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Addr: mr.Addr(), Prefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	signalingtest.Run(t, func(t *testing.T) port.SignalingChannel {
		return open(t, miniredis.RunT(t))
	})
}

func TestKeysAreNamespaced(t *testing.T) {
	mr := miniredis.RunT(t)
	s := open(t, mr)
	ctx := context.Background()

	id, err := s.CreateRecord(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetOffer(ctx, id, domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0"}))
	_, err = s.AppendCandidate(ctx, id, domain.SideOffer, domain.IceCandidate{Candidate: "candidate:1"})
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:call:"+id.String()))
	assert.True(t, mr.Exists("test:call:"+id.String()+":offerCandidates"))
	assert.False(t, mr.Exists("test:call:"+id.String()+":answerCandidates"))
}

func TestTwoInstancesShareRecords(t *testing.T) {
	mr := miniredis.RunT(t)
	caller := open(t, mr)
	callee := open(t, mr)
	ctx := context.Background()

	id, err := caller.CreateRecord(ctx)
	require.NoError(t, err)
	require.NoError(t, caller.SetOffer(ctx, id, domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "offer"}))

	rec, err := callee.GetRecord(ctx, id)
	require.NoError(t, err)
	require.True(t, rec.HasOffer())
	require.NoError(t, callee.SetAnswer(ctx, id, domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "answer"}))

	err = caller.SetAnswer(ctx, id, domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "late"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

// failPublish makes every PUBLISH fail while other commands go through.
type failPublish struct{}

func (failPublish) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (failPublish) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "publish") {
			err := errors.New("publish refused")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (failPublish) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestCommittedWriteSurvivesPublishFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	s := open(t, mr)
	s.rdb.AddHook(failPublish{})
	ctx := context.Background()

	id, err := s.CreateRecord(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SetOffer(ctx, id, domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0"}))

	entryID, err := s.AppendCandidate(ctx, id, domain.SideOffer, domain.IceCandidate{Candidate: "candidate:1"})
	require.NoError(t, err)
	assert.NotEmpty(t, entryID)

	rec, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.HasOffer())

	var got signalingtest.Recorder[domain.CandidateEntry]
	sub, err := s.SubscribeCandidates(ctx, id, domain.SideOffer, got.Add)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.Eventually(t, func() bool { return got.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, entryID, got.All()[0].ID)
}
