package service

import (
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// event is anything posted to the controller inbox.
type event interface{}

// Commands from the presentation layer. reply is buffered.
type (
	acquireCmd struct{ reply chan error }
	createCmd  struct{ reply chan callResult }
	joinCmd    struct {
		input string
		reply chan callResult
	}
	quitCmd struct{ reply chan struct{} }
)

type callResult struct {
	id  domain.CallID
	err error
}

// Results of work done off the controller goroutine, and pushes from the
// channel and the connection. Each carries the session it belongs to so
// that anything from a disposed session is dropped.
type (
	mediaAcquired struct {
		attempt uint64
		media   port.LocalMedia
		err     error
		reply   chan error
	}
	recordCreated struct {
		sess *session
		id   domain.CallID
		err  error
	}
	offerPublished struct {
		sess *session
		err  error
	}
	recordFetched struct {
		sess *session
		rec  domain.CallRecord
		err  error
	}
	answerPublished struct {
		sess *session
		err  error
	}
	subscribed struct {
		sess *session
		subs []port.Subscription
		err  error
	}
	recordChanged struct {
		sess *session
		rec  domain.CallRecord
	}
	remoteCandidate struct {
		sess  *session
		entry domain.CandidateEntry
	}
	localCandidate struct {
		sess *session
		cand *domain.IceCandidate
	}
	trackReceived struct {
		sess  *session
		track domain.RemoteTrack
	}
	connectionChanged struct {
		sess  *session
		state domain.ConnectionState
	}
	badInputExpired struct{ gen uint64 }
)
