package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// session is one call attempt. A fresh one, with a fresh connection, is
// built every time the controller enters MediaReady.
type session struct {
	seq    uint64
	role   domain.Role
	callID domain.CallID

	conn  port.Connection
	neg   *negotiator
	relay *candidateRelay
	subs  []port.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	reply chan callResult
}

// resolve answers the pending Create or Join, at most once.
func (s *session) resolve(id domain.CallID, err error) {
	if s.reply == nil {
		return
	}
	s.reply <- callResult{id: id, err: err}
	s.reply = nil
}

// dispose releases everything the session holds. Later events carrying it
// are ignored by the controller.
func (s *session) dispose() error {
	s.resolve("", domain.ErrCallQuit)
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.cancel()
	s.relay.close()
	s.log.Debug().Bool("negotiated", s.neg.complete()).Msg("Call attempt disposed")

	return errors.Wrap(s.conn.Close(), "close connection")
}
