package service

import (
	"github.com/pkg/errors"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type stage int

const (
	stageReady stage = iota
	stageOffering
	stageAwaitingAnswer
	stageAnswering
	stageComplete
	stageFailed
)

func (s stage) String() string {
	switch s {
	case stageReady:
		return "ready"
	case stageOffering:
		return "offering"
	case stageAwaitingAnswer:
		return "awaiting-answer"
	case stageAnswering:
		return "answering"
	case stageComplete:
		return "complete"
	default:
		return "failed"
	}
}

// negotiator drives the offer/answer exchange on one connection. It only
// touches the connection; publishing and fetching are done by the caller.
//
// Every method that reaches SetRemoteDescription requires a specific stage
// and leaves it before returning, so the remote description is applied at
// most once no matter how often an answer is delivered.
type negotiator struct {
	conn  port.Connection
	stage stage
}

func newNegotiator(conn port.Connection) *negotiator {
	return &negotiator{conn: conn}
}

// createOffer is the first caller step.
func (n *negotiator) createOffer() (domain.SessionDescription, error) {
	if n.stage != stageReady {
		return domain.SessionDescription{}, errors.Wrapf(domain.ErrInvalidState, "create offer while %s", n.stage)
	}
	n.stage = stageFailed

	offer, err := n.conn.CreateOffer()
	if err != nil {
		return domain.SessionDescription{}, errors.Wrap(err, "create offer")
	}
	if err := n.conn.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, errors.Wrap(err, "set local offer")
	}
	n.stage = stageOffering
	return offer, nil
}

func (n *negotiator) offerPublished() {
	if n.stage == stageOffering {
		n.stage = stageAwaitingAnswer
	}
}

// applyAnswer reports whether answer was applied. Answers seen outside the
// awaiting stage are stale and ignored.
func (n *negotiator) applyAnswer(answer domain.SessionDescription) (bool, error) {
	if n.stage != stageAwaitingAnswer {
		return false, nil
	}
	n.stage = stageFailed

	if err := answer.Validate(domain.SDPTypeAnswer); err != nil {
		return false, err
	}
	if err := n.conn.SetRemoteDescription(answer); err != nil {
		return false, errors.Wrapf(domain.ErrRemoteDescription, "apply answer: %v", err)
	}
	n.stage = stageComplete
	return true, nil
}

// acceptOffer applies the record's offer and produces the local answer.
func (n *negotiator) acceptOffer(rec domain.CallRecord) (domain.SessionDescription, error) {
	if n.stage != stageReady {
		return domain.SessionDescription{}, errors.Wrapf(domain.ErrInvalidState, "accept offer while %s", n.stage)
	}
	n.stage = stageFailed

	if !rec.HasOffer() {
		return domain.SessionDescription{}, errors.Wrapf(domain.ErrInvalidCallID, "call %s has no offer", rec.ID)
	}
	if err := rec.Offer.Validate(domain.SDPTypeOffer); err != nil {
		return domain.SessionDescription{}, err
	}
	if err := n.conn.SetRemoteDescription(*rec.Offer); err != nil {
		return domain.SessionDescription{}, errors.Wrapf(domain.ErrRemoteDescription, "apply offer: %v", err)
	}

	answer, err := n.conn.CreateAnswer()
	if err != nil {
		return domain.SessionDescription{}, errors.Wrap(err, "create answer")
	}
	if err := n.conn.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, errors.Wrap(err, "set local answer")
	}
	n.stage = stageAnswering
	return answer, nil
}

func (n *negotiator) answerPublished() {
	if n.stage == stageAnswering {
		n.stage = stageComplete
	}
}

func (n *negotiator) complete() bool {
	return n.stage == stageComplete
}
