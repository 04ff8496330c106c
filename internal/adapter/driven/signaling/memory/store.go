// Package memory is an in-process rendezvous store.
package memory

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/broker"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type callEntry struct {
	record     domain.CallRecord
	candidates map[domain.Side][]domain.CandidateEntry
}

// Store implements port.SignalingChannel.
type Store struct {
	mu     sync.Mutex
	calls  map[domain.CallID]*callEntry
	broker *broker.Broker
}

func NewStore() *Store {
	return &Store{
		calls:  make(map[domain.CallID]*callEntry),
		broker: broker.New(),
	}
}

func (s *Store) CreateRecord(ctx context.Context) (domain.CallID, error) {
	id := domain.NewCallID()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id] = &callEntry{
		record:     domain.CallRecord{ID: id},
		candidates: make(map[domain.Side][]domain.CandidateEntry),
	}
	return id, nil
}

func (s *Store) GetRecord(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return domain.CallRecord{}, errors.Wrapf(domain.ErrNotFound, "call %s", id)
	}
	return c.record.Clone(), nil
}

func (s *Store) SetOffer(ctx context.Context, id domain.CallID, offer domain.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "call %s", id)
	}
	if c.record.HasOffer() {
		return errors.Wrapf(domain.ErrConflict, "call %s already has an offer", id)
	}
	c.record.Offer = &offer
	s.broker.PublishRecord(c.record)
	return nil
}

func (s *Store) SetAnswer(ctx context.Context, id domain.CallID, answer domain.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "call %s", id)
	}
	if !c.record.HasOffer() {
		return errors.Wrapf(domain.ErrConflict, "call %s has no offer", id)
	}
	if c.record.HasAnswer() {
		return errors.Wrapf(domain.ErrConflict, "call %s already answered", id)
	}
	c.record.Answer = &answer
	s.broker.PublishRecord(c.record)
	return nil
}

func (s *Store) AppendCandidate(ctx context.Context, id domain.CallID, side domain.Side, cand domain.IceCandidate) (domain.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return "", errors.Wrapf(domain.ErrNotFound, "call %s", id)
	}
	e := domain.CandidateEntry{ID: domain.NewEntryID(), IceCandidate: cand}
	c.candidates[side] = append(c.candidates[side], e)
	s.broker.PublishCandidate(id, side, e)
	return e.ID, nil
}

func (s *Store) SubscribeRecord(ctx context.Context, id domain.CallID, onChange func(domain.CallRecord)) (port.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.broker.WatchRecord(id, onChange)
	if c, ok := s.calls[id]; ok {
		w.Deliver(c.record.Clone())
	}
	return w, nil
}

func (s *Store) SubscribeCandidates(ctx context.Context, id domain.CallID, side domain.Side, onAdded func(domain.CandidateEntry)) (port.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.broker.WatchCandidates(id, side, onAdded)
	if c, ok := s.calls[id]; ok {
		w.Deliver(c.candidates[side]...)
	}
	return w, nil
}

// Candidates returns a copy of one side's entries in append order.
func (s *Store) Candidates(id domain.CallID, side domain.Side) []domain.CandidateEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok {
		return nil
	}
	return append([]domain.CandidateEntry(nil), c.candidates[side]...)
}

func (s *Store) Watchers() int {
	return s.broker.Watchers()
}

func (s *Store) Close() error {
	s.broker.Close()
	return nil
}
