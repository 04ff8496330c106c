package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// SignalingChannel is the rendezvous store as seen by one client.
//
// Subscriptions are push based. Callbacks for one subscription are never
// invoked concurrently, but may run concurrently with callbacks of other
// subscriptions. Candidate deliveries may repeat.
type SignalingChannel interface {
	CreateRecord(ctx context.Context) (domain.CallID, error)
	// GetRecord returns domain.ErrNotFound for unknown ids.
	GetRecord(ctx context.Context, id domain.CallID) (domain.CallRecord, error)
	SetOffer(ctx context.Context, id domain.CallID, offer domain.SessionDescription) error
	// SetAnswer returns domain.ErrConflict if the record has no offer or
	// already has an answer.
	SetAnswer(ctx context.Context, id domain.CallID, answer domain.SessionDescription) error
	AppendCandidate(ctx context.Context, id domain.CallID, side domain.Side, c domain.IceCandidate) (domain.EntryID, error)

	// SubscribeRecord delivers the current record once if it exists, then
	// the full record after every change.
	SubscribeRecord(ctx context.Context, id domain.CallID, onChange func(domain.CallRecord)) (Subscription, error)
	// SubscribeCandidates delivers every existing entry of the side, then
	// every entry appended later.
	SubscribeCandidates(ctx context.Context, id domain.CallID, side domain.Side, onAdded func(domain.CandidateEntry)) (Subscription, error)
}

type Subscription interface {
	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe()
}
