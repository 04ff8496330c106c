// Package broker fans store changes out to subscribers of a single process.
package broker

import (
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type topic struct {
	id   domain.CallID
	side domain.Side
}

// Broker implements the delivery half of port.SignalingChannel for stores
// whose writes all pass through this process.
type Broker struct {
	mu         sync.Mutex
	records    map[domain.CallID]map[*Watch[domain.CallRecord]]struct{}
	candidates map[topic]map[*Watch[domain.CandidateEntry]]struct{}
	closed     bool
}

func New() *Broker {
	return &Broker{
		records:    make(map[domain.CallID]map[*Watch[domain.CallRecord]]struct{}),
		candidates: make(map[topic]map[*Watch[domain.CandidateEntry]]struct{}),
	}
}

// WatchRecord registers fn for changes of record id. The caller is expected
// to Deliver the current snapshot itself.
func (b *Broker) WatchRecord(id domain.CallID, fn func(domain.CallRecord)) *Watch[domain.CallRecord] {
	w := newWatch(fn, nil)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		w.Unsubscribe()
		return w
	}
	if b.records[id] == nil {
		b.records[id] = make(map[*Watch[domain.CallRecord]]struct{})
	}
	b.records[id][w] = struct{}{}
	w.detach = func() {
		b.mu.Lock()
		delete(b.records[id], w)
		if len(b.records[id]) == 0 {
			delete(b.records, id)
		}
		b.mu.Unlock()
	}
	return w
}

// WatchCandidates registers fn for entries appended to one side. Entries are
// de-duplicated by id so a snapshot may overlap live deliveries.
func (b *Broker) WatchCandidates(id domain.CallID, side domain.Side, fn func(domain.CandidateEntry)) *Watch[domain.CandidateEntry] {
	seen := make(map[domain.EntryID]struct{})
	w := newWatch(fn, func(e domain.CandidateEntry) bool {
		if _, dup := seen[e.ID]; dup {
			return false
		}
		seen[e.ID] = struct{}{}
		return true
	})

	t := topic{id: id, side: side}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		w.Unsubscribe()
		return w
	}
	if b.candidates[t] == nil {
		b.candidates[t] = make(map[*Watch[domain.CandidateEntry]]struct{})
	}
	b.candidates[t][w] = struct{}{}
	w.detach = func() {
		b.mu.Lock()
		delete(b.candidates[t], w)
		if len(b.candidates[t]) == 0 {
			delete(b.candidates, t)
		}
		b.mu.Unlock()
	}
	return w
}

func (b *Broker) PublishRecord(rec domain.CallRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.records[rec.ID] {
		w.Deliver(rec.Clone())
	}
}

func (b *Broker) PublishCandidate(id domain.CallID, side domain.Side, e domain.CandidateEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.candidates[topic{id: id, side: side}] {
		w.Deliver(e)
	}
}

// Watchers returns the number of live subscriptions.
func (b *Broker) Watchers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ws := range b.records {
		n += len(ws)
	}
	for _, ws := range b.candidates {
		n += len(ws)
	}
	return n
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	records := b.records
	candidates := b.candidates
	b.records = make(map[domain.CallID]map[*Watch[domain.CallRecord]]struct{})
	b.candidates = make(map[topic]map[*Watch[domain.CandidateEntry]]struct{})
	b.mu.Unlock()

	for _, ws := range records {
		for w := range ws {
			w.stop()
		}
	}
	for _, ws := range candidates {
		for w := range ws {
			w.stop()
		}
	}
}
