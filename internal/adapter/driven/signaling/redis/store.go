// Package redis is a rendezvous store shared by any number of server
// instances. Records are hashes, candidate collections are lists and change
// notification rides on pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/broker"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const (
	fieldOffer   = "offer"
	fieldAnswer  = "answer"
	fieldCreated = "created"

	kindRecord    = "record"
	kindCandidate = "candidate"
)

// Scripts return -1 for a missing record, 0 for a conflict and 1 on success.
var (
	setOfferScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HEXISTS', KEYS[1], 'offer') == 1 then return 0 end
redis.call('HSET', KEYS[1], 'offer', ARGV[1])
return 1
`)
	setAnswerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HEXISTS', KEYS[1], 'offer') == 0 then return 0 end
if redis.call('HEXISTS', KEYS[1], 'answer') == 1 then return 0 end
redis.call('HSET', KEYS[1], 'answer', ARGV[1])
return 1
`)
	appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "yacall".
	Prefix string
}

// event is published on a call's channel after every write.
type event struct {
	Kind  string                 `json:"kind"`
	Side  domain.Side            `json:"side,omitempty"`
	Entry *domain.CandidateEntry `json:"entry,omitempty"`
}

// Store implements port.SignalingChannel on Redis.
type Store struct {
	rdb    *redis.Client
	prefix string
	local  *broker.Broker
}

// Open connects and pings the server.
func Open(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", opts.Addr)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "yacall"
	}
	log.Info().Str("addr", opts.Addr).Str("prefix", prefix).Msg("Redis store connected")
	return &Store{rdb: rdb, prefix: prefix, local: broker.New()}, nil
}

func (s *Store) recordKey(id domain.CallID) string {
	return s.prefix + ":call:" + id.String()
}

func (s *Store) candidatesKey(id domain.CallID, side domain.Side) string {
	return s.recordKey(id) + ":" + side.Collection()
}

func (s *Store) eventsChannel(id domain.CallID) string {
	return s.recordKey(id) + ":events"
}

func (s *Store) CreateRecord(ctx context.Context) (domain.CallID, error) {
	id := domain.NewCallID()
	if err := s.rdb.HSet(ctx, s.recordKey(id), fieldCreated, strconv.FormatInt(time.Now().Unix(), 10)).Err(); err != nil {
		return "", errors.Wrap(err, "create record")
	}
	return id, nil
}

func (s *Store) GetRecord(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.recordKey(id)).Result()
	if err != nil {
		return domain.CallRecord{}, errors.Wrapf(err, "get call %s", id)
	}
	if len(fields) == 0 {
		return domain.CallRecord{}, errors.Wrapf(domain.ErrNotFound, "call %s", id)
	}

	rec := domain.CallRecord{ID: id}
	if rec.Offer, err = decodeDescription(fields, fieldOffer); err != nil {
		return domain.CallRecord{}, err
	}
	if rec.Answer, err = decodeDescription(fields, fieldAnswer); err != nil {
		return domain.CallRecord{}, err
	}
	return rec, nil
}

func (s *Store) SetOffer(ctx context.Context, id domain.CallID, offer domain.SessionDescription) error {
	return s.setDescription(ctx, setOfferScript, id, offer, "already has an offer")
}

func (s *Store) SetAnswer(ctx context.Context, id domain.CallID, answer domain.SessionDescription) error {
	return s.setDescription(ctx, setAnswerScript, id, answer, "has no offer or is already answered")
}

func (s *Store) setDescription(ctx context.Context, script *redis.Script, id domain.CallID, desc domain.SessionDescription, conflict string) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return errors.Wrap(err, "encode description")
	}
	res, err := script.Run(ctx, s.rdb, []string{s.recordKey(id)}, string(payload)).Int()
	if err != nil {
		return errors.Wrapf(err, "update call %s", id)
	}
	if err := scriptResult(res, id, conflict); err != nil {
		return err
	}
	s.publish(ctx, id, event{Kind: kindRecord})
	return nil
}

func (s *Store) AppendCandidate(ctx context.Context, id domain.CallID, side domain.Side, c domain.IceCandidate) (domain.EntryID, error) {
	e := domain.CandidateEntry{ID: domain.NewEntryID(), IceCandidate: c}
	payload, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrap(err, "encode candidate")
	}

	res, err := appendScript.Run(ctx, s.rdb, []string{s.recordKey(id), s.candidatesKey(id, side)}, string(payload)).Int()
	if err != nil {
		return "", errors.Wrapf(err, "append candidate to %s", id)
	}
	if err := scriptResult(res, id, ""); err != nil {
		return "", err
	}
	s.publish(ctx, id, event{Kind: kindCandidate, Side: side, Entry: &e})
	return e.ID, nil
}

// publish notifies watchers of a committed write. The write stands when the
// notification fails; watchers catch up from the snapshot on resubscribe.
func (s *Store) publish(ctx context.Context, id domain.CallID, ev event) {
	payload, err := json.Marshal(ev)
	if err == nil {
		err = s.rdb.Publish(ctx, s.eventsChannel(id), payload).Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("call_id", id.String()).Str("kind", ev.Kind).Msg("Failed to publish call event")
	}
}

func (s *Store) SubscribeRecord(ctx context.Context, id domain.CallID, onChange func(domain.CallRecord)) (port.Subscription, error) {
	w := s.local.WatchRecord(id, onChange)
	sub, err := s.listen(ctx, id, w, func(loadCtx context.Context, ev event) {
		if ev.Kind != kindRecord {
			return
		}
		rec, err := s.GetRecord(loadCtx, id)
		if err != nil {
			log.Warn().Err(err).Str("call_id", id.String()).Msg("Failed to reload record")
			return
		}
		w.Deliver(rec)
	})
	if err != nil {
		return nil, err
	}

	rec, err := s.GetRecord(ctx, id)
	switch {
	case err == nil:
		w.Deliver(rec)
	case !errors.Is(err, domain.ErrNotFound):
		sub.Unsubscribe()
		return nil, err
	}
	return sub, nil
}

func (s *Store) SubscribeCandidates(ctx context.Context, id domain.CallID, side domain.Side, onAdded func(domain.CandidateEntry)) (port.Subscription, error) {
	w := s.local.WatchCandidates(id, side, onAdded)
	sub, err := s.listen(ctx, id, w, func(_ context.Context, ev event) {
		if ev.Kind == kindCandidate && ev.Side == side && ev.Entry != nil {
			w.Deliver(*ev.Entry)
		}
	})
	if err != nil {
		return nil, err
	}

	raw, err := s.rdb.LRange(ctx, s.candidatesKey(id, side), 0, -1).Result()
	if err != nil {
		sub.Unsubscribe()
		return nil, errors.Wrap(err, "list candidates")
	}
	for _, r := range raw {
		var e domain.CandidateEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			log.Warn().Err(err).Str("call_id", id.String()).Msg("Skipping undecodable candidate")
			continue
		}
		w.Deliver(e)
	}
	return sub, nil
}

type unsubscriber interface {
	Unsubscribe()
}

// subscription pairs a pub/sub connection with the local watch it feeds.
type subscription struct {
	ps     *redis.PubSub
	watch  unsubscriber
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		s.ps.Close()
		s.watch.Unsubscribe()
	})
}

// listen subscribes to the call's channel before any snapshot is read so no
// write can fall between the two.
func (s *Store) listen(ctx context.Context, id domain.CallID, w unsubscriber, handle func(context.Context, event)) (*subscription, error) {
	ps := s.rdb.Subscribe(ctx, s.eventsChannel(id))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		w.Unsubscribe()
		return nil, errors.Wrap(err, "subscribe")
	}

	loadCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{ps: ps, watch: w, cancel: cancel}

	go func() {
		for msg := range ps.Channel() {
			var ev event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping undecodable event")
				continue
			}
			handle(loadCtx, ev)
		}
	}()
	return sub, nil
}

func scriptResult(res int, id domain.CallID, conflict string) error {
	switch res {
	case 1:
		return nil
	case -1:
		return errors.Wrapf(domain.ErrNotFound, "call %s", id)
	default:
		return errors.Wrapf(domain.ErrConflict, "call %s %s", id, conflict)
	}
}

func decodeDescription(fields map[string]string, field string) (*domain.SessionDescription, error) {
	raw, ok := fields[field]
	if !ok {
		return nil, nil
	}
	var d domain.SessionDescription
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, errors.Wrapf(err, "decode %s", field)
	}
	return &d, nil
}

func (s *Store) Watchers() int {
	return s.local.Watchers()
}

func (s *Store) Close() error {
	s.local.Close()
	return s.rdb.Close()
}
