// Package sqlite is a rendezvous store that keeps Call Records in a SQLite
// database. Subscribers are notified by the process that performs the write.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/Wyydra/yacall/internal/adapter/driven/signaling/broker"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id         TEXT PRIMARY KEY,
	offer      TEXT,
	answer     TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS candidates (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id TEXT NOT NULL UNIQUE,
	call_id  TEXT NOT NULL REFERENCES calls(id),
	side     TEXT NOT NULL,
	payload  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS candidates_call_side ON candidates(call_id, side, seq);
`

// Store implements port.SignalingChannel on SQLite.
type Store struct {
	db   *sql.DB
	path string

	// mu orders writes against subscription snapshots so a subscriber never
	// sees an older record after a newer one.
	mu     sync.Mutex
	broker *broker.Broker
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create database dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configure database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create schema")
	}

	log.Info().Str("path", path).Msg("SQLite store opened")
	return &Store{db: db, path: path, broker: broker.New()}, nil
}

func (s *Store) CreateRecord(ctx context.Context) (domain.CallID, error) {
	id := domain.NewCallID()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO calls (id) VALUES (?)`, id.String()); err != nil {
		return "", errors.Wrap(err, "insert call")
	}
	return id, nil
}

func (s *Store) GetRecord(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	return s.load(ctx, id)
}

func (s *Store) SetOffer(ctx context.Context, id domain.CallID, offer domain.SessionDescription) error {
	return s.setDescription(ctx, id, `UPDATE calls SET offer = ? WHERE id = ? AND offer IS NULL`, offer, "already has an offer")
}

func (s *Store) SetAnswer(ctx context.Context, id domain.CallID, answer domain.SessionDescription) error {
	return s.setDescription(ctx, id, `UPDATE calls SET answer = ? WHERE id = ? AND offer IS NOT NULL AND answer IS NULL`, answer, "has no offer or is already answered")
}

func (s *Store) setDescription(ctx context.Context, id domain.CallID, query string, desc domain.SessionDescription, conflict string) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return errors.Wrap(err, "encode description")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, string(payload), id.String())
	if err != nil {
		return errors.Wrapf(err, "update call %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		if _, err := s.load(ctx, id); err != nil {
			return err
		}
		return errors.Wrapf(domain.ErrConflict, "call %s %s", id, conflict)
	}

	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	s.broker.PublishRecord(rec)
	return nil
}

func (s *Store) AppendCandidate(ctx context.Context, id domain.CallID, side domain.Side, c domain.IceCandidate) (domain.EntryID, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "encode candidate")
	}
	e := domain.CandidateEntry{ID: domain.NewEntryID(), IceCandidate: c}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(ctx, id); err != nil {
		return "", err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO candidates (entry_id, call_id, side, payload) VALUES (?, ?, ?, ?)`,
		e.ID.String(), id.String(), string(side), string(payload),
	); err != nil {
		return "", errors.Wrap(err, "insert candidate")
	}
	s.broker.PublishCandidate(id, side, e)
	return e.ID, nil
}

func (s *Store) SubscribeRecord(ctx context.Context, id domain.CallID, onChange func(domain.CallRecord)) (port.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.broker.WatchRecord(id, onChange)
	rec, err := s.load(ctx, id)
	switch {
	case err == nil:
		w.Deliver(rec)
	case !errors.Is(err, domain.ErrNotFound):
		w.Unsubscribe()
		return nil, err
	}
	return w, nil
}

func (s *Store) SubscribeCandidates(ctx context.Context, id domain.CallID, side domain.Side, onAdded func(domain.CandidateEntry)) (port.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.broker.WatchCandidates(id, side, onAdded)
	entries, err := s.candidates(ctx, id, side)
	if err != nil {
		w.Unsubscribe()
		return nil, err
	}
	w.Deliver(entries...)
	return w, nil
}

func (s *Store) load(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	var offer, answer sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT offer, answer FROM calls WHERE id = ?`, id.String()).Scan(&offer, &answer)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CallRecord{}, errors.Wrapf(domain.ErrNotFound, "call %s", id)
	}
	if err != nil {
		return domain.CallRecord{}, errors.Wrapf(err, "select call %s", id)
	}

	rec := domain.CallRecord{ID: id}
	if rec.Offer, err = decodeDescription(offer); err != nil {
		return domain.CallRecord{}, err
	}
	if rec.Answer, err = decodeDescription(answer); err != nil {
		return domain.CallRecord{}, err
	}
	return rec, nil
}

func (s *Store) candidates(ctx context.Context, id domain.CallID, side domain.Side) ([]domain.CandidateEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, payload FROM candidates WHERE call_id = ? AND side = ? ORDER BY seq`,
		id.String(), string(side),
	)
	if err != nil {
		return nil, errors.Wrap(err, "select candidates")
	}
	defer rows.Close()

	var out []domain.CandidateEntry
	for rows.Next() {
		var entryID, payload string
		if err := rows.Scan(&entryID, &payload); err != nil {
			return nil, errors.Wrap(err, "scan candidate")
		}
		e := domain.CandidateEntry{ID: domain.EntryID(entryID)}
		if err := json.Unmarshal([]byte(payload), &e.IceCandidate); err != nil {
			log.Warn().Err(err).Str("entry_id", entryID).Msg("Skipping undecodable candidate")
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func decodeDescription(v sql.NullString) (*domain.SessionDescription, error) {
	if !v.Valid {
		return nil, nil
	}
	var d domain.SessionDescription
	if err := json.Unmarshal([]byte(v.String), &d); err != nil {
		return nil, errors.Wrap(err, "decode description")
	}
	return &d, nil
}

func (s *Store) Watchers() int {
	return s.broker.Watchers()
}

func (s *Store) Close() error {
	s.broker.Close()
	return s.db.Close()
}
