// Package remote talks to a yacall rendezvous server: plain HTTP for reads
// and writes, one WebSocket per subscription.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// Channel implements port.SignalingChannel against a rendezvous server.
type Channel struct {
	base   *url.URL
	client *http.Client
	dialer *websocket.Dialer
}

// New returns a Channel for the server at baseURL, e.g. http://host:8080.
func New(baseURL string) (*Channel, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse server url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported server scheme %q", u.Scheme)
	}
	return &Channel{
		base:   u,
		client: &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

func (c *Channel) callURL(id domain.CallID, parts ...string) string {
	p := c.base.String() + "/calls/" + url.PathEscape(id.String())
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *Channel) watchURL(httpURL string) string {
	if strings.HasPrefix(httpURL, "https://") {
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	}
	return "ws://" + strings.TrimPrefix(httpURL, "http://")
}

func (c *Channel) CreateRecord(ctx context.Context) (domain.CallID, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, c.base.String()+"/calls/", nil, &resp); err != nil {
		return "", err
	}
	return domain.CallID(resp.ID), nil
}

func (c *Channel) GetRecord(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	var rec domain.CallRecord
	if err := c.do(ctx, http.MethodGet, c.callURL(id)+"/", nil, &rec); err != nil {
		return domain.CallRecord{}, err
	}
	return rec, nil
}

func (c *Channel) SetOffer(ctx context.Context, id domain.CallID, offer domain.SessionDescription) error {
	return c.do(ctx, http.MethodPut, c.callURL(id, "offer"), offer, nil)
}

func (c *Channel) SetAnswer(ctx context.Context, id domain.CallID, answer domain.SessionDescription) error {
	return c.do(ctx, http.MethodPut, c.callURL(id, "answer"), answer, nil)
}

func (c *Channel) AppendCandidate(ctx context.Context, id domain.CallID, side domain.Side, cand domain.IceCandidate) (domain.EntryID, error) {
	var e domain.CandidateEntry
	if err := c.do(ctx, http.MethodPost, c.callURL(id, "candidates", string(side)), cand, &e); err != nil {
		return "", err
	}
	return e.ID, nil
}

func (c *Channel) do(ctx context.Context, method, target string, body, out any) error {
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		r = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, target)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.Wrap(domain.ErrNotFound, body.Error)
	case http.StatusConflict:
		return errors.Wrap(domain.ErrConflict, body.Error)
	default:
		return errors.Errorf("server returned %s: %s", resp.Status, body.Error)
	}
}

func (c *Channel) SubscribeRecord(ctx context.Context, id domain.CallID, onChange func(domain.CallRecord)) (port.Subscription, error) {
	return c.watch(ctx, c.callURL(id, "watch"), func(raw json.RawMessage) {
		var rec domain.CallRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Err(err).Str("call_id", id.String()).Msg("Dropping undecodable record")
			return
		}
		onChange(rec)
	})
}

func (c *Channel) SubscribeCandidates(ctx context.Context, id domain.CallID, side domain.Side, onAdded func(domain.CandidateEntry)) (port.Subscription, error) {
	seen := make(map[domain.EntryID]struct{})
	return c.watch(ctx, c.callURL(id, "candidates", string(side), "watch"), func(raw json.RawMessage) {
		var e domain.CandidateEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			log.Warn().Err(err).Str("call_id", id.String()).Msg("Dropping undecodable candidate")
			return
		}
		if _, dup := seen[e.ID]; dup {
			return
		}
		seen[e.ID] = struct{}{}
		onAdded(e)
	})
}

// Redial delays after the server drops a watch socket.
const (
	minRedial = 100 * time.Millisecond
	maxRedial = 5 * time.Second
)

// subscription follows one watch URL until Unsubscribe. A socket dropped by
// the server is redialed; the server replays a snapshot on every subscribe.
type subscription struct {
	mu   sync.Mutex
	conn *websocket.Conn
	once sync.Once
	done chan struct{}
}

// swap installs conn as the live socket. It reports false, closing conn, if
// the subscription has already ended.
func (s *subscription) swap(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		conn.Close()
		return false
	default:
	}
	s.conn = conn
	return true
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		conn := s.conn
		s.mu.Unlock()

		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
}

func (s *subscription) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (c *Channel) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.watchURL(target), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return nil, statusError(resp)
		}
		return nil, errors.Wrapf(err, "dial %s", target)
	}
	return conn, nil
}

func (c *Channel) watch(ctx context.Context, target string, handle func(json.RawMessage)) (*subscription, error) {
	conn, err := c.dial(ctx, target)
	if err != nil {
		return nil, err
	}
	sub := &subscription{conn: conn, done: make(chan struct{})}
	go c.follow(sub, conn, target, handle)
	return sub, nil
}

// follow reads conn and every replacement socket until the subscription ends.
func (c *Channel) follow(sub *subscription, conn *websocket.Conn, target string, handle func(json.RawMessage)) {
	delay := minRedial
	for {
		received := c.read(sub, conn, handle)
		if sub.stopped() {
			return
		}
		if received {
			delay = minRedial
		}
		log.Warn().Str("url", target).Dur("retry_in", delay).Msg("Watch dropped, reconnecting")

		for {
			select {
			case <-sub.done:
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxRedial)

			ctx, cancel := context.WithTimeout(context.Background(), c.dialer.HandshakeTimeout)
			next, err := c.dial(ctx, target)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("url", target).Msg("Watch redial failed")
				continue
			}
			if !sub.swap(next) {
				return
			}
			conn = next
			break
		}
	}
}

// read delivers messages from conn until it fails. It reports whether any
// message arrived.
func (c *Channel) read(sub *subscription, conn *websocket.Conn, handle func(json.RawMessage)) bool {
	received := false
	for {
		var raw json.RawMessage
		if err := conn.ReadJSON(&raw); err != nil {
			if !sub.stopped() {
				log.Debug().Err(err).Msg("Watch read failed")
			}
			conn.Close()
			return received
		}
		if sub.stopped() {
			return received
		}
		received = true
		handle(raw)
	}
}
