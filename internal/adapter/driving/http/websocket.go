package http

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients are native peers, not browsers on a trusted origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient is one watcher connection. Store callbacks write to it; the
// handler goroutine only reads, to notice the peer going away.
type WSClient struct {
	id     string
	callID domain.CallID
	conn   *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) CallID() domain.CallID {
	return c.callID
}

func (c *WSClient) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteJSON(v)
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (h *Handler) watchCall(w http.ResponseWriter, r *http.Request) {
	id := callID(r)
	h.serveWatch(w, r, id, func(c *WSClient) (port.Subscription, error) {
		return h.Store.SubscribeRecord(r.Context(), id, func(rec domain.CallRecord) {
			if err := c.Send(rec); err != nil {
				log.Debug().Err(err).Str("client_id", c.ID()).Msg("Dropping record update")
			}
		})
	})
}

func (h *Handler) watchCandidates(w http.ResponseWriter, r *http.Request) {
	side, err := domain.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := callID(r)
	h.serveWatch(w, r, id, func(c *WSClient) (port.Subscription, error) {
		return h.Store.SubscribeCandidates(r.Context(), id, side, func(e domain.CandidateEntry) {
			if err := c.Send(e); err != nil {
				log.Debug().Err(err).Str("client_id", c.ID()).Msg("Dropping candidate")
			}
		})
	})
}

func (h *Handler) serveWatch(w http.ResponseWriter, r *http.Request, id domain.CallID, subscribe func(*WSClient) (port.Subscription, error)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:     uuid.New().String(),
		callID: id,
		conn:   conn,
	}

	l := log.With().Str("client_id", client.id).Str("call_id", id.String()).Logger()

	if !h.Hub.Register(client) {
		client.Close()
		return
	}

	sub, err := subscribe(client)
	if err != nil {
		l.Error().Err(err).Msg("Subscribe failed")
		h.Hub.Unregister(client)
		return
	}
	l.Debug().Msg("Watcher connected")

	defer func() {
		l.Debug().Msg("Watcher disconnected")
		sub.Unsubscribe()
		h.Hub.Unregister(client)
		client.Close()
	}()

	// Watchers never send anything; reading only surfaces the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
	}
}
