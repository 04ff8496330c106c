package ws

import "github.com/Wyydra/yacall/internal/core/domain"

// Client is one live WebSocket watching a call.
type Client interface {
	ID() string
	CallID() domain.CallID
	Close() error
}
