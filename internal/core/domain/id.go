package domain

import (
	"strings"

	"github.com/google/uuid"
)

// CallID identifies one Call Record in the rendezvous store.
type CallID string

func NewCallID() CallID {
	return CallID(uuid.New().String())
}

// ParseCallID accepts whatever the user typed or pasted. It only rejects
// blank input; whether the record exists is for the store to say.
func ParseCallID(s string) (CallID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrInvalidCallID
	}
	return CallID(s), nil
}

func (id CallID) String() string {
	return string(id)
}

// EntryID identifies one appended candidate entry.
type EntryID string

func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}

func (id EntryID) String() string {
	return string(id)
}
