package domain

import (
	"strconv"

	"github.com/pkg/errors"
)

type Role int

const (
	RoleUnset Role = iota
	RoleCaller
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "unset"
	}
}

// LocalSide is the candidate collection this role writes to.
func (r Role) LocalSide() Side {
	if r == RoleCallee {
		return SideAnswer
	}
	return SideOffer
}

// RemoteSide is the candidate collection this role reads from.
func (r Role) RemoteSide() Side {
	if r == RoleCallee {
		return SideOffer
	}
	return SideAnswer
}

// Side names one of the two candidate collections of a Call Record.
type Side string

const (
	SideOffer  Side = "offer"
	SideAnswer Side = "answer"
)

func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideOffer, SideAnswer:
		return Side(s), nil
	}
	return "", errors.Errorf("unknown candidate side %q", s)
}

// Collection is the name of the candidate collection in the store.
func (s Side) Collection() string {
	return string(s) + "Candidates"
}

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// Validate checks the description is of the wanted type and carries a body.
func (d SessionDescription) Validate(want SDPType) error {
	if d.Type != want {
		return errors.Wrapf(ErrRemoteDescription, "want %s, got %q", want, d.Type)
	}
	if d.SDP == "" {
		return errors.Wrapf(ErrRemoteDescription, "empty %s sdp", want)
	}
	return nil
}

type IceCandidate struct {
	Candidate        string `json:"candidate"`
	SDPMid           string `json:"sdpMid"`
	SDPMLineIndex    uint16 `json:"sdpMLineIndex"`
	UsernameFragment string `json:"usernameFragment"`
}

// Key identifies the candidate regardless of which entry carried it.
func (c IceCandidate) Key() string {
	return c.SDPMid + "/" + strconv.Itoa(int(c.SDPMLineIndex)) + "/" + c.Candidate
}

// CandidateEntry is an IceCandidate as stored in a candidate collection.
type CandidateEntry struct {
	ID EntryID `json:"id"`
	IceCandidate
}

// CallRecord is the shared document coordinating one call.
type CallRecord struct {
	ID     CallID              `json:"id"`
	Offer  *SessionDescription `json:"offer,omitempty"`
	Answer *SessionDescription `json:"answer,omitempty"`
}

func (r CallRecord) HasOffer() bool {
	return r.Offer != nil
}

func (r CallRecord) HasAnswer() bool {
	return r.Answer != nil
}

// Clone returns a copy that shares nothing with r.
func (r CallRecord) Clone() CallRecord {
	c := CallRecord{ID: r.ID}
	if r.Offer != nil {
		offer := *r.Offer
		c.Offer = &offer
	}
	if r.Answer != nil {
		answer := *r.Answer
		c.Answer = &answer
	}
	return c
}
