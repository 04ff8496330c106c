package port

import "github.com/Wyydra/yacall/internal/core/domain"

// Connection is the peer-to-peer transport engine for one call attempt.
type Connection interface {
	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetLocalDescription(desc domain.SessionDescription) error
	// SetRemoteDescription fails with domain.ErrInvalidState when called a
	// second time.
	SetRemoteDescription(desc domain.SessionDescription) error
	// AddICECandidate may fail with domain.ErrInvalidState before a remote
	// description is set.
	AddICECandidate(c domain.IceCandidate) error

	// OnICECandidate receives nil once gathering is complete.
	OnICECandidate(fn func(*domain.IceCandidate))
	OnTrack(fn func(domain.RemoteTrack))
	OnConnectionStateChange(fn func(domain.ConnectionState))

	// Close is idempotent.
	Close() error
}

// ConnectionFactory builds a fresh Connection with the local media bound.
type ConnectionFactory interface {
	NewConnection(media LocalMedia) (Connection, error)
}
