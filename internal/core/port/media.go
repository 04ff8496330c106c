package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type MediaSource interface {
	// Acquire returns domain.ErrMediaDenied when the user declines.
	Acquire(ctx context.Context) (LocalMedia, error)
}

// LocalMedia is an opaque handle to captured tracks.
type LocalMedia interface {
	// Stop is idempotent.
	Stop() error
}

// MediaSink renders what the peer sends.
type MediaSink interface {
	Attach(track domain.RemoteTrack)
	// Release is idempotent.
	Release()
}
