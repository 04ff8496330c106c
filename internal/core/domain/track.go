package domain

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// RemoteTrack describes a media track received from the peer.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     MediaKind
}
