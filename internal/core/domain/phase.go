package domain

// Phase is the lifecycle state of one client.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseMediaReady
	PhaseNegotiating
	PhasePeerJoined
	PhaseConnected
	PhaseDisconnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMediaReady:
		return "media-ready"
	case PhaseNegotiating:
		return "negotiating"
	case PhasePeerJoined:
		return "peer-joined"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var transitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseMediaReady},
	PhaseMediaReady:   {PhaseNegotiating},
	PhaseNegotiating:  {PhasePeerJoined, PhaseMediaReady},
	PhasePeerJoined:   {PhaseConnected, PhaseDisconnected, PhaseMediaReady},
	PhaseConnected:    {PhaseDisconnected},
	PhaseDisconnected: {PhaseConnected},
	PhaseClosed:       {PhaseIdle},
}

// CanTransition reports whether to is reachable from p in one step.
// Closed is reachable from every phase other than Idle (Quit).
func (p Phase) CanTransition(to Phase) bool {
	if to == PhaseClosed {
		return p != PhaseIdle && p != PhaseClosed
	}
	for _, next := range transitions[p] {
		if next == to {
			return true
		}
	}
	return false
}

// ConnectionState is what the transport engine reports about the peer link.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}
