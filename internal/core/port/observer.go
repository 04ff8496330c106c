package port

import "github.com/Wyydra/yacall/internal/core/domain"

// Observer is the presentation layer's view of a client.
// Methods are called from the controller goroutine and must not block.
type Observer interface {
	PhaseChanged(phase domain.Phase)
	BadInput(active bool)
}
