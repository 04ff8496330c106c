// Package cli presents a call's lifecycle on a terminal.
package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
)

var phaseText = map[domain.Phase]string{
	domain.PhaseIdle:         "hung up",
	domain.PhaseMediaReady:   "media ready",
	domain.PhaseNegotiating:  "waiting for the other side",
	domain.PhasePeerJoined:   "peer joined, connecting",
	domain.PhaseConnected:    "connected",
	domain.PhaseDisconnected: "connection lost, retrying",
	domain.PhaseClosed:       "closing",
}

// Observer writes one line per lifecycle change.
type Observer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewObserver(out io.Writer) *Observer {
	return &Observer{out: out}
}

func (o *Observer) PhaseChanged(p domain.Phase) {
	log.Debug().Stringer("phase", p).Msg("Phase changed")
	o.printf("* %s\n", phaseText[p])
}

func (o *Observer) BadInput(active bool) {
	if active {
		o.printf("! that call id did not work, check it and try again\n")
	}
}

func (o *Observer) printf(format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.out, format, args...)
}
