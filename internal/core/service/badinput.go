package service

import (
	"time"

	"github.com/benbjohnson/clock"
)

const DefaultBadInputInterval = 5 * time.Second

// badInputSignal is the transient "check the call id" flag. Raising it again
// while active restarts the interval.
type badInputSignal struct {
	clock    clock.Clock
	interval time.Duration

	active bool
	gen    uint64
	timer  *clock.Timer
}

// raise sets the flag and schedules expire with the generation that must
// still be current when it fires. It reports whether the flag changed.
func (b *badInputSignal) raise(expire func(gen uint64)) bool {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = b.clock.AfterFunc(b.interval, func() { expire(gen) })

	changed := !b.active
	b.active = true
	return changed
}

// clear drops the flag if gen is the latest raise.
func (b *badInputSignal) clear(gen uint64) bool {
	if gen != b.gen || !b.active {
		return false
	}
	b.active = false
	b.timer = nil
	return true
}

func (b *badInputSignal) stop() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
