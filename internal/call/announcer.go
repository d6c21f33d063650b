package call

import (
	"sync"
	"time"
)

// announcer re-broadcasts presence while the Coordinator awaits a
// counterpart. The relay gives no assurance that both ends are subscribed at
// the same moment, so a single join could be silently lost; re-announcing up
// to a fixed budget covers the late subscriber.
//
// One announcer serves one transport lifetime. Stopping it is permanent; a
// fresh transport gets a fresh announcer.
type announcer struct {
	interval time.Duration
	attempts int
	announce func()

	stopOnce sync.Once
	stop     chan struct{}
	finished chan struct{}
}

// newAnnouncer starts announcing immediately: one call to announce up front,
// then one per interval until the budget (attempts, initial included) is
// spent or Stop is called. Exhausting the budget is not an error.
func newAnnouncer(interval time.Duration, attempts int, announce func()) *announcer {
	a := &announcer{
		interval: interval,
		attempts: attempts,
		announce: announce,
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *announcer) run() {
	defer close(a.finished)

	a.announce()
	sent := 1

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for sent < a.attempts {
		select {
		case <-ticker.C:
			a.announce()
			sent++
		case <-a.stop:
			return
		}
	}
}

// Stop cancels announcing immediately and permanently. Idempotent.
func (a *announcer) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Done reports completion, whether by exhaustion or Stop.
func (a *announcer) Done() <-chan struct{} {
	return a.finished
}
