// Package pinger drives the idle keep-alive cadence: when the channel has
// been quiet for too long, it is time to prove the session is still alive
// with a confirmable PING. Grounded on the teacher's Ping/shortCommands.go
// round-trip probe, generalized from an on-demand health check into a
// timer the driver's idle tick advances every loop iteration it doesn't
// otherwise have work to do.
package pinger

import (
	"time"

	log "github.com/ndmsystems/logger"
)

// SendPing issues a confirmable PING and returns once the transport has
// accepted it (or failed to).
type SendPing func() error

// Pinger tracks elapsed idle time and fires SendPing once the interval has
// been exceeded without other traffic.
type Pinger struct {
	interval time.Duration
	elapsed  time.Duration
	send     SendPing
}

// New creates a Pinger that pings via send after interval has elapsed with
// no other activity resetting it.
func New(interval time.Duration, send SendPing) *Pinger {
	return &Pinger{interval: interval, send: send}
}

// Tick advances the idle timer by dt and fires a ping if the interval has
// elapsed, resetting the timer regardless of the ping's outcome — a failed
// ping is the transport's problem to report through its own error path.
func (p *Pinger) Tick(dt time.Duration) error {
	p.elapsed += dt
	if p.elapsed < p.interval {
		return nil
	}
	p.elapsed = 0
	log.Debug("idle keep-alive interval elapsed, sending ping")
	return p.send()
}

// NotifyActivity resets the idle timer, called whenever any other message
// is sent or received so a burst of real traffic doesn't also trigger a
// redundant ping right afterward.
func (p *Pinger) NotifyActivity() {
	p.elapsed = 0
}

// Reset clears the idle timer, called at the start of a new session.
func (p *Pinger) Reset() {
	p.elapsed = 0
}
