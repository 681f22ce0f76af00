package router

import (
	"time"

	"github.com/lozlokesh-lgtm/taxi/internal/views"
)

// CallSession is a simulated call. Its phase and duration are derived from
// the moment CALL mode was entered, so dropping the session is all it takes
// to stop it: there is no ticker left behind to fire against a closed view.
type CallSession struct {
	StartedAt    time.Time
	ConnectDelay time.Duration
	Muted        bool
}

func newCallSession(now time.Time, delay time.Duration) *CallSession {
	return &CallSession{StartedAt: now, ConnectDelay: delay}
}

// View reports "connecting" until the delay has elapsed, then "active" with
// whole seconds counted from the moment the call connected.
func (c *CallSession) View(now time.Time) views.Call {
	elapsed := now.Sub(c.StartedAt)
	if elapsed < c.ConnectDelay {
		return views.Call{Phase: views.CallConnecting, Label: "Connecting...", Muted: c.Muted}
	}
	secs := int((elapsed - c.ConnectDelay) / time.Second)
	return views.Call{Phase: views.CallActive, DurationSeconds: secs, Label: views.CallClock(secs), Muted: c.Muted}
}
