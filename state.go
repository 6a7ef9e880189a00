package rtsp

import (
	"time"
)

// State of the session negotiation.
type State int32

const (
	StateIdle State = iota
	StateAwaitingDescribe
	StateSettingUpSubstreams
	StateAwaitingPlay
	StatePlaying
	StateTeardown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingDescribe:
		return "awaiting-describe"
	case StateSettingUpSubstreams:
		return "setting-up-substreams"
	case StateAwaitingPlay:
		return "awaiting-play"
	case StatePlaying:
		return "playing"
	case StateTeardown:
		return "teardown"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// sessionState is the per-connection state. Owned by the session loop.
type sessionState struct {
	desc       *SessionDescription
	substreams []*Substream

	// setup iteration
	cursor  int
	current *Substream

	// substreams that completed SETUP
	ready int

	expiry    taskToken
	keepAlive taskToken

	// seconds, zero for live or indeterminate
	duration float64
}

func newSessionState(desc *SessionDescription) *sessionState {
	return &sessionState{
		desc:       desc,
		substreams: desc.Substreams,
	}
}

// next advances the cursor. Returns nil when every substream was visited.
func (s *sessionState) next() *Substream {
	if s.cursor >= len(s.substreams) {
		s.current = nil
		return nil
	}

	s.current = s.substreams[s.cursor]
	s.cursor++

	return s.current
}

// active reports whether any substream still has a relay attached.
func (s *sessionState) active() bool {
	for _, sub := range s.substreams {
		if sub.relay != nil {
			return true
		}
	}

	return false
}

func (s *sessionState) expiryDelay(slack time.Duration) time.Duration {
	return time.Duration(s.duration*float64(time.Second)) + slack
}

// release cancels pending timers and closes every source.
func (s *sessionState) release(sched *scheduler) {
	sched.UnscheduleDelayedTask(s.expiry)
	sched.UnscheduleDelayedTask(s.keepAlive)
	s.expiry = 0
	s.keepAlive = 0

	for _, sub := range s.substreams {
		if sub.source != nil {
			sub.source.SetByeHandler(nil)
			sub.source.Close()
			sub.source = nil
		}
	}

	s.substreams = nil
	s.current = nil
}
