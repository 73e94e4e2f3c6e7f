package session

import (
	"time"
)

// timerFire is delivered when the armed deadline elapses. Gen guards against
// stale fires racing a turn that already advanced.
type timerFire struct {
	Gen      int
	PlayerID string
}

// turnTimer is the per-session countdown. Every participant tracks the
// deadline so it can render remaining time from the wall clock, but only the
// authoritative session arms the firing side; everyone else never emits a
// timeout.
type turnTimer struct {
	d             time.Duration
	authoritative bool
	gen           int
	deadline      time.Time
	fire          chan timerFire
}

func newTurnTimer(authoritative bool) *turnTimer {
	return &turnTimer{
		authoritative: authoritative,
		fire:          make(chan timerFire, 4),
	}
}

// Configure sets the per-turn duration. Zero seconds disables the timer
// entirely: no deadline, no timeout events, ever.
func (t *turnTimer) Configure(seconds int) {
	t.d = time.Duration(seconds) * time.Second
}

// C is the fire channel the session loop selects on.
func (t *turnTimer) C() <-chan timerFire { return t.fire }

// Restart arms a fresh countdown for the given turn holder, invalidating any
// outstanding fire.
func (t *turnTimer) Restart(playerID string) {
	t.gen++
	if t.d <= 0 {
		return
	}
	t.deadline = time.Now().Add(t.d)

	if !t.authoritative {
		return
	}
	gen := t.gen
	time.AfterFunc(t.d, func() {
		select {
		case t.fire <- timerFire{Gen: gen, PlayerID: playerID}:
		default:
		}
	})
}

// Stop invalidates any outstanding fire without arming a new one.
func (t *turnTimer) Stop() {
	t.gen++
	t.deadline = time.Time{}
}

// Valid reports whether a fire belongs to the currently armed countdown.
func (t *turnTimer) Valid(f timerFire) bool {
	return f.Gen == t.gen
}

// Remaining recomputes time left from the wall clock rather than counting
// ticks, so a suspended process resynchronizes on resume. The second return
// is false when the timer is disabled or idle.
func (t *turnTimer) Remaining() (time.Duration, bool) {
	if t.d <= 0 || t.deadline.IsZero() {
		return 0, false
	}
	left := time.Until(t.deadline)
	if left < 0 {
		left = 0
	}
	return left, true
}
