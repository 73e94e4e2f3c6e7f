package session

import "time"

// LogKind classifies a game-log entry.
type LogKind string

const (
	LogBid         LogKind = "bid"
	LogLiar        LogKind = "liar"
	LogReveal      LogKind = "reveal"
	LogRound       LogKind = "round"
	LogElimination LogKind = "elimination"
	LogSystem      LogKind = "system"
)

// LogEntry narrates one accepted transition, newest first in the session's
// log. Rejected local actions never make it here.
type LogEntry struct {
	Message string
	Kind    LogKind
	At      time.Time
}
