package room

import "github.com/wfunc/geoguess/session"

// FailureFunc is told about a session whose send failed. It runs on the
// room's outbox goroutine, so it must not call Room.Close or block on it.
type FailureFunc func(s *session.Session, err error)
