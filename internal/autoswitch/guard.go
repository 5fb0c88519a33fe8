package autoswitch

// sessionSnapshot is the three-value fingerprint the quiescence guard
// compares across sleeps (spec §4.6: "s1 = (event_seq, user_seq,
// |open_turns|)").
type sessionSnapshot struct {
	EventSeq  int64
	UserSeq   int64
	OpenTurns int
}

func (a sessionSnapshot) equal(b sessionSnapshot) bool {
	return a.EventSeq == b.EventSeq && a.UserSeq == b.UserSeq && a.OpenTurns == b.OpenTurns
}

func (a sessionSnapshot) quiescent() bool { return a.OpenTurns == 0 }

// Resync re-reads the live session fingerprint; supplied by the
// caller since only it owns the tail state.
type Resync func() (eventSeq, userSeq int64, openTurns int)

// quiescenceGuard implements spec §4.6's required pre-switch check:
// three identical, zero-open-turn snapshots separated by two 250ms
// sleeps. Returns the final confirmed snapshot on success.
func (s *Scheduler) quiescenceGuard(resync Resync) (sessionSnapshot, bool) {
	snap := func() sessionSnapshot {
		e, u, o := resync()
		return sessionSnapshot{EventSeq: e, UserSeq: u, OpenTurns: o}
	}

	s1 := snap()
	if !s1.quiescent() {
		return sessionSnapshot{}, false
	}

	s.sleep(guardSleep)
	s2 := snap()
	if !s2.equal(s1) || !s2.quiescent() {
		return sessionSnapshot{}, false
	}

	s.sleep(guardSleep)
	s3 := snap()
	if !s3.equal(s2) || !s3.quiescent() {
		return sessionSnapshot{}, false
	}

	return s3, true
}
