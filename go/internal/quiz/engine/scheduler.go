package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type jobKind string

const (
	jobCountdownElapsed   jobKind = "countdownElapsed"
	jobRoundExpired       jobKind = "roundExpired"
	jobHostGraceExpired   jobKind = "hostGraceExpired"
	jobPlayerGraceExpired jobKind = "playerGraceExpired"
)

// job is deferred work fired by a timer. Every handler re-validates the
// session before acting, so a stale job is a no-op.
type job struct {
	kind      jobKind
	sessionID string
	game      int
	round     int
	name      string
	connID    string
}

func (j job) key() string {
	return fmt.Sprintf("%s:%s:%d:%d:%s", j.kind, j.sessionID, j.game, j.round, j.connID)
}

func countdownTimerKey(code string) string { return "countdown:" + code }
func roundTimerKey(code string) string     { return "round:" + code }
func hostTimerKey(code string) string      { return "host:" + code }
func playerTimerKey(connID string) string  { return "player:" + connID }

// scheduledTimer is a pending timer and the signal that releases its
// goroutine when the timer is cancelled.
type scheduledTimer struct {
	timer clockwork.Timer
	done  chan struct{}
}

func (st *scheduledTimer) stop() {
	stopAndDrainTimer(st.timer)
	close(st.done)
}

// schedule arms a one-shot timer under key that enqueues j when it fires.
// An existing timer under the same key is replaced.
func (e *Engine) schedule(key string, d time.Duration, j job) {
	if d < 0 {
		d = 0
	}
	st := &scheduledTimer{timer: e.clock.NewTimer(d), done: make(chan struct{})}
	e.replaceTimer(key, st)

	go func() {
		select {
		case <-st.timer.Chan():
			if e.removeTimer(key, st) {
				e.enqueue(j)
			}
		case <-st.done:
		case <-e.ctx.Done():
		}
	}()

	log.Debug().
		Str("timer", key).
		Str("session_id", j.sessionID).
		Dur("duration", d).
		Msg("scheduled one-shot timer")
}

// enqueue hands j to the worker pool unless the same job is already in flight.
func (e *Engine) enqueue(j job) {
	k := j.key()
	e.inFlightMu.Lock()
	if e.inFlight[k] {
		e.inFlightMu.Unlock()
		log.Debug().Str("job", k).Str("instance", e.instanceID).Msg("skipping job already in flight")
		return
	}
	e.inFlight[k] = true
	e.inFlightMu.Unlock()

	select {
	case e.workCh <- j:
	case <-e.ctx.Done():
		e.inFlightMu.Lock()
		delete(e.inFlight, k)
		e.inFlightMu.Unlock()
	}
}

// replaceTimer atomically replaces the timer under key, cancelling any
// existing one.
func (e *Engine) replaceTimer(key string, st *scheduledTimer) {
	e.activeTimersMu.Lock()
	defer e.activeTimersMu.Unlock()

	if existing, ok := e.activeTimers[key]; ok {
		existing.stop()
		log.Debug().Str("timer", key).Msg("replaced existing timer")
	}
	e.activeTimers[key] = st
}

// stopAndDrainTimer stops a timer and drains its channel.
func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}

func (e *Engine) cancelTimer(key string) {
	e.activeTimersMu.Lock()
	defer e.activeTimersMu.Unlock()

	if st, ok := e.activeTimers[key]; ok {
		st.stop()
		delete(e.activeTimers, key)
		log.Debug().Str("timer", key).Msg("cancelled timer")
	}
}

// removeTimer forgets st after it fired. It returns false if st was
// cancelled or replaced in the meantime, in which case the job is dropped.
func (e *Engine) removeTimer(key string, st *scheduledTimer) bool {
	e.activeTimersMu.Lock()
	defer e.activeTimersMu.Unlock()
	if cur, ok := e.activeTimers[key]; ok && cur == st {
		delete(e.activeTimers, key)
		return true
	}
	return false
}

func (e *Engine) worker(wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case j := <-e.workCh:
			e.runJob(j, workerID)

			e.inFlightMu.Lock()
			delete(e.inFlight, j.key())
			e.inFlightMu.Unlock()
		}
	}
}

func (e *Engine) runJob(j job, workerID int) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.JobTimeout)
	defer cancel()

	var err error
	switch j.kind {
	case jobCountdownElapsed:
		err = e.countdownElapsed(ctx, j.sessionID, j.game, j.round)
	case jobRoundExpired:
		err = e.roundExpired(ctx, j.sessionID, j.game, j.round)
	case jobHostGraceExpired:
		err = e.hostGraceExpired(ctx, j.sessionID, j.connID)
	case jobPlayerGraceExpired:
		err = e.playerGraceExpired(ctx, j.sessionID, j.name, j.connID)
	default:
		err = fmt.Errorf("unknown job kind %q", j.kind)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("job", string(j.kind)).
			Str("session_id", j.sessionID).
			Str("instance", e.instanceID).
			Int("worker_id", workerID).
			Msg("job failed")
	}
}
