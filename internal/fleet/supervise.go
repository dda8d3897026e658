package fleet

import (
	"errors"
	"time"

	"github.com/nerrad567/spherolink/internal/toy"
)

// supervise keeps m connected while it is wanted. It exits when the fleet
// closes or the member is removed.
func (f *Fleet) supervise(m *member) {
	defer f.wg.Done()
	defer close(m.done)

	backoff := f.initial
	attempt := 0
	for {
		if !m.isWanted() {
			if !f.wait(m, nil, nil) {
				return
			}
			continue
		}

		switch m.toy.State() {
		case toy.StateDisconnected:
			attempt++
			err := m.toy.Connect(f.ctx)
			if err == nil || errors.Is(err, toy.ErrAlreadyConnected) {
				if attempt > 1 {
					f.logger.Info("toy reconnected", "toy", m.entry.Name, "attempts", attempt)
				}
				attempt = 0
				backoff = f.initial
				continue
			}
			if errors.Is(err, toy.ErrClosed) || f.ctx.Err() != nil {
				return
			}
			f.logger.Warn("toy connect attempt failed", "toy", m.entry.Name, "attempt", attempt,
				"retry_in", backoff.String(), "error", err)

			timer := time.NewTimer(backoff)
			ok := f.wait(m, timer.C, nil)
			timer.Stop()
			if !ok {
				return
			}
			backoff = nextBackoff(backoff, f.max)

		case toy.StateConnected:
			done := m.toy.Done()
			if done == nil {
				continue
			}
			if !f.wait(m, nil, done) {
				return
			}

		default:
			// Another goroutine is connecting it.
			timer := time.NewTimer(settlePoll)
			ok := f.wait(m, timer.C, nil)
			timer.Stop()
			if !ok {
				return
			}
		}
	}
}

// wait blocks until the fleet closes or the member is removed (false), or
// until m is kicked, timer fires or link goes down (true). Nil channels
// never fire.
func (f *Fleet) wait(m *member, timer <-chan time.Time, link <-chan struct{}) bool {
	select {
	case <-f.ctx.Done():
		return false
	case <-m.stop:
		return false
	case <-m.kick:
	case <-timer:
	case <-link:
	}
	return true
}
