package game

import (
	"time"

	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/utils"
	log "github.com/sirupsen/logrus"
)

// =============================================================================
// TIMER MANAGEMENT
// =============================================================================

// endpointsChanged runs after every endpoint join or removal. Any pending
// expiry is cancelled; once only the pipe is left a server room arms the
// expiry timer, while a client room stops right away.
func (a *Actor) endpointsChanged(count int) {
	a.stopExpiry()
	if count != 1 {
		return
	}

	switch {
	case a.Room.Mode == internal.ModeClient:
		log.Printf("[endpointsChanged] room=%s: server connection gone, stopping", a.Room.Key)
		a.Stop()
	case !a.Room.IsLocal:
		a.armExpiry()
	}
}

func (a *Actor) armExpiry() {
	a.Room.Mu.Lock()
	a.expiryGen++
	gen := a.expiryGen
	a.Room.Expiry = time.AfterFunc(a.opts.Expiry, func() { a.expire(gen) })
	a.Room.Mu.Unlock()

	log.Printf("[armExpiry] room=%s: no clients left, closing in %v", a.Room.Key, a.opts.Expiry)
}

func (a *Actor) stopExpiry() {
	a.Room.Mu.Lock()
	defer a.Room.Mu.Unlock()
	if a.Room.Expiry == nil {
		return
	}
	a.Room.Expiry.Stop()
	a.Room.Expiry = nil
	a.expiryGen++
	log.Debugf("[stopExpiry] room=%s: expiry cancelled", a.Room.Key)
}

func (a *Actor) expire(gen uint64) {
	a.Room.Mu.Lock()
	current := a.Room.Expiry != nil && a.expiryGen == gen
	idle := len(a.Room.Endpoints) == 1
	if current {
		a.Room.Expiry = nil
	}
	a.Room.Mu.Unlock()

	if !current || !idle {
		return
	}
	log.Printf("[expire] room=%s: idle for %v, closing", a.Room.Key, a.opts.Expiry)
	a.Stop()
}

// ExpiryArmed reports whether the idle expiry timer is running.
func (a *Actor) ExpiryArmed() bool {
	a.Room.Mu.RLock()
	defer a.Room.Mu.RUnlock()
	return a.Room.Expiry != nil
}

// countdown sleeps until countAt, then emits one countdown event per
// second and returns at startAt. It reports false when the room stopped.
func (a *Actor) countdown(countAt, startAt time.Time) bool {
	for i := 0; i < internal.CountdownSeconds; i++ {
		at := countAt.Add(time.Duration(i) * time.Second)
		if !at.Before(startAt) {
			break
		}
		if !utils.SleepUntil(at, a.stopCh) {
			return false
		}
		a.notify(internal.EventCountdown, 0, internal.CountdownSeconds-i)
	}
	return utils.SleepUntil(startAt, a.stopCh)
}

// refresh emits UI refresh events at a fixed rate until done is closed.
func (a *Actor) refresh(done <-chan struct{}) {
	ticker := time.NewTicker(internal.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.notify(internal.EventRefresh, 0, 0)
		case <-done:
			return
		case <-a.stopCh:
			return
		}
	}
}
