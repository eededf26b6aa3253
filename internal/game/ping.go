package game

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kuba2k2/zuzel-sub000/internal/endpoint"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	errPingTimeout  = errors.New("ping timed out")
	errNoResponders = errors.New("no endpoint answered the ping")
)

type pendingPing struct {
	seq   uint32
	sent  time.Time
	reply chan time.Duration
}

// ping measures the round trip to ep. The response is matched up by
// deliverPong on the actor goroutine.
func (a *Actor) ping(ep *endpoint.Endpoint, timeout time.Duration) (time.Duration, error) {
	pending := &pendingPing{
		seq:   a.pingSeq.Add(1),
		sent:  time.Now(),
		reply: make(chan time.Duration, 1),
	}

	a.pingMu.Lock()
	a.pings[ep.ID] = pending
	a.pingMu.Unlock()
	defer func() {
		a.pingMu.Lock()
		if a.pings[ep.ID] == pending {
			delete(a.pings, ep.ID)
		}
		a.pingMu.Unlock()
	}()

	if err := ep.Send(&protocol.Ping{Seq: pending.seq, SentAt: pending.sent.UnixMilli()}); err != nil {
		return 0, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case rtt := <-pending.reply:
		return rtt, nil
	case <-timer.C:
		return 0, fmt.Errorf("%s: %w after %v", ep, errPingTimeout, timeout)
	case <-a.stopCh:
		return 0, ErrRoomClosed
	}
}

func (a *Actor) deliverPong(ep *endpoint.Endpoint, pkt *protocol.Ping) {
	a.pingMu.Lock()
	pending := a.pings[ep.ID]
	if pending == nil || pending.seq != pkt.Seq {
		a.pingMu.Unlock()
		log.Debugf("[deliverPong] room=%s: stray ping response %d from %s", a.Room.Key, pkt.Seq, ep)
		return
	}
	delete(a.pings, ep.ID)
	a.pingMu.Unlock()

	pending.reply <- time.Since(pending.sent)
}

// measureRTT pings every remote endpoint at once. Endpoints that do not
// answer in time are disconnected.
func (a *Actor) measureRTT() (map[uuid.UUID]time.Duration, error) {
	a.Room.Mu.RLock()
	targets := a.Room.RemoteEndpoints()
	a.Room.Mu.RUnlock()

	var (
		mu   sync.Mutex
		rtts = make(map[uuid.UUID]time.Duration, len(targets))
		g    errgroup.Group
	)
	for _, ep := range targets {
		g.Go(func() error {
			rtt, err := a.ping(ep, a.opts.PingTimeout)
			if err != nil {
				if errors.Is(err, ErrRoomClosed) {
					return err
				}
				log.Warnf("[measureRTT] room=%s: dropping %s: %v", a.Room.Key, ep, err)
				_ = a.mux.Do(func() { a.closeEndpoint(ep) })
				return nil
			}
			mu.Lock()
			rtts[ep.ID] = rtt
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(rtts) == 0 {
		return nil, errNoResponders
	}
	return rtts, nil
}
