package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/kuba2k2/zuzel-sub000/internal"
	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	"github.com/kuba2k2/zuzel-sub000/internal/utils"
	log "github.com/sirupsen/logrus"
)

// =============================================================================
// GAME FLOW - MATCH & ROUND MANAGEMENT
// =============================================================================

type roundTime struct {
	round   int
	countAt time.Time
	startAt time.Time
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

func (a *Actor) startMatch(run func()) {
	a.matchWG.Add(1)
	go func() {
		defer a.matchWG.Done()
		run()
	}()
}

// runServerMatch plays rounds until the configured count is reached, the
// round cannot start, or the room stops.
func (a *Actor) runServerMatch() {
	a.Room.Mu.Lock()
	rounds := a.Room.Rounds
	for _, p := range a.Room.Players {
		p.Mu.Lock()
		p.PointsMatch = 0
		p.Mu.Unlock()
	}
	a.Room.Mu.Unlock()

	log.Printf("[runServerMatch] room=%s: match started, %d rounds", a.Room.Key, rounds)

	played := 0
	for round := 1; round <= rounds; round++ {
		if !a.playServerRound(round) {
			log.Printf("[runServerMatch] room=%s: round %d aborted", a.Room.Key, round)
			break
		}
		played = round
		if round == rounds || !a.waitReady() {
			break
		}
	}

	if err := a.mux.Do(func() { a.finishMatch(played) }); err != nil {
		log.Debugf("[runServerMatch] room=%s: room closed before match end", a.Room.Key)
	}
}

// playServerRound runs one round: line up, measure latency, publish the
// start time, count down and race. It reports false when the match must
// stop.
func (a *Actor) playServerRound(round int) bool {
	lined := make(chan int, 1)
	if err := a.mux.Do(func() { lined <- a.lineUp(round) }); err != nil {
		return false
	}
	var racers int
	select {
	case racers = <-lined:
	case <-a.stopCh:
		return false
	}

	if racers == 0 {
		log.Printf("[playServerRound] room=%s: round %d has no ready players", a.Room.Key, round)
		return false
	}
	a.notify(internal.EventRoundStarting, 0, round)

	rtts, err := a.measureRTT()
	if err != nil {
		log.Warnf("[playServerRound] room=%s: round %d: %v", a.Room.Key, round, err)
		return false
	}
	var maxRTT time.Duration
	for _, rtt := range rtts {
		maxRTT = max(maxRTT, rtt)
	}

	countAt := time.Now().Add(maxRTT + internal.StartMargin)
	startAt := countAt.Add(internal.CountdownSeconds * time.Second)

	a.Room.Mu.Lock()
	a.Room.RTT = rtts
	a.Room.CountAt = countAt
	a.Room.StartAt = startAt
	a.Room.Phase = internal.PhaseCounting
	a.Room.Mu.Unlock()

	log.Printf("[playServerRound] room=%s: round %d, %d racers, max rtt %v",
		a.Room.Key, round, racers, maxRTT)
	a.post(&protocol.RequestTimeSync{Round: uint32(round)})

	if !a.countdown(countAt, startAt) {
		return false
	}
	return a.race(racers)
}

// lineUp resets the ready players onto the grid and sends everyone the new
// state. It runs on the actor goroutine so no keypress lands between the
// reset and the snapshot.
func (a *Actor) lineUp(round int) int {
	a.Room.Mu.Lock()
	a.Room.Round = round
	a.Room.Phase = internal.PhaseStarting
	racers := a.Room.ResetForRound()
	a.Room.Mu.Unlock()

	if len(racers) > 0 {
		a.sendFullData(uuid.Nil)
	}
	return len(racers)
}

// runClientMatch follows the server: each GameTime starts one round, and
// the match ends when the server room goes back to idle.
func (a *Actor) runClientMatch() {
	defer func() {
		a.Room.Mu.Lock()
		a.Room.MatchRunning = false
		a.Room.Mu.Unlock()
		log.Printf("[runClientMatch] room=%s: match ended", a.Room.Key)
	}()

	for {
		select {
		case rt := <-a.timeSync:
			a.Room.Mu.Lock()
			a.Room.Phase = internal.PhaseCounting
			a.Room.Mu.Unlock()
			a.notify(internal.EventRoundStarting, 0, rt.round)

			if !a.countdown(rt.countAt, rt.startAt) {
				return
			}
			if !a.race(0) {
				log.Printf("[runClientMatch] room=%s: round %d had no racers", a.Room.Key, rt.round)
			}
		case <-a.matchIdle:
			return
		case <-a.stopCh:
			return
		}
	}
}

// race runs the fixed-period simulation until no player is racing. It
// reports false if the room stopped or nobody raced at all.
func (a *Actor) race(racers int) bool {
	a.Room.Mu.Lock()
	a.Room.Phase = internal.PhasePlaying
	period := a.Room.TickPeriod()
	round := a.Room.Round
	a.Room.Mu.Unlock()

	a.notify(internal.EventRoundStarted, 0, round)

	if a.Room.Mode == internal.ModeClient {
		done := make(chan struct{})
		defer close(done)
		go a.refresh(done)
	}

	next := time.Now()
	for ticks := 0; ; ticks++ {
		if a.stopped() {
			return false
		}

		active, remaining := a.tick(racers)
		if ticks == 0 && active == 0 {
			return false
		}
		if remaining == 0 {
			break
		}

		next = next.Add(period)
		if !utils.SleepUntil(next, a.stopCh) {
			return false
		}
	}

	a.endRound()
	return true
}

// tick advances every racing player once. It returns how many players were
// racing before and after the tick.
func (a *Actor) tick(racers int) (active, remaining int) {
	type change struct {
		id    uint32
		event internal.EventType
	}
	var changes []change

	a.Room.Mu.Lock()
	for _, p := range a.Room.Players {
		if p.State != internal.StatePlaying {
			continue
		}
		active++

		p.Mu.Lock()
		result := p.Advance()
		lap := p.Lap
		p.Mu.Unlock()

		switch result {
		case internal.AdvanceCrashed:
			p.State = internal.StateCrashed
			changes = append(changes, change{p.ID, internal.EventPlayerCrashed})
		case internal.AdvanceFinished:
			p.State = internal.StateFinished
			a.Room.Finishes++
			if a.Room.Mode == internal.ModeServer {
				awardFinish(p, a.Room.Finishes, racers)
			}
			changes = append(changes, change{p.ID, internal.EventPlayerFinished})
		case internal.AdvanceLap:
			a.Room.Lap = max(a.Room.Lap, lap)
			remaining++
		default:
			remaining++
		}
	}
	a.Room.Mu.Unlock()

	for _, c := range changes {
		a.notify(c.event, c.id, 0)
		if a.Room.Mode == internal.ModeServer {
			a.post(&protocol.PlayerData{ID: c.id})
		}
	}
	return active, remaining
}

// endRound sends finished and crashed players back to the lobby state.
func (a *Actor) endRound() {
	a.Room.Mu.Lock()
	a.Room.Phase = internal.PhaseFinished
	round := a.Room.Round
	if a.Room.Mode == internal.ModeServer {
		for _, p := range a.Room.Players {
			if p.State == internal.StateFinished || p.State == internal.StateCrashed {
				p.State = internal.StateIdle
			}
		}
	}
	a.Room.Mu.Unlock()

	log.Printf("[endRound] room=%s: round %d finished", a.Room.Key, round)
	a.notify(internal.EventRoundFinished, 0, round)
	if a.Room.Mode == internal.ModeServer {
		a.post(&protocol.RequestSendData{})
	}
}

// waitReady blocks until no player is idle. It reports false when the room
// stopped or nobody is left to race.
func (a *Actor) waitReady() bool {
	for {
		a.Room.Mu.RLock()
		idle := a.Room.CountPlayers(internal.StateIdle)
		ready := a.Room.CountPlayers(internal.StateReady)
		a.Room.Mu.RUnlock()

		if idle == 0 {
			return ready > 0
		}

		select {
		case <-a.readyWake:
		case <-a.stopCh:
			return false
		case <-time.After(internal.ReadyPollInterval):
		}
	}
}

// receiveTime turns a GameTime into local deadlines and hands it to the
// client match, starting one if needed.
func (a *Actor) receiveTime(pkt *protocol.GameTime) {
	now := time.Now()
	rt := roundTime{
		round:   int(pkt.Round),
		countAt: now.Add(time.Duration(pkt.CountIn) * time.Millisecond),
		startAt: now.Add(time.Duration(pkt.StartIn) * time.Millisecond),
	}

	a.Room.Mu.Lock()
	a.Room.Round = rt.round
	a.Room.CountAt = rt.countAt
	a.Room.StartAt = rt.startAt
	start := !a.Room.MatchRunning && !a.Room.Stop
	if start {
		a.Room.MatchRunning = true
	}
	a.Room.Mu.Unlock()

	if start {
		drain(a.matchIdle)
	}
	select {
	case <-a.timeSync:
	default:
	}
	a.timeSync <- rt

	log.Printf("[receiveTime] room=%s: round %d counts in %dms, starts in %dms",
		a.Room.Key, rt.round, pkt.CountIn, pkt.StartIn)
	if start {
		a.startMatch(a.runClientMatch)
	}
}
