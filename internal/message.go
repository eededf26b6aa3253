package internal

type EventType int

const (
	EventRoomUpdated EventType = iota
	EventPlayerUpdated
	EventPlayerLeft
	EventRoundStarting
	EventCountdown
	EventRoundStarted
	EventRefresh
	EventPlayerCrashed
	EventPlayerFinished
	EventRoundFinished
	EventMatchFinished
	EventError
	EventConnectionFailed
	EventRoomClosed
)

func (t EventType) String() string {
	switch t {
	case EventRoomUpdated:
		return "room_updated"
	case EventPlayerUpdated:
		return "player_updated"
	case EventPlayerLeft:
		return "player_left"
	case EventRoundStarting:
		return "round_starting"
	case EventCountdown:
		return "countdown"
	case EventRoundStarted:
		return "round_started"
	case EventRefresh:
		return "refresh"
	case EventPlayerCrashed:
		return "player_crashed"
	case EventPlayerFinished:
		return "player_finished"
	case EventRoundFinished:
		return "round_finished"
	case EventMatchFinished:
		return "match_finished"
	case EventError:
		return "error"
	case EventConnectionFailed:
		return "connection_failed"
	case EventRoomClosed:
		return "room_closed"
	}
	return "unknown"
}

// Event is an opaque notification for the UI layer.
type Event struct {
	Type     EventType
	RoomKey  string
	PlayerID uint32
	Value    int   // countdown seconds, round number
	Err      error // EventError, EventConnectionFailed
}

type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})
