package endpoint

import (
	"errors"
	"sync"
	"time"

	"github.com/kuba2k2/zuzel-sub000/internal/protocol"
	log "github.com/sirupsen/logrus"
)

// DefaultSelectTimeout bounds a single Select wait.
const DefaultSelectTimeout = 5 * time.Second

var ErrMuxClosed = errors.New("mux closed")

type event struct {
	ep     *Endpoint
	packet protocol.Packet
	err    error
}

// Mux waits on many endpoints at once. Every watched endpoint gets a pump
// goroutine that reads complete packets in order and queues them; Select
// hands them to the caller on its own goroutine. Closures posted with Do
// run on that same goroutine, between packets.
type Mux struct {
	events chan event
	tasks  chan func()

	mu      sync.Mutex
	watched map[*Endpoint]chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func NewMux() *Mux {
	return &Mux{
		events:  make(chan event, 256),
		tasks:   make(chan func(), 64),
		watched: make(map[*Endpoint]chan struct{}),
		done:    make(chan struct{}),
	}
}

// Watch starts delivering packets from ep. Watching twice is a no-op.
func (m *Mux) Watch(ep *Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watched[ep]; ok {
		return
	}
	stop := make(chan struct{})
	m.watched[ep] = stop
	go m.pump(ep, stop)
}

// Unwatch stops delivering packets from ep. Packets already queued for it
// are dropped by Select.
func (m *Mux) Unwatch(ep *Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.watched[ep]; ok {
		close(stop)
		delete(m.watched, ep)
	}
}

func (m *Mux) Watching(ep *Endpoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watched[ep]
	return ok
}

// Do queues fn to run on the goroutine calling Select.
func (m *Mux) Do(fn func()) error {
	select {
	case <-m.done:
		return ErrMuxClosed
	default:
	}
	select {
	case m.tasks <- fn:
		return nil
	case <-m.done:
		return ErrMuxClosed
	}
}

// Select waits up to timeout for activity, then dispatches everything that
// is pending: packets go to onReadable, read failures to onError, queued
// closures are run. It returns nil on timeout and ErrMuxClosed once Close
// was called.
func (m *Mux) Select(timeout time.Duration, onReadable func(*Endpoint, protocol.Packet), onError func(*Endpoint, error)) error {
	if timeout <= 0 {
		timeout = DefaultSelectTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-m.events:
		m.dispatch(ev, onReadable, onError)
	case fn := <-m.tasks:
		fn()
	case <-timer.C:
		return nil
	case <-m.done:
		return ErrMuxClosed
	}

	for pending := len(m.events) + len(m.tasks); pending > 0; pending-- {
		select {
		case ev := <-m.events:
			m.dispatch(ev, onReadable, onError)
		case fn := <-m.tasks:
			fn()
		default:
			return nil
		}
	}
	return nil
}

func (m *Mux) dispatch(ev event, onReadable func(*Endpoint, protocol.Packet), onError func(*Endpoint, error)) {
	if !m.Watching(ev.ep) {
		log.Debugf("[Mux] dropping event from unwatched %s", ev.ep)
		return
	}
	if ev.err != nil {
		onError(ev.ep, ev.err)
		return
	}
	onReadable(ev.ep, ev.packet)
}

func (m *Mux) pump(ep *Endpoint, stop chan struct{}) {
	for {
		p, err := ep.RecvPacket()
		if p == nil && err == nil {
			select {
			case <-stop:
				return
			case <-m.done:
				return
			default:
				continue
			}
		}

		select {
		case m.events <- event{ep: ep, packet: p, err: err}:
		case <-stop:
			return
		case <-m.done:
			return
		}

		var frameErr *protocol.FrameError
		if err != nil && !errors.As(err, &frameErr) {
			return
		}
	}
}

// Close stops every pump and makes Select return ErrMuxClosed. Endpoints
// are left open.
func (m *Mux) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		for ep, stop := range m.watched {
			close(stop)
			delete(m.watched, ep)
		}
		m.mu.Unlock()
	})
}
