package relay

import "roomchat/internal/metrics"

// roomGroup is the live subscriber set of one room. Outbound payloads pass
// through a bounded queue drained by a single goroutine, so events for a room
// leave in the order they were accepted.
type roomGroup struct {
	id      string
	members map[*Conn]struct{}
	queue   chan delivery
	// done closes once the queue is stopped and fully drained.
	done chan struct{}
}

type delivery struct {
	payload    []byte
	recipients []*Conn
}

// newRoomGroup starts the fan-out goroutine. When after is non-nil, delivery
// waits for it to close, so a group that replaces a stopped one for the same
// room never overtakes the predecessor's backlog.
func newRoomGroup(id string, depth int, after <-chan struct{}) *roomGroup {
	g := &roomGroup{
		id:      id,
		members: make(map[*Conn]struct{}),
		queue:   make(chan delivery, depth),
		done:    make(chan struct{}),
	}
	go g.run(after)
	return g
}

func (g *roomGroup) run(after <-chan struct{}) {
	defer close(g.done)
	if after != nil {
		<-after
	}
	for d := range g.queue {
		for _, c := range d.recipients {
			c.enqueue(d.payload)
		}
	}
}

// publish queues payload for every member except skip. The caller holds the
// hub lock, so the queue cannot be closed concurrently. A full queue drops the
// new payload.
func (g *roomGroup) publish(payload []byte, skip func(*Conn) bool) bool {
	recipients := make([]*Conn, 0, len(g.members))
	for c := range g.members {
		if skip != nil && skip(c) {
			continue
		}
		recipients = append(recipients, c)
	}
	if len(recipients) == 0 {
		return true
	}
	metrics.RelayQueueDepth.Observe(float64(len(g.queue)))
	select {
	case g.queue <- delivery{payload: payload, recipients: recipients}:
		return true
	default:
		metrics.RelayDroppedTotal.WithLabelValues("queue_full").Inc()
		return false
	}
}

// stop ends the fan-out goroutine once queued deliveries are drained. The
// caller holds the hub write lock.
func (g *roomGroup) stop() {
	close(g.queue)
}

func (g *roomGroup) drained() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}
