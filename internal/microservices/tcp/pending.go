package tcp

import (
	"math"
	"time"
)

// pendingRequests holds the outbound requests of one connection that are
// still waiting for an answer. nextID keeps counting across purges of
// individual entries so a late answer cannot match a newer request.
type pendingRequests struct {
	nextID int64
	byID   map[int64]*Packet
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{byID: make(map[int64]*Packet)}
}

// allocate returns the next id not currently pending.
func (pr *pendingRequests) allocate() int64 {
	for {
		if pr.nextID == math.MaxInt64 {
			pr.nextID = 0
		}
		pr.nextID++
		if _, taken := pr.byID[pr.nextID]; !taken {
			return pr.nextID
		}
	}
}

func (pr *pendingRequests) take(id int64) *Packet {
	p, ok := pr.byID[id]
	if !ok {
		return nil
	}
	delete(pr.byID, id)
	return p
}

func (pr *pendingRequests) expired(now time.Time) []*Packet {
	var out []*Packet
	for id, p := range pr.byID {
		if !p.deadline.IsZero() && now.After(p.deadline) {
			out = append(out, p)
			delete(pr.byID, id)
		}
	}
	return out
}
