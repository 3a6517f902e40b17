package domain

import "time"

type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)

type Participant struct {
	ID             string
	DisplayName    string
	State          ConnState
	JoinedAt       time.Time
	ConnectedSince time.Time
	LastHeartbeat  time.Time
	DisconnectedAt time.Time
	Latency        time.Duration
	AckedRevision  int64
}

func (p *Participant) live() bool {
	return p.State == StateConnected
}

// observeRTT folds a client measured round trip into the one-way latency estimate.
func (p *Participant) observeRTT(rtt time.Duration) {
	if rtt <= 0 {
		return
	}

	oneWay := rtt / 2
	if p.Latency == 0 {
		p.Latency = oneWay
		return
	}

	p.Latency = (p.Latency*7 + oneWay) / 8
}

type participants struct {
	list []*Participant
}

func (ps *participants) get(id string) (*Participant, int) {
	for i, p := range ps.list {
		if p.ID == id {
			return p, i
		}
	}

	return nil, -1
}

func (ps *participants) add(p *Participant) {
	ps.list = append(ps.list, p)
}

func (ps *participants) remove(id string) bool {
	_, i := ps.get(id)
	if i < 0 {
		return false
	}

	ps.list = append(ps.list[:i], ps.list[i+1:]...)
	return true
}

func (ps *participants) len() int {
	return len(ps.list)
}

// longestConnected returns the connected participant with the earliest ConnectedSince.
// Ties keep join order.
func (ps *participants) longestConnected(exclude string) *Participant {
	var best *Participant
	for _, p := range ps.list {
		if p.ID == exclude || !p.live() {
			continue
		}

		if best == nil || p.ConnectedSince.Before(best.ConnectedSince) {
			best = p
		}
	}

	return best
}
