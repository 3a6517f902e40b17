package domain

import "time"

type CommandType string

const (
	CommandJoin      CommandType = "JOIN"
	CommandLeave     CommandType = "LEAVE"
	CommandPlay      CommandType = "PLAY"
	CommandPause     CommandType = "PAUSE"
	CommandSeek      CommandType = "SEEK"
	CommandHeartbeat CommandType = "HEARTBEAT"
)

func (t CommandType) IsControl() bool {
	return t == CommandPlay || t == CommandPause || t == CommandSeek
}

type Command struct {
	Type          CommandType
	ParticipantID string
	// ClientTS is whatever the client claims; it never affects ordering.
	ClientTS   int64
	ReceivedAt time.Time

	Position    *int64
	Revision    int64
	DisplayName string
	RTT         time.Duration
}

type CommandOutcome string

const (
	OutcomeApplied    CommandOutcome = "applied"
	OutcomeSuperseded CommandOutcome = "superseded"
	OutcomeStale      CommandOutcome = "stale"
	OutcomeRejected   CommandOutcome = "rejected"
)

// Err reports why a command left the room untouched, or nil.
func (o CommandOutcome) Err() error {
	switch o {
	case OutcomeStale:
		return ErrStaleCommand
	case OutcomeSuperseded:
		return ErrSuperseded
	}

	return nil
}

type CommandRecord struct {
	Command Command
	Outcome CommandOutcome
	// BaseRevision is the room revision the command was applied on top of.
	BaseRevision int64
}

const commandLogSize = 64

type commandLog struct {
	records []CommandRecord
	next    int
	full    bool
}

func (l *commandLog) add(rec CommandRecord) int {
	if l.records == nil {
		l.records = make([]CommandRecord, commandLogSize)
	}

	idx := l.next
	l.records[idx] = rec
	l.next = (l.next + 1) % commandLogSize
	if l.next == 0 {
		l.full = true
	}

	return idx
}

func (l *commandLog) mark(idx int, outcome CommandOutcome) {
	if idx >= 0 && idx < len(l.records) {
		l.records[idx].Outcome = outcome
	}
}

// list returns records oldest first.
func (l *commandLog) list() []CommandRecord {
	if l.records == nil {
		return nil
	}

	if !l.full {
		return append([]CommandRecord(nil), l.records[:l.next]...)
	}

	out := make([]CommandRecord, 0, commandLogSize)
	out = append(out, l.records[l.next:]...)
	out = append(out, l.records[:l.next]...)

	return out
}
