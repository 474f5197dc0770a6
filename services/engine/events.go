package engine

import "time"

// EventType labels the position lifecycle notifications a run emits.
type EventType int

const (
	EventOpen EventType = iota
	EventStopLoss
	EventTakeProfit
	EventForceClose
	EventCooldownStart
	EventCooldownEnd
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventStopLoss:
		return "stop_loss"
	case EventTakeProfit:
		return "take_profit"
	case EventForceClose:
		return "force_close"
	case EventCooldownStart:
		return "cooldown_start"
	case EventCooldownEnd:
		return "cooldown_end"
	}
	return "unknown"
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// Event is a single lifecycle notification. Details carries the reason
// strings produced by the decision chain.
type Event struct {
	Time    time.Time         `json:"time"`
	Type    EventType         `json:"type"`
	Symbol  string            `json:"symbol"`
	Details map[string]string `json:"details,omitempty"`
}

// EventLog collects run events in order. An optional sink observes each
// append, e.g. for websocket streaming.
type EventLog struct {
	Events []Event
	Sink   func(Event)
}

func (l *EventLog) Append(e Event) {
	l.Events = append(l.Events, e)
	if l.Sink != nil {
		l.Sink(e)
	}
}
