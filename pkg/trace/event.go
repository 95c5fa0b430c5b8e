package trace

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Event is one recorded step of a run.
type Event struct {
	Seq     int       `json:"seq"`
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Payload Value     `json:"payload"`
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Seq     int             `json:"seq"`
		Kind    Kind            `json:"kind"`
		Time    time.Time       `json:"time"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return goerr.Wrap(err, "failed to decode trace event")
	}
	if !raw.Kind.Valid() {
		return goerr.Wrap(ErrInvalidKind, "unknown event kind in trace", goerr.V("kind", raw.Kind))
	}

	payload, err := ParseJSON(raw.Payload)
	if err != nil {
		return err
	}

	e.Seq = raw.Seq
	e.Kind = raw.Kind
	e.Time = raw.Time
	e.Payload = payload
	return nil
}

// Trace is the ordered event log of one run.
type Trace []Event

// Filter returns the events of the given kind, in order.
func (t Trace) Filter(kind Kind) Trace {
	var out Trace
	for _, ev := range t {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Marshal encodes the trace as a JSON array. A nil trace encodes as [].
func (t Trace) Marshal() ([]byte, error) {
	if t == nil {
		t = Trace{}
	}
	b, err := json.Marshal([]Event(t))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode trace")
	}
	return b, nil
}

// Unmarshal decodes a JSON array produced by Marshal.
func Unmarshal(data []byte) (Trace, error) {
	if len(data) == 0 {
		return Trace{}, nil
	}
	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, goerr.Wrap(err, "failed to decode trace")
	}
	if t == nil {
		t = Trace{}
	}
	return t, nil
}
