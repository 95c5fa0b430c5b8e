package trace

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

var ErrInvalidKind = goerr.New("invalid trace event kind")

// Collector is a Handler that keeps an append-only log for a single run.
type Collector struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates an empty collector.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collector) ModelStarted(_ context.Context, payload any) {
	c.append(KindModelStarted, payload)
}

func (c *Collector) ModelFinished(_ context.Context, payload any) {
	c.append(KindModelFinished, payload)
}

func (c *Collector) ToolStarted(_ context.Context, payload any) {
	c.append(KindToolStarted, payload)
}

func (c *Collector) ToolFinished(_ context.Context, payload any) {
	c.append(KindToolFinished, payload)
}

func (c *Collector) OrchestrationStarted(_ context.Context, payload any) {
	c.append(KindOrchestrationStarted, payload)
}

func (c *Collector) OrchestrationFinished(_ context.Context, payload any) {
	c.append(KindOrchestrationFinished, payload)
}

func (c *Collector) DecisionMade(_ context.Context, payload any) {
	c.append(KindDecisionMade, payload)
}

func (c *Collector) RunFinished(_ context.Context, payload any) {
	c.append(KindRunFinished, payload)
}

// Record appends an event of an arbitrary kind. Unknown kinds are refused.
func (c *Collector) Record(kind Kind, payload any) (Value, error) {
	if !kind.Valid() {
		return nil, goerr.Wrap(ErrInvalidKind, "refused to record event", goerr.V("kind", kind))
	}
	return c.append(kind, payload), nil
}

func (c *Collector) append(kind Kind, payload any) Value {
	v := Collect(kind, payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, Event{
		Seq:     len(c.events) + 1,
		Kind:    kind,
		Time:    c.now(),
		Payload: v,
	})
	return v
}

// Events returns a copy of the log.
func (c *Collector) Events() Trace {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(Trace, len(c.events))
	copy(out, c.events)
	return out
}

// Len returns the number of recorded events.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Collect normalizes a payload for the given kind without recording it.
func Collect(kind Kind, payload any) (out Value) {
	defer func() {
		if r := recover(); r != nil {
			out = fallback(payload)
		}
	}()

	switch kind {
	case KindOrchestrationStarted, KindOrchestrationFinished:
		if x, ok := payload.(Orchestration); ok {
			return x.toValue()
		}
	case KindModelStarted:
		if x, ok := payload.(ModelCall); ok {
			return x.toValue()
		}
	case KindModelFinished:
		if x, ok := payload.(ModelReply); ok {
			return x.toValue()
		}
	case KindDecisionMade:
		if x, ok := payload.(Decision); ok {
			return x.toValue()
		}
	case KindToolStarted:
		switch x := payload.(type) {
		case ToolCall:
			return x.toValue()
		case string:
			return Map{"input": String(x)}
		}
	case KindToolFinished:
		switch x := payload.(type) {
		case ToolResult:
			return x.toValue()
		case string:
			return Map{"output": String(x)}
		}
	case KindRunFinished:
		if x, ok := payload.(Outcome); ok {
			return x.toValue()
		}
	}

	return Normalize(payload)
}
