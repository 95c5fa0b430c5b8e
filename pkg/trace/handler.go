package trace

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

// Handler receives one callback per event kind.
type Handler interface {
	ModelStarted(ctx context.Context, payload any)
	ModelFinished(ctx context.Context, payload any)
	ToolStarted(ctx context.Context, payload any)
	ToolFinished(ctx context.Context, payload any)
	OrchestrationStarted(ctx context.Context, payload any)
	OrchestrationFinished(ctx context.Context, payload any)
	DecisionMade(ctx context.Context, payload any)
	RunFinished(ctx context.Context, payload any)
}

// Dispatch routes a kind to the matching Handler method.
func Dispatch(ctx context.Context, h Handler, kind Kind, payload any) {
	switch kind {
	case KindModelStarted:
		h.ModelStarted(ctx, payload)
	case KindModelFinished:
		h.ModelFinished(ctx, payload)
	case KindToolStarted:
		h.ToolStarted(ctx, payload)
	case KindToolFinished:
		h.ToolFinished(ctx, payload)
	case KindOrchestrationStarted:
		h.OrchestrationStarted(ctx, payload)
	case KindOrchestrationFinished:
		h.OrchestrationFinished(ctx, payload)
	case KindDecisionMade:
		h.DecisionMade(ctx, payload)
	case KindRunFinished:
		h.RunFinished(ctx, payload)
	}
}

// Nop ignores every event. Embed it to implement part of Handler.
type Nop struct{}

func (Nop) ModelStarted(context.Context, any)          {}
func (Nop) ModelFinished(context.Context, any)         {}
func (Nop) ToolStarted(context.Context, any)           {}
func (Nop) ToolFinished(context.Context, any)          {}
func (Nop) OrchestrationStarted(context.Context, any)  {}
func (Nop) OrchestrationFinished(context.Context, any) {}
func (Nop) DecisionMade(context.Context, any)          {}
func (Nop) RunFinished(context.Context, any)           {}

type multi []Handler

// Multi fans every event out to hs in order. Nil handlers are skipped.
func Multi(hs ...Handler) Handler {
	var m multi
	for _, h := range hs {
		if h != nil {
			m = append(m, h)
		}
	}
	return m
}

func (m multi) each(ctx context.Context, kind Kind, payload any) {
	for _, h := range m {
		Dispatch(ctx, h, kind, payload)
	}
}

func (m multi) ModelStarted(ctx context.Context, p any)  { m.each(ctx, KindModelStarted, p) }
func (m multi) ModelFinished(ctx context.Context, p any) { m.each(ctx, KindModelFinished, p) }
func (m multi) ToolStarted(ctx context.Context, p any)   { m.each(ctx, KindToolStarted, p) }
func (m multi) ToolFinished(ctx context.Context, p any)  { m.each(ctx, KindToolFinished, p) }
func (m multi) OrchestrationStarted(ctx context.Context, p any) {
	m.each(ctx, KindOrchestrationStarted, p)
}
func (m multi) OrchestrationFinished(ctx context.Context, p any) {
	m.each(ctx, KindOrchestrationFinished, p)
}
func (m multi) DecisionMade(ctx context.Context, p any) { m.each(ctx, KindDecisionMade, p) }
func (m multi) RunFinished(ctx context.Context, p any)  { m.each(ctx, KindRunFinished, p) }

// LogHandler mirrors events into the context logger at debug level.
type LogHandler struct{}

func (LogHandler) log(ctx context.Context, kind Kind, payload any) {
	logger := logging.From(ctx)
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	logger.Debug("trace event", "kind", kind, "payload", Render(Collect(kind, payload)))
}

func (h LogHandler) ModelStarted(ctx context.Context, p any)  { h.log(ctx, KindModelStarted, p) }
func (h LogHandler) ModelFinished(ctx context.Context, p any) { h.log(ctx, KindModelFinished, p) }
func (h LogHandler) ToolStarted(ctx context.Context, p any)   { h.log(ctx, KindToolStarted, p) }
func (h LogHandler) ToolFinished(ctx context.Context, p any)  { h.log(ctx, KindToolFinished, p) }
func (h LogHandler) OrchestrationStarted(ctx context.Context, p any) {
	h.log(ctx, KindOrchestrationStarted, p)
}
func (h LogHandler) OrchestrationFinished(ctx context.Context, p any) {
	h.log(ctx, KindOrchestrationFinished, p)
}
func (h LogHandler) DecisionMade(ctx context.Context, p any) { h.log(ctx, KindDecisionMade, p) }
func (h LogHandler) RunFinished(ctx context.Context, p any)  { h.log(ctx, KindRunFinished, p) }

var (
	_ Handler = (*Collector)(nil)
	_ Handler = Nop{}
	_ Handler = multi(nil)
	_ Handler = LogHandler{}
)
