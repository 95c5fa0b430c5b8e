package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/m-mizutani/lakeagent/pkg/agent"
	"github.com/m-mizutani/lakeagent/pkg/model"
	"github.com/m-mizutani/lakeagent/pkg/repository"
	"github.com/m-mizutani/lakeagent/pkg/trace"
	"github.com/m-mizutani/lakeagent/pkg/usecase/ask"
	"github.com/m-mizutani/lakeagent/pkg/utils/logging"
)

const errQueryRequiredMessage = "Invalid request, 'query' field is required"

type queryRequest struct {
	Query *string `json:"query"`
}

type queryResponse struct {
	ID      model.InteractionID `json:"id,omitempty"`
	Message string              `json:"message"`
	Trace   trace.Trace         `json:"trace"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == nil {
		writeError(ctx, w, http.StatusBadRequest, errQueryRequiredMessage)
		return
	}

	answer, err := s.uc.RunQuery(ctx, *req.Query)
	switch {
	case errors.Is(err, ask.ErrQueryRequired):
		writeError(ctx, w, http.StatusBadRequest, errQueryRequiredMessage)
		return
	case errors.Is(err, agent.ErrConfiguration):
		msg := ask.ConfigErrorPrefix + "agent is not configured"
		if answer != nil {
			msg = answer.Response
		}
		writeError(ctx, w, http.StatusInternalServerError, msg)
		return
	case err != nil:
		logging.From(ctx).Error("failed to run query", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, "Error running query: "+err.Error())
		return
	}

	writeJSON(ctx, w, http.StatusOK, queryResponse{
		ID:      answer.ID,
		Message: answer.Response,
		Trace:   answer.Trace,
	})
}

func pageParams(r *http.Request) ask.ListOptions {
	opts := ask.ListOptions{Limit: ask.DefaultListLimit}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		opts.Offset = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	return opts
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	items, err := s.uc.List(ctx, pageParams(r))
	if err != nil {
		logging.From(ctx).Error("failed to list interactions", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, "failed to list interactions")
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]any{"interactions": items})
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	x, err := s.uc.Show(ctx, model.InteractionID(chi.URLParam(r, "id")))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(ctx, w, http.StatusNotFound, "interaction not found")
		return
	}
	if err != nil {
		logging.From(ctx).Error("failed to get interaction", "error", err)
		writeError(ctx, w, http.StatusInternalServerError, "failed to get interaction")
		return
	}
	writeJSON(ctx, w, http.StatusOK, x)
}

func (s *Server) handleIndexPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opts := pageParams(r)

	// one extra row tells whether an older page exists
	items, err := s.uc.List(ctx, ask.ListOptions{Offset: opts.Offset, Limit: opts.Limit + 1})
	if err != nil {
		logging.From(ctx).Error("failed to list interactions", "error", err)
		http.Error(w, "failed to list interactions", http.StatusInternalServerError)
		return
	}

	hasNext := len(items) > opts.Limit
	if hasNext {
		items = items[:opts.Limit]
	}
	prev := opts.Offset - opts.Limit
	if prev < 0 {
		prev = 0
	}

	s.renderPage(w, r, "index.html", map[string]any{
		"Title":        "Interactions",
		"Interactions": items,
		"Offset":       opts.Offset,
		"Prev":         prev,
		"Next":         opts.Offset + opts.Limit,
		"HasNext":      hasNext,
	})
}

func (s *Server) handleInteractionPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	x, err := s.uc.Show(ctx, model.InteractionID(chi.URLParam(r, "id")))
	if errors.Is(err, repository.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logging.From(ctx).Error("failed to get interaction", "error", err)
		http.Error(w, "failed to get interaction", http.StatusInternalServerError)
		return
	}

	s.renderPage(w, r, "interaction.html", map[string]any{
		"Title":       x.Query,
		"Interaction": x,
	})
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.ExecuteTemplate(w, name, data); err != nil {
		logging.From(r.Context()).Error("failed to render page", "page", name, "error", err)
	}
}
