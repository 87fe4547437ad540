package server

import (
	"net/http"
	"strconv"
	"time"

	"mcpstudio/internal/api"
)

// listExecutions serves the execution log, newest first. Query parameters:
// server (id or name), tool, status (success|error), since (RFC 3339),
// limit and offset.
func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter api.ExecutionFilter

	if ref := q.Get("server"); ref != "" {
		server, err := s.resolveServer(r.Context(), ref)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.ServerID = server.ID
		if tool := q.Get("tool"); tool != "" {
			t, err := s.opts.Store.GetTool(r.Context(), server.ID, tool)
			if err != nil {
				writeError(w, err)
				return
			}
			filter.ToolID = t.ID
		}
	} else if tool := q.Get("tool"); tool != "" {
		filter.ToolID = tool
	}

	switch status := api.ExecutionStatus(q.Get("status")); status {
	case "", api.ExecutionSucceeded, api.ExecutionFailed:
		filter.Status = status
	default:
		writeError(w, badRequest("execution filter", "status", "must be success or error"))
		return
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, badRequest("execution filter", "since", "must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = &t
	}
	var ok bool
	if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if filter.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	page, err := s.opts.Executor.History(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, badRequest("execution filter", name, "must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	record, err := s.opts.Executor.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
