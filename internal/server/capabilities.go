package server

import (
	"net/http"
	"time"

	"mcpstudio/internal/api"
	"mcpstudio/internal/execution"
	"mcpstudio/internal/prompts"
)

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	tools, err := s.opts.Store.ListTools(r.Context(), server.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if tools == nil {
		tools = []api.Tool{}
	}
	writeJSON(w, http.StatusOK, tools)
}

func (s *Server) getTool(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	tool, err := s.opts.Store.GetTool(r.Context(), server.ID, r.PathValue("tool"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

// saveTool creates or replaces an authored tool. Posting a tool whose name
// matches an existing authored tool updates it in place.
func (s *Server) saveTool(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	var tool api.Tool
	if err := decode(r, &tool); err != nil {
		writeError(w, err)
		return
	}
	tool.ServerID = server.ID
	tool.Source = api.SourceAuthored

	status := http.StatusCreated
	if tool.ID == "" {
		if existing, err := s.opts.Store.GetTool(r.Context(), server.ID, tool.Name); err == nil {
			if existing.Source != api.SourceAuthored {
				writeError(w, &api.ConflictError{ResourceType: "tool", ResourceName: tool.Name, Message: "a discovered tool has this name"})
				return
			}
			tool.ID = existing.ID
			status = http.StatusOK
		}
	}
	if err := s.opts.Store.SaveTool(r.Context(), &tool); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, tool)
}

// deleteTool removes an authored tool. Discovered tools belong to the
// server and come back on the next deployment, so they cannot be deleted.
func (s *Server) deleteTool(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	tool, err := s.opts.Store.GetTool(r.Context(), server.ID, r.PathValue("tool"))
	if err != nil {
		writeError(w, err)
		return
	}
	if tool.Source != api.SourceAuthored {
		writeError(w, &api.ConflictError{ResourceType: "tool", ResourceName: tool.Name, Message: "discovered tools cannot be deleted"})
		return
	}
	if err := s.opts.Store.DeleteTool(r.Context(), server.ID, tool.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// executeTool answers 200 with the execution record for every call that got
// as far as being recorded, including failed ones. Callers read the record's
// error field.
func (s *Server) executeTool(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req api.ExecuteToolRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	caller := execution.Caller{Actor: req.Actor, Account: req.Account}
	if req.Timeout != "" {
		timeout, err := time.ParseDuration(req.Timeout)
		if err != nil || timeout <= 0 {
			writeError(w, badRequest("execute request", "timeout", "must be a positive duration such as 30s"))
			return
		}
		caller.Timeout = timeout
	}

	record, err := s.opts.Executor.Execute(r.Context(), server.ID, r.PathValue("tool"), req.Params, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	resources, err := s.opts.Store.ListResources(r.Context(), server.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if resources == nil {
		resources = []api.Resource{}
	}
	writeJSON(w, http.StatusOK, resources)
}

func (s *Server) listPrompts(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := s.opts.Store.ListPrompts(r.Context(), server.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []api.PromptTemplate{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) savePrompt(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	var prompt api.PromptTemplate
	if err := decode(r, &prompt); err != nil {
		writeError(w, err)
		return
	}
	prompt.ServerID = server.ID
	if err := prompts.Check(&prompt); err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if prompt.ID == "" {
		if existing, err := s.opts.Store.GetPrompt(r.Context(), server.ID, prompt.Name); err == nil {
			prompt.ID = existing.ID
			status = http.StatusOK
		}
	}
	if err := s.opts.Store.SavePrompt(r.Context(), &prompt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, prompt)
}

func (s *Server) renderPrompt(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	prompt, err := s.opts.Store.GetPrompt(r.Context(), server.ID, r.PathValue("prompt"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req api.RenderPromptRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	text, err := prompts.Render(prompt, req.Variables)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RenderPromptResponse{Text: text})
}
