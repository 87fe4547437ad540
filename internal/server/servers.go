package server

import (
	"context"
	"net/http"

	"mcpstudio/internal/api"
	"mcpstudio/internal/deployment"
	"mcpstudio/internal/registry"
)

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.opts.Store.ListServers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if servers == nil {
		servers = []*api.Server{}
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) registerServer(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterServerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	server, err := s.opts.Lifecycle.Register(r.Context(), deployment.RegisterRequest{
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Deploy {
		if _, err := s.opts.Lifecycle.Deploy(r.Context(), server.ID); err != nil {
			writeError(w, err)
			return
		}
		if server, err = s.opts.Store.GetServer(r.Context(), server.ID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, server)
}

func (s *Server) getServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

func (s *Server) updateServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req api.UpdateServerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.opts.Lifecycle.Update(r.Context(), server.ID, registry.ServerUpdate{
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deregisterServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.opts.Lifecycle.Deregister(r.Context(), server.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// deployServer answers 202 with the DEPLOYING server, or with ?wait=true
// blocks until the attempt settles and answers with the final state. A
// failed attempt is still a 200: the server's state and lastError say why.
func (s *Server) deployServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	attempt, err := s.opts.Lifecycle.Deploy(r.Context(), server.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		current, err := s.opts.Store.GetServer(r.Context(), server.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, current)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.DeployWaitTimeout)
	defer cancel()
	if _, err := attempt.Wait(ctx); err != nil && ctx.Err() != nil {
		if r.Context().Err() == nil {
			err = &api.TimeoutError{ServerID: server.ID, Operation: "deploy", Timeout: s.opts.DeployWaitTimeout}
		}
		writeError(w, err)
		return
	}
	final, err := s.opts.Store.GetServer(r.Context(), server.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, final)
}

func (s *Server) undeployServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.resolveServer(r.Context(), r.PathValue("server"))
	if err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.opts.Lifecycle.Undeploy(r.Context(), server.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
