package server

import (
	"html/template"
	"net/http"

	"mcpstudio/internal/api"
	"mcpstudio/pkg/logging"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{if .Integration}}<p>Integration: <code>{{.Integration}}</code></p>{{end}}
{{if .Account}}<p>Account: <code>{{.Account}}</code></p>{{end}}
<p>{{.Message}}</p>
<p>You can close this window now.</p>
</body>
</html>`))

type callbackView struct {
	Title       string
	Integration string
	Account     string
	Message     string
}

func renderCallback(w http.ResponseWriter, status int, view callbackView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := callbackPage.Execute(w, view); err != nil {
		logging.Debug("Server", "Failed to render callback page: %v", err)
	}
}

func (s *Server) authorizer(w http.ResponseWriter) (Authorizer, bool) {
	if s.opts.Authorizer == nil {
		writeError(w, &api.NotFoundError{ResourceType: "integration", Message: "no OAuth integrations are configured"})
		return nil, false
	}
	return s.opts.Authorizer, true
}

func (s *Server) listIntegrations(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if s.opts.Authorizer != nil {
		names = append(names, s.opts.Authorizer.Integrations()...)
	}
	writeJSON(w, http.StatusOK, api.IntegrationsResponse{Integrations: names})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	auth, ok := s.authorizer(w)
	if !ok {
		return
	}
	var req api.AuthorizeRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	url, err := auth.AuthCodeURL(r.PathValue("integration"), req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AuthorizeResponse{URL: url})
}

// oauthCallback completes the authorization code flow. It renders HTML
// because the user lands here in a browser.
func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	auth, ok := s.authorizer(w)
	if !ok {
		return
	}
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		message := providerErr
		if desc := q.Get("error_description"); desc != "" {
			message += ": " + desc
		}
		logging.Warn("Server", "OAuth provider returned an error: %s", providerErr)
		renderCallback(w, http.StatusBadRequest, callbackView{Title: "Authorization Failed", Message: message})
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		renderCallback(w, http.StatusBadRequest, callbackView{Title: "Authorization Failed", Message: "The callback is missing the code or state parameter."})
		return
	}

	cred, err := auth.HandleCallback(r.Context(), state, code)
	if err != nil {
		d := api.Describe(err)
		renderCallback(w, statusFor(d), callbackView{Title: "Authorization Failed", Message: d.Message})
		return
	}
	renderCallback(w, http.StatusOK, callbackView{
		Title:       "Authorization Successful",
		Integration: cred.Integration,
		Account:     cred.Account,
		Message:     "mcpstudio can now call tools that use this integration.",
	})
}

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	auth, ok := s.authorizer(w)
	if !ok {
		return
	}
	integration := r.PathValue("integration")
	if integration == "all" {
		integration = ""
	}
	list, err := auth.List(r.Context(), integration)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []api.CredentialStatus{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) credentialStatus(w http.ResponseWriter, r *http.Request) {
	auth, ok := s.authorizer(w)
	if !ok {
		return
	}
	status, err := auth.Status(r.Context(), r.PathValue("integration"), r.PathValue("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) revokeCredential(w http.ResponseWriter, r *http.Request) {
	auth, ok := s.authorizer(w)
	if !ok {
		return
	}
	if err := auth.Revoke(r.Context(), r.PathValue("integration"), r.PathValue("account")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
