package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"mcpstudio/internal/api"
	"mcpstudio/internal/schema"
	"mcpstudio/pkg/logging"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error *api.ErrorDescriptor `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Server", "Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	d := api.Describe(err)
	status := statusFor(d)
	if status >= http.StatusInternalServerError && d.Kind == api.KindInternal {
		logging.Error("Server", err, "Request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: d})
}

func statusFor(d *api.ErrorDescriptor) int {
	switch d.Kind {
	case api.KindValidation:
		return http.StatusBadRequest
	case api.KindNotFound:
		return http.StatusNotFound
	case api.KindConflict:
		return http.StatusConflict
	case api.KindAuth:
		if d.Code == string(api.AuthReauthorizationRequired) {
			return http.StatusUnauthorized
		}
		return http.StatusServiceUnavailable
	case api.KindTimeout:
		return http.StatusGatewayTimeout
	case api.KindConnect, api.KindDiscovery, api.KindInvocation:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func badRequest(subject, path, message string) error {
	return &api.ValidationError{Subject: subject, Issues: []schema.Issue{{Path: path, Message: message}}}
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("request body", "", "body is empty")
		}
		return badRequest("request body", "", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
