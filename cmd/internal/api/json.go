package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"inbox/cmd/internal/thread"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// StatusFor maps a thread error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case thread.IsInvalidInput(err):
		return http.StatusBadRequest
	case thread.IsSelfConversation(err):
		return http.StatusForbidden
	case thread.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// writeThreadError renders err with a message localized from Accept-Language.
func writeThreadError(w http.ResponseWriter, r *http.Request, err error) {
	tag := thread.MatchLanguage(r.Header.Get("Accept-Language"))
	w.Header().Set("Content-Language", tag.String())
	writeError(w, StatusFor(err), thread.Code(err), thread.UserMessage(tag, err))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
