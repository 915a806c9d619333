package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nhle/mailwatch/internal/notify"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/store"
	mailsync "github.com/nhle/mailwatch/internal/sync"
)

// envelope wraps every response body.
type envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Status: "success", Data: data})
}

func writeMessage(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Status: "error", Message: msg, Kind: kind})
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, store.ErrDuplicate):
		writeMessage(w, http.StatusConflict, err.Error(), "")
	case errors.Is(err, mailsync.ErrSyncInProgress):
		writeMessage(w, http.StatusConflict, err.Error(), "")
	case source.IsValidationError(err), notify.IsValidationError(err):
		writeMessage(w, http.StatusBadRequest, err.Error(), "")
	case source.IsConnectionError(err):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error(), string(source.ConnectionErrorKindOf(err)))
	case notify.IsDeliveryError(err):
		writeMessage(w, http.StatusBadGateway, err.Error(), "")
	default:
		writeMessage(w, http.StatusInternalServerError, "internal error", "")
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &source.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}
