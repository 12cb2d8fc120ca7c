package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/lutefd/telemetry-api/internal/query"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: msg})
}

// writeError maps validation failures to 400 and everything else to 500.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	if v, ok := query.AsValidation(err); ok {
		writeJSON(w, http.StatusBadRequest, envelope{Message: v.Message})
		return
	}
	log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, envelope{Message: query.MsgInternal, Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return &query.ValidationError{Code: query.CodeInvalidBody, Message: query.MsgInvalidBody, Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &query.ValidationError{Code: query.CodeInvalidBody, Message: query.MsgInvalidBody, Err: errors.New("trailing data after body")}
	}
	return nil
}
