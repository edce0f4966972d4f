// Package api exposes the symptom-logging flows over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/SymptomPipe/internal/models"
)

// internalErrorBody is sent when a response cannot be encoded.
var internalErrorBody = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("api: encode fallback response: " + err.Error())
	}
	return b
}

// writeJSONResponse encodes response before touching headers, so an encoding
// failure still produces a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("writeJSONResponse: encode failed", "status", statusCode, "error", err)
		body, statusCode = internalErrorBody, http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Debug("writeJSONResponse: client write failed", "error", err)
	}
}
