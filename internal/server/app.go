package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/sertdev/reqgate/internal/gate"
)

var errAppFailure = errors.New("app: simulated handler failure")

type appResponse struct {
	Handler   string `json:"handler"`
	RequestID string `json:"request_id,omitempty"`
	GatedMS   *int64 `json:"gated_ms,omitempty"`
}

// appHandler serves a sample application page. When the request passed
// through the gate the response reports how long it has been in flight.
func appHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := appResponse{Handler: name}
		if t := gate.FromContext(r.Context()); t != nil {
			resp.RequestID = t.RequestID
			ms := time.Since(t.Start).Milliseconds()
			resp.GatedMS = &ms
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// failHandler reports an error to the gate and answers 500.
func failHandler(w http.ResponseWriter, r *http.Request) {
	gate.ReportError(r.Context(), errAppFailure)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("server: encode response failed", "error", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
