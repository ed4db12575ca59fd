package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "organlink/pkg/domain-errors"
)

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteError translates a domain error into the JSON error envelope. Codes
// map onto HTTP statuses in one place so handlers never pick status codes.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	envelope := errorEnvelope{Error: string(code)}
	var de *dErrors.Error
	if errors.As(err, &de) {
		envelope.Message = de.Message
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), envelope)
}
