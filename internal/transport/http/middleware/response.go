package middleware

import (
	"encoding/json"
	"net/http"
)

// errorBody is the minimal JSON error shape middleware responses use; the
// richer envelopes live in the handler package.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg})
}
