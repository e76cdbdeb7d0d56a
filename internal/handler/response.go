package handler

import (
	"encoding/json"
	"log"
	"net/http"
)

type FailurePayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(logger *log.Logger, w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Printf("Error encoding response: %v", err)
	}
}

func writeFailure(logger *log.Logger, w http.ResponseWriter, statusCode int, message string) {
	writeJSON(logger, w, statusCode, FailurePayload{Status: "failed", Message: message})
}

// decodeBody keeps JSON numbers as json.Number so ticket picks are not
// rounded through float64.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	return dec.Decode(v)
}
