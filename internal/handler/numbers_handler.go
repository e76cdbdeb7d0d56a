package handler

import (
	"log"
	"net/http"

	"rifas_pix/internal/numbers"
)

type CanonicalNumbersHandler struct {
	logger *log.Logger
}

func NewCanonicalNumbersHandler(logger *log.Logger) *CanonicalNumbersHandler {
	return &CanonicalNumbersHandler{logger: logger}
}

type CanonicalRequestPayload struct {
	Values []any  `json:"values"`
	Seed   string `json:"seed"`
}

type CanonicalResponsePayload struct {
	Numbers [numbers.Slots]string `json:"numbers"`
}

func (h *CanonicalNumbersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body CanonicalRequestPayload
	if err := decodeBody(w, r, &body); err != nil {
		writeFailure(h.logger, w, http.StatusBadRequest, "Invalid request body")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, CanonicalResponsePayload{
		Numbers: numbers.Canonicalize(body.Values, body.Seed),
	})
}
