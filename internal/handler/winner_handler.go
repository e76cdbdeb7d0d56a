package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"rifas_pix/internal/lottery"
	"rifas_pix/internal/models"
	"rifas_pix/internal/numbers"
	"rifas_pix/internal/service"

	"github.com/go-chi/chi/v5"
)

// DrawLookup fetches one official result. *lottery.Client implements it.
type DrawLookup interface {
	Concurso(ctx context.Context, number int) (*models.Draw, error)
}

type WinnerHandler struct {
	logger  *log.Logger
	winners *service.WinnerService
	draws   DrawLookup
}

// NewWinnerHandler builds the admin winner endpoint. draws may be nil.
func NewWinnerHandler(logger *log.Logger, winners *service.WinnerService, draws DrawLookup) *WinnerHandler {
	return &WinnerHandler{logger: logger, winners: winners, draws: draws}
}

type WinnerRequestPayload struct {
	DrawnNumbers   []any `json:"drawn_numbers"`
	ConcursoNumber int   `json:"concurso_number"`
}

type WinnerResponsePayload struct {
	Status          string               `json:"status"`
	AlreadySelected bool                 `json:"already_selected"`
	Winner          *models.WinnerRecord `json:"winner"`
}

func (h *WinnerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body WinnerRequestPayload
	if err := decodeBody(w, r, &body); err != nil {
		writeFailure(h.logger, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var drawn [numbers.Slots]string
	if len(body.DrawnNumbers) == 0 && body.ConcursoNumber > 0 && h.draws != nil {
		draw, err := h.draws.Concurso(r.Context(), body.ConcursoNumber)
		if err != nil {
			h.logger.Printf("Error fetching concurso %d: %v", body.ConcursoNumber, err)
			if errors.Is(err, lottery.ErrInvalidResult) {
				writeFailure(h.logger, w, http.StatusBadGateway, "Lottery feed returned an invalid result")
				return
			}
			writeFailure(h.logger, w, http.StatusBadGateway, "Lottery feed unavailable")
			return
		}
		drawn = draw.Numbers
	} else {
		var err error
		if drawn, err = parseDrawn(body.DrawnNumbers); err != nil {
			writeFailure(h.logger, w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res, err := h.winners.SelectWinner(r.Context(), chi.URLParam(r, "raffleID"), drawn, body.ConcursoNumber)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidDraw):
			writeFailure(h.logger, w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrRaffleNotFound):
			writeFailure(h.logger, w, http.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrNotEligible):
			writeFailure(h.logger, w, http.StatusConflict, err.Error())
		default:
			h.logger.Printf("Error selecting winner: %v", err)
			writeFailure(h.logger, w, http.StatusInternalServerError, "An unexpected error occurred during winner selection")
		}
		return
	}

	code := http.StatusCreated
	if res.AlreadySelected {
		code = http.StatusOK
	}
	writeJSON(h.logger, w, code, WinnerResponsePayload{
		Status:          "success",
		AlreadySelected: res.AlreadySelected,
		Winner:          res.Record,
	})
}

// parseDrawn requires exactly five usable values; unlike ticket picks, a
// draw is never padded.
func parseDrawn(raw []any) ([numbers.Slots]string, error) {
	var drawn [numbers.Slots]string
	if len(raw) != numbers.Slots {
		return drawn, fmt.Errorf("drawn_numbers must have %d entries", numbers.Slots)
	}
	for i, v := range raw {
		pair, ok := numbers.Pair(v)
		if !ok {
			return drawn, fmt.Errorf("drawn_numbers[%d] is not a number", i)
		}
		drawn[i] = pair
	}
	return drawn, nil
}
