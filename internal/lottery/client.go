// Package lottery reads official Quina results from a Caixa style JSON feed.
package lottery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rifas_pix/internal/models"
	"rifas_pix/internal/numbers"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrNotConfigured = errors.New("lottery feed is not configured")
	ErrInvalidResult = errors.New("lottery feed returned an invalid result")
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
	retries uint64
}

func NewClient(logger *log.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		retries: 3,
	}
}

type result struct {
	Numero       int      `json:"numero"`
	DataApuracao string   `json:"dataApuracao"`
	ListaDezenas []string `json:"listaDezenas"`
}

// Latest fetches the most recent draw.
func (c *Client) Latest(ctx context.Context) (*models.Draw, error) {
	return c.fetch(ctx, "")
}

// Concurso fetches a specific draw by number.
func (c *Client) Concurso(ctx context.Context, number int) (*models.Draw, error) {
	return c.fetch(ctx, "/"+strconv.Itoa(number))
}

func (c *Client) fetch(ctx context.Context, path string) (*models.Draw, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	var raw result
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("lottery feed status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("lottery feed status %d", resp.StatusCode))
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrInvalidResult, err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Printf("Lottery feed request failed, retrying in %s: %v", wait, err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return toDraw(raw)
}

func toDraw(r result) (*models.Draw, error) {
	if r.Numero <= 0 {
		return nil, fmt.Errorf("%w: missing concurso number", ErrInvalidResult)
	}
	if len(r.ListaDezenas) < numbers.Slots {
		return nil, fmt.Errorf("%w: %d numbers drawn", ErrInvalidResult, len(r.ListaDezenas))
	}

	// A drawn number is never padded or skipped.
	draw := &models.Draw{ConcursoNumber: r.Numero}
	for i, d := range r.ListaDezenas[:numbers.Slots] {
		pair, ok := numbers.Pair(d)
		if !ok {
			return nil, fmt.Errorf("%w: bad number %q at %d", ErrInvalidResult, d, i)
		}
		draw.Numbers[i] = pair
	}

	if r.DataApuracao != "" {
		date, err := time.ParseInLocation("02/01/2006", r.DataApuracao, brasilia())
		if err != nil {
			return nil, fmt.Errorf("%w: bad date %q", ErrInvalidResult, r.DataApuracao)
		}
		draw.DrawDate = date
	}
	return draw, nil
}

func brasilia() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}
