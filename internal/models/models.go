package models

import "time"

type RaffleStatus string

const (
	RaffleActive  RaffleStatus = "active"
	RaffleAwarded RaffleStatus = "awarded"
	RaffleClosed  RaffleStatus = "closed"
)

type Raffle struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	TotalTickets     int          `json:"total_tickets"`
	TicketPriceCents int64        `json:"ticket_price_cents"`
	GoalCents        int64        `json:"goal_cents"`
	SoldTickets      int          `json:"sold_tickets"`
	Status           RaffleStatus `json:"status"`
	DrawDate         *time.Time   `json:"draw_date,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Goal returns the funding goal in cents. A zero goal means the raffle is
// funded once every ticket is sold.
func (r *Raffle) Goal() int64 {
	if r.GoalCents > 0 {
		return r.GoalCents
	}
	return int64(r.TotalTickets) * r.TicketPriceCents
}

// FundedPercent is the share of the goal covered by sold tickets, truncated.
func (r *Raffle) FundedPercent() int64 {
	goal := r.Goal()
	if goal <= 0 {
		return 0
	}
	return int64(r.SoldTickets) * r.TicketPriceCents * 100 / goal
}

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationExpired  ReservationStatus = "expired"
	ReservationConsumed ReservationStatus = "consumed"
)

type Reservation struct {
	ID            string            `json:"id"`
	RaffleID      string            `json:"raffle_id"`
	OwnerID       string            `json:"owner_id"`
	Quantity      int               `json:"quantity"`
	ChosenNumbers [][]any           `json:"chosen_numbers,omitempty"`
	Status        ReservationStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

type ChargeStatus string

const (
	ChargePending  ChargeStatus = "pending"
	ChargePaid     ChargeStatus = "paid"
	ChargeOverdue  ChargeStatus = "overdue"
	ChargeRefunded ChargeStatus = "refunded"
)

// Terminal reports whether no further provider transition is expected.
func (s ChargeStatus) Terminal() bool {
	return s == ChargePaid || s == ChargeOverdue || s == ChargeRefunded
}

// Valid reports whether s is one of the known charge states.
func (s ChargeStatus) Valid() bool {
	return s == ChargePending || s.Terminal()
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	CPF   string `json:"cpf,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Charge struct {
	ReservationID    string       `json:"reservation_id"`
	ProviderChargeID string       `json:"provider_charge_id"`
	AmountCents      int64        `json:"amount_cents"`
	Status           ChargeStatus `json:"status"`
	QRPayload        string       `json:"qr_payload"`
	QRImage          string       `json:"qr_image"`
	ExpiresAt        time.Time    `json:"expires_at"`
	Customer         Customer     `json:"customer"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

type Ticket struct {
	ID            string    `json:"id"`
	RaffleID      string    `json:"raffle_id"`
	ReservationID string    `json:"reservation_id"`
	OwnerID       string    `json:"owner_id"`
	Seq           int       `json:"seq"`
	Numbers       [5]string `json:"numbers"`
	CreatedAt     time.Time `json:"created_at"`
}

type WinnerRecord struct {
	RaffleID       string    `json:"raffle_id"`
	ConcursoNumber int       `json:"concurso_number"`
	TicketID       string    `json:"ticket_id"`
	OwnerID        string    `json:"owner_id"`
	DrawnNumbers   [5]string `json:"drawn_numbers"`
	Delta          int       `json:"delta"`
	CreatedAt      time.Time `json:"created_at"`
}

// Draw is one official lottery result as read from the external feed.
type Draw struct {
	ConcursoNumber int       `json:"concurso_number"`
	Numbers        [5]string `json:"numbers"`
	DrawDate       time.Time `json:"draw_date"`
}

type EventType string

const (
	EventTicketsFinalized EventType = "ticket.finalized"
	EventWinnerSelected   EventType = "winner.selected"
	EventPaidAfterExpiry  EventType = "payment.paid_after_expiry"
)

// Event is what gets published after a state change commits.
type Event struct {
	Type          EventType     `json:"type"`
	RaffleID      string        `json:"raffle_id"`
	ReservationID string        `json:"reservation_id,omitempty"`
	OwnerID       string        `json:"owner_id,omitempty"`
	Tickets       []Ticket      `json:"tickets,omitempty"`
	Winner        *WinnerRecord `json:"winner,omitempty"`
	Charge        *Charge       `json:"charge,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}
