package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rifas_pix/internal/models"

	"github.com/lib/pq"
)

type DBStore struct {
	DB *sql.DB
}

func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{DB: db}
}

func ConnectDB(driver, dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func RunMigrations(db *sql.DB, migrationsDir string) error {
	if migrationsDir == "" {
		return fmt.Errorf("migrations directory not specified")
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	for _, fileName := range migrationFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, fileName))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", fileName, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", fileName, err)
		}
	}
	return nil
}

func (s *DBStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

const raffleColumns = `id, title, total_tickets, ticket_price_cents, goal_cents, sold_tickets, status, draw_date, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRaffle(row rowScanner) (*models.Raffle, error) {
	r := &models.Raffle{}
	var drawDate sql.NullTime
	err := row.Scan(&r.ID, &r.Title, &r.TotalTickets, &r.TicketPriceCents, &r.GoalCents,
		&r.SoldTickets, &r.Status, &drawDate, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if drawDate.Valid {
		t := drawDate.Time
		r.DrawDate = &t
	}
	return r, nil
}

func (s *DBStore) CreateRaffle(ctx context.Context, raffle *models.Raffle) (*models.Raffle, error) {
	query := `
        INSERT INTO raffles (id, title, total_tickets, ticket_price_cents, goal_cents, status, draw_date)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING ` + raffleColumns

	created, err := scanRaffle(s.DB.QueryRowContext(ctx, query,
		raffle.ID, raffle.Title, raffle.TotalTickets, raffle.TicketPriceCents,
		raffle.GoalCents, raffle.Status, raffle.DrawDate))
	if err != nil {
		return nil, fmt.Errorf("failed to create raffle: %w", err)
	}
	return created, nil
}

func (s *DBStore) GetRaffle(ctx context.Context, id string) (*models.Raffle, error) {
	raffle, err := scanRaffle(s.DB.QueryRowContext(ctx, `SELECT `+raffleColumns+` FROM raffles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get raffle: %w", err)
	}
	return raffle, nil
}

func (s *DBStore) ListRafflesDue(ctx context.Context, now time.Time) ([]models.Raffle, error) {
	rows, err := s.DB.QueryContext(ctx, `
        SELECT `+raffleColumns+`
        FROM raffles
        WHERE status = 'active' AND draw_date IS NOT NULL AND draw_date <= $1
        ORDER BY draw_date, id`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due raffles: %w", err)
	}
	defer rows.Close()

	var raffles []models.Raffle
	for rows.Next() {
		r, err := scanRaffle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan raffle: %w", err)
		}
		raffles = append(raffles, *r)
	}
	return raffles, rows.Err()
}

const reservationColumns = `id, raffle_id, owner_id, quantity, chosen_numbers, status, created_at, expires_at`

func scanReservation(row rowScanner) (*models.Reservation, error) {
	res := &models.Reservation{}
	var chosen []byte
	err := row.Scan(&res.ID, &res.RaffleID, &res.OwnerID, &res.Quantity, &chosen,
		&res.Status, &res.CreatedAt, &res.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if len(chosen) > 0 {
		// Picks keep their literal text, as they did when the request was decoded.
		dec := json.NewDecoder(bytes.NewReader(chosen))
		dec.UseNumber()
		if err := dec.Decode(&res.ChosenNumbers); err != nil {
			return nil, fmt.Errorf("failed to decode chosen numbers: %w", err)
		}
	}
	return res, nil
}

func (s *DBStore) TryReserve(ctx context.Context, res *models.Reservation, now time.Time) (*models.Reservation, error) {
	chosen, err := json.Marshal(res.ChosenNumbers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chosen numbers: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total, sold int
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT total_tickets, sold_tickets, status FROM raffles WHERE id = $1 FOR UPDATE`,
		res.RaffleID).Scan(&total, &sold, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDBNotFound
		}
		return nil, fmt.Errorf("failed to lock raffle: %w", err)
	}
	if models.RaffleStatus(status) != models.RaffleActive {
		return nil, ErrDBRaffleNotActive
	}

	// Stale holds of this raffle are released before counting.
	_, err = tx.ExecContext(ctx, `
        UPDATE reservations SET status = 'expired'
        WHERE raffle_id = $1 AND status = 'active' AND expires_at < $2`, res.RaffleID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale reservations: %w", err)
	}

	var held int
	err = tx.QueryRowContext(ctx, `
        SELECT COALESCE(SUM(quantity), 0) FROM reservations
        WHERE raffle_id = $1 AND status = 'active'`, res.RaffleID).Scan(&held)
	if err != nil {
		return nil, fmt.Errorf("failed to sum active reservations: %w", err)
	}
	if total-(sold+held) < res.Quantity {
		return nil, ErrDBCapacityExceeded
	}

	created, err := scanReservation(tx.QueryRowContext(ctx, `
        INSERT INTO reservations (id, raffle_id, owner_id, quantity, chosen_numbers, status, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, 'active', $6, $7)
        RETURNING `+reservationColumns,
		res.ID, res.RaffleID, res.OwnerID, res.Quantity, chosen, now, res.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

func (s *DBStore) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	res, err := scanReservation(s.DB.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return res, nil
}

func (s *DBStore) ReleaseReservation(ctx context.Context, id string) (bool, error) {
	result, err := s.DB.ExecContext(ctx,
		`UPDATE reservations SET status = 'expired' WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to release reservation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read release result: %w", err)
	}
	return n == 1, nil
}

func (s *DBStore) ExpireReservations(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.DB.ExecContext(ctx,
		`UPDATE reservations SET status = 'expired' WHERE status = 'active' AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}
	return result.RowsAffected()
}

const chargeColumns = `provider_charge_id, reservation_id, amount_cents, status, qr_payload, qr_image, expires_at, customer, created_at, updated_at`

func scanCharge(row rowScanner) (*models.Charge, error) {
	c := &models.Charge{}
	var customer []byte
	err := row.Scan(&c.ProviderChargeID, &c.ReservationID, &c.AmountCents, &c.Status,
		&c.QRPayload, &c.QRImage, &c.ExpiresAt, &customer, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &c.Customer); err != nil {
			return nil, fmt.Errorf("failed to decode customer: %w", err)
		}
	}
	return c, nil
}

func (s *DBStore) CreateChargeOnce(ctx context.Context, reservationID string, now time.Time, create ChargeCreator) (*models.Charge, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := scanReservation(tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, reservationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrDBNotFound
		}
		return nil, false, fmt.Errorf("failed to lock reservation: %w", err)
	}

	existing, err := scanCharge(tx.QueryRowContext(ctx, `
        SELECT `+chargeColumns+` FROM charges
        WHERE reservation_id = $1 AND status IN ('pending', 'paid')
        ORDER BY created_at DESC LIMIT 1`, reservationID))
	if err == nil {
		return existing, false, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to look up charge: %w", err)
	}

	switch res.Status {
	case models.ReservationConsumed:
		return nil, false, ErrDBReservationConsumed
	case models.ReservationExpired:
		return nil, false, ErrDBReservationExpired
	}
	if now.After(res.ExpiresAt) {
		return nil, false, ErrDBReservationExpired
	}

	charge, err := create(ctx, res)
	if err != nil {
		return nil, false, err
	}

	customer, err := json.Marshal(charge.Customer)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode customer: %w", err)
	}
	stored, err := scanCharge(tx.QueryRowContext(ctx, `
        INSERT INTO charges (provider_charge_id, reservation_id, amount_cents, status, qr_payload, qr_image, expires_at, customer, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
        RETURNING `+chargeColumns,
		charge.ProviderChargeID, reservationID, charge.AmountCents, charge.Status,
		charge.QRPayload, charge.QRImage, charge.ExpiresAt, customer, now))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert charge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return stored, true, nil
}

func (s *DBStore) GetChargeByReservation(ctx context.Context, reservationID string) (*models.Charge, error) {
	c, err := scanCharge(s.DB.QueryRowContext(ctx, `
        SELECT `+chargeColumns+` FROM charges
        WHERE reservation_id = $1
        ORDER BY created_at DESC LIMIT 1`, reservationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get charge by reservation: %w", err)
	}
	return c, nil
}

func (s *DBStore) GetChargeByProviderID(ctx context.Context, providerChargeID string) (*models.Charge, error) {
	c, err := scanCharge(s.DB.QueryRowContext(ctx,
		`SELECT `+chargeColumns+` FROM charges WHERE provider_charge_id = $1`, providerChargeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get charge: %w", err)
	}
	return c, nil
}

func (s *DBStore) UpdateChargeStatus(ctx context.Context, providerChargeID string, status models.ChargeStatus, now time.Time) (*models.Charge, error) {
	c, err := scanCharge(s.DB.QueryRowContext(ctx, `
        UPDATE charges SET status = $2, updated_at = $3
        WHERE provider_charge_id = $1 AND status = 'pending'
        RETURNING `+chargeColumns, providerChargeID, status, now))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update charge status: %w", err)
	}

	current, err := s.GetChargeByProviderID(ctx, providerChargeID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrDBNotFound
	}
	return current, nil
}

const ticketColumns = `id, raffle_id, reservation_id, owner_id, seq, numbers, created_at`

func scanTicket(row rowScanner) (models.Ticket, error) {
	var t models.Ticket
	var nums pq.StringArray
	if err := row.Scan(&t.ID, &t.RaffleID, &t.ReservationID, &t.OwnerID, &t.Seq, &nums, &t.CreatedAt); err != nil {
		return t, err
	}
	copy(t.Numbers[:], nums)
	return t, nil
}

func queryTickets(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, where string, arg any) ([]models.Ticket, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *DBStore) FinalizeReservation(ctx context.Context, reservationID string, build TicketBuilder) ([]models.Ticket, bool, error) {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := scanReservation(tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, reservationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrDBNotFound
		}
		return nil, false, fmt.Errorf("failed to lock reservation: %w", err)
	}

	switch res.Status {
	case models.ReservationConsumed:
		tickets, err := queryTickets(ctx, tx, "reservation_id = $1", reservationID)
		if err != nil {
			return nil, false, err
		}
		return tickets, true, tx.Commit()
	case models.ReservationExpired:
		return nil, false, ErrDBReservationExpired
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'consumed' WHERE id = $1 AND status = 'active'`, reservationID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to consume reservation: %w", err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return nil, false, fmt.Errorf("reservation %s changed while locked", reservationID)
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO tickets (id, raffle_id, reservation_id, owner_id, seq, numbers, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return nil, false, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	tickets := build(res)
	for _, t := range tickets {
		if _, err := stmt.ExecContext(ctx, t.ID, t.RaffleID, t.ReservationID, t.OwnerID, t.Seq, pq.Array(t.Numbers[:]), t.CreatedAt); err != nil {
			return nil, false, fmt.Errorf("failed to insert ticket %d: %w", t.Seq, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE raffles SET sold_tickets = sold_tickets + $2 WHERE id = $1`, res.RaffleID, len(tickets))
	if err != nil {
		return nil, false, fmt.Errorf("failed to increment sold tickets: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return tickets, false, nil
}

func (s *DBStore) ListTickets(ctx context.Context, raffleID string) ([]models.Ticket, error) {
	return queryTickets(ctx, s.DB, "raffle_id = $1", raffleID)
}

func (s *DBStore) ListTicketsByReservation(ctx context.Context, reservationID string) ([]models.Ticket, error) {
	return queryTickets(ctx, s.DB, "reservation_id = $1", reservationID)
}

const winnerColumns = `raffle_id, concurso_number, ticket_id, owner_id, drawn_numbers, delta, created_at`

func scanWinner(row rowScanner) (*models.WinnerRecord, error) {
	w := &models.WinnerRecord{}
	var drawn pq.StringArray
	if err := row.Scan(&w.RaffleID, &w.ConcursoNumber, &w.TicketID, &w.OwnerID, &drawn, &w.Delta, &w.CreatedAt); err != nil {
		return nil, err
	}
	copy(w.DrawnNumbers[:], drawn)
	return w, nil
}

func (s *DBStore) GetWinner(ctx context.Context, raffleID string, concurso int) (*models.WinnerRecord, error) {
	w, err := scanWinner(s.DB.QueryRowContext(ctx,
		`SELECT `+winnerColumns+` FROM winner_records WHERE raffle_id = $1 AND concurso_number = $2`, raffleID, concurso))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get winner: %w", err)
	}
	return w, nil
}

func (s *DBStore) RecordWinner(ctx context.Context, rec *models.WinnerRecord) (*models.WinnerRecord, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM raffles WHERE id = $1 FOR UPDATE`, rec.RaffleID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrDBNotFound
		}
		return nil, false, fmt.Errorf("failed to lock raffle: %w", err)
	}

	existing, err := scanWinner(tx.QueryRowContext(ctx,
		`SELECT `+winnerColumns+` FROM winner_records WHERE raffle_id = $1 AND concurso_number = $2`,
		rec.RaffleID, rec.ConcursoNumber))
	if err == nil {
		return existing, false, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to look up winner: %w", err)
	}
	if models.RaffleStatus(status) == models.RaffleAwarded {
		return nil, false, ErrDBRaffleAwarded
	}

	stored, err := scanWinner(tx.QueryRowContext(ctx, `
        INSERT INTO winner_records (raffle_id, concurso_number, ticket_id, owner_id, drawn_numbers, delta, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING `+winnerColumns,
		rec.RaffleID, rec.ConcursoNumber, rec.TicketID, rec.OwnerID, pq.Array(rec.DrawnNumbers[:]), rec.Delta, rec.CreatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert winner: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE raffles SET status = 'awarded' WHERE id = $1`, rec.RaffleID); err != nil {
		return nil, false, fmt.Errorf("failed to mark raffle awarded: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return stored, true, nil
}
