package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/payment"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Save inserts the record, or replaces it when the payment id is already known.
func (r *PaymentRepository) Save(rec *payment.Record) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO payment_attempts
		 (payment_id, attempt_id, owner, ref_kind, ref_id, phone_number, status, message, polls, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PaymentID,
		rec.AttemptID,
		rec.Owner,
		string(rec.Ref.Kind),
		rec.Ref.ID,
		rec.Phone,
		string(rec.Status),
		rec.Message,
		rec.Polls,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
	)
	return err
}

func (r *PaymentRepository) UpdateStatus(paymentID string, status payment.Status, message string, polls int) error {
	res, err := r.db.Exec(
		`UPDATE payment_attempts
		 SET status = ?, message = ?, polls = ?, updated_at = ?
		 WHERE payment_id = ?`,
		string(status),
		message,
		polls,
		time.Now().UTC(),
		paymentID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return payment.ErrRecordNotFound
	}

	return nil
}

const selectRecord = `SELECT payment_id, attempt_id, owner, ref_kind, ref_id, phone_number, status, message, polls, created_at, updated_at
	 FROM payment_attempts`

func (r *PaymentRepository) FindByPaymentID(paymentID string) (*payment.Record, error) {
	row := r.db.QueryRow(selectRecord+` WHERE payment_id = ?`, paymentID)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payment.ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *PaymentRepository) ListByOwner(owner string, limit int) ([]payment.Record, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		selectRecord+` WHERE owner = ? ORDER BY created_at DESC LIMIT ?`,
		owner,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payment.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*payment.Record, error) {
	var rec payment.Record
	var kind, status string

	if err := s.Scan(
		&rec.PaymentID,
		&rec.AttemptID,
		&rec.Owner,
		&kind,
		&rec.Ref.ID,
		&rec.Phone,
		&status,
		&rec.Message,
		&rec.Polls,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.Ref.Kind = payment.RefKind(kind)
	rec.Status = payment.Status(status)
	return &rec, nil
}
