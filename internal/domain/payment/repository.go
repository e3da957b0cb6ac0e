package payment

import "errors"

var ErrRecordNotFound = errors.New("payment record not found")

type Repository interface {
	Save(*Record) error
	UpdateStatus(paymentID string, status Status, message string, polls int) error
	FindByPaymentID(string) (*Record, error)
	ListByOwner(owner string, limit int) ([]Record, error)
}
