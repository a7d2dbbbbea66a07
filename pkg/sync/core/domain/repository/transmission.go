package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

// ErrTransmissionNotFound is returned when a Transmission is not found.
var ErrTransmissionNotFound = errors.New("transmission not found")

// ErrTransactionNotFound is returned when a Transaction is not found.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransmissionRepository defines operations for persisting Transmissions and
// their join records to Transactions.
type TransmissionRepository interface {
	// SaveTransmission persists a new Transmission.
	SaveTransmission(ctx context.Context, transmission *model.Transmission) error

	// UpdateTransmission updates the state of an existing Transmission.
	UpdateTransmission(ctx context.Context, transmission *model.Transmission) error

	// FindTransmissionByID finds a Transmission by its ID, loading its status,
	// errors, and joined transactions.
	FindTransmissionByID(ctx context.Context, id string) (*model.Transmission, error)

	// FindTransmissionsByJob finds all Transmissions belonging to a Job in
	// creation order.
	FindTransmissionsByJob(ctx context.Context, jobID string) ([]*model.Transmission, error)

	// LinkTransaction joins a Transaction to a Transmission. A Transaction may
	// be joined to more than one Transmission.
	LinkTransaction(ctx context.Context, transmissionID, transactionID string) error
}

// TransactionRepository defines operations for persisting Transactions.
type TransactionRepository interface {
	// SaveTransaction persists a new Transaction.
	SaveTransaction(ctx context.Context, transaction *model.Transaction) error

	// UpdateTransaction updates the state of an existing Transaction.
	UpdateTransaction(ctx context.Context, transaction *model.Transaction) error

	// FindTransactionByID finds a Transaction by its ID, loading its status and
	// errors.
	FindTransactionByID(ctx context.Context, id string) (*model.Transaction, error)

	// FindTransactionsByTransactable finds all Transactions owned by the given
	// polymorphic subject in creation order.
	FindTransactionsByTransactable(ctx context.Context, transactableID string, transactableType model.TransactableType) ([]*model.Transaction, error)
}
