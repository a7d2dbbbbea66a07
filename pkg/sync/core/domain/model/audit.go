// Package model defines the famsync domain model: the Family subject, the
// Comparison decision record, and the Job/Transmission/Transaction audit
// graph with its append-only process state tracking.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
)

// NewID generates a new unique identifier.
func NewID() string {
	return uuid.New().String()
}

// NewMessageID generates a candidate message id for a Job. Uniqueness is
// enforced by the caller with a generate-and-check loop against the store.
func NewMessageID() string {
	return uuid.New().String()
}

// TransmissionKind distinguishes the request leg from the response leg of an
// exchange with the CRM.
type TransmissionKind string

const (
	TransmissionKindRequest  TransmissionKind = "request"
	TransmissionKindResponse TransmissionKind = "response"
)

// TransactableType discriminates the polymorphic owner of a Transaction.
type TransactableType string

const (
	TransactableTypeFamily TransactableType = "family"
)

// ErrorEntry is an audit error attached to a Job, Transmission, or
// Transaction. Key is a symbolic tag of the failing step; Message is the
// human-readable detail.
type ErrorEntry struct {
	ID         string    `json:"id"`
	OwnerKind  OwnerKind `json:"ownerKind"`
	OwnerID    string    `json:"ownerId"`
	Key        string    `json:"key"`
	Message    string    `json:"message"`
	CreateTime time.Time `json:"createTime"`
}

// NewErrorEntry creates an ErrorEntry for the given owner.
func NewErrorEntry(ownerKind OwnerKind, ownerID, key, message string) ErrorEntry {
	return ErrorEntry{
		ID:         NewID(),
		OwnerKind:  ownerKind,
		OwnerID:    ownerID,
		Key:        key,
		Message:    message,
		CreateTime: time.Now(),
	}
}

// Job is the top-level audit record for one logical inbound event.
// Its metadata is immutable after creation; only the status progresses.
type Job struct {
	ID            string          `json:"id"`
	MessageID     string          `json:"messageId"`
	Key           string          `json:"key"`
	Status        *ProcessStatus  `json:"status"`
	Transmissions []*Transmission `json:"transmissions,omitempty"`
	Errors        []ErrorEntry    `json:"errors,omitempty"`
	CreateTime    time.Time       `json:"createTime"`
	LastUpdated   time.Time       `json:"lastUpdated"`
	Version       int             `json:"version"`
}

// NewJob creates a Job with a candidate message id and an initial status.
// key names the domain event type the job was created for.
func NewJob(key string) *Job {
	now := time.Now()
	j := &Job{
		ID:          NewID(),
		MessageID:   NewMessageID(),
		Key:         key,
		CreateTime:  now,
		LastUpdated: now,
	}
	j.Status = NewProcessStatus(OwnerKindJob, j.ID)
	return j
}

// AddError records an audit error against the job.
func (j *Job) AddError(key, message string) {
	j.Errors = append(j.Errors, NewErrorEntry(OwnerKindJob, j.ID, key, message))
	j.LastUpdated = time.Now()
}

// ErrorMessages returns the messages of all errors recorded against the job.
func (j *Job) ErrorMessages() []string {
	msgs := make([]string, 0, len(j.Errors))
	for _, e := range j.Errors {
		msgs = append(msgs, e.Message)
	}
	return msgs
}

// Transmission is one request-or-response leg of the exchange with the CRM.
// The parent Job is optional; a Transmission can exist without one in
// degenerate cases.
type Transmission struct {
	ID            string           `json:"id"`
	JobID         *string          `json:"jobId,omitempty"`
	CorrelationID string           `json:"correlationId"`
	Kind          TransmissionKind `json:"kind"`
	Status        *ProcessStatus   `json:"status"`
	Transactions  []*Transaction   `json:"transactions,omitempty"`
	Errors        []ErrorEntry     `json:"errors,omitempty"`
	CreateTime    time.Time        `json:"createTime"`
	LastUpdated   time.Time        `json:"lastUpdated"`
	Version       int              `json:"version"`
}

// NewTransmission creates a Transmission in the initial state. jobID may be
// nil.
func NewTransmission(jobID *string, correlationID string, kind TransmissionKind) *Transmission {
	now := time.Now()
	t := &Transmission{
		ID:            NewID(),
		JobID:         jobID,
		CorrelationID: correlationID,
		Kind:          kind,
		CreateTime:    now,
		LastUpdated:   now,
	}
	t.Status = NewProcessStatus(OwnerKindTransmission, t.ID)
	return t
}

// AddError records an audit error against the transmission.
func (t *Transmission) AddError(key, message string) {
	t.Errors = append(t.Errors, NewErrorEntry(OwnerKindTransmission, t.ID, key, message))
	t.LastUpdated = time.Now()
}

// AddTransaction joins a transaction to this transmission. A transaction may
// be joined to more than one transmission.
func (t *Transmission) AddTransaction(tx *Transaction) {
	t.Transactions = append(t.Transactions, tx)
	t.LastUpdated = time.Now()
}

// TransmissionTransaction is the join record between Transmissions and
// Transactions.
type TransmissionTransaction struct {
	TransmissionID string    `json:"transmissionId"`
	TransactionID  string    `json:"transactionId"`
	CreateTime     time.Time `json:"createTime"`
}

// JSONDocument is an arbitrary JSON payload carried by a Transaction.
type JSONDocument map[string]interface{}

// Value implements driver.Valuer.
func (d JSONDocument) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, exception.NewSyncError("model", "Failed to serialize JSONDocument", err, false, false)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (d *JSONDocument) Scan(value interface{}) error {
	return scanJSONColumn(value, d, "JSONDocument")
}

// Transaction is the per-entity unit of work: the data exchanged for one
// account or one contact. It belongs to exactly one polymorphic subject and
// carries either a JSON or an XML payload, never both.
type Transaction struct {
	TransactionID    string           `json:"id"`
	TransactableID   string           `json:"transactableId"`
	TransactableType TransactableType `json:"transactableType"`
	Key              string           `json:"key"`
	JSONPayload      JSONDocument     `json:"jsonPayload,omitempty"`
	XMLPayload       string           `json:"xmlPayload,omitempty"`
	Status           *ProcessStatus   `json:"status"`
	Errors           []ErrorEntry     `json:"errors,omitempty"`
	CreateTime       time.Time        `json:"createTime"`
	LastUpdated      time.Time        `json:"lastUpdated"`
	Version          int              `json:"version"`
}

// NewTransaction creates a Transaction for a subject with an initial status.
// key names the entity the transaction covers (e.g. "account",
// "contact:<externalId>").
func NewTransaction(transactableID string, transactableType TransactableType, key string, payload JSONDocument) *Transaction {
	now := time.Now()
	tx := &Transaction{
		TransactionID:    NewID(),
		TransactableID:   transactableID,
		TransactableType: transactableType,
		Key:              key,
		JSONPayload:      payload,
		CreateTime:       now,
		LastUpdated:      now,
	}
	tx.Status = NewProcessStatus(OwnerKindTransaction, tx.TransactionID)
	return tx
}

// AddError records an audit error against the transaction.
func (tx *Transaction) AddError(key, message string) {
	tx.Errors = append(tx.Errors, NewErrorEntry(OwnerKindTransaction, tx.TransactionID, key, message))
	tx.LastUpdated = time.Now()
}

// Succeeded reports whether the transaction reached the terminal succeeded
// state.
func (tx *Transaction) Succeeded() bool {
	return tx.Status != nil && tx.Status.LatestState == StateSucceeded
}
