package sql

import (
	"time"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

// FamilyEntity is a schema model used for persistence.
type FamilyEntity struct {
	ID                      string
	CorrelationID           string
	FamilyExternalID        string
	PrimaryPersonExternalID string
	InboundPayload          model.FamilyDocument
	InboundAfterUpdatedAt   time.Time
	OutboundPayload         *model.AccountDocument
	ComparisonPayload       *model.Comparison
	LastTransactedAt        *time.Time
	CreateTime              time.Time
	LastUpdated             time.Time
	Version                 int
}

func (FamilyEntity) TableName() string {
	return "sync_family"
}

// JobEntity is a schema model used for persistence.
type JobEntity struct {
	ID          string
	MessageID   string
	Key         string
	CreateTime  time.Time
	LastUpdated time.Time
	Version     int
}

func (JobEntity) TableName() string {
	return "sync_job"
}

// TransmissionEntity is a schema model used for persistence.
type TransmissionEntity struct {
	ID            string
	JobID         *string
	CorrelationID string
	Kind          string
	CreateTime    time.Time
	LastUpdated   time.Time
	Version       int
}

func (TransmissionEntity) TableName() string {
	return "sync_transmission"
}

// TransactionEntity is a schema model used for persistence.
type TransactionEntity struct {
	ID               string
	TransactableID   string
	TransactableType string
	Key              string
	JSONPayload      model.JSONDocument
	XMLPayload       string
	CreateTime       time.Time
	LastUpdated      time.Time
	Version          int
}

func (TransactionEntity) TableName() string {
	return "sync_transaction"
}

// TransmissionTransactionEntity is the join table between transmissions and
// transactions.
type TransmissionTransactionEntity struct {
	TransmissionID string
	TransactionID  string
	CreateTime     time.Time
}

func (TransmissionTransactionEntity) TableName() string {
	return "sync_transmission_transaction"
}

// ProcessStatusEntity is a schema model used for persistence.
type ProcessStatusEntity struct {
	ID              string
	OwnerKind       string
	OwnerID         string
	InitialStateKey string
	LatestState     string
	ElapsedTime     float64
	States          model.ProcessStateList
	CreateTime      time.Time
	LastUpdated     time.Time
	Version         int
}

func (ProcessStatusEntity) TableName() string {
	return "sync_process_status"
}

// ErrorEntity is a schema model used for persistence.
type ErrorEntity struct {
	ID         string
	OwnerKind  string
	OwnerID    string
	Key        string
	Message    string
	CreateTime time.Time
}

func (ErrorEntity) TableName() string {
	return "sync_error"
}
