package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

// ErrFamilyNotFound is returned when a Family subject is not found.
var ErrFamilyNotFound = errors.New("family not found")

// FamilyRepository defines operations for persisting and retrieving Family
// subjects.
type FamilyRepository interface {
	// SaveFamily persists a new Family subject.
	SaveFamily(ctx context.Context, family *model.Family) error

	// UpdateFamily updates an existing Family subject. It fails with an
	// optimistic locking error when the stored version does not match.
	UpdateFamily(ctx context.Context, family *model.Family) error

	// FindFamilyByID finds a Family by its internal ID.
	FindFamilyByID(ctx context.Context, id string) (*model.Family, error)

	// FindFamilyByCorrelationID finds a Family by its correlation ID.
	FindFamilyByCorrelationID(ctx context.Context, correlationID string) (*model.Family, error)

	// FindEligiblePriorFamily finds the most-recently-transacted other Family
	// sharing the same (familyExternalID, primaryPersonExternalID) pair,
	// excluding the row with excludeID. Returns ErrFamilyNotFound when none
	// exists.
	FindEligiblePriorFamily(ctx context.Context, familyExternalID, primaryPersonExternalID, excludeID string) (*model.Family, error)

	// TouchLastTransactedAt records that a Transaction was created for the
	// Family at the given time.
	TouchLastTransactedAt(ctx context.Context, familyID string, at time.Time) error
}
