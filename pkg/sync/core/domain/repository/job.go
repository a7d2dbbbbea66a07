package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

// ErrJobNotFound is returned when a Job is not found.
var ErrJobNotFound = errors.New("job not found")

// ErrDuplicateMessageID is returned when saving a Job whose messageId already
// exists.
var ErrDuplicateMessageID = errors.New("duplicate job message id")

// JobRepository defines operations for persisting and retrieving Jobs.
type JobRepository interface {
	// SaveJob persists a new Job. Returns ErrDuplicateMessageID when the
	// messageId is already taken.
	SaveJob(ctx context.Context, job *model.Job) error

	// UpdateJob updates the state of an existing Job.
	UpdateJob(ctx context.Context, job *model.Job) error

	// FindJobByID finds a Job by its ID, loading its status and errors.
	FindJobByID(ctx context.Context, id string) (*model.Job, error)

	// ExistsJobWithMessageID reports whether a Job with the given messageId
	// exists. The generate-and-check loop at Job creation uses this.
	ExistsJobWithMessageID(ctx context.Context, messageID string) (bool, error)

	// ListFinishedJobs returns Jobs whose latest state is terminal and whose
	// last update is before the given time, up to limit rows.
	ListFinishedJobs(ctx context.Context, before time.Time, limit int) ([]*model.Job, error)

	// ErrorMessagesByJob aggregates the error messages recorded against a Job
	// and all of its Transmissions and Transactions.
	ErrorMessagesByJob(ctx context.Context, jobID string) ([]string, error)
}
