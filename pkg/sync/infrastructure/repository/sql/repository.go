// Package sql provides the SQL-backed implementation of the famsync audit and
// subject repositories. It persists Families, Jobs, Transmissions,
// Transactions, their ProcessStatus rows, and audit errors through the
// database adaptor layer.
package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/famsync/pkg/sync/adaptor/database"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	repository "github.com/tigerroll/famsync/pkg/sync/core/domain/repository"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
)

// SQLSyncRepository implements the repository.SyncRepository interface.
type SQLSyncRepository struct {
	dbResolver database.DBConnectionResolver
	// TxManager is the transaction manager for the audit database.
	TxManager database.TransactionManager
	// dbName is the name of the database connection used by this repository
	// (e.g., "audit").
	dbName string
}

// NewSQLSyncRepository creates a new instance of SQLSyncRepository bound to
// the named database connection.
func NewSQLSyncRepository(
	dbResolver database.DBConnectionResolver,
	txManager database.TransactionManager,
	dbName string,
) repository.SyncRepository {
	return &SQLSyncRepository{
		dbResolver: dbResolver,
		TxManager:  txManager,
		dbName:     dbName,
	}
}

// getDBConnection resolves the DBConnection used by this repository. Used for
// operations that do not require an active transaction.
func (r *SQLSyncRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewSyncError("SQLSyncRepository", fmt.Sprintf("Failed to resolve DB connection '%s'", r.dbName), err, false, false)
	}
	return conn, nil
}

// getTxExecutor checks if a Tx exists in the context. If a transaction is
// found, it is returned; otherwise the direct DBConnection is used.
func (r *SQLSyncRepository) getTxExecutor(ctx context.Context) (database.DBExecutor, error) {
	if t, ok := ctx.Value("tx").(database.Tx); ok {
		return t, nil
	}
	return r.getDBConnection(ctx)
}

// Close releases resources held by the repository. Connections are owned by
// the DB providers, so there is nothing to do here.
func (r *SQLSyncRepository) Close() error {
	return nil
}

// --- shared status / error persistence ---

// saveProcessStatus upserts the ProcessStatus row of an audit entity. The
// status advances monotonically, so replaying an older snapshot is harmless.
func (r *SQLSyncRepository) saveProcessStatus(ctx context.Context, executor database.DBExecutor, ps *model.ProcessStatus) error {
	const op = "SQLSyncRepository.saveProcessStatus"
	if ps == nil {
		return nil
	}
	entity := fromDomainProcessStatus(ps)

	_, err := executor.ExecuteUpsert(ctx, entity, entity.TableName(),
		[]string{"id"},
		[]string{"latest_state", "elapsed_time", "states", "last_updated", "version"})
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to save ProcessStatus (owner: %s/%s)", ps.OwnerKind, ps.OwnerID), err, false, true)
	}
	return nil
}

// saveErrors inserts the audit error entries. Entries are append-only and
// identified by their own id, so re-saving an entity's error list only adds
// the new rows.
func (r *SQLSyncRepository) saveErrors(ctx context.Context, executor database.DBExecutor, errs []model.ErrorEntry) error {
	const op = "SQLSyncRepository.saveErrors"
	for _, e := range errs {
		entity := fromDomainError(e)
		_, err := executor.ExecuteUpsert(ctx, entity, entity.TableName(), []string{"id"}, nil)
		if err != nil {
			if executor.IsTableNotExistError(err) {
				return nil
			}
			return exception.NewSyncError(op, fmt.Sprintf("failed to save ErrorEntry (ID: %s)", e.ID), err, false, true)
		}
	}
	return nil
}

// loadProcessStatus loads the ProcessStatus of an audit entity. Returns nil
// without error when no status row exists yet.
func (r *SQLSyncRepository) loadProcessStatus(ctx context.Context, conn database.DBConnection, ownerKind model.OwnerKind, ownerID string) (*model.ProcessStatus, error) {
	const op = "SQLSyncRepository.loadProcessStatus"
	var entity ProcessStatusEntity

	err := conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{
		"owner_kind": string(ownerKind),
		"owner_id":   ownerID,
	}, "", 1)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, nil
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to load ProcessStatus (owner: %s/%s)", ownerKind, ownerID), err, false, true)
	}
	if entity.ID == "" {
		return nil, nil
	}
	return toDomainProcessStatus(&entity), nil
}

// loadErrors loads the audit errors of an entity in creation order.
func (r *SQLSyncRepository) loadErrors(ctx context.Context, conn database.DBConnection, ownerKind model.OwnerKind, ownerID string) ([]model.ErrorEntry, error) {
	const op = "SQLSyncRepository.loadErrors"
	var entities []ErrorEntity

	err := conn.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{
		"owner_kind": string(ownerKind),
		"owner_id":   ownerID,
	}, "create_time asc", 0)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, nil
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to load errors (owner: %s/%s)", ownerKind, ownerID), err, false, true)
	}

	var errs []model.ErrorEntry
	for i := range entities {
		errs = append(errs, toDomainError(&entities[i]))
	}
	return errs, nil
}

// --- Family implementation ---

func (r *SQLSyncRepository) SaveFamily(ctx context.Context, family *model.Family) error {
	const op = "SQLSyncRepository.SaveFamily"
	entity := fromDomainFamily(family)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	_, err = executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil)
	if err != nil {
		if executor.IsTableNotExistError(err) {
			// Migrations have not run yet; the table will be created later.
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to save Family (ID: %s)", family.ID), err, false, true)
	}
	return nil
}

func (r *SQLSyncRepository) UpdateFamily(ctx context.Context, family *model.Family) error {
	const op = "SQLSyncRepository.UpdateFamily"

	originalVersion := family.Version
	family.Version++
	family.LastUpdated = time.Now()
	entity := fromDomainFamily(family)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := executor.ExecuteUpdate(
		ctx,
		entity,
		"UPDATE",
		entity.TableName(),
		map[string]interface{}{"version": originalVersion},
	)
	if err != nil {
		family.Version = originalVersion // Rollback version
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to update Family (ID: %s)", family.ID), err, false, true)
	}
	if rowsAffected == 0 {
		family.Version = originalVersion // Rollback version
		return exception.NewOptimisticLockingFailureException("repository", fmt.Sprintf("Family (ID: %s) with version %d not found for update", family.ID, originalVersion), nil)
	}
	return nil
}

func (r *SQLSyncRepository) FindFamilyByID(ctx context.Context, id string) (*model.Family, error) {
	const op = "SQLSyncRepository.FindFamilyByID"
	var entity FamilyEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": id}, "", 1)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrFamilyNotFound
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to find Family by ID: %s", id), err, false, true)
	}
	if entity.ID == "" {
		return nil, repository.ErrFamilyNotFound
	}
	return toDomainFamily(&entity), nil
}

func (r *SQLSyncRepository) FindFamilyByCorrelationID(ctx context.Context, correlationID string) (*model.Family, error) {
	const op = "SQLSyncRepository.FindFamilyByCorrelationID"
	var entity FamilyEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"correlation_id": correlationID}, "create_time desc", 1)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrFamilyNotFound
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to find Family by correlation ID: %s", correlationID), err, false, true)
	}
	if entity.ID == "" {
		return nil, repository.ErrFamilyNotFound
	}
	return toDomainFamily(&entity), nil
}

func (r *SQLSyncRepository) FindEligiblePriorFamily(ctx context.Context, familyExternalID, primaryPersonExternalID, excludeID string) (*model.Family, error) {
	const op = "SQLSyncRepository.FindEligiblePriorFamily"
	var entities []FamilyEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	query := map[string]interface{}{
		"family_external_id":         familyExternalID,
		"primary_person_external_id": primaryPersonExternalID,
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entities, query, "last_transacted_at desc, create_time desc", 0)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrFamilyNotFound
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to find prior Family for (%s, %s)", familyExternalID, primaryPersonExternalID), err, false, true)
	}

	// Eligible means transacted at least once. Rows that never produced a
	// Transaction carry no comparable state and are skipped.
	for i := range entities {
		if entities[i].ID == excludeID {
			continue
		}
		if entities[i].LastTransactedAt == nil {
			continue
		}
		return toDomainFamily(&entities[i]), nil
	}
	return nil, repository.ErrFamilyNotFound
}

func (r *SQLSyncRepository) TouchLastTransactedAt(ctx context.Context, familyID string, at time.Time) error {
	const op = "SQLSyncRepository.TouchLastTransactedAt"

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	entity := &FamilyEntity{LastTransactedAt: &at, LastUpdated: time.Now()}
	rowsAffected, err := executor.ExecuteUpdate(
		ctx,
		entity,
		"UPDATE",
		entity.TableName(),
		map[string]interface{}{"id": familyID},
	)
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to touch lastTransactedAt for Family (ID: %s)", familyID), err, false, true)
	}
	if rowsAffected == 0 {
		return repository.ErrFamilyNotFound
	}
	return nil
}

// --- Job implementation ---

func (r *SQLSyncRepository) SaveJob(ctx context.Context, job *model.Job) error {
	const op = "SQLSyncRepository.SaveJob"

	// The message id uniqueness check races with concurrent writers; the
	// unique index on message_id is the backstop.
	exists, err := r.ExistsJobWithMessageID(ctx, job.MessageID)
	if err != nil {
		return err
	}
	if exists {
		return repository.ErrDuplicateMessageID
	}

	entity := fromDomainJob(job)
	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	_, err = executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil)
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to save Job (ID: %s)", job.ID), err, false, true)
	}

	if err := r.saveProcessStatus(ctx, executor, job.Status); err != nil {
		return err
	}
	return r.saveErrors(ctx, executor, job.Errors)
}

func (r *SQLSyncRepository) UpdateJob(ctx context.Context, job *model.Job) error {
	const op = "SQLSyncRepository.UpdateJob"

	originalVersion := job.Version
	job.Version++
	job.LastUpdated = time.Now()
	entity := fromDomainJob(job)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := executor.ExecuteUpdate(
		ctx,
		entity,
		"UPDATE",
		entity.TableName(),
		map[string]interface{}{"version": originalVersion},
	)
	if err != nil {
		job.Version = originalVersion // Rollback version
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to update Job (ID: %s)", job.ID), err, false, true)
	}
	if rowsAffected == 0 {
		job.Version = originalVersion // Rollback version
		return exception.NewOptimisticLockingFailureException("repository", fmt.Sprintf("Job (ID: %s) with version %d not found for update", job.ID, originalVersion), nil)
	}

	if err := r.saveProcessStatus(ctx, executor, job.Status); err != nil {
		return err
	}
	return r.saveErrors(ctx, executor, job.Errors)
}

func (r *SQLSyncRepository) FindJobByID(ctx context.Context, id string) (*model.Job, error) {
	const op = "SQLSyncRepository.FindJobByID"
	var entity JobEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": id}, "", 1)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrJobNotFound
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to find Job by ID: %s", id), err, false, true)
	}
	if entity.ID == "" {
		return nil, repository.ErrJobNotFound
	}

	job := toDomainJob(&entity)
	if job.Status, err = r.loadProcessStatus(ctx, conn, model.OwnerKindJob, job.ID); err != nil {
		return nil, err
	}
	if job.Errors, err = r.loadErrors(ctx, conn, model.OwnerKindJob, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *SQLSyncRepository) ExistsJobWithMessageID(ctx context.Context, messageID string) (bool, error) {
	const op = "SQLSyncRepository.ExistsJobWithMessageID"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return false, err
	}

	count, err := conn.Count(ctx, &JobEntity{}, map[string]interface{}{"message_id": messageID})
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return false, nil
		}
		return false, exception.NewSyncError(op, fmt.Sprintf("failed to count Jobs by message ID: %s", messageID), err, false, true)
	}
	return count > 0, nil
}

func (r *SQLSyncRepository) ListFinishedJobs(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
	const op = "SQLSyncRepository.ListFinishedJobs"
	var statuses []ProcessStatusEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	query := map[string]interface{}{
		"owner_kind":   string(model.OwnerKindJob),
		"latest_state": []string{string(model.StateSucceeded), string(model.StateFailed)},
	}

	err = conn.ExecuteQueryAdvanced(ctx, &statuses, query, "last_updated asc", 0)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return []*model.Job{}, nil
		}
		return nil, exception.NewSyncError(op, "failed to list finished Job statuses", err, false, true)
	}

	jobs := make([]*model.Job, 0, limit)
	for i := range statuses {
		if !statuses[i].LastUpdated.Before(before) {
			continue
		}
		job, err := r.FindJobByID(ctx, statuses[i].OwnerID)
		if err != nil {
			if err == repository.ErrJobNotFound {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
		if limit > 0 && len(jobs) >= limit {
			break
		}
	}
	return jobs, nil
}

func (r *SQLSyncRepository) ErrorMessagesByJob(ctx context.Context, jobID string) ([]string, error) {
	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	var messages []string
	collect := func(kind model.OwnerKind, ownerID string) error {
		errs, err := r.loadErrors(ctx, conn, kind, ownerID)
		if err != nil {
			return err
		}
		for _, e := range errs {
			messages = append(messages, e.Message)
		}
		return nil
	}

	if err := collect(model.OwnerKindJob, jobID); err != nil {
		return nil, err
	}

	transmissions, err := r.FindTransmissionsByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, t := range transmissions {
		for _, e := range t.Errors {
			messages = append(messages, e.Message)
		}
		txIDs, err := r.findLinkedTransactionIDs(ctx, conn, t.ID)
		if err != nil {
			return nil, err
		}
		for _, txID := range txIDs {
			if err := collect(model.OwnerKindTransaction, txID); err != nil {
				return nil, err
			}
		}
	}
	return messages, nil
}

// --- Transmission implementation ---

func (r *SQLSyncRepository) SaveTransmission(ctx context.Context, transmission *model.Transmission) error {
	const op = "SQLSyncRepository.SaveTransmission"
	entity := fromDomainTransmission(transmission)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	_, err = executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil)
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to save Transmission (ID: %s)", transmission.ID), err, false, true)
	}

	if err := r.saveProcessStatus(ctx, executor, transmission.Status); err != nil {
		return err
	}
	return r.saveErrors(ctx, executor, transmission.Errors)
}

func (r *SQLSyncRepository) UpdateTransmission(ctx context.Context, transmission *model.Transmission) error {
	const op = "SQLSyncRepository.UpdateTransmission"

	originalVersion := transmission.Version
	transmission.Version++
	transmission.LastUpdated = time.Now()
	entity := fromDomainTransmission(transmission)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := executor.ExecuteUpdate(
		ctx,
		entity,
		"UPDATE",
		entity.TableName(),
		map[string]interface{}{"version": originalVersion},
	)
	if err != nil {
		transmission.Version = originalVersion // Rollback version
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to update Transmission (ID: %s)", transmission.ID), err, false, true)
	}
	if rowsAffected == 0 {
		transmission.Version = originalVersion // Rollback version
		return exception.NewOptimisticLockingFailureException("repository", fmt.Sprintf("Transmission (ID: %s) with version %d not found for update", transmission.ID, originalVersion), nil)
	}

	if err := r.saveProcessStatus(ctx, executor, transmission.Status); err != nil {
		return err
	}
	return r.saveErrors(ctx, executor, transmission.Errors)
}

func (r *SQLSyncRepository) FindTransmissionByID(ctx context.Context, id string) (*model.Transmission, error) {
	const op = "SQLSyncRepository.FindTransmissionByID"
	var entity TransmissionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": id}, "", 1)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrTransmissionNotFound
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to find Transmission by ID: %s", id), err, false, true)
	}
	if entity.ID == "" {
		return nil, repository.ErrTransmissionNotFound
	}

	transmission := toDomainTransmission(&entity)
	if transmission.Status, err = r.loadProcessStatus(ctx, conn, model.OwnerKindTransmission, transmission.ID); err != nil {
		return nil, err
	}
	if transmission.Errors, err = r.loadErrors(ctx, conn, model.OwnerKindTransmission, transmission.ID); err != nil {
		return nil, err
	}

	txIDs, err := r.findLinkedTransactionIDs(ctx, conn, transmission.ID)
	if err != nil {
		return nil, err
	}
	for _, txID := range txIDs {
		tx, err := r.FindTransactionByID(ctx, txID)
		if err != nil {
			if err == repository.ErrTransactionNotFound {
				continue
			}
			return nil, err
		}
		transmission.Transactions = append(transmission.Transactions, tx)
	}
	return transmission, nil
}

func (r *SQLSyncRepository) FindTransmissionsByJob(ctx context.Context, jobID string) ([]*model.Transmission, error) {
	const op = "SQLSyncRepository.FindTransmissionsByJob"
	var entities []TransmissionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entities, map[string]interface{}{"job_id": jobID}, "create_time asc", 0)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return []*model.Transmission{}, nil
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to find Transmissions by Job ID: %s", jobID), err, false, true)
	}

	transmissions := make([]*model.Transmission, 0, len(entities))
	for i := range entities {
		t := toDomainTransmission(&entities[i])
		if t.Status, err = r.loadProcessStatus(ctx, conn, model.OwnerKindTransmission, t.ID); err != nil {
			return nil, err
		}
		if t.Errors, err = r.loadErrors(ctx, conn, model.OwnerKindTransmission, t.ID); err != nil {
			return nil, err
		}
		transmissions = append(transmissions, t)
	}
	return transmissions, nil
}

func (r *SQLSyncRepository) LinkTransaction(ctx context.Context, transmissionID, transactionID string) error {
	const op = "SQLSyncRepository.LinkTransaction"

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	entity := fromDomainTransmissionTransaction(model.TransmissionTransaction{
		TransmissionID: transmissionID,
		TransactionID:  transactionID,
		CreateTime:     time.Now(),
	})

	_, err = executor.ExecuteUpsert(ctx, entity, entity.TableName(),
		[]string{"transmission_id", "transaction_id"}, nil)
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to link Transaction %s to Transmission %s", transactionID, transmissionID), err, false, true)
	}
	return nil
}

// findLinkedTransactionIDs returns the ids of the transactions joined to a
// transmission in link order.
func (r *SQLSyncRepository) findLinkedTransactionIDs(ctx context.Context, conn database.DBConnection, transmissionID string) ([]string, error) {
	const op = "SQLSyncRepository.findLinkedTransactionIDs"
	var links []TransmissionTransactionEntity

	err := conn.ExecuteQueryAdvanced(ctx, &links, map[string]interface{}{"transmission_id": transmissionID}, "create_time asc", 0)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, nil
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to find transaction links for Transmission: %s", transmissionID), err, false, true)
	}

	ids := make([]string, 0, len(links))
	for i := range links {
		ids = append(ids, links[i].TransactionID)
	}
	return ids, nil
}

// --- Transaction implementation ---

func (r *SQLSyncRepository) SaveTransaction(ctx context.Context, transaction *model.Transaction) error {
	const op = "SQLSyncRepository.SaveTransaction"
	entity := fromDomainTransaction(transaction)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	_, err = executor.ExecuteUpdate(ctx, entity, "CREATE", entity.TableName(), nil)
	if err != nil {
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to save Transaction (ID: %s)", transaction.TransactionID), err, false, true)
	}

	if err := r.saveProcessStatus(ctx, executor, transaction.Status); err != nil {
		return err
	}
	return r.saveErrors(ctx, executor, transaction.Errors)
}

func (r *SQLSyncRepository) UpdateTransaction(ctx context.Context, transaction *model.Transaction) error {
	const op = "SQLSyncRepository.UpdateTransaction"

	originalVersion := transaction.Version
	transaction.Version++
	transaction.LastUpdated = time.Now()
	entity := fromDomainTransaction(transaction)

	executor, err := r.getTxExecutor(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := executor.ExecuteUpdate(
		ctx,
		entity,
		"UPDATE",
		entity.TableName(),
		map[string]interface{}{"version": originalVersion},
	)
	if err != nil {
		transaction.Version = originalVersion // Rollback version
		if executor.IsTableNotExistError(err) {
			return nil
		}
		return exception.NewSyncError(op, fmt.Sprintf("failed to update Transaction (ID: %s)", transaction.TransactionID), err, false, true)
	}
	if rowsAffected == 0 {
		transaction.Version = originalVersion // Rollback version
		return exception.NewOptimisticLockingFailureException("repository", fmt.Sprintf("Transaction (ID: %s) with version %d not found for update", transaction.TransactionID, originalVersion), nil)
	}

	if err := r.saveProcessStatus(ctx, executor, transaction.Status); err != nil {
		return err
	}
	return r.saveErrors(ctx, executor, transaction.Errors)
}

func (r *SQLSyncRepository) FindTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	const op = "SQLSyncRepository.FindTransactionByID"
	var entity TransactionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entity, map[string]interface{}{"id": id}, "", 1)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return nil, repository.ErrTransactionNotFound
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to find Transaction by ID: %s", id), err, false, true)
	}
	if entity.ID == "" {
		return nil, repository.ErrTransactionNotFound
	}

	tx := toDomainTransaction(&entity)
	if tx.Status, err = r.loadProcessStatus(ctx, conn, model.OwnerKindTransaction, tx.TransactionID); err != nil {
		return nil, err
	}
	if tx.Errors, err = r.loadErrors(ctx, conn, model.OwnerKindTransaction, tx.TransactionID); err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *SQLSyncRepository) FindTransactionsByTransactable(ctx context.Context, transactableID string, transactableType model.TransactableType) ([]*model.Transaction, error) {
	const op = "SQLSyncRepository.FindTransactionsByTransactable"
	var entities []TransactionEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	query := map[string]interface{}{
		"transactable_id":   transactableID,
		"transactable_type": string(transactableType),
	}

	err = conn.ExecuteQueryAdvanced(ctx, &entities, query, "create_time asc", 0)
	if err != nil {
		if conn.IsTableNotExistError(err) {
			return []*model.Transaction{}, nil
		}
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to find Transactions for %s/%s", transactableType, transactableID), err, false, true)
	}

	transactions := make([]*model.Transaction, 0, len(entities))
	for i := range entities {
		tx := toDomainTransaction(&entities[i])
		if tx.Status, err = r.loadProcessStatus(ctx, conn, model.OwnerKindTransaction, tx.TransactionID); err != nil {
			return nil, err
		}
		if tx.Errors, err = r.loadErrors(ctx, conn, model.OwnerKindTransaction, tx.TransactionID); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, nil
}
