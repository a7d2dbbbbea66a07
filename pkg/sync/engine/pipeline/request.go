// Package pipeline builds the audit graph around one inbound family update:
// the request pipeline creates the Job/Transmission/Transaction objects and
// the subject record, and the response pipeline records the CRM exchange
// outcome as a parallel acked graph.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	repository "github.com/tigerroll/famsync/pkg/sync/core/domain/repository"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
	"github.com/tigerroll/famsync/pkg/sync/transform"
)

var (
	// ErrMissingPayload is returned when the inbound payload is absent.
	ErrMissingPayload = errors.New("missing inbound payload")
	// ErrMissingTimestamp is returned when the afterUpdatedAt timestamp is
	// absent.
	ErrMissingTimestamp = errors.New("missing afterUpdatedAt timestamp")
	// ErrMessageIDExhausted is returned when the generate-and-check loop could
	// not find a free message id.
	ErrMessageIDExhausted = errors.New("could not generate a unique job message id")
)

// RequestObjects is the audit graph created for one inbound update.
type RequestObjects struct {
	Job                 *model.Job
	Transmission        *model.Transmission
	Family              *model.Family
	AccountTransaction  *model.Transaction
	ContactTransactions []*model.Transaction
}

// Transactions returns the account transaction followed by the contact
// transactions.
func (r *RequestObjects) Transactions() []*model.Transaction {
	txs := make([]*model.Transaction, 0, 1+len(r.ContactTransactions))
	if r.AccountTransaction != nil {
		txs = append(txs, r.AccountTransaction)
	}
	return append(txs, r.ContactTransactions...)
}

// RequestPipeline creates the request-side audit graph.
type RequestPipeline struct {
	repo        repository.SyncRepository
	transformer port.PayloadTransformer
	cfg         *config.Config
}

// NewRequestPipeline creates a request pipeline.
func NewRequestPipeline(repo repository.SyncRepository, transformer port.PayloadTransformer, cfg *config.Config) *RequestPipeline {
	return &RequestPipeline{
		repo:        repo,
		transformer: transformer,
		cfg:         cfg,
	}
}

// GenerateRequestObjects validates the inbound event, creates the Job,
// request Transmission, and Family subject, computes the outbound payload,
// and creates the account and per-contact Transactions. The Family is
// persisted with its inbound data before the transform runs, so a transform
// failure never loses the inbound record.
func (p *RequestPipeline) GenerateRequestObjects(ctx context.Context, inbound model.FamilyDocument, afterUpdatedAt time.Time) (*RequestObjects, error) {
	const op = "pipeline.RequestPipeline.GenerateRequestObjects"

	if len(inbound) == 0 {
		return nil, exception.NewSyncError(op, "inbound payload is required", ErrMissingPayload, false, false)
	}
	if afterUpdatedAt.IsZero() {
		return nil, exception.NewSyncError(op, "afterUpdatedAt is required", ErrMissingTimestamp, false, false)
	}

	familyExternalID, primaryPersonExternalID, err := transform.Identify(inbound)
	if err != nil {
		return nil, exception.NewSyncError(op, "failed to identify inbound family", err, true, false)
	}

	job, err := p.newJobWithUniqueMessageID(ctx)
	if err != nil {
		return nil, err
	}

	transmission := model.NewTransmission(&job.ID, familyExternalID, model.TransmissionKindRequest)
	if err := p.repo.SaveTransmission(ctx, transmission); err != nil {
		return nil, err
	}
	job.Transmissions = append(job.Transmissions, transmission)

	family := model.NewFamily(familyExternalID, primaryPersonExternalID, inbound, afterUpdatedAt)
	if err := p.repo.SaveFamily(ctx, family); err != nil {
		return nil, err
	}

	objects := &RequestObjects{
		Job:          job,
		Transmission: transmission,
		Family:       family,
	}

	outbound, err := p.transformer.Transform(inbound)
	if err != nil {
		// The subject keeps its inbound data; only the outbound derivation is
		// recorded as failed.
		message := exception.ExtractErrorMessage(err)
		logger.Errorf("%s: transform failed for family '%s': %s", op, familyExternalID, message)
		job.AddError("transform", message)
		transmission.AddError("transform", message)
		if uerr := p.repo.UpdateJob(ctx, job); uerr != nil {
			return nil, uerr
		}
		if uerr := p.repo.UpdateTransmission(ctx, transmission); uerr != nil {
			return nil, uerr
		}
		return objects, exception.NewSyncError(op, fmt.Sprintf("outbound transform failed for family '%s'", familyExternalID), err, true, false)
	}

	family.OutboundPayload = outbound
	if err := p.repo.UpdateFamily(ctx, family); err != nil {
		return nil, err
	}

	if err := p.createRequestTransactions(ctx, objects, outbound); err != nil {
		return nil, err
	}
	return objects, nil
}

// newJobWithUniqueMessageID creates and persists a Job, regenerating the
// message id until it is unique or the attempt budget runs out.
func (p *RequestPipeline) newJobWithUniqueMessageID(ctx context.Context) (*model.Job, error) {
	const op = "pipeline.RequestPipeline.newJobWithUniqueMessageID"

	maxAttempts := p.cfg.Famsync.Sync.MessageIDMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	job := model.NewJob(p.cfg.Famsync.Sync.JobKey)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		exists, err := p.repo.ExistsJobWithMessageID(ctx, job.MessageID)
		if err != nil {
			return nil, err
		}
		if !exists {
			err = p.repo.SaveJob(ctx, job)
			if err == nil {
				return job, nil
			}
			// A concurrent writer can take the id between check and save.
			if !errors.Is(err, repository.ErrDuplicateMessageID) {
				return nil, err
			}
		}
		logger.Warnf("%s: message id collision (attempt %d), regenerating", op, attempt+1)
		job.MessageID = model.NewMessageID()
	}
	return nil, exception.NewSyncError(op, fmt.Sprintf("gave up after %d attempts", maxAttempts), ErrMessageIDExhausted, false, false)
}

// createRequestTransactions creates the account transaction plus one per
// contact, joins them to the request transmission, and stamps the family's
// lastTransactedAt.
func (p *RequestPipeline) createRequestTransactions(ctx context.Context, objects *RequestObjects, outbound *model.AccountDocument) error {
	accountPayload, err := toJSONDocument(outbound)
	if err != nil {
		return err
	}

	accountTx := model.NewTransaction(objects.Family.ID, model.TransactableTypeFamily, "account", accountPayload)
	if err := p.saveAndLink(ctx, objects.Transmission, accountTx); err != nil {
		return err
	}
	objects.AccountTransaction = accountTx

	for i := range outbound.Contacts {
		contact := &outbound.Contacts[i]
		payload, err := toJSONDocument(contact)
		if err != nil {
			return err
		}
		contactTx := model.NewTransaction(objects.Family.ID, model.TransactableTypeFamily, contactKey(contact.ExternalID), payload)
		if err := p.saveAndLink(ctx, objects.Transmission, contactTx); err != nil {
			return err
		}
		objects.ContactTransactions = append(objects.ContactTransactions, contactTx)
	}

	return p.repo.TouchLastTransactedAt(ctx, objects.Family.ID, time.Now())
}

func (p *RequestPipeline) saveAndLink(ctx context.Context, transmission *model.Transmission, tx *model.Transaction) error {
	if err := p.repo.SaveTransaction(ctx, tx); err != nil {
		return err
	}
	if err := p.repo.LinkTransaction(ctx, transmission.ID, tx.TransactionID); err != nil {
		return err
	}
	transmission.AddTransaction(tx)
	return nil
}

// contactKey names the transaction for one contact.
func contactKey(externalID string) string {
	return "contact:" + externalID
}

// toJSONDocument converts a document struct into the generic payload form
// carried by a Transaction.
func toJSONDocument(v interface{}) (model.JSONDocument, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, exception.NewSyncError("pipeline", "failed to encode transaction payload", err, false, false)
	}
	var doc model.JSONDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, exception.NewSyncError("pipeline", "failed to decode transaction payload", err, false, false)
	}
	return doc, nil
}
