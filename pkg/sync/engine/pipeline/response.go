package pipeline

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	repository "github.com/tigerroll/famsync/pkg/sync/core/domain/repository"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
)

// ErrInvalidComparisonOrRequestObjects is returned when the response pipeline
// receives an ill-formed comparison or request graph.
var ErrInvalidComparisonOrRequestObjects = errors.New("invalid comparison or request objects")

// ResponseObjects is the full audit graph after the CRM exchange: the request
// side plus the acked response side.
type ResponseObjects struct {
	Job                  *model.Job
	RequestTransmission  *model.Transmission
	ResponseTransmission *model.Transmission
	Family               *model.Family
	RequestTransactions  []*model.Transaction
	ResponseTransactions []*model.Transaction
}

// ResponsePipeline records the outcome of the CRM exchange as a response
// Transmission with parallel response Transactions.
type ResponsePipeline struct {
	repo repository.SyncRepository
}

// NewResponsePipeline creates a response pipeline.
func NewResponsePipeline(repo repository.SyncRepository) *ResponsePipeline {
	return &ResponsePipeline{repo: repo}
}

// GenerateResponseObjects validates the executed comparison and the request
// graph, then creates an acked response Transmission and one response
// Transaction per entity (account + each contact) carrying the response
// metadata, all joined to the same Job. The originating request Transactions
// are also joined to the response Transmission, so each is referenced by both
// legs of the exchange.
func (p *ResponsePipeline) GenerateResponseObjects(ctx context.Context, comparison *model.Comparison, req *RequestObjects) (*ResponseObjects, error) {
	const op = "pipeline.ResponsePipeline.GenerateResponseObjects"

	if comparison == nil || req == nil || req.Job == nil || req.Transmission == nil || req.Family == nil {
		return nil, exception.NewSyncError(op, "comparison and request graph must be resolved", ErrInvalidComparisonOrRequestObjects, false, false)
	}

	responseTransmission := model.NewTransmission(&req.Job.ID, req.Transmission.CorrelationID, model.TransmissionKindResponse)
	if err := responseTransmission.Status.MarkAsAcked("CRM exchange recorded"); err != nil {
		return nil, err
	}
	if err := p.repo.SaveTransmission(ctx, responseTransmission); err != nil {
		return nil, err
	}
	req.Job.Transmissions = append(req.Job.Transmissions, responseTransmission)

	objects := &ResponseObjects{
		Job:                  req.Job,
		RequestTransmission:  req.Transmission,
		ResponseTransmission: responseTransmission,
		Family:               req.Family,
		RequestTransactions:  req.Transactions(),
	}

	// Link back to the originating request transactions.
	for _, tx := range objects.RequestTransactions {
		if err := p.repo.LinkTransaction(ctx, responseTransmission.ID, tx.TransactionID); err != nil {
			return nil, err
		}
		responseTransmission.AddTransaction(tx)
	}

	accountTx, err := p.createResponseTransaction(ctx, req.Family.ID, responseTransmission, "account", model.JSONDocument{
		"action":          string(comparison.AccountAction),
		"responseCode":    comparison.ResponseCode,
		"responseMessage": comparison.ResponseMessage,
		"responseBody":    comparison.ResponseBody,
	})
	if err != nil {
		return nil, err
	}
	objects.ResponseTransactions = append(objects.ResponseTransactions, accountTx)

	for i := range comparison.Contacts {
		c := &comparison.Contacts[i]
		contactTx, err := p.createResponseTransaction(ctx, req.Family.ID, responseTransmission, contactKey(c.ExternalID), model.JSONDocument{
			"action":          string(c.Action),
			"responseCode":    c.ResponseCode,
			"responseMessage": c.ResponseMessage,
			"responseBody":    c.ResponseBody,
		})
		if err != nil {
			return nil, err
		}
		objects.ResponseTransactions = append(objects.ResponseTransactions, contactTx)
	}

	if err := p.repo.TouchLastTransactedAt(ctx, req.Family.ID, time.Now()); err != nil {
		return nil, err
	}
	return objects, nil
}

func (p *ResponsePipeline) createResponseTransaction(ctx context.Context, familyID string, transmission *model.Transmission, key string, payload model.JSONDocument) (*model.Transaction, error) {
	tx := model.NewTransaction(familyID, model.TransactableTypeFamily, key, payload)
	if err := tx.Status.MarkAsAcked("response recorded"); err != nil {
		return nil, err
	}
	if err := p.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, err
	}
	if err := p.repo.LinkTransaction(ctx, transmission.ID, tx.TransactionID); err != nil {
		return nil, err
	}
	transmission.AddTransaction(tx)
	return tx, nil
}
