// Package compare implements the comparison engine: it decides, for one
// inbound family update, what must change in the CRM. The decision is a pure
// function of the subject, the eligible prior subject, and the comparable
// account state; the only I/O is the prior-subject lookup and the optional
// live CRM fetch.
package compare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	repository "github.com/tigerroll/famsync/pkg/sync/core/domain/repository"
	metrics "github.com/tigerroll/famsync/pkg/sync/core/metrics"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
	"github.com/tigerroll/famsync/pkg/sync/support/util/serialization"
)

// ErrInvalidInput is returned when the comparison inputs are not well-formed.
var ErrInvalidInput = errors.New("invalid comparison input")

// Engine decides the reconciliation actions for a family update.
type Engine struct {
	familyRepo repository.FamilyRepository
	crmClient  port.CRMClient
	recorder   metrics.MetricRecorder
}

// NewEngine creates a comparison engine.
func NewEngine(familyRepo repository.FamilyRepository, crmClient port.CRMClient, recorder metrics.MetricRecorder) *Engine {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Engine{
		familyRepo: familyRepo,
		crmClient:  crmClient,
		recorder:   recorder,
	}
}

// Compare decides the actions for the family against its comparable state.
// forceSync bypasses the staleness check and always fetches live CRM state.
func (e *Engine) Compare(ctx context.Context, afterUpdatedAt time.Time, family *model.Family, forceSync bool) (*model.Comparison, error) {
	const op = "compare.Engine.Compare"

	if afterUpdatedAt.IsZero() {
		return nil, exception.NewSyncError(op, "afterUpdatedAt must be a timestamp", ErrInvalidInput, false, false)
	}
	if family == nil {
		return nil, exception.NewSyncError(op, "subject must be a resolved Family", ErrInvalidInput, false, false)
	}
	if family.OutboundPayload == nil {
		return nil, exception.NewSyncError(op, fmt.Sprintf("Family (ID: %s) has no outbound payload to compare", family.ID), ErrInvalidInput, false, false)
	}
	current := family.OutboundPayload

	var prior *model.Family
	if !forceSync {
		var err error
		prior, err = e.findEligiblePrior(ctx, family)
		if err != nil {
			return nil, err
		}
	}

	// Staleness is a pure timestamp comparison: a prior subject carrying a
	// later source timestamp means a newer update already went through.
	if prior != nil && prior.InboundAfterUpdatedAt.After(afterUpdatedAt) {
		logger.Infof("%s: update for family '%s' is stale (prior: %s, current: %s)",
			op, family.FamilyExternalID, prior.InboundAfterUpdatedAt.Format(time.RFC3339), afterUpdatedAt.Format(time.RFC3339))
		e.recorder.RecordStaleDrop(ctx)
		comparison := model.NewStaleComparison(current.ExternalID, contactExternalIDs(current))
		e.recorder.RecordComparison(ctx, comparison.Action)
		return comparison, nil
	}

	comparable, err := e.resolveComparableState(ctx, family, prior, forceSync)
	if err != nil {
		return nil, err
	}

	accountAction, err := diffAccount(current, comparable)
	if err != nil {
		return nil, err
	}
	contacts, err := diffContacts(current, comparable)
	if err != nil {
		return nil, err
	}

	comparison := model.NewComparison(current.ExternalID, accountAction, contacts)
	e.recorder.RecordComparison(ctx, comparison.Action)
	return comparison, nil
}

// findEligiblePrior looks up the most-recently-transacted other Family with
// the same identity pair. Absence is not an error.
func (e *Engine) findEligiblePrior(ctx context.Context, family *model.Family) (*model.Family, error) {
	prior, err := e.familyRepo.FindEligiblePriorFamily(ctx, family.FamilyExternalID, family.PrimaryPersonExternalID, family.ID)
	if err != nil {
		if errors.Is(err, repository.ErrFamilyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return prior, nil
}

// resolveComparableState returns the account state to diff against, or nil
// when the account has never existed. forceSync always goes to the CRM; a
// prior subject's own outbound payload is preferred otherwise.
func (e *Engine) resolveComparableState(ctx context.Context, family *model.Family, prior *model.Family, forceSync bool) (*model.AccountDocument, error) {
	if !forceSync && prior != nil && prior.OutboundPayload != nil {
		return prior.OutboundPayload, nil
	}
	return e.fetchAccountFromCRM(ctx, family.FamilyExternalID)
}

// fetchAccountFromCRM loads the current account and contacts from the CRM.
// Returns nil when the account does not exist there.
func (e *Engine) fetchAccountFromCRM(ctx context.Context, externalID string) (*model.AccountDocument, error) {
	const op = "compare.Engine.fetchAccountFromCRM"

	start := time.Now()
	resp, err := e.crmClient.FindAccountByExternalID(ctx, externalID)
	e.recorder.RecordCRMCall(ctx, "findAccount", err == nil, time.Since(start))
	if err != nil {
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to fetch account '%s' from CRM", externalID), err, false, true)
	}
	if resp == nil {
		return nil, nil
	}

	var account model.AccountDocument
	if err := json.Unmarshal([]byte(resp.Body), &account); err != nil {
		return nil, exception.NewSyncError(op, fmt.Sprintf("failed to decode CRM account '%s'", externalID), err, false, false)
	}
	return &account, nil
}

// diffAccount decides the account-level action by structural equality over
// the account fields.
func diffAccount(current, comparable *model.AccountDocument) (model.Action, error) {
	if comparable == nil {
		return model.ActionCreate, nil
	}
	same, err := serialization.JSONEqual(current.Fields, comparable.Fields)
	if err != nil {
		return "", exception.NewSyncError("compare", "failed to compare account fields", err, false, false)
	}
	if same {
		return model.ActionNoop, nil
	}
	return model.ActionUpdate, nil
}

// diffContacts decides the per-contact actions. A contact absent from the
// comparable account is created; contacts absent from the current payload are
// not flagged (deletion is out of scope).
func diffContacts(current, comparable *model.AccountDocument) ([]model.ContactComparison, error) {
	contacts := make([]model.ContactComparison, 0, len(current.Contacts))
	for i := range current.Contacts {
		c := &current.Contacts[i]

		var match *model.ContactDocument
		if comparable != nil {
			match = comparable.ContactByExternalID(c.ExternalID)
		}
		if match == nil {
			contacts = append(contacts, model.ContactComparison{ExternalID: c.ExternalID, Action: model.ActionCreate})
			continue
		}

		same, err := serialization.JSONEqual(c.Fields, match.Fields)
		if err != nil {
			return nil, exception.NewSyncError("compare", fmt.Sprintf("failed to compare contact '%s'", c.ExternalID), err, false, false)
		}
		action := model.ActionUpdate
		if same {
			action = model.ActionNoop
		}
		contacts = append(contacts, model.ContactComparison{ExternalID: c.ExternalID, Action: action})
	}
	return contacts, nil
}

func contactExternalIDs(account *model.AccountDocument) []string {
	ids := make([]string, 0, len(account.Contacts))
	for i := range account.Contacts {
		ids = append(ids, account.Contacts[i].ExternalID)
	}
	return ids
}
