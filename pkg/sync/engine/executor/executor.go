// Package executor applies a Comparison against the CRM. Each entity
// (account, then each contact) runs its own action state machine; transport
// failures are captured as response data on the returned Comparison and never
// escape as errors. Contacts are processed independently so one failing
// contact does not block the others.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	metrics "github.com/tigerroll/famsync/pkg/sync/core/metrics"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// ErrInvalidExecutionInput is returned when the executor receives an
// ill-formed comparison or subject.
var ErrInvalidExecutionInput = errors.New("invalid execution input")

const (
	messageCreated      = "created"
	messageUpdated      = "updated"
	messageNoAction     = "no action needed"
	messageStaleSkipped = "stale update skipped"
)

// ResponseSucceeded reports whether a recorded response triplet describes a
// successful outcome: a 2xx status code, or a synthesized no-action response.
// The CRM client never follows redirects, so 3xx is not a success. Transport
// failures leave the code empty with a failure message.
func ResponseSucceeded(code, message string) bool {
	if code != "" {
		status, err := strconv.Atoi(code)
		return err == nil && status < 300
	}
	return message == messageNoAction || message == messageStaleSkipped
}

// Executor drives the CRM exchange decided by a Comparison.
type Executor struct {
	crmClient port.CRMClient
	recorder  metrics.MetricRecorder
}

// NewExecutor creates a sync executor.
func NewExecutor(crmClient port.CRMClient, recorder metrics.MetricRecorder) *Executor {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Executor{crmClient: crmClient, recorder: recorder}
}

// ApplyComparison executes the per-entity actions of the comparison against
// the CRM and returns a new Comparison carrying the response metadata. The
// input comparison is not mutated.
func (e *Executor) ApplyComparison(ctx context.Context, comparison *model.Comparison, family *model.Family) (*model.Comparison, error) {
	const op = "executor.Executor.ApplyComparison"

	if comparison == nil {
		return nil, exception.NewSyncError(op, "comparison must be resolved", ErrInvalidExecutionInput, false, false)
	}
	if family == nil || family.OutboundPayload == nil {
		return nil, exception.NewSyncError(op, "subject with outbound payload must be resolved", ErrInvalidExecutionInput, false, false)
	}
	outbound := family.OutboundPayload

	accountCode, accountMessage, accountBody, accountCRMID := e.executeAccount(ctx, comparison, outbound)
	executed := comparison.WithAccountResponse(accountCode, accountMessage, accountBody)

	for i := range executed.Contacts {
		c := &executed.Contacts[i]
		contact := outbound.ContactByExternalID(c.ExternalID)
		c.ResponseCode, c.ResponseMessage, c.ResponseBody = e.executeContact(ctx, c.Action, contact, accountCRMID)
	}
	return &executed, nil
}

// executeAccount runs the account action and returns the response triplet
// plus the resolved CRM account id (needed to create contacts under it).
func (e *Executor) executeAccount(ctx context.Context, comparison *model.Comparison, outbound *model.AccountDocument) (code, message, body, crmID string) {
	switch comparison.AccountAction {
	case model.ActionCreate:
		resp, err := e.timedCall(ctx, "createAccount", func() (*port.CRMResponse, error) {
			return e.crmClient.CreateAccount(ctx, outbound)
		})
		if err != nil {
			return "", failureMessage("create account", err), "", ""
		}
		return strconv.Itoa(resp.StatusCode), outcomeMessage("create account", resp.StatusCode, messageCreated), resp.Body, resp.CRMID

	case model.ActionUpdate:
		crmID, err := e.resolveAccountCRMID(ctx, outbound.ExternalID)
		if err != nil {
			return "", failureMessage("resolve account", err), "", ""
		}
		if crmID == "" {
			// Update without a resolved CRM identifier short-circuits; the CRM
			// is not called.
			return "", fmt.Sprintf("update requires a resolved CRM id for account '%s'", outbound.ExternalID), "", ""
		}
		resp, err := e.timedCall(ctx, "updateAccount", func() (*port.CRMResponse, error) {
			return e.crmClient.UpdateAccount(ctx, crmID, outbound)
		})
		if err != nil {
			return "", failureMessage("update account", err), "", crmID
		}
		return strconv.Itoa(resp.StatusCode), outcomeMessage("update account", resp.StatusCode, messageUpdated), resp.Body, crmID

	case model.ActionNoop:
		return "", messageNoAction, "", ""

	case model.ActionStale:
		return "", messageStaleSkipped, "", ""

	default:
		return "", fmt.Sprintf("unknown account action '%s'", comparison.AccountAction), "", ""
	}
}

// executeContact runs one contact action. A missing outbound contact or an
// unresolved parent account id yields a failure response for this contact
// only.
func (e *Executor) executeContact(ctx context.Context, action model.Action, contact *model.ContactDocument, accountCRMID string) (code, message, body string) {
	switch action {
	case model.ActionCreate:
		if contact == nil {
			return "", "contact absent from outbound payload", ""
		}
		if accountCRMID == "" {
			return "", fmt.Sprintf("create requires a resolved CRM account id for contact '%s'", contact.ExternalID), ""
		}
		resp, err := e.timedCall(ctx, "createContact", func() (*port.CRMResponse, error) {
			return e.crmClient.CreateContact(ctx, accountCRMID, contact)
		})
		if err != nil {
			return "", failureMessage("create contact", err), ""
		}
		return strconv.Itoa(resp.StatusCode), outcomeMessage("create contact", resp.StatusCode, messageCreated), resp.Body

	case model.ActionUpdate:
		if contact == nil {
			return "", "contact absent from outbound payload", ""
		}
		crmID, err := e.resolveContactCRMID(ctx, contact.ExternalID)
		if err != nil {
			return "", failureMessage("resolve contact", err), ""
		}
		if crmID == "" {
			return "", fmt.Sprintf("update requires a resolved CRM id for contact '%s'", contact.ExternalID), ""
		}
		resp, err := e.timedCall(ctx, "updateContact", func() (*port.CRMResponse, error) {
			return e.crmClient.UpdateContact(ctx, crmID, contact)
		})
		if err != nil {
			return "", failureMessage("update contact", err), ""
		}
		return strconv.Itoa(resp.StatusCode), outcomeMessage("update contact", resp.StatusCode, messageUpdated), resp.Body

	case model.ActionNoop:
		return "", messageNoAction, ""

	case model.ActionStale:
		return "", messageStaleSkipped, ""

	default:
		return "", fmt.Sprintf("unknown action '%s'", action), ""
	}
}

func (e *Executor) resolveAccountCRMID(ctx context.Context, externalID string) (string, error) {
	resp, err := e.timedCall(ctx, "findAccount", func() (*port.CRMResponse, error) {
		return e.crmClient.FindAccountByExternalID(ctx, externalID)
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.CRMID, nil
}

func (e *Executor) resolveContactCRMID(ctx context.Context, externalID string) (string, error) {
	resp, err := e.timedCall(ctx, "findContact", func() (*port.CRMResponse, error) {
		return e.crmClient.FindContactByExternalID(ctx, externalID)
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.CRMID, nil
}

// timedCall wraps one CRM call with metric recording.
func (e *Executor) timedCall(ctx context.Context, operation string, call func() (*port.CRMResponse, error)) (*port.CRMResponse, error) {
	start := time.Now()
	resp, err := call()
	e.recorder.RecordCRMCall(ctx, operation, err == nil, time.Since(start))
	if err != nil {
		logger.Warnf("executor: CRM %s failed: %s", operation, exception.ExtractErrorMessage(err))
	}
	return resp, err
}

// failureMessage builds the descriptive message recorded for a transport
// failure.
func failureMessage(action string, err error) string {
	return fmt.Sprintf("failed to %s: %s", action, exception.ExtractErrorMessage(err))
}

// outcomeMessage describes a completed CRM call: the action's success word
// for a successful status, a descriptive failure otherwise. The status code
// and body are recorded alongside either way.
func outcomeMessage(action string, statusCode int, success string) string {
	if statusCode >= 300 {
		return fmt.Sprintf("failed to %s: CRM returned status %d", action, statusCode)
	}
	return success
}
