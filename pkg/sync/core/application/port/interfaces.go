// Package port defines the core interfaces (ports) of the famsync
// application. These abstract the external collaborators (CRM client, inbound
// event source, payload transform) so the reconciliation engine can be wired
// and tested against narrow contracts.
package port

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

// ErrNoMessage is returned by an EventSource when no message is currently
// available.
var ErrNoMessage = errors.New("no message available")

// InboundMessage is one inbound family update delivered by the event source.
type InboundMessage struct {
	// ID identifies the message for ack/nack.
	ID string
	// Payload is the raw family document.
	Payload model.FamilyDocument
	// AfterUpdatedAt is the source timestamp of the payload, taken from the
	// message headers.
	AfterUpdatedAt time.Time
	// Headers carries the remaining transport headers.
	Headers map[string]string
}

// EventSource delivers inbound family updates with ack/nack semantics. The
// subscriber acks after the message is fully handled (including stale and
// noop verdicts, and unprocessable messages that would fail identically on
// redelivery) and nacks temporary failures so the message is redelivered.
type EventSource interface {
	// Receive blocks until a message is available, the timeout elapses
	// (ErrNoMessage), or the context is cancelled.
	Receive(ctx context.Context, timeout time.Duration) (*InboundMessage, error)

	// Ack acknowledges a message as fully processed.
	Ack(ctx context.Context, msg *InboundMessage) error

	// Nack returns a message to the source for redelivery.
	Nack(ctx context.Context, msg *InboundMessage) error

	// Close releases the underlying transport resources.
	Close() error
}

// CRMResponse is the outcome of one CRM call: the HTTP status code, the raw
// response body, and the CRM-side record id when the call resolved one.
type CRMResponse struct {
	StatusCode int
	Body       string
	CRMID      string
}

// CRMClient is the contract to the third-party CRM. Each method returns the
// response or a transport error; the executor converts transport errors into
// failure response records rather than letting them escape.
type CRMClient interface {
	// FindAccountByExternalID looks up an account by its external id. A nil
	// response with nil error means the account does not exist.
	FindAccountByExternalID(ctx context.Context, externalID string) (*CRMResponse, error)

	// CreateAccount creates an account from the outbound document.
	CreateAccount(ctx context.Context, account *model.AccountDocument) (*CRMResponse, error)

	// UpdateAccount updates the account identified by crmID.
	UpdateAccount(ctx context.Context, crmID string, account *model.AccountDocument) (*CRMResponse, error)

	// FindContactByExternalID looks up a contact by its external id. A nil
	// response with nil error means the contact does not exist.
	FindContactByExternalID(ctx context.Context, externalID string) (*CRMResponse, error)

	// CreateContact creates a contact under the account identified by
	// accountCRMID.
	CreateContact(ctx context.Context, accountCRMID string, contact *model.ContactDocument) (*CRMResponse, error)

	// UpdateContact updates the contact identified by crmID.
	UpdateContact(ctx context.Context, crmID string, contact *model.ContactDocument) (*CRMResponse, error)
}

// PayloadTransformer derives the CRM-shaped outbound document from a raw
// inbound family document. Implementations must be pure: same input, same
// output, no I/O.
type PayloadTransformer interface {
	Transform(inbound model.FamilyDocument) (*model.AccountDocument, error)
}

// ProcessResult summarizes the handling of one inbound message for listeners
// and the ack/nack decision.
type ProcessResult struct {
	JobID      string
	FamilyID   string
	Comparison *model.Comparison
	// Acked reports whether the message should be acknowledged.
	Acked bool
}

// SyncListener observes message processing. Listener failures are logged and
// never affect the processing outcome.
type SyncListener interface {
	// BeforeProcess is called just before a message is processed.
	BeforeProcess(ctx context.Context, msg *InboundMessage) context.Context

	// AfterProcess is called after processing completes, successfully or not.
	AfterProcess(ctx context.Context, msg *InboundMessage, result *ProcessResult, err error)
}
