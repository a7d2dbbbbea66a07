package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	repository "github.com/tigerroll/famsync/pkg/sync/core/domain/repository"
	"github.com/tigerroll/famsync/pkg/sync/engine/compare"
	"github.com/tigerroll/famsync/pkg/sync/engine/executor"
	"github.com/tigerroll/famsync/pkg/sync/engine/pipeline"
	"github.com/tigerroll/famsync/pkg/sync/transform"
)

// stubRepo is an in-memory repository.SyncRepository for processor tests.
type stubRepo struct {
	families      map[string]*model.Family
	jobs          map[string]*model.Job
	transmissions map[string]*model.Transmission
	transactions  map[string]*model.Transaction
	messageIDs    map[string]bool
	prior         *model.Family
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		families:      map[string]*model.Family{},
		jobs:          map[string]*model.Job{},
		transmissions: map[string]*model.Transmission{},
		transactions:  map[string]*model.Transaction{},
		messageIDs:    map[string]bool{},
	}
}

func (s *stubRepo) SaveFamily(ctx context.Context, f *model.Family) error {
	s.families[f.ID] = f
	return nil
}
func (s *stubRepo) UpdateFamily(ctx context.Context, f *model.Family) error {
	s.families[f.ID] = f
	return nil
}
func (s *stubRepo) FindFamilyByID(ctx context.Context, id string) (*model.Family, error) {
	if f, ok := s.families[id]; ok {
		return f, nil
	}
	return nil, repository.ErrFamilyNotFound
}
func (s *stubRepo) FindFamilyByCorrelationID(ctx context.Context, id string) (*model.Family, error) {
	return nil, repository.ErrFamilyNotFound
}
func (s *stubRepo) FindEligiblePriorFamily(ctx context.Context, famID, personID, excludeID string) (*model.Family, error) {
	if s.prior == nil {
		return nil, repository.ErrFamilyNotFound
	}
	return s.prior, nil
}
func (s *stubRepo) TouchLastTransactedAt(ctx context.Context, familyID string, at time.Time) error {
	if f, ok := s.families[familyID]; ok {
		f.LastTransactedAt = &at
	}
	return nil
}
func (s *stubRepo) SaveJob(ctx context.Context, j *model.Job) error {
	if s.messageIDs[j.MessageID] {
		return repository.ErrDuplicateMessageID
	}
	s.messageIDs[j.MessageID] = true
	s.jobs[j.ID] = j
	return nil
}
func (s *stubRepo) UpdateJob(ctx context.Context, j *model.Job) error {
	s.jobs[j.ID] = j
	return nil
}
func (s *stubRepo) FindJobByID(ctx context.Context, id string) (*model.Job, error) {
	if j, ok := s.jobs[id]; ok {
		return j, nil
	}
	return nil, repository.ErrJobNotFound
}
func (s *stubRepo) ExistsJobWithMessageID(ctx context.Context, messageID string) (bool, error) {
	return s.messageIDs[messageID], nil
}
func (s *stubRepo) ListFinishedJobs(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
	return nil, nil
}
func (s *stubRepo) ErrorMessagesByJob(ctx context.Context, jobID string) ([]string, error) {
	return nil, nil
}
func (s *stubRepo) SaveTransmission(ctx context.Context, t *model.Transmission) error {
	s.transmissions[t.ID] = t
	return nil
}
func (s *stubRepo) UpdateTransmission(ctx context.Context, t *model.Transmission) error {
	s.transmissions[t.ID] = t
	return nil
}
func (s *stubRepo) FindTransmissionByID(ctx context.Context, id string) (*model.Transmission, error) {
	return nil, repository.ErrTransmissionNotFound
}
func (s *stubRepo) FindTransmissionsByJob(ctx context.Context, jobID string) ([]*model.Transmission, error) {
	return nil, nil
}
func (s *stubRepo) LinkTransaction(ctx context.Context, transmissionID, transactionID string) error {
	return nil
}
func (s *stubRepo) SaveTransaction(ctx context.Context, tx *model.Transaction) error {
	s.transactions[tx.TransactionID] = tx
	return nil
}
func (s *stubRepo) UpdateTransaction(ctx context.Context, tx *model.Transaction) error {
	s.transactions[tx.TransactionID] = tx
	return nil
}
func (s *stubRepo) FindTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	return nil, repository.ErrTransactionNotFound
}
func (s *stubRepo) FindTransactionsByTransactable(ctx context.Context, id string, t model.TransactableType) ([]*model.Transaction, error) {
	return nil, nil
}
func (s *stubRepo) Close() error { return nil }

// happyCRM creates everything successfully; failContacts lists contact ids
// whose create call fails.
type happyCRM struct {
	failContacts map[string]bool
	findCalls    int
}

func (c *happyCRM) FindAccountByExternalID(ctx context.Context, externalID string) (*port.CRMResponse, error) {
	c.findCalls++
	return nil, nil
}
func (c *happyCRM) CreateAccount(ctx context.Context, account *model.AccountDocument) (*port.CRMResponse, error) {
	return &port.CRMResponse{StatusCode: 201, Body: `{"id":"crm-acc"}`, CRMID: "crm-acc"}, nil
}
func (c *happyCRM) UpdateAccount(ctx context.Context, crmID string, account *model.AccountDocument) (*port.CRMResponse, error) {
	return &port.CRMResponse{StatusCode: 200}, nil
}
func (c *happyCRM) FindContactByExternalID(ctx context.Context, externalID string) (*port.CRMResponse, error) {
	return nil, nil
}
func (c *happyCRM) CreateContact(ctx context.Context, accountCRMID string, contact *model.ContactDocument) (*port.CRMResponse, error) {
	if c.failContacts[contact.ExternalID] {
		return nil, errors.New("connection reset")
	}
	return &port.CRMResponse{StatusCode: 201}, nil
}
func (c *happyCRM) UpdateContact(ctx context.Context, crmID string, contact *model.ContactDocument) (*port.CRMResponse, error) {
	return &port.CRMResponse{StatusCode: 200}, nil
}

// recordingListener captures the notifications it receives.
type recordingListener struct {
	beforeCalls int
	afterCalls  int
	lastResult  *port.ProcessResult
	lastErr     error
	panics      bool
}

func (l *recordingListener) BeforeProcess(ctx context.Context, msg *port.InboundMessage) context.Context {
	l.beforeCalls++
	if l.panics {
		panic("listener exploded")
	}
	return ctx
}

func (l *recordingListener) AfterProcess(ctx context.Context, msg *port.InboundMessage, result *port.ProcessResult, err error) {
	l.afterCalls++
	l.lastResult = result
	l.lastErr = err
	if l.panics {
		panic("listener exploded")
	}
}

func newTestProcessor(repo *stubRepo, crm port.CRMClient, listeners ...port.SyncListener) *Processor {
	cfg := config.NewConfig()
	return NewProcessor(
		repo,
		pipeline.NewRequestPipeline(repo, transform.NewFamilyTransformer(), cfg),
		compare.NewEngine(repo, crm, nil),
		executor.NewExecutor(crm, nil),
		pipeline.NewResponsePipeline(repo),
		listeners,
		nil,
		cfg,
	)
}

func messageFixture() *port.InboundMessage {
	return &port.InboundMessage{
		ID: "msg-1",
		Payload: model.FamilyDocument{
			"familyExternalId": "fam-100",
			"name":             "Sato",
			"members": []interface{}{
				map[string]interface{}{"externalId": "per-1", "primary": true, "firstName": "Taro"},
				map[string]interface{}{"externalId": "per-2", "firstName": "Hana"},
			},
		},
		AfterUpdatedAt: time.Now(),
	}
}

func TestProcessMessageFullCreateFlow(t *testing.T) {
	repo := newStubRepo()
	listener := &recordingListener{}
	p := newTestProcessor(repo, &happyCRM{}, listener)

	result, err := p.ProcessMessage(context.Background(), messageFixture())
	require.NoError(t, err)

	assert.True(t, result.Acked)
	require.NotNil(t, result.Comparison)
	assert.Equal(t, model.ActionCreate, result.Comparison.Action)
	assert.Equal(t, "201", result.Comparison.ResponseCode)

	job := repo.jobs[result.JobID]
	require.NotNil(t, job)
	assert.Equal(t, model.StateSucceeded, job.Status.LatestState)

	family := repo.families[result.FamilyID]
	require.NotNil(t, family)
	require.NotNil(t, family.ComparisonPayload)
	assert.Equal(t, model.ActionCreate, family.ComparisonPayload.Action)
	assert.NotNil(t, family.OutboundPayload)

	// Request graph (1 transmission) + response graph (1 transmission).
	assert.Len(t, repo.transmissions, 2)
	// 3 request transactions + 3 response transactions.
	assert.Len(t, repo.transactions, 6)
	for _, tx := range repo.transactions {
		assert.Equal(t, model.StateSucceeded, tx.Status.LatestState)
	}

	assert.Equal(t, 1, listener.beforeCalls)
	assert.Equal(t, 1, listener.afterCalls)
	assert.NoError(t, listener.lastErr)
}

func TestProcessMessageStaleUpdateIsAckedAndDropped(t *testing.T) {
	repo := newStubRepo()
	msg := messageFixture()

	prior := model.NewFamily("fam-100", "per-1", msg.Payload, msg.AfterUpdatedAt.Add(time.Hour))
	transacted := time.Now()
	prior.LastTransactedAt = &transacted
	repo.prior = prior

	crm := &happyCRM{}
	p := newTestProcessor(repo, crm)

	result, err := p.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, result.Acked, "stale updates are acked, not redelivered")
	assert.Equal(t, model.ActionStale, result.Comparison.Action)
	assert.Zero(t, crm.findCalls, "stale verdict must not touch the CRM")

	job := repo.jobs[result.JobID]
	assert.Equal(t, model.StateSucceeded, job.Status.LatestState)

	family := repo.families[result.FamilyID]
	require.NotNil(t, family.ComparisonPayload)
	assert.Equal(t, model.ActionStale, family.ComparisonPayload.Action)
}

func TestProcessMessageStructuralFailureIsNacked(t *testing.T) {
	repo := newStubRepo()
	listener := &recordingListener{}
	p := newTestProcessor(repo, &happyCRM{}, listener)

	msg := messageFixture()
	msg.Payload = model.FamilyDocument{"name": "Sato"} // unidentifiable family

	result, err := p.ProcessMessage(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, result.Acked)
	assert.Error(t, listener.lastErr)
}

func TestProcessMessageContactFailureDoesNotFailJob(t *testing.T) {
	repo := newStubRepo()
	p := newTestProcessor(repo, &happyCRM{failContacts: map[string]bool{"per-2": true}})

	result, err := p.ProcessMessage(context.Background(), messageFixture())
	require.NoError(t, err)
	assert.True(t, result.Acked)

	job := repo.jobs[result.JobID]
	assert.Equal(t, model.StateSucceeded, job.Status.LatestState, "a failed contact must not fail the job")

	var failed, succeeded int
	for _, tx := range repo.transactions {
		switch tx.Status.LatestState {
		case model.StateFailed:
			failed++
		case model.StateSucceeded:
			succeeded++
		}
	}
	// The per-2 entity fails on both the request and response side.
	assert.Equal(t, 2, failed)
	assert.Equal(t, 4, succeeded)

	comparison := result.Comparison
	assert.Contains(t, comparison.ContactByExternalID("per-2").ResponseMessage, "connection reset")
	assert.Equal(t, "201", comparison.ContactByExternalID("per-1").ResponseCode)
}

func TestProcessMessagePanickingListenerIsIsolated(t *testing.T) {
	repo := newStubRepo()
	listener := &recordingListener{panics: true}
	p := newTestProcessor(repo, &happyCRM{}, listener)

	result, err := p.ProcessMessage(context.Background(), messageFixture())
	require.NoError(t, err)
	assert.True(t, result.Acked)
	assert.Equal(t, 1, listener.beforeCalls)
	assert.Equal(t, 1, listener.afterCalls)
}
