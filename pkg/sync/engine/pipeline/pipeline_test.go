package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	repository "github.com/tigerroll/famsync/pkg/sync/core/domain/repository"
)

// memoryRepo is an in-memory repository.SyncRepository for pipeline tests.
type memoryRepo struct {
	mu               sync.Mutex
	families         map[string]*model.Family
	jobs             map[string]*model.Job
	transmissions    map[string]*model.Transmission
	transactions     map[string]*model.Transaction
	links            []model.TransmissionTransaction
	takenMessageIDs  map[string]bool
	lastTransactedAt map[string]time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		families:         map[string]*model.Family{},
		jobs:             map[string]*model.Job{},
		transmissions:    map[string]*model.Transmission{},
		transactions:     map[string]*model.Transaction{},
		takenMessageIDs:  map[string]bool{},
		lastTransactedAt: map[string]time.Time{},
	}
}

func (m *memoryRepo) SaveFamily(ctx context.Context, family *model.Family) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.families[family.ID] = family
	return nil
}

func (m *memoryRepo) UpdateFamily(ctx context.Context, family *model.Family) error {
	return m.SaveFamily(ctx, family)
}

func (m *memoryRepo) FindFamilyByID(ctx context.Context, id string) (*model.Family, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.families[id]; ok {
		return f, nil
	}
	return nil, repository.ErrFamilyNotFound
}

func (m *memoryRepo) FindFamilyByCorrelationID(ctx context.Context, correlationID string) (*model.Family, error) {
	return nil, repository.ErrFamilyNotFound
}

func (m *memoryRepo) FindEligiblePriorFamily(ctx context.Context, familyExternalID, primaryPersonExternalID, excludeID string) (*model.Family, error) {
	return nil, repository.ErrFamilyNotFound
}

func (m *memoryRepo) TouchLastTransactedAt(ctx context.Context, familyID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTransactedAt[familyID] = at
	return nil
}

func (m *memoryRepo) SaveJob(ctx context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.takenMessageIDs[job.MessageID] {
		return repository.ErrDuplicateMessageID
	}
	m.takenMessageIDs[job.MessageID] = true
	m.jobs[job.ID] = job
	return nil
}

func (m *memoryRepo) UpdateJob(ctx context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memoryRepo) FindJobByID(ctx context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j, nil
	}
	return nil, repository.ErrJobNotFound
}

func (m *memoryRepo) ExistsJobWithMessageID(ctx context.Context, messageID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takenMessageIDs[messageID], nil
}

func (m *memoryRepo) ListFinishedJobs(ctx context.Context, before time.Time, limit int) ([]*model.Job, error) {
	return nil, nil
}

func (m *memoryRepo) ErrorMessagesByJob(ctx context.Context, jobID string) ([]string, error) {
	return nil, nil
}

func (m *memoryRepo) SaveTransmission(ctx context.Context, transmission *model.Transmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transmissions[transmission.ID] = transmission
	return nil
}

func (m *memoryRepo) UpdateTransmission(ctx context.Context, transmission *model.Transmission) error {
	return m.SaveTransmission(ctx, transmission)
}

func (m *memoryRepo) FindTransmissionByID(ctx context.Context, id string) (*model.Transmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transmissions[id]; ok {
		return t, nil
	}
	return nil, repository.ErrTransmissionNotFound
}

func (m *memoryRepo) FindTransmissionsByJob(ctx context.Context, jobID string) ([]*model.Transmission, error) {
	return nil, nil
}

func (m *memoryRepo) LinkTransaction(ctx context.Context, transmissionID, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, model.TransmissionTransaction{
		TransmissionID: transmissionID,
		TransactionID:  transactionID,
		CreateTime:     time.Now(),
	})
	return nil
}

func (m *memoryRepo) SaveTransaction(ctx context.Context, transaction *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[transaction.TransactionID] = transaction
	return nil
}

func (m *memoryRepo) UpdateTransaction(ctx context.Context, transaction *model.Transaction) error {
	return m.SaveTransaction(ctx, transaction)
}

func (m *memoryRepo) FindTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.transactions[id]; ok {
		return tx, nil
	}
	return nil, repository.ErrTransactionNotFound
}

func (m *memoryRepo) FindTransactionsByTransactable(ctx context.Context, transactableID string, transactableType model.TransactableType) ([]*model.Transaction, error) {
	return nil, nil
}

func (m *memoryRepo) Close() error { return nil }

func (m *memoryRepo) linkedTo(transmissionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, l := range m.links {
		if l.TransmissionID == transmissionID {
			ids = append(ids, l.TransactionID)
		}
	}
	return ids
}

// fakeTransformer returns a canned outbound document or a canned error.
type fakeTransformer struct {
	out *model.AccountDocument
	err error
}

func (t *fakeTransformer) Transform(inbound model.FamilyDocument) (*model.AccountDocument, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.out, nil
}

func testConfig() *config.Config {
	return config.NewConfig()
}

func inboundFixture() model.FamilyDocument {
	return model.FamilyDocument{
		"familyExternalId": "fam-100",
		"name":             "Sato",
		"members": []interface{}{
			map[string]interface{}{"externalId": "per-1", "primary": true},
			map[string]interface{}{"externalId": "per-2"},
		},
	}
}

func outboundFixture() *model.AccountDocument {
	return &model.AccountDocument{
		ExternalID: "fam-100",
		Fields:     map[string]interface{}{"name": "Sato"},
		Contacts: []model.ContactDocument{
			{ExternalID: "per-1", Fields: map[string]interface{}{}},
			{ExternalID: "per-2", Fields: map[string]interface{}{}},
		},
	}
}

func TestGenerateRequestObjectsBuildsFullGraph(t *testing.T) {
	repo := newMemoryRepo()
	p := NewRequestPipeline(repo, &fakeTransformer{out: outboundFixture()}, testConfig())

	now := time.Now()
	objects, err := p.GenerateRequestObjects(context.Background(), inboundFixture(), now)
	require.NoError(t, err)

	require.NotNil(t, objects.Job)
	assert.Equal(t, "family_updated", objects.Job.Key)
	assert.NotEmpty(t, objects.Job.MessageID)

	require.NotNil(t, objects.Transmission)
	assert.Equal(t, model.TransmissionKindRequest, objects.Transmission.Kind)
	require.NotNil(t, objects.Transmission.JobID)
	assert.Equal(t, objects.Job.ID, *objects.Transmission.JobID)
	assert.Equal(t, "fam-100", objects.Transmission.CorrelationID)
	assert.Equal(t, model.StateInitial, objects.Transmission.Status.LatestState)

	require.NotNil(t, objects.Family)
	assert.Equal(t, "fam-100", objects.Family.FamilyExternalID)
	assert.Equal(t, "per-1", objects.Family.PrimaryPersonExternalID)
	assert.NotNil(t, objects.Family.OutboundPayload)
	assert.Equal(t, now, objects.Family.InboundAfterUpdatedAt)

	// One account transaction plus one per contact, all joined to the request
	// transmission.
	require.NotNil(t, objects.AccountTransaction)
	assert.Equal(t, "account", objects.AccountTransaction.Key)
	require.Len(t, objects.ContactTransactions, 2)
	assert.Equal(t, "contact:per-1", objects.ContactTransactions[0].Key)
	assert.Len(t, repo.linkedTo(objects.Transmission.ID), 3)

	_, touched := repo.lastTransactedAt[objects.Family.ID]
	assert.True(t, touched)
}

func TestGenerateRequestObjectsMissingInputs(t *testing.T) {
	p := NewRequestPipeline(newMemoryRepo(), &fakeTransformer{out: outboundFixture()}, testConfig())

	_, err := p.GenerateRequestObjects(context.Background(), nil, time.Now())
	assert.ErrorIs(t, err, ErrMissingPayload)

	_, err = p.GenerateRequestObjects(context.Background(), inboundFixture(), time.Time{})
	assert.ErrorIs(t, err, ErrMissingTimestamp)
}

func TestGenerateRequestObjectsTransformFailurePreservesInbound(t *testing.T) {
	repo := newMemoryRepo()
	transformErr := errors.New("unmappable document")
	p := NewRequestPipeline(repo, &fakeTransformer{err: transformErr}, testConfig())

	objects, err := p.GenerateRequestObjects(context.Background(), inboundFixture(), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, transformErr)

	// The subject is persisted with the inbound data intact.
	require.NotNil(t, objects)
	stored, ferr := repo.FindFamilyByID(context.Background(), objects.Family.ID)
	require.NoError(t, ferr)
	assert.Equal(t, inboundFixture(), stored.InboundPayload)
	assert.Nil(t, stored.OutboundPayload)

	// The failure is recorded against the job and the transmission.
	require.NotEmpty(t, objects.Job.Errors)
	assert.Equal(t, "transform", objects.Job.Errors[0].Key)
	require.NotEmpty(t, objects.Transmission.Errors)

	// No transactions were created.
	assert.Nil(t, objects.AccountTransaction)
	assert.Empty(t, objects.ContactTransactions)
}

func TestNewJobMessageIDRegeneratedOnCollision(t *testing.T) {
	repo := newMemoryRepo()
	p := NewRequestPipeline(repo, &fakeTransformer{out: outboundFixture()}, testConfig())

	// First request claims a message id.
	first, err := p.GenerateRequestObjects(context.Background(), inboundFixture(), time.Now())
	require.NoError(t, err)

	// Second request must end up with a different one.
	second, err := p.GenerateRequestObjects(context.Background(), inboundFixture(), time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, first.Job.MessageID, second.Job.MessageID)
}

func TestGenerateResponseObjectsValidation(t *testing.T) {
	p := NewResponsePipeline(newMemoryRepo())

	_, err := p.GenerateResponseObjects(context.Background(), nil, &RequestObjects{})
	assert.ErrorIs(t, err, ErrInvalidComparisonOrRequestObjects)

	comparison := model.NewComparison("fam-100", model.ActionNoop, nil)
	_, err = p.GenerateResponseObjects(context.Background(), comparison, nil)
	assert.ErrorIs(t, err, ErrInvalidComparisonOrRequestObjects)

	_, err = p.GenerateResponseObjects(context.Background(), comparison, &RequestObjects{})
	assert.ErrorIs(t, err, ErrInvalidComparisonOrRequestObjects)
}

func TestGenerateResponseObjectsRecordsAckedGraph(t *testing.T) {
	repo := newMemoryRepo()
	reqPipeline := NewRequestPipeline(repo, &fakeTransformer{out: outboundFixture()}, testConfig())
	req, err := reqPipeline.GenerateRequestObjects(context.Background(), inboundFixture(), time.Now())
	require.NoError(t, err)

	executed := model.NewComparison("fam-100", model.ActionCreate, []model.ContactComparison{
		{ExternalID: "per-1", Action: model.ActionCreate, ResponseCode: "201", ResponseBody: `{"id":"crm-1"}`},
		{ExternalID: "per-2", Action: model.ActionCreate, ResponseCode: "500", ResponseMessage: "boom"},
	}).WithAccountResponse("201", "created", `{"id":"crm-acc"}`)

	p := NewResponsePipeline(repo)
	objects, err := p.GenerateResponseObjects(context.Background(), &executed, req)
	require.NoError(t, err)

	assert.Equal(t, model.TransmissionKindResponse, objects.ResponseTransmission.Kind)
	assert.Equal(t, model.StateAcked, objects.ResponseTransmission.Status.LatestState)
	require.NotNil(t, objects.ResponseTransmission.JobID)
	assert.Equal(t, req.Job.ID, *objects.ResponseTransmission.JobID)

	// Parallel set: account + one per contact, all acked and joined to the
	// response transmission.
	require.Len(t, objects.ResponseTransactions, 3)
	for _, tx := range objects.ResponseTransactions {
		assert.Equal(t, model.StateAcked, tx.Status.LatestState)
	}
	assert.Equal(t, model.JSONDocument{
		"action":          "create",
		"responseCode":    "201",
		"responseMessage": "created",
		"responseBody":    `{"id":"crm-acc"}`,
	}, objects.ResponseTransactions[0].JSONPayload)
	// 3 response transactions plus the 3 originating request transactions.
	assert.Len(t, repo.linkedTo(objects.ResponseTransmission.ID), 6)

	// Request side carried through unchanged.
	assert.Len(t, objects.RequestTransactions, 3)
	assert.Equal(t, req.Transmission.ID, objects.RequestTransmission.ID)
}

func TestGenerateResponseObjectsLinksBackRequestTransactions(t *testing.T) {
	repo := newMemoryRepo()
	reqPipeline := NewRequestPipeline(repo, &fakeTransformer{out: outboundFixture()}, testConfig())
	req, err := reqPipeline.GenerateRequestObjects(context.Background(), inboundFixture(), time.Now())
	require.NoError(t, err)

	executed := model.NewComparison("fam-100", model.ActionCreate, []model.ContactComparison{
		{ExternalID: "per-1", Action: model.ActionCreate, ResponseCode: "201"},
		{ExternalID: "per-2", Action: model.ActionCreate, ResponseCode: "201"},
	}).WithAccountResponse("201", "created", "")

	objects, err := NewResponsePipeline(repo).GenerateResponseObjects(context.Background(), &executed, req)
	require.NoError(t, err)

	// Every request transaction is joined to both transmissions, so a response
	// record can be traced back to its originating request transaction.
	responseLinks := repo.linkedTo(objects.ResponseTransmission.ID)
	for _, tx := range req.Transactions() {
		assert.Contains(t, repo.linkedTo(req.Transmission.ID), tx.TransactionID)
		assert.Contains(t, responseLinks, tx.TransactionID)
	}

	shared := 0
	for _, id := range repo.linkedTo(req.Transmission.ID) {
		for _, rid := range responseLinks {
			if id == rid {
				shared++
				break
			}
		}
	}
	assert.Equal(t, 3, shared, "account and both contact request transactions must appear under the response transmission")
}
