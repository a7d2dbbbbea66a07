package compare

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	repository "github.com/tigerroll/famsync/pkg/sync/core/domain/repository"
)

// fakeFamilyRepo serves a canned eligible prior family.
type fakeFamilyRepo struct {
	prior *model.Family
}

func (r *fakeFamilyRepo) SaveFamily(ctx context.Context, family *model.Family) error   { return nil }
func (r *fakeFamilyRepo) UpdateFamily(ctx context.Context, family *model.Family) error { return nil }
func (r *fakeFamilyRepo) FindFamilyByID(ctx context.Context, id string) (*model.Family, error) {
	return nil, repository.ErrFamilyNotFound
}
func (r *fakeFamilyRepo) FindFamilyByCorrelationID(ctx context.Context, correlationID string) (*model.Family, error) {
	return nil, repository.ErrFamilyNotFound
}
func (r *fakeFamilyRepo) FindEligiblePriorFamily(ctx context.Context, familyExternalID, primaryPersonExternalID, excludeID string) (*model.Family, error) {
	if r.prior == nil {
		return nil, repository.ErrFamilyNotFound
	}
	return r.prior, nil
}
func (r *fakeFamilyRepo) TouchLastTransactedAt(ctx context.Context, familyID string, at time.Time) error {
	return nil
}

// fakeCRMClient serves a canned account lookup and counts calls.
type fakeCRMClient struct {
	findAccountBody string
	findAccountErr  error
	findCalls       int
}

func (c *fakeCRMClient) FindAccountByExternalID(ctx context.Context, externalID string) (*port.CRMResponse, error) {
	c.findCalls++
	if c.findAccountErr != nil {
		return nil, c.findAccountErr
	}
	if c.findAccountBody == "" {
		return nil, nil
	}
	return &port.CRMResponse{StatusCode: 200, Body: c.findAccountBody}, nil
}
func (c *fakeCRMClient) CreateAccount(ctx context.Context, account *model.AccountDocument) (*port.CRMResponse, error) {
	return nil, nil
}
func (c *fakeCRMClient) UpdateAccount(ctx context.Context, crmID string, account *model.AccountDocument) (*port.CRMResponse, error) {
	return nil, nil
}
func (c *fakeCRMClient) FindContactByExternalID(ctx context.Context, externalID string) (*port.CRMResponse, error) {
	return nil, nil
}
func (c *fakeCRMClient) CreateContact(ctx context.Context, accountCRMID string, contact *model.ContactDocument) (*port.CRMResponse, error) {
	return nil, nil
}
func (c *fakeCRMClient) UpdateContact(ctx context.Context, crmID string, contact *model.ContactDocument) (*port.CRMResponse, error) {
	return nil, nil
}

func outboundFixture() *model.AccountDocument {
	return &model.AccountDocument{
		ExternalID: "fam-100",
		Fields:     map[string]interface{}{"name": "Sato", "city": "Osaka"},
		Contacts: []model.ContactDocument{
			{ExternalID: "per-1", Fields: map[string]interface{}{"firstName": "Taro"}},
			{ExternalID: "per-2", Fields: map[string]interface{}{"firstName": "Hana"}},
		},
	}
}

func familyFixture(afterUpdatedAt time.Time) *model.Family {
	f := model.NewFamily("fam-100", "per-1", model.FamilyDocument{"familyExternalId": "fam-100"}, afterUpdatedAt)
	f.OutboundPayload = outboundFixture()
	return f
}

func priorFixture(afterUpdatedAt time.Time) *model.Family {
	p := familyFixture(afterUpdatedAt)
	p.ID = "prior-family"
	transacted := afterUpdatedAt.Add(time.Minute)
	p.LastTransactedAt = &transacted
	return p
}

func TestCompareNoPriorNoCRMAccountYieldsAllCreate(t *testing.T) {
	engine := NewEngine(&fakeFamilyRepo{}, &fakeCRMClient{}, nil)
	now := time.Now()

	comparison, err := engine.Compare(context.Background(), now, familyFixture(now), false)
	require.NoError(t, err)

	assert.Equal(t, model.ActionCreate, comparison.Action)
	assert.Equal(t, model.ActionCreate, comparison.AccountAction)
	require.Len(t, comparison.Contacts, 2)
	for _, c := range comparison.Contacts {
		assert.Equal(t, model.ActionCreate, c.Action)
	}
}

func TestCompareIdenticalPriorYieldsNoop(t *testing.T) {
	now := time.Now()
	prior := priorFixture(now.Add(-time.Hour))
	engine := NewEngine(&fakeFamilyRepo{prior: prior}, &fakeCRMClient{}, nil)

	comparison, err := engine.Compare(context.Background(), now, familyFixture(now), false)
	require.NoError(t, err)

	assert.Equal(t, model.ActionNoop, comparison.Action)
	assert.True(t, comparison.NoopOrStale())
}

func TestCompareStaleUpdateSkipsDiffing(t *testing.T) {
	now := time.Now()
	prior := priorFixture(now.Add(time.Hour)) // prior carries a newer timestamp
	crm := &fakeCRMClient{}
	engine := NewEngine(&fakeFamilyRepo{prior: prior}, crm, nil)

	comparison, err := engine.Compare(context.Background(), now, familyFixture(now), false)
	require.NoError(t, err)

	assert.Equal(t, model.ActionStale, comparison.Action)
	assert.Equal(t, model.ActionStale, comparison.AccountAction)
	require.Len(t, comparison.Contacts, 2)
	for _, c := range comparison.Contacts {
		assert.Equal(t, model.ActionStale, c.Action)
	}
	assert.Zero(t, crm.findCalls, "stale verdict must not touch the CRM")
}

func TestCompareForceSyncBypassesStalenessAndFetchesLive(t *testing.T) {
	now := time.Now()
	prior := priorFixture(now.Add(time.Hour))
	crm := &fakeCRMClient{} // account absent in CRM
	engine := NewEngine(&fakeFamilyRepo{prior: prior}, crm, nil)

	comparison, err := engine.Compare(context.Background(), now, familyFixture(now), true)
	require.NoError(t, err)

	assert.Equal(t, model.ActionCreate, comparison.Action)
	assert.Equal(t, 1, crm.findCalls, "forceSync must fetch from the CRM, not the prior subject")
}

func TestCompareChangedContactYieldsMixedVerdict(t *testing.T) {
	now := time.Now()
	prior := priorFixture(now.Add(-time.Hour))
	prior.OutboundPayload.Contacts[1].Fields["firstName"] = "Hanako"
	engine := NewEngine(&fakeFamilyRepo{prior: prior}, &fakeCRMClient{}, nil)

	comparison, err := engine.Compare(context.Background(), now, familyFixture(now), false)
	require.NoError(t, err)

	// Account noop plus a single update contact forces the mixed verdict.
	assert.Equal(t, model.ActionCreateAndUpdate, comparison.Action)
	assert.Equal(t, model.ActionNoop, comparison.AccountAction)
	assert.Equal(t, model.ActionNoop, comparison.ContactByExternalID("per-1").Action)
	assert.Equal(t, model.ActionUpdate, comparison.ContactByExternalID("per-2").Action)
}

func TestCompareNewMemberYieldsContactCreate(t *testing.T) {
	now := time.Now()
	prior := priorFixture(now.Add(-time.Hour))
	prior.OutboundPayload.Contacts = prior.OutboundPayload.Contacts[:1] // per-2 unknown to prior
	engine := NewEngine(&fakeFamilyRepo{prior: prior}, &fakeCRMClient{}, nil)

	comparison, err := engine.Compare(context.Background(), now, familyFixture(now), false)
	require.NoError(t, err)

	assert.Equal(t, model.ActionCreateAndUpdate, comparison.Action)
	assert.Equal(t, model.ActionCreate, comparison.ContactByExternalID("per-2").Action)
}

func TestCompareAgainstLiveCRMAccount(t *testing.T) {
	now := time.Now()
	crm := &fakeCRMClient{
		findAccountBody: `{
			"externalId": "fam-100",
			"fields": {"name": "Sato", "city": "Kyoto"},
			"contacts": [
				{"externalId": "per-1", "fields": {"firstName": "Taro"}},
				{"externalId": "per-2", "fields": {"firstName": "Hana"}}
			]
		}`,
	}
	engine := NewEngine(&fakeFamilyRepo{}, crm, nil)

	comparison, err := engine.Compare(context.Background(), now, familyFixture(now), false)
	require.NoError(t, err)

	assert.Equal(t, model.ActionUpdate, comparison.AccountAction)
	assert.Equal(t, model.ActionNoop, comparison.ContactByExternalID("per-1").Action)
	assert.Equal(t, model.ActionCreateAndUpdate, comparison.Action)
}

func TestCompareInvalidInputs(t *testing.T) {
	engine := NewEngine(&fakeFamilyRepo{}, &fakeCRMClient{}, nil)
	now := time.Now()

	_, err := engine.Compare(context.Background(), time.Time{}, familyFixture(now), false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = engine.Compare(context.Background(), now, nil, false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	noOutbound := familyFixture(now)
	noOutbound.OutboundPayload = nil
	_, err = engine.Compare(context.Background(), now, noOutbound, false)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCompareEquivalentDocumentsWithDifferentKeyOrder(t *testing.T) {
	now := time.Now()
	prior := priorFixture(now.Add(-time.Hour))
	// Rebuild the prior fields in a different insertion order; structural
	// equality must not depend on it.
	prior.OutboundPayload.Fields = map[string]interface{}{"city": "Osaka", "name": "Sato"}
	engine := NewEngine(&fakeFamilyRepo{prior: prior}, &fakeCRMClient{}, nil)

	comparison, err := engine.Compare(context.Background(), now, familyFixture(now), false)
	require.NoError(t, err)
	assert.Equal(t, model.ActionNoop, comparison.AccountAction)
}
