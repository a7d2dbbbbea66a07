package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
)

// flakyCRM fails a configured number of times before succeeding.
type flakyCRM struct {
	failuresLeft int
	calls        int
}

func (c *flakyCRM) attempt() (*port.CRMResponse, error) {
	c.calls++
	if c.failuresLeft > 0 {
		c.failuresLeft--
		return nil, errors.New("temporary failure")
	}
	return &port.CRMResponse{StatusCode: 200, CRMID: "crm-1"}, nil
}

func (c *flakyCRM) FindAccountByExternalID(ctx context.Context, externalID string) (*port.CRMResponse, error) {
	return c.attempt()
}
func (c *flakyCRM) CreateAccount(ctx context.Context, account *model.AccountDocument) (*port.CRMResponse, error) {
	return c.attempt()
}
func (c *flakyCRM) UpdateAccount(ctx context.Context, crmID string, account *model.AccountDocument) (*port.CRMResponse, error) {
	return c.attempt()
}
func (c *flakyCRM) FindContactByExternalID(ctx context.Context, externalID string) (*port.CRMResponse, error) {
	return c.attempt()
}
func (c *flakyCRM) CreateContact(ctx context.Context, accountCRMID string, contact *model.ContactDocument) (*port.CRMResponse, error) {
	return c.attempt()
}
func (c *flakyCRM) UpdateContact(ctx context.Context, crmID string, contact *model.ContactDocument) (*port.CRMResponse, error) {
	return c.attempt()
}

func retryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:                 3,
		InitialInterval:             1,
		MaxInterval:                 5,
		Factor:                      2.0,
		CircuitBreakerThreshold:     2,
		CircuitBreakerResetInterval: 60000,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	inner := &flakyCRM{failuresLeft: 2}
	client := NewRetryingCRMClient(inner, retryConfig())

	resp, err := client.FindAccountByExternalID(context.Background(), "fam-100")
	require.NoError(t, err)
	assert.Equal(t, "crm-1", resp.CRMID)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &flakyCRM{failuresLeft: 10}
	client := NewRetryingCRMClient(inner, retryConfig())

	_, err := client.FindAccountByExternalID(context.Background(), "fam-100")
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestCircuitBreakerOpensAndFailsFast(t *testing.T) {
	inner := &flakyCRM{failuresLeft: 100}
	client := NewRetryingCRMClient(inner, retryConfig())

	// Two exhausted call sequences reach the threshold.
	_, err := client.FindAccountByExternalID(context.Background(), "fam-100")
	require.Error(t, err)
	_, err = client.FindAccountByExternalID(context.Background(), "fam-100")
	require.Error(t, err)

	callsBefore := inner.calls
	_, err = client.FindAccountByExternalID(context.Background(), "fam-100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, callsBefore, inner.calls, "an open circuit must not reach the CRM")
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cfg := retryConfig()
	cfg.CircuitBreakerResetInterval = 0 // resets immediately for the test
	inner := &flakyCRM{failuresLeft: 6}
	client := NewRetryingCRMClient(inner, cfg)

	_, err := client.FindAccountByExternalID(context.Background(), "fam-100")
	require.Error(t, err)
	_, err = client.FindAccountByExternalID(context.Background(), "fam-100")
	require.Error(t, err)

	// Circuit is at threshold, but the reset interval has elapsed, so the next
	// call goes through as a probe and succeeds.
	resp, err := client.FindAccountByExternalID(context.Background(), "fam-100")
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &flakyCRM{failuresLeft: 10}
	client := NewRetryingCRMClient(inner, retryConfig())

	_, err := client.FindAccountByExternalID(ctx, "fam-100")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}
