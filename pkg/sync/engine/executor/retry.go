package executor

import (
	"context"
	"sync"
	"time"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// RetryingCRMClient decorates a port.CRMClient with exponential-backoff
// retries and a consecutive-failure circuit breaker. Once the circuit opens,
// calls fail fast until the reset interval elapses.
type RetryingCRMClient struct {
	inner port.CRMClient
	cfg   config.RetryConfig

	mu                  sync.Mutex
	consecutiveFailures int
	openedAt            time.Time
}

// NewRetryingCRMClient wraps a CRM client with the retry policy.
func NewRetryingCRMClient(inner port.CRMClient, cfg config.RetryConfig) port.CRMClient {
	return &RetryingCRMClient{inner: inner, cfg: cfg}
}

func (c *RetryingCRMClient) do(ctx context.Context, operation string, call func() (*port.CRMResponse, error)) (*port.CRMResponse, error) {
	const op = "executor.RetryingCRMClient"

	if err := c.checkCircuit(); err != nil {
		return nil, err
	}

	maxAttempts := c.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	interval := time.Duration(c.cfg.InitialInterval) * time.Millisecond
	maxInterval := time.Duration(c.cfg.MaxInterval) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := call()
		if err == nil {
			c.recordSuccess()
			return resp, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		logger.Warnf("%s: %s failed (attempt %d/%d), retrying in %s: %s",
			op, operation, attempt, maxAttempts, interval, exception.ExtractErrorMessage(err))

		select {
		case <-ctx.Done():
			c.recordFailure()
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * c.cfg.Factor)
		if maxInterval > 0 && interval > maxInterval {
			interval = maxInterval
		}
	}

	c.recordFailure()
	return nil, lastErr
}

// checkCircuit fails fast while the circuit is open.
func (c *RetryingCRMClient) checkCircuit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	threshold := c.cfg.CircuitBreakerThreshold
	if threshold <= 0 || c.consecutiveFailures < threshold {
		return nil
	}

	reset := time.Duration(c.cfg.CircuitBreakerResetInterval) * time.Millisecond
	if time.Since(c.openedAt) >= reset {
		// Half-open: allow the next call through as a probe.
		c.consecutiveFailures = threshold - 1
		return nil
	}
	return exception.NewSyncErrorf("executor", "CRM circuit breaker open (%d consecutive failures)", c.consecutiveFailures)
}

func (c *RetryingCRMClient) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures = 0
}

func (c *RetryingCRMClient) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFailures++
	if c.cfg.CircuitBreakerThreshold > 0 && c.consecutiveFailures == c.cfg.CircuitBreakerThreshold {
		c.openedAt = time.Now()
		logger.Errorf("executor: CRM circuit breaker opened after %d consecutive failures", c.consecutiveFailures)
	}
}

func (c *RetryingCRMClient) FindAccountByExternalID(ctx context.Context, externalID string) (*port.CRMResponse, error) {
	return c.do(ctx, "findAccount", func() (*port.CRMResponse, error) {
		return c.inner.FindAccountByExternalID(ctx, externalID)
	})
}

func (c *RetryingCRMClient) CreateAccount(ctx context.Context, account *model.AccountDocument) (*port.CRMResponse, error) {
	return c.do(ctx, "createAccount", func() (*port.CRMResponse, error) {
		return c.inner.CreateAccount(ctx, account)
	})
}

func (c *RetryingCRMClient) UpdateAccount(ctx context.Context, crmID string, account *model.AccountDocument) (*port.CRMResponse, error) {
	return c.do(ctx, "updateAccount", func() (*port.CRMResponse, error) {
		return c.inner.UpdateAccount(ctx, crmID, account)
	})
}

func (c *RetryingCRMClient) FindContactByExternalID(ctx context.Context, externalID string) (*port.CRMResponse, error) {
	return c.do(ctx, "findContact", func() (*port.CRMResponse, error) {
		return c.inner.FindContactByExternalID(ctx, externalID)
	})
}

func (c *RetryingCRMClient) CreateContact(ctx context.Context, accountCRMID string, contact *model.ContactDocument) (*port.CRMResponse, error) {
	return c.do(ctx, "createContact", func() (*port.CRMResponse, error) {
		return c.inner.CreateContact(ctx, accountCRMID, contact)
	})
}

func (c *RetryingCRMClient) UpdateContact(ctx context.Context, crmID string, contact *model.ContactDocument) (*port.CRMResponse, error) {
	return c.do(ctx, "updateContact", func() (*port.CRMResponse, error) {
		return c.inner.UpdateContact(ctx, crmID, contact)
	})
}
