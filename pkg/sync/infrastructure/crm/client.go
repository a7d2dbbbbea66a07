// Package crm implements the HTTP client to the third-party CRM. Transport
// errors are returned as errors for the executor to convert into failure
// response records; non-2xx statuses are valid responses carried back with
// their code and body.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	port "github.com/tigerroll/famsync/pkg/sync/core/application/port"
	config "github.com/tigerroll/famsync/pkg/sync/core/config"
	model "github.com/tigerroll/famsync/pkg/sync/core/domain/model"
	"github.com/tigerroll/famsync/pkg/sync/support/util/exception"
)

// HTTPClient is the HTTP implementation of port.CRMClient.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient creates a CRM client from the CRM configuration.
func NewHTTPClient(cfg config.CRMConfig) port.CRMClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FindAccountByExternalID implements port.CRMClient. A 404 means the account
// does not exist and yields a nil response.
func (c *HTTPClient) FindAccountByExternalID(ctx context.Context, externalID string) (*port.CRMResponse, error) {
	return c.find(ctx, "/accounts", externalID)
}

// CreateAccount implements port.CRMClient.
func (c *HTTPClient) CreateAccount(ctx context.Context, account *model.AccountDocument) (*port.CRMResponse, error) {
	return c.send(ctx, http.MethodPost, "/accounts", account)
}

// UpdateAccount implements port.CRMClient.
func (c *HTTPClient) UpdateAccount(ctx context.Context, crmID string, account *model.AccountDocument) (*port.CRMResponse, error) {
	return c.send(ctx, http.MethodPut, "/accounts/"+url.PathEscape(crmID), account)
}

// FindContactByExternalID implements port.CRMClient. A 404 yields a nil
// response.
func (c *HTTPClient) FindContactByExternalID(ctx context.Context, externalID string) (*port.CRMResponse, error) {
	return c.find(ctx, "/contacts", externalID)
}

// CreateContact implements port.CRMClient.
func (c *HTTPClient) CreateContact(ctx context.Context, accountCRMID string, contact *model.ContactDocument) (*port.CRMResponse, error) {
	return c.send(ctx, http.MethodPost, "/accounts/"+url.PathEscape(accountCRMID)+"/contacts", contact)
}

// UpdateContact implements port.CRMClient.
func (c *HTTPClient) UpdateContact(ctx context.Context, crmID string, contact *model.ContactDocument) (*port.CRMResponse, error) {
	return c.send(ctx, http.MethodPut, "/contacts/"+url.PathEscape(crmID), contact)
}

func (c *HTTPClient) find(ctx context.Context, path, externalID string) (*port.CRMResponse, error) {
	const op = "crm.HTTPClient.find"

	endpoint := fmt.Sprintf("%s%s?externalId=%s", c.baseURL, path, url.QueryEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, exception.NewSyncError(op, "failed to build CRM request", err, false, false)
	}
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	return resp, nil
}

func (c *HTTPClient) send(ctx context.Context, method, path string, payload interface{}) (*port.CRMResponse, error) {
	const op = "crm.HTTPClient.send"

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, exception.NewSyncError(op, "failed to encode CRM payload", err, false, false)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, exception.NewSyncError(op, "failed to build CRM request", err, false, false)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.roundTrip(req)
}

// roundTrip executes the request and maps the HTTP response onto a
// CRMResponse. Only transport-level problems surface as errors.
func (c *HTTPClient) roundTrip(req *http.Request) (*port.CRMResponse, error) {
	const op = "crm.HTTPClient.roundTrip"

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, exception.NewSyncError(op, fmt.Sprintf("CRM request %s %s failed", req.Method, req.URL.Path), err, false, true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, exception.NewSyncError(op, "failed to read CRM response body", err, false, true)
	}

	return &port.CRMResponse{
		StatusCode: resp.StatusCode,
		Body:       string(data),
		CRMID:      extractCRMID(data),
	}, nil
}

// extractCRMID pulls the record id out of a JSON response body, tolerating
// non-JSON and id-less bodies.
func extractCRMID(body []byte) string {
	var doc struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	return doc.ID
}
