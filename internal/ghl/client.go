// Package ghl talks to the GoHighLevel CRM: the outbound REST client, the
// onboarding automation flows built on it, and inbound webhook parsing.
package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/diewo77/go-partners/internal/config"
	"github.com/diewo77/go-partners/internal/logging"
)

var ErrNotConfigured = errors.New("ghl: api not configured, set GHL_API_KEY and GHL_LOCATION_ID")

// APIError is a non-2xx answer from the GHL API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ghl api error: %d - %s", e.Status, e.Body)
}

// Retryable reports whether the request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type Contact struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	FirstName   string         `json:"firstName,omitempty"`
	LastName    string         `json:"lastName,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	CustomField map[string]any `json:"customField,omitempty"`
}

// ContactParams creates or updates a contact. Empty fields are not sent.
type ContactParams struct {
	Email        string            `json:"email,omitempty"`
	FirstName    string            `json:"firstName,omitempty"`
	LastName     string            `json:"lastName,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"customField,omitempty"`
}

type Opportunity struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	PipelineID      string `json:"pipelineId"`
	PipelineStageID string `json:"pipelineStageId"`
	Status          string `json:"status"`
	ContactID       string `json:"contactId"`
}

// Document is a GHL document sent for signature.
type Document struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	SentAt   string `json:"sentAt,omitempty"`
	SignedAt string `json:"signedAt,omitempty"`
}

// Client is the GHL API surface used by the service.
type Client interface {
	Configured() bool
	CreateContact(ctx context.Context, p ContactParams) (*Contact, error)
	UpdateContact(ctx context.Context, contactID string, p ContactParams) (*Contact, error)
	// LookupContactByEmail returns nil without error when no contact matches.
	LookupContactByEmail(ctx context.Context, email string) (*Contact, error)
	AddTags(ctx context.Context, contactID string, tags []string) error
	RemoveTags(ctx context.Context, contactID string, tags []string) error
	CreateOpportunity(ctx context.Context, contactID, name, pipelineID, stageID string) (*Opportunity, error)
	UpdateOpportunityStage(ctx context.Context, opportunityID, stageID string) (*Opportunity, error)
	TriggerWorkflow(ctx context.Context, contactID, workflowID string) error
	SendDocument(ctx context.Context, contactID, templateID, name string) (*Document, error)
	GetDocument(ctx context.Context, documentID string) (*Document, error)
}

// NewClient returns a REST client when the API key and location are set,
// and a client returning mock records otherwise.
func NewClient(cfg config.GHLConfig, log *zap.Logger) Client {
	log = logging.OrNop(log).Named("ghl")
	if !cfg.Configured() {
		log.Info("GHL not configured, using mock client")
		return noopClient{}
	}
	return newRESTClient(cfg, &http.Client{Timeout: 30 * time.Second}, log)
}

type restClient struct {
	baseURL    string
	apiKey     string
	locationID string
	http       *http.Client
	log        *zap.Logger
	attempts   uint
	delay      time.Duration
}

func newRESTClient(cfg config.GHLConfig, hc *http.Client, log *zap.Logger) *restClient {
	return &restClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		locationID: cfg.LocationID,
		http:       hc,
		log:        log,
		attempts:   3,
		delay:      500 * time.Millisecond,
	}
}

func (c *restClient) Configured() bool { return true }

// do sends one API call, retrying on 429, 5xx and transport errors. POSTs
// create records, so they are only retried on 429, which the API returns
// before doing any work. out may be nil.
func (c *restClient) do(ctx context.Context, method, endpoint string, body, out any) error {
	resend := idempotent(method)
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("ghl: encode %s %s: %w", method, endpoint, err)
		}
	}

	return retry.Do(
		func() error {
			var rdr io.Reader
			if payload != nil {
				rdr = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, rdr)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")

			resp, err := c.http.Do(req)
			if err != nil {
				if !resend {
					return retry.Unrecoverable(err)
				}
				return err
			}
			defer resp.Body.Close()
			raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return err
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
				if !apiErr.Retryable() || (!resend && apiErr.Status != http.StatusTooManyRequests) {
					return retry.Unrecoverable(apiErr)
				}
				return apiErr
			}
			if out == nil || len(raw) == 0 {
				return nil
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("ghl: decode %s %s: %w", method, endpoint, err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("ghl request failed, retrying",
				zap.String("method", method), zap.String("endpoint", endpoint),
				zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (c *restClient) CreateContact(ctx context.Context, p ContactParams) (*Contact, error) {
	if len(p.Tags) == 0 {
		p.Tags = []string{TagNewPartner}
	}
	body := struct {
		ContactParams
		LocationID string `json:"locationId"`
	}{p, c.locationID}
	var out Contact
	if err := c.do(ctx, http.MethodPost, "/contacts/", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) UpdateContact(ctx context.Context, contactID string, p ContactParams) (*Contact, error) {
	var out Contact
	if err := c.do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(contactID), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) LookupContactByEmail(ctx context.Context, email string) (*Contact, error) {
	var out struct {
		Contacts []Contact `json:"contacts"`
	}
	err := c.do(ctx, http.MethodGet, "/contacts/lookup?email="+url.QueryEscape(email), nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(out.Contacts) == 0 {
		return nil, nil
	}
	return &out.Contacts[0], nil
}

func (c *restClient) AddTags(ctx context.Context, contactID string, tags []string) error {
	return c.do(ctx, http.MethodPost, "/contacts/"+url.PathEscape(contactID)+"/tags", map[string][]string{"tags": tags}, nil)
}

func (c *restClient) RemoveTags(ctx context.Context, contactID string, tags []string) error {
	return c.do(ctx, http.MethodDelete, "/contacts/"+url.PathEscape(contactID)+"/tags", map[string][]string{"tags": tags}, nil)
}

func (c *restClient) CreateOpportunity(ctx context.Context, contactID, name, pipelineID, stageID string) (*Opportunity, error) {
	body := map[string]string{
		"contactId":       contactID,
		"name":            name,
		"pipelineId":      pipelineID,
		"pipelineStageId": stageID,
		"status":          "open",
		"locationId":      c.locationID,
	}
	var out Opportunity
	if err := c.do(ctx, http.MethodPost, "/opportunities/", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) UpdateOpportunityStage(ctx context.Context, opportunityID, stageID string) (*Opportunity, error) {
	var out Opportunity
	body := map[string]string{"pipelineStageId": stageID}
	if err := c.do(ctx, http.MethodPut, "/opportunities/"+url.PathEscape(opportunityID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) TriggerWorkflow(ctx context.Context, contactID, workflowID string) error {
	endpoint := fmt.Sprintf("/contacts/%s/workflow/%s", url.PathEscape(contactID), url.PathEscape(workflowID))
	return c.do(ctx, http.MethodPost, endpoint, nil, nil)
}

func (c *restClient) SendDocument(ctx context.Context, contactID, templateID, name string) (*Document, error) {
	body := map[string]string{
		"contactId":  contactID,
		"templateId": templateID,
		"name":       name,
		"locationId": c.locationID,
	}
	var out Document
	if err := c.do(ctx, http.MethodPost, "/documents/", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	var out Document
	if err := c.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(documentID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// noopClient stands in for GHL in development. It returns mock records and
// never fails.
type noopClient struct{}

func mockID(kind string) string { return "mock-" + kind + "-" + ksuid.New().String() }

func (noopClient) Configured() bool { return false }

func (noopClient) CreateContact(_ context.Context, p ContactParams) (*Contact, error) {
	return &Contact{ID: mockID("contact"), Email: p.Email, FirstName: p.FirstName, LastName: p.LastName, Tags: p.Tags}, nil
}

func (noopClient) UpdateContact(_ context.Context, contactID string, p ContactParams) (*Contact, error) {
	return &Contact{ID: contactID, Email: p.Email, FirstName: p.FirstName, LastName: p.LastName}, nil
}

func (noopClient) LookupContactByEmail(context.Context, string) (*Contact, error) { return nil, nil }
func (noopClient) AddTags(context.Context, string, []string) error                { return nil }
func (noopClient) RemoveTags(context.Context, string, []string) error             { return nil }

func (noopClient) CreateOpportunity(_ context.Context, contactID, name, pipelineID, stageID string) (*Opportunity, error) {
	return &Opportunity{ID: mockID("opp"), Name: name, PipelineID: pipelineID, PipelineStageID: stageID, Status: "open", ContactID: contactID}, nil
}

func (noopClient) UpdateOpportunityStage(_ context.Context, opportunityID, stageID string) (*Opportunity, error) {
	return &Opportunity{ID: opportunityID, PipelineStageID: stageID, Status: "open"}, nil
}

func (noopClient) TriggerWorkflow(context.Context, string, string) error { return nil }

func (noopClient) SendDocument(_ context.Context, _, _ string, name string) (*Document, error) {
	return &Document{ID: mockID("doc"), Name: name, Status: "sent", SentAt: time.Now().UTC().Format(time.RFC3339)}, nil
}

func (noopClient) GetDocument(_ context.Context, documentID string) (*Document, error) {
	return &Document{ID: documentID, Status: "sent"}, nil
}
