/**
 * @description
 * This package provides a client for the CRM REST API. It injects the access
 * token from the token cache into every call, maps local deals and customers
 * onto the configured CRM field names, and pushes a deal as an account
 * lookup-or-create followed by a linked deal record.
 *
 * @dependencies
 * - golang.org/x/oauth2: Authorization header for the access token.
 * - golang.org/x/time/rate: Optional client-side request pacing.
 * - internal/domain: The deal and customer models being pushed.
 */
package crmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leadflow/deal-service/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const untitledDeal = "Untitled Deal"

// FieldMap names the CRM fields the client writes.
type FieldMap struct {
	AccountName   string
	Email         string
	DealName      string
	AccountLookup string
	Stage         string
	Owner         string
	ManagerEmail  string
}

func DefaultFieldMap() FieldMap {
	return FieldMap{
		AccountName:   "Account_Name",
		Email:         "Email",
		DealName:      "Deal_Name",
		AccountLookup: "Account_Name",
		Stage:         "Stage",
		Owner:         "Owner",
		ManagerEmail:  "Manager_Email",
	}
}

// Config configures a Client.
type Config struct {
	APIBaseURL       string
	AccountsEndpoint string
	DealsEndpoint    string
	Fields           FieldMap
	DefaultStage     string
	// DefaultOwnerID is written to the owner field when set.
	DefaultOwnerID string
	Timeout        time.Duration
	// MaxRequestsPerSecond paces outbound calls. Zero disables pacing.
	MaxRequestsPerSecond float64
}

// TokenProvider supplies the access token for each call.
type TokenProvider interface {
	BearerToken(ctx context.Context) (*oauth2.Token, error)
}

// Client is a client for the CRM API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	cfg     Config
	tokens  TokenProvider
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a new CRM API client.
func NewClient(cfg Config, tokens TokenProvider, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.AccountsEndpoint == "" {
		cfg.AccountsEndpoint = "/crm/v3/Accounts"
	}
	if cfg.DealsEndpoint == "" {
		cfg.DealsEndpoint = "/crm/v3/Deals"
	}
	if cfg.Fields == (FieldMap{}) {
		cfg.Fields = DefaultFieldMap()
	}
	if cfg.DefaultStage == "" {
		cfg.DefaultStage = "Qualification"
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.MaxRequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1)
	}

	return &Client{
		BaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg:     cfg,
		tokens:  tokens,
		limiter: limiter,
		logger:  logger,
	}
}

// RecordResponse is the CRM envelope for search and create calls.
type RecordResponse struct {
	Data []RecordResult `json:"data"`
	Info map[string]any `json:"info,omitempty"`
}

// RecordResult is one entry of RecordResponse.Data. Search results carry ID,
// create results carry Details.ID.
type RecordResult struct {
	ID      string         `json:"id,omitempty"`
	Code    string         `json:"code,omitempty"`
	Status  string         `json:"status,omitempty"`
	Message string         `json:"message,omitempty"`
	Details *RecordDetails `json:"details,omitempty"`
}

type RecordDetails struct {
	ID string `json:"id"`
}

// CreatedID returns the id of the first created record, or "".
func (r *RecordResponse) CreatedID() string {
	if r == nil || len(r.Data) == 0 || r.Data[0].Details == nil {
		return ""
	}
	return r.Data[0].Details.ID
}

// DealInput holds the local deal fields sent to the CRM.
type DealInput struct {
	Name         string
	AccountID    string
	OwnerID      string
	ManagerEmail string
}

// Get performs an authorized GET and decodes the response into out.
// out may be nil. An empty body leaves out untouched.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.BaseURL + normalizePath(path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, target, nil, out)
}

// Post performs an authorized JSON POST and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal crm request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, c.BaseURL+normalizePath(path), payload, out)
}

func (c *Client) do(ctx context.Context, method, path, target string, payload []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	token, err := c.tokens.BearerToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create crm request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send crm request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read crm response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method:     method,
			Path:       normalizePath(path),
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode crm response: %w", err)
		}
	}
	return nil
}

// Ping fetches a single account id to confirm credentials and connectivity.
func (c *Client) Ping(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	query := url.Values{"per_page": {"1"}, "fields": {"id"}}
	if err := c.Get(ctx, c.cfg.AccountsEndpoint, query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindAccountIDByName searches accounts by exact name. It returns "" when
// nothing matches.
func (c *Client) FindAccountIDByName(ctx context.Context, accountName string) (string, error) {
	criteria := fmt.Sprintf("(%s:equals:%s)", c.cfg.Fields.AccountName, escapeCriteria(accountName))
	path := strings.TrimRight(c.cfg.AccountsEndpoint, "/") + "/search"

	var resp RecordResponse
	if err := c.Get(ctx, path, url.Values{"criteria": {criteria}}, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	return resp.Data[0].ID, nil
}

// CreateAccountFromCustomer creates a CRM account named after the customer.
func (c *Client) CreateAccountFromCustomer(ctx context.Context, customer *domain.Customer) (*RecordResponse, error) {
	record := map[string]any{
		c.cfg.Fields.AccountName: customer.AccountName(),
	}
	if email := strings.TrimSpace(customer.Email); email != "" {
		record[c.cfg.Fields.Email] = email
	}

	var resp RecordResponse
	if err := c.Post(ctx, c.cfg.AccountsEndpoint, map[string]any{"data": []any{record}}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateDealForAccount creates a CRM deal linked to accountID.
func (c *Client) CreateDealForAccount(ctx context.Context, in DealInput) (*RecordResponse, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = untitledDeal
	}
	record := map[string]any{
		c.cfg.Fields.DealName:      name,
		c.cfg.Fields.AccountLookup: map[string]string{"id": in.AccountID},
		c.cfg.Fields.Stage:         c.cfg.DefaultStage,
	}
	if in.ManagerEmail != "" {
		record[c.cfg.Fields.ManagerEmail] = in.ManagerEmail
	}
	if in.OwnerID != "" {
		record[c.cfg.Fields.Owner] = map[string]string{"id": in.OwnerID}
	}

	var resp RecordResponse
	if err := c.Post(ctx, c.cfg.DealsEndpoint, map[string]any{"data": []any{record}}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PushDeal reuses or creates the customer's account and creates the deal
// under it. The account lookup is not atomic with the create, so two
// concurrent pushes for one customer can both create an account.
func (c *Client) PushDeal(ctx context.Context, deal *domain.Deal) (*RecordResponse, error) {
	if deal.Customer == nil {
		return nil, fmt.Errorf("%w: deal #%d", ErrMissingCustomer, deal.ID)
	}

	accountName := deal.Customer.AccountName()
	accountID, err := c.FindAccountIDByName(ctx, accountName)
	if err != nil {
		return nil, fmt.Errorf("search account %q: %w", accountName, err)
	}

	if accountID == "" {
		created, err := c.CreateAccountFromCustomer(ctx, deal.Customer)
		if err != nil {
			return nil, fmt.Errorf("create account %q: %w", accountName, err)
		}
		accountID = created.CreatedID()
		if accountID == "" {
			return nil, fmt.Errorf("%w: account for deal #%d", ErrRemoteIDMissing, deal.ID)
		}
		c.logger.Info("crm account created", "deal_id", deal.ID, "account_id", accountID)
	}

	var managerEmail string
	if deal.Manager != nil {
		managerEmail = deal.Manager.Email
	}

	resp, err := c.CreateDealForAccount(ctx, DealInput{
		Name:         deal.Name,
		AccountID:    accountID,
		OwnerID:      c.cfg.DefaultOwnerID,
		ManagerEmail: managerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("create deal #%d: %w", deal.ID, err)
	}
	return resp, nil
}

func normalizePath(path string) string {
	return "/" + strings.TrimLeft(path, "/")
}

var criteriaEscaper = strings.NewReplacer(`(`, `\(`, `)`, `\)`, `,`, `\,`)

func escapeCriteria(value string) string {
	return criteriaEscaper.Replace(value)
}
