package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/swap"
	"github.com/alfredjeanlab/splitvault/internal/sweeper"
)

// HTTPClient implements Client using the splitvault HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Vaults ---

func (c *HTTPClient) CreateVault(ctx context.Context, req *CreateVaultRequest) (*model.Vault, error) {
	var v model.Vault
	if err := c.doJSON(ctx, http.MethodPost, "/v1/vaults", req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *HTTPClient) GetVault(ctx context.Context, id string) (*model.Vault, error) {
	var v model.Vault
	if err := c.doJSON(ctx, http.MethodGet, vaultPath(id), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *HTTPClient) ListVaults(ctx context.Context, req *ListVaultsRequest) ([]*model.Vault, error) {
	q := url.Values{}
	if req != nil {
		if len(req.Status) > 0 {
			q.Set("status", strings.Join(req.Status, ","))
		}
		if req.Limit > 0 {
			q.Set("limit", strconv.Itoa(req.Limit))
		}
		if req.Offset > 0 {
			q.Set("offset", strconv.Itoa(req.Offset))
		}
	}
	path := "/v1/vaults"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Vaults []*model.Vault `json:"vaults"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Vaults, nil
}

func (c *HTTPClient) ActivateVault(ctx context.Context, id, depositAddress string) (*model.Vault, error) {
	body := map[string]string{"deposit_address": depositAddress}
	var v model.Vault
	if err := c.doJSON(ctx, http.MethodPost, vaultPath(id)+"/activate", body, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *HTTPClient) ReportDeposit(ctx context.Context, id string, req *DepositReport) (*model.Vault, error) {
	var v model.Vault
	if err := c.doJSON(ctx, http.MethodPost, vaultPath(id)+"/deposits", req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *HTTPClient) GetDeposits(ctx context.Context, id string) ([]*model.Deposit, error) {
	var resp struct {
		Deposits []*model.Deposit `json:"deposits"`
	}
	if err := c.doJSON(ctx, http.MethodGet, vaultPath(id)+"/deposits", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deposits, nil
}

func (c *HTTPClient) GetEvents(ctx context.Context, id string) ([]*model.Event, error) {
	var resp struct {
		Events []*model.Event `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, vaultPath(id)+"/events", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// --- Proposals ---

func (c *HTTPClient) CreateProposal(ctx context.Context, vaultID string, req *CreateProposalRequest) (*model.Proposal, error) {
	var p model.Proposal
	if err := c.doJSON(ctx, http.MethodPost, vaultPath(vaultID)+"/proposals", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	var p model.Proposal
	if err := c.doJSON(ctx, http.MethodGet, proposalPath(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) Approve(ctx context.Context, proposalID, holderID string) (*ApprovalResult, error) {
	body := map[string]string{"holder_id": holderID}
	var res ApprovalResult
	if err := c.doJSON(ctx, http.MethodPost, proposalPath(proposalID)+"/approvals", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) CancelProposal(ctx context.Context, proposalID, actor string) error {
	path := proposalPath(proposalID) + "?actor=" + url.QueryEscape(actor)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// --- Unlock ---

func (c *HTTPClient) ExecuteUnlock(ctx context.Context, vaultID string) (*model.Vault, error) {
	var v model.Vault
	if err := c.doJSON(ctx, http.MethodPost, vaultPath(vaultID)+"/unlock", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *HTTPClient) ResumeUnlock(ctx context.Context, vaultID string) (*model.Vault, error) {
	var v model.Vault
	if err := c.doJSON(ctx, http.MethodPost, vaultPath(vaultID)+"/unlock/resume", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *HTTPClient) GetShift(ctx context.Context, shiftID string) (*swap.Shift, error) {
	var sh swap.Shift
	if err := c.doJSON(ctx, http.MethodGet, "/v1/shifts/"+url.PathEscape(shiftID), nil, &sh); err != nil {
		return nil, err
	}
	return &sh, nil
}

// --- Operations ---

func (c *HTTPClient) Sweep(ctx context.Context) (*sweeper.Report, error) {
	var r sweeper.Report
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sweep", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

func vaultPath(id string) string    { return "/v1/vaults/" + url.PathEscape(id) }
func proposalPath(id string) string { return "/v1/proposals/" + url.PathEscape(id) }

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
