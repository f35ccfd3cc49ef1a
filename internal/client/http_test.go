package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/splitvault/internal/model"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	rawPath     string // URL-encoded path (for testing PathEscape)
	query       string
	body        string
	contentType string
	auth        string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(h http.Handler) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(h)
	c := NewHTTPClient(srv.URL, "")
	return c, srv
}

func expectRequest(t *testing.T, h *testHandler, method, path string) {
	t.Helper()
	if h.method != method {
		t.Errorf("method = %q, want %s", h.method, method)
	}
	if h.path != path {
		t.Errorf("path = %q, want %s", h.path, path)
	}
}

// decodeSent unmarshals the request body the handler captured.
func decodeSent(t *testing.T, h *testHandler) map[string]any {
	t.Helper()
	var sent map[string]any
	if err := json.Unmarshal([]byte(h.body), &sent); err != nil {
		t.Fatalf("unmarshal request body: %v (body=%q)", err, h.body)
	}
	return sent
}

const vaultJSON = `{
	"id": "vlt-abc",
	"status": "funding",
	"source_asset": "btc",
	"total_deposits": "1.5",
	"deposit_address": "bc1qdeposit",
	"threshold": 2,
	"key_holders": ["alice", "bob", "carol"],
	"created_at": "2026-01-15T10:00:00Z",
	"updated_at": "2026-01-15T10:00:00Z",
	"expires_at": "2026-01-22T10:00:00Z",
	"version": 3
}`

// --- Vaults ---

func TestHTTPClient_CreateVault(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: vaultJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	v, err := c.CreateVault(context.Background(), &CreateVaultRequest{
		SourceAsset:   "btc",
		KeyHolders:    []string{"alice", "bob", "carol"},
		Threshold:     2,
		RefundAddress: "bc1qrefund",
		TTL:           "168h",
		CreatedBy:     "alice",
	})
	if err != nil {
		t.Fatalf("CreateVault() error = %v", err)
	}

	expectRequest(t, h, http.MethodPost, "/v1/vaults")
	if h.contentType != "application/json" {
		t.Errorf("content-type = %q, want application/json", h.contentType)
	}
	sent := decodeSent(t, h)
	if sent["source_asset"] != "btc" {
		t.Errorf("sent source_asset = %v, want btc", sent["source_asset"])
	}
	if sent["threshold"] != float64(2) {
		t.Errorf("sent threshold = %v, want 2", sent["threshold"])
	}
	if sent["ttl"] != "168h" {
		t.Errorf("sent ttl = %v, want 168h", sent["ttl"])
	}

	if v.ID != "vlt-abc" {
		t.Errorf("ID = %q, want vlt-abc", v.ID)
	}
	if v.Status != model.StatusFunding {
		t.Errorf("Status = %q, want funding", v.Status)
	}
	if !v.TotalDeposits.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("TotalDeposits = %s, want 1.5", v.TotalDeposits)
	}
	if len(v.KeyHolders) != 3 || v.Version != 3 {
		t.Errorf("unexpected vault %+v", v)
	}
}

func TestHTTPClient_CreateVault_OmitsEmptyOptionals(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: vaultJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.CreateVault(context.Background(), &CreateVaultRequest{
		SourceAsset: "btc",
		KeyHolders:  []string{"alice"},
		Threshold:   1,
	})
	if err != nil {
		t.Fatalf("CreateVault() error = %v", err)
	}
	sent := decodeSent(t, h)
	for _, key := range []string{"refund_address", "ttl", "created_by"} {
		if _, ok := sent[key]; ok {
			t.Errorf("%s should be omitted when empty", key)
		}
	}
}

func TestHTTPClient_GetVault(t *testing.T) {
	h := &testHandler{responseBody: vaultJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	v, err := c.GetVault(context.Background(), "vlt-abc")
	if err != nil {
		t.Fatalf("GetVault() error = %v", err)
	}
	expectRequest(t, h, http.MethodGet, "/v1/vaults/vlt-abc")
	if v.DepositAddress != "bc1qdeposit" {
		t.Errorf("DepositAddress = %q", v.DepositAddress)
	}
}

func TestHTTPClient_GetVault_URLEscaping(t *testing.T) {
	h := &testHandler{responseBody: vaultJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.GetVault(context.Background(), "vlt/with spaces")
	if err != nil {
		t.Fatalf("GetVault() error = %v", err)
	}
	if h.path != "/v1/vaults/vlt/with spaces" {
		t.Errorf("decoded path = %q", h.path)
	}
	if h.rawPath != "/v1/vaults/vlt%2Fwith%20spaces" {
		t.Errorf("raw path = %q, want escaped id", h.rawPath)
	}
}

func TestHTTPClient_ListVaults(t *testing.T) {
	h := &testHandler{responseBody: `{"vaults": [` + vaultJSON + `]}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	vaults, err := c.ListVaults(context.Background(), &ListVaultsRequest{
		Status: []string{"funding", "ready"},
		Limit:  10,
		Offset: 20,
	})
	if err != nil {
		t.Fatalf("ListVaults() error = %v", err)
	}
	expectRequest(t, h, http.MethodGet, "/v1/vaults")
	for _, want := range []string{"status=funding%2Cready", "limit=10", "offset=20"} {
		if !strings.Contains(h.query, want) {
			t.Errorf("query %q missing %q", h.query, want)
		}
	}
	if len(vaults) != 1 || vaults[0].ID != "vlt-abc" {
		t.Errorf("vaults = %+v", vaults)
	}
}

func TestHTTPClient_ListVaults_NoFilters(t *testing.T) {
	h := &testHandler{responseBody: `{"vaults": []}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	vaults, err := c.ListVaults(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListVaults() error = %v", err)
	}
	if h.query != "" {
		t.Errorf("query = %q, want empty", h.query)
	}
	if len(vaults) != 0 {
		t.Errorf("len(vaults) = %d, want 0", len(vaults))
	}
}

func TestHTTPClient_ActivateVault(t *testing.T) {
	h := &testHandler{responseBody: vaultJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	if _, err := c.ActivateVault(context.Background(), "vlt-abc", "bc1qdeposit"); err != nil {
		t.Fatalf("ActivateVault() error = %v", err)
	}
	expectRequest(t, h, http.MethodPost, "/v1/vaults/vlt-abc/activate")
	if sent := decodeSent(t, h); sent["deposit_address"] != "bc1qdeposit" {
		t.Errorf("sent deposit_address = %v", sent["deposit_address"])
	}
}

func TestHTTPClient_ReportDeposit(t *testing.T) {
	h := &testHandler{responseBody: vaultJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.ReportDeposit(context.Background(), "vlt-abc", &DepositReport{
		Total:     decimal.RequireFromString("1.5"),
		Depositor: "dave",
	})
	if err != nil {
		t.Fatalf("ReportDeposit() error = %v", err)
	}
	expectRequest(t, h, http.MethodPost, "/v1/vaults/vlt-abc/deposits")
	sent := decodeSent(t, h)
	if sent["total"] != "1.5" {
		t.Errorf("sent total = %v, want \"1.5\"", sent["total"])
	}
	if sent["depositor"] != "dave" {
		t.Errorf("sent depositor = %v", sent["depositor"])
	}
}

func TestHTTPClient_GetDeposits(t *testing.T) {
	h := &testHandler{responseBody: `{"deposits": [
		{"id": 1, "vault_id": "vlt-abc", "amount": "1", "total": "1", "created_at": "2026-01-15T10:00:00Z"},
		{"id": 2, "vault_id": "vlt-abc", "amount": "0.5", "total": "1.5", "created_at": "2026-01-15T11:00:00Z"}
	]}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	deposits, err := c.GetDeposits(context.Background(), "vlt-abc")
	if err != nil {
		t.Fatalf("GetDeposits() error = %v", err)
	}
	expectRequest(t, h, http.MethodGet, "/v1/vaults/vlt-abc/deposits")
	if len(deposits) != 2 {
		t.Fatalf("len(deposits) = %d, want 2", len(deposits))
	}
	if !deposits[1].Amount.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("deposits[1].Amount = %s", deposits[1].Amount)
	}
}

func TestHTTPClient_GetEvents(t *testing.T) {
	h := &testHandler{responseBody: `{"events": [
		{"id": 7, "topic": "splitvault.vault.created", "vault_id": "vlt-abc", "actor": "alice", "payload": {"threshold": 2}, "created_at": "2026-01-15T10:00:00Z"}
	]}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	evts, err := c.GetEvents(context.Background(), "vlt-abc")
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	expectRequest(t, h, http.MethodGet, "/v1/vaults/vlt-abc/events")
	if len(evts) != 1 || evts[0].Topic != "splitvault.vault.created" {
		t.Fatalf("events = %+v", evts)
	}
	if string(evts[0].Payload) != `{"threshold": 2}` {
		t.Errorf("payload = %s", evts[0].Payload)
	}
}

// --- Proposals ---

const proposalJSON = `{
	"id": "prp-1",
	"vault_id": "vlt-abc",
	"recipients": [
		{"id": "r1", "address": "bc1qr1", "percentage": "60", "target_asset": "btc"},
		{"id": "r2", "address": "0xr2", "percentage": "40", "target_asset": "eth"}
	],
	"approvals": ["alice"],
	"threshold": 2,
	"created_at": "2026-01-15T10:00:00Z",
	"expires_at": "2026-01-16T10:00:00Z",
	"version": 1
}`

func TestHTTPClient_CreateProposal(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: proposalJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	p, err := c.CreateProposal(context.Background(), "vlt-abc", &CreateProposalRequest{
		Recipients: []model.Recipient{
			{ID: "r1", Address: "bc1qr1", Percentage: decimal.NewFromInt(60), TargetAsset: "btc"},
			{ID: "r2", Address: "0xr2", Percentage: decimal.NewFromInt(40), TargetAsset: "eth"},
		},
		TTL:       "24h",
		CreatedBy: "alice",
	})
	if err != nil {
		t.Fatalf("CreateProposal() error = %v", err)
	}
	expectRequest(t, h, http.MethodPost, "/v1/vaults/vlt-abc/proposals")
	sent := decodeSent(t, h)
	recips, ok := sent["recipients"].([]any)
	if !ok || len(recips) != 2 {
		t.Fatalf("sent recipients = %v", sent["recipients"])
	}
	if p.ID != "prp-1" || len(p.Recipients) != 2 {
		t.Errorf("unexpected proposal %+v", p)
	}
	if !p.Recipients[0].Percentage.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Recipients[0].Percentage = %s", p.Recipients[0].Percentage)
	}
}

func TestHTTPClient_GetProposal(t *testing.T) {
	h := &testHandler{responseBody: proposalJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	p, err := c.GetProposal(context.Background(), "prp-1")
	if err != nil {
		t.Fatalf("GetProposal() error = %v", err)
	}
	expectRequest(t, h, http.MethodGet, "/v1/proposals/prp-1")
	if p.HasQuorum() {
		t.Error("proposal without quorum_reached_at should not have quorum")
	}
}

func TestHTTPClient_Approve(t *testing.T) {
	h := &testHandler{responseBody: `{
		"proposal": ` + proposalJSON + `,
		"count": 2,
		"threshold": 2,
		"quorum_reached": true,
		"quorum_just_met": true
	}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	res, err := c.Approve(context.Background(), "prp-1", "bob")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	expectRequest(t, h, http.MethodPost, "/v1/proposals/prp-1/approvals")
	if sent := decodeSent(t, h); sent["holder_id"] != "bob" {
		t.Errorf("sent holder_id = %v", sent["holder_id"])
	}
	if res.Count != 2 || !res.QuorumReached || !res.QuorumJustMet {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Proposal == nil || res.Proposal.ID != "prp-1" {
		t.Errorf("Proposal = %+v", res.Proposal)
	}
}

func TestHTTPClient_CancelProposal(t *testing.T) {
	h := &testHandler{statusCode: http.StatusNoContent}
	c, srv := newTestClient(h)
	defer srv.Close()

	if err := c.CancelProposal(context.Background(), "prp-1", "carol smith"); err != nil {
		t.Fatalf("CancelProposal() error = %v", err)
	}
	expectRequest(t, h, http.MethodDelete, "/v1/proposals/prp-1")
	if h.query != "actor=carol+smith" {
		t.Errorf("query = %q, want actor=carol+smith", h.query)
	}
	if h.body != "" {
		t.Errorf("body = %q, want empty", h.body)
	}
}

// --- Unlock ---

func TestHTTPClient_ExecuteUnlock(t *testing.T) {
	h := &testHandler{responseBody: `{"id": "vlt-abc", "status": "destroyed", "total_deposits": "0", "threshold": 2,
		"created_at": "2026-01-15T10:00:00Z", "updated_at": "2026-01-15T10:00:00Z", "expires_at": "2026-01-22T10:00:00Z",
		"summary": {"reason": "unlock", "total_routed": "1.5"}}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	v, err := c.ExecuteUnlock(context.Background(), "vlt-abc")
	if err != nil {
		t.Fatalf("ExecuteUnlock() error = %v", err)
	}
	expectRequest(t, h, http.MethodPost, "/v1/vaults/vlt-abc/unlock")
	if v.Status != model.StatusDestroyed {
		t.Errorf("Status = %q, want destroyed", v.Status)
	}
	if v.Summary == nil || !v.Summary.TotalRouted.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("Summary = %+v", v.Summary)
	}
}

func TestHTTPClient_ResumeUnlock(t *testing.T) {
	h := &testHandler{responseBody: vaultJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	if _, err := c.ResumeUnlock(context.Background(), "vlt-abc"); err != nil {
		t.Fatalf("ResumeUnlock() error = %v", err)
	}
	expectRequest(t, h, http.MethodPost, "/v1/vaults/vlt-abc/unlock/resume")
}

func TestHTTPClient_GetShift(t *testing.T) {
	h := &testHandler{responseBody: `{
		"id": "shf-9",
		"deposit_address": "bc1qshift",
		"status": "settled",
		"deposit_amount": "0.6",
		"settle_amount": "9.1",
		"created_at": "2026-01-15T10:00:00Z"
	}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	sh, err := c.GetShift(context.Background(), "shf-9")
	if err != nil {
		t.Fatalf("GetShift() error = %v", err)
	}
	expectRequest(t, h, http.MethodGet, "/v1/shifts/shf-9")
	if sh.ID != "shf-9" || string(sh.Status) != "settled" {
		t.Errorf("unexpected shift %+v", sh)
	}
	if !sh.SettleAmount.Equal(decimal.RequireFromString("9.1")) {
		t.Errorf("SettleAmount = %s", sh.SettleAmount)
	}
}

// --- Operations ---

func TestHTTPClient_Sweep(t *testing.T) {
	h := &testHandler{responseBody: `{"proposals_expired": 2, "vaults_destroyed": 1, "vaults_unlocking": 1, "errors": 0}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	r, err := c.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	expectRequest(t, h, http.MethodPost, "/v1/sweep")
	if r.ProposalsExpired != 2 || r.VaultsDestroyed != 1 || r.VaultsUnlocking != 1 {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{responseBody: `{"status": "ok"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	expectRequest(t, h, http.MethodGet, "/v1/health")
	if status != "ok" {
		t.Errorf("status = %q, want 'ok'", status)
	}
}

func TestHTTPClient_SendsBearerToken(t *testing.T) {
	h := &testHandler{responseBody: `{"status": "ok"}`}
	srv := httptest.NewServer(h)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "s3cret")
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.auth != "Bearer s3cret" {
		t.Errorf("Authorization = %q, want 'Bearer s3cret'", h.auth)
	}

	anon, srv2 := newTestClient(h)
	defer srv2.Close()
	if _, err := anon.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if h.auth != "" {
		t.Errorf("Authorization = %q, want empty without a token", h.auth)
	}
}

// --- Error handling ---

func TestHTTPClient_Error_JSONBody(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusConflict,
		responseBody: `{"error": "vault vlt-abc is funding, not ready"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.ExecuteUnlock(context.Background(), "vlt-abc")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", apiErr.StatusCode)
	}
	if apiErr.Message != "vault vlt-abc is funding, not ready" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestHTTPClient_Error_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.GetVault(context.Background(), "vlt-abc")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Message != "upstream unavailable" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestHTTPClient_Error_EmptyJSONError(t *testing.T) {
	// JSON body with empty error field should use the raw body
	h := &testHandler{
		statusCode:   http.StatusUnprocessableEntity,
		responseBody: `{"error": ""}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.GetProposal(context.Background(), "prp-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Message != `{"error": ""}` {
		t.Errorf("message = %q, want raw body", apiErr.Message)
	}
}

func TestHTTPClient_Error_FormatString(t *testing.T) {
	apiErr := &APIError{StatusCode: 403, Message: "forbidden"}
	want := "HTTP 403: forbidden"
	if apiErr.Error() != want {
		t.Errorf("Error() = %q, want %q", apiErr.Error(), want)
	}
}

func TestHTTPClient_Error_CanceledContext(t *testing.T) {
	h := &testHandler{responseBody: `{"status": "ok"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Health(ctx)
	if err == nil {
		t.Fatal("expected error for canceled context, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want to wrap context.Canceled", err)
	}
}

func TestHTTPClient_Error_BadResponseJSON(t *testing.T) {
	h := &testHandler{responseBody: `{"id": `}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.GetVault(context.Background(), "vlt-abc")
	if err == nil || !strings.Contains(err.Error(), "decoding response") {
		t.Errorf("error = %v, want decoding failure", err)
	}
}

// --- Close / construction ---

func TestHTTPClient_Close(t *testing.T) {
	c := NewHTTPClient("http://localhost:9999", "")
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestNewHTTPClient_TrimsTrailingSlash(t *testing.T) {
	c := NewHTTPClient("http://localhost:8080/", "")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want 'http://localhost:8080'", c.baseURL)
	}
}

func TestHTTPClient_ConcurrentRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := c.Health(context.Background())
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent Health() error = %v", err)
		}
	}
}
