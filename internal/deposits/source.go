// Package deposits feeds chain-observed deposit totals into the lifecycle
// service, either by polling a deposit source or by listening for pushed
// reports on the event bus.
package deposits

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alfredjeanlab/splitvault/internal/lifecycle"
)

// Source reports the running deposit total of a vault.
type Source interface {
	TotalDeposits(ctx context.Context, vaultID string) (lifecycle.DepositReport, error)
}

// HTTPSource queries a deposit watcher over HTTP:
// GET {base}/v1/vaults/{id}/deposits -> {"total":"1.5","depositor":"...","refund_address":"..."}.
type HTTPSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPSource creates a source for the watcher at baseURL. When token is
// non-empty it is sent as a bearer token.
func NewHTTPSource(baseURL, token string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type totalBody struct {
	Total         decimal.Decimal `json:"total"`
	Depositor     string          `json:"depositor"`
	RefundAddress string          `json:"refund_address"`
}

func (s *HTTPSource) TotalDeposits(ctx context.Context, vaultID string) (lifecycle.DepositReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/v1/vaults/"+url.PathEscape(vaultID)+"/deposits", nil)
	if err != nil {
		return lifecycle.DepositReport{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return lifecycle.DepositReport{}, fmt.Errorf("querying deposits of %s: %w", vaultID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return lifecycle.DepositReport{}, fmt.Errorf("deposit source: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var body totalBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return lifecycle.DepositReport{}, fmt.Errorf("decoding deposit total: %w", err)
	}
	return lifecycle.DepositReport{
		Total:         body.Total,
		Depositor:     body.Depositor,
		RefundAddress: body.RefundAddress,
	}, nil
}
