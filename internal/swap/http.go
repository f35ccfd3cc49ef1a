package swap

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

	"github.com/shopspring/decimal"
)

// HTTPProvider talks to the swap provider's JSON REST API.
type HTTPProvider struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider client for baseURL. When secret is
// non-empty it is sent as a Bearer token on every request.
func NewHTTPProvider(baseURL, secret string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createShiftBody struct {
	DepositCoin   string          `json:"depositCoin"`
	SettleCoin    string          `json:"settleCoin"`
	DepositAmount decimal.Decimal `json:"depositAmount"`
	SettleAddress string          `json:"settleAddress"`
	ExternalID    string          `json:"externalId"`
}

type shiftBody struct {
	ID             string          `json:"id"`
	DepositAddress string          `json:"depositAddress"`
	Status         string          `json:"status"`
	DepositAmount  decimal.Decimal `json:"depositAmount"`
	SettleAmount   decimal.Decimal `json:"settleAmount"`
	ExternalID     string          `json:"externalId"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (b *shiftBody) toShift() *Shift {
	return &Shift{
		ID:             b.ID,
		DepositAddress: b.DepositAddress,
		Status:         normalizeStatus(b.Status),
		DepositAmount:  b.DepositAmount,
		SettleAmount:   b.SettleAmount,
		Reference:      b.ExternalID,
		CreatedAt:      b.CreatedAt,
	}
}

// normalizeStatus folds provider-specific states onto ShiftStatus.
func normalizeStatus(s string) ShiftStatus {
	switch strings.ToLower(s) {
	case "settled", "complete", "completed":
		return ShiftSettled
	case "processing", "settling", "exchanging", "confirming":
		return ShiftProcessing
	case "failed", "refunded", "refunding", "rejected":
		return ShiftFailed
	case "expired":
		return ShiftExpired
	default:
		return ShiftPending
	}
}

// CreateShift requests a new shift.
func (p *HTTPProvider) CreateShift(ctx context.Context, req ShiftRequest) (*Shift, error) {
	body := createShiftBody{
		DepositCoin:   req.FromAsset,
		SettleCoin:    req.ToAsset,
		DepositAmount: req.Amount,
		SettleAddress: req.DestinationAddress,
		ExternalID:    req.Reference,
	}
	var resp shiftBody
	if err := p.doJSON(ctx, "create shift", http.MethodPost, "/v2/shifts", body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, &ProviderError{Op: "create shift", Reason: "response missing shift id"}
	}
	return resp.toShift(), nil
}

// GetShiftStatus fetches the current state of a shift.
func (p *HTTPProvider) GetShiftStatus(ctx context.Context, shiftID string) (*Shift, error) {
	var resp shiftBody
	err := p.doJSON(ctx, "get shift", http.MethodGet, "/v2/shifts/"+url.PathEscape(shiftID), nil, &resp)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", shiftID, ErrShiftNotFound)
		}
		return nil, err
	}
	return resp.toShift(), nil
}

func (p *HTTPProvider) doJSON(ctx context.Context, op, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.secret != "" {
		req.Header.Set("Authorization", "Bearer "+p.secret)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Op: op, Transient: true, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		pe := &ProviderError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			pe.Reason = errResp.Error.Message
		} else {
			pe.Reason = strings.TrimSpace(string(respBody))
		}
		return pe
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &ProviderError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}
