package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Deposit attributes a credited delta to the depositor that reported it.
// Refund routing on expiry relies on these records.
type Deposit struct {
	ID            int64           `json:"id"`
	VaultID       string          `json:"vault_id"`
	Amount        decimal.Decimal `json:"amount"`
	Total         decimal.Decimal `json:"total"`
	Depositor     string          `json:"depositor,omitempty"`
	RefundAddress string          `json:"refund_address,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
