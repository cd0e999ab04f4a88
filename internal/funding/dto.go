package funding

import "github.com/shopspring/decimal"

// DepositRequest credits a user after an external payment arrives.
type DepositRequest struct {
	OwnerID    string          `json:"owner_id"`
	Currency   string          `json:"currency"`
	Amount     decimal.Decimal `json:"amount"`
	SourceTxID string          `json:"source_tx_id"`
	ClientTxID string          `json:"client_tx_id"`
}

// WithdrawRequest pays a user's funds out to an external destination.
type WithdrawRequest struct {
	OwnerID     string          `json:"owner_id"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
	PIN         string          `json:"pin"`
	ClientTxID  string          `json:"client_tx_id"`
}

// FundingResponse represents the API response for funding actions.
type FundingResponse struct {
	TransactionID     string          `json:"transaction_id"`
	Status            string          `json:"status"`
	Balance           decimal.Decimal `json:"balance"`
	AcquirerReference string          `json:"acquirer_reference,omitempty"`
	Replayed          bool            `json:"replayed"`
}
