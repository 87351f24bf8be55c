/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Field names follow
  the contract existing game clients and the payout dashboard already use,
  so they are snake_case and some amounts are preformatted strings.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response bodies
  - *DTO: Items inside list responses

AMOUNTS:
  Coin counts are integers. Dollar amounts in operation responses are
  "$X.XX" strings; RedemptionDTO.USD is a bare JSON number.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/flipfactory/coin-ledger/coin"
)

// =============================================================================
// REQUESTS
// =============================================================================

// EarnRequest is the body of POST /api/coin/earn.
type EarnRequest struct {
	UserID string `json:"user_id"`
	Coins  int64  `json:"coins"`
}

// RedeemRequest is the body of POST /api/coin/redeem.
type RedeemRequest struct {
	UserID         string `json:"user_id"`
	RequestedCoins int64  `json:"requested_coins"`
}

// ExchangeRequest is the body of POST /api/coin/exchange. usd accepts a
// JSON number or a numeric string.
type ExchangeRequest struct {
	UserID string          `json:"user_id"`
	USD    decimal.Decimal `json:"usd"`
}

// MarkPaidRequest is the body of POST /api/redeem/mark_paid.
type MarkPaidRequest struct {
	ID int64 `json:"id"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type EarnResponse struct {
	Success bool  `json:"success"`
	Earned  int64 `json:"earned"`
}

type RedeemResponse struct {
	Success  bool   `json:"success"`
	Credited string `json:"credited"`
}

type ExchangeResponse struct {
	Success      bool   `json:"success"`
	USDRequested string `json:"usd_requested"`
	ExpiresIn    string `json:"expires_in"`
	ID           int64  `json:"id"`
}

// StatusResponse is the body of GET /api/coin/status.
type StatusResponse struct {
	UserID                   string `json:"user_id"`
	Earned                   int64  `json:"earned"`
	Redeemed                 int64  `json:"redeemed"`
	RemainingRedeemableCoins int64  `json:"remaining_redeemable_coins"`
	DollarValueRedeemed      string `json:"dollar_value_redeemed"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type MarkPaidResponse struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id"`
}

type ExpireResponse struct {
	Success       bool   `json:"success"`
	ExpiredBefore string `json:"expired_before"`
	Expired       int    `json:"expired"`
}

// RedemptionDTO is one item of GET /api/redeem/pending.
type RedemptionDTO struct {
	ID          int64       `json:"id"`
	UserID      string      `json:"user_id"`
	Coins       int64       `json:"coins"`
	USD         json.Number `json:"usd"`
	RequestedAt string      `json:"requested_at"`
	Status      string      `json:"status"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toStatusResponse(s coin.AccountStatus) StatusResponse {
	return StatusResponse{
		UserID:                   s.UserID,
		Earned:                   s.Earned,
		Redeemed:                 s.Redeemed,
		RemainingRedeemableCoins: s.RemainingRedeemableCoins,
		DollarValueRedeemed:      coin.FormatUSD(s.DollarValueRedeemed),
	}
}

func toRedemptionDTOs(rs []coin.RedemptionRequest) []RedemptionDTO {
	dtos := make([]RedemptionDTO, len(rs))
	for i, r := range rs {
		dtos[i] = RedemptionDTO{
			ID:          int64(r.ID),
			UserID:      r.UserID,
			Coins:       r.CoinsRedeemed,
			USD:         json.Number(r.USDValue.String()),
			RequestedAt: r.RequestedAt.UTC().Format(coin.TimestampLayout),
			Status:      string(r.Status),
		}
	}
	return dtos
}
