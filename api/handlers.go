/*
handlers.go - HTTP API handlers for the coin ledger

PURPOSE:
  Exposes the ledger via the REST API the game clients and the payout
  dashboard call. Handles HTTP request/response, JSON serialization, and
  delegates to the coin package.

ENDPOINTS:
  Coins:
    POST   /api/coin/earn            Credit earned coins
    POST   /api/coin/redeem          Redeem coins (cap check only)
    POST   /api/coin/exchange        Create a pending cash-out request
    GET    /api/coin/status          Counters for one user
    POST   /api/coin/reset_monthly   Zero every user's counters

  Redemptions:
    GET    /api/redeem/pending       Pending requests
    POST   /api/redeem/mark_paid     pending -> paid
    POST   /api/redeem/expire_old    pending older than the window -> expired
    GET    /api/redeem/export_csv    All requests as CSV
    GET    /api/export/redemptions   Same export, different file name

REQUEST FLOW:
  1. Decode the body (1 MiB limit)
  2. Call the ledger, which validates before touching storage
  3. Map domain errors to status codes (see writeLedgerError)
  4. Serialize response

ERROR HANDLING:
  Errors are returned as JSON {"error": ..., "details": ...}:
  - 400: Invalid input
  - 403: Monthly cap exceeded, insufficient coins
  - 404: Redemption not found
  - 409: Redemption already expired
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup, API key middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flipfactory/coin-ledger/coin"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *coin.Ledger
	Log    logrus.FieldLogger

	// Pinger is optional; /healthz reports ok without it.
	Pinger Pinger

	now func() time.Time
}

// NewHandler creates a new handler over the given ledger.
func NewHandler(ledger *coin.Ledger, log logrus.FieldLogger) *Handler {
	return &Handler{
		Ledger: ledger,
		Log:    log,
		now:    time.Now,
	}
}

// =============================================================================
// SERVICE ENDPOINTS
// =============================================================================

// Home reports that the process is up.
// GET /
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Coin ledger backend is running!"))
}

// Health checks the store.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Pinger.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// COIN ENDPOINTS
// =============================================================================

// Earn credits coins to a user.
// POST /api/coin/earn
func (h *Handler) Earn(w http.ResponseWriter, r *http.Request) {
	var req EarnRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	res, err := h.Ledger.Engine.Earn(r.Context(), req.UserID, req.Coins)
	if err != nil {
		h.writeLedgerError(w, r, "Invalid request", err)
		return
	}
	writeJSON(w, http.StatusOK, EarnResponse{Success: true, Earned: res.Earned})
}

// Redeem moves coins to the redeemed counter and reports their dollar value.
// POST /api/coin/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	res, err := h.Ledger.Engine.Redeem(r.Context(), req.UserID, req.RequestedCoins)
	if err != nil {
		h.writeLedgerError(w, r, "Invalid request", err)
		return
	}
	writeJSON(w, http.StatusOK, RedeemResponse{
		Success:  true,
		Credited: coin.FormatUSD(res.CreditedUSD),
	})
}

// Exchange reserves coins for a cash-out and creates a pending request.
// POST /api/coin/exchange
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	res, err := h.Ledger.Engine.Exchange(r.Context(), req.UserID, req.USD)
	if err != nil {
		h.writeLedgerError(w, r, "Invalid amount", err)
		return
	}
	writeJSON(w, http.StatusOK, ExchangeResponse{
		Success:      true,
		USDRequested: coin.FormatUSD(res.USDRequested),
		ExpiresIn:    coin.HumanizeWindow(res.ExpiresIn),
		ID:           int64(res.Redemption.ID),
	})
}

// Status returns a user's counters, creating the user if needed.
// GET /api/coin/status?user_id=
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if strings.TrimSpace(userID) == "" {
		writeError(w, http.StatusBadRequest, "Missing user_id", nil)
		return
	}

	status, err := h.Ledger.Accounts.Status(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, r, "Missing user_id", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

// ResetMonthly zeroes every user's counters.
// POST /api/coin/reset_monthly
func (h *Handler) ResetMonthly(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Ledger.Accounts.ResetAll(r.Context(), h.now()); err != nil {
		h.writeLedgerError(w, r, "Reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Monthly stats reset"})
}

// =============================================================================
// REDEMPTION ENDPOINTS
// =============================================================================

// ListPending returns pending requests in creation order.
// GET /api/redeem/pending
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Ledger.Lifecycle.ListPending(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list redemptions", err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(rs))
}

// MarkPaid moves a pending request to paid.
// POST /api/redeem/mark_paid
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	var req MarkPaidRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing redemption ID", err)
		return
	}
	if req.ID <= 0 {
		writeError(w, http.StatusBadRequest, "Missing redemption ID", nil)
		return
	}

	paid, err := h.Ledger.Lifecycle.MarkPaid(r.Context(), coin.RedemptionID(req.ID))
	if err != nil {
		h.writeLedgerError(w, r, "Missing redemption ID", err)
		return
	}
	writeJSON(w, http.StatusOK, MarkPaidResponse{Success: true, ID: int64(paid.ID)})
}

// ExpireOld expires pending requests older than the configured window.
// POST /api/redeem/expire_old
func (h *Handler) ExpireOld(w http.ResponseWriter, r *http.Request) {
	cutoff, n, err := h.Ledger.Lifecycle.ExpireStale(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "Expiry failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ExpireResponse{
		Success:       true,
		ExpiredBefore: cutoff.Format(coin.TimestampLayout),
		Expired:       n,
	})
}

// ExportCSV returns a handler that streams every request as a CSV
// attachment with the given file name.
// GET /api/redeem/export_csv, GET /api/export/redemptions
func (h *Handler) ExportCSV(filename string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs, err := h.Ledger.Lifecycle.ExportAll(r.Context())
		if err != nil {
			h.writeLedgerError(w, r, "Export failed", err)
			return
		}

		var buf bytes.Buffer
		if err := coin.WriteCSV(&buf, rs); err != nil {
			writeError(w, http.StatusInternalServerError, "Export failed", err)
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment;filename="+filename)
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeLedgerError maps ledger errors to status codes. invalidMsg is the
// message used for 400s, matching what each endpoint historically returned.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, invalidMsg string, err error) {
	switch {
	case errors.Is(err, coin.ErrCapExceeded):
		writeError(w, http.StatusForbidden, "Monthly redeem cap exceeded", err)
	case errors.Is(err, coin.ErrInsufficientBalance):
		writeError(w, http.StatusForbidden, "Insufficient coins", err)
	case errors.Is(err, coin.ErrRedemptionNotFound):
		writeError(w, http.StatusNotFound, "Redemption not found", err)
	case errors.Is(err, coin.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "Redemption is not pending", err)
	case errors.Is(err, coin.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, invalidMsg, err)
	default:
		h.Log.WithError(err).
			WithField("path", r.URL.Path).
			WithField("retryable", coin.IsRetryable(err)).
			Error("ledger operation failed")
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
