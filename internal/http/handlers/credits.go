package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"mediagen/internal/domain"
)

// CreditBalance returns the caller's billing profile snapshot.
func (a *App) CreditBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	profile, err := a.Profiles.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: profile lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load profile")
		return
	}
	resp := map[string]any{
		"success":                    true,
		"credits":                    profile.Credits,
		"membership_tier":            string(profile.MembershipTier),
		"free_generations_remaining": profile.FreeGenerationsRemaining,
	}
	if profile.SubscriptionEndDate != nil {
		resp["subscription_end_date"] = profile.SubscriptionEndDate.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	a.json(w, http.StatusOK, resp)
}

type creditEntryResponse struct {
	ID           string  `json:"id"`
	Amount       int     `json:"amount"`
	Type         string  `json:"type"`
	BalanceAfter int     `json:"balance_after"`
	TaskID       *string `json:"task_id,omitempty"`
	Description  string  `json:"description,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// CreditHistory lists the caller's most recent ledger entries.
func (a *App) CreditHistory(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	limit := queryInt(r, "limit", defaultListLimit)
	entries, err := a.Credits.History(r.Context(), userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: credit history failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load history")
		return
	}
	out := make([]creditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, creditEntryResponse{
			ID:           e.ID,
			Amount:       e.Amount,
			Type:         string(e.Type),
			BalanceAfter: e.BalanceAfter,
			TaskID:       e.TaskID,
			Description:  e.Description,
			CreatedAt:    e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "entries": out})
}

type purchaseRequest struct {
	Amount      int    `json:"amount"`
	Description string `json:"description"`
}

// PurchaseCredits credits the balance after an out-of-band payment. Payment
// verification lives upstream; this endpoint only records the grant.
func (a *App) PurchaseCredits(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Amount <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "amount must be positive")
		return
	}
	if req.Description == "" {
		req.Description = "credit pack purchase"
	}
	balance, err := a.Credits.Purchase(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: purchase failed")
		a.error(w, http.StatusInternalServerError, "internal", "purchase failed")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "balance": balance})
}
