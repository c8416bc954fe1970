package httpapi

import (
	"net/http"

	"github.com/volaticloud/agentcore/internal/apperror"
	"github.com/volaticloud/agentcore/internal/enum"
	"github.com/volaticloud/agentcore/internal/money"
	"github.com/volaticloud/agentcore/internal/store"
	"github.com/volaticloud/agentcore/internal/subscription"
)

// trialEligibleTier is the tier a trial checkout session subscribes the
// account to; trial credits themselves come from subscription.TrialCredits
// once the webhook observes the checkout complete, not from this tier's
// own monthly deposit.
const trialEligibleTier = enum.TierStarter

type deductBody struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

// deduct handles POST /billing/deduct: token-usage debiting.
func (h *handlers) deduct(w http.ResponseWriter, r *http.Request) {
	var body deductBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, apperror.New(apperror.KindValidation, "invalid request body"))
		return
	}
	amount, err := money.New(body.Amount)
	if err != nil {
		writeError(w, apperror.New(apperror.KindValidation, "invalid amount"))
		return
	}

	balance, err := h.Credits.Use(r.Context(), accountID(r), amount, body.Description, body.ReferenceID)
	if err != nil {
		if err == store.ErrInsufficientCredits {
			writeError(w, apperror.Wrap(apperror.KindPaymentNeeded, "insufficient credit balance", err))
			return
		}
		writeError(w, apperror.Wrap(apperror.KindInternal, "deduct credits", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

type balanceResponse struct {
	Balance            string `json:"balance"`
	ExpiringCredits    string `json:"expiring_credits"`
	NonExpiringCredits string `json:"non_expiring_credits"`
	Tier               string `json:"tier"`
	Suspended          bool   `json:"suspended"`
}

// balance handles GET /billing/balance.
func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Credits.GetBalance(r.Context(), accountID(r))
	if err != nil {
		writeError(w, apperror.Wrap(apperror.KindInternal, "get balance", err))
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Balance:            acc.Balance.String(),
		ExpiringCredits:    acc.ExpiringCredits.String(),
		NonExpiringCredits: acc.NonExpiringCredits.String(),
		Tier:               string(acc.TierName),
		Suspended:          acc.Suspended,
	})
}

type planResponse struct {
	Name           string   `json:"name"`
	MonthlyDeposit string   `json:"monthly_deposit"`
	DisplayOrder   int      `json:"display_order"`
	AllowedModels  []string `json:"allowed_models,omitempty"`
}

// plans handles GET /billing/plans.
func (h *handlers) plans(w http.ResponseWriter, r *http.Request) {
	out := make([]planResponse, 0, len(subscription.Table))
	for _, t := range subscription.Table {
		out = append(out, planResponse{
			Name: string(t.Name), MonthlyDeposit: t.MonthlyDeposit.String(),
			DisplayOrder: t.DisplayOrder, AllowedModels: t.AllowedModels,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type trialStartBody struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	Email      string `json:"email"`
}

// trialStart handles POST /billing/trial/start: creates a Stripe checkout
// session for the trial-eligible tier. Trial credits are granted by the
// webhook once checkout completes, not here.
func (h *handlers) trialStart(w http.ResponseWriter, r *http.Request) {
	var body trialStartBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, apperror.New(apperror.KindValidation, "invalid request body"))
		return
	}
	acctID := accountID(r)

	report, err := subscription.TrialStatus(r.Context(), h.Store, acctID)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.KindInternal, "check trial eligibility", err))
		return
	}
	if !report.CanStartTrial {
		writeError(w, apperror.New(apperror.KindForbidden, report.Message))
		return
	}

	acc, err := h.Credits.GetBalance(r.Context(), acctID)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.KindInternal, "load account", err))
		return
	}

	customerID := ""
	if acc.StripeCustomerID != nil {
		customerID = *acc.StripeCustomerID
	} else {
		customer, err := h.Stripe.CreateCustomer(r.Context(), acctID, body.Email)
		if err != nil {
			writeError(w, apperror.Wrap(apperror.KindInternal, "create stripe customer", err))
			return
		}
		customerID = customer.ID
	}

	trialTier, _ := subscription.ByName(trialEligibleTier)
	session, err := h.Stripe.CreateTrialCheckoutSession(r.Context(), customerID, trialTier.StripePriceID, acctID, body.SuccessURL, body.CancelURL)
	if err != nil {
		writeError(w, apperror.Wrap(apperror.KindInternal, "create checkout session", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": session.URL})
}

// trialCancel handles POST /billing/trial/cancel.
func (h *handlers) trialCancel(w http.ResponseWriter, r *http.Request) {
	if err := subscription.CancelTrial(r.Context(), h.Store, h.Credits, h.Stripe, accountID(r)); err != nil {
		writeError(w, apperror.Wrap(apperror.KindValidation, "cancel trial", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
