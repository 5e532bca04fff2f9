package handlers

import (
	"net/http"
)

const ledgerPageSize = 20

// Me returns the caller's profile, balance and recent credit activity.
func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	ctx := r.Context()
	if _, err := a.Store.UpsertUser(ctx, userID, "", a.locale(r), a.Cfg.WelcomeCredits); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to prepare account")
		return
	}
	user, err := a.Store.GetUser(ctx, userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load account")
		return
	}
	entries, err := a.Store.LedgerEntries(ctx, userID, ledgerPageSize)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load credit activity")
		return
	}
	activity := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		activity = append(activity, map[string]any{
			"delta":      e.Delta,
			"reason":     e.Reason,
			"related_id": e.RelatedID,
			"created_at": e.CreatedAt,
		})
	}
	resp := map[string]any{
		"id":                user.ID,
		"locale":            user.Locale,
		"credits_remaining": user.CreditsRemaining,
		"active_plan":       user.ActivePlan,
		"credit_activity":   activity,
	}
	if user.CreditsRenewAt != nil {
		resp["credits_renew_at"] = user.CreditsRenewAt
	}
	a.json(w, http.StatusOK, resp)
}
